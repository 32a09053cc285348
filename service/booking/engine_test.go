package booking

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/basisdesk/BasisDesk-server/cmd/models"
	"github.com/basisdesk/BasisDesk-server/service/slot"
	"github.com/lib/pq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeGateway struct {
	orders  int
	payouts int
	fail    bool
}

func (g *fakeGateway) CreateOrder(amount int64, currency string, receipt string) (string, error) {
	if g.fail {
		return "", errors.New("gateway unavailable")
	}
	g.orders++
	return fmt.Sprintf("order_fake_%d", g.orders), nil
}

func (g *fakeGateway) VerifyPayment(gatewayOrderID, gatewayPaymentID, signature string) bool {
	return true
}

func (g *fakeGateway) ProcessPayout(orderID uint, amount int64) (string, error) {
	if g.fail {
		return "", errors.New("gateway unavailable")
	}
	g.payouts++
	return fmt.Sprintf("pout_fake_%d", g.payouts), nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.User{}, &models.Consultant{}, &models.AvailabilitySlot{},
		&models.Order{}, &models.OrderSlot{}, &models.StatusMaster{},
		&models.StatusChangeLog{}, &models.Payment{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Status codes the engine resolves against.
	seed := []models.StatusMaster{
		{Code: models.StatusNew, Name: "New", SortOrder: 1, Active: true},
		{Code: models.StatusInProgress, Name: "In Progress", SortOrder: 2, Active: true},
		{Code: models.StatusClosed, Name: "Closed", SortOrder: 5, Active: true},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed statuses: %v", err)
		}
	}
	return db
}

func seedConsultantWithSlots(t *testing.T, db *gorm.DB, slotCount int) (uint, []uint) {
	t.Helper()
	user := models.User{FullName: "Bharat Rao", Email: "bharat@example.com", Role: models.RoleConsultant}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	consultant := models.Consultant{
		UserID:     user.ID,
		HourlyRate: 120000,
		Skills:     pq.StringArray{"sap-basis", "hana"},
	}
	if err := db.Create(&consultant).Error; err != nil {
		t.Fatalf("create consultant: %v", err)
	}

	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour)
	var ids []uint
	for i := 0; i < slotCount; i++ {
		sl := models.AvailabilitySlot{
			ConsultantID: consultant.ID,
			StartTime:    start.Add(time.Duration(i) * time.Hour),
			EndTime:      start.Add(time.Duration(i+1) * time.Hour),
		}
		if err := db.Create(&sl).Error; err != nil {
			t.Fatalf("create slot: %v", err)
		}
		ids = append(ids, sl.ID)
	}
	return consultant.ID, ids
}

func TestCreateOrder(t *testing.T) {
	db := openTestDB(t)
	gw := &fakeGateway{}
	engine := NewEngine(db, slot.NewStore(db), gw)
	consultantID, slotIDs := seedConsultantWithSlots(t, db, 2)

	ord, err := engine.CreateOrder(501, consultantID, slotIDs, "HANA migration support")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if ord.Status != models.StatusNew {
		t.Fatalf("status = %s, want %s", ord.Status, models.StatusNew)
	}
	// 2 hours at 120000/hour.
	if ord.TotalAmount != 240000 {
		t.Fatalf("total = %d, want 240000", ord.TotalAmount)
	}

	var joins []models.OrderSlot
	if err := db.Where("order_id = ?", ord.ID).Find(&joins).Error; err != nil {
		t.Fatalf("load order slots: %v", err)
	}
	if len(joins) != 2 {
		t.Fatalf("order_slots rows = %d, want 2", len(joins))
	}

	var pay models.Payment
	if err := db.Where("order_id = ?", ord.ID).First(&pay).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if pay.Status != models.PaymentStatusCreated {
		t.Fatalf("payment status = %s", pay.Status)
	}
	if pay.Amount != 240000 {
		t.Fatalf("payment amount = %d", pay.Amount)
	}
	if pay.GatewayOrderID == "" {
		t.Fatal("gateway order id not stored")
	}

	for _, id := range slotIDs {
		var sl models.AvailabilitySlot
		if err := db.First(&sl, id).Error; err != nil {
			t.Fatalf("load slot: %v", err)
		}
		if !sl.Booked() {
			t.Fatalf("slot %d not marked booked", id)
		}
	}
}

func TestCreateOrder_ConflictLeavesNothingBehind(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db, slot.NewStore(db), &fakeGateway{})
	consultantID, slotIDs := seedConsultantWithSlots(t, db, 2)

	if _, err := engine.CreateOrder(501, consultantID, slotIDs, "first"); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if _, err := engine.CreateOrder(502, consultantID, slotIDs, "second"); !errors.Is(err, slot.ErrSlotBooked) {
		t.Fatalf("expected ErrSlotBooked, got %v", err)
	}

	var orders int64
	if err := db.Model(&models.Order{}).Count(&orders).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orders != 1 {
		t.Fatalf("orders = %d, want 1", orders)
	}
}

func TestCreateOrder_GatewayFailureRollsBackReservation(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db, slot.NewStore(db), &fakeGateway{fail: true})
	consultantID, slotIDs := seedConsultantWithSlots(t, db, 1)

	if _, err := engine.CreateOrder(501, consultantID, slotIDs, "doomed"); err == nil {
		t.Fatal("expected gateway failure")
	}

	var sl models.AvailabilitySlot
	if err := db.First(&sl, slotIDs[0]).Error; err != nil {
		t.Fatalf("load slot: %v", err)
	}
	if sl.Booked() {
		t.Fatal("slot stayed reserved after failed booking")
	}
	var orders int64
	if err := db.Model(&models.Order{}).Count(&orders).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orders != 0 {
		t.Fatalf("orphaned orders = %d", orders)
	}
}

func TestAddSlots(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db, slot.NewStore(db), &fakeGateway{})
	consultantID, slotIDs := seedConsultantWithSlots(t, db, 3)

	ord, err := engine.CreateOrder(501, consultantID, slotIDs[:1], "initial hour")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if err := engine.AddSlots(ord.ID, slotIDs[1:]); err != nil {
		t.Fatalf("AddSlots: %v", err)
	}

	var got models.Order
	if err := db.First(&got, ord.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if got.TotalAmount != 360000 {
		t.Fatalf("total = %d, want 360000", got.TotalAmount)
	}

	var joins int64
	if err := db.Model(&models.OrderSlot{}).Where("order_id = ?", ord.ID).Count(&joins).Error; err != nil {
		t.Fatalf("count joins: %v", err)
	}
	if joins != 3 {
		t.Fatalf("order_slots rows = %d, want 3", joins)
	}

	var pay models.Payment
	if err := db.Where("order_id = ?", ord.ID).First(&pay).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if pay.Amount != 360000 {
		t.Fatalf("payment amount = %d, want 360000", pay.Amount)
	}
}

func TestAddSlots_CapturedPaymentUntouched(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db, slot.NewStore(db), &fakeGateway{})
	consultantID, slotIDs := seedConsultantWithSlots(t, db, 2)

	ord, err := engine.CreateOrder(501, consultantID, slotIDs[:1], "paid up front")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if err := db.Model(&models.Payment{}).Where("order_id = ?", ord.ID).
		Update("status", models.PaymentStatusPaid).Error; err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	if err := engine.AddSlots(ord.ID, slotIDs[1:]); err != nil {
		t.Fatalf("AddSlots: %v", err)
	}

	var pay models.Payment
	if err := db.Where("order_id = ?", ord.ID).First(&pay).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if pay.Amount != 120000 {
		t.Fatalf("captured payment amount changed to %d", pay.Amount)
	}
	var got models.Order
	if err := db.First(&got, ord.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if got.TotalAmount != 240000 {
		t.Fatalf("order total = %d, want 240000", got.TotalAmount)
	}
}

func TestAddSlots_PaymentLookupFailureRollsBack(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db, slot.NewStore(db), &fakeGateway{})
	consultantID, slotIDs := seedConsultantWithSlots(t, db, 2)

	ord, err := engine.CreateOrder(501, consultantID, slotIDs[:1], "one hour")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	// Break the payment lookup with something other than record-not-found.
	if err := db.Migrator().DropTable("payments"); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	if err := engine.AddSlots(ord.ID, slotIDs[1:]); err == nil {
		t.Fatal("expected AddSlots to fail when the payment lookup errors")
	}

	// The rollback keeps order total and slot state untouched, so total and
	// payment amount cannot drift apart.
	var got models.Order
	if err := db.First(&got, ord.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if got.TotalAmount != 120000 {
		t.Fatalf("order total = %d after failed extension, want 120000", got.TotalAmount)
	}
	var sl models.AvailabilitySlot
	if err := db.First(&sl, slotIDs[1]).Error; err != nil {
		t.Fatalf("load slot: %v", err)
	}
	if sl.Booked() {
		t.Fatal("slot stayed reserved after failed extension")
	}
}

func TestAddSlots_OrderNotFound(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db, slot.NewStore(db), &fakeGateway{})

	if err := engine.AddSlots(9999, []uint{1}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
