package scheduler

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/basisdesk/BasisDesk-server/cmd/models"
	"github.com/basisdesk/BasisDesk-server/service/booking"
	"github.com/basisdesk/BasisDesk-server/service/order"
	"github.com/basisdesk/BasisDesk-server/service/slot"
	"github.com/lib/pq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeGateway struct {
	payouts     int
	failPayouts bool
	lastAmount  int64
}

func (g *fakeGateway) CreateOrder(amount int64, currency string, receipt string) (string, error) {
	return "order_fake", nil
}

func (g *fakeGateway) VerifyPayment(gatewayOrderID, gatewayPaymentID, signature string) bool {
	return true
}

func (g *fakeGateway) ProcessPayout(orderID uint, amount int64) (string, error) {
	if g.failPayouts {
		return "", errors.New("gateway unavailable")
	}
	g.payouts++
	g.lastAmount = amount
	return fmt.Sprintf("pout_fake_%d", g.payouts), nil
}

type fakeNotifier struct {
	reminders int
	fail      bool
}

func (n *fakeNotifier) NotifyEscrowStatusChange(paymentID uint, statusLabel, message string) error {
	return nil
}

func (n *fakeNotifier) SendPaymentReminder(userID uint, orderID uint, amount int64) error {
	if n.fail {
		return errors.New("delivery failed")
	}
	n.reminders++
	return nil
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
	if err := order.SeedStatuses(db); err != nil {
		t.Fatalf("seed statuses: %v", err)
	}
	return db
}

func seedClosedPaidOrder(t *testing.T, db *gorm.DB, amount, commission int64) *models.Payment {
	t.Helper()
	ord := models.Order{CustomerID: 1, StatusID: 1, Status: models.StatusClosed, PaymentStatus: "paid", TotalAmount: amount}
	if err := db.Create(&ord).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	pay := models.Payment{OrderID: ord.ID, Amount: amount, CommissionPercent: commission, Status: models.PaymentStatusPaid}
	if err := db.Create(&pay).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return &pay
}

func TestProcessAutomatedPayouts_DisabledIsNoop(t *testing.T) {
	db := openTestDB(t)
	gw := &fakeGateway{}
	s := NewPayoutScheduler(db, gw, &fakeNotifier{})
	seedClosedPaidOrder(t, db, 100000, 10)

	t.Setenv("ADMIN_PAYMENTS_ENABLED", "false")
	if err := s.ProcessAutomatedPayouts(); err != nil {
		t.Fatalf("ProcessAutomatedPayouts: %v", err)
	}
	if gw.payouts != 0 {
		t.Fatalf("gateway called %d times with payouts disabled", gw.payouts)
	}
}

func TestProcessAutomatedPayouts_FeeAndEarning(t *testing.T) {
	db := openTestDB(t)
	gw := &fakeGateway{}
	s := NewPayoutScheduler(db, gw, &fakeNotifier{})
	// 10% of 100005 truncates: fee 10000, earning 90005.
	pay := seedClosedPaidOrder(t, db, 100005, 10)

	t.Setenv("ADMIN_PAYMENTS_ENABLED", "true")
	if err := s.ProcessAutomatedPayouts(); err != nil {
		t.Fatalf("ProcessAutomatedPayouts: %v", err)
	}

	var got models.Payment
	if err := db.First(&got, pay.ID).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if got.Status != models.PaymentStatusPayoutCompleted {
		t.Fatalf("status = %s, want %s", got.Status, models.PaymentStatusPayoutCompleted)
	}
	if got.PlatformFee != 10000 {
		t.Fatalf("platform fee = %d, want 10000", got.PlatformFee)
	}
	if got.ConsultantEarning != 90005 {
		t.Fatalf("consultant earning = %d, want 90005", got.ConsultantEarning)
	}
	if gw.lastAmount != 90005 {
		t.Fatalf("gateway paid %d, want 90005", gw.lastAmount)
	}
	if got.PayoutID == "" || got.PayoutCompletedAt == nil || got.PayoutInitiatedAt == nil {
		t.Fatal("payout bookkeeping fields not recorded")
	}
}

func TestProcessAutomatedPayouts_SkipsIneligible(t *testing.T) {
	db := openTestDB(t)
	gw := &fakeGateway{}
	s := NewPayoutScheduler(db, gw, &fakeNotifier{})

	// Order still open: not eligible.
	openOrd := models.Order{CustomerID: 1, StatusID: 1, Status: models.StatusInProgress, TotalAmount: 50000}
	if err := db.Create(&openOrd).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := db.Create(&models.Payment{OrderID: openOrd.ID, Amount: 50000, CommissionPercent: 10, Status: models.PaymentStatusPaid}).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}

	// Closed but already paid out: not eligible either.
	donePay := seedClosedPaidOrder(t, db, 60000, 10)
	if err := db.Model(donePay).Updates(map[string]interface{}{
		"status": models.PaymentStatusPayoutCompleted, "payout_id": "pout_done",
	}).Error; err != nil {
		t.Fatalf("mark paid out: %v", err)
	}

	t.Setenv("ADMIN_PAYMENTS_ENABLED", "true")
	if err := s.ProcessAutomatedPayouts(); err != nil {
		t.Fatalf("ProcessAutomatedPayouts: %v", err)
	}
	if gw.payouts != 0 {
		t.Fatalf("gateway called %d times for ineligible payments", gw.payouts)
	}
}

func TestProcessAutomatedPayouts_FailureRecorded(t *testing.T) {
	db := openTestDB(t)
	gw := &fakeGateway{failPayouts: true}
	s := NewPayoutScheduler(db, gw, &fakeNotifier{})
	pay := seedClosedPaidOrder(t, db, 100000, 10)

	t.Setenv("ADMIN_PAYMENTS_ENABLED", "true")
	// Per-order failures do not fail the batch.
	if err := s.ProcessAutomatedPayouts(); err != nil {
		t.Fatalf("ProcessAutomatedPayouts: %v", err)
	}

	var got models.Payment
	if err := db.First(&got, pay.ID).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if got.Status != models.PaymentStatusPayoutFailed {
		t.Fatalf("status = %s, want %s", got.Status, models.PaymentStatusPayoutFailed)
	}
	if got.PayoutFailureReason == "" {
		t.Fatal("failure reason not recorded")
	}
	if got.PayoutFailedAt == nil {
		t.Fatal("payout_failed_at not recorded")
	}
}

func TestProcessAutomatedPayouts_OneFailureDoesNotBlockBatch(t *testing.T) {
	db := openTestDB(t)
	gw := &fakeGateway{}
	s := NewPayoutScheduler(db, gw, &fakeNotifier{})
	bad := seedClosedPaidOrder(t, db, 100000, 10)
	good := seedClosedPaidOrder(t, db, 80000, 10)

	// Poison one specific order so its payout errors at the gateway while
	// the other completes.
	s.gateway = &flakyGateway{inner: gw, failOrderID: bad.OrderID}

	t.Setenv("ADMIN_PAYMENTS_ENABLED", "true")
	if err := s.ProcessAutomatedPayouts(); err != nil {
		t.Fatalf("ProcessAutomatedPayouts: %v", err)
	}

	var badPay, goodPay models.Payment
	if err := db.First(&badPay, bad.ID).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if err := db.First(&goodPay, good.ID).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if badPay.Status != models.PaymentStatusPayoutFailed {
		t.Fatalf("first payment status = %s", badPay.Status)
	}
	if goodPay.Status != models.PaymentStatusPayoutCompleted {
		t.Fatalf("second payment status = %s; batch aborted on first failure", goodPay.Status)
	}
}

type flakyGateway struct {
	inner       *fakeGateway
	failOrderID uint
}

func (g *flakyGateway) CreateOrder(amount int64, currency string, receipt string) (string, error) {
	return g.inner.CreateOrder(amount, currency, receipt)
}

func (g *flakyGateway) VerifyPayment(gatewayOrderID, gatewayPaymentID, signature string) bool {
	return true
}

func (g *flakyGateway) ProcessPayout(orderID uint, amount int64) (string, error) {
	if orderID == g.failOrderID {
		return "", errors.New("transient gateway failure")
	}
	return g.inner.ProcessPayout(orderID, amount)
}

func TestProcessAutomatedPayoutsWithRetry_Backoff(t *testing.T) {
	db := openTestDB(t)
	s := NewPayoutScheduler(db, &fakeGateway{}, &fakeNotifier{})

	var slept []time.Duration
	s.sleep = func(d time.Duration) { slept = append(slept, d) }

	// Break the query itself so the batch errors every attempt.
	if err := db.Migrator().DropTable("payments"); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	t.Setenv("ADMIN_PAYMENTS_ENABLED", "true")
	err := s.ProcessAutomatedPayoutsWithRetry()
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if len(slept) != len(payoutRetryDelays) {
		t.Fatalf("slept %d times, want %d", len(slept), len(payoutRetryDelays))
	}
	for i, d := range payoutRetryDelays {
		if slept[i] != d {
			t.Fatalf("delay %d = %s, want %s", i, slept[i], d)
		}
	}
}

func TestSendPaymentReminders(t *testing.T) {
	db := openTestDB(t)
	notifier := &fakeNotifier{}
	s := NewPayoutScheduler(db, &fakeGateway{}, notifier)

	ord := models.Order{CustomerID: 9, StatusID: 1, Status: models.StatusNew, TotalAmount: 50000}
	if err := db.Create(&ord).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	stale := models.Payment{OrderID: ord.ID, Amount: 50000, Status: models.PaymentStatusCreated}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if err := db.Model(&stale).Update("created_at", time.Now().UTC().Add(-8*24*time.Hour)).Error; err != nil {
		t.Fatalf("backdate payment: %v", err)
	}

	// Fresh Created payment: below the reminder age.
	freshOrd := models.Order{CustomerID: 10, StatusID: 1, Status: models.StatusNew, TotalAmount: 10000}
	if err := db.Create(&freshOrd).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := db.Create(&models.Payment{OrderID: freshOrd.ID, Amount: 10000, Status: models.PaymentStatusCreated}).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}

	if err := s.SendPaymentReminders(); err != nil {
		t.Fatalf("SendPaymentReminders: %v", err)
	}
	if notifier.reminders != 1 {
		t.Fatalf("reminders sent = %d, want 1", notifier.reminders)
	}
}

// TestBookingToPayoutFlow walks the whole order lifecycle: availability,
// booking, status transitions to Closed, payment capture, and the scheduled
// payout run completing the consultant's payout.
func TestBookingToPayoutFlow(t *testing.T) {
	db := openTestDB(t)
	gw := &fakeGateway{}

	user := models.User{FullName: "Meera Iyer", Email: "meera@example.com", Role: models.RoleConsultant}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	consultant := models.Consultant{UserID: user.ID, HourlyRate: 120000, Skills: pq.StringArray{"sap-basis"}}
	if err := db.Create(&consultant).Error; err != nil {
		t.Fatalf("create consultant: %v", err)
	}

	store := slot.NewStore(db)
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour)
	slots, err := store.CreateSlots(consultant.ID, start, start.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("CreateSlots: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("slots created = %d, want 3", len(slots))
	}

	engine := booking.NewEngine(db, store, gw)
	ord, err := engine.CreateOrder(777, consultant.ID, []uint{slots[0].ID}, "transport queue stuck")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	machine := order.NewStatusMachine(db)
	if err := machine.ChangeStatus(ord.ID, models.StatusInProgress, 1, "picked up"); err != nil {
		t.Fatalf("to InProgress: %v", err)
	}

	// Customer pays before closure.
	if err := db.Model(&models.Payment{}).Where("order_id = ?", ord.ID).
		Update("status", models.PaymentStatusPaid).Error; err != nil {
		t.Fatalf("capture payment: %v", err)
	}

	if err := machine.ChangeStatus(ord.ID, models.StatusClosed, 1, "resolved"); err != nil {
		t.Fatalf("to Closed: %v", err)
	}

	// Closing flips the captured payment to payout-eligible.
	var pay models.Payment
	if err := db.Where("order_id = ?", ord.ID).First(&pay).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if pay.Status != models.PaymentStatusPayoutInitiated {
		t.Fatalf("payment status after close = %s, want %s", pay.Status, models.PaymentStatusPayoutInitiated)
	}

	t.Setenv("ADMIN_PAYMENTS_ENABLED", "true")
	s := NewPayoutScheduler(db, gw, &fakeNotifier{})
	if err := s.ProcessAutomatedPayouts(); err != nil {
		t.Fatalf("ProcessAutomatedPayouts: %v", err)
	}

	if err := db.Where("order_id = ?", ord.ID).First(&pay).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if pay.Status != models.PaymentStatusPayoutCompleted {
		t.Fatalf("payment status = %s, want %s", pay.Status, models.PaymentStatusPayoutCompleted)
	}
	// 120000 for the booked hour, 10% fee.
	if pay.ConsultantEarning != 108000 {
		t.Fatalf("consultant earning = %d, want 108000", pay.ConsultantEarning)
	}

	history, err := machine.History(ord.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("audit rows = %d, want 2", len(history))
	}
}
