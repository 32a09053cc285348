package booking

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/basisdesk/BasisDesk-server/cmd/models"
	"github.com/basisdesk/BasisDesk-server/service/payment"
	"github.com/basisdesk/BasisDesk-server/service/slot"
	"gorm.io/gorm"
)

var ErrOrderNotFound = errors.New("order not found")

// Engine turns a customer's slot selection into an order. Slot reservation,
// order creation and the payment row commit as one transaction, so a failed
// booking leaves every slot free.
type Engine struct {
	db      *gorm.DB
	slots   *slot.Store
	gateway payment.Gateway
}

func NewEngine(db *gorm.DB, slots *slot.Store, gateway payment.Gateway) *Engine {
	return &Engine{db: db, slots: slots, gateway: gateway}
}

// CreateOrder reserves the slots and creates the order, its slot joins and a
// Created payment carrying the gateway order id. The total is the
// consultant's hourly rate prorated over the booked minutes.
func (e *Engine) CreateOrder(customerID, consultantID uint, slotIDs []uint, topic string) (*models.Order, error) {
	var ord models.Order

	err := e.db.Transaction(func(tx *gorm.DB) error {
		ref, err := e.slots.ReserveSlotsIn(tx, consultantID, slotIDs)
		if err != nil {
			return err
		}

		var consultant models.Consultant
		if err := tx.First(&consultant, consultantID).Error; err != nil {
			return err
		}

		var booked []models.AvailabilitySlot
		if err := tx.Where("booking_ref = ?", ref).Find(&booked).Error; err != nil {
			return err
		}

		var newStatus models.StatusMaster
		if err := tx.Where("code = ?", models.StatusNew).First(&newStatus).Error; err != nil {
			return fmt.Errorf("status master not seeded: %w", err)
		}

		total := bookedAmount(consultant.HourlyRate, booked)

		ord = models.Order{
			CustomerID:    customerID,
			ConsultantID:  &consultantID,
			StatusID:      newStatus.ID,
			Status:        newStatus.Code,
			PaymentStatus: "unpaid",
			TotalAmount:   total,
			Topic:         topic,
		}
		if err := tx.Create(&ord).Error; err != nil {
			return err
		}

		for _, sl := range booked {
			if err := tx.Create(&models.OrderSlot{OrderID: ord.ID, SlotID: sl.ID}).Error; err != nil {
				return err
			}
		}

		gatewayOrderID, err := e.gateway.CreateOrder(total, "INR", fmt.Sprintf("order-%d", ord.ID))
		if err != nil {
			return fmt.Errorf("gateway order creation failed: %w", err)
		}

		pay := models.Payment{
			OrderID:           ord.ID,
			GatewayOrderID:    gatewayOrderID,
			Amount:            total,
			CommissionPercent: commissionPercent(),
			Status:            models.PaymentStatusCreated,
		}
		if err := tx.Create(&pay).Error; err != nil {
			return err
		}

		log.Printf("order %d created for customer %d: %d slots, total %d", ord.ID, customerID, len(booked), total)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &ord, nil
}

// AddSlots extends an existing order with more slots under the same booking
// invariants. The order total and a still-uncaptured payment amount are
// raised by the added time.
func (e *Engine) AddSlots(orderID uint, slotIDs []uint) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		var ord models.Order
		if err := tx.First(&ord, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if ord.ConsultantID == nil {
			return fmt.Errorf("order %d has no consultant assigned", orderID)
		}

		ref, err := e.slots.ReserveSlotsIn(tx, *ord.ConsultantID, slotIDs)
		if err != nil {
			return err
		}

		var consultant models.Consultant
		if err := tx.First(&consultant, *ord.ConsultantID).Error; err != nil {
			return err
		}

		var added []models.AvailabilitySlot
		if err := tx.Where("booking_ref = ?", ref).Find(&added).Error; err != nil {
			return err
		}

		for _, sl := range added {
			if err := tx.Create(&models.OrderSlot{OrderID: ord.ID, SlotID: sl.ID}).Error; err != nil {
				return err
			}
		}

		extra := bookedAmount(consultant.HourlyRate, added)
		if err := tx.Model(&ord).Update("total_amount", ord.TotalAmount+extra).Error; err != nil {
			return err
		}

		var pay models.Payment
		switch err := tx.Where("order_id = ?", ord.ID).First(&pay).Error; {
		case err == nil:
			if pay.Status == models.PaymentStatusCreated {
				if err := tx.Model(&pay).Update("amount", pay.Amount+extra).Error; err != nil {
					return err
				}
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// No payment to keep in sync.
		default:
			return err
		}

		log.Printf("order %d extended with %d slots (+%d)", ord.ID, len(added), extra)
		return nil
	})
}

// bookedAmount prorates the hourly rate over the booked minutes, truncating
// to whole minor units.
func bookedAmount(hourlyRate int64, slots []models.AvailabilitySlot) int64 {
	var minutes int64
	for _, sl := range slots {
		minutes += int64(sl.EndTime.Sub(sl.StartTime) / time.Minute)
	}
	return hourlyRate * minutes / 60
}

func commissionPercent() int64 {
	if v := os.Getenv("PLATFORM_COMMISSION_PERCENT"); v != "" {
		if pct, err := strconv.ParseInt(v, 10, 64); err == nil && pct >= 0 && pct <= 100 {
			return pct
		}
	}
	return 10
}
