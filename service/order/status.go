package order

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/basisdesk/BasisDesk-server/cmd/models"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrUnknownStatus = errors.New("unknown status")
)

// StatusMachine validates and applies order status transitions, recording an
// immutable audit row per change. Any code present in status_master is a
// legal target; resolving the code is the only gate.
type StatusMachine struct {
	db *gorm.DB
}

func NewStatusMachine(db *gorm.DB) *StatusMachine {
	return &StatusMachine{db: db}
}

// ChangeStatus moves an order to newStatusCode and appends the audit row, in
// one transaction. Closing an order (Closed or TopicClosed) also flips its
// Paid payment to PayoutInitiated; a missing or unpaid payment leaves the
// close untouched.
func (m *StatusMachine) ChangeStatus(orderID uint, newStatusCode string, changedBy uint, comment string) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		var ord models.Order
		if err := tx.First(&ord, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		var status models.StatusMaster
		if err := tx.Where("code = ?", newStatusCode).First(&status).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %q", ErrUnknownStatus, newStatusCode)
			}
			return err
		}

		fromStatusID := ord.StatusID

		if err := tx.Model(&ord).Updates(map[string]interface{}{
			"status_id":  status.ID,
			"status":     status.Code,
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
			return err
		}

		logEntry := models.StatusChangeLog{
			OrderID:      ord.ID,
			FromStatusID: fromStatusID,
			ToStatusID:   status.ID,
			ChangedBy:    changedBy,
			Comment:      comment,
		}
		if err := tx.Create(&logEntry).Error; err != nil {
			return err
		}

		if status.Code == models.StatusClosed || status.Code == models.StatusTopicClosed {
			if err := m.markPayoutEligible(tx, ord.ID); err != nil {
				return err
			}
		}

		log.Printf("order %d status changed %d -> %d (%s) by user %d", ord.ID, fromStatusID, status.ID, status.Code, changedBy)
		return nil
	})
}

// markPayoutEligible flips the order's Paid payment to PayoutInitiated so the
// payout job can pick it up. No payment, or a payment not yet Paid, is a
// logged no-op: closing an order never fails on payment state.
func (m *StatusMachine) markPayoutEligible(tx *gorm.DB, orderID uint) error {
	var payment models.Payment
	if err := tx.Where("order_id = ?", orderID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("order %d closed with no payment; skipping payout eligibility", orderID)
			return nil
		}
		return err
	}

	if payment.Status != models.PaymentStatusPaid {
		log.Printf("order %d closed with payment in %s; skipping payout eligibility", orderID, payment.Status)
		return nil
	}

	now := time.Now().UTC()
	return tx.Model(&payment).Updates(map[string]interface{}{
		"status":              models.PaymentStatusPayoutInitiated,
		"payout_initiated_at": now,
	}).Error
}

// History returns the order's audit trail, oldest first.
func (m *StatusMachine) History(orderID uint) ([]models.StatusChangeLog, error) {
	var count int64
	if err := m.db.Model(&models.Order{}).Where("id = ?", orderID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrOrderNotFound
	}

	var logs []models.StatusChangeLog
	if err := m.db.Where("order_id = ?", orderID).Order("id ASC").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// SeedStatuses inserts the fixed lifecycle rows when missing. Existing rows
// are left alone so ids stay stable.
func SeedStatuses(db *gorm.DB) error {
	statuses := []models.StatusMaster{
		{Code: models.StatusNew, Name: "New", SortOrder: 1, Active: true},
		{Code: models.StatusInProgress, Name: "In Progress", SortOrder: 2, Active: true},
		{Code: models.StatusPendingCustomerAction, Name: "Pending Customer Action", SortOrder: 3, Active: true},
		{Code: models.StatusTopicClosed, Name: "Topic Closed", SortOrder: 4, Active: true},
		{Code: models.StatusClosed, Name: "Closed", SortOrder: 5, Active: true},
		{Code: models.StatusReOpened, Name: "Re-Opened", SortOrder: 6, Active: true},
		{Code: models.StatusPaid, Name: "Paid", SortOrder: 7, Active: true},
	}

	for _, status := range statuses {
		var existing models.StatusMaster
		err := db.Where("code = ?", status.Code).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := db.Create(&status).Error; err != nil {
				return fmt.Errorf("error seeding status %s: %w", status.Code, err)
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
