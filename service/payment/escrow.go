package payment

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/basisdesk/BasisDesk-server/cmd/models"
	"github.com/basisdesk/BasisDesk-server/service/notify"
	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrInvalidPaymentState = errors.New("payment is not in a valid state for this transition")
	ErrUnknownCondition    = errors.New("unknown escrow release condition")
)

// escrowAutoReleaseAfter is how long a TimeBased escrow holds funds before
// the auto-release check lets them go.
const escrowAutoReleaseAfter = 30 * 24 * time.Hour

// EscrowService drives the payment escrow lifecycle. Every transition writes
// its status, flag and timestamp fields in one transaction; notification
// delivery is best-effort and never rolls a transition back.
type EscrowService struct {
	db       *gorm.DB
	notifier notify.Notifier
}

func NewEscrowService(db *gorm.DB, notifier notify.Notifier) *EscrowService {
	return &EscrowService{db: db, notifier: notifier}
}

// PlaceInEscrow moves a Paid payment into escrow under the given release
// condition. Rejected if the payment is missing, not Paid, or already held.
func (s *EscrowService) PlaceInEscrow(paymentID uint, releaseCondition, notes string) error {
	switch releaseCondition {
	case models.EscrowConditionServiceCompleted, models.EscrowConditionAdminApproval,
		models.EscrowConditionTimeBased, models.EscrowConditionManual:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCondition, releaseCondition)
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if err := tx.First(&payment, paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}
		if payment.Status != models.PaymentStatusPaid {
			return fmt.Errorf("%w: status is %s, expected %s", ErrInvalidPaymentState, payment.Status, models.PaymentStatusPaid)
		}
		if payment.IsInEscrow {
			return fmt.Errorf("%w: already in escrow", ErrInvalidPaymentState)
		}

		now := time.Now().UTC()
		return tx.Model(&payment).Updates(map[string]interface{}{
			"status":                   models.PaymentStatusInEscrow,
			"is_in_escrow":             true,
			"escrow_release_condition": releaseCondition,
			"escrow_initiated_at":      now,
			"escrow_notes":             appendNote(payment.EscrowNotes, notes),
		}).Error
	})
	if err != nil {
		return err
	}

	log.Printf("payment %d placed in escrow (condition=%s)", paymentID, releaseCondition)
	s.notifyChange(paymentID, "In Escrow", "Payment is now held in escrow until the engagement completes.")
	return nil
}

// MarkReadyForRelease flags a held payment as cleared for release while
// keeping the funds in escrow until Release runs.
func (s *EscrowService) MarkReadyForRelease(paymentID uint) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if err := tx.First(&payment, paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}
		if payment.Status != models.PaymentStatusInEscrow || !payment.IsInEscrow {
			return fmt.Errorf("%w: status is %s", ErrInvalidPaymentState, payment.Status)
		}
		return tx.Model(&payment).Update("status", models.PaymentStatusEscrowReadyForRelease).Error
	})
	if err != nil {
		return err
	}
	log.Printf("payment %d marked ready for escrow release", paymentID)
	return nil
}

// Release lets a held payment out of escrow and marks it ready for payout.
// Legal only from InEscrow or EscrowReadyForRelease while the escrow flag is
// set.
func (s *EscrowService) Release(paymentID uint, notes string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if err := tx.First(&payment, paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}
		if !payment.IsInEscrow ||
			(payment.Status != models.PaymentStatusInEscrow && payment.Status != models.PaymentStatusEscrowReadyForRelease) {
			return fmt.Errorf("%w: status is %s", ErrInvalidPaymentState, payment.Status)
		}

		now := time.Now().UTC()
		return tx.Model(&payment).Updates(map[string]interface{}{
			"status":             models.PaymentStatusPayoutInitiated,
			"is_in_escrow":       false,
			"escrow_released_at": now,
			"escrow_notes":       appendNote(payment.EscrowNotes, notes),
		}).Error
	})
	if err != nil {
		return err
	}

	log.Printf("payment %d released from escrow", paymentID)
	s.notifyChange(paymentID, "Released", "Escrow has been released; consultant payout is being prepared.")
	return nil
}

// Cancel aborts an escrow hold. Legal only while the payment sits exactly in
// InEscrow.
func (s *EscrowService) Cancel(paymentID uint, notes string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if err := tx.First(&payment, paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}
		if payment.Status != models.PaymentStatusInEscrow {
			return fmt.Errorf("%w: status is %s, expected %s", ErrInvalidPaymentState, payment.Status, models.PaymentStatusInEscrow)
		}

		now := time.Now().UTC()
		return tx.Model(&payment).Updates(map[string]interface{}{
			"status":              models.PaymentStatusEscrowCancelled,
			"is_in_escrow":        false,
			"escrow_cancelled_at": now,
			"escrow_notes":        appendNote(payment.EscrowNotes, notes),
		}).Error
	})
	if err != nil {
		return err
	}

	log.Printf("payment %d escrow cancelled", paymentID)
	s.notifyChange(paymentID, "Cancelled", "The escrow hold on this payment was cancelled.")
	return nil
}

// CheckAndAutoRelease evaluates the payment's release condition and releases
// the escrow when it is met. A payment outside InEscrow, or one held under a
// manual condition, is left alone.
func (s *EscrowService) CheckAndAutoRelease(paymentID uint) error {
	var payment models.Payment
	if err := s.db.First(&payment, paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPaymentNotFound
		}
		return err
	}
	if payment.Status != models.PaymentStatusInEscrow || !payment.IsInEscrow {
		return nil
	}

	switch payment.EscrowReleaseCondition {
	case models.EscrowConditionServiceCompleted:
		var order models.Order
		if err := s.db.First(&order, payment.OrderID).Error; err != nil {
			return err
		}
		if order.Status == models.StatusClosed {
			return s.Release(paymentID, "auto-release: service completed (order closed)")
		}
	case models.EscrowConditionTimeBased:
		if payment.EscrowInitiatedAt != nil && time.Since(*payment.EscrowInitiatedAt) >= escrowAutoReleaseAfter {
			return s.Release(paymentID, "auto-release: time-based hold elapsed")
		}
	case models.EscrowConditionAdminApproval, models.EscrowConditionManual:
		// Admin must call Release explicitly.
	default:
		// Data anomaly; leave the payment untouched.
		log.Printf("payment %d has unknown escrow release condition %q", paymentID, payment.EscrowReleaseCondition)
	}
	return nil
}

func (s *EscrowService) notifyChange(paymentID uint, statusLabel, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyEscrowStatusChange(paymentID, statusLabel, message); err != nil {
		log.Printf("escrow notification for payment %d failed: %v", paymentID, err)
	}
}

func appendNote(existing, note string) string {
	if note == "" {
		return existing
	}
	stamped := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), note)
	if existing == "" {
		return stamped
	}
	return existing + "\n" + stamped
}
