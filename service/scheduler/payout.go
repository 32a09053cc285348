package scheduler

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/basisdesk/BasisDesk-server/cmd/models"
	"github.com/basisdesk/BasisDesk-server/service/notify"
	"github.com/basisdesk/BasisDesk-server/service/payment"
	"gorm.io/gorm"
)

// payoutRetryDelays is the fixed job-level backoff: three attempts before the
// run gives up and waits for manual intervention.
var payoutRetryDelays = []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}

const paymentReminderAge = 7 * 24 * time.Hour

// PayoutScheduler periodically pays out consultants for completed orders and
// reminds customers about stale unpaid orders. Each order's payout commits
// independently, so one failure never blocks the rest of the batch.
type PayoutScheduler struct {
	db       *gorm.DB
	gateway  payment.Gateway
	notifier notify.Notifier

	// sleep is swapped out in tests to skip the retry delays.
	sleep func(time.Duration)
}

func NewPayoutScheduler(db *gorm.DB, gateway payment.Gateway, notifier notify.Notifier) *PayoutScheduler {
	return &PayoutScheduler{db: db, gateway: gateway, notifier: notifier, sleep: time.Sleep}
}

// Run ticks until stop closes. A panic or error in one tick is logged and the
// next tick proceeds normally.
func (s *PayoutScheduler) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("payout scheduler running every %s", interval)
	for {
		select {
		case <-stop:
			log.Println("payout scheduler stopped")
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *PayoutScheduler) tick() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("payout scheduler tick panicked: %v", r)
		}
	}()

	if err := s.ProcessAutomatedPayoutsWithRetry(); err != nil {
		log.Printf("automated payouts failed after retries: %v", err)
	}
	if err := s.SendPaymentReminders(); err != nil {
		log.Printf("payment reminders failed: %v", err)
	}
}

// ProcessAutomatedPayoutsWithRetry retries the whole batch on failure with
// the fixed 60s/300s/900s backoff before giving up.
func (s *PayoutScheduler) ProcessAutomatedPayoutsWithRetry() error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = s.ProcessAutomatedPayouts(); err == nil {
			return nil
		}
		if attempt >= len(payoutRetryDelays) {
			return err
		}
		log.Printf("payout batch attempt %d failed: %v; retrying in %s", attempt+1, err, payoutRetryDelays[attempt])
		s.sleep(payoutRetryDelays[attempt])
	}
}

// ProcessAutomatedPayouts finds completed orders whose payment is captured
// and not yet paid out, computes the platform fee and consultant earning,
// and triggers the gateway payout per order. Per-order failures are logged,
// marked on the payment and counted; they never abort the batch.
func (s *PayoutScheduler) ProcessAutomatedPayouts() error {
	if os.Getenv("ADMIN_PAYMENTS_ENABLED") != "true" {
		log.Println("admin payments disabled; skipping automated payouts")
		return nil
	}

	completedStatus := os.Getenv("ORDER_COMPLETED_STATUS")
	if completedStatus == "" {
		completedStatus = models.StatusClosed
	}

	var payments []models.Payment
	err := s.db.
		Joins("JOIN orders ON orders.id = payments.order_id").
		Where("orders.status = ?", completedStatus).
		Where("payments.status IN ?", []string{models.PaymentStatusPaid, models.PaymentStatusPayoutInitiated}).
		Where("(payments.payout_id = '' OR payments.payout_id IS NULL)").
		Find(&payments).Error
	if err != nil {
		return fmt.Errorf("error finding payout-eligible payments: %w", err)
	}

	if len(payments) == 0 {
		log.Println("no payout-eligible payments found")
		return nil
	}

	var succeeded, failed int
	for _, pay := range payments {
		if err := s.payOut(pay); err != nil {
			log.Printf("payout for order %d failed: %v", pay.OrderID, err)
			failed++
			continue
		}
		succeeded++
	}
	log.Printf("automated payouts: %d succeeded, %d failed of %d", succeeded, failed, len(payments))
	return nil
}

// payOut handles a single payment: fee/earning computation, gateway call and
// status update, each payment committed on its own.
func (s *PayoutScheduler) payOut(pay models.Payment) error {
	fee := pay.Amount * pay.CommissionPercent / 100
	earning := pay.Amount - fee
	now := time.Now().UTC()

	payoutID, err := s.gateway.ProcessPayout(pay.OrderID, earning)
	if err != nil {
		if dbErr := s.db.Model(&pay).Updates(map[string]interface{}{
			"status":                models.PaymentStatusPayoutFailed,
			"platform_fee":          fee,
			"consultant_earning":    earning,
			"payout_failed_at":      now,
			"payout_failure_reason": err.Error(),
		}).Error; dbErr != nil {
			log.Printf("error recording payout failure for payment %d: %v", pay.ID, dbErr)
		}
		return err
	}

	updates := map[string]interface{}{
		"status":              models.PaymentStatusPayoutCompleted,
		"platform_fee":        fee,
		"consultant_earning":  earning,
		"payout_id":           payoutID,
		"payout_completed_at": now,
	}
	if pay.PayoutInitiatedAt == nil {
		updates["payout_initiated_at"] = now
	}
	if err := s.db.Model(&pay).Updates(updates).Error; err != nil {
		return fmt.Errorf("error recording payout completion: %w", err)
	}

	log.Printf("payout %s completed for order %d (earning %d, fee %d)", payoutID, pay.OrderID, earning, fee)
	return nil
}

// SendPaymentReminders nudges creators of payments still sitting in Created
// status after a week. Per-item failures are logged and tolerated.
func (s *PayoutScheduler) SendPaymentReminders() error {
	cutoff := time.Now().UTC().Add(-paymentReminderAge)

	var payments []models.Payment
	err := s.db.Preload("Order").
		Where("status = ? AND created_at < ?", models.PaymentStatusCreated, cutoff).
		Find(&payments).Error
	if err != nil {
		return fmt.Errorf("error finding stale payments: %w", err)
	}

	var sent, failed int
	for _, pay := range payments {
		if pay.Order == nil {
			log.Printf("payment %d has no resolvable order; skipping reminder", pay.ID)
			failed++
			continue
		}
		if err := s.notifier.SendPaymentReminder(pay.Order.CustomerID, pay.OrderID, pay.Amount); err != nil {
			log.Printf("reminder for payment %d failed: %v", pay.ID, err)
			failed++
			continue
		}
		sent++
	}
	if len(payments) > 0 {
		log.Printf("payment reminders: %d sent, %d failed of %d", sent, failed, len(payments))
	}
	return nil
}
