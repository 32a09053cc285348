package models

import (
	"time"

	"gorm.io/gorm"
)

// Payment status values. Escrow states are a strict subset: IsInEscrow is
// true iff Status is InEscrow or EscrowReadyForRelease.
const (
	PaymentStatusCreated               = "Created"
	PaymentStatusPaid                  = "Paid"
	PaymentStatusInEscrow              = "InEscrow"
	PaymentStatusEscrowReadyForRelease = "EscrowReadyForRelease"
	PaymentStatusEscrowReleased        = "EscrowReleased"
	PaymentStatusEscrowCancelled       = "EscrowCancelled"
	PaymentStatusPayoutInitiated       = "PayoutInitiated"
	PaymentStatusPayoutCompleted       = "PayoutCompleted"
	PaymentStatusPayoutFailed          = "PayoutFailed"
	PaymentStatusRefunded              = "Refunded"
	PaymentStatusFailed                = "Failed"
)

// Escrow release conditions. ServiceCompleted and TimeBased are evaluated by
// the auto-release check; AdminApproval and Manual always require an explicit
// release call.
const (
	EscrowConditionServiceCompleted = "ServiceCompleted"
	EscrowConditionAdminApproval    = "AdminApproval"
	EscrowConditionTimeBased        = "TimeBased"
	EscrowConditionManual           = "Manual"
)

type Payment struct {
	gorm.Model
	OrderID uint `gorm:"column:order_id;not null;uniqueIndex" json:"order_id"`

	GatewayOrderID   string `gorm:"column:gateway_order_id;size:255" json:"gateway_order_id,omitempty"`
	GatewayPaymentID string `gorm:"column:gateway_payment_id;size:255" json:"gateway_payment_id,omitempty"`
	GatewaySignature string `gorm:"column:gateway_signature;size:255" json:"gateway_signature,omitempty"`

	Amount            int64 `gorm:"column:amount;not null" json:"amount"` // minor currency units
	CommissionPercent int64 `gorm:"column:commission_percent;not null;default:0" json:"commission_percent"`
	PlatformFee       int64 `gorm:"column:platform_fee;not null;default:0" json:"platform_fee"`
	ConsultantEarning int64 `gorm:"column:consultant_earning;not null;default:0" json:"consultant_earning"`

	Status string `gorm:"column:status;size:50;not null;default:Created" json:"status"`

	// Escrow lifecycle. Timestamps record transitions and are never cleared;
	// notes are appended, not replaced.
	IsInEscrow             bool       `gorm:"column:is_in_escrow;not null;default:false" json:"is_in_escrow"`
	EscrowReleaseCondition string     `gorm:"column:escrow_release_condition;size:50" json:"escrow_release_condition,omitempty"`
	EscrowInitiatedAt      *time.Time `gorm:"column:escrow_initiated_at" json:"escrow_initiated_at,omitempty"`
	EscrowReleasedAt       *time.Time `gorm:"column:escrow_released_at" json:"escrow_released_at,omitempty"`
	EscrowCancelledAt      *time.Time `gorm:"column:escrow_cancelled_at" json:"escrow_cancelled_at,omitempty"`
	EscrowNotes            string     `gorm:"column:escrow_notes;type:text" json:"escrow_notes,omitempty"`

	// Payout lifecycle.
	PayoutID            string     `gorm:"column:payout_id;size:255" json:"payout_id,omitempty"`
	PayoutReference     string     `gorm:"column:payout_reference;size:255" json:"payout_reference,omitempty"`
	PayoutInitiatedAt   *time.Time `gorm:"column:payout_initiated_at" json:"payout_initiated_at,omitempty"`
	PayoutCompletedAt   *time.Time `gorm:"column:payout_completed_at" json:"payout_completed_at,omitempty"`
	PayoutFailedAt      *time.Time `gorm:"column:payout_failed_at" json:"payout_failed_at,omitempty"`
	PayoutFailureReason string     `gorm:"column:payout_failure_reason;type:text" json:"payout_failure_reason,omitempty"`

	// Refunds.
	RefundID     string     `gorm:"column:refund_id;size:255" json:"refund_id,omitempty"`
	RefundAmount int64      `gorm:"column:refund_amount;default:0" json:"refund_amount,omitempty"`
	RefundedAt   *time.Time `gorm:"column:refunded_at" json:"refunded_at,omitempty"`

	Order *Order `gorm:"foreignKey:OrderID" json:"order,omitempty"`
}
