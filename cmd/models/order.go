package models

import (
	"time"

	"gorm.io/gorm"
)

// Order lifecycle status codes present in status_master. Business logic keys
// off these; additional rows may be added without touching code.
const (
	StatusNew                   = "New"
	StatusInProgress            = "InProgress"
	StatusPendingCustomerAction = "PendingCustomerAction"
	StatusTopicClosed           = "TopicClosed"
	StatusClosed                = "Closed"
	StatusReOpened              = "ReOpened"
	StatusPaid                  = "Paid"
)

type Order struct {
	gorm.Model
	CustomerID    uint    `gorm:"column:customer_id;not null;index" json:"customer_id"`
	ConsultantID  *uint   `gorm:"column:consultant_id;index" json:"consultant_id,omitempty"`
	StatusID      uint    `gorm:"column:status_id;not null" json:"status_id"`
	Status        string  `gorm:"column:status;size:50;not null" json:"status"` // denormalized mirror of StatusMaster.Code
	PaymentStatus string  `gorm:"column:payment_status;size:50;not null;default:unpaid" json:"payment_status"`
	TotalAmount   int64   `gorm:"column:total_amount;not null" json:"total_amount"` // minor currency units
	Topic         string  `gorm:"column:topic;size:255" json:"topic"`
	PaymentCompletedAt *time.Time `gorm:"column:payment_completed_at" json:"payment_completed_at,omitempty"`

	StatusMaster *StatusMaster `gorm:"foreignKey:StatusID" json:"status_master,omitempty"`
	Customer     *User         `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Consultant   *Consultant   `gorm:"foreignKey:ConsultantID" json:"consultant,omitempty"`
	Slots        []OrderSlot   `gorm:"foreignKey:OrderID" json:"slots,omitempty"`
}

// OrderSlot joins an order to the availability slots its reservation consumed.
// The unique index on slot_id keeps a slot from ever backing two orders.
type OrderSlot struct {
	gorm.Model
	OrderID uint `gorm:"column:order_id;not null;index" json:"order_id"`
	SlotID  uint `gorm:"column:slot_id;not null;uniqueIndex" json:"slot_id"`

	Slot *AvailabilitySlot `gorm:"foreignKey:SlotID" json:"slot,omitempty"`
}

// StatusMaster is the fixed enumeration of order lifecycle states. Rows are
// seeded at migration time and never deleted; orders reference them by id.
type StatusMaster struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Code      string `gorm:"column:code;size:50;not null;uniqueIndex" json:"code"`
	Name      string `gorm:"column:name;size:100;not null" json:"name"`
	SortOrder int    `gorm:"column:sort_order;not null;default:0" json:"sort_order"`
	Active    bool   `gorm:"column:active;not null;default:true" json:"active"`
}

func (StatusMaster) TableName() string {
	return "status_master"
}

// StatusChangeLog is the append-only audit trail of order status transitions.
// Rows are written exactly once per transition and never updated or deleted.
type StatusChangeLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	OrderID      uint      `gorm:"column:order_id;not null;index" json:"order_id"`
	FromStatusID uint      `gorm:"column:from_status_id;not null" json:"from_status_id"`
	ToStatusID   uint      `gorm:"column:to_status_id;not null" json:"to_status_id"`
	ChangedBy    uint      `gorm:"column:changed_by;not null" json:"changed_by"`
	Comment      string    `gorm:"column:comment;type:text" json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (StatusChangeLog) TableName() string {
	return "status_change_logs"
}
