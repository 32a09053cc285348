package models

import (
	"time"

	"gorm.io/gorm"
)

// AvailabilitySlot is one bookable chunk of a consultant's calendar.
// A slot is free while BookingRef is NULL; setting it consumes the slot.
// Reservations claim slots with a conditional update on booking_ref IS NULL,
// so two racing bookings can never both win the same slot.
type AvailabilitySlot struct {
	gorm.Model
	ConsultantID uint      `gorm:"column:consultant_id;not null;index" json:"consultant_id"`
	StartTime    time.Time `gorm:"column:start_time;not null" json:"start_time"`
	EndTime      time.Time `gorm:"column:end_time;not null" json:"end_time"`
	BookingRef   *string   `gorm:"column:booking_ref;size:64;index" json:"booking_ref,omitempty"`

	Consultant *Consultant `gorm:"foreignKey:ConsultantID" json:"-"`
}

func (AvailabilitySlot) TableName() string {
	return "availability_slots"
}

func (s *AvailabilitySlot) Booked() bool {
	return s.BookingRef != nil
}
