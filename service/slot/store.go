package slot

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/basisdesk/BasisDesk-server/cmd/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrConsultantNotFound  = errors.New("consultant not found")
	ErrConsultantNotReady  = errors.New("consultant is not eligible to publish availability")
	ErrInvalidRange        = errors.New("end time must be after start time")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrSlotBooked          = errors.New("slot already booked")
	ErrSlotOwnership       = errors.New("slot does not belong to consultant")
	ErrNoSlots             = errors.New("range produced no slots")
)

// Store owns availability slot records and their booking state. All booking
// mutations go through ReserveSlots so the free/booked invariant holds.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateSlots subdivides [rangeStart, rangeEnd) into consecutive 1-hour
// slots, a trailing partial hour becoming one final shorter slot, and
// persists them all unbooked. The consultant must exist, hold the consultant
// role, have an hourly rate and at least one skill.
func (s *Store) CreateSlots(consultantID uint, rangeStart, rangeEnd time.Time) ([]models.AvailabilitySlot, error) {
	if !rangeEnd.After(rangeStart) {
		return nil, ErrInvalidRange
	}

	var consultant models.Consultant
	if err := s.db.Preload("User").First(&consultant, consultantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConsultantNotFound
		}
		return nil, err
	}
	if consultant.User == nil || consultant.User.Role != models.RoleConsultant {
		return nil, fmt.Errorf("%w: user lacks consultant role", ErrConsultantNotReady)
	}
	if consultant.HourlyRate <= 0 {
		return nil, fmt.Errorf("%w: hourly rate not configured", ErrConsultantNotReady)
	}
	if len(consultant.Skills) == 0 {
		return nil, fmt.Errorf("%w: no skills configured", ErrConsultantNotReady)
	}

	slots := subdivide(consultantID, rangeStart.UTC(), rangeEnd.UTC())
	if len(slots) == 0 {
		// Unreachable given the range validation above.
		return nil, ErrNoSlots
	}

	if err := s.db.Create(&slots).Error; err != nil {
		return nil, err
	}
	log.Printf("created %d availability slots for consultant %d", len(slots), consultantID)
	return slots, nil
}

func subdivide(consultantID uint, start, end time.Time) []models.AvailabilitySlot {
	var slots []models.AvailabilitySlot
	for cur := start; cur.Before(end); cur = cur.Add(time.Hour) {
		slotEnd := cur.Add(time.Hour)
		if slotEnd.After(end) {
			slotEnd = end
		}
		slots = append(slots, models.AvailabilitySlot{
			ConsultantID: consultantID,
			StartTime:    cur,
			EndTime:      slotEnd,
		})
	}
	return slots
}

// ReserveSlots atomically claims every listed slot for a new reservation and
// returns the minted reservation id. Every slot must exist, belong to the
// consultant and be unbooked; if any check fails the whole reservation is
// rejected and no slot is mutated. Two concurrent reservations for the same
// slot cannot both succeed: the claim is a conditional update on
// booking_ref IS NULL, so the loser's update matches fewer rows than it
// asked for and rolls back with ErrSlotBooked.
func (s *Store) ReserveSlots(consultantID uint, slotIDs []uint) (string, error) {
	var ref string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		ref, txErr = s.ReserveSlotsIn(tx, consultantID, slotIDs)
		return txErr
	})
	if err != nil {
		return "", err
	}
	return ref, nil
}

// ReserveSlotsIn runs the reservation inside the caller's transaction so a
// booking can claim slots and create its order rows as one unit.
func (s *Store) ReserveSlotsIn(tx *gorm.DB, consultantID uint, slotIDs []uint) (string, error) {
	if len(slotIDs) == 0 {
		return "", ErrSlotNotFound
	}

	var slots []models.AvailabilitySlot
	if err := tx.Where("id IN ?", slotIDs).Find(&slots).Error; err != nil {
		return "", err
	}
	if len(slots) != len(slotIDs) {
		return "", ErrSlotNotFound
	}
	for _, sl := range slots {
		if sl.ConsultantID != consultantID {
			return "", ErrSlotOwnership
		}
		if sl.Booked() {
			return "", ErrSlotBooked
		}
	}

	ref := uuid.New().String()
	res := tx.Model(&models.AvailabilitySlot{}).
		Where("id IN ? AND consultant_id = ? AND booking_ref IS NULL", slotIDs, consultantID).
		Update("booking_ref", ref)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected != int64(len(slotIDs)) {
		// A concurrent reservation claimed one of the slots after our read;
		// reject the whole set.
		return "", ErrSlotBooked
	}

	log.Printf("reserved %d slots under reservation %s", len(slotIDs), ref)
	return ref, nil
}

// DeleteSlot removes an unbooked slot. Booked slots are kept because an
// order's reservation still refers to them.
func (s *Store) DeleteSlot(id uint) error {
	var sl models.AvailabilitySlot
	if err := s.db.First(&sl, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSlotNotFound
		}
		return err
	}
	if sl.Booked() {
		return ErrSlotBooked
	}
	return s.db.Delete(&sl).Error
}

// DeleteExpiredSlots purges slots whose end time has passed and were never
// booked. Booked slots remain as the historical record behind their order.
func (s *Store) DeleteExpiredSlots() (int64, error) {
	res := s.db.Where("end_time < ? AND booking_ref IS NULL", time.Now().UTC()).
		Delete(&models.AvailabilitySlot{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
