package scheduler

import (
	"log"
	"time"

	"github.com/basisdesk/BasisDesk-server/service/slot"
)

// Reaper periodically purges availability slots whose end time has passed
// and were never booked.
type Reaper struct {
	store *slot.Store
}

func NewReaper(store *slot.Store) *Reaper {
	return &Reaper{store: store}
}

// Run ticks until stop closes, calling the expired-slot purge exactly once
// per tick. Errors are logged and the loop keeps going.
func (r *Reaper) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("expired slot reaper running every %s", interval)
	for {
		select {
		case <-stop:
			log.Println("expired slot reaper stopped")
			return
		case <-ticker.C:
			r.Tick()
		}
	}
}

// Tick runs one reap pass.
func (r *Reaper) Tick() {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("slot reaper tick panicked: %v", rec)
		}
	}()

	count, err := r.store.DeleteExpiredSlots()
	if err != nil {
		log.Printf("error deleting expired slots: %v", err)
		return
	}
	log.Printf("deleted %d expired slots", count)
}
