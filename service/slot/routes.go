package slot

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/basisdesk/BasisDesk-server/cmd/models"
	"github.com/basisdesk/BasisDesk-server/cmd/utils"
	"github.com/gorilla/mux"
)

type SlotHandler struct {
	store *Store
}

func NewSlotHandler(store *Store) *SlotHandler {
	return &SlotHandler{store: store}
}

func (h *SlotHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/consultants/{consultantId}/slots", utils.AuthMiddleware(h.CreateSlots)).Methods("POST")
	router.HandleFunc("/consultants/{consultantId}/slots", h.GetSlots).Methods("GET")
	router.HandleFunc("/slots/{id}", utils.AuthMiddleware(h.DeleteSlot)).Methods("DELETE")
}

func (h *SlotHandler) CreateSlots(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	consultantID, err := strconv.ParseUint(vars["consultantId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid consultant ID", http.StatusBadRequest)
		return
	}

	var req struct {
		RangeStart time.Time `json:"range_start"`
		RangeEnd   time.Time `json:"range_end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	slots, err := h.store.CreateSlots(uint(consultantID), req.RangeStart, req.RangeEnd)
	if err != nil {
		switch {
		case errors.Is(err, ErrConsultantNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, ErrConsultantNotReady), errors.Is(err, ErrInvalidRange):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, "Error creating slots", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"slots": slots,
		"count": len(slots),
	})
}

func (h *SlotHandler) GetSlots(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	consultantID, err := strconv.ParseUint(vars["consultantId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid consultant ID", http.StatusBadRequest)
		return
	}

	query := h.store.db.Model(&models.AvailabilitySlot{}).Where("consultant_id = ?", consultantID)

	// Apply filters
	if free := r.URL.Query().Get("free"); free == "true" {
		query = query.Where("booking_ref IS NULL")
	}
	if from := r.URL.Query().Get("from"); from != "" {
		query = query.Where("start_time >= ?", from)
	}
	if to := r.URL.Query().Get("to"); to != "" {
		query = query.Where("end_time <= ?", to)
	}

	var slots []models.AvailabilitySlot
	if err := query.Order("start_time ASC").Find(&slots).Error; err != nil {
		http.Error(w, "Error retrieving slots", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(slots)
}

func (h *SlotHandler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	slotID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid slot ID", http.StatusBadRequest)
		return
	}

	if err := h.store.DeleteSlot(uint(slotID)); err != nil {
		switch {
		case errors.Is(err, ErrSlotNotFound):
			http.Error(w, "Slot not found", http.StatusNotFound)
		case errors.Is(err, ErrSlotBooked):
			http.Error(w, "Cannot delete a booked slot", http.StatusConflict)
		default:
			http.Error(w, "Error deleting slot", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Slot deleted successfully",
	})
}
