package booking

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/basisdesk/BasisDesk-server/cmd/utils"
	"github.com/basisdesk/BasisDesk-server/service/slot"
	"github.com/gorilla/mux"
)

type BookingHandler struct {
	engine *Engine
}

func NewBookingHandler(engine *Engine) *BookingHandler {
	return &BookingHandler{engine: engine}
}

func (h *BookingHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orders/book", utils.AuthMiddleware(h.BookOrder)).Methods("POST")
	router.HandleFunc("/orders/{id}/slots", utils.AuthMiddleware(h.AddSlots)).Methods("POST")
}

func (h *BookingHandler) BookOrder(w http.ResponseWriter, r *http.Request) {
	var bookingRequest struct {
		CustomerID   uint   `json:"customer_id"`
		ConsultantID uint   `json:"consultant_id"`
		SlotIDs      []uint `json:"slot_ids"`
		Topic        string `json:"topic,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&bookingRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(bookingRequest.SlotIDs) == 0 {
		http.Error(w, "At least one slot is required", http.StatusBadRequest)
		return
	}

	ord, err := h.engine.CreateOrder(bookingRequest.CustomerID, bookingRequest.ConsultantID,
		bookingRequest.SlotIDs, bookingRequest.Topic)
	if err != nil {
		writeBookingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ord)
}

func (h *BookingHandler) AddSlots(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orderID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid order ID", http.StatusBadRequest)
		return
	}

	var req struct {
		SlotIDs []uint `json:"slot_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.SlotIDs) == 0 {
		http.Error(w, "At least one slot is required", http.StatusBadRequest)
		return
	}

	if err := h.engine.AddSlots(uint(orderID), req.SlotIDs); err != nil {
		writeBookingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Slots added successfully",
	})
}

func writeBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, slot.ErrSlotNotFound), errors.Is(err, ErrOrderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, slot.ErrSlotBooked):
		http.Error(w, "Time slot already booked", http.StatusConflict)
	case errors.Is(err, slot.ErrSlotOwnership):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "Error processing booking", http.StatusInternalServerError)
	}
}
