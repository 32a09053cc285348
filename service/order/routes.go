package order

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/basisdesk/BasisDesk-server/cmd/models"
	"github.com/basisdesk/BasisDesk-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type OrderHandler struct {
	db      *gorm.DB
	machine *StatusMachine
}

func NewOrderHandler(db *gorm.DB, machine *StatusMachine) *OrderHandler {
	return &OrderHandler{db: db, machine: machine}
}

func (h *OrderHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	router.HandleFunc("/orders/{id}/status", utils.AuthMiddleware(h.ChangeStatus)).Methods("PATCH")
	router.HandleFunc("/orders/{id}/status/history", h.GetStatusHistory).Methods("GET")
	router.HandleFunc("/orders/customer/{customerId}", h.GetCustomerOrders).Methods("GET")
	router.HandleFunc("/orders/consultant/{consultantId}", h.GetConsultantOrders).Methods("GET")
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orderID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid order ID", http.StatusBadRequest)
		return
	}

	var ord models.Order
	if err := h.db.Preload("Slots").Preload("Slots.Slot").Preload("StatusMaster").First(&ord, orderID).Error; err != nil {
		http.Error(w, "Order not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ord)
}

// ChangeStatus applies a status transition with an optional comment. The
// acting user comes from the auth context.
func (h *OrderHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orderID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid order ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Status  string `json:"status"`
		Comment string `json:"comment,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		http.Error(w, "Status is required", http.StatusBadRequest)
		return
	}

	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.machine.ChangeStatus(uint(orderID), req.Status, userID, req.Comment); err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			http.Error(w, "Order not found", http.StatusNotFound)
		case errors.Is(err, ErrUnknownStatus):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, "Error changing status", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Status updated successfully",
	})
}

func (h *OrderHandler) GetStatusHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orderID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid order ID", http.StatusBadRequest)
		return
	}

	logs, err := h.machine.History(uint(orderID))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			http.Error(w, "Order not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Error retrieving status history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}

func (h *OrderHandler) GetCustomerOrders(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	customerID, err := strconv.ParseUint(vars["customerId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid customer ID", http.StatusBadRequest)
		return
	}
	h.listOrders(w, r, h.db.Model(&models.Order{}).Where("customer_id = ?", customerID))
}

func (h *OrderHandler) GetConsultantOrders(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	consultantID, err := strconv.ParseUint(vars["consultantId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid consultant ID", http.StatusBadRequest)
		return
	}
	h.listOrders(w, r, h.db.Model(&models.Order{}).Where("consultant_id = ?", consultantID))
}

func (h *OrderHandler) listOrders(w http.ResponseWriter, r *http.Request, query *gorm.DB) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 100

	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	query.Count(&total)

	var orders []models.Order
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Order("created_at DESC").Find(&orders).Error; err != nil {
		http.Error(w, "Error retrieving orders", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"orders":      orders,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}
