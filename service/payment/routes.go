package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/basisdesk/BasisDesk-server/cmd/models"
	"github.com/basisdesk/BasisDesk-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type PaymentHandler struct {
	db      *gorm.DB
	escrow  *EscrowService
	gateway Gateway
}

func NewPaymentHandler(db *gorm.DB, escrow *EscrowService, gateway Gateway) *PaymentHandler {
	return &PaymentHandler{db: db, escrow: escrow, gateway: gateway}
}

func (h *PaymentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/payments/verify", h.VerifyPayment).Methods("POST")
	router.HandleFunc("/payments/{id}", h.GetPayment).Methods("GET")
	router.HandleFunc("/payments/{id}/escrow", utils.AuthMiddleware(h.PlaceInEscrow)).Methods("POST")
	router.HandleFunc("/payments/{id}/escrow/ready", utils.AuthMiddleware(h.MarkReadyForRelease)).Methods("POST")
	router.HandleFunc("/payments/{id}/escrow/release", utils.AuthMiddleware(h.ReleaseEscrow)).Methods("POST")
	router.HandleFunc("/payments/{id}/escrow/cancel", utils.AuthMiddleware(h.CancelEscrow)).Methods("POST")
	router.HandleFunc("/payments/{id}/escrow/check", utils.AuthMiddleware(h.CheckAutoRelease)).Methods("POST")
}

// VerifyPayment confirms a gateway capture. The signature must match before
// the payment flips from Created to Paid; a mismatch is a hard rejection.
func (h *PaymentHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID          uint   `json:"order_id"`
		GatewayOrderID   string `json:"gateway_order_id"`
		GatewayPaymentID string `json:"gateway_payment_id"`
		Signature        string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var payment models.Payment
	if err := h.db.Where("order_id = ?", req.OrderID).First(&payment).Error; err != nil {
		http.Error(w, "Payment not found", http.StatusNotFound)
		return
	}

	if payment.Status != models.PaymentStatusCreated {
		http.Error(w, "Payment is not awaiting capture", http.StatusConflict)
		return
	}

	// The signature must cover this payment's own gateway order. Without this
	// check a valid triplet from one capture could be replayed against any
	// other payment still awaiting capture.
	if req.GatewayOrderID != payment.GatewayOrderID {
		http.Error(w, "Gateway order does not match payment", http.StatusBadRequest)
		return
	}

	if !h.gateway.VerifyPayment(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		http.Error(w, "Invalid payment signature", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&payment).Updates(map[string]interface{}{
			"status":             models.PaymentStatusPaid,
			"gateway_payment_id": req.GatewayPaymentID,
			"gateway_signature":  req.Signature,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Order{}).Where("id = ?", payment.OrderID).
			Updates(map[string]interface{}{
				"payment_status":       "paid",
				"payment_completed_at": now,
			}).Error
	})
	if err != nil {
		http.Error(w, "Error completing verification", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Payment verified successfully",
	})
}

func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	paymentID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid payment ID", http.StatusBadRequest)
		return
	}

	var payment models.Payment
	if err := h.db.Preload("Order").First(&payment, paymentID).Error; err != nil {
		http.Error(w, "Payment not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payment)
}

func (h *PaymentHandler) PlaceInEscrow(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := paymentIDFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		ReleaseCondition string `json:"release_condition"`
		Notes            string `json:"notes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.escrow.PlaceInEscrow(paymentID, req.ReleaseCondition, req.Notes); err != nil {
		writeEscrowError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Payment placed in escrow",
	})
}

func (h *PaymentHandler) MarkReadyForRelease(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := paymentIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.escrow.MarkReadyForRelease(paymentID); err != nil {
		writeEscrowError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Payment marked ready for release",
	})
}

func (h *PaymentHandler) ReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := paymentIDFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Notes string `json:"notes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.escrow.Release(paymentID, req.Notes); err != nil {
		writeEscrowError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Escrow released",
	})
}

func (h *PaymentHandler) CancelEscrow(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := paymentIDFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Notes string `json:"notes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.escrow.Cancel(paymentID, req.Notes); err != nil {
		writeEscrowError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Escrow cancelled",
	})
}

func (h *PaymentHandler) CheckAutoRelease(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := paymentIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.escrow.CheckAndAutoRelease(paymentID); err != nil {
		writeEscrowError(w, err)
		return
	}

	var payment models.Payment
	if err := h.db.First(&payment, paymentID).Error; err != nil {
		http.Error(w, "Payment not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       payment.Status,
		"is_in_escrow": payment.IsInEscrow,
	})
}

func paymentIDFromPath(w http.ResponseWriter, r *http.Request) (uint, bool) {
	vars := mux.Vars(r)
	paymentID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid payment ID", http.StatusBadRequest)
		return 0, false
	}
	return uint(paymentID), true
}

func writeEscrowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		http.Error(w, "Payment not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidPaymentState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrUnknownCondition):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "Error processing escrow operation", http.StatusInternalServerError)
	}
}
