package payment

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

// Gateway is the payment-provider surface the platform depends on: order
// creation before capture, signature verification after capture, and payouts
// to consultants.
type Gateway interface {
	CreateOrder(amount int64, currency string, receipt string) (string, error)
	VerifyPayment(gatewayOrderID, gatewayPaymentID, signature string) bool
	ProcessPayout(orderID uint, amount int64) (string, error)
}

// RazorpayGateway talks to a Razorpay-style REST API using basic auth with
// the merchant key pair.
type RazorpayGateway struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
}

func NewRazorpayGateway() *RazorpayGateway {
	base := os.Getenv("RAZORPAY_BASE_URL")
	if base == "" {
		base = "https://api.razorpay.com/v1"
	}
	return &RazorpayGateway{
		baseURL:   base,
		keyID:     os.Getenv("RAZORPAY_KEY_ID"),
		keySecret: os.Getenv("RAZORPAY_KEY_SECRET"),
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateOrder registers an order with the gateway and returns the gateway's
// order id, which the client uses to open the checkout.
func (g *RazorpayGateway) CreateOrder(amount int64, currency string, receipt string) (string, error) {
	payload := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	}
	payloadBytes, _ := json.Marshal(payload)

	req, err := http.NewRequest("POST", g.baseURL+"/orders", bytes.NewBuffer(payloadBytes))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("gateway order creation failed: %s (%d)", string(body), resp.StatusCode)
	}

	var orderResp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&orderResp); err != nil {
		return "", fmt.Errorf("error reading gateway response: %w", err)
	}
	return orderResp.ID, nil
}

// VerifyPayment checks the capture signature: HMAC-SHA256 over
// "{gatewayOrderID}|{gatewayPaymentID}" with the merchant secret. A mismatch
// is a hard rejection.
func (g *RazorpayGateway) VerifyPayment(gatewayOrderID, gatewayPaymentID, signature string) bool {
	mac := hmac.New(sha256.New, []byte(g.keySecret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// ProcessPayout asks the gateway to transfer the consultant's earning and
// returns the gateway payout id.
func (g *RazorpayGateway) ProcessPayout(orderID uint, amount int64) (string, error) {
	reference := fmt.Sprintf("PAYOUT-%d-%s", orderID, uuid.New().String()[:8])
	payload := map[string]interface{}{
		"amount":       amount,
		"currency":     "INR",
		"reference_id": reference,
		"purpose":      "payout",
	}
	payloadBytes, _ := json.Marshal(payload)

	req, err := http.NewRequest("POST", g.baseURL+"/payouts", bytes.NewBuffer(payloadBytes))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("gateway payout failed: %s (%d)", string(body), resp.StatusCode)
	}

	var payoutResp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payoutResp); err != nil {
		return "", fmt.Errorf("error reading gateway response: %w", err)
	}
	return payoutResp.ID, nil
}
