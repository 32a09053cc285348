package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/basisdesk/BasisDesk-server/cmd/models"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

// Notifier is the best-effort delivery surface consumed by the escrow state
// machine and the payout scheduler. Callers treat a returned error as
// something to log, never as a reason to fail the surrounding transition.
type Notifier interface {
	NotifyEscrowStatusChange(paymentID uint, statusLabel, message string) error
	SendPaymentReminder(userID uint, orderID uint, amount int64) error
}

// Service delivers notifications by email and Expo push, recording each
// attempt in notification history.
type Service struct {
	db         *gorm.DB
	expoClient *expo.PushClient
}

func NewService(db *gorm.DB) *Service {
	return &Service{
		db:         db,
		expoClient: expo.NewPushClient(nil),
	}
}

// NotifyEscrowStatusChange tells the order's customer and consultant that the
// payment's escrow state moved. Per-channel failures are logged and the last
// one is returned for the caller's log line.
func (s *Service) NotifyEscrowStatusChange(paymentID uint, statusLabel, message string) error {
	var payment models.Payment
	if err := s.db.Preload("Order").First(&payment, paymentID).Error; err != nil {
		return fmt.Errorf("payment %d not found for notification: %w", paymentID, err)
	}
	if payment.Order == nil {
		return fmt.Errorf("payment %d has no order for notification", paymentID)
	}

	recipients := []uint{payment.Order.CustomerID}
	if payment.Order.ConsultantID != nil {
		var consultant models.Consultant
		if err := s.db.First(&consultant, *payment.Order.ConsultantID).Error; err == nil {
			recipients = append(recipients, consultant.UserID)
		}
	}

	title := "Escrow update: " + statusLabel
	var lastErr error
	for _, userID := range recipients {
		if err := s.deliver(userID, title, message, map[string]interface{}{
			"payment_id": payment.ID,
			"order_id":   payment.OrderID,
			"status":     statusLabel,
		}); err != nil {
			log.Printf("escrow notification to user %d failed: %v", userID, err)
			lastErr = err
		}
	}
	return lastErr
}

// SendPaymentReminder nudges the order's creator about a payment still
// sitting in Created status.
func (s *Service) SendPaymentReminder(userID uint, orderID uint, amount int64) error {
	title := "Payment reminder"
	body := fmt.Sprintf("Order #%d has an unpaid amount of %d. Complete the payment to start your engagement.", orderID, amount)
	return s.deliver(userID, title, body, map[string]interface{}{
		"order_id": orderID,
	})
}

// deliver sends email plus push to every registered device and writes one
// history row. Either channel failing still leaves the other attempted.
func (s *Service) deliver(userID uint, title, body string, data map[string]interface{}) error {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return fmt.Errorf("user %d not found: %w", userID, err)
	}

	emailErr := sendEmail(user.Email, title, body)
	if emailErr != nil {
		log.Printf("email to %s failed: %v", user.Email, emailErr)
	}

	pushErr := s.sendPush(userID, title, body, data)
	if pushErr != nil {
		log.Printf("push to user %d failed: %v", userID, pushErr)
	}

	status := "sent"
	if emailErr != nil && pushErr != nil {
		status = "failed"
	}
	dataJSON, _ := json.Marshal(data)
	history := models.NotificationHistory{
		UserID: strconv.FormatUint(uint64(userID), 10),
		Title:  title,
		Body:   body,
		Data:   string(dataJSON),
		Status: status,
		SentAt: time.Now(),
	}
	if dbErr := s.db.Create(&history).Error; dbErr != nil {
		// Log this error but don't fail the notification
		log.Printf("Error creating notification history: %v", dbErr)
	}

	if emailErr != nil && pushErr != nil {
		return fmt.Errorf("all channels failed: email: %v, push: %v", emailErr, pushErr)
	}
	return nil
}

func (s *Service) sendPush(userID uint, title, body string, data map[string]interface{}) error {
	var devices []models.Device
	if err := s.db.Where("user_id = ?", strconv.FormatUint(uint64(userID), 10)).Find(&devices).Error; err != nil {
		return err
	}
	if len(devices) == 0 {
		return fmt.Errorf("no devices registered for user %d", userID)
	}

	var validTokens []expo.ExponentPushToken
	for _, device := range devices {
		pushToken, err := expo.NewExponentPushToken(device.Token)
		if err != nil {
			log.Printf("Invalid push token format %s: %v", device.Token, err)
			continue
		}
		validTokens = append(validTokens, pushToken)
	}
	if len(validTokens) == 0 {
		return fmt.Errorf("no valid push tokens found")
	}

	stringData := make(map[string]string)
	for key, value := range data {
		stringData[key] = fmt.Sprintf("%v", value)
	}

	pushMessage := &expo.PushMessage{
		To:       validTokens,
		Body:     body,
		Title:    title,
		Sound:    "default",
		Priority: expo.DefaultPriority,
		Data:     stringData,
	}

	response, err := s.expoClient.Publish(pushMessage)
	if err != nil {
		return fmt.Errorf("failed to publish notification: %v", err)
	}
	if validationErr := response.ValidateResponse(); validationErr != nil {
		return fmt.Errorf("notification validation failed: %v", validationErr)
	}
	return nil
}

func sendEmail(email, subject, body string) error {
	// Load SMTP configuration from environment variables
	smtpHost := os.Getenv("SMTP_HOST")
	smtpPort := os.Getenv("SMTP_PORT")
	smtpUser := os.Getenv("SMTP_USER")
	smtpPass := os.Getenv("SMTP_PASS")

	m := gomail.NewMessage()
	m.SetHeader("From", smtpUser)
	m.SetHeader("To", email)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	port, err := strconv.Atoi(smtpPort)
	if err != nil {
		return fmt.Errorf("invalid SMTP port: %v", err)
	}
	d := gomail.NewDialer(smtpHost, port, smtpUser, smtpPass)

	return d.DialAndSend(m)
}
