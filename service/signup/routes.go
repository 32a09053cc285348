package signup

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/basisdesk/BasisDesk-server/cmd/models"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var jwtSecretKey = []byte(os.Getenv("SECRET_KEY"))

// SignupHandler finishes SSO registrations. The SSO callback parks the
// provider profile in the pending cache; the user completes signup within the
// TTL by choosing a password.
type SignupHandler struct {
	db    *gorm.DB
	cache *Cache
}

func NewSignupHandler(db *gorm.DB, cache *Cache) *SignupHandler {
	return &SignupHandler{db: db, cache: cache}
}

func (h *SignupHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/signup/pending", h.StartPendingSignup).Methods("POST")
	router.HandleFunc("/signup/complete", h.CompleteSignup).Methods("POST")
}

// StartPendingSignup parks a provider profile and returns the one-time token
// the client needs to complete registration.
func (h *SignupHandler) StartPendingSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		FullName string `json:"full_name"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.FullName == "" {
		http.Error(w, "Email and full name are required", http.StatusBadRequest)
		return
	}

	var existing models.User
	if err := h.db.Where("email = ?", req.Email).First(&existing).Error; err == nil {
		http.Error(w, "User already exists", http.StatusConflict)
		return
	}

	token := uuid.New().String()
	h.cache.Put(token, PendingSignup{
		Email:    req.Email,
		FullName: req.FullName,
		Role:     req.Role,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"signup_token": token,
	})
}

// CompleteSignup redeems a pending-signup token, creates the user and issues
// an access token.
func (h *SignupHandler) CompleteSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SignupToken string `json:"signup_token"`
		Password    string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	pending, ok := h.cache.Get(req.SignupToken)
	if !ok {
		http.Error(w, "Signup token expired or unknown", http.StatusNotFound)
		return
	}
	if len(req.Password) < 8 {
		http.Error(w, "Password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Error processing password", http.StatusInternalServerError)
		return
	}

	user := models.User{
		FullName:      pending.FullName,
		Email:         pending.Email,
		PasswordHash:  string(passwordHash),
		Role:          pending.Role,
		EmailVerified: true, // SSO provider already verified the address
		Status:        "active",
	}
	if err := h.db.Create(&user).Error; err != nil {
		http.Error(w, "Error creating user", http.StatusInternalServerError)
		return
	}

	h.cache.Delete(req.SignupToken)

	accessToken, err := generateAccessToken(user.ID)
	if err != nil {
		http.Error(w, "Error generating token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"user":         user,
		"access_token": accessToken,
	})
}

func generateAccessToken(userID uint) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecretKey)
}
