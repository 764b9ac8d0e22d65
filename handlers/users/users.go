package users

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"askbounty/middleware"
	"askbounty/models"
)

var validate = validator.New()

// RegisterRequest is the request body for creating an account
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// LoginRequest is the request body for logging in
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// BindWalletRequest is the request body for binding an external address
type BindWalletRequest struct {
	Address string `json:"address" validate:"required"`
}

// RegisterHandler handles POST /v0/users/register
func RegisterHandler(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "Username must be 3-50 alphanumeric characters, password at least 8", http.StatusBadRequest)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			http.Error(w, "Failed to create account", http.StatusInternalServerError)
			return
		}

		user := models.User{
			Username:     req.Username,
			PasswordHash: string(hash),
			IsActive:     true,
		}
		if result := db.Create(&user); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
				http.Error(w, "Username already taken", http.StatusConflict)
				return
			}
			http.Error(w, "Failed to create account", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"user":    user.ToPublic(),
		})
	}
}

// LoginHandler handles POST /v0/users/login
func LoginHandler(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "Username and password required", http.StatusBadRequest)
			return
		}

		var user models.User
		if result := db.Where("username = ?", req.Username).First(&user); result.Error != nil {
			http.Error(w, "Invalid username or password", http.StatusUnauthorized)
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
			http.Error(w, "Invalid username or password", http.StatusUnauthorized)
			return
		}
		if !user.IsActive {
			http.Error(w, "Account is deactivated", http.StatusForbidden)
			return
		}

		token, err := middleware.IssueSessionToken(user.ID)
		if err != nil {
			http.Error(w, "Failed to create session", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"token":   token,
			"user":    user.ToPublic(),
		})
	}
}

// BindWalletHandler handles POST /v0/users/wallet
// Binds (or rebinds) the caller's external ledger address. An address belongs
// to at most one user.
func BindWalletHandler(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		user, httpErr := middleware.ValidateTokenAndGetUser(r, db)
		if httpErr != nil {
			http.Error(w, httpErr.Message, httpErr.StatusCode)
			return
		}

		var req BindWalletRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if !models.ValidWalletAddress(req.Address) {
			http.Error(w, "Invalid wallet address", http.StatusBadRequest)
			return
		}

		// Reject an address already bound to another account
		var other models.User
		if result := db.Where("wallet_address = ? AND id <> ?", req.Address, user.ID).First(&other); result.Error == nil {
			http.Error(w, "Address already bound to another account", http.StatusConflict)
			return
		}

		now := time.Now()
		user.WalletAddress = &req.Address
		user.WalletBoundAt = &now
		if result := db.Save(user); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
				http.Error(w, "Address already bound to another account", http.StatusConflict)
				return
			}
			http.Error(w, "Failed to bind wallet", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"user":    user.ToPublic(),
		})
	}
}
