package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"gorm.io/gorm"

	"askbounty/models"
)

// HTTPError for auth failures surfaced by handlers
type HTTPError struct {
	StatusCode int
	Message    string
}

// SessionDuration is how long a login token stays valid.
const SessionDuration = 24 * time.Hour

var sessionSecret []byte

// SetSessionSecret installs the HMAC secret used to sign session tokens.
// Must be called once at startup before any token is issued or validated.
func SetSessionSecret(secret string) {
	sessionSecret = []byte(secret)
}

type sessionClaims struct {
	UserID int64 `json:"userId"`
	jwt.RegisteredClaims
}

// IssueSessionToken creates a signed session token for the user.
func IssueSessionToken(userID int64) (string, error) {
	claims := sessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(SessionDuration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(sessionSecret)
}

// ValidateTokenAndGetUser validates the session token on the request and
// returns the authenticated user.
func ValidateTokenAndGetUser(r *http.Request, db *gorm.DB) (*models.User, *HTTPError) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Session token required. Use 'Bearer <token>' in Authorization header",
		}
	}
	raw := strings.TrimPrefix(authHeader, "Bearer ")

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return sessionSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Invalid or expired session token",
		}
	}

	var user models.User
	result := db.First(&user, claims.UserID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, &HTTPError{
				StatusCode: http.StatusUnauthorized,
				Message:    "Unknown user",
			}
		}
		return nil, &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Database error validating session",
		}
	}

	if !user.IsActive {
		return nil, &HTTPError{
			StatusCode: http.StatusForbidden,
			Message:    "Account is deactivated",
		}
	}

	return &user, nil
}
