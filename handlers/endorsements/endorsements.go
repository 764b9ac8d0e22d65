package endorsements

import (
	"encoding/json"
	"errors"
	"net/http"

	"gorm.io/gorm"

	"askbounty/influence"
	"askbounty/middleware"
	"askbounty/models"
)

// EndorseRequest is the request body for endorsing a question or answer
type EndorseRequest struct {
	TargetType string `json:"targetType"` // "question" or "answer"
	TargetID   int64  `json:"targetId"`
}

// EndorseHandler handles POST /v0/endorse
func EndorseHandler(db *gorm.DB, svc *influence.Service) http.HandlerFunc {
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

		var req EndorseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if !models.ValidTargetType(req.TargetType) {
			http.Error(w, "Target type must be 'question' or 'answer'", http.StatusBadRequest)
			return
		}
		if req.TargetID <= 0 {
			http.Error(w, "Target ID is required", http.StatusBadRequest)
			return
		}

		weight, err := svc.Endorse(r.Context(), user.ID, req.TargetType, req.TargetID)
		if err != nil {
			switch {
			case errors.Is(err, influence.ErrAlreadyEndorsed):
				http.Error(w, "You have already endorsed this "+req.TargetType, http.StatusConflict)
			case errors.Is(err, influence.ErrSelfEndorsement):
				http.Error(w, "You cannot endorse your own answer", http.StatusForbidden)
			case errors.Is(err, influence.ErrTargetNotFound):
				http.Error(w, "Target not found", http.StatusNotFound)
			case errors.Is(err, influence.ErrQuestionExpired), errors.Is(err, influence.ErrQuestionSettled):
				http.Error(w, "Question is no longer accepting endorsements", http.StatusBadRequest)
			default:
				http.Error(w, "Failed to record endorsement", http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"weight":  weight,
		})
	}
}
