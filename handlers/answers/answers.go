package answers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"askbounty/middleware"
	"askbounty/models"
)

// CreateAnswerRequest is the request body for answering a question
type CreateAnswerRequest struct {
	Body string `json:"body"`
}

// CreateAnswerHandler handles POST /v0/questions/{id}/answers
func CreateAnswerHandler(db *gorm.DB) http.HandlerFunc {
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

		vars := mux.Vars(r)
		questionID, err := strconv.ParseInt(vars["id"], 10, 64)
		if err != nil {
			http.Error(w, "Invalid question ID", http.StatusBadRequest)
			return
		}

		var req CreateAnswerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Body == "" {
			http.Error(w, "Answer body is required", http.StatusBadRequest)
			return
		}

		var question models.Question
		if result := db.First(&question, questionID); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				http.Error(w, "Question not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}

		now := time.Now()
		if question.Settled || question.Expired(now) {
			http.Error(w, "Question is no longer accepting answers", http.StatusBadRequest)
			return
		}

		answer := models.Answer{
			QuestionID: questionID,
			AuthorID:   user.ID,
			Body:       req.Body,
			PostedAt:   now,
		}
		if result := db.Create(&answer); result.Error != nil {
			http.Error(w, "Failed to create answer", http.StatusInternalServerError)
			return
		}

		answer.Author = user

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"answer":  answer.ToPublic(),
		})
	}
}
