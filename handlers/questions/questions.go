package questions

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"askbounty/handlers/render"
	"askbounty/middleware"
	"askbounty/models"
	"askbounty/setup"
)

var validate = validator.New()

// CreateQuestionRequest is the request body for asking a question
type CreateQuestionRequest struct {
	Title           string `json:"title" validate:"required,max=200"`
	Body            string `json:"body" validate:"required"`
	TokenReward     int64  `json:"tokenReward" validate:"required"`
	DeadlineMinutes int    `json:"deadlineMinutes" validate:"required"`
}

// CreateQuestionHandler handles POST /v0/questions
func CreateQuestionHandler(db *gorm.DB, econ setup.Economics) http.HandlerFunc {
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

		var req CreateQuestionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "Title (max 200 chars) and body are required", http.StatusBadRequest)
			return
		}
		if req.TokenReward < econ.MinReward || req.TokenReward > econ.MaxReward {
			http.Error(w, "Token reward out of range", http.StatusBadRequest)
			return
		}
		if req.DeadlineMinutes < econ.MinDeadlineMinutes || req.DeadlineMinutes > econ.MaxDeadlineMinutes {
			http.Error(w, "Deadline out of range", http.StatusBadRequest)
			return
		}

		now := time.Now()
		question := models.Question{
			Title:       render.SanitizeText(req.Title),
			Body:        req.Body,
			CreatorID:   user.ID,
			TokenReward: req.TokenReward,
			Deadline:    now.Add(time.Duration(req.DeadlineMinutes) * time.Minute),
		}
		if result := db.Create(&question); result.Error != nil {
			http.Error(w, "Failed to create question", http.StatusInternalServerError)
			return
		}

		question.Creator = user

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":  true,
			"question": question.ToPublic(now),
		})
	}
}

// GetQuestionHandler handles GET /v0/questions/{id}
func GetQuestionHandler(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		vars := mux.Vars(r)
		questionID, err := strconv.ParseInt(vars["id"], 10, 64)
		if err != nil {
			http.Error(w, "Invalid question ID", http.StatusBadRequest)
			return
		}

		var question models.Question
		if result := db.Preload("Creator").First(&question, questionID); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				http.Error(w, "Question not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}

		var answers []models.Answer
		if result := db.Preload("Author").Where("question_id = ?", questionID).
			Order("influence_points DESC, posted_at ASC").Find(&answers); result.Error != nil {
			http.Error(w, "Failed to fetch answers", http.StatusInternalServerError)
			return
		}

		now := time.Now()
		pub := question.ToPublic(now)
		pub.BodyHTML = render.MarkdownToHTML(question.Body)

		answerViews := make([]models.AnswerPublic, 0, len(answers))
		for i := range answers {
			av := answers[i].ToPublic()
			av.BodyHTML = render.MarkdownToHTML(answers[i].Body)
			answerViews = append(answerViews, av)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":  true,
			"question": pub,
			"answers":  answerViews,
		})
	}
}

// ListQuestionsHandler handles GET /v0/questions
func ListQuestionsHandler(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		limit := 20
		if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
			limit = l
		}

		query := db.Model(&models.Question{}).Preload("Creator")
		switch r.URL.Query().Get("status") {
		case "open":
			query = query.Where("settled = ? AND deadline > ?", false, time.Now())
		case "pending":
			query = query.Where("settled = ? AND deadline <= ?", false, time.Now())
		case "settled":
			query = query.Where("settled = ?", true)
		}

		var questions []models.Question
		if err := query.Order("created_at DESC").Limit(limit).Find(&questions).Error; err != nil {
			http.Error(w, "Failed to fetch questions", http.StatusInternalServerError)
			return
		}

		now := time.Now()
		views := make([]models.QuestionPublic, 0, len(questions))
		for i := range questions {
			views = append(views, questions[i].ToPublic(now))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":   true,
			"questions": views,
			"count":     len(views),
		})
	}
}
