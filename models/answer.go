package models

import (
	"time"

	"gorm.io/gorm"
)

// Answer represents an answer posted on a question
type Answer struct {
	gorm.Model
	ID         int64     `json:"id" gorm:"primary_key"`
	QuestionID int64     `json:"questionId" gorm:"not null;index"`
	AuthorID   int64     `json:"authorId" gorm:"not null;index"`
	Body       string    `json:"body" gorm:"type:text;not null"`
	PostedAt   time.Time `json:"postedAt" gorm:"not null"`

	// Accumulated endorsement weight, never decreases
	InfluencePoints float64 `json:"influencePoints" gorm:"default:0"`

	// Relations (for preloading)
	Author   *User     `json:"author,omitempty" gorm:"foreignKey:AuthorID"`
	Question *Question `json:"question,omitempty" gorm:"foreignKey:QuestionID"`
}

// AnswerPublic is the public-facing answer view
type AnswerPublic struct {
	ID              int64     `json:"id"`
	QuestionID      int64     `json:"questionId"`
	AuthorID        int64     `json:"authorId"`
	AuthorName      string    `json:"authorName,omitempty"`
	Body            string    `json:"body"`
	BodyHTML        string    `json:"bodyHtml,omitempty"`
	InfluencePoints float64   `json:"influencePoints"`
	PostedAt        time.Time `json:"postedAt"`
}

// ToPublic converts Answer to AnswerPublic
func (a *Answer) ToPublic() AnswerPublic {
	pub := AnswerPublic{
		ID:              a.ID,
		QuestionID:      a.QuestionID,
		AuthorID:        a.AuthorID,
		Body:            a.Body,
		InfluencePoints: a.InfluencePoints,
		PostedAt:        a.PostedAt,
	}
	if a.Author != nil {
		pub.AuthorName = a.Author.Username
	}
	return pub
}
