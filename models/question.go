package models

import (
	"time"

	"gorm.io/gorm"
)

// Question represents a bounty question. The reward is escrowed externally and
// paid out to the winning answer's author once the deadline passes.
type Question struct {
	gorm.Model
	ID        int64  `json:"id" gorm:"primary_key"`
	Title     string `json:"title" gorm:"not null;size:200"`
	Body      string `json:"body" gorm:"type:text;not null"`
	CreatorID int64  `json:"creatorId" gorm:"not null;index"`
	Creator   *User  `json:"creator,omitempty" gorm:"foreignKey:CreatorID"`

	// Bounty terms, fixed at creation
	TokenReward int64     `json:"tokenReward" gorm:"not null"`
	Deadline    time.Time `json:"deadline" gorm:"not null;index"`

	// Accumulated endorsement weight. Written only by the endorsement path,
	// never decreases.
	InfluencePoints float64 `json:"influencePoints" gorm:"default:0"`

	// Settlement outcome. Settled flips false->true exactly once; the scheduler
	// is the sole writer of these fields.
	Settled         bool    `json:"settled" gorm:"default:false;index"`
	WinningAnswerID *int64  `json:"winningAnswerId,omitempty"`
	RewardTxHash    *string `json:"rewardTxHash,omitempty"`

	// Cached fallback answer from the external generator
	GeneratedAnswer *string `json:"-" gorm:"type:text"`
}

// Expired reports whether the question's deadline has passed.
func (q *Question) Expired(now time.Time) bool {
	return !q.Deadline.After(now)
}

// Status returns the user-visible settlement status
func (q *Question) Status(now time.Time) string {
	switch {
	case q.Settled:
		return "settled"
	case q.Expired(now):
		return "expired, pending"
	default:
		return "open"
	}
}

// QuestionPublic is the public-facing question view
type QuestionPublic struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Body            string    `json:"body"`
	BodyHTML        string    `json:"bodyHtml,omitempty"`
	CreatorID       int64     `json:"creatorId"`
	CreatorName     string    `json:"creatorName,omitempty"`
	TokenReward     int64     `json:"tokenReward"`
	Deadline        time.Time `json:"deadline"`
	InfluencePoints float64   `json:"influencePoints"`
	Status          string    `json:"status"`
	WinningAnswerID *int64    `json:"winningAnswerId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ToPublic converts Question to QuestionPublic
func (q *Question) ToPublic(now time.Time) QuestionPublic {
	pub := QuestionPublic{
		ID:              q.ID,
		Title:           q.Title,
		Body:            q.Body,
		CreatorID:       q.CreatorID,
		TokenReward:     q.TokenReward,
		Deadline:        q.Deadline,
		InfluencePoints: q.InfluencePoints,
		Status:          q.Status(now),
		WinningAnswerID: q.WinningAnswerID,
		CreatedAt:       q.CreatedAt,
	}
	if q.Creator != nil {
		pub.CreatorName = q.Creator.Username
	}
	return pub
}
