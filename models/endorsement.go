package models

import (
	"time"

	"gorm.io/gorm"
)

// Endorsement target types
const (
	TargetQuestion = "question"
	TargetAnswer   = "answer"
)

// Endorsement records a one-time weighted vote by a user on a question or
// answer. The unique index is the single source of truth for "has this user
// already voted on this target".
type Endorsement struct {
	gorm.Model
	ID         int64  `json:"id" gorm:"primary_key"`
	EndorserID int64  `json:"endorserId" gorm:"not null;index;uniqueIndex:idx_endorsement_target"`
	TargetType string `json:"targetType" gorm:"not null;size:10;uniqueIndex:idx_endorsement_target"`
	TargetID   int64  `json:"targetId" gorm:"not null;index;uniqueIndex:idx_endorsement_target"`

	// Weight derived from the endorser's external balance at endorsement time.
	// Zero when the balance lookup failed; the record is still kept.
	Weight     float64   `json:"weight" gorm:"not null"`
	EndorsedAt time.Time `json:"endorsedAt" gorm:"not null"`
}

// ValidTargetType reports whether t names an endorsable target.
func ValidTargetType(t string) bool {
	return t == TargetQuestion || t == TargetAnswer
}
