package influence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"askbounty/chain"
	"askbounty/models"
)

// Endorsement policy violations, surfaced to the caller.
var (
	ErrAlreadyEndorsed   = errors.New("influence: target already endorsed by this user")
	ErrSelfEndorsement   = errors.New("influence: cannot endorse your own answer")
	ErrTargetNotFound    = errors.New("influence: target not found")
	ErrQuestionExpired   = errors.New("influence: question is past its deadline")
	ErrQuestionSettled   = errors.New("influence: question is already settled")
	ErrUnknownTargetType = errors.New("influence: unknown target type")
)

// weightDivisor converts a token balance into an endorsement weight.
var weightDivisor = decimal.NewFromInt(10)

// ComputeWeight derives an endorsement weight from an external token balance:
// balance divided by ten, rounded to one decimal place. Never negative.
func ComputeWeight(balance decimal.Decimal) float64 {
	if balance.Sign() <= 0 {
		return 0
	}
	w, _ := balance.Div(weightDivisor).Round(1).Float64()
	return w
}

// Service applies endorsements: it snapshots the endorser's external balance,
// derives the weight and records it exactly once per (endorser, target).
type Service struct {
	db     *gorm.DB
	ledger chain.Ledger
	log    *logrus.Logger
}

// NewService creates an endorsement service.
func NewService(db *gorm.DB, ledger chain.Ledger, log *logrus.Logger) *Service {
	return &Service{db: db, ledger: ledger, log: log}
}

// Endorse records a one-time endorsement of the target by endorser and returns
// the applied weight. The balance lookup happens before any transaction is
// opened so a slow chain daemon never holds a database lock. A failed lookup
// (or an endorser without a bound wallet) yields weight zero but the
// endorsement is still recorded: an endorsement costs nothing, so it fails
// open rather than closed.
func (s *Service) Endorse(ctx context.Context, endorserID int64, targetType string, targetID int64) (float64, error) {
	if !models.ValidTargetType(targetType) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTargetType, targetType)
	}

	if err := s.checkTarget(endorserID, targetType, targetID); err != nil {
		return 0, err
	}

	var existing models.Endorsement
	err := s.db.Where("endorser_id = ? AND target_type = ? AND target_id = ?",
		endorserID, targetType, targetID).First(&existing).Error
	if err == nil {
		return 0, ErrAlreadyEndorsed
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("influence: lookup endorsement: %w", err)
	}

	weight := s.snapshotWeight(ctx, endorserID)

	endorsement := models.Endorsement{
		EndorserID: endorserID,
		TargetType: targetType,
		TargetID:   targetID,
		Weight:     weight,
		EndorsedAt: time.Now(),
	}

	// The insert and the score increment must be atomic with respect to
	// concurrent endorsements of the same target, so both run in one
	// transaction and the increment is a single UPDATE expression rather than
	// a read-modify-write in application code.
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&endorsement).Error; err != nil {
			return err
		}
		return s.incrementInfluence(tx, targetType, targetID, weight)
	})
	if err != nil {
		// The unique index on (endorser, target_type, target_id) is the
		// backstop for two racing endorsements by the same user.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, ErrAlreadyEndorsed
		}
		return 0, fmt.Errorf("influence: record endorsement: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"endorser_id": endorserID,
		"target_type": targetType,
		"target_id":   targetID,
		"weight":      weight,
	}).Info("endorsement recorded")

	return weight, nil
}

// checkTarget verifies the target exists and is still endorsable, and rejects
// a user endorsing their own answer. Questions carry no ownership restriction.
func (s *Service) checkTarget(endorserID int64, targetType string, targetID int64) error {
	switch targetType {
	case models.TargetAnswer:
		var answer models.Answer
		if err := s.db.First(&answer, targetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTargetNotFound
			}
			return fmt.Errorf("influence: lookup answer: %w", err)
		}
		if answer.AuthorID == endorserID {
			return ErrSelfEndorsement
		}
		return s.checkQuestionOpen(answer.QuestionID)
	case models.TargetQuestion:
		return s.checkQuestionOpen(targetID)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTargetType, targetType)
	}
}

// checkQuestionOpen enforces the no-endorsements-after-expiry policy that
// makes a question's influence tally final once its deadline passes.
func (s *Service) checkQuestionOpen(questionID int64) error {
	var question models.Question
	if err := s.db.First(&question, questionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTargetNotFound
		}
		return fmt.Errorf("influence: lookup question: %w", err)
	}
	if question.Settled {
		return ErrQuestionSettled
	}
	if question.Expired(time.Now()) {
		return ErrQuestionExpired
	}
	return nil
}

// snapshotWeight fetches the endorser's current external balance and converts
// it to a weight. The balance is read live on every endorsement, never cached:
// two endorsements by the same user may legitimately carry different weights.
func (s *Service) snapshotWeight(ctx context.Context, endorserID int64) float64 {
	var endorser models.User
	if err := s.db.First(&endorser, endorserID).Error; err != nil {
		s.log.WithField("endorser_id", endorserID).WithError(err).Warn("endorser lookup failed, weight 0")
		return 0
	}
	if endorser.WalletAddress == nil || *endorser.WalletAddress == "" {
		return 0
	}

	balance, err := s.ledger.GetBalance(ctx, *endorser.WalletAddress)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"endorser_id": endorserID,
			"address":     *endorser.WalletAddress,
		}).WithError(err).Warn("balance lookup failed, weight 0")
		return 0
	}
	return ComputeWeight(balance)
}

func (s *Service) incrementInfluence(tx *gorm.DB, targetType string, targetID int64, weight float64) error {
	var model interface{}
	switch targetType {
	case models.TargetQuestion:
		model = &models.Question{}
	case models.TargetAnswer:
		model = &models.Answer{}
	}
	res := tx.Model(model).Where("id = ?", targetID).
		UpdateColumn("influence_points", gorm.Expr("influence_points + ?", weight))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTargetNotFound
	}
	return nil
}
