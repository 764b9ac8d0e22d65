package settlement

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

// ErrAlreadySettled is returned when the conditional commit finds the settled
// flag already set, meaning another attempt won the race.
var ErrAlreadySettled = errors.New("settlement: question already settled")

// Archiver receives terminal questions for best-effort knowledge archival.
type Archiver interface {
	Archive(ctx context.Context, question *models.Question, winner *models.Answer)
}

// Engine drives expired questions through settlement: winner selection, reward
// transfer and the single conditional state commit that guarantees at-most-one
// reward distribution per question.
type Engine struct {
	db       *gorm.DB
	ledger   chain.Ledger
	archiver Archiver
	log      *logrus.Logger
}

// NewEngine creates a settlement engine.
func NewEngine(db *gorm.DB, ledger chain.Ledger, archiver Archiver, log *logrus.Logger) *Engine {
	return &Engine{db: db, ledger: ledger, archiver: archiver, log: log}
}

// SelectWinner picks the answer with the greatest influence, ties broken by
// earliest posting time. Pure function of its input; returns nil when answers
// is empty.
func SelectWinner(answers []models.Answer) *models.Answer {
	var winner *models.Answer
	for i := range answers {
		candidate := &answers[i]
		switch {
		case winner == nil:
			winner = candidate
		case candidate.InfluencePoints > winner.InfluencePoints:
			winner = candidate
		case candidate.InfluencePoints == winner.InfluencePoints &&
			candidate.PostedAt.Before(winner.PostedAt):
			winner = candidate
		}
	}
	return winner
}

// FindExpired returns the questions whose deadline has passed and which are
// not yet settled. Rediscovery on the next scan is the retry mechanism: a
// question stays in this result set until a settlement attempt commits.
func (e *Engine) FindExpired(now time.Time) ([]models.Question, error) {
	var questions []models.Question
	err := e.db.Where("deadline <= ? AND settled = ?", now, false).
		Order("deadline ASC").Find(&questions).Error
	if err != nil {
		return nil, fmt.Errorf("settlement: find expired: %w", err)
	}
	return questions, nil
}

// SettleQuestion runs one settlement attempt for an expired question. On a
// transfer failure the question is left unsettled and will be rediscovered;
// every terminal outcome commits through the conditional update in
// commitSettled, the single linearization point against double payment.
func (e *Engine) SettleQuestion(ctx context.Context, question *models.Question) error {
	log := e.log.WithField("question_id", question.ID)

	// Discovery may be stale by the time this attempt runs; never start a
	// transfer for a question that has already settled.
	var current models.Question
	if err := e.db.First(&current, question.ID).Error; err != nil {
		return fmt.Errorf("settlement: reload question: %w", err)
	}
	if current.Settled {
		return ErrAlreadySettled
	}
	*question = current

	var answers []models.Answer
	if err := e.db.Where("question_id = ?", question.ID).Find(&answers).Error; err != nil {
		return fmt.Errorf("settlement: load answers: %w", err)
	}

	winner := SelectWinner(answers)
	if winner == nil {
		if err := e.commitSettled(question, nil, nil); err != nil {
			return err
		}
		log.Info("settled with no answers")
		e.archiver.Archive(ctx, question, nil)
		return nil
	}

	recipient, err := e.recipientAddress(winner)
	if err != nil {
		return err
	}

	if recipient == "" {
		// The winner never bound a wallet, so the reward cannot be paid out.
		// Terminal by design: the question settles with a winner and no
		// receipt, and is not revisited if an address is bound later.
		if err := e.commitSettled(question, winner, nil); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"answer_id": winner.ID,
			"author_id": winner.AuthorID,
		}).Warn("reward unclaimable: winner has no wallet address")
		e.archiver.Archive(ctx, question, winner)
		return nil
	}

	// The transfer blocks until on-chain confirmation and must not hold any
	// database lock while in flight. Only after a confirmed success does the
	// settled flag flip; a failure here leaves the question discoverable.
	receipt, err := e.ledger.Transfer(ctx, recipient, decimal.NewFromInt(question.TokenReward))
	if err != nil {
		log.WithFields(logrus.Fields{
			"answer_id": winner.ID,
			"recipient": recipient,
			"reward":    question.TokenReward,
		}).WithError(err).Warn("reward transfer failed, question left for retry")
		return err
	}

	if err := e.commitSettled(question, winner, receipt); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"answer_id": winner.ID,
		"recipient": recipient,
		"reward":    question.TokenReward,
		"tx_hash":   receipt.TxHash,
	}).Info("reward settled")

	e.archiver.Archive(ctx, question, winner)
	return nil
}

// recipientAddress resolves the winner's bound wallet address, "" when none.
func (e *Engine) recipientAddress(winner *models.Answer) (string, error) {
	var author models.User
	if err := e.db.First(&author, winner.AuthorID).Error; err != nil {
		return "", fmt.Errorf("settlement: load winner author: %w", err)
	}
	if author.WalletAddress == nil {
		return "", nil
	}
	return *author.WalletAddress, nil
}

// commitSettled flips the settled flag and records the outcome in one
// conditional update, guarded on settled still being false. RowsAffected zero
// means a concurrent attempt already settled the question.
func (e *Engine) commitSettled(question *models.Question, winner *models.Answer, receipt *chain.TransferReceipt) error {
	updates := map[string]interface{}{"settled": true}
	if winner != nil {
		updates["winning_answer_id"] = winner.ID
		question.WinningAnswerID = &winner.ID
	}
	if receipt != nil {
		updates["reward_tx_hash"] = receipt.TxHash
		question.RewardTxHash = &receipt.TxHash
	}

	res := e.db.Model(&models.Question{}).
		Where("id = ? AND settled = ?", question.ID, false).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("settlement: commit: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlreadySettled
	}
	question.Settled = true
	return nil
}
