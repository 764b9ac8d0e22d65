package knowledge

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"askbounty/models"
)

// Archiver pushes a settled question's best answer into the knowledge base,
// preferring real human content over generated content. Everything here is
// best-effort: failures are logged and never affect settlement state.
type Archiver struct {
	db   *gorm.DB
	sink Sink
	log  *logrus.Logger
}

// NewArchiver creates an archiver backed by the given sink.
func NewArchiver(db *gorm.DB, sink Sink, log *logrus.Logger) *Archiver {
	return &Archiver{db: db, sink: sink, log: log}
}

// Archive stores a question/answer pair for the settled question. A winning
// answer is used only when it carries positive influence, a signal that real
// endorsement backed it rather than mere presence; otherwise (or when storing
// the human answer fails) a generated answer is used, reusing the cached one
// on the question record when available.
func (a *Archiver) Archive(ctx context.Context, question *models.Question, winner *models.Answer) {
	log := a.log.WithField("question_id", question.ID)

	questionText := question.Title
	if question.Body != "" {
		questionText = question.Title + "\n\n" + question.Body
	}

	if winner != nil && winner.InfluencePoints > 0 {
		err := a.sink.StorePair(ctx, questionText, winner.Body)
		if err == nil {
			log.WithField("answer_id", winner.ID).Info("archived winning answer")
			return
		}
		log.WithError(err).Warn("storing winning answer failed, falling back to generated answer")
	}

	generated, err := a.generatedAnswer(ctx, question, questionText)
	if err != nil {
		log.WithError(err).Warn("no generated answer available, skipping archive")
		return
	}

	if err := a.sink.StorePair(ctx, questionText, generated); err != nil {
		log.WithError(err).Warn("storing generated answer failed")
		return
	}
	log.Info("archived generated answer")
}

// generatedAnswer returns the cached fallback answer, generating and caching
// one if the question has none yet.
func (a *Archiver) generatedAnswer(ctx context.Context, question *models.Question, questionText string) (string, error) {
	if question.GeneratedAnswer != nil && *question.GeneratedAnswer != "" {
		return *question.GeneratedAnswer, nil
	}

	generated, err := a.sink.GenerateAnswer(ctx, questionText)
	if err != nil {
		return "", err
	}
	if generated == "" {
		return "", fmt.Errorf("generator returned no answer")
	}

	if err := a.db.Model(&models.Question{}).Where("id = ?", question.ID).
		UpdateColumn("generated_answer", generated).Error; err != nil {
		// Cache miss next time, the answer itself is still usable now
		a.log.WithField("question_id", question.ID).WithError(err).Warn("caching generated answer failed")
	}
	question.GeneratedAnswer = &generated

	return generated, nil
}
