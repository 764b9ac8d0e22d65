package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"askbounty/logging"
	"askbounty/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Question{}, &models.Answer{}))
	return db
}

func TestClientStorePair(t *testing.T) {
	var got storePairRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/documents", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	require.NoError(t, client.StorePair(context.Background(), "what is Go?", "a language"))
	assert.Equal(t, "what is Go?", got.Question)
	assert.Equal(t, "a language", got.Answer)
}

func TestClientStorePairFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	assert.Error(t, client.StorePair(context.Background(), "q", "a"))
}

func TestClientGenerateAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/answer", r.URL.Path)
		fmt.Fprint(w, `{"answer":"generated text"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	answer, err := client.GenerateAnswer(context.Background(), "what is Go?")
	require.NoError(t, err)
	assert.Equal(t, "generated text", answer)
}

func TestClientGenerateAnswerNull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"answer":null}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	answer, err := client.GenerateAnswer(context.Background(), "unanswerable")
	require.NoError(t, err)
	assert.Empty(t, answer, "null answer means could-not-generate, not an error")
}

// fakeSink records stored pairs and scripts failures.
type fakeSink struct {
	stored        [][2]string
	failStores    int
	generated     string
	generateCalls int
}

func (f *fakeSink) StorePair(_ context.Context, q, a string) error {
	if f.failStores > 0 {
		f.failStores--
		return fmt.Errorf("sink down")
	}
	f.stored = append(f.stored, [2]string{q, a})
	return nil
}

func (f *fakeSink) GenerateAnswer(context.Context, string) (string, error) {
	f.generateCalls++
	return f.generated, nil
}

func createSettledQuestion(t *testing.T, db *gorm.DB, cached string) *models.Question {
	t.Helper()
	question := &models.Question{
		Title:       "how do rockets work",
		Body:        "details please",
		CreatorID:   1,
		TokenReward: 2,
		Settled:     true,
	}
	if cached != "" {
		question.GeneratedAnswer = &cached
	}
	require.NoError(t, db.Create(question).Error)
	return question
}

func TestArchivePrefersEndorsedHumanAnswer(t *testing.T) {
	db := newTestDB(t)
	question := createSettledQuestion(t, db, "")
	winner := &models.Answer{QuestionID: question.ID, AuthorID: 2, Body: "thrust", InfluencePoints: 3.5}

	sink := &fakeSink{generated: "should not be used"}
	archiver := NewArchiver(db, sink, logging.Discard())
	archiver.Archive(context.Background(), question, winner)

	require.Len(t, sink.stored, 1)
	assert.Equal(t, "thrust", sink.stored[0][1])
	assert.Contains(t, sink.stored[0][0], "how do rockets work")
	assert.Zero(t, sink.generateCalls)
}

func TestArchiveUsesGeneratorForUnendorsedWinner(t *testing.T) {
	db := newTestDB(t)
	question := createSettledQuestion(t, db, "")
	winner := &models.Answer{QuestionID: question.ID, AuthorID: 2, Body: "thrust", InfluencePoints: 0}

	sink := &fakeSink{generated: "generated answer"}
	archiver := NewArchiver(db, sink, logging.Discard())
	archiver.Archive(context.Background(), question, winner)

	require.Len(t, sink.stored, 1)
	assert.Equal(t, "generated answer", sink.stored[0][1])
	assert.Equal(t, 1, sink.generateCalls)

	// The generated answer is cached on the question record
	var got models.Question
	require.NoError(t, db.First(&got, question.ID).Error)
	require.NotNil(t, got.GeneratedAnswer)
	assert.Equal(t, "generated answer", *got.GeneratedAnswer)
}

func TestArchiveReusesCachedGeneratedAnswer(t *testing.T) {
	db := newTestDB(t)
	question := createSettledQuestion(t, db, "cached answer")

	sink := &fakeSink{generated: "fresh answer"}
	archiver := NewArchiver(db, sink, logging.Discard())
	archiver.Archive(context.Background(), question, nil)

	require.Len(t, sink.stored, 1)
	assert.Equal(t, "cached answer", sink.stored[0][1])
	assert.Zero(t, sink.generateCalls, "cached answer skips the generator")
}

func TestArchiveFallsBackWhenHumanStoreFails(t *testing.T) {
	db := newTestDB(t)
	question := createSettledQuestion(t, db, "")
	winner := &models.Answer{QuestionID: question.ID, AuthorID: 2, Body: "thrust", InfluencePoints: 2.0}

	sink := &fakeSink{failStores: 1, generated: "generated answer"}
	archiver := NewArchiver(db, sink, logging.Discard())
	archiver.Archive(context.Background(), question, winner)

	require.Len(t, sink.stored, 1)
	assert.Equal(t, "generated answer", sink.stored[0][1])
}

func TestArchiveSwallowsTotalFailure(t *testing.T) {
	db := newTestDB(t)
	question := createSettledQuestion(t, db, "")

	sink := &fakeSink{failStores: 5, generated: ""}
	archiver := NewArchiver(db, sink, logging.Discard())

	// No winner, generator empty, stores failing: must not panic or error
	archiver.Archive(context.Background(), question, nil)
	assert.Empty(t, sink.stored)
}
