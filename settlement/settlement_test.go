package settlement

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"askbounty/chain"
	"askbounty/logging"
	"askbounty/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Question{}, &models.Answer{}, &models.Endorsement{},
	))
	return db
}

// fakeLedger counts successful transfers and fails on demand.
type fakeLedger struct {
	mu        sync.Mutex
	failNext  int
	transfers []transferCall
	block     chan struct{}
}

type transferCall struct {
	to     string
	amount decimal.Decimal
}

func (f *fakeLedger) GetBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeLedger) Transfer(_ context.Context, to string, amount decimal.Decimal) (*chain.TransferReceipt, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return nil, chain.ErrLedgerUnavailable
	}
	f.transfers = append(f.transfers, transferCall{to: to, amount: amount})
	return &chain.TransferReceipt{
		TxHash:      fmt.Sprintf("0xtx%d", len(f.transfers)),
		BlockNumber: int64(100 + len(f.transfers)),
	}, nil
}

func (f *fakeLedger) transferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transfers)
}

// recordingArchiver captures archive invocations.
type recordingArchiver struct {
	mu    sync.Mutex
	calls []archiveCall
}

type archiveCall struct {
	questionID int64
	winnerID   *int64
	settled    bool
}

func (r *recordingArchiver) Archive(_ context.Context, question *models.Question, winner *models.Answer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := archiveCall{questionID: question.ID, settled: question.Settled}
	if winner != nil {
		call.winnerID = &winner.ID
	}
	r.calls = append(r.calls, call)
}

func addr(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

func createUser(t *testing.T, db *gorm.DB, name, wallet string) models.User {
	t.Helper()
	user := models.User{Username: name, PasswordHash: "x", IsActive: true}
	if wallet != "" {
		user.WalletAddress = &wallet
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func createExpiredQuestion(t *testing.T, db *gorm.DB, creatorID int64, reward int64) models.Question {
	t.Helper()
	question := models.Question{
		Title:       "expired question",
		Body:        "body",
		CreatorID:   creatorID,
		TokenReward: reward,
		Deadline:    time.Now().Add(-time.Minute),
	}
	require.NoError(t, db.Create(&question).Error)
	return question
}

func createAnswerAt(t *testing.T, db *gorm.DB, questionID, authorID int64, influence float64, postedAt time.Time) models.Answer {
	t.Helper()
	answer := models.Answer{
		QuestionID:      questionID,
		AuthorID:        authorID,
		Body:            "an answer",
		PostedAt:        postedAt,
		InfluencePoints: influence,
	}
	require.NoError(t, db.Create(&answer).Error)
	return answer
}

func TestSelectWinnerDeterministic(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := models.Answer{ID: 1, InfluencePoints: 3.0, PostedAt: base}
	b := models.Answer{ID: 2, InfluencePoints: 3.0, PostedAt: base.Add(time.Minute)}
	c := models.Answer{ID: 3, InfluencePoints: 2.5, PostedAt: base.Add(2 * time.Minute)}

	// Ties break to the earliest answer, regardless of slice order
	for _, answers := range [][]models.Answer{{a, b, c}, {c, b, a}, {b, a, c}} {
		winner := SelectWinner(answers)
		require.NotNil(t, winner)
		assert.EqualValues(t, 1, winner.ID)
	}

	assert.Nil(t, SelectWinner(nil))
}

func TestSettleNoAnswers(t *testing.T) {
	db := newTestDB(t)
	asker := createUser(t, db, "asker", "")
	question := createExpiredQuestion(t, db, asker.ID, 5)

	ledger := &fakeLedger{}
	archiver := &recordingArchiver{}
	engine := NewEngine(db, ledger, archiver, logging.Discard())

	require.NoError(t, engine.SettleQuestion(context.Background(), &question))

	var got models.Question
	require.NoError(t, db.First(&got, question.ID).Error)
	assert.True(t, got.Settled)
	assert.Nil(t, got.WinningAnswerID)
	assert.Nil(t, got.RewardTxHash)
	assert.Equal(t, 0, ledger.transferCount(), "no transfer for a question without answers")

	require.Len(t, archiver.calls, 1)
	assert.Nil(t, archiver.calls[0].winnerID)
	assert.True(t, archiver.calls[0].settled, "archive only after commit")
}

func TestSettleUnclaimableWithoutWallet(t *testing.T) {
	db := newTestDB(t)
	asker := createUser(t, db, "asker", "")
	author := createUser(t, db, "author", "")
	question := createExpiredQuestion(t, db, asker.ID, 5)
	answer := createAnswerAt(t, db, question.ID, author.ID, 4.5, time.Now())

	ledger := &fakeLedger{}
	archiver := &recordingArchiver{}
	engine := NewEngine(db, ledger, archiver, logging.Discard())

	require.NoError(t, engine.SettleQuestion(context.Background(), &question))

	var got models.Question
	require.NoError(t, db.First(&got, question.ID).Error)
	assert.True(t, got.Settled)
	require.NotNil(t, got.WinningAnswerID)
	assert.Equal(t, answer.ID, *got.WinningAnswerID)
	assert.Nil(t, got.RewardTxHash, "unclaimable reward leaves no receipt")
	assert.Equal(t, 0, ledger.transferCount())

	require.Len(t, archiver.calls, 1)
	require.NotNil(t, archiver.calls[0].winnerID)
	assert.Equal(t, answer.ID, *archiver.calls[0].winnerID)
}

func TestSettlePaysWinner(t *testing.T) {
	db := newTestDB(t)
	asker := createUser(t, db, "asker", "")
	author := createUser(t, db, "author", addr(7))
	other := createUser(t, db, "other", addr(8))
	question := createExpiredQuestion(t, db, asker.ID, 3)
	winner := createAnswerAt(t, db, question.ID, author.ID, 6.0, time.Now().Add(-time.Hour))
	createAnswerAt(t, db, question.ID, other.ID, 2.0, time.Now())

	ledger := &fakeLedger{}
	archiver := &recordingArchiver{}
	engine := NewEngine(db, ledger, archiver, logging.Discard())

	require.NoError(t, engine.SettleQuestion(context.Background(), &question))

	require.Equal(t, 1, ledger.transferCount())
	assert.Equal(t, addr(7), ledger.transfers[0].to)
	assert.True(t, ledger.transfers[0].amount.Equal(decimal.NewFromInt(3)))

	var got models.Question
	require.NoError(t, db.First(&got, question.ID).Error)
	assert.True(t, got.Settled)
	require.NotNil(t, got.WinningAnswerID)
	assert.Equal(t, winner.ID, *got.WinningAnswerID)
	require.NotNil(t, got.RewardTxHash)
	assert.Equal(t, "0xtx1", *got.RewardTxHash)
}

func TestTransferFailureLeavesQuestionDiscoverable(t *testing.T) {
	db := newTestDB(t)
	asker := createUser(t, db, "asker", "")
	author := createUser(t, db, "author", addr(7))
	question := createExpiredQuestion(t, db, asker.ID, 5)
	createAnswerAt(t, db, question.ID, author.ID, 4.0, time.Now())

	ledger := &fakeLedger{failNext: 2}
	archiver := &recordingArchiver{}
	engine := NewEngine(db, ledger, archiver, logging.Discard())

	// Tick N and N+1 fail; question stays unsettled and rediscoverable
	for i := 0; i < 2; i++ {
		expired, err := engine.FindExpired(time.Now())
		require.NoError(t, err)
		require.Len(t, expired, 1)

		err = engine.SettleQuestion(context.Background(), &expired[0])
		assert.ErrorIs(t, err, chain.ErrLedgerUnavailable)

		var got models.Question
		require.NoError(t, db.First(&got, question.ID).Error)
		assert.False(t, got.Settled)
		assert.Nil(t, got.RewardTxHash)
	}
	assert.Empty(t, archiver.calls, "no archive while unsettled")

	// Tick N+2 succeeds and the question drops out of discovery
	expired, err := engine.FindExpired(time.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.NoError(t, engine.SettleQuestion(context.Background(), &expired[0]))
	assert.Equal(t, 1, ledger.transferCount())

	expired, err = engine.FindExpired(time.Now())
	require.NoError(t, err)
	assert.Empty(t, expired)
	assert.Len(t, archiver.calls, 1)
}

func TestSettleAtMostOnce(t *testing.T) {
	db := newTestDB(t)
	asker := createUser(t, db, "asker", "")
	author := createUser(t, db, "author", addr(7))
	question := createExpiredQuestion(t, db, asker.ID, 5)
	createAnswerAt(t, db, question.ID, author.ID, 4.0, time.Now())

	ledger := &fakeLedger{}
	archiver := &recordingArchiver{}
	engine := NewEngine(db, ledger, archiver, logging.Discard())

	require.NoError(t, engine.SettleQuestion(context.Background(), &question))

	// A crashed-and-retried attempt sees the settled flag and never
	// transfers again
	retry := models.Question{}
	require.NoError(t, db.First(&retry, question.ID).Error)
	stale := question
	stale.Settled = false
	err := engine.SettleQuestion(context.Background(), &stale)
	assert.ErrorIs(t, err, ErrAlreadySettled)

	assert.Equal(t, 1, ledger.transferCount(), "exactly one transfer per question")
	assert.Len(t, archiver.calls, 1)
}

func TestFindExpiredSkipsOpenAndSettled(t *testing.T) {
	db := newTestDB(t)
	asker := createUser(t, db, "asker", "")

	expired := createExpiredQuestion(t, db, asker.ID, 2)

	open := models.Question{
		Title: "open", Body: "b", CreatorID: asker.ID,
		TokenReward: 2, Deadline: time.Now().Add(time.Hour),
	}
	require.NoError(t, db.Create(&open).Error)

	settled := models.Question{
		Title: "done", Body: "b", CreatorID: asker.ID,
		TokenReward: 2, Deadline: time.Now().Add(-time.Hour), Settled: true,
	}
	require.NoError(t, db.Create(&settled).Error)

	engine := NewEngine(db, &fakeLedger{}, &recordingArchiver{}, logging.Discard())
	found, err := engine.FindExpired(time.Now())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, expired.ID, found[0].ID)
}

func TestOneFailureDoesNotBlockOthers(t *testing.T) {
	db := newTestDB(t)
	asker := createUser(t, db, "asker", "")
	author := createUser(t, db, "author", addr(7))

	failing := createExpiredQuestion(t, db, asker.ID, 5)
	createAnswerAt(t, db, failing.ID, author.ID, 1.0, time.Now())
	healthy := createExpiredQuestion(t, db, asker.ID, 4)

	ledger := &fakeLedger{failNext: 1}
	archiver := &recordingArchiver{}
	engine := NewEngine(db, ledger, archiver, logging.Discard())
	scheduler := NewScheduler(engine, time.Hour, logging.Discard())

	scheduler.Scan(context.Background())
	scheduler.Wait()

	var gotFailing, gotHealthy models.Question
	require.NoError(t, db.First(&gotFailing, failing.ID).Error)
	require.NoError(t, db.First(&gotHealthy, healthy.ID).Error)
	assert.False(t, gotFailing.Settled)
	assert.True(t, gotHealthy.Settled, "no-answer question settles despite the other failing")
}

func TestCommitSettledIsConditional(t *testing.T) {
	db := newTestDB(t)
	asker := createUser(t, db, "asker", "")
	question := createExpiredQuestion(t, db, asker.ID, 5)

	engine := NewEngine(db, &fakeLedger{}, &recordingArchiver{}, logging.Discard())

	require.NoError(t, engine.commitSettled(&question, nil, nil))

	again := question
	again.Settled = false
	err := engine.commitSettled(&again, nil, &chain.TransferReceipt{TxHash: "0xlate"})
	assert.ErrorIs(t, err, ErrAlreadySettled)

	var got models.Question
	require.NoError(t, db.First(&got, question.ID).Error)
	assert.Nil(t, got.RewardTxHash, "late commit must not overwrite the outcome")
}

func TestSchedulerSerializesPerQuestion(t *testing.T) {
	db := newTestDB(t)
	asker := createUser(t, db, "asker", "")
	author := createUser(t, db, "author", addr(7))
	question := createExpiredQuestion(t, db, asker.ID, 5)
	createAnswerAt(t, db, question.ID, author.ID, 2.0, time.Now())

	ledger := &fakeLedger{block: make(chan struct{})}
	archiver := &recordingArchiver{}
	engine := NewEngine(db, ledger, archiver, logging.Discard())
	scheduler := NewScheduler(engine, time.Hour, logging.Discard())

	// First scan parks inside the blocked transfer; overlapping scans must
	// skip the in-flight question instead of starting a second attempt.
	scheduler.Scan(context.Background())
	time.Sleep(50 * time.Millisecond)
	scheduler.Scan(context.Background())
	scheduler.Scan(context.Background())

	close(ledger.block)
	scheduler.Wait()

	assert.Equal(t, 1, ledger.transferCount(), "overlapping scans caused extra transfers")

	var got models.Question
	require.NoError(t, db.First(&got, question.ID).Error)
	assert.True(t, got.Settled)
}

func TestSettleMissingQuestion(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, &fakeLedger{}, &recordingArchiver{}, logging.Discard())

	missing := models.Question{}
	missing.ID = 424242
	err := engine.SettleQuestion(context.Background(), &missing)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
