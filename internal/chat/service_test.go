package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astralink/server/internal/metering"
	"github.com/astralink/server/internal/model"
	"github.com/astralink/server/internal/repo"
)

// stubStore implements UserRepo, WalletRepo and SessionRepo over plain maps;
// just enough state for the engine paths the chat service exercises.
type stubStore struct {
	users    map[uuid.UUID]model.User
	credits  map[uuid.UUID]int
	sessions map[uuid.UUID]*model.Session
}

func newStubStore() *stubStore {
	return &stubStore{
		users:    make(map[uuid.UUID]model.User),
		credits:  make(map[uuid.UUID]int),
		sessions: make(map[uuid.UUID]*model.Session),
	}
}

func (s *stubStore) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return model.User{}, repo.ErrNotFound
	}
	return u, nil
}

func (s *stubStore) GetOrCreateByEmail(_ context.Context, email, username string) (model.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	u := model.User{ID: uuid.New(), Email: email, Username: username}
	s.users[u.ID] = u
	return u, nil
}

func (s *stubStore) MarkTrialUsed(_ context.Context, id uuid.UUID) (bool, error) {
	u, ok := s.users[id]
	if !ok {
		return false, repo.ErrNotFound
	}
	if u.FreeTrialUsed {
		return false, nil
	}
	u.FreeTrialUsed = true
	s.users[id] = u
	return true, nil
}

func (s *stubStore) Get(_ context.Context, userID uuid.UUID) (model.Wallet, error) {
	c, ok := s.credits[userID]
	if !ok {
		return model.Wallet{}, repo.ErrNotFound
	}
	return model.Wallet{UserID: userID, Credits: c}, nil
}

func (s *stubStore) GetOrCreate(_ context.Context, userID uuid.UUID) (model.Wallet, error) {
	return model.Wallet{UserID: userID, Credits: s.credits[userID]}, nil
}

func (s *stubStore) Credit(_ context.Context, userID uuid.UUID, amount int) (model.Wallet, error) {
	s.credits[userID] += amount
	return model.Wallet{UserID: userID, Credits: s.credits[userID]}, nil
}

func (s *stubStore) Deduct(_ context.Context, userID uuid.UUID, amount int) (model.Wallet, error) {
	if s.credits[userID] < amount {
		return model.Wallet{}, repo.ErrInsufficientCredits
	}
	s.credits[userID] -= amount
	return model.Wallet{UserID: userID, Credits: s.credits[userID]}, nil
}

func (s *stubStore) activeSession(userID, advisorID uuid.UUID) *model.Session {
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.AdvisorID == advisorID && !sess.Archived {
			return sess
		}
	}
	return nil
}

func (s *stubStore) GetActive(_ context.Context, userID, advisorID uuid.UUID) (model.Session, error) {
	if sess := s.activeSession(userID, advisorID); sess != nil {
		return *sess, nil
	}
	return model.Session{}, repo.ErrNotFound
}

func (s *stubStore) CreateTrial(_ context.Context, userID, advisorID uuid.UUID, start time.Time, trialDur time.Duration) (model.Session, error) {
	sess := &model.Session{
		ID:                    uuid.New(),
		UserID:                userID,
		AdvisorID:             advisorID,
		StartTime:             start,
		TrialEndTime:          start.Add(trialDur),
		RemainingTrialSeconds: int(trialDur.Seconds()),
		LastChargeTime:        start,
	}
	s.sessions[sess.ID] = sess
	return *sess, nil
}

func (s *stubStore) CreatePaid(_ context.Context, userID, advisorID uuid.UUID, now time.Time) (model.Session, error) {
	sess := &model.Session{
		ID:             uuid.New(),
		UserID:         userID,
		AdvisorID:      advisorID,
		StartTime:      now,
		TrialEndTime:   now,
		LastChargeTime: now,
		TrialConsumed:  true,
	}
	s.sessions[sess.ID] = sess
	return *sess, nil
}

func (s *stubStore) ConsumeTrial(_ context.Context, id uuid.UUID) error {
	if sess, ok := s.sessions[id]; ok {
		sess.TrialConsumed = true
		sess.Archived = true
	}
	return nil
}

func (s *stubStore) ClosePaidWindow(_ context.Context, id uuid.UUID) error {
	if sess, ok := s.sessions[id]; ok {
		sess.PaidMode = false
		sess.PaidStartTime = nil
		sess.Archived = true
	}
	return nil
}

func (s *stubStore) StartPaidWindow(_ context.Context, id uuid.UUID, start time.Time, initialCredits int) error {
	sess, ok := s.sessions[id]
	if !ok {
		return repo.ErrNotFound
	}
	sess.PaidMode = true
	t, n := start, initialCredits
	sess.PaidStartTime = &t
	sess.InitialCredits = &n
	sess.LastChargeTime = start
	return nil
}

func (s *stubStore) ChargeMinutes(_ context.Context, id, userID uuid.UUID, minutes int, checkpoint time.Time) (model.Wallet, error) {
	if s.credits[userID] < minutes {
		return model.Wallet{}, repo.ErrInsufficientCredits
	}
	s.credits[userID] -= minutes
	if sess, ok := s.sessions[id]; ok {
		sess.LastChargeTime = checkpoint
	}
	return model.Wallet{UserID: userID, Credits: s.credits[userID]}, nil
}

func (s *stubStore) HasOtherActivePaidWindow(_ context.Context, userID, advisorID uuid.UUID) (bool, error) {
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.AdvisorID != advisorID && sess.PaidMode && !sess.Archived {
			return true, nil
		}
	}
	return false, nil
}

// stubAdvisors serves a fixed advisor set.
type stubAdvisors struct {
	byID map[uuid.UUID]model.Advisor
}

func (s *stubAdvisors) GetByID(_ context.Context, id uuid.UUID) (model.Advisor, error) {
	a, ok := s.byID[id]
	if !ok {
		return model.Advisor{}, repo.ErrNotFound
	}
	return a, nil
}

func (s *stubAdvisors) List(_ context.Context) ([]model.Advisor, error) {
	out := make([]model.Advisor, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a)
	}
	return out, nil
}

// scriptedGenerator returns a fixed reply and records whether it was called.
type scriptedGenerator struct {
	reply  string
	err    error
	called bool
}

func (g *scriptedGenerator) Reply(_ context.Context, _ model.Advisor, _, _ string) (string, error) {
	g.called = true
	return g.reply, g.err
}

type chatFixture struct {
	service   *Service
	store     *stubStore
	generator *scriptedGenerator
	user      model.User
	advisor   model.Advisor
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	store := newStubStore()
	user := model.User{ID: uuid.New(), Email: "seeker@example.com", Username: "Dana"}
	store.users[user.ID] = user

	advisor := model.Advisor{ID: uuid.New(), Name: "Celeste", Specialty: model.SpecialtyAstrology}
	advisors := &stubAdvisors{byID: map[uuid.UUID]model.Advisor{advisor.ID: advisor}}

	generator := &scriptedGenerator{reply: "The stars align for you."}
	engine := metering.NewEngine(store, store, store, 60*time.Second)
	return &chatFixture{
		service:   NewService(engine, advisors, NewMemoryTranscriptStore(), generator),
		store:     store,
		generator: generator,
		user:      user,
		advisor:   advisor,
	}
}

var chatBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestSend_approvedAppendsBothMessages(t *testing.T) {
	f := newChatFixture(t)

	res, err := f.service.Send(context.Background(), f.user, f.advisor.ID, "what does my chart say?", chatBase)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "The stars align for you.", res.Reply)
	assert.False(t, res.CreditRequired)
	assert.True(t, f.generator.called)

	require.Len(t, res.Messages, 2)
	assert.Equal(t, "user", res.Messages[0].Sender)
	assert.Equal(t, "what does my chart say?", res.Messages[0].Text)
	assert.Equal(t, "ai", res.Messages[1].Sender)

	require.NotNil(t, res.Meta)
	assert.True(t, res.Meta.IsFreePeriod)
	assert.Equal(t, 60, res.Meta.RemainingFreeTime)
}

func TestSend_greetingSkipsGenerator(t *testing.T) {
	f := newChatFixture(t)

	res, err := f.service.Send(context.Background(), f.user, f.advisor.ID, "Hello there", chatBase)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Contains(t, res.Reply, "Dana")
	assert.Contains(t, res.Reply, "Celeste")
	assert.False(t, f.generator.called)
}

func TestSend_denialRecordsPaywallMessage(t *testing.T) {
	f := newChatFixture(t)
	f.user.FreeTrialUsed = true
	f.store.users[f.user.ID] = f.user
	// No wallet: the paid branch denies immediately.

	res, err := f.service.Send(context.Background(), f.user, f.advisor.ID, "one more question", chatBase)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.True(t, res.CreditRequired)
	assert.Equal(t, metering.PaywallMessage, res.Reply)
	assert.False(t, f.generator.called)

	// The denial itself lands in the transcript; the user's message does not.
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "ai", res.Messages[0].Sender)
	assert.Equal(t, metering.PaywallMessage, res.Messages[0].Text)
}

func TestSend_unknownAdvisor(t *testing.T) {
	f := newChatFixture(t)

	_, err := f.service.Send(context.Background(), f.user, uuid.New(), "hello?", chatBase)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSend_generatorFailureIsRetryable(t *testing.T) {
	f := newChatFixture(t)
	f.generator.err = errors.New("upstream unavailable")
	f.generator.reply = ""

	_, err := f.service.Send(context.Background(), f.user, f.advisor.ID, "tell me more", chatBase)
	require.Error(t, err)

	// Only the user's message was persisted; resending will not duplicate
	// an advisor reply.
	msgs, err := f.service.History(context.Background(), f.user.ID, f.advisor.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Sender)
}

func TestMemoryTranscriptStore_isolation(t *testing.T) {
	store := NewMemoryTranscriptStore()
	ctx := context.Background()
	user, advisorA, advisorB := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, store.Append(ctx, user, advisorA, model.ChatMessage{ID: uuid.New(), Sender: "user", Text: "hi A"}))
	require.NoError(t, store.Append(ctx, user, advisorB, model.ChatMessage{ID: uuid.New(), Sender: "user", Text: "hi B"}))

	a, err := store.History(ctx, user, advisorA)
	require.NoError(t, err)
	require.Len(t, a, 1)
	assert.Equal(t, "hi A", a[0].Text)

	b, err := store.History(ctx, user, advisorB)
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, "hi B", b[0].Text)

	// History hands back a copy, not the backing slice.
	a[0].Text = "mutated"
	fresh, err := store.History(ctx, user, advisorA)
	require.NoError(t, err)
	assert.Equal(t, "hi A", fresh[0].Text)
}

func TestCannedGenerator_specialtyVoices(t *testing.T) {
	gen := CannedGenerator{}
	ctx := context.Background()

	for _, specialty := range []string{
		model.SpecialtyAstrology,
		model.SpecialtyLove,
		model.SpecialtyNumerology,
		model.SpecialtyTarot,
		"unknown",
	} {
		reply, err := gen.Reply(ctx, model.Advisor{Specialty: specialty}, "Dana", "question")
		require.NoError(t, err)
		assert.Contains(t, reply, "Dana")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := gen.Reply(cancelled, model.Advisor{}, "Dana", "question")
	assert.Error(t, err)
}
