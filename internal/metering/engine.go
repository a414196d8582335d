// Package metering is the single source of truth for "can this user chat
// with this advisor right now, and who pays". It owns the session lifecycle
// state machine: one global free-trial window per user, then wallet-gated
// paid time, charged per whole minute.
package metering

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/astralink/server/internal/model"
	"github.com/astralink/server/internal/repo"
)

// PaywallMessage is the user-facing denial shown when credits are exhausted.
const PaywallMessage = "Purchase credits to continue chatting."

// Availability is the outcome of a chat-availability check.
type Availability struct {
	Available     bool
	IsFree        bool
	Message       string
	RemainingTime int // seconds left in the active paid window, if any
}

// Meta enriches an outgoing chat response with timer state. It is computed
// from the same session row the availability check read, never re-derived.
type Meta struct {
	IsFreePeriod      bool `json:"isFreePeriod"`
	RemainingFreeTime int  `json:"remainingFreeTime"`
	CreditsDeducted   int  `json:"creditsDeducted"`
}

// Status is the availability/session-status payload served to clients and
// used as the polling fallback for missed websocket events.
type Status struct {
	Available         bool   `json:"available"`
	IsFree            bool   `json:"isFree"`
	RemainingFreeTime int    `json:"remainingFreeTime"`
	PaidTimer         int    `json:"paidTimer"`
	Credits           int    `json:"credits"`
	Status            string `json:"status"`
	FreeSessionUsed   bool   `json:"freeSessionUsed"`
	ShowFeedbackModal bool   `json:"showFeedbackModal"`
}

// ErrPaidSessionActive is returned when the user tries to open a second
// paid window while one is running with another advisor.
var ErrPaidSessionActive = errors.New("another paid session is active")

// Engine implements the timer/metering state machine over the repositories.
type Engine struct {
	users    repo.UserRepo
	wallets  repo.WalletRepo
	sessions repo.SessionRepo
	trialDur time.Duration
}

// NewEngine creates a metering engine with the given trial duration.
func NewEngine(users repo.UserRepo, wallets repo.WalletRepo, sessions repo.SessionRepo, trialDur time.Duration) *Engine {
	return &Engine{
		users:    users,
		wallets:  wallets,
		sessions: sessions,
		trialDur: trialDur,
	}
}

// CheckAvailability decides whether the user may chat with the advisor at
// now, performing the associated session/wallet mutations. Denials are
// returned in the Availability value, not as errors; an error means storage
// failed and the caller should treat the send as retryable.
func (e *Engine) CheckAvailability(ctx context.Context, userID, advisorID uuid.UUID, now time.Time) (Availability, error) {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return Availability{}, err
	}

	if !user.FreeTrialUsed {
		sess, err := e.sessions.GetActive(ctx, userID, advisorID)
		if errors.Is(err, repo.ErrNotFound) {
			sess, err = e.sessions.CreateTrial(ctx, userID, advisorID, now, e.trialDur)
		}
		if err != nil {
			return Availability{}, err
		}

		if !sess.TrialConsumed && now.Before(sess.TrialEndTime) {
			return Availability{Available: true, IsFree: true, Message: "Free trial active"}, nil
		}

		// Trial window elapsed before the sweep noticed. Converge here:
		// set the global flag (at-most-once CAS), retire the session and
		// fall through to paid evaluation.
		if _, err := e.users.MarkTrialUsed(ctx, userID); err != nil {
			return Availability{}, err
		}
		if !sess.TrialConsumed {
			if err := e.sessions.ConsumeTrial(ctx, sess.ID); err != nil {
				return Availability{}, err
			}
		}
	}

	return e.checkPaid(ctx, userID, advisorID, now)
}

// checkPaid evaluates the wallet-gated paid branch.
func (e *Engine) checkPaid(ctx context.Context, userID, advisorID uuid.UUID, now time.Time) (Availability, error) {
	wallet, err := e.wallets.Get(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && wallet.Credits <= 0) {
		return Availability{Available: false, Message: PaywallMessage}, nil
	}
	if err != nil {
		return Availability{}, err
	}

	sess, err := e.sessions.GetActive(ctx, userID, advisorID)
	if errors.Is(err, repo.ErrNotFound) {
		sess, err = e.sessions.CreatePaid(ctx, userID, advisorID, now)
	}
	if err != nil {
		return Availability{}, err
	}

	// Active paid window: the deduction sweep is the sole billing
	// authority here, so the wallet is not touched on this path.
	if sess.PaidMode && sess.PaidStartTime != nil && sess.InitialCredits != nil {
		secondsSinceStart := int(now.Sub(*sess.PaidStartTime) / time.Second)
		remaining := *sess.InitialCredits*60 - secondsSinceStart
		if remaining <= 0 {
			if err := e.sessions.ClosePaidWindow(ctx, sess.ID); err != nil {
				return Availability{}, err
			}
			return Availability{Available: false, Message: PaywallMessage}, nil
		}
		return Availability{Available: true, RemainingTime: remaining}, nil
	}

	// No paid window: charge whole minutes elapsed since the checkpoint.
	// The deduct and the checkpoint advance commit together, so a storage
	// failure can never leave minutes charged but uncheckpointed.
	minutesToCharge := int(now.Sub(sess.LastChargeTime) / time.Minute)
	if minutesToCharge >= 1 {
		if wallet.Credits < minutesToCharge {
			return Availability{Available: false, Message: PaywallMessage}, nil
		}
		checkpoint := sess.LastChargeTime.Add(time.Duration(minutesToCharge) * time.Minute)
		w, err := e.sessions.ChargeMinutes(ctx, sess.ID, userID, minutesToCharge, checkpoint)
		if err != nil {
			if errors.Is(err, repo.ErrInsufficientCredits) {
				return Availability{Available: false, Message: PaywallMessage}, nil
			}
			return Availability{}, err
		}
		log.Debug().
			Stringer("user", userID).
			Int("minutes", minutesToCharge).
			Int("credits", w.Credits).
			Msg("charged whole minutes on chat path")
	}

	return Availability{Available: true}, nil
}

// TimerMetadata computes the response enrichment for a just-approved chat
// send. It only reads; all billing already happened in CheckAvailability or
// belongs to the sweep.
func (e *Engine) TimerMetadata(ctx context.Context, userID, advisorID uuid.UUID, isFree bool, now time.Time) Meta {
	sess, err := e.sessions.GetActive(ctx, userID, advisorID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			log.Warn().Err(err).Stringer("user", userID).Msg("timer metadata unavailable")
		}
		return Meta{IsFreePeriod: isFree}
	}

	meta := Meta{IsFreePeriod: isFree}
	if isFree {
		meta.RemainingFreeTime = secondsUntil(sess.TrialEndTime, now)
	} else {
		meta.CreditsDeducted = int(now.Sub(sess.LastChargeTime) / time.Minute)
	}
	return meta
}

// SessionStatus is the read-only availability/status computation behind the
// polling endpoint. It mutates nothing so it can be called at any frequency.
func (e *Engine) SessionStatus(ctx context.Context, userID, advisorID uuid.UUID, now time.Time) (Status, error) {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return Status{}, err
	}

	credits := 0
	if wallet, err := e.wallets.Get(ctx, userID); err == nil {
		credits = wallet.Credits
	} else if !errors.Is(err, repo.ErrNotFound) {
		return Status{}, err
	}

	st := Status{
		Credits:         credits,
		FreeSessionUsed: user.FreeTrialUsed,
		Status:          model.StatusNew,
		Available:       !user.FreeTrialUsed || credits > 0,
	}

	sess, err := e.sessions.GetActive(ctx, userID, advisorID)
	if errors.Is(err, repo.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return Status{}, err
	}

	switch {
	case !user.FreeTrialUsed && !sess.TrialConsumed && now.Before(sess.TrialEndTime):
		st.Status = model.StatusFree
		st.IsFree = true
		st.RemainingFreeTime = secondsUntil(sess.TrialEndTime, now)
		st.Available = true
	case sess.PaidMode && sess.PaidStartTime != nil && sess.InitialCredits != nil:
		remaining := *sess.InitialCredits*60 - int(now.Sub(*sess.PaidStartTime)/time.Second)
		if remaining > 0 {
			st.Status = model.StatusPaid
			st.PaidTimer = remaining
			st.Available = true
		} else {
			st.Status = model.StatusInsufficientCredits
			st.ShowFeedbackModal = true
			st.Available = false
		}
	case credits > 0:
		st.Status = model.StatusStopped
		st.Available = true
	default:
		st.Status = model.StatusInsufficientCredits
		st.Available = false
	}
	return st, nil
}

// StartPaidSession opens a paid window anchored at now, granting the whole
// wallet balance as the window's credit budget. A user may hold at most one
// open paid window across all advisors.
func (e *Engine) StartPaidSession(ctx context.Context, userID, advisorID uuid.UUID, now time.Time) (Status, error) {
	wallet, err := e.wallets.GetOrCreate(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	if wallet.Credits <= 0 {
		return Status{}, repo.ErrInsufficientCredits
	}

	busy, err := e.sessions.HasOtherActivePaidWindow(ctx, userID, advisorID)
	if err != nil {
		return Status{}, err
	}
	if busy {
		return Status{}, ErrPaidSessionActive
	}

	sess, err := e.sessions.GetActive(ctx, userID, advisorID)
	if errors.Is(err, repo.ErrNotFound) {
		sess, err = e.sessions.CreatePaid(ctx, userID, advisorID, now)
	}
	if err != nil {
		return Status{}, err
	}

	if !sess.PaidMode {
		if err := e.sessions.StartPaidWindow(ctx, sess.ID, now, wallet.Credits); err != nil {
			return Status{}, err
		}
		log.Info().
			Stringer("user", userID).
			Stringer("advisor", advisorID).
			Int("initialCredits", wallet.Credits).
			Msg("paid session started")
	}

	return e.SessionStatus(ctx, userID, advisorID, now)
}

// StopSession closes the pair's session. An open paid window is cleared and
// the session archived; stopping an idle session archives it as well.
func (e *Engine) StopSession(ctx context.Context, userID, advisorID uuid.UUID, now time.Time) (Status, error) {
	sess, err := e.sessions.GetActive(ctx, userID, advisorID)
	if errors.Is(err, repo.ErrNotFound) {
		return e.SessionStatus(ctx, userID, advisorID, now)
	}
	if err != nil {
		return Status{}, err
	}

	if err := e.sessions.ClosePaidWindow(ctx, sess.ID); err != nil {
		return Status{}, err
	}
	log.Info().
		Stringer("user", userID).
		Stringer("advisor", advisorID).
		Msg("session stopped")

	return e.SessionStatus(ctx, userID, advisorID, now)
}

func secondsUntil(deadline, now time.Time) int {
	s := int(deadline.Sub(now) / time.Second)
	if s < 0 {
		return 0
	}
	return s
}
