package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astralink/server/internal/model"
	"github.com/astralink/server/internal/repo"
)

// DeductionTick advances every billable session once: floor-corrects the
// wallet at the first second of each new minute, broadcasts the countdown,
// and retires windows that have run out. Failures and lock contention skip
// the affected session only; the tick continues with the rest.
func (s *Scheduler) DeductionTick(ctx context.Context, now time.Time) {
	ids, err := s.store.ListBillable(ctx)
	if err != nil {
		log.Error().Err(err).Msg("deduction sweep: list failed")
		return
	}

	for _, id := range ids {
		var sessionEv model.SessionEvent
		var creditsEv *model.CreditsEvent

		err := s.store.VisitBillable(ctx, id, func(v repo.BillableVisit) (repo.BillableResult, error) {
			sess, wallet := v.Session, v.Wallet

			secondsSinceStart := int(now.Sub(*sess.PaidStartTime) / time.Second)
			minutesElapsed := secondsSinceStart / 60
			secondsIntoMinute := secondsSinceStart % 60
			expectedCredits := *sess.InitialCredits - minutesElapsed

			var res repo.BillableResult
			credits := wallet.Credits

			// Charge only at the first second past a minute boundary, and
			// only downward: a repeated tick inside the same minute finds
			// the wallet already at the floor and does nothing.
			if secondsIntoMinute == 1 && secondsSinceStart >= 1 && wallet.Credits > expectedCredits {
				floor := expectedCredits
				if floor < 0 {
					floor = 0
				}
				res.SetCredits = &floor
				stamp := now
				res.StampChargeTime = &stamp
				credits = floor
				creditsEv = &model.CreditsEvent{UserID: sess.UserID, Credits: floor}
			}

			remaining := *sess.InitialCredits*60 - secondsSinceStart
			if remaining < 0 {
				remaining = 0
			}

			status := model.StatusPaid
			if remaining <= 0 {
				status = model.StatusInsufficientCredits
				res.CloseAndArchive = true
			}

			sessionEv = model.SessionEvent{
				UserID:            sess.UserID,
				PsychicID:         sess.AdvisorID,
				IsFree:            false,
				RemainingFreeTime: 0,
				PaidTimer:         remaining,
				Credits:           credits,
				Status:            status,
				ShowFeedbackModal: remaining <= 0,
				FreeSessionUsed:   true,
			}
			return res, nil
		})

		if errors.Is(err, repo.ErrLocked) {
			continue // another actor holds the row this tick
		}
		if err != nil {
			log.Error().Err(err).Stringer("session", id).Msg("deduction sweep: session skipped")
			continue
		}

		// Broadcast after commit so events never describe uncommitted state.
		if creditsEv != nil {
			s.broadcast.CreditsUpdate(creditsEv.UserID, *creditsEv)
			log.Info().
				Stringer("user", creditsEv.UserID).
				Int("credits", creditsEv.Credits).
				Msg("deducted credit at minute boundary")
		}
		s.broadcast.SessionUpdate(sessionEv.UserID, sessionEv)

		if sessionEv.Status == model.StatusInsufficientCredits {
			log.Info().
				Stringer("user", sessionEv.UserID).
				Stringer("advisor", sessionEv.PsychicID).
				Msg("paid window exhausted, session archived")
		}
	}
}
