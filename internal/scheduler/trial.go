package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astralink/server/internal/model"
	"github.com/astralink/server/internal/repo"
)

// TrialTick advances every live trial session once: refreshes the remaining
// countdown, and at zero consumes the trial, archives the session and sets
// the user's global flag. A session whose user already spent the trial
// elsewhere is retired without granting anything.
func (s *Scheduler) TrialTick(ctx context.Context, now time.Time) {
	ids, err := s.store.ListTrial(ctx)
	if err != nil {
		log.Error().Err(err).Msg("trial sweep: list failed")
		return
	}

	for _, id := range ids {
		var sessionEv *model.SessionEvent

		err := s.store.VisitTrial(ctx, id, func(v repo.TrialVisit) (repo.TrialResult, error) {
			sess := v.Session

			if v.TrialUsed {
				// Trial already spent with another advisor or previously;
				// this session never counts as a second grant.
				return repo.TrialResult{ConsumeAndArchive: true}, nil
			}

			remaining := int(sess.TrialEndTime.Sub(now) / time.Second)
			if remaining < 0 {
				remaining = 0
			}

			res := repo.TrialResult{RemainingTrialSeconds: &remaining}
			status := model.StatusFree
			trialUsed := false
			if remaining <= 0 {
				res.ConsumeAndArchive = true
				res.MarkUserTrialUsed = true
				status = model.StatusStopped
				trialUsed = true
			}

			sessionEv = &model.SessionEvent{
				UserID:            sess.UserID,
				PsychicID:         sess.AdvisorID,
				IsFree:            remaining > 0,
				RemainingFreeTime: remaining,
				PaidTimer:         0,
				Credits:           v.Credits,
				Status:            status,
				ShowFeedbackModal: remaining <= 0,
				FreeSessionUsed:   trialUsed,
			}
			return res, nil
		})

		if errors.Is(err, repo.ErrLocked) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Stringer("session", id).Msg("trial sweep: session skipped")
			continue
		}

		if sessionEv != nil {
			s.broadcast.SessionUpdate(sessionEv.UserID, *sessionEv)
			if sessionEv.RemainingFreeTime <= 0 && sessionEv.FreeSessionUsed {
				log.Info().
					Stringer("user", sessionEv.UserID).
					Stringer("advisor", sessionEv.PsychicID).
					Msg("free trial ended")
			}
		}
	}
}
