package chat

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/astralink/server/internal/metering"
	"github.com/astralink/server/internal/model"
	"github.com/astralink/server/internal/repo"
)

// replyTimeout bounds the opaque generation call; on expiry the send fails
// closed instead of blocking the request.
const replyTimeout = 5 * time.Second

var greetingPattern = regexp.MustCompile(`(?i)^(hi|hello|hey|how are you|how're you|how's it going)(\s|$)`)

// SendResult is the caller-facing outcome of a chat send.
type SendResult struct {
	Success        bool                `json:"success"`
	Reply          string              `json:"reply"`
	CreditRequired bool                `json:"creditRequired,omitempty"`
	Messages       []model.ChatMessage `json:"messages"`
	Meta           *metering.Meta      `json:"meta,omitempty"`
}

// Service orchestrates a chat send: availability gate, transcript, reply
// generation and timer metadata.
type Service struct {
	engine      *metering.Engine
	advisors    repo.AdvisorRepo
	transcripts TranscriptStore
	generator   ReplyGenerator
}

// NewService creates a chat service.
func NewService(engine *metering.Engine, advisors repo.AdvisorRepo, transcripts TranscriptStore, generator ReplyGenerator) *Service {
	return &Service{
		engine:      engine,
		advisors:    advisors,
		transcripts: transcripts,
		generator:   generator,
	}
}

// Send gates the message through the metering engine and, when approved,
// produces the advisor's reply. Denials are recorded in the transcript and
// returned with CreditRequired set; they are not errors. An error return
// means storage or generation failed and the user may resend.
func (s *Service) Send(ctx context.Context, user model.User, advisorID uuid.UUID, text string, now time.Time) (SendResult, error) {
	advisor, err := s.advisors.GetByID(ctx, advisorID)
	if err != nil {
		return SendResult{}, err
	}

	avail, err := s.engine.CheckAvailability(ctx, user.ID, advisorID, now)
	if err != nil {
		return SendResult{}, fmt.Errorf("availability check: %w", err)
	}

	if !avail.Available {
		denial := avail.Message
		if denial == "" {
			denial = metering.PaywallMessage
		}
		if err := s.append(ctx, user.ID, advisorID, "ai", denial, now); err != nil {
			return SendResult{}, err
		}
		msgs, err := s.transcripts.History(ctx, user.ID, advisorID)
		if err != nil {
			return SendResult{}, err
		}
		return SendResult{
			Success:        false,
			Reply:          denial,
			CreditRequired: true,
			Messages:       msgs,
		}, nil
	}

	if err := s.append(ctx, user.ID, advisorID, "user", text, now); err != nil {
		return SendResult{}, err
	}

	reply, err := s.reply(ctx, advisor, user.Username, text)
	if err != nil {
		return SendResult{}, fmt.Errorf("reply generation: %w", err)
	}

	if err := s.append(ctx, user.ID, advisorID, "ai", reply, now); err != nil {
		return SendResult{}, err
	}

	msgs, err := s.transcripts.History(ctx, user.ID, advisorID)
	if err != nil {
		return SendResult{}, err
	}

	meta := s.engine.TimerMetadata(ctx, user.ID, advisorID, avail.IsFree, now)
	return SendResult{
		Success:  true,
		Reply:    reply,
		Messages: msgs,
		Meta:     &meta,
	}, nil
}

// History returns the full conversation for the pair.
func (s *Service) History(ctx context.Context, userID, advisorID uuid.UUID) ([]model.ChatMessage, error) {
	return s.transcripts.History(ctx, userID, advisorID)
}

func (s *Service) reply(ctx context.Context, advisor model.Advisor, username, text string) (string, error) {
	if greetingPattern.MatchString(text) {
		return fmt.Sprintf("Hi %s, I'm delighted to connect with you as %s! How may I assist you today?", username, advisor.Name), nil
	}

	genCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	reply, err := s.generator.Reply(genCtx, advisor, username, text)
	if err != nil {
		log.Error().Err(err).Str("advisor", advisor.Name).Msg("reply generation failed")
		return "", err
	}
	return reply, nil
}

func (s *Service) append(ctx context.Context, userID, advisorID uuid.UUID, sender, text string, now time.Time) error {
	return s.transcripts.Append(ctx, userID, advisorID, model.ChatMessage{
		ID:        uuid.New(),
		Sender:    sender,
		Text:      text,
		Timestamp: now,
	})
}
