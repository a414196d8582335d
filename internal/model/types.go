package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents a user in the system. FreeTrialUsed is the global
// at-most-once trial authority: it is set exactly once across the user's
// lifetime, regardless of how many advisors they talk to.
type User struct {
	ID            uuid.UUID
	Email         string
	Username      string
	FreeTrialUsed bool
	CreatedAt     time.Time
}

// Wallet holds a user's prepaid credit balance (one credit = one paid
// minute). Credits never go negative; every decrement is conditional.
type Wallet struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Credits   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Advisor is an AI persona users chat with.
type Advisor struct {
	ID        uuid.UUID
	Name      string
	Specialty string
	Bio       string
	CreatedAt time.Time
}

// Advisor specialties.
const (
	SpecialtyAstrology  = "astrology"
	SpecialtyLove       = "love"
	SpecialtyNumerology = "numerology"
	SpecialtyTarot      = "tarot"
)

// Session tracks the metering state of one user–advisor pair. At most one
// non-archived session exists per pair; archived sessions are terminal and a
// fresh row is created on re-entry.
type Session struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	AdvisorID             uuid.UUID
	StartTime             time.Time
	TrialEndTime          time.Time
	RemainingTrialSeconds int
	LastChargeTime        time.Time
	PaidMode              bool
	PaidStartTime         *time.Time
	TrialConsumed         bool
	InitialCredits        *int
	Archived              bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Session status values reported to clients.
const (
	StatusNew                 = "new"
	StatusFree                = "free"
	StatusPaid                = "paid"
	StatusStopped             = "stopped"
	StatusInsufficientCredits = "insufficient_credits"
)

// SessionEvent is the sessionUpdate payload pushed to a user's room. Events
// are self-contained snapshots: a dropped or reordered event is safely
// superseded by the next one.
type SessionEvent struct {
	UserID            uuid.UUID `json:"userId"`
	PsychicID         uuid.UUID `json:"psychicId"`
	IsFree            bool      `json:"isFree"`
	RemainingFreeTime int       `json:"remainingFreeTime"`
	PaidTimer         int       `json:"paidTimer"`
	Credits           int       `json:"credits"`
	Status            string    `json:"status"`
	ShowFeedbackModal bool      `json:"showFeedbackModal"`
	FreeSessionUsed   bool      `json:"freeSessionUsed"`
}

// CreditsEvent is the creditsUpdate payload pushed after a wallet charge.
type CreditsEvent struct {
	UserID  uuid.UUID `json:"userId"`
	Credits int       `json:"credits"`
}

// Feedback is a user's rating of an advisor, solicited after a session ends
// (the showFeedbackModal flag in session events).
type Feedback struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	AdvisorID uuid.UUID
	Rating    int
	Message   string
	CreatedAt time.Time
}

// FeedbackEvent is the feedbackSubmitted payload pushed to a user's room.
type FeedbackEvent struct {
	UserID    uuid.UUID `json:"userId"`
	PsychicID uuid.UUID `json:"psychicId"`
	Rating    int       `json:"rating"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatMessage is a single transcript entry for a user–advisor conversation.
type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	Sender    string    `json:"sender"` // "user" or "ai"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
