package chat

import (
	"context"
	"fmt"

	"github.com/astralink/server/internal/model"
)

// ReplyGenerator produces the advisor's answer to a user message. The real
// implementation wraps a third-party completion API; it is consumed here as
// an opaque capability behind a short timeout.
type ReplyGenerator interface {
	Reply(ctx context.Context, advisor model.Advisor, username, message string) (string, error)
}

// CannedGenerator is a deterministic stand-in generator used in development
// and tests.
type CannedGenerator struct{}

func (CannedGenerator) Reply(ctx context.Context, advisor model.Advisor, username, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch advisor.Specialty {
	case model.SpecialtyAstrology:
		return fmt.Sprintf("%s, the stars have been waiting for this question. Let us look at your chart together.", username), nil
	case model.SpecialtyLove:
		return fmt.Sprintf("%s, matters of the heart deserve patience. Tell me more about what you feel.", username), nil
	case model.SpecialtyNumerology:
		return fmt.Sprintf("%s, the numbers around you carry a pattern worth reading closely.", username), nil
	case model.SpecialtyTarot:
		return fmt.Sprintf("%s, I have drawn a card for you. Its meaning depends on what you seek.", username), nil
	default:
		return fmt.Sprintf("%s, I sense there is more behind your question.", username), nil
	}
}
