// Package classifier turns raw user text into typed intents.
package classifier

import (
	"context"

	"github.com/daybook-ai/calendar-assistant/internal/model"
)

// Classifier extracts a typed intent from one user message. It is treated
// as an opaque function by the dispatcher; errors are transient failures,
// not bad input. Unintelligible text yields IntentUnknown, not an error.
type Classifier interface {
	Classify(ctx context.Context, text string) (*model.Intent, error)
}
