package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/daybook-ai/calendar-assistant/internal/llm"
	"github.com/daybook-ai/calendar-assistant/internal/model"
	"github.com/daybook-ai/calendar-assistant/pkg/logger"
	"github.com/daybook-ai/calendar-assistant/pkg/metrics"
)

// LLMClassifier classifies intents with a completion model emitting JSON.
type LLMClassifier struct {
	client   llm.Client
	model    string
	timezone *time.Location
	logger   *logger.Logger

	// now is swappable so tests can pin the reference time.
	now func() time.Time
}

// NewLLMClassifier creates a classifier over the given completion client.
// tz anchors relative-date resolution; nil means time.Local.
func NewLLMClassifier(client llm.Client, modelName string, tz *time.Location, log *logger.Logger) *LLMClassifier {
	if tz == nil {
		tz = time.Local
	}
	return &LLMClassifier{
		client:   client,
		model:    modelName,
		timezone: tz,
		logger:   log,
		now:      time.Now,
	}
}

// Classify implements Classifier. A response the model phrased badly
// degrades to IntentUnknown; only transport failures return an error.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (*model.Intent, error) {
	start := time.Now()
	ref := c.now().In(c.timezone)

	system := fmt.Sprintf("%s\n\n現在時間: %s", intentSystemPrompt, ref.Format(time.RFC3339))

	resp, err := c.client.Complete(ctx, &llm.CompletionRequest{
		Model:  c.model,
		System: system,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: text},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		metrics.ClassifierDuration.WithLabelValues(c.client.Name(), "error").
			Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("classify completion: %w", err)
	}
	metrics.ClassifierDuration.WithLabelValues(c.client.Name(), "success").
		Observe(time.Since(start).Seconds())

	intent, ok := parseIntent(resp.Content)
	if !ok {
		c.logger.Warn("classifier returned unparseable intent",
			zap.String("provider", c.client.Name()))
		return &model.Intent{Type: model.IntentUnknown}, nil
	}
	metrics.IntentsTotal.WithLabelValues(string(intent.Type)).Inc()
	return intent, nil
}

// parseIntent extracts the JSON object from model output, tolerating code
// fences and surrounding prose.
func parseIntent(content string) (*model.Intent, bool) {
	trimmed := strings.TrimSpace(content)
	if i := strings.Index(trimmed, "{"); i >= 0 {
		if j := strings.LastIndex(trimmed, "}"); j > i {
			trimmed = trimmed[i : j+1]
		}
	}

	var intent model.Intent
	if err := json.Unmarshal([]byte(trimmed), &intent); err != nil {
		return nil, false
	}

	switch intent.Type {
	case model.IntentCreateEvent, model.IntentQueryEvent, model.IntentUpdateEvent,
		model.IntentDeleteEvent, model.IntentCreateSchedule,
		model.IntentIncomplete, model.IntentUnknown:
	default:
		return nil, false
	}
	return &intent, true
}
