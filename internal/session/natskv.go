package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/daybook-ai/calendar-assistant/internal/model"
	"github.com/daybook-ai/calendar-assistant/pkg/logger"
	"github.com/daybook-ai/calendar-assistant/pkg/metrics"
)

// BucketName is the JetStream KV bucket holding sessions.
const BucketName = "SESSIONS"

// EnsureBucket creates the session bucket if it does not exist. The bucket
// TTL enforces the hard store expiry on every write.
func EnsureBucket(ctx context.Context, js jetstream.JetStream) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, BucketName)
	if err == nil {
		return kv, nil
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketName,
		Description: "Per-(user, chat) conversation state",
		TTL:         TTL,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("create session bucket: %w", err)
	}
	return kv, nil
}

// KVStore is the production Store backed by a NATS JetStream KV bucket.
type KVStore struct {
	kv     jetstream.KeyValue
	logger *logger.Logger
}

// NewKVStore creates a KV-backed session store.
func NewKVStore(kv jetstream.KeyValue, log *logger.Logger) *KVStore {
	return &KVStore{kv: kv, logger: log}
}

// encodeKey maps the logical key schema onto NATS KV's allowed key
// alphabet; ':' is not a legal subject token character.
func encodeKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}

func (s *KVStore) load(ctx context.Context, key string) (*model.Session, bool, error) {
	entry, err := s.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}

	var sess model.Session
	if err := json.Unmarshal(entry.Value(), &sess); err != nil {
		// A record this process cannot decode is as good as absent; drop it
		// so the conversation can restart cleanly.
		s.logger.Warn("dropping undecodable session record",
			zap.String("key", key), zap.Error(err))
		_ = s.kv.Delete(ctx, encodeKey(key))
		return nil, false, nil
	}
	return &sess, true, nil
}

// Get implements Store. Composite key first, legacy key as read-through
// fallback, lazy expiry on both.
func (s *KVStore) Get(ctx context.Context, userID, chatID string) (*model.Session, error) {
	now := time.Now()

	sess, found, err := s.load(ctx, CompositeKey(userID, chatID))
	if err != nil {
		return nil, err
	}
	if found {
		visible, expire := resolve(sess, chatID, false, now)
		if expire {
			metrics.SessionsExpired.Inc()
			_ = s.kv.Delete(ctx, encodeKey(CompositeKey(userID, chatID)))
		}
		if visible {
			return sess, nil
		}
		return nil, nil
	}

	sess, found, err = s.load(ctx, LegacyKey(userID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	visible, expire := resolve(sess, chatID, true, now)
	if expire {
		metrics.SessionsExpired.Inc()
		_ = s.kv.Delete(ctx, encodeKey(LegacyKey(userID)))
	}
	if visible {
		return sess, nil
	}
	return nil, nil
}

// Set implements Store. Writes always use the composite key and refresh the
// timestamp; the bucket TTL applies store-level expiry.
func (s *KVStore) Set(ctx context.Context, userID, chatID string, sess *model.Session) error {
	sess.ChatID = chatID
	sess.Timestamp = time.Now()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if _, err := s.kv.Put(ctx, encodeKey(CompositeKey(userID, chatID)), data); err != nil {
		return fmt.Errorf("kv put: %w", err)
	}
	return nil
}

// Clear implements Store, removing both key forms.
func (s *KVStore) Clear(ctx context.Context, userID, chatID string) error {
	if err := s.kv.Delete(ctx, encodeKey(CompositeKey(userID, chatID))); err != nil &&
		!errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete composite: %w", err)
	}
	if err := s.kv.Delete(ctx, encodeKey(LegacyKey(userID))); err != nil &&
		!errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete legacy: %w", err)
	}
	return nil
}
