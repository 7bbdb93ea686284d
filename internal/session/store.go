// Package session stores per-(user, chat) conversation state with expiry.
//
// The primary key is a composite of user and chat ids. Conversations that
// began before composite keys existed were stored under the bare user id, so
// reads fall back to that legacy key on a composite miss; writes only ever
// use the composite key.
package session

import (
	"context"
	"time"

	"github.com/daybook-ai/calendar-assistant/internal/model"
)

// Timeout is the soft conversation timeout. Readers treat a record older
// than this as absent; there is no background sweep.
const Timeout = 10 * time.Minute

// TTL is the hard store-level expiry applied to every write, independent of
// the soft Timeout, so abandoned conversations cannot leak entries.
const TTL = time.Hour

// Store is the conversation state store. Operations are atomic per key but
// not transactional across keys; every Set is a full overwrite and callers
// do read-modify-write.
type Store interface {
	// Get returns the pending session, or nil if none. Expired and
	// foreign-chat legacy records are never returned.
	Get(ctx context.Context, userID, chatID string) (*model.Session, error)

	// Set replaces the session under the composite key, refreshing its
	// timestamp.
	Set(ctx context.Context, userID, chatID string, sess *model.Session) error

	// Clear deletes both the composite and the legacy key.
	Clear(ctx context.Context, userID, chatID string) error
}

// CompositeKey is the primary session key.
func CompositeKey(userID, chatID string) string {
	return "state:" + userID + ":" + chatID
}

// LegacyKey is the pre-composite fallback key, checked only on read miss.
func LegacyKey(userID string) string {
	return userID
}

// resolve applies the shared read policy to a raw record found under key:
// it decides whether the record is visible to a reader in chatID and whether
// the key should be deleted.
//
// A legacy record that belongs to a different chat is invisible but must not
// be deleted by this reader; only expiry of a record for our own chat (or a
// chat-less legacy record) triggers deletion.
func resolve(sess *model.Session, chatID string, legacy bool, now time.Time) (visible, expire bool) {
	if legacy && sess.ChatID != "" && sess.ChatID != chatID {
		return false, false
	}
	if sess.Age(now) > Timeout {
		return false, true
	}
	return true, false
}
