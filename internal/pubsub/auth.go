package pubsub

import (
	"context"
	"strconv"
)

// TopicUserAuthInvalidated is keyed by user id and fires when a session of
// that user is superseded by a newer authentication.
const TopicUserAuthInvalidated Topic = "user_auth_invalidated"

// AuthInvalidated is published on TopicUserAuthInvalidated.
type AuthInvalidated struct {
	SessionID int64 `json:"sessionId"`
}

// PublishAuthInvalidated announces that sessionID of userID is no longer valid.
func PublishAuthInvalidated(ctx context.Context, b *Bus, userID, sessionID int64) error {
	return b.Publish(ctx, TopicUserAuthInvalidated, strconv.FormatInt(userID, 10), AuthInvalidated{SessionID: sessionID})
}

// OnAuthInvalidated subscribes fn to invalidations of any session of userID.
func OnAuthInvalidated(ctx context.Context, b *Bus, userID int64, fn func(AuthInvalidated)) (*Subscription, error) {
	return On(ctx, b, TopicUserAuthInvalidated, strconv.FormatInt(userID, 10), fn)
}
