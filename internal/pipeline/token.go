package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/meishi-bot/meishi/internal/card"
)

// Token validation errors.
var (
	ErrTokenChannelMissing = errors.New("invalid token: channelId is missing")
	ErrTokenThreadMissing  = errors.New("invalid token: threadTs is missing")
)

// ActionToken is the self-contained bundle handed to the UI when a
// write is withheld. It is the only state carried between the batch
// request and the later confirmation; the server keeps no pending
// table. The UI returns it verbatim when the human confirms.
type ActionToken struct {
	Data      card.Record `json:"data"`
	ChannelID string      `json:"channelId"`
	ThreadTS  string      `json:"threadTs"`
}

// NewActionToken bundles a withheld record with its reply routing.
func NewActionToken(rec card.Record, channelID, threadTS string) ActionToken {
	return ActionToken{Data: rec, ChannelID: channelID, ThreadTS: threadTS}
}

// Validate checks the routing fields a confirmation needs. A token
// failing here must be rejected before any write is attempted.
func (t *ActionToken) Validate() error {
	if t.ChannelID == "" {
		return ErrTokenChannelMissing
	}
	if t.ThreadTS == "" {
		return ErrTokenThreadMissing
	}
	return nil
}

// Encode serializes the token for embedding in a UI control value.
func (t ActionToken) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode action token: %w", err)
	}
	return string(data), nil
}

// ParseActionToken deserializes a token returned by the UI.
func ParseActionToken(value string) (*ActionToken, error) {
	var t ActionToken
	if err := json.Unmarshal([]byte(value), &t); err != nil {
		return nil, fmt.Errorf("failed to parse action token: %w", err)
	}
	return &t, nil
}
