package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	stderrors "errors"

	"github.com/rushadaev/dj-connect-back/internal/infrastructure/redis"
)

// sessionTTL keeps half-finished dialogs from lingering: an abandoned
// price-entry or timeslot prompt expires after five minutes.
const sessionTTL = 5 * time.Minute

type Step string

const (
	StepAwaitingPrice          Step = "awaiting_price"
	StepAwaitingMessage        Step = "awaiting_message"
	StepAwaitingTimeslot       Step = "awaiting_timeslot"
	StepAwaitingDeclineMessage Step = "awaiting_decline_message"
	StepChoosingTrack          Step = "choosing_track"
)

// Session is the per-chat dialog state between two webhook deliveries.
type Session struct {
	Step    Step   `json:"step"`
	OrderID int64  `json:"order_id,omitempty"`
	DJID    int64  `json:"dj_id,omitempty"`
	Price   string `json:"price,omitempty"`
}

type SessionStore struct {
	redis redis.RedisClient
}

func NewSessionStore(redisClient redis.RedisClient) *SessionStore {
	return &SessionStore{redis: redisClient}
}

func sessionKey(botName string, chatID int64) string {
	return fmt.Sprintf("bot:%s:session:%d", botName, chatID)
}

// Get returns the active session for the chat, or nil when there is none.
func (s *SessionStore) Get(ctx context.Context, botName string, chatID int64) (*Session, error) {
	raw, err := s.redis.Get(ctx, sessionKey(botName, chatID))
	if stderrors.Is(err, redis.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

func (s *SessionStore) Put(ctx context.Context, botName string, chatID int64, session *Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return s.redis.Set(ctx, sessionKey(botName, chatID), payload, sessionTTL)
}

func (s *SessionStore) Clear(ctx context.Context, botName string, chatID int64) error {
	return s.redis.Del(ctx, sessionKey(botName, chatID))
}
