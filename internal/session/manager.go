package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dreamhome-assistant/internal/models"
	"dreamhome-assistant/internal/storage"
)

// Greeting seeds every fresh session.
const Greeting = "👋 Hi there! I am Kyuubi, your PhDreamHome AI Assistant. Let me help you today."

const (
	sessionsKey = "sessions"
	activeKey   = "active_session"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one named chat log. Archived sessions keep their messages
// verbatim until explicitly switched back to.
type Session struct {
	ID        string           `json:"id"`
	Messages  []models.Message `json:"messages"`
	StartedAt time.Time        `json:"startedAt"`
}

// Manager owns the persisted session list and the active-session pointer.
// The list is append-ordered by creation time and ids are unique within it.
type Manager struct {
	kv storage.KV
}

func NewManager(kv storage.KV) *Manager {
	return &Manager{kv: kv}
}

// Load returns the full session list plus the active session, creating a
// greeting-seeded session when none exists yet.
func (m *Manager) Load(ctx context.Context) ([]Session, *Session, error) {
	sessions, err := m.list(ctx)
	if err != nil {
		return nil, nil, err
	}

	activeID, err := m.kv.Get(ctx, activeKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("loading active session id: %w", err)
	}

	for i := range sessions {
		if sessions[i].ID == activeID {
			return sessions, &sessions[i], nil
		}
	}

	fresh := m.newSession(sessions)
	sessions = append(sessions, fresh)
	if err := m.persist(ctx, sessions, fresh.ID); err != nil {
		return nil, nil, err
	}
	return sessions, &sessions[len(sessions)-1], nil
}

// StartNew archives the active message log under its current id and makes
// a freshly seeded session active.
func (m *Manager) StartNew(ctx context.Context, current []models.Message) (*Session, error) {
	sessions, err := m.list(ctx)
	if err != nil {
		return nil, err
	}

	activeID, err := m.kv.Get(ctx, activeKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("loading active session id: %w", err)
	}

	if len(current) > 0 {
		archived := false
		for i := range sessions {
			if sessions[i].ID == activeID {
				sessions[i].Messages = current
				archived = true
				break
			}
		}
		if !archived {
			sessions = append(sessions, Session{
				ID:        m.generateID(sessions),
				Messages:  current,
				StartedAt: time.Now(),
			})
		}
	}

	fresh := m.newSession(sessions)
	sessions = append(sessions, fresh)
	if err := m.persist(ctx, sessions, fresh.ID); err != nil {
		return nil, err
	}
	return &fresh, nil
}

// SwitchTo makes a stored session active and returns its messages verbatim.
// The session being left is not touched; callers persist it beforehand via
// RecordMutation if they want its latest state kept.
func (m *Manager) SwitchTo(ctx context.Context, id string) (*Session, error) {
	sessions, err := m.list(ctx)
	if err != nil {
		return nil, err
	}

	for i := range sessions {
		if sessions[i].ID == id {
			if err := m.kv.Set(ctx, activeKey, id); err != nil {
				return nil, fmt.Errorf("saving active session id: %w", err)
			}
			return &sessions[i], nil
		}
	}
	return nil, ErrSessionNotFound
}

// RecordMutation updates the active session's stored messages in place,
// keeping its id and list position.
func (m *Manager) RecordMutation(ctx context.Context, messages []models.Message) error {
	sessions, err := m.list(ctx)
	if err != nil {
		return err
	}

	activeID, err := m.kv.Get(ctx, activeKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("loading active session id: %w", err)
	}

	for i := range sessions {
		if sessions[i].ID == activeID {
			sessions[i].Messages = messages
			return m.persist(ctx, sessions, activeID)
		}
	}
	return ErrSessionNotFound
}

func (m *Manager) list(ctx context.Context) ([]Session, error) {
	raw, err := m.kv.Get(ctx, sessionsKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading sessions: %w", err)
	}

	var sessions []Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		return nil, fmt.Errorf("decoding sessions: %w", err)
	}
	return sessions, nil
}

func (m *Manager) persist(ctx context.Context, sessions []Session, activeID string) error {
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encoding sessions: %w", err)
	}
	if err := m.kv.Set(ctx, sessionsKey, string(data)); err != nil {
		return fmt.Errorf("saving sessions: %w", err)
	}
	if err := m.kv.Set(ctx, activeKey, activeID); err != nil {
		return fmt.Errorf("saving active session id: %w", err)
	}
	return nil
}

func (m *Manager) newSession(existing []Session) Session {
	return Session{
		ID:        m.generateID(existing),
		Messages:  []models.Message{models.NewAssistantMessage(Greeting)},
		StartedAt: time.Now(),
	}
}

// generateID regenerates on the (unlikely) collision with an existing id so
// ids stay unique within the persisted list.
func (m *Manager) generateID(existing []Session) string {
	for {
		id := "session-" + uuid.New().String()
		taken := false
		for i := range existing {
			if existing[i].ID == id {
				taken = true
				break
			}
		}
		if !taken {
			return id
		}
	}
}
