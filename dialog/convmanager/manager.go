package convmanager

import (
	"context"
	"log"
	"time"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/Abraxas-365/craftable/errx"
	"github.com/Abraxas-365/craftable/logx"
	"github.com/google/uuid"
)

// Config configuración del manejador de conversaciones
type Config struct {
	SessionTimeout    time.Duration // Default: 30 minutes
	RecentEventsLimit int           // Default: 10 events
}

// Manager is the host facing entry point. It serializes turns per
// conversation and owns the load/run/save cycle around the engine.
type Manager struct {
	engine dialog.Engine
	flows  dialog.FlowRepository
	states dialog.StateRepository
	locker dialog.Locker
	cfg    Config
	now    func() time.Time
}

var _ dialog.ConversationService = (*Manager)(nil)

func NewManager(
	engine dialog.Engine,
	flows dialog.FlowRepository,
	states dialog.StateRepository,
	locker dialog.Locker,
	cfg *Config,
) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 30 * time.Minute
	}
	if cfg.RecentEventsLimit == 0 {
		cfg.RecentEventsLimit = 10
	}

	return &Manager{
		engine: engine,
		flows:  flows,
		states: states,
		locker: locker,
		cfg:    *cfg,
		now:    time.Now,
	}
}

// HandleEvent runs one turn for event and persists the resulting state.
func (m *Manager) HandleEvent(ctx context.Context, event dialog.Event) (*dialog.TurnResult, error) {
	if event.BotID.IsEmpty() || event.ConversationID.IsEmpty() {
		return nil, dialog.ErrInvalidEvent().WithDetail("reason", "bot_id and conversation_id are required")
	}
	if event.ID.IsEmpty() {
		event.ID = kernel.NewEventID(uuid.New().String())
	}
	if event.Type == "" {
		event.Type = dialog.EventTypeText
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = m.now()
	}

	key := kernel.NewConversationKey(event.BotID, event.ConversationID)
	ctx = kernel.WithConversation(ctx, key)
	log.Printf("🚀 Processing event %s for conversation %s", event.ID, key)

	unlock, err := m.locker.Lock(ctx, key.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := m.loadOrNew(ctx, key)
	if err != nil {
		return nil, err
	}

	result, err := m.engine.ProcessEvent(ctx, state, event)
	if err != nil {
		return nil, err
	}

	result.State.RememberEvent(event, m.cfg.RecentEventsLimit)
	result.State.LastEventAt = event.CreatedAt
	if err := m.save(ctx, result.State); err != nil {
		return nil, err
	}

	log.Printf("✅ Turn %s for %s: %d outputs", result.Status, key, len(result.Outputs))
	return result, nil
}

// HandleTimeout runs the timeout turn of an inactive conversation.
// TimeoutNodeNotFoundError is returned unchanged so the caller can decide.
func (m *Manager) HandleTimeout(ctx context.Context, key kernel.ConversationKey) (*dialog.TurnResult, error) {
	return m.timeout(ctx, key, false)
}

// HandleExpired is HandleTimeout for sweepers: ExpiresAt is checked again
// under the conversation lock and a conversation that received an event
// since it was found is skipped with a nil result.
func (m *Manager) HandleExpired(ctx context.Context, key kernel.ConversationKey) (*dialog.TurnResult, error) {
	return m.timeout(ctx, key, true)
}

func (m *Manager) timeout(ctx context.Context, key kernel.ConversationKey, onlyExpired bool) (*dialog.TurnResult, error) {
	ctx = kernel.WithConversation(ctx, key)

	unlock, err := m.locker.Lock(ctx, key.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := m.states.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if onlyExpired && (state.ExpiresAt.IsZero() || state.ExpiresAt.After(now)) {
		logx.Debug("⏭️  Conversation %s no longer expired, skipping timeout", key)
		return nil, nil
	}

	event := dialog.Event{
		ID:             kernel.NewEventID(uuid.New().String()),
		BotID:          key.BotID,
		ConversationID: key.ConversationID,
		Type:           dialog.EventTypeTimeout,
		CreatedAt:      now,
	}

	log.Printf("⏰ Timeout turn for conversation %s", key)
	result, err := m.engine.ProcessTimeout(ctx, state, event)
	if err != nil {
		return nil, err
	}

	if err := m.save(ctx, result.State); err != nil {
		return nil, err
	}
	return result, nil
}

// Jump moves a conversation to flow/node without running a turn.
func (m *Manager) Jump(ctx context.Context, key kernel.ConversationKey, flow, node string) (*dialog.State, error) {
	ctx = kernel.WithConversation(ctx, key)
	unlock, err := m.locker.Lock(ctx, key.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := m.loadOrNew(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := m.engine.Jump(ctx, state, flow, node); err != nil {
		return nil, err
	}
	if err := m.save(ctx, state); err != nil {
		return nil, err
	}

	logx.Info("↪️  Conversation %s jumped to %s/%s", key, flow, state.Context.CurrentNode)
	return state, nil
}

func (m *Manager) GetState(ctx context.Context, key kernel.ConversationKey) (*dialog.State, error) {
	return m.states.Get(ctx, key)
}

// Reset borra el estado; resetting an unknown conversation is not an error.
func (m *Manager) Reset(ctx context.Context, key kernel.ConversationKey) error {
	unlock, err := m.locker.Lock(ctx, key.String())
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.states.Delete(ctx, key); err != nil && !errx.IsType(err, errx.TypeNotFound) {
		return err
	}
	logx.Info("🧹 Conversation %s reset", key)
	return nil
}

func (m *Manager) loadOrNew(ctx context.Context, key kernel.ConversationKey) (*dialog.State, error) {
	state, err := m.states.Get(ctx, key)
	if err == nil {
		return state, nil
	}
	if errx.IsType(err, errx.TypeNotFound) {
		return dialog.NewState(key.BotID, key.ConversationID), nil
	}
	return nil, errx.Wrap(err, "failed to load conversation state", errx.TypeInternal).
		WithDetail("conversation", key.String())
}

func (m *Manager) save(ctx context.Context, state *dialog.State) error {
	state.ExpiresAt = m.expiresAt(ctx, state)
	return m.states.Save(ctx, state)
}

// expiresAt is zero for idle conversations. Otherwise the current node's
// TimeoutAfter wins over the session timeout.
func (m *Manager) expiresAt(ctx context.Context, state *dialog.State) time.Time {
	if state.Context.IsEmpty() {
		return time.Time{}
	}

	timeout := m.cfg.SessionTimeout
	if flows, err := m.flows.Flows(ctx, state.BotID); err == nil {
		if f, ok := flows.Flow(state.Context.CurrentFlow); ok {
			if n, ok := f.Node(state.Context.CurrentNode); ok && n.TimeoutAfter > 0 {
				timeout = time.Duration(n.TimeoutAfter)
			}
		}
	}
	return m.now().Add(timeout)
}
