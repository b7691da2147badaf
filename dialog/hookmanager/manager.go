package hookmanager

import (
	"context"
	"errors"
	"sync"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/craftable/logx"
)

// HookFunc handles one lifecycle hook. It may modify payload.State.
type HookFunc func(ctx context.Context, payload dialog.HookPayload) error

// Manager registra hooks por tipo y los ejecuta en orden de registro
type Manager struct {
	mu    sync.RWMutex
	hooks map[dialog.HookType][]HookFunc
}

var _ dialog.HookService = (*Manager)(nil)

func NewManager() *Manager {
	return &Manager{hooks: make(map[dialog.HookType][]HookFunc)}
}

func (m *Manager) Register(hook dialog.HookType, fn HookFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[hook] = append(m.hooks[hook], fn)
}

// ExecuteHook runs every hook registered for hook. All hooks run even when
// one fails; the errors are joined.
func (m *Manager) ExecuteHook(ctx context.Context, hook dialog.HookType, payload dialog.HookPayload) error {
	m.mu.RLock()
	fns := append([]HookFunc(nil), m.hooks[hook]...)
	m.mu.RUnlock()

	var errs []error
	for _, fn := range fns {
		if err := fn(ctx, payload); err != nil {
			logx.Error("hook %s failed for %s:%s: %v", hook, payload.BotID, payload.ConversationID, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of hooks registered for hook.
func (m *Manager) Count(hook dialog.HookType) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooks[hook])
}
