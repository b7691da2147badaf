package dialoginfra

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/Abraxas-365/craftable/errx"
	c "github.com/patrickmn/go-cache"
)

// MemoryStateRepository keeps states in process. States are stored as JSON
// so callers never share pointers with the store.
type MemoryStateRepository struct {
	cache *c.Cache
}

var _ dialog.StateRepository = (*MemoryStateRepository)(nil)

func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{cache: c.New(c.NoExpiration, 10*time.Minute)}
}

func (r *MemoryStateRepository) Get(_ context.Context, key kernel.ConversationKey) (*dialog.State, error) {
	item, found := r.cache.Get(key.String())
	if !found {
		return nil, dialog.ErrStateNotFound().WithDetail("conversation", key.String())
	}
	var state dialog.State
	if err := json.Unmarshal(item.([]byte), &state); err != nil {
		return nil, dialog.ErrStateCorrupted().WithDetail("conversation", key.String()).WithCause(err)
	}
	return &state, nil
}

func (r *MemoryStateRepository) Save(_ context.Context, state *dialog.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errx.Wrap(err, "failed to marshal conversation state", errx.TypeInternal)
	}
	r.cache.Set(state.Key().String(), data, c.NoExpiration)
	return nil
}

func (r *MemoryStateRepository) Delete(_ context.Context, key kernel.ConversationKey) error {
	if _, found := r.cache.Get(key.String()); !found {
		return dialog.ErrStateNotFound().WithDetail("conversation", key.String())
	}
	r.cache.Delete(key.String())
	return nil
}

func (r *MemoryStateRepository) FindInactive(ctx context.Context, now time.Time, limit int) ([]kernel.ConversationKey, error) {
	type expiring struct {
		key kernel.ConversationKey
		at  time.Time
	}
	var due []expiring
	for k := range r.cache.Items() {
		botID, convID, _ := strings.Cut(k, ":")
		state, err := r.Get(ctx, kernel.NewConversationKey(kernel.BotID(botID), kernel.ConversationID(convID)))
		if err != nil {
			continue
		}
		if !state.ExpiresAt.IsZero() && !state.ExpiresAt.After(now) {
			due = append(due, expiring{key: state.Key(), at: state.ExpiresAt})
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	keys := make([]kernel.ConversationKey, len(due))
	for i, d := range due {
		keys[i] = d.key
	}
	return keys, nil
}

// MemoryLocker holds one mutex per conversation. Locks are never reclaimed,
// which is fine for tests and single process tools.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

var _ dialog.Locker = (*MemoryLocker)(nil)

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]chan struct{})}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (dialog.Unlock, error) {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, dialog.ErrConversationLocked().WithDetail("conversation", key).WithCause(ctx.Err())
	}
}
