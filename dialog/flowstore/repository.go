package flowstore

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/Abraxas-365/craftable/logx"
	c "github.com/patrickmn/go-cache"
)

// Repository caches compiled flow sets per bot. Sets are immutable, so a
// reload swaps the cached pointer and running turns keep their snapshot.
type Repository struct {
	source dialog.FlowSource
	known  Known
	cache  *c.Cache
	ttl    time.Duration

	mu sync.Mutex
}

var _ dialog.FlowRepository = (*Repository)(nil)

type Option func(*Repository)

// WithTTL expires cached sets after ttl. The default is no expiration.
func WithTTL(ttl time.Duration) Option {
	return func(r *Repository) { r.ttl = ttl }
}

// WithKnown enables action and prompt type checks when compiling.
func WithKnown(known Known) Option {
	return func(r *Repository) { r.known = known }
}

func NewRepository(source dialog.FlowSource, opts ...Option) *Repository {
	r := &Repository{
		source: source,
		cache:  c.New(c.NoExpiration, 10*time.Minute),
		ttl:    c.NoExpiration,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) Flows(ctx context.Context, botID kernel.BotID) (*dialog.FlowSet, error) {
	if set, found := r.cache.Get(botID.String()); found {
		return set.(*dialog.FlowSet), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if set, found := r.cache.Get(botID.String()); found {
		return set.(*dialog.FlowSet), nil
	}
	return r.load(ctx, botID)
}

// Reload compiles the flows of botID again and replaces the cached set. A
// set that fails to compile leaves the previous one in place.
func (r *Repository) Reload(ctx context.Context, botID kernel.BotID) (*dialog.FlowSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx, botID)
}

func (r *Repository) Invalidate(botID kernel.BotID) {
	r.cache.Delete(botID.String())
}

// Cached returns the bots with a cached flow set.
func (r *Repository) Cached() []kernel.BotID {
	items := r.cache.Items()
	out := make([]kernel.BotID, 0, len(items))
	for k := range items {
		out = append(out, kernel.BotID(k))
	}
	return out
}

func (r *Repository) load(ctx context.Context, botID kernel.BotID) (*dialog.FlowSet, error) {
	flows, err := r.source.LoadAll(ctx, botID)
	if err != nil {
		return nil, dialog.ErrFlowSourceFailed().
			WithDetail("bot_id", botID.String()).
			WithCause(err)
	}
	if len(flows) == 0 {
		return nil, dialog.ErrFlowNotFound().WithDetail("bot_id", botID.String())
	}

	set, issues, err := Compile(botID, flows, r.known)
	if err != nil {
		logx.Error("flows of bot %s rejected: %v", botID, err)
		return nil, err
	}
	for _, issue := range issues {
		log.Printf("⚠️  %s %s", botID, issue)
	}

	r.cache.Set(botID.String(), set, r.ttl)
	logx.Info("📚 Loaded %d flows for bot %s", len(set.Flows), botID)
	return set, nil
}
