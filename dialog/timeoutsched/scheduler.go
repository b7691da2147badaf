package timeoutsched

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/Abraxas-365/craftable/errx"
	"github.com/robfig/cron/v3"
)

const defaultSpec = "@every 30s"

// TimeoutHandler runs the timeout turn of one conversation. HandleExpired
// returns a nil result when the conversation is no longer expired.
type TimeoutHandler interface {
	HandleExpired(ctx context.Context, key kernel.ConversationKey) (*dialog.TurnResult, error)
	Reset(ctx context.Context, key kernel.ConversationKey) error
}

// Config configuración del barrido
type Config struct {
	Spec      string // cron spec, default "@every 30s"
	BatchSize int    // conversations per sweep, default 100
}

// Scheduler barre conversaciones inactivas y dispara su turno de timeout
type Scheduler struct {
	states  dialog.StateRepository
	handler TimeoutHandler
	cfg     Config
	cron    *cron.Cron
	now     func() time.Time

	mu      sync.Mutex
	running bool
}

func NewScheduler(states dialog.StateRepository, handler TimeoutHandler, cfg Config) (*Scheduler, error) {
	if cfg.Spec == "" {
		cfg.Spec = defaultSpec
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	s := &Scheduler{
		states:  states,
		handler: handler,
		cfg:     cfg,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:     time.Now,
	}
	if _, err := s.cron.AddFunc(cfg.Spec, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, errx.Wrap(err, "invalid scheduler spec", errx.TypeValidation).WithDetail("spec", cfg.Spec)
	}
	return s, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		log.Println("⚠️  Timeout scheduler already running")
		return
	}
	s.running = true
	log.Printf("⏰ Starting timeout scheduler (%s)...", s.cfg.Spec)
	s.cron.Start()
}

// Stop waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	log.Println("⏹️  Timeout scheduler stopped")
}

// Stats of one sweep.
type Stats struct {
	Found    int
	Handled  int
	Skipped  int
	Reset    int
	Failures int
}

func (s Stats) String() string {
	return fmt.Sprintf("found=%d handled=%d skipped=%d reset=%d failures=%d", s.Found, s.Handled, s.Skipped, s.Reset, s.Failures)
}

// Sweep handles one batch of conversations whose ExpiresAt has passed.
// Conversations without a resolvable timeout destination are reset.
func (s *Scheduler) Sweep(ctx context.Context) Stats {
	var stats Stats

	keys, err := s.states.FindInactive(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		log.Printf("❌ Failed to fetch inactive conversations: %v", err)
		stats.Failures++
		return stats
	}
	stats.Found = len(keys)
	if len(keys) == 0 {
		return stats
	}
	log.Printf("⏰ Found %d inactive conversation(s)", len(keys))

	for _, key := range keys {
		result, err := s.handler.HandleExpired(ctx, key)
		switch {
		case err == nil && result == nil:
			stats.Skipped++
		case err == nil:
			stats.Handled++
		case dialog.IsTimeoutNodeNotFound(err):
			log.Printf("⚠️  No timeout destination for %s, resetting: %v", key, err)
			if err := s.handler.Reset(ctx, key); err != nil {
				log.Printf("❌ Failed to reset %s: %v", key, err)
				stats.Failures++
				continue
			}
			stats.Reset++
		case errx.IsType(err, errx.TypeNotFound):
			// deleted between FindInactive and the turn
		default:
			log.Printf("❌ Timeout turn failed for %s: %v", key, err)
			stats.Failures++
		}
	}

	log.Printf("✅ Timeout sweep done: %s", stats)
	return stats
}
