package timeoutsched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/dialog/dialoginfra"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	errs    map[string]error
	fresh   map[string]bool
	handled []string
	resets  []string
}

func (h *fakeHandler) HandleExpired(_ context.Context, key kernel.ConversationKey) (*dialog.TurnResult, error) {
	h.handled = append(h.handled, key.ConversationID.String())
	if err := h.errs[key.ConversationID.String()]; err != nil {
		return nil, err
	}
	if h.fresh[key.ConversationID.String()] {
		return nil, nil
	}
	return &dialog.TurnResult{Status: dialog.TurnEnded}, nil
}

func (h *fakeHandler) Reset(_ context.Context, key kernel.ConversationKey) error {
	h.resets = append(h.resets, key.ConversationID.String())
	return nil
}

func seed(t *testing.T, repo dialog.StateRepository, conv string, expiresAt time.Time) {
	t.Helper()
	s := dialog.NewState("bot", kernel.ConversationID(conv))
	s.Context.CurrentFlow = "main.flow.json"
	s.Context.CurrentNode = "start"
	s.ExpiresAt = expiresAt
	require.NoError(t, repo.Save(context.Background(), s))
}

func TestSweep(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := dialoginfra.NewMemoryStateRepository()
	seed(t, repo, "ok", now.Add(-3*time.Minute))
	seed(t, repo, "lost", now.Add(-2*time.Minute))
	seed(t, repo, "broken", now.Add(-time.Minute))
	seed(t, repo, "answered", now.Add(-30*time.Second))
	seed(t, repo, "later", now.Add(time.Minute))

	handler := &fakeHandler{
		errs: map[string]error{
			"lost":   &dialog.TimeoutNodeNotFoundError{BotID: "bot", Flow: "main.flow.json", Node: "start"},
			"broken": errors.New("store down"),
		},
		// an event arrived between FindInactive and the lock
		fresh: map[string]bool{"answered": true},
	}

	s, err := NewScheduler(repo, handler, Config{})
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	stats := s.Sweep(context.Background())

	assert.Equal(t, Stats{Found: 4, Handled: 1, Skipped: 1, Reset: 1, Failures: 1}, stats)
	assert.Equal(t, []string{"ok", "lost", "broken", "answered"}, handler.handled)
	assert.Equal(t, []string{"lost"}, handler.resets)
}

func TestSweepBatchSize(t *testing.T) {
	now := time.Now()
	repo := dialoginfra.NewMemoryStateRepository()
	seed(t, repo, "a", now.Add(-2*time.Minute))
	seed(t, repo, "b", now.Add(-time.Minute))

	handler := &fakeHandler{}
	s, err := NewScheduler(repo, handler, Config{BatchSize: 1})
	require.NoError(t, err)

	stats := s.Sweep(context.Background())
	assert.Equal(t, 1, stats.Found)
	assert.Equal(t, []string{"a"}, handler.handled)
}

func TestInvalidSpec(t *testing.T) {
	_, err := NewScheduler(dialoginfra.NewMemoryStateRepository(), &fakeHandler{}, Config{Spec: "every now and then"})
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s, err := NewScheduler(dialoginfra.NewMemoryStateRepository(), &fakeHandler{}, Config{Spec: "@every 1h"})
	require.NoError(t, err)
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
