package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/pkg/config"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sayFlow = `{
  "startNode": "hello",
  "nodes": [
    {"name": "hello", "onEnter": [{"name": "say", "params": {"text": "%s"}}], "next": [{"to": "END"}]}
  ]
}`

func writeFlows(t *testing.T, botIDs ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, bot := range botIDs {
		dir := filepath.Join(root, bot)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "main.flow.json"), []byte(fmt.Sprintf(sayFlow, "main")), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "misunderstood.flow.json"), []byte(fmt.Sprintf(sayFlow, "what?")), 0o644))
	}
	return root
}

func newTestContainer(t *testing.T, dc func(*config.DialogConfig), bots ...string) *Container {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.FlowSource = config.FlowSourceConfig{Kind: config.FlowSourceFile, Root: writeFlows(t, bots...)}
	cfg.Dialog.StateBackend = config.StateBackendRedis
	cfg.Scheduler.Enabled = false
	dc(&cfg.Dialog)

	// never dialed: the engine does not touch state storage
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	t.Cleanup(func() { client.Close() })

	c, err := NewContainer(cfg, nil, client)
	require.NoError(t, err)
	return c
}

func startFlow(t *testing.T, c *Container, bot string) string {
	t.Helper()
	st := dialog.NewState(kernel.NewBotID(bot), "c1")
	res, err := c.Engine.ProcessEvent(context.Background(), st, dialog.Event{
		ID:             kernel.NewEventID("e1"),
		BotID:          kernel.NewBotID(bot),
		ConversationID: "c1",
		Type:           dialog.EventTypeText,
		Text:           "hi",
	})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	return res.State.Context.CurrentFlow
}

func TestContainerNDUConfig(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		c := newTestContainer(t, func(*config.DialogConfig) {}, "support")
		assert.Equal(t, "main.flow.json", startFlow(t, c, "support"))
	})

	t.Run("enabled for every bot", func(t *testing.T) {
		c := newTestContainer(t, func(dc *config.DialogConfig) { dc.NDUEnabled = true }, "support")
		assert.Equal(t, "misunderstood.flow.json", startFlow(t, c, "support"))
	})

	t.Run("enabled for listed bots", func(t *testing.T) {
		c := newTestContainer(t, func(dc *config.DialogConfig) { dc.NDUBots = []string{"sales"} }, "support", "sales")
		assert.Equal(t, "main.flow.json", startFlow(t, c, "support"))
		assert.Equal(t, "misunderstood.flow.json", startFlow(t, c, "sales"))
	})
}
