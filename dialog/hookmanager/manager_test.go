package hookmanager

import (
	"context"
	"errors"
	"testing"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteHookRunsAllInOrder(t *testing.T) {
	m := NewManager()
	var calls []string

	m.Register(dialog.HookBeforeSessionTimeout, func(_ context.Context, p dialog.HookPayload) error {
		calls = append(calls, "first")
		p.State.Variables["warned"] = true
		return errors.New("boom")
	})
	m.Register(dialog.HookBeforeSessionTimeout, func(context.Context, dialog.HookPayload) error {
		calls = append(calls, "second")
		return nil
	})

	state := dialog.NewState("bot", "c1")
	err := m.ExecuteHook(context.Background(), dialog.HookBeforeSessionTimeout, dialog.HookPayload{
		BotID:          "bot",
		ConversationID: "c1",
		State:          state,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, true, state.Variables["warned"])
	assert.Equal(t, 2, m.Count(dialog.HookBeforeSessionTimeout))
}

func TestExecuteHookWithoutHandlers(t *testing.T) {
	err := NewManager().ExecuteHook(context.Background(), dialog.HookBeforeSessionTimeout, dialog.HookPayload{})
	assert.NoError(t, err)
}
