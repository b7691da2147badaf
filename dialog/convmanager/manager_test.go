package convmanager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/dialog/dialogexec"
	"github.com/Abraxas-365/convo/dialog/dialoginfra"
	"github.com/Abraxas-365/convo/dialog/flowstore"
	"github.com/Abraxas-365/convo/dialog/instrexec"
	"github.com/Abraxas-365/convo/dialog/promptexec"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/Abraxas-365/craftable/errx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetingFlow = `
startNode: start
timeoutNode: still_there
nodes:
  - name: start
    listen: true
    onEnter:
      - name: say
        params:
          text: "Hi! What's your name?"
    onReceive:
      - name: setVariable
        params:
          name: name
          value: "{{ event.text }}"
    next:
      - to: ask_age
  - name: ask_age
    type: prompt
    timeoutAfter: 2m
    prompt:
      type: number
      output: age
      question: How old are you?
    next:
      - condition: age >= 18
        to: adult
      - to: minor
  - name: adult
    onEnter:
      - name: say
        params:
          text: "Welcome {{ name }}"
    next:
      - to: END
  - name: minor
    onEnter:
      - name: say
        params:
          text: Sorry
    next:
      - to: END
  - name: still_there
    onEnter:
      - name: say
        params:
          text: Are you still there?
    next:
      - to: END
`

type fixture struct {
	manager      *Manager
	instructions *instrexec.Processor
	states  *dialoginfra.MemoryStateRepository
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bot"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bot", "main.flow.yaml"), []byte(greetingFlow), 0o644))

	flows := flowstore.NewRepository(dialoginfra.NewFileFlowSource(dir))
	instructions := instrexec.NewProcessor()
	engine := dialogexec.New(flows, instructions, promptexec.NewProcessor(promptexec.Config{}), dialogexec.Config{})
	states := dialoginfra.NewMemoryStateRepository()

	f := &fixture{
		manager:      NewManager(engine, flows, states, dialoginfra.NewMemoryLocker(), &Config{SessionTimeout: 10 * time.Minute}),
		instructions: instructions,
		states:       states,
		now:          time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.manager.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) send(t *testing.T, text string) *dialog.TurnResult {
	t.Helper()
	res, err := f.manager.HandleEvent(context.Background(), dialog.Event{BotID: "bot", ConversationID: "c1", Text: text})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	return res
}

func outputs(res *dialog.TurnResult) []string {
	var out []string
	for _, o := range res.Outputs {
		out = append(out, o.Text)
	}
	return out
}

var key = kernel.NewConversationKey("bot", "c1")

func TestConversationRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.send(t, "hello")
	assert.Equal(t, []string{"Hi! What's your name?"}, outputs(res))
	assert.Equal(t, dialog.TurnWaiting, res.Status)

	stored, err := f.states.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(10*time.Minute), stored.ExpiresAt)
	require.Len(t, stored.RecentEvents, 1)
	assert.NotEmpty(t, stored.RecentEvents[0].ID)

	res = f.send(t, "Ada")
	assert.Equal(t, []string{"How old are you?"}, outputs(res))

	stored, err = f.states.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "ask_age", stored.Context.CurrentNode)
	assert.Equal(t, f.now.Add(2*time.Minute), stored.ExpiresAt, "node timeout wins")

	res = f.send(t, "I am 42")
	assert.Equal(t, []string{"Welcome Ada"}, outputs(res))
	assert.Equal(t, dialog.TurnEnded, res.Status)

	stored, err = f.states.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, stored.Context.IsEmpty())
	assert.True(t, stored.ExpiresAt.IsZero())
	assert.Len(t, stored.RecentEvents, 3)
}

func TestHandleEventValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.HandleEvent(context.Background(), dialog.Event{Text: "hi"})
	assert.True(t, errx.IsType(err, errx.TypeValidation))
}

func TestHandleTimeout(t *testing.T) {
	f := newFixture(t)
	f.send(t, "hello")

	res, err := f.manager.HandleTimeout(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []string{"Are you still there?"}, outputs(res))
	assert.Equal(t, dialog.TurnEnded, res.Status)

	stored, err := f.states.Get(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, stored.ExpiresAt.IsZero())

	_, err = f.manager.HandleTimeout(context.Background(), kernel.NewConversationKey("bot", "unknown"))
	assert.True(t, errx.IsType(err, errx.TypeNotFound))
}

func TestHandleExpiredRechecksUnderLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, "hello")
	f.now = f.now.Add(11 * time.Minute)

	due, err := f.states.FindInactive(ctx, f.now, 10)
	require.NoError(t, err)
	assert.Equal(t, []kernel.ConversationKey{key}, due)

	// the user answers between the sweep query and the timeout turn
	f.send(t, "Ada")

	res, err := f.manager.HandleExpired(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, res)

	stored, err := f.states.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "ask_age", stored.Context.CurrentNode)
	assert.Equal(t, "Ada", stored.WorkflowVariables()["name"])
	assert.Equal(t, f.now.Add(2*time.Minute), stored.ExpiresAt)

	f.now = f.now.Add(3 * time.Minute)
	res, err = f.manager.HandleExpired(ctx, key)
	require.NoError(t, err)
	assert.NotNil(t, res, "expired once the prompt timeout passes")
}

func TestHandleExpiredSkipsIdleConversations(t *testing.T) {
	f := newFixture(t)
	f.send(t, "hello")
	f.send(t, "Ada")
	f.send(t, "20")

	res, err := f.manager.HandleExpired(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestTurnContextCarriesConversationKey(t *testing.T) {
	f := newFixture(t)
	var seen []kernel.ConversationKey
	f.instructions.Register("say", func(ctx context.Context, _ *dialog.Turn, _ map[string]any) (dialog.ProcessResult, error) {
		if k, ok := kernel.ConversationFrom(ctx); ok {
			seen = append(seen, k)
		}
		return dialog.ProcessResult{FollowUp: dialog.FollowUpNone}, nil
	})

	f.send(t, "hello")
	_, err := f.manager.HandleTimeout(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, []kernel.ConversationKey{key, key}, seen)
}

func TestJumpAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	state, err := f.manager.Jump(ctx, key, "main.flow.json", "ask_age")
	require.NoError(t, err)
	assert.Equal(t, "ask_age", state.Context.CurrentNode)

	got, err := f.manager.GetState(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "main.flow.json", got.Context.CurrentFlow)

	_, err = f.manager.Jump(ctx, key, "main.flow.json", "nowhere")
	assert.Error(t, err)

	require.NoError(t, f.manager.Reset(ctx, key))
	require.NoError(t, f.manager.Reset(ctx, key), "reset is idempotent")

	_, err = f.manager.GetState(ctx, key)
	assert.True(t, errx.IsType(err, errx.TypeNotFound))
}
