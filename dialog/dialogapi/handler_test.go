package dialogapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/Abraxas-365/craftable/errx/errxfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConversations struct {
	lastEvent dialog.Event
	timeout   error
	resets    []kernel.ConversationKey
	states    map[kernel.ConversationKey]*dialog.State
}

func (f *fakeConversations) HandleEvent(_ context.Context, ev dialog.Event) (*dialog.TurnResult, error) {
	f.lastEvent = ev
	state := dialog.NewState(ev.BotID, ev.ConversationID)
	state.Context.CurrentFlow = "main.flow.json"
	state.Context.CurrentNode = "start"
	return &dialog.TurnResult{
		State:   state,
		Status:  dialog.TurnWaiting,
		Outputs: []dialog.Output{{Type: dialog.OutputSay, Text: "echo: " + ev.Text}},
	}, nil
}

func (f *fakeConversations) HandleTimeout(context.Context, kernel.ConversationKey) (*dialog.TurnResult, error) {
	if f.timeout != nil {
		return nil, f.timeout
	}
	return &dialog.TurnResult{Status: dialog.TurnEnded}, nil
}

func (f *fakeConversations) Jump(_ context.Context, key kernel.ConversationKey, flow, node string) (*dialog.State, error) {
	if node == "ghost" {
		return nil, &dialog.FlowError{Flow: flow, Node: node, Reason: "node not found"}
	}
	state := dialog.NewState(key.BotID, key.ConversationID)
	state.Context.CurrentFlow = flow
	state.Context.CurrentNode = node
	return state, nil
}

func (f *fakeConversations) GetState(_ context.Context, key kernel.ConversationKey) (*dialog.State, error) {
	if s, ok := f.states[key]; ok {
		return s, nil
	}
	return nil, dialog.ErrStateNotFound().WithDetail("conversation", key.String())
}

func (f *fakeConversations) Reset(_ context.Context, key kernel.ConversationKey) error {
	f.resets = append(f.resets, key)
	return nil
}

type fakeFlows struct {
	set         *dialog.FlowSet
	reloads     int
	invalidated []kernel.BotID
}

func (f *fakeFlows) Flows(context.Context, kernel.BotID) (*dialog.FlowSet, error) { return f.set, nil }

func (f *fakeFlows) Reload(context.Context, kernel.BotID) (*dialog.FlowSet, error) {
	f.reloads++
	return f.set, nil
}

func (f *fakeFlows) Invalidate(botID kernel.BotID) { f.invalidated = append(f.invalidated, botID) }

type fixedCounter int

func (c fixedCounter) CountActive(context.Context, kernel.BotID) (int, error) { return int(c), nil }

type apiFixture struct {
	app   *fiber.App
	convs *fakeConversations
	flows *fakeFlows
}

func newAPI(counter ActiveCounter) *apiFixture {
	f := &apiFixture{
		convs: &fakeConversations{states: map[kernel.ConversationKey]*dialog.State{}},
		flows: &fakeFlows{set: dialog.NewFlowSet("bot",
			dialog.Flow{Name: "main.flow.json", StartNode: "start", Nodes: []dialog.Node{{Name: "start"}}},
			dialog.Flow{Name: "main/billing.flow.json", StartNode: "ask", Nodes: []dialog.Node{{Name: "ask"}}},
		)},
	}
	f.app = fiber.New(fiber.Config{ErrorHandler: errxfiber.FiberErrorHandler()})
	NewDialogRoutes(NewDialogHandler(f.convs, f.flows, counter)).RegisterRoutes(f.app)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

const conv = "/api/v1/bots/bot/conversations/c1"

func TestPostEvent(t *testing.T) {
	f := newAPI(nil)

	status, body := f.do(t, http.MethodPost, conv+"/events", `{"text":"hola","elected":{"flow":"faq.flow.json","confidence":0.9}}`)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "waiting", body["status"])
	assert.Equal(t, "start", body["current_node"])
	outputs := body["outputs"].([]any)
	require.Len(t, outputs, 1)
	assert.Equal(t, "echo: hola", outputs[0].(map[string]any)["text"])

	assert.Equal(t, kernel.BotID("bot"), f.convs.lastEvent.BotID)
	assert.Equal(t, kernel.ConversationID("c1"), f.convs.lastEvent.ConversationID)
	require.NotNil(t, f.convs.lastEvent.Elected)
	assert.Equal(t, "faq.flow.json", f.convs.lastEvent.Elected.Flow)
}

func TestTimeoutEndpoint(t *testing.T) {
	f := newAPI(nil)

	status, body := f.do(t, http.MethodPost, conv+"/timeout", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ended", body["status"])

	f.convs.timeout = &dialog.TimeoutNodeNotFoundError{BotID: "bot", Flow: "main.flow.json", Node: "start"}
	status, _ = f.do(t, http.MethodPost, conv+"/timeout", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestJumpEndpoint(t *testing.T) {
	f := newAPI(nil)

	status, body := f.do(t, http.MethodPost, conv+"/jump", `{"flow":"main.flow.json","node":"start"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "start", body["context"].(map[string]any)["currentNode"])

	status, _ = f.do(t, http.MethodPost, conv+"/jump", `{"node":"start"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, conv+"/jump", `{"flow":"main.flow.json","node":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStateEndpoints(t *testing.T) {
	f := newAPI(nil)
	key := kernel.NewConversationKey("bot", "c1")

	status, _ := f.do(t, http.MethodGet, conv+"/state", "")
	assert.Equal(t, http.StatusNotFound, status)

	f.convs.states[key] = dialog.NewState("bot", "c1")
	status, body := f.do(t, http.MethodGet, conv+"/state", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "c1", body["conversation_id"])

	status, _ = f.do(t, http.MethodDelete, conv+"/state", "")
	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, []kernel.ConversationKey{key}, f.convs.resets)
}

func TestFlowEndpoints(t *testing.T) {
	f := newAPI(nil)

	status, body := f.do(t, http.MethodGet, "/api/v1/bots/bot/flows", "")
	require.Equal(t, http.StatusOK, status)
	assert.ElementsMatch(t, []any{"main.flow.json", "main/billing.flow.json"}, body["flows"])

	status, _ = f.do(t, http.MethodPost, "/api/v1/bots/bot/flows/reload", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, f.flows.reloads)

	status, _ = f.do(t, http.MethodDelete, "/api/v1/bots/bot/flows/cache", "")
	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, []kernel.BotID{"bot"}, f.flows.invalidated)
}

func TestStatsEndpoint(t *testing.T) {
	status, _ := newAPI(nil).do(t, http.MethodGet, "/api/v1/bots/bot/stats", "")
	assert.Equal(t, http.StatusNotImplemented, status)

	status, body := newAPI(fixedCounter(7)).do(t, http.MethodGet, "/api/v1/bots/bot/stats", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(7), body["active_conversations"])
}
