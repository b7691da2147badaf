package promptexec

import (
	"context"
	"testing"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/craftable/errx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func input(prompt dialog.ActivePrompt, text string) dialog.PromptInput {
	return dialog.PromptInput{
		Event:  dialog.Event{ID: "evt", Type: dialog.EventTypeText, Text: text},
		Prompt: prompt,
		Flow:   &dialog.Flow{Name: "main.flow.json"},
		Node:   &dialog.Node{Name: prompt.Node},
	}
}

func pending(cfg dialog.PromptConfig, turn int) dialog.ActivePrompt {
	return dialog.ActivePrompt{
		Node:   "ask",
		Stage:  dialog.PromptStageNew,
		Status: dialog.PromptStatusPending,
		State:  map[string]any{},
		Turn:   turn,
		Config: cfg,
	}
}

func sayTexts(res dialog.PromptResult) []string {
	var out []string
	for _, a := range res.Actions {
		if a.Type == dialog.PromptActionSay {
			out = append(out, a.Text)
		}
	}
	return out
}

func TestFirstTurnAsksQuestion(t *testing.T) {
	p := NewProcessor(Config{})
	cfg := dialog.PromptConfig{Type: "number", Output: "guests", Question: "How many guests?"}

	res, err := p.ProcessPrompt(context.Background(), input(pending(cfg, 0), "book a table for 4"))

	require.NoError(t, err)
	assert.Equal(t, dialog.PromptStatusPending, res.Prompt.Status)
	assert.Equal(t, []string{"How many guests?"}, sayTexts(res))
	assert.Equal(t, dialog.PromptActionListen, res.Actions[len(res.Actions)-1].Type)
}

func TestFirstTurnSearchesHistory(t *testing.T) {
	p := NewProcessor(Config{})
	cfg := dialog.PromptConfig{Type: "number", Output: "guests", Question: "How many guests?", SearchHistory: true}
	in := input(pending(cfg, 0), "book a table")
	in.PriorEvents = []dialog.Event{{Text: "we are 6"}, {Text: "no, 5 people"}}

	res, err := p.ProcessPrompt(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, dialog.PromptStatusResolved, res.Prompt.Status)
	assert.Equal(t, 5.0, res.Prompt.Value, "newest prior event wins")
}

func TestExtractionByType(t *testing.T) {
	tests := []struct {
		name   string
		cfg    dialog.PromptConfig
		text   string
		want   any
		reject bool
	}{
		{"text", dialog.PromptConfig{Type: "text"}, "  Ada Lovelace ", "Ada Lovelace", false},
		{"number", dialog.PromptConfig{Type: "number"}, "about 3,5 kg", 3.5, false},
		{"number out of range", dialog.PromptConfig{Type: "number", Params: map[string]any{"max": 10}}, "12", nil, true},
		{"boolean yes", dialog.PromptConfig{Type: "boolean"}, "Yes!", true, false},
		{"boolean no", dialog.PromptConfig{Type: "boolean"}, "nope", false, false},
		{"choice exact", dialog.PromptConfig{Type: "choice", Params: map[string]any{"choices": []string{"Red", "Blue"}}}, "blue", "Blue", false},
		{"choice inside sentence", dialog.PromptConfig{Type: "choice", Params: map[string]any{"choices": []any{"Red", "Blue"}}}, "I think red please", "Red", false},
		{"regex group", dialog.PromptConfig{Type: "regex", Params: map[string]any{"pattern": `order #(\d+)`}}, "it's order #4411", "4411", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewProcessor(Config{})
			tc.cfg.MaxRetries = 1

			res, err := p.ProcessPrompt(context.Background(), input(pending(tc.cfg, 1), tc.text))
			require.NoError(t, err)

			if tc.reject {
				assert.Equal(t, dialog.PromptStatusRejected, res.Prompt.Status)
				return
			}
			assert.Equal(t, dialog.PromptStatusResolved, res.Prompt.Status)
			assert.Equal(t, tc.want, res.Prompt.Value)
		})
	}
}

func TestRetriesThenMaxTries(t *testing.T) {
	p := NewProcessor(Config{})
	cfg := dialog.PromptConfig{Type: "number", Question: "How many?", RetryMessage: "A number please", MaxRetries: 2}
	prompt := pending(cfg, 1)

	res, err := p.ProcessPrompt(context.Background(), input(prompt, "lots"))
	require.NoError(t, err)
	assert.Equal(t, dialog.PromptStatusPending, res.Prompt.Status)
	assert.Equal(t, []string{"A number please"}, sayTexts(res))

	// the retry counter survives the JSON round trip as a float
	res.Prompt.State[stateRetries] = float64(1)
	res, err = p.ProcessPrompt(context.Background(), input(res.Prompt, "many"))
	require.NoError(t, err)
	assert.Equal(t, dialog.PromptStatusRejected, res.Prompt.Status)
	assert.Equal(t, dialog.RejectMaxTries, res.Prompt.Rejection)
}

func TestCancelKeyword(t *testing.T) {
	p := NewProcessor(Config{})
	res, err := p.ProcessPrompt(context.Background(), input(pending(dialog.PromptConfig{Type: "text"}, 1), "Cancel"))

	require.NoError(t, err)
	assert.Equal(t, dialog.RejectCancelled, res.Prompt.Rejection)
	assert.Contains(t, res.Actions, dialog.PromptAction{Type: dialog.PromptActionCancel})
}

func TestTimedOut(t *testing.T) {
	p := NewProcessor(Config{})
	prompt := pending(dialog.PromptConfig{Type: "text"}, 1)
	prompt.TimedOut = true

	res, err := p.ProcessPrompt(context.Background(), input(prompt, ""))

	require.NoError(t, err)
	assert.Equal(t, dialog.PromptStatusRejected, res.Prompt.Status)
	assert.Equal(t, dialog.RejectTimedOut, res.Prompt.Rejection)
}

func TestConfirmJump(t *testing.T) {
	cfg := dialog.PromptConfig{Type: "text", Question: "Your name?", ConfirmJumpMessage: "Leave this form?"}
	elected := func(text string, prompt dialog.ActivePrompt) dialog.PromptInput {
		in := input(prompt, text)
		in.Event.Elected = &dialog.ElectedTrigger{Flow: "billing.flow.json", Confidence: 0.9}
		return in
	}

	t.Run("confirmed", func(t *testing.T) {
		p := NewProcessor(Config{MinJumpConfidence: 0.5})

		res, err := p.ProcessPrompt(context.Background(), elected("I want to pay my bill", pending(cfg, 1)))
		require.NoError(t, err)
		assert.Equal(t, dialog.PromptStageConfirmJump, res.Prompt.Stage)
		assert.Equal(t, []string{"Leave this form?"}, sayTexts(res))
		require.NotNil(t, res.Prompt.JumpTo)

		res.Prompt.Turn++
		res, err = p.ProcessPrompt(context.Background(), input(res.Prompt, "yes"))
		require.NoError(t, err)
		assert.Equal(t, dialog.RejectJumped, res.Prompt.Rejection)
		assert.Equal(t, "billing.flow.json", res.Prompt.JumpTo.Flow)
	})

	t.Run("declined", func(t *testing.T) {
		p := NewProcessor(Config{})

		res, err := p.ProcessPrompt(context.Background(), elected("pay bill", pending(cfg, 1)))
		require.NoError(t, err)

		res, err = p.ProcessPrompt(context.Background(), input(res.Prompt, "no"))
		require.NoError(t, err)
		assert.Equal(t, dialog.PromptStageNew, res.Prompt.Stage)
		assert.Nil(t, res.Prompt.JumpTo)
		assert.Equal(t, []string{"Your name?"}, sayTexts(res))
	})

	t.Run("low confidence is an answer", func(t *testing.T) {
		p := NewProcessor(Config{MinJumpConfidence: 0.95})

		res, err := p.ProcessPrompt(context.Background(), elected("Ada", pending(cfg, 1)))
		require.NoError(t, err)
		assert.Equal(t, dialog.PromptStatusResolved, res.Prompt.Status)
	})

	t.Run("no confirmation message jumps at once", func(t *testing.T) {
		p := NewProcessor(Config{})
		noConfirm := cfg
		noConfirm.ConfirmJumpMessage = ""

		res, err := p.ProcessPrompt(context.Background(), elected("pay bill", pending(noConfirm, 1)))
		require.NoError(t, err)
		assert.Equal(t, dialog.RejectJumped, res.Prompt.Rejection)
	})
}

func TestUnknownPromptType(t *testing.T) {
	p := NewProcessor(Config{})

	_, err := p.ProcessPrompt(context.Background(), input(pending(dialog.PromptConfig{Type: "date"}, 0), ""))

	assert.True(t, errx.IsType(err, errx.TypeNotFound))

	p.Register("date", extractText)
	assert.True(t, p.Has("date"))
}
