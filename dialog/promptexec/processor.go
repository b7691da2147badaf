package promptexec

import (
	"context"
	"strings"
	"sync"

	"github.com/Abraxas-365/convo/dialog"
)

const (
	// DefaultMaxRetries applies when a prompt does not set MaxRetries.
	DefaultMaxRetries = 3

	stateRetries = "retries"
)

var DefaultCancelKeywords = []string{"cancel", "cancelar", "stop"}

// Config configuración del procesador de prompts
type Config struct {
	CancelKeywords []string
	// MinJumpConfidence is the confidence an elected trigger needs to offer
	// leaving the prompt.
	MinJumpConfidence float64
	// DefaultConfirm is asked when a prompt has no ConfirmJumpMessage. With
	// both empty the prompt leaves without asking.
	DefaultConfirm string
}

// Processor is the default prompt sub-machine.
type Processor struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
	cfg        Config
}

var _ dialog.PromptProcessor = (*Processor)(nil)

func NewProcessor(cfg Config) *Processor {
	if len(cfg.CancelKeywords) == 0 {
		cfg.CancelKeywords = DefaultCancelKeywords
	}
	p := &Processor{
		extractors: map[string]Extractor{
			"text":    extractText,
			"number":  extractNumber,
			"boolean": extractBoolean,
			"choice":  extractChoice,
			"regex":   extractRegex,
		},
		cfg: cfg,
	}
	return p
}

// Register adds a prompt type.
func (p *Processor) Register(promptType string, fn Extractor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extractors[promptType] = fn
}

// Has reports whether a prompt type is registered.
func (p *Processor) Has(promptType string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.extractors[promptType]
	return ok
}

func (p *Processor) ProcessPrompt(ctx context.Context, in dialog.PromptInput) (dialog.PromptResult, error) {
	prompt := in.Prompt
	if prompt.State == nil {
		prompt.State = map[string]any{}
	}
	cfg := prompt.Config

	p.mu.RLock()
	extract, ok := p.extractors[cfg.Type]
	p.mu.RUnlock()
	if !ok {
		return dialog.PromptResult{}, dialog.ErrPromptTypeNotFound().WithDetail("type", cfg.Type)
	}

	if prompt.TimedOut {
		return reject(prompt, dialog.RejectTimedOut), nil
	}

	if prompt.Stage == dialog.PromptStageConfirmJump {
		return p.confirmJump(prompt, in.Event)
	}

	if prompt.Turn == 0 {
		if cfg.SearchHistory {
			for _, ev := range candidates(in) {
				value, found, err := extract(ev, cfg.Params)
				if err != nil {
					return dialog.PromptResult{}, dialog.ErrInvalidFlowDefinition().WithDetail("prompt", in.Prompt.Node).WithCause(err)
				}
				if found {
					return resolve(prompt, value), nil
				}
			}
		}
		return ask(prompt, cfg.Question), nil
	}

	if p.isCancel(in.Event) {
		res := reject(prompt, dialog.RejectCancelled)
		res.Actions = append(res.Actions, dialog.PromptAction{Type: dialog.PromptActionCancel})
		return res, nil
	}

	if target := p.electedElsewhere(in); target != nil {
		prompt.JumpTo = target
		if cfg.ConfirmJumpMessage == "" && p.cfg.DefaultConfirm == "" {
			return reject(prompt, dialog.RejectJumped), nil
		}
		prompt.Stage = dialog.PromptStageConfirmJump
		return ask(prompt, firstNonEmpty(cfg.ConfirmJumpMessage, p.cfg.DefaultConfirm)), nil
	}

	value, found, err := extract(in.Event, cfg.Params)
	if err != nil {
		return dialog.PromptResult{}, dialog.ErrInvalidFlowDefinition().WithDetail("prompt", in.Prompt.Node).WithCause(err)
	}
	if found {
		return resolve(prompt, value), nil
	}

	retries := toInt(prompt.State[stateRetries]) + 1
	prompt.State[stateRetries] = retries
	limit := cfg.MaxRetries
	if limit == 0 {
		limit = DefaultMaxRetries
	}
	if retries >= limit {
		return reject(prompt, dialog.RejectMaxTries), nil
	}
	return ask(prompt, firstNonEmpty(cfg.RetryMessage, cfg.Question)), nil
}

// confirmJump handles the answer to "do you want to leave?".
func (p *Processor) confirmJump(prompt dialog.ActivePrompt, event dialog.Event) (dialog.PromptResult, error) {
	answer, found, _ := extractBoolean(event, nil)
	if !found {
		return ask(prompt, firstNonEmpty(prompt.Config.ConfirmJumpMessage, p.cfg.DefaultConfirm)), nil
	}
	if answer.(bool) {
		return reject(prompt, dialog.RejectJumped), nil
	}
	prompt.Stage = dialog.PromptStageNew
	prompt.JumpTo = nil
	return ask(prompt, prompt.Config.Question), nil
}

// electedElsewhere returns the elected trigger when it points outside the
// prompt node.
func (p *Processor) electedElsewhere(in dialog.PromptInput) *dialog.JumpTarget {
	el := in.Event.Elected
	if el == nil || el.Flow == "" || el.Confidence < p.cfg.MinJumpConfidence {
		return nil
	}
	if in.Flow != nil && el.Flow == in.Flow.Name && (el.Node == "" || el.Node == in.Prompt.Node) {
		return nil
	}
	return &dialog.JumpTarget{Flow: el.Flow, Node: el.Node}
}

func (p *Processor) isCancel(event dialog.Event) bool {
	text := normalize(event.Text)
	for _, kw := range p.cfg.CancelKeywords {
		if text == normalize(kw) {
			return true
		}
	}
	return false
}

// candidates returns the current event then prior events, newest first.
func candidates(in dialog.PromptInput) []dialog.Event {
	out := []dialog.Event{in.Event}
	for i := len(in.PriorEvents) - 1; i >= 0; i-- {
		out = append(out, in.PriorEvents[i])
	}
	return out
}

func ask(prompt dialog.ActivePrompt, text string) dialog.PromptResult {
	prompt.Status = dialog.PromptStatusPending
	var actions []dialog.PromptAction
	if strings.TrimSpace(text) != "" {
		actions = append(actions, dialog.PromptAction{Type: dialog.PromptActionSay, Text: text})
	}
	actions = append(actions, dialog.PromptAction{Type: dialog.PromptActionListen})
	return dialog.PromptResult{Prompt: prompt, Actions: actions}
}

func resolve(prompt dialog.ActivePrompt, value any) dialog.PromptResult {
	prompt.Status = dialog.PromptStatusResolved
	prompt.Value = value
	return dialog.PromptResult{Prompt: prompt}
}

func reject(prompt dialog.ActivePrompt, reason dialog.RejectionReason) dialog.PromptResult {
	prompt.Status = dialog.PromptStatusRejected
	prompt.Rejection = reason
	return dialog.PromptResult{Prompt: prompt}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// toInt reads counters that may have gone through JSON.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
