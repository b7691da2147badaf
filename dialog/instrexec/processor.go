package instrexec

import (
	"context"
	"sort"
	"sync"

	"github.com/Abraxas-365/convo/dialog"
)

// ActionFunc runs one action. params are already rendered.
type ActionFunc func(ctx context.Context, turn *dialog.Turn, params map[string]any) (dialog.ProcessResult, error)

// Processor ejecuta instrucciones de nodo
type Processor struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc
	eval    *Evaluator
}

var _ dialog.InstructionProcessor = (*Processor)(nil)

// NewProcessor returns a processor with the built-in actions registered.
func NewProcessor() *Processor {
	p := &Processor{
		actions: make(map[string]ActionFunc),
		eval:    NewEvaluator(),
	}
	p.registerBuiltins()
	return p
}

// Register adds or replaces an action.
func (p *Processor) Register(name string, fn ActionFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions[name] = fn
}

// Has reports whether an action is registered.
func (p *Processor) Has(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.actions[name]
	return ok
}

// Actions lists registered action names, sorted.
func (p *Processor) Actions() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.actions))
	for name := range p.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Processor) Process(ctx context.Context, turn *dialog.Turn, in dialog.Instruction) (dialog.ProcessResult, error) {
	switch in.Type {
	case dialog.InstructionWait:
		return dialog.ProcessResult{FollowUp: dialog.FollowUpWait}, nil

	case dialog.InstructionTransition:
		ok, err := p.eval.Condition(in.Condition, Env(turn))
		if err != nil {
			return dialog.ProcessResult{}, dialog.ErrInvalidCondition().
				WithDetail("condition", in.Condition).
				WithCause(err)
		}
		if !ok {
			return dialog.ProcessResult{FollowUp: dialog.FollowUpNone}, nil
		}
		return dialog.ProcessResult{FollowUp: dialog.FollowUpTransition}, nil

	default:
		if in.Action == nil {
			return dialog.ProcessResult{FollowUp: dialog.FollowUpNone}, nil
		}
		return p.runAction(ctx, turn, *in.Action)
	}
}

func (p *Processor) runAction(ctx context.Context, turn *dialog.Turn, action dialog.Action) (dialog.ProcessResult, error) {
	p.mu.RLock()
	fn, ok := p.actions[action.Name]
	p.mu.RUnlock()
	if !ok {
		return dialog.ProcessResult{}, dialog.ErrActionNotFound().WithDetail("action", action.Name)
	}

	params, err := p.eval.RenderParams(action.Params, Env(turn))
	if err != nil {
		return dialog.ProcessResult{}, dialog.ErrInvalidActionParams().
			WithDetail("action", action.Name).
			WithCause(err)
	}
	return fn(ctx, turn, params)
}

// Env is the evaluation environment of a turn. Workflow variables and temp
// flags are also exposed at the top level, temp flags winning.
func Env(turn *dialog.Turn) map[string]any {
	st := turn.State
	vars := st.WorkflowVariables()

	env := make(map[string]any, len(vars)+len(st.Temp)+7)
	for k, v := range vars {
		env[k] = v
	}
	for k, v := range st.Temp {
		env[k] = v
	}

	env["vars"] = vars
	env["session"] = st.Variables
	env["temp"] = st.Temp
	env["event"] = map[string]any{
		"id":      turn.Event.ID.String(),
		"type":    string(turn.Event.Type),
		"text":    turn.Event.Text,
		"payload": turn.Event.Payload,
	}
	env["flow"] = st.Context.CurrentFlow
	env["node"] = st.Context.CurrentNode

	workflow := map[string]any{"name": st.CurrentWorkflow, "status": "", "outcome": ""}
	if wf := st.Workflow(); wf != nil {
		workflow["status"] = string(wf.Status)
		workflow["outcome"] = string(wf.Outcome)
	}
	env["workflow"] = workflow
	return env
}
