package instrexec

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/mitchellh/mapstructure"
)

// Variable scopes understood by setVariable and resetVariable.
const (
	ScopeWorkflow = "workflow"
	ScopeSession  = "session"
	ScopeTemp     = "temp"
)

type sayParams struct {
	Text    string         `json:"text"`
	Payload map[string]any `json:"payload"`
}

type variableParams struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Scope string `json:"scope"`
}

type errorFlowParams struct {
	Flow string `json:"flow"`
}

type gotoParams struct {
	To string `json:"to"`
}

type customParams struct {
	Payload map[string]any `json:"payload"`
}

func (p *Processor) registerBuiltins() {
	p.actions["say"] = actionSay
	p.actions["custom"] = actionCustom
	p.actions["setVariable"] = actionSetVariable
	p.actions["resetVariable"] = actionResetVariable
	p.actions["setErrorFlow"] = actionSetErrorFlow
	p.actions["wait"] = actionWait
	p.actions["goto"] = actionGoto
	p.actions["log"] = actionLog
}

func actionSay(_ context.Context, turn *dialog.Turn, params map[string]any) (dialog.ProcessResult, error) {
	var in sayParams
	if err := decodeParams(params, &in); err != nil {
		return dialog.ProcessResult{}, err
	}
	if in.Text == "" && len(in.Payload) == 0 {
		return dialog.ProcessResult{}, dialog.ErrInvalidActionParams().
			WithDetail("action", "say").
			WithDetail("reason", "text or payload is required")
	}
	turn.Say(in.Text, in.Payload)
	return dialog.ProcessResult{FollowUp: dialog.FollowUpNone}, nil
}

func actionCustom(_ context.Context, turn *dialog.Turn, params map[string]any) (dialog.ProcessResult, error) {
	var in customParams
	if err := decodeParams(params, &in); err != nil {
		return dialog.ProcessResult{}, err
	}
	turn.Emit(dialog.Output{Type: dialog.OutputCustom, Payload: in.Payload})
	return dialog.ProcessResult{FollowUp: dialog.FollowUpNone}, nil
}

func actionSetVariable(_ context.Context, turn *dialog.Turn, params map[string]any) (dialog.ProcessResult, error) {
	var in variableParams
	if err := decodeParams(params, &in); err != nil {
		return dialog.ProcessResult{}, err
	}
	vars, err := scopeVars(turn, in)
	if err != nil {
		return dialog.ProcessResult{}, err
	}
	vars[in.Name] = in.Value
	return dialog.ProcessResult{FollowUp: dialog.FollowUpNone}, nil
}

func actionResetVariable(_ context.Context, turn *dialog.Turn, params map[string]any) (dialog.ProcessResult, error) {
	var in variableParams
	if err := decodeParams(params, &in); err != nil {
		return dialog.ProcessResult{}, err
	}
	vars, err := scopeVars(turn, in)
	if err != nil {
		return dialog.ProcessResult{}, err
	}
	delete(vars, in.Name)
	return dialog.ProcessResult{FollowUp: dialog.FollowUpNone}, nil
}

// actionSetErrorFlow overrides the error flow of the conversation. An empty
// flow restores the default.
func actionSetErrorFlow(_ context.Context, turn *dialog.Turn, params map[string]any) (dialog.ProcessResult, error) {
	var in errorFlowParams
	if err := decodeParams(params, &in); err != nil {
		return dialog.ProcessResult{}, err
	}
	if in.Flow != "" && !strings.HasSuffix(in.Flow, dialog.FlowSuffix) {
		return dialog.ProcessResult{}, dialog.ErrInvalidActionParams().
			WithDetail("action", "setErrorFlow").
			WithDetail("flow", in.Flow)
	}
	turn.State.OnErrorFlowTo = in.Flow
	return dialog.ProcessResult{FollowUp: dialog.FollowUpNone}, nil
}

func actionWait(context.Context, *dialog.Turn, map[string]any) (dialog.ProcessResult, error) {
	return dialog.ProcessResult{FollowUp: dialog.FollowUpWait}, nil
}

// actionGoto transitions from inside an action list.
func actionGoto(_ context.Context, _ *dialog.Turn, params map[string]any) (dialog.ProcessResult, error) {
	var in gotoParams
	if err := decodeParams(params, &in); err != nil {
		return dialog.ProcessResult{}, err
	}
	to, err := dialog.ParseDestination(in.To)
	if err != nil {
		return dialog.ProcessResult{}, dialog.ErrInvalidActionParams().
			WithDetail("action", "goto").
			WithCause(err)
	}
	return dialog.ProcessResult{FollowUp: dialog.FollowUpTransition, TransitionTo: &to}, nil
}

func actionLog(ctx context.Context, turn *dialog.Turn, params map[string]any) (dialog.ProcessResult, error) {
	key, ok := kernel.ConversationFrom(ctx)
	if !ok {
		key = turn.State.Key()
	}
	log.Printf("🔹 [%s] %s/%s: %v", key, turn.State.Context.CurrentFlow, turn.State.Context.CurrentNode, params["message"])
	return dialog.ProcessResult{FollowUp: dialog.FollowUpNone}, nil
}

func scopeVars(turn *dialog.Turn, in variableParams) (map[string]any, error) {
	if in.Name == "" {
		return nil, dialog.ErrInvalidActionParams().WithDetail("reason", "variable name is required")
	}
	switch in.Scope {
	case "", ScopeWorkflow:
		return turn.State.WorkflowVariables(), nil
	case ScopeSession:
		return turn.State.Variables, nil
	case ScopeTemp:
		return turn.State.Temp, nil
	default:
		return nil, dialog.ErrInvalidActionParams().WithDetail("scope", in.Scope)
	}
}

// decodeParams decodes action params into target using json tags.
func decodeParams(params map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "json",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(params); err != nil {
		return dialog.ErrInvalidActionParams().WithCause(err)
	}
	return nil
}
