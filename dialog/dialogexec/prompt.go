package dialogexec

import (
	"context"
	"fmt"

	"github.com/Abraxas-365/convo/dialog"
)

type promptOutcome int

const (
	// promptDone: the prompt is settled, node processing continues.
	promptDone promptOutcome = iota
	// promptListen: the turn waits for the next event.
	promptListen
	// promptJumped: the context moved, the turn starts over.
	promptJumped
)

// prompt drives the active prompt of node for one event.
func (r *runner) prompt(ctx context.Context, flow *dialog.Flow, node *dialog.Node) (promptOutcome, error) {
	st := r.turn.State
	dc := r.ctx()

	if dc.ActivePrompt == nil {
		delete(st.Temp, dialog.TempExtracted)
		delete(st.Temp, dialog.TempRejected)
		delete(st.Temp, dialog.TempCancelled)
		dc.ActivePrompt = &dialog.ActivePrompt{
			Node:   node.Name,
			Stage:  dialog.PromptStageNew,
			Status: dialog.PromptStatusPending,
			State:  map[string]any{},
			Config: *node.Prompt,
		}
	}
	current := *dc.ActivePrompt

	input := dialog.PromptInput{
		Event:  r.turn.Event,
		Prompt: current,
		Flow:   flow,
		Node:   node,
	}
	if current.Turn == 0 {
		input.PriorEvents = r.priorEvents()
	}

	res, err := r.e.prompts.ProcessPrompt(ctx, input)
	if err != nil {
		return promptDone, &dialog.ProcessingError{
			BotID: st.BotID.String(),
			Flow:  flow.Name,
			Node:  node.Name,
			Err:   fmt.Errorf("prompt %s: %w", current.Config.Type, err),
		}
	}

	next := res.Prompt
	next.Node = node.Name
	next.Turn = current.Turn + 1
	dc.ActivePrompt = &next

	for _, action := range res.Actions {
		switch action.Type {
		case dialog.PromptActionSay:
			r.turn.Say(action.Text, action.Payload)
		case dialog.PromptActionCancel:
			st.Temp[dialog.TempCancelled] = true
		}
	}

	switch next.Status {
	case dialog.PromptStatusResolved:
		dc.ActivePrompt = nil
		st.WorkflowVariables()[next.Config.Output] = next.Value
		st.Temp[dialog.TempExtracted] = true
		return promptDone, nil

	case dialog.PromptStatusRejected:
		dc.ActivePrompt = nil
		st.Temp[dialog.TempRejected] = string(next.Rejection)
		if next.Rejection == dialog.RejectJumped && next.JumpTo != nil {
			target, targetNode, err := r.lookup(next.JumpTo.Flow, next.JumpTo.Node)
			if err != nil {
				return promptDone, err
			}
			r.jump(target, targetNode)
			return promptJumped, nil
		}
		return promptDone, nil

	default:
		// pending prompts own the node until the next event, listen or not
		return promptListen, nil
	}
}

// priorEvents returns the bounded window of events before the current one.
func (r *runner) priorEvents() []dialog.Event {
	recent := r.turn.State.RecentEvents
	var out []dialog.Event
	for i := len(recent) - 1; i >= 0 && len(out) < r.e.cfg.PromptHistoryWindow; i-- {
		if recent[i].ID != "" && recent[i].ID == r.turn.Event.ID {
			continue
		}
		out = append(out, recent[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
