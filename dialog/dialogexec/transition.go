package dialogexec

import (
	"strings"

	"github.com/Abraxas-365/convo/dialog"
)

// transition resolves a destination from the current position. ended
// reports that the context was discarded, stayed that a return found no
// jump point and the conversation stays where it is.
func (r *runner) transition(to dialog.Destination) (ended, stayed bool, err error) {
	dc := r.ctx()

	switch to.Kind {
	case dialog.DestinationEnd:
		r.endContext()
		return true, false, nil

	case dialog.DestinationEnterFlow:
		flow, node, err := r.lookup(to.Flow, "")
		if err != nil {
			return false, false, err
		}
		if err := r.visit(flow.Name, node.Name, true); err != nil {
			return false, false, err
		}
		dc.JumpPoints = append(dc.JumpPoints, dialog.JumpPoint{Flow: dc.CurrentFlow, Node: dc.CurrentNode})
		dc.CurrentFlow = flow.Name
		dc.CurrentNode = node.Name
		r.enterWorkflow(flow.Name, false)
		return false, false, nil

	case dialog.DestinationReturn:
		found, err := r.returnToParent(to)
		if err != nil {
			return false, false, err
		}
		return false, !found, nil

	case dialog.DestinationGotoNode:
		flow, node, err := r.lookup(dc.CurrentFlow, to.Node)
		if err != nil {
			return false, false, err
		}
		if err := r.visit(flow.Name, node.Name, true); err != nil {
			return false, false, err
		}
		if flow.Parent == "" && !r.isReusable(flow) {
			dc.PreviousFlow = dc.CurrentFlow
			dc.PreviousNode = dc.CurrentNode
		}
		dc.CurrentNode = node.Name
		return false, false, nil

	default:
		return false, false, r.flowError(dc.CurrentFlow, dc.CurrentNode, "invalid destination")
	}
}

// returnToParent consumes the most recent unused jump point. It reports
// false when there is none.
func (r *runner) returnToParent(to dialog.Destination) (bool, error) {
	dc := r.ctx()

	idx := -1
	for i := len(dc.JumpPoints) - 1; i >= 0; i-- {
		if !dc.JumpPoints[i].Used {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	jp := &dc.JumpPoints[idx]

	target := to.Node
	if target == "" {
		target = jp.Node
	}
	flow, node, err := r.lookup(jp.Flow, target)
	if err != nil {
		return false, err
	}

	childWorkflow := r.turn.State.Workflow()
	jp.Used = true
	jp.ExecuteNode = to.ForceReexec

	r.copyOutputs(childWorkflow, flow, jp.Node)

	if node.Name != jp.Node {
		dc.JumpPoints = append(dc.JumpPoints[:idx], dc.JumpPoints[idx+1:]...)
	}

	dc.CurrentFlow = flow.Name
	dc.CurrentNode = node.Name
	if to.ForceReexec {
		dc.Queue = nil
	} else {
		dc.Queue = dialog.NewQueueBuilder(node).OnlyTransitions().Build()
	}
	r.enterWorkflow(flow.Name, false)
	return true, nil
}

// exitingSubflow reports whether the conversation just returned to node
// from a subflow without asking for re-execution. The matching jump point
// leaves the stack either way.
func (r *runner) exitingSubflow(flow *dialog.Flow, node *dialog.Node) bool {
	dc := r.ctx()
	for i := len(dc.JumpPoints) - 1; i >= 0; i-- {
		jp := dc.JumpPoints[i]
		if !jp.Used {
			continue
		}
		if jp.Flow != flow.Name || jp.Node != node.Name {
			return false
		}
		dc.JumpPoints = append(dc.JumpPoints[:i], dc.JumpPoints[i+1:]...)
		return !jp.ExecuteNode
	}
	return false
}

// enterSubflow calls the subflow configured on node.
func (r *runner) enterSubflow(caller *dialog.Flow, node *dialog.Node) error {
	dc := r.ctx()
	call := node.Subflow

	flow, start, err := r.lookup(call.Flow, "")
	if err != nil {
		return err
	}
	if err := r.visit(flow.Name, start.Name, true); err != nil {
		return err
	}

	callerVars := r.turn.State.WorkflowVariables()
	inputs := make(map[string]any, len(flow.Inputs))
	for _, name := range flow.Inputs {
		source := name
		if mapped, ok := call.In[name]; ok {
			source = mapped
		}
		if v, ok := callerVars[source]; ok {
			inputs[name] = v
		}
	}

	dc.JumpPoints = append(dc.JumpPoints, dialog.JumpPoint{Flow: caller.Name, Node: node.Name})
	dc.CurrentFlow = flow.Name
	dc.CurrentNode = start.Name
	dc.Queue = nil

	r.enterWorkflow(flow.Name, true)
	vars := r.turn.State.WorkflowVariables()
	for k, v := range inputs {
		vars[k] = v
	}
	return nil
}

// copyOutputs copies the declared outputs of the flow being left into the
// workflow of the flow being returned to.
func (r *runner) copyOutputs(child *dialog.WorkflowEntry, parent *dialog.Flow, callNode string) {
	st := r.turn.State
	leaving, ok := r.flows.Flow(st.Context.CurrentFlow)
	if !ok || child == nil || len(leaving.Outputs) == 0 {
		return
	}

	var mapping map[string]string
	if n, ok := parent.Node(callNode); ok && n.Subflow != nil {
		mapping = n.Subflow.Out
	}

	target := st.Workflows[parent.Workflow()]
	if target == nil {
		target = &dialog.WorkflowEntry{Status: dialog.WorkflowPending}
		st.Workflows[parent.Workflow()] = target
	}
	if target.Variables == nil {
		target.Variables = make(map[string]any)
	}
	for _, name := range leaving.Outputs {
		v, ok := child.Variables[name]
		if !ok {
			continue
		}
		dest := name
		if mapped, ok := mapping[name]; ok {
			dest = mapped
		}
		target.Variables[dest] = v
	}
}

// ============================================================================
// Workflow bookkeeping
// ============================================================================

// enterWorkflow updates workflow statuses when the context enters flowName.
// A workflow entered through a subflow call or nested under the current one
// pauses the current one; any other switch completes it.
func (r *runner) enterWorkflow(flowName string, viaSubflow bool) {
	st := r.turn.State
	name := dialog.WorkflowName(flowName)
	current := st.CurrentWorkflow
	if name == current {
		return
	}

	entry, ok := st.Workflows[name]
	if !ok {
		entry = &dialog.WorkflowEntry{Variables: make(map[string]any)}
		st.Workflows[name] = entry
	}
	if entry.Status == dialog.WorkflowCompleted || !ok {
		entry.EventID = r.turn.Event.ID
		entry.Outcome = ""
	}

	if cur := st.Workflows[current]; current != "" && cur != nil {
		if viaSubflow || strings.HasPrefix(name, current+"/") {
			cur.Status = dialog.WorkflowPending
			entry.Parent = current
		} else {
			cur.Status = dialog.WorkflowCompleted
			if parent := st.Workflows[cur.Parent]; cur.Parent != "" && parent != nil && parent.Status == dialog.WorkflowPending {
				parent.Status = dialog.WorkflowActive
			}
		}
	}

	entry.Status = dialog.WorkflowActive
	st.CurrentWorkflow = name
}

// markOutcome completes the current workflow on success and failure nodes.
func (r *runner) markOutcome(node *dialog.Node) {
	var outcome dialog.WorkflowOutcome
	switch node.Kind {
	case dialog.NodeKindSuccess:
		outcome = dialog.OutcomeSuccess
	case dialog.NodeKindFailure:
		outcome = dialog.OutcomeFailure
	default:
		return
	}
	if wf := r.turn.State.Workflow(); wf != nil {
		wf.Outcome = outcome
		wf.Status = dialog.WorkflowCompleted
	}
}
