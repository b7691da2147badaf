package dialogexec

import (
	"github.com/Abraxas-365/convo/dialog"
)

type position struct {
	flow *dialog.Flow
	node *dialog.Node
}

// resolveTimeoutTarget tries, in order: the current node's timeout
// destination, a node named "timeout" in the current flow, the flow's
// timeoutNode, and the start node of the timeout flow.
func (e *Engine) resolveTimeoutTarget(flows *dialog.FlowSet, st *dialog.State) (position, error) {
	dc := st.Context
	flow, hasFlow := flows.Flow(dc.CurrentFlow)

	var candidates []func() (position, bool)

	if hasFlow {
		if node, ok := flow.Node(dc.CurrentNode); ok && node.Timeout != nil {
			to := *node.Timeout
			candidates = append(candidates, func() (position, bool) {
				switch to.Kind {
				case dialog.DestinationGotoNode:
					return nodeIn(flow, to.Node)
				case dialog.DestinationEnterFlow:
					return startOf(flows, to.Flow)
				}
				return position{}, false
			})
		}
		candidates = append(candidates,
			func() (position, bool) { return nodeIn(flow, "timeout") },
			func() (position, bool) { return nodeIn(flow, flow.TimeoutNode) },
		)
	}
	candidates = append(candidates, func() (position, bool) { return startOf(flows, e.cfg.TimeoutFlow) })

	for _, candidate := range candidates {
		if pos, ok := candidate(); ok {
			return pos, nil
		}
	}

	return position{}, &dialog.TimeoutNodeNotFoundError{
		BotID: st.BotID.String(),
		Flow:  dc.CurrentFlow,
		Node:  dc.CurrentNode,
	}
}

func nodeIn(flow *dialog.Flow, name string) (position, bool) {
	node, ok := flow.Node(name)
	if !ok {
		return position{}, false
	}
	return position{flow: flow, node: node}, true
}

func startOf(flows *dialog.FlowSet, name string) (position, bool) {
	flow, ok := flows.Flow(name)
	if !ok {
		return position{}, false
	}
	return nodeIn(flow, flow.StartNode)
}
