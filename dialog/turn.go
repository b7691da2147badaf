package dialog

// Turn is handed to the instruction processor. It exposes the event, the
// working state and the flow snapshot of the running turn, and collects
// outputs.
type Turn struct {
	Event   Event
	State   *State
	Flows   *FlowSet
	outputs []Output
}

func NewTurn(event Event, state *State, flows *FlowSet) *Turn {
	state.ensureMaps()
	return &Turn{Event: event, State: state, Flows: flows}
}

// Emit appends an output.
func (t *Turn) Emit(out Output) {
	t.outputs = append(t.outputs, out)
}

// Say emits a text output.
func (t *Turn) Say(text string, payload map[string]any) {
	t.Emit(Output{Type: OutputSay, Text: text, Payload: payload})
}

// Outputs returns what the turn emitted so far.
func (t *Turn) Outputs() []Output {
	return append([]Output(nil), t.outputs...)
}

// CurrentFlow returns the flow the context points at.
func (t *Turn) CurrentFlow() (*Flow, bool) {
	return t.Flows.Flow(t.State.Context.CurrentFlow)
}

// CurrentNode returns the node the context points at.
func (t *Turn) CurrentNode() (*Node, bool) {
	f, ok := t.CurrentFlow()
	if !ok {
		return nil, false
	}
	return f.Node(t.State.Context.CurrentNode)
}
