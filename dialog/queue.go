package dialog

// QueueBuilder compiles a node into its instruction program:
// on-enter actions, then (unless suppressed) a wait followed by on-receive
// actions, then the transitions in declaration order.
type QueueBuilder struct {
	node            *Node
	onlyTransitions bool
	skipOnReceive   bool
}

func NewQueueBuilder(node *Node) *QueueBuilder {
	return &QueueBuilder{node: node}
}

// OnlyTransitions drops the actions, used when returning into a node.
func (b *QueueBuilder) OnlyTransitions() *QueueBuilder {
	b.onlyTransitions = true
	return b
}

// HasJumped drops the wait and on-receive actions: nothing was received at
// a jump target.
func (b *QueueBuilder) HasJumped() *QueueBuilder {
	b.skipOnReceive = true
	return b
}

func (b *QueueBuilder) Build() *InstructionQueue {
	q := &InstructionQueue{Instructions: []Instruction{}}
	n := b.node

	if !b.onlyTransitions {
		for i := range n.OnEnter {
			action := n.OnEnter[i]
			q.Instructions = append(q.Instructions, Instruction{Type: InstructionOnEnter, Action: &action})
		}

		if !b.skipOnReceive && (n.Listen || len(n.OnReceive) > 0) {
			q.Instructions = append(q.Instructions, Instruction{Type: InstructionWait})
			for i := range n.OnReceive {
				action := n.OnReceive[i]
				q.Instructions = append(q.Instructions, Instruction{Type: InstructionOnReceive, Action: &action})
			}
		}
	}

	for i := range n.Next {
		to := n.Next[i].To
		q.Instructions = append(q.Instructions, Instruction{
			Type:      InstructionTransition,
			Condition: n.Next[i].Condition,
			To:        &to,
		})
	}

	return q
}
