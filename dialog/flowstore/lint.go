package flowstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one problem found in a flow set.
type Issue struct {
	Severity Severity `json:"severity"`
	Flow     string   `json:"flow"`
	Node     string   `json:"node,omitempty"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	where := i.Flow
	if i.Node != "" {
		where += "/" + i.Node
	}
	return fmt.Sprintf("[%s] %s: %s", i.Severity, where, i.Message)
}

// Known tells the linter which actions and prompt types exist. Nil funcs
// skip the check.
type Known struct {
	Action     func(name string) bool
	PromptType func(name string) bool
}

// Lint checks flows for structural errors and suspicious constructs.
func Lint(flows []dialog.Flow, known Known) []Issue {
	l := &linter{known: known, names: make(map[string]*dialog.Flow, len(flows))}

	for i := range flows {
		f := &flows[i]
		if _, dup := l.names[f.Name]; dup {
			l.errorf(f.Name, "", "duplicate flow name")
			continue
		}
		l.names[f.Name] = f
	}
	for i := range flows {
		l.flow(&flows[i])
	}

	sort.SliceStable(l.issues, func(a, b int) bool {
		if l.issues[a].Flow != l.issues[b].Flow {
			return l.issues[a].Flow < l.issues[b].Flow
		}
		return l.issues[a].Node < l.issues[b].Node
	})
	return l.issues
}

// Compile lints flows and builds the flow set. Warnings are tolerated,
// errors are returned as one InvalidFlowDefinition error.
func Compile(botID kernel.BotID, flows []dialog.Flow, known Known) (*dialog.FlowSet, []Issue, error) {
	issues := Lint(flows, known)
	var problems []string
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			problems = append(problems, issue.String())
		}
	}
	if len(problems) > 0 {
		return nil, issues, dialog.ErrInvalidFlowDefinition().
			WithDetail("bot_id", botID.String()).
			WithDetail("problems", problems)
	}
	return dialog.NewFlowSet(botID, flows...), issues, nil
}

type linter struct {
	known  Known
	names  map[string]*dialog.Flow
	issues []Issue
}

func (l *linter) errorf(flow, node, format string, args ...any) {
	l.issues = append(l.issues, Issue{Severity: SeverityError, Flow: flow, Node: node, Message: fmt.Sprintf(format, args...)})
}

func (l *linter) warnf(flow, node, format string, args ...any) {
	l.issues = append(l.issues, Issue{Severity: SeverityWarning, Flow: flow, Node: node, Message: fmt.Sprintf(format, args...)})
}

func (l *linter) flow(f *dialog.Flow) {
	if err := validate.Struct(f); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, fieldErr := range validationErrors {
				l.errorf(f.Name, "", "field '%s' failed validation (rule: %s)", fieldErr.Namespace(), fieldErr.Tag())
			}
		} else {
			l.errorf(f.Name, "", "validation failed: %v", err)
		}
	}

	nodes := make(map[string]*dialog.Node, len(f.Nodes))
	for i := range f.Nodes {
		n := &f.Nodes[i]
		if _, dup := nodes[n.Name]; dup {
			l.errorf(f.Name, n.Name, "duplicate node name")
		}
		nodes[n.Name] = n
	}

	if f.StartNode != "" && nodes[f.StartNode] == nil {
		l.errorf(f.Name, "", "start node %q does not exist", f.StartNode)
	}
	if f.TimeoutNode != "" && nodes[f.TimeoutNode] == nil {
		l.errorf(f.Name, "", "timeout node %q does not exist", f.TimeoutNode)
	}

	for i := range f.Nodes {
		l.node(f, nodes, &f.Nodes[i])
	}
	l.reachability(f, nodes)
}

func (l *linter) node(f *dialog.Flow, nodes map[string]*dialog.Node, n *dialog.Node) {
	for _, t := range n.Next {
		l.destination(f, nodes, n, t.To)
	}
	if n.Timeout != nil {
		l.destination(f, nodes, n, *n.Timeout)
	}

	switch n.Kind {
	case dialog.NodeKindSubflow:
		if n.Subflow == nil {
			l.errorf(f.Name, n.Name, "subflow node without subflow call")
		} else if l.names[n.Subflow.Flow] == nil {
			l.errorf(f.Name, n.Name, "subflow %q does not exist", n.Subflow.Flow)
		}
	case dialog.NodeKindPrompt:
		if n.Prompt == nil {
			l.errorf(f.Name, n.Name, "prompt node without prompt config")
		} else if l.known.PromptType != nil && !l.known.PromptType(n.Prompt.Type) {
			l.errorf(f.Name, n.Name, "unknown prompt type %q", n.Prompt.Type)
		}
	}

	if l.known.Action != nil {
		for _, actions := range [][]dialog.Action{n.OnEnter, n.OnReceive} {
			for _, a := range actions {
				if !l.known.Action(a.Name) {
					l.errorf(f.Name, n.Name, "unknown action %q", a.Name)
				}
			}
		}
	}

	for _, t := range n.Next {
		if strings.TrimSpace(t.Condition) == "" && t.To.Kind == dialog.DestinationGotoNode && t.To.Node == n.Name {
			l.warnf(f.Name, n.Name, "unconditional transition to itself")
		}
	}
}

func (l *linter) destination(f *dialog.Flow, nodes map[string]*dialog.Node, n *dialog.Node, to dialog.Destination) {
	switch to.Kind {
	case dialog.DestinationGotoNode:
		if nodes[to.Node] == nil {
			l.errorf(f.Name, n.Name, "transition to unknown node %q", to.Node)
		}
	case dialog.DestinationEnterFlow:
		if l.names[to.Flow] == nil {
			l.errorf(f.Name, n.Name, "transition to unknown flow %q", to.Flow)
		}
	case dialog.DestinationInvalid:
		l.errorf(f.Name, n.Name, "invalid destination")
	}
}

// reachability warns about nodes no transition of the flow can reach.
func (l *linter) reachability(f *dialog.Flow, nodes map[string]*dialog.Node) {
	start := nodes[f.StartNode]
	if start == nil {
		return
	}
	seen := map[string]bool{}
	queue := []*dialog.Node{start}
	mark := func(name string) {
		if n := nodes[name]; n != nil && !seen[name] {
			queue = append(queue, n)
		}
	}
	if f.TimeoutNode != "" {
		mark(f.TimeoutNode)
	}
	mark("timeout")

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n.Name] {
			continue
		}
		seen[n.Name] = true
		for _, t := range n.Next {
			if t.To.Kind == dialog.DestinationGotoNode {
				mark(t.To.Node)
			}
		}
		if n.Timeout != nil && n.Timeout.Kind == dialog.DestinationGotoNode {
			mark(n.Timeout.Node)
		}
	}

	returnTargets := l.returnTargets()
	for _, n := range f.Nodes {
		if !seen[n.Name] && !returnTargets[n.Name] {
			l.warnf(f.Name, n.Name, "node is unreachable")
		}
	}
}

// returnTargets collects node names that some flow returns to explicitly.
func (l *linter) returnTargets() map[string]bool {
	targets := map[string]bool{}
	for _, other := range l.names {
		for _, n := range other.Nodes {
			for _, t := range n.Next {
				if t.To.Kind == dialog.DestinationReturn && t.To.Node != "" {
					targets[t.To.Node] = true
				}
			}
		}
	}
	return targets
}
