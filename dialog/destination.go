package dialog

import (
	"fmt"
	"strings"
)

// EndToken terminates the active context.
const EndToken = "END"

// DestinationKind discriminates Destination.
type DestinationKind int

const (
	DestinationInvalid DestinationKind = iota
	DestinationEnterFlow
	DestinationReturn
	DestinationEnd
	DestinationGotoNode
)

func (k DestinationKind) String() string {
	switch k {
	case DestinationEnterFlow:
		return "enter_flow"
	case DestinationReturn:
		return "return"
	case DestinationEnd:
		return "end"
	case DestinationGotoNode:
		return "goto_node"
	default:
		return "invalid"
	}
}

// Destination is a parsed transition target.
//
//	<x>.flow.json  enter flow x at its start node
//	#x / #         return to the nearest unused jump point (node x, or the jump point node)
//	##x / ##       same, forcing the node to execute again
//	END            end the context
//	x              node x of the current flow
type Destination struct {
	Kind        DestinationKind
	Flow        string
	Node        string
	ForceReexec bool
}

func EnterFlow(flow string) Destination { return Destination{Kind: DestinationEnterFlow, Flow: flow} }
func GotoNode(node string) Destination  { return Destination{Kind: DestinationGotoNode, Node: node} }
func End() Destination                  { return Destination{Kind: DestinationEnd} }

func ReturnToParent(node string, forceReexec bool) Destination {
	return Destination{Kind: DestinationReturn, Node: node, ForceReexec: forceReexec}
}

// ParseDestination parses a transition token.
func ParseDestination(token string) (Destination, error) {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return Destination{}, fmt.Errorf("empty destination")
	case token == EndToken:
		return End(), nil
	case strings.HasPrefix(token, "##"):
		return ReturnToParent(token[2:], true), nil
	case strings.HasPrefix(token, "#"):
		return ReturnToParent(token[1:], false), nil
	case strings.HasSuffix(token, FlowSuffix):
		return EnterFlow(token), nil
	case strings.ContainsAny(token, " #"):
		return Destination{}, fmt.Errorf("invalid destination %q", token)
	default:
		return GotoNode(token), nil
	}
}

// MustParseDestination is ParseDestination for literals known to be valid.
func MustParseDestination(token string) Destination {
	d, err := ParseDestination(token)
	if err != nil {
		panic(err)
	}
	return d
}

// String returns the token form of d.
func (d Destination) String() string {
	switch d.Kind {
	case DestinationEnterFlow:
		return d.Flow
	case DestinationReturn:
		if d.ForceReexec {
			return "##" + d.Node
		}
		return "#" + d.Node
	case DestinationEnd:
		return EndToken
	case DestinationGotoNode:
		return d.Node
	default:
		return ""
	}
}

// IsValid reports whether d was parsed from a token.
func (d Destination) IsValid() bool {
	return d.Kind != DestinationInvalid
}

func (d Destination) MarshalText() ([]byte, error) {
	if !d.IsValid() {
		return nil, fmt.Errorf("cannot marshal invalid destination")
	}
	return []byte(d.String()), nil
}

func (d *Destination) UnmarshalText(text []byte) error {
	parsed, err := ParseDestination(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
