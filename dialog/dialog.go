package dialog

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Abraxas-365/convo/pkg/kernel"
)

// FlowSuffix is carried by every flow name.
const FlowSuffix = ".flow.json"

// WorkflowName returns the workflow a flow belongs to: its name without FlowSuffix.
func WorkflowName(flowName string) string {
	return strings.TrimSuffix(flowName, FlowSuffix)
}

// ============================================================================
// Flow Definitions
// ============================================================================

// Flow es un grafo de nodos con nombre
type Flow struct {
	Name        string   `json:"name" validate:"required,endswith=.flow.json"`
	Description string   `json:"description,omitempty"`
	StartNode   string   `json:"startNode" validate:"required"`
	TimeoutNode string   `json:"timeoutNode,omitempty"`
	Nodes       []Node   `json:"nodes" validate:"required,min=1,dive"`
	Inputs      []string `json:"inputs,omitempty"`
	Outputs     []string `json:"outputs,omitempty"`

	// Parent is resolved when the flow set is built.
	Parent string `json:"parent,omitempty"`

	index map[string]int
}

// Node looks up a node by name.
func (f *Flow) Node(name string) (*Node, bool) {
	if f == nil || name == "" {
		return nil, false
	}
	if f.index != nil {
		i, ok := f.index[name]
		if !ok {
			return nil, false
		}
		return &f.Nodes[i], true
	}
	for i := range f.Nodes {
		if f.Nodes[i].Name == name {
			return &f.Nodes[i], true
		}
	}
	return nil, false
}

// Workflow returns the workflow name of the flow.
func (f *Flow) Workflow() string {
	return WorkflowName(f.Name)
}

func (f *Flow) buildIndex() {
	f.index = make(map[string]int, len(f.Nodes))
	for i, n := range f.Nodes {
		if _, dup := f.index[n.Name]; !dup {
			f.index[n.Name] = i
		}
	}
}

// NodeKind tipo de nodo
type NodeKind string

const (
	NodeKindStandard NodeKind = "standard"
	NodeKindSubflow  NodeKind = "subflow"
	NodeKindPrompt   NodeKind = "prompt"
	NodeKindSuccess  NodeKind = "success"
	NodeKindFailure  NodeKind = "failure"
	NodeKindRouter   NodeKind = "router"
)

// Node paso de un flujo
type Node struct {
	Name         string        `json:"name" validate:"required"`
	Kind         NodeKind      `json:"type,omitempty" validate:"omitempty,oneof=standard subflow prompt success failure router"`
	OnEnter      []Action      `json:"onEnter,omitempty" validate:"dive"`
	OnReceive    []Action      `json:"onReceive,omitempty" validate:"dive"`
	Listen       bool          `json:"listen,omitempty"`
	Next         []Transition  `json:"next,omitempty"`
	Timeout      *Destination  `json:"timeout,omitempty"`
	TimeoutAfter Duration      `json:"timeoutAfter,omitempty"`
	Prompt       *PromptConfig `json:"prompt,omitempty"`
	Subflow      *SubflowCall  `json:"subflow,omitempty"`
}

// Action is a named side effect run by the instruction processor.
type Action struct {
	Name   string         `json:"name" validate:"required"`
	Params map[string]any `json:"params,omitempty"`
}

// Transition condition → destino
type Transition struct {
	Condition string      `json:"condition,omitempty"`
	To        Destination `json:"to"`
}

// SubflowCall configures a subflow node.
// In maps subflow inputs to caller variables, Out maps subflow outputs back.
type SubflowCall struct {
	Flow string            `json:"flow" validate:"required,endswith=.flow.json"`
	In   map[string]string `json:"in,omitempty"`
	Out  map[string]string `json:"out,omitempty"`
}

// PromptConfig configuración de un nodo prompt
type PromptConfig struct {
	Type               string         `json:"type" validate:"required"`
	Output             string         `json:"output" validate:"required"`
	Question           string         `json:"question,omitempty"`
	RetryMessage       string         `json:"retryMessage,omitempty"`
	ConfirmJumpMessage string         `json:"confirmJumpMessage,omitempty"`
	MaxRetries         int            `json:"maxRetries,omitempty" validate:"gte=0"`
	SearchHistory      bool           `json:"searchHistory,omitempty"`
	Params             map[string]any `json:"params,omitempty"`
}

// Duration is a time.Duration written as "90s" or "5m" in flow files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// ============================================================================
// Flow Set
// ============================================================================

// FlowSet is the compiled, read-only set of flows of one bot.
type FlowSet struct {
	BotID    kernel.BotID
	Flows    map[string]*Flow
	LoadedAt time.Time
}

// NewFlowSet indexes the flows and resolves parent relationships.
// A flow's parent is the flow with the longest workflow name that is a
// path prefix of its own.
func NewFlowSet(botID kernel.BotID, flows ...Flow) *FlowSet {
	set := &FlowSet{
		BotID:    botID,
		Flows:    make(map[string]*Flow, len(flows)),
		LoadedAt: time.Now(),
	}
	for i := range flows {
		f := flows[i]
		f.Nodes = append([]Node(nil), f.Nodes...)
		f.buildIndex()
		set.Flows[f.Name] = &f
	}
	for _, f := range set.Flows {
		f.Parent = set.parentOf(f.Workflow())
	}
	return set
}

func (s *FlowSet) parentOf(workflow string) string {
	for i := strings.LastIndex(workflow, "/"); i > 0; i = strings.LastIndex(workflow[:i], "/") {
		candidate := workflow[:i] + FlowSuffix
		if _, ok := s.Flows[candidate]; ok {
			return candidate
		}
	}
	return ""
}

// Flow looks up a flow by name.
func (s *FlowSet) Flow(name string) (*Flow, bool) {
	if s == nil {
		return nil, false
	}
	f, ok := s.Flows[name]
	return f, ok
}

// Names returns the flow names in no particular order.
func (s *FlowSet) Names() []string {
	names := make([]string, 0, len(s.Flows))
	for name := range s.Flows {
		names = append(names, name)
	}
	return names
}

// ============================================================================
// Instructions
// ============================================================================

// InstructionType tipo de instrucción
type InstructionType string

const (
	InstructionOnEnter    InstructionType = "on-enter"
	InstructionOnReceive  InstructionType = "on-receive"
	InstructionWait       InstructionType = "wait"
	InstructionTransition InstructionType = "transition"
)

// Instruction is one atomic unit of a node program.
type Instruction struct {
	Type      InstructionType `json:"type"`
	Action    *Action         `json:"action,omitempty"`
	Condition string          `json:"condition,omitempty"`
	To        *Destination    `json:"to,omitempty"`
}

// InstructionQueue is the consumable program of the current node.
// A nil *InstructionQueue means no program is stored; an empty one means
// the program is exhausted.
type InstructionQueue struct {
	Instructions []Instruction `json:"instructions"`
}

// Len returns the number of pending instructions.
func (q *InstructionQueue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.Instructions)
}

// Dequeue removes and returns the next instruction.
func (q *InstructionQueue) Dequeue() (Instruction, bool) {
	if q == nil || len(q.Instructions) == 0 {
		return Instruction{}, false
	}
	next := q.Instructions[0]
	q.Instructions = q.Instructions[1:]
	return next, true
}

// FollowUpAction is what the engine does after an instruction ran.
type FollowUpAction string

const (
	FollowUpNone       FollowUpAction = "none"
	FollowUpWait       FollowUpAction = "wait"
	FollowUpTransition FollowUpAction = "transition"
)

// ProcessResult resultado de procesar una instrucción
type ProcessResult struct {
	FollowUp     FollowUpAction
	TransitionTo *Destination
}

// ============================================================================
// Dialog Context
// ============================================================================

// JumpPoint is a call-stack frame. It is consumed at most once.
type JumpPoint struct {
	Flow        string `json:"flow"`
	Node        string `json:"node"`
	Used        bool   `json:"used,omitempty"`
	ExecuteNode bool   `json:"executeNode,omitempty"`
}

// TraceEntry records a visit to a node.
type TraceEntry struct {
	Flow string `json:"flow"`
	Node string `json:"node"`
}

func (t TraceEntry) String() string {
	return t.Flow + "/" + t.Node
}

// DialogContext is the resumable position of a conversation.
type DialogContext struct {
	CurrentFlow  string            `json:"currentFlow,omitempty"`
	CurrentNode  string            `json:"currentNode,omitempty"`
	PreviousFlow string            `json:"previousFlow,omitempty"`
	PreviousNode string            `json:"previousNode,omitempty"`
	Queue        *InstructionQueue `json:"queue,omitempty"`
	JumpPoints   []JumpPoint       `json:"jumpPoints,omitempty"`
	HasJumped    bool              `json:"hasJumped,omitempty"`
	ActivePrompt *ActivePrompt     `json:"activePrompt,omitempty"`
	Trace        []TraceEntry      `json:"trace,omitempty"`
}

// IsEmpty reports whether no flow is active.
func (c *DialogContext) IsEmpty() bool {
	return c.CurrentFlow == ""
}

// ============================================================================
// Prompt State
// ============================================================================

type PromptStage string

const (
	PromptStageNew         PromptStage = "new"
	PromptStageConfirmJump PromptStage = "confirm-jump"
)

type PromptStatus string

const (
	PromptStatusPending  PromptStatus = "pending"
	PromptStatusResolved PromptStatus = "resolved"
	PromptStatusRejected PromptStatus = "rejected"
)

// RejectionReason explains why a prompt gave up.
type RejectionReason string

const (
	RejectMaxTries  RejectionReason = "max_tries"
	RejectTimedOut  RejectionReason = "timedout"
	RejectCancelled RejectionReason = "cancelled"
	RejectJumped    RejectionReason = "jumped"
)

// JumpTarget is a flow/node pair. Empty Node means the flow's start node.
type JumpTarget struct {
	Flow string `json:"flow"`
	Node string `json:"node,omitempty"`
}

// ActivePrompt is the state of one slot-filling attempt.
type ActivePrompt struct {
	Node      string          `json:"node"`
	Stage     PromptStage     `json:"stage"`
	Status    PromptStatus    `json:"status"`
	State     map[string]any  `json:"state,omitempty"`
	Turn      int             `json:"turn"`
	Config    PromptConfig    `json:"config"`
	Value     any             `json:"value,omitempty"`
	Rejection RejectionReason `json:"rejection,omitempty"`
	JumpTo    *JumpTarget     `json:"jumpTo,omitempty"`
	TimedOut  bool            `json:"timedOut,omitempty"`
}

// PromptActionType acción emitida por el prompt
type PromptActionType string

const (
	PromptActionSay    PromptActionType = "say"
	PromptActionListen PromptActionType = "listen"
	PromptActionCancel PromptActionType = "cancel"
)

// PromptAction is emitted by the prompt sub-machine.
type PromptAction struct {
	Type    PromptActionType `json:"type"`
	Text    string           `json:"text,omitempty"`
	Payload map[string]any   `json:"payload,omitempty"`
}

// PromptInput is handed to the prompt sub-machine on every prompt turn.
type PromptInput struct {
	Event       Event
	PriorEvents []Event
	Prompt      ActivePrompt
	Flow        *Flow
	Node        *Node
}

// PromptResult carries the updated prompt and its actions.
type PromptResult struct {
	Prompt  ActivePrompt
	Actions []PromptAction
}

// ============================================================================
// Workflows
// ============================================================================

type WorkflowStatus string

const (
	WorkflowActive    WorkflowStatus = "active"
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowCompleted WorkflowStatus = "completed"
)

type WorkflowOutcome string

const (
	OutcomeSuccess WorkflowOutcome = "success"
	OutcomeFailure WorkflowOutcome = "failure"
)

// WorkflowEntry tracks one named workflow of the conversation.
type WorkflowEntry struct {
	EventID   kernel.EventID  `json:"eventId,omitempty"`
	Status    WorkflowStatus  `json:"status"`
	Parent    string          `json:"parent,omitempty"`
	Outcome   WorkflowOutcome `json:"outcome,omitempty"`
	Variables map[string]any  `json:"variables,omitempty"`
}

// ============================================================================
// Conversation State
// ============================================================================

// Temp keys written by the engine.
const (
	TempExtracted = "extracted"
	TempRejected  = "rejected"
	TempCancelled = "cancelled"
	TempError     = "error"
)

// State is everything persisted for one conversation.
type State struct {
	BotID           kernel.BotID              `json:"bot_id"`
	ConversationID  kernel.ConversationID     `json:"conversation_id"`
	Context         DialogContext             `json:"context"`
	Workflows       map[string]*WorkflowEntry `json:"workflows,omitempty"`
	CurrentWorkflow string                    `json:"current_workflow,omitempty"`
	Variables       map[string]any            `json:"variables,omitempty"`
	Temp            map[string]any            `json:"temp,omitempty"`
	OnErrorFlowTo   string                    `json:"on_error_flow_to,omitempty"`
	RecentEvents    []Event                   `json:"recent_events,omitempty"`
	LastEventAt     time.Time                 `json:"last_event_at"`
	ExpiresAt       time.Time                 `json:"expires_at"`
}

// NewState returns an idle state.
func NewState(botID kernel.BotID, conversationID kernel.ConversationID) *State {
	return &State{
		BotID:          botID,
		ConversationID: conversationID,
		Workflows:      make(map[string]*WorkflowEntry),
		Variables:      make(map[string]any),
		Temp:           make(map[string]any),
	}
}

// Key returns the conversation key of the state.
func (s *State) Key() kernel.ConversationKey {
	return kernel.NewConversationKey(s.BotID, s.ConversationID)
}

// Clone deep-copies the state through its JSON form, the same form it is
// persisted in.
func (s *State) Clone() (*State, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out State
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	out.ensureMaps()
	return &out, nil
}

func (s *State) ensureMaps() {
	if s.Workflows == nil {
		s.Workflows = make(map[string]*WorkflowEntry)
	}
	if s.Variables == nil {
		s.Variables = make(map[string]any)
	}
	if s.Temp == nil {
		s.Temp = make(map[string]any)
	}
}

// Workflow returns the current workflow entry, or nil.
func (s *State) Workflow() *WorkflowEntry {
	if s.CurrentWorkflow == "" {
		return nil
	}
	return s.Workflows[s.CurrentWorkflow]
}

// WorkflowVariables returns the variables of the current workflow, falling
// back to conversation variables when no workflow is active.
func (s *State) WorkflowVariables() map[string]any {
	s.ensureMaps()
	wf := s.Workflow()
	if wf == nil {
		return s.Variables
	}
	if wf.Variables == nil {
		wf.Variables = make(map[string]any)
	}
	return wf.Variables
}

// RememberEvent appends ev to the bounded recent-event window.
func (s *State) RememberEvent(ev Event, limit int) {
	if limit <= 0 {
		return
	}
	s.RecentEvents = append(s.RecentEvents, ev)
	if over := len(s.RecentEvents) - limit; over > 0 {
		s.RecentEvents = append([]Event(nil), s.RecentEvents[over:]...)
	}
}

// ============================================================================
// Events & Outputs
// ============================================================================

type EventType string

const (
	EventTypeText       EventType = "text"
	EventTypeQuickReply EventType = "quick_reply"
	EventTypePostback   EventType = "postback"
	EventTypeTimeout    EventType = "timeout"
)

// ElectedTrigger is the trigger an upstream classifier elected for the event.
type ElectedTrigger struct {
	Flow       string  `json:"flow"`
	Node       string  `json:"node,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Event is the immutable input of a turn.
type Event struct {
	ID             kernel.EventID        `json:"id"`
	BotID          kernel.BotID          `json:"bot_id"`
	ConversationID kernel.ConversationID `json:"conversation_id"`
	Type           EventType             `json:"type"`
	Text           string                `json:"text,omitempty"`
	Payload        map[string]any        `json:"payload,omitempty"`
	Elected        *ElectedTrigger       `json:"elected,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

type OutputType string

const (
	OutputSay    OutputType = "say"
	OutputCustom OutputType = "custom"
)

// Output is a side effect produced by a turn for the host to deliver.
type Output struct {
	Type    OutputType     `json:"type"`
	Text    string         `json:"text,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ============================================================================
// Turn Results
// ============================================================================

type TurnStatus string

const (
	TurnWaiting TurnStatus = "waiting"
	TurnEnded   TurnStatus = "ended"
	TurnFailed  TurnStatus = "failed"
)

// TurnResult is what one engine turn produced.
// On failure State is the state the turn started from.
type TurnResult struct {
	State   *State     `json:"state"`
	Outputs []Output   `json:"outputs"`
	Status  TurnStatus `json:"status"`
	Err     error      `json:"-"`
}
