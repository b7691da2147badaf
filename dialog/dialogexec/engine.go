package dialogexec

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/Abraxas-365/craftable/logx"
)

// LoopScope selects which part of the trace the loop detector scans.
type LoopScope string

const (
	// LoopScopeContext scans every visit since the context was initialized.
	LoopScopeContext LoopScope = "context"
	// LoopScopeTurn scans only the visits of the running turn.
	LoopScopeTurn LoopScope = "turn"
)

// Config configuración del motor
type Config struct {
	DefaultFlow         string
	NDUFallbackFlow     string
	NDUEnabled          bool           // trigger classification for every bot
	NDUBots             []kernel.BotID // trigger classification for these bots only
	ErrorFlow           string
	TimeoutFlow         string
	ReusableNamespaces  []string
	PromptHistoryWindow int
	LoopScope           LoopScope
	MaxSteps            int
}

func (c *Config) applyDefaults() {
	if c.DefaultFlow == "" {
		c.DefaultFlow = "main.flow.json"
	}
	if c.NDUFallbackFlow == "" {
		c.NDUFallbackFlow = "misunderstood.flow.json"
	}
	if c.ErrorFlow == "" {
		c.ErrorFlow = "error.flow.json"
	}
	if c.TimeoutFlow == "" {
		c.TimeoutFlow = "timeout.flow.json"
	}
	if c.ReusableNamespaces == nil {
		c.ReusableNamespaces = []string{"skills/"}
	}
	if c.PromptHistoryWindow == 0 {
		c.PromptHistoryWindow = 3
	}
	if c.LoopScope == "" {
		c.LoopScope = LoopScopeContext
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = 1000
	}
}

// nduEnabled reports whether conversations of botID start in the NDU
// fallback flow.
func (c *Config) nduEnabled(botID kernel.BotID) bool {
	if c.NDUEnabled {
		return true
	}
	for _, b := range c.NDUBots {
		if b == botID {
			return true
		}
	}
	return false
}

// Engine interprets flows one turn at a time.
type Engine struct {
	flows        dialog.FlowRepository
	instructions dialog.InstructionProcessor
	prompts      dialog.PromptProcessor
	hooks        dialog.HookService
	onError      dialog.ErrorReporter
	cfg          Config
}

var _ dialog.Engine = (*Engine)(nil)

type Option func(*Engine)

// WithHooks sets the hook service used before timeouts.
func WithHooks(hooks dialog.HookService) Option {
	return func(e *Engine) { e.hooks = hooks }
}

// WithErrorReporter registers the callback for fatal turn errors.
func WithErrorReporter(fn dialog.ErrorReporter) Option {
	return func(e *Engine) { e.onError = fn }
}

func New(
	flows dialog.FlowRepository,
	instructions dialog.InstructionProcessor,
	prompts dialog.PromptProcessor,
	cfg Config,
	opts ...Option,
) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		flows:        flows,
		instructions: instructions,
		prompts:      prompts,
		cfg:          cfg,
		onError:      LogReporter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LogReporter is the default ErrorReporter.
func LogReporter(err error, hideStack bool) {
	if hideStack {
		logx.Error("dialog turn aborted: %v", err)
		return
	}
	logx.Error("dialog turn failed: %+v", err)
}

// ============================================================================
// Public API
// ============================================================================

// ProcessEvent runs one turn. Flow and processing errors are reported to
// the error callback and recorded in the result; the returned state is then
// the one passed in. The error return is reserved for failures to load flows.
func (e *Engine) ProcessEvent(ctx context.Context, state *dialog.State, event dialog.Event) (*dialog.TurnResult, error) {
	r, err := e.newRunner(ctx, state, event)
	if err != nil {
		return nil, err
	}
	return e.finish(state, r, r.run(ctx)), nil
}

// ProcessTimeout recovers a conversation after inactivity. A pending prompt
// is told it timed out; otherwise the first resolvable timeout destination
// is jumped to. TimeoutNodeNotFoundError is returned to the caller.
func (e *Engine) ProcessTimeout(ctx context.Context, state *dialog.State, event dialog.Event) (*dialog.TurnResult, error) {
	r, err := e.newRunner(ctx, state, event)
	if err != nil {
		return nil, err
	}
	st := r.turn.State

	if p := st.Context.ActivePrompt; p != nil && p.Status == dialog.PromptStatusPending {
		p.TimedOut = true
		return e.finish(state, r, r.run(ctx)), nil
	}

	if e.hooks != nil {
		payload := dialog.HookPayload{
			BotID:          st.BotID,
			ConversationID: st.ConversationID,
			Event:          event,
			State:          st,
		}
		if err := e.hooks.ExecuteHook(ctx, dialog.HookBeforeSessionTimeout, payload); err != nil {
			logx.Error("before_session_timeout hook failed for %s: %v", st.Key(), err)
		}
	}

	target, err := e.resolveTimeoutTarget(r.flows, st)
	if err != nil {
		return nil, err
	}
	r.jump(target.flow, target.node)

	return e.finish(state, r, r.run(ctx)), nil
}

// Jump moves the context to flow/node. An empty node means the flow's start
// node. On-receive actions of the target are skipped.
func (e *Engine) Jump(ctx context.Context, state *dialog.State, flow, node string) error {
	flows, err := e.flows.Flows(ctx, state.BotID)
	if err != nil {
		return err
	}
	r := &runner{e: e, flows: flows, turn: dialog.NewTurn(dialog.Event{}, state, flows)}
	f, n, err := r.lookup(flow, node)
	if err != nil {
		return err
	}
	r.jump(f, n)
	return nil
}

func (e *Engine) newRunner(ctx context.Context, state *dialog.State, event dialog.Event) (*runner, error) {
	flows, err := e.flows.Flows(ctx, state.BotID)
	if err != nil {
		return nil, err
	}
	working, err := state.Clone()
	if err != nil {
		return nil, dialog.ErrStateCorrupted().WithCause(err)
	}
	return &runner{
		e:          e,
		flows:      flows,
		turn:       dialog.NewTurn(event, working, flows),
		traceStart: len(working.Context.Trace),
	}, nil
}

func (e *Engine) finish(original *dialog.State, r *runner, res outcome) *dialog.TurnResult {
	if res.err != nil {
		var flowErr *dialog.FlowError
		hideStack := errors.As(res.err, &flowErr)
		if e.onError != nil {
			e.onError(res.err, hideStack)
		}
		return &dialog.TurnResult{
			State:   original,
			Outputs: r.turn.Outputs(),
			Status:  dialog.TurnFailed,
			Err:     res.err,
		}
	}
	return &dialog.TurnResult{
		State:   r.turn.State,
		Outputs: r.turn.Outputs(),
		Status:  res.status,
	}
}

// ============================================================================
// Turn runner
// ============================================================================

type outcome struct {
	status dialog.TurnStatus
	err    error
}

type runner struct {
	e     *Engine
	flows *dialog.FlowSet
	turn  *dialog.Turn

	steps         int
	traceStart    int
	transitioned  bool
	handlingError bool
}

func (r *runner) ctx() *dialog.DialogContext {
	return &r.turn.State.Context
}

// run is the trampoline: every iteration resolves the current position
// again, so continuing, transitioning and jumping never grow the stack.
func (r *runner) run(ctx context.Context) outcome {
	if r.ctx().IsEmpty() {
		if err := r.initContext(); err != nil {
			return outcome{err: err}
		}
	}

	for {
		r.steps++
		if r.steps > r.e.cfg.MaxSteps {
			dc := r.ctx()
			return outcome{err: &dialog.FlowError{
				BotID:  r.turn.State.BotID.String(),
				Flow:   dc.CurrentFlow,
				Node:   dc.CurrentNode,
				Reason: fmt.Sprintf("more than %d steps in one turn", r.e.cfg.MaxSteps),
				Err:    dialog.ErrStepLimit,
			}}
		}

		status, done, err := r.step(ctx)
		if err != nil {
			if err = r.recover(err); err != nil {
				return outcome{err: err}
			}
			continue
		}
		if done {
			return outcome{status: status}
		}
	}
}

// step executes one state of the turn machine. done reports that the turn
// ended in status.
func (r *runner) step(ctx context.Context) (status dialog.TurnStatus, done bool, err error) {
	dc := r.ctx()

	flow, node, err := r.lookup(dc.CurrentFlow, dc.CurrentNode)
	if err != nil {
		return "", false, err
	}
	r.markOutcome(node)

	if p := dc.ActivePrompt; p != nil && p.Node != node.Name {
		dc.ActivePrompt = nil
	}
	if node.Kind == dialog.NodeKindPrompt && node.Prompt != nil && (dc.ActivePrompt != nil || dc.Queue == nil) {
		res, err := r.prompt(ctx, flow, node)
		if err != nil {
			return "", false, err
		}
		switch res {
		case promptListen:
			// the jump is complete once the prompt owns the node
			dc.HasJumped = false
			return dialog.TurnWaiting, true, nil
		case promptJumped:
			return "", false, nil
		}
	}

	returning := r.exitingSubflow(flow, node)
	if node.Kind == dialog.NodeKindSubflow && node.Subflow != nil && dc.Queue == nil && !returning {
		return "", false, r.enterSubflow(flow, node)
	}

	if dc.Queue == nil || dc.HasJumped {
		builder := dialog.NewQueueBuilder(node)
		if dc.HasJumped {
			builder.HasJumped()
			dc.HasJumped = false
		}
		dc.Queue = builder.Build()
	}

	instruction, ok := dc.Queue.Dequeue()
	if !ok {
		r.endContext()
		return dialog.TurnEnded, true, nil
	}

	if instruction.Type == dialog.InstructionWait {
		return dialog.TurnWaiting, true, nil
	}

	result, err := r.e.instructions.Process(ctx, r.turn, instruction)
	if err != nil {
		return "", false, r.processingError(flow, node, &instruction, err)
	}

	switch result.FollowUp {
	case dialog.FollowUpWait:
		return dialog.TurnWaiting, true, nil
	case dialog.FollowUpTransition:
		to := result.TransitionTo
		if to == nil {
			to = instruction.To
		}
		if to == nil || !to.IsValid() {
			return "", false, r.processingError(flow, node, &instruction, fmt.Errorf("transition without destination"))
		}
		remaining := dc.Queue
		dc.Queue = nil
		r.transitioned = true
		ended, stayed, err := r.transition(*to)
		if err != nil {
			return "", false, err
		}
		if ended {
			return dialog.TurnEnded, true, nil
		}
		if stayed {
			dc.Queue = remaining
			return dialog.TurnWaiting, true, nil
		}
		return "", false, nil
	default:
		return "", false, nil
	}
}

// recover redirects transition-time flow errors to the error flow, once.
func (r *runner) recover(err error) error {
	var flowErr *dialog.FlowError
	if !errors.As(err, &flowErr) || flowErr.IsLoop() || !r.transitioned || r.handlingError {
		return err
	}

	st := r.turn.State
	errorFlow := st.OnErrorFlowTo
	if errorFlow == "" {
		errorFlow = r.e.cfg.ErrorFlow
	}
	log.Printf("⚠️ transition failed for %s, redirecting to %s: %v", st.Key(), errorFlow, err)

	r.handlingError = true
	st.Temp[dialog.TempError] = map[string]any{
		"type":    "dialog-transition",
		"message": err.Error(),
	}
	r.ctx().Queue = nil
	if _, _, redirectErr := r.transition(dialog.EnterFlow(errorFlow)); redirectErr != nil {
		return redirectErr
	}
	return nil
}

func (r *runner) processingError(flow *dialog.Flow, node *dialog.Node, instruction *dialog.Instruction, err error) error {
	return &dialog.ProcessingError{
		BotID:       r.turn.State.BotID.String(),
		Flow:        flow.Name,
		Node:        node.Name,
		Instruction: instruction,
		Err:         err,
	}
}

// ============================================================================
// Position helpers
// ============================================================================

func (r *runner) lookup(flowName, nodeName string) (*dialog.Flow, *dialog.Node, error) {
	flow, ok := r.flows.Flow(flowName)
	if !ok {
		return nil, nil, r.flowError(flowName, nodeName, "flow not found")
	}
	if nodeName == "" {
		nodeName = flow.StartNode
	}
	node, ok := flow.Node(nodeName)
	if !ok {
		return nil, nil, r.flowError(flowName, nodeName, "node not found")
	}
	return flow, node, nil
}

func (r *runner) flowError(flow, node, reason string) *dialog.FlowError {
	return &dialog.FlowError{
		BotID:  r.turn.State.BotID.String(),
		Flow:   flow,
		Node:   node,
		Reason: reason,
	}
}

func (r *runner) initContext() error {
	name := r.e.cfg.DefaultFlow
	if r.e.cfg.nduEnabled(r.turn.State.BotID) {
		name = r.e.cfg.NDUFallbackFlow
	}
	flow, node, err := r.lookup(name, "")
	if err != nil {
		return err
	}

	r.turn.State.Context = dialog.DialogContext{
		CurrentFlow: flow.Name,
		CurrentNode: node.Name,
		Trace:       []dialog.TraceEntry{{Flow: flow.Name, Node: node.Name}},
	}
	r.traceStart = 0
	r.enterWorkflow(flow.Name, false)
	return nil
}

func (r *runner) endContext() {
	st := r.turn.State
	if wf := st.Workflow(); wf != nil {
		wf.Status = dialog.WorkflowCompleted
	}
	st.CurrentWorkflow = ""
	st.Context = dialog.DialogContext{}
	st.Temp = make(map[string]any)
	r.traceStart = 0
}

// visit appends a trace entry, checking for loops first unless an error is
// being handled. The context is untouched when a loop is found.
func (r *runner) visit(flow, node string, check bool) error {
	dc := r.ctx()
	entry := dialog.TraceEntry{Flow: flow, Node: node}
	if check && !r.handlingError {
		candidate := append(append([]dialog.TraceEntry(nil), dc.Trace...), entry)
		scanned := candidate
		if r.e.cfg.LoopScope == LoopScopeTurn && r.traceStart <= len(dc.Trace) {
			scanned = candidate[r.traceStart:]
		}
		if err := dialog.DetectLoop(scanned); err != nil {
			var flowErr *dialog.FlowError
			if errors.As(err, &flowErr) {
				flowErr.BotID = r.turn.State.BotID.String()
			}
			return err
		}
	}
	dc.Trace = append(dc.Trace, entry)
	return nil
}

// jump moves the context without pushing a jump point. On-receive actions
// of the target are skipped.
func (r *runner) jump(flow *dialog.Flow, node *dialog.Node) {
	dc := r.ctx()
	dc.CurrentFlow = flow.Name
	dc.CurrentNode = node.Name
	dc.Queue = nil
	dc.ActivePrompt = nil
	dc.HasJumped = true
	dc.Trace = append(dc.Trace, dialog.TraceEntry{Flow: flow.Name, Node: node.Name})
	r.enterWorkflow(flow.Name, false)
}

func (r *runner) isReusable(flow *dialog.Flow) bool {
	for _, ns := range r.e.cfg.ReusableNamespaces {
		if ns != "" && strings.HasPrefix(flow.Name, ns) {
			return true
		}
	}
	return false
}
