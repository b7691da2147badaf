package dialog

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Abraxas-365/craftable/errx"
)

var ErrRegistry = errx.NewRegistry("DIALOG")

var (
	// State errors
	CodeStateNotFound      = ErrRegistry.Register("STATE_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Conversation state not found")
	CodeStateCorrupted     = ErrRegistry.Register("STATE_CORRUPTED", errx.TypeInternal, http.StatusInternalServerError, "Conversation state could not be decoded")
	CodeConversationLocked = ErrRegistry.Register("CONVERSATION_LOCKED", errx.TypeConflict, http.StatusConflict, "Conversation is being processed")

	// Flow errors
	CodeFlowNotFound          = ErrRegistry.Register("FLOW_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Flow not found")
	CodeNodeNotFound          = ErrRegistry.Register("NODE_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Node not found")
	CodeInvalidFlowDefinition = ErrRegistry.Register("INVALID_FLOW_DEFINITION", errx.TypeValidation, http.StatusBadRequest, "Invalid flow definition")
	CodeFlowSourceFailed      = ErrRegistry.Register("FLOW_SOURCE_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Flows could not be loaded")

	// Turn errors
	CodeInvalidEvent        = ErrRegistry.Register("INVALID_EVENT", errx.TypeValidation, http.StatusBadRequest, "Invalid event")
	CodeTimeoutNodeNotFound = ErrRegistry.Register("TIMEOUT_NODE_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "No timeout destination could be resolved")
	CodeActionNotFound      = ErrRegistry.Register("ACTION_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Action not registered")
	CodeInvalidCondition    = ErrRegistry.Register("INVALID_CONDITION", errx.TypeValidation, http.StatusBadRequest, "Transition condition could not be evaluated")
	CodeInvalidActionParams = ErrRegistry.Register("INVALID_ACTION_PARAMS", errx.TypeValidation, http.StatusBadRequest, "Action params are invalid")
	CodePromptTypeNotFound  = ErrRegistry.Register("PROMPT_TYPE_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Prompt type not registered")
)

// Error constructor functions
func ErrStateNotFound() *errx.Error {
	return ErrRegistry.New(CodeStateNotFound)
}

func ErrStateCorrupted() *errx.Error {
	return ErrRegistry.New(CodeStateCorrupted)
}

func ErrConversationLocked() *errx.Error {
	return ErrRegistry.New(CodeConversationLocked)
}

func ErrFlowNotFound() *errx.Error {
	return ErrRegistry.New(CodeFlowNotFound)
}

func ErrNodeNotFound() *errx.Error {
	return ErrRegistry.New(CodeNodeNotFound)
}

func ErrInvalidFlowDefinition() *errx.Error {
	return ErrRegistry.New(CodeInvalidFlowDefinition)
}

func ErrFlowSourceFailed() *errx.Error {
	return ErrRegistry.New(CodeFlowSourceFailed)
}

func ErrInvalidEvent() *errx.Error {
	return ErrRegistry.New(CodeInvalidEvent)
}

func ErrTimeoutNodeNotFound() *errx.Error {
	return ErrRegistry.New(CodeTimeoutNodeNotFound)
}

func ErrActionNotFound() *errx.Error {
	return ErrRegistry.New(CodeActionNotFound)
}

func ErrInvalidCondition() *errx.Error {
	return ErrRegistry.New(CodeInvalidCondition)
}

func ErrInvalidActionParams() *errx.Error {
	return ErrRegistry.New(CodeInvalidActionParams)
}

func ErrPromptTypeNotFound() *errx.Error {
	return ErrRegistry.New(CodePromptTypeNotFound)
}

// ============================================================================
// Engine Errors
// ============================================================================

var (
	// ErrInfiniteLoop is wrapped by the FlowError raised by DetectLoop.
	ErrInfiniteLoop = errors.New("infinite loop detected")
	// ErrStepLimit is wrapped when a single turn visits too many nodes.
	ErrStepLimit = errors.New("turn step limit exceeded")
)

// FlowError means the flow graph could not be followed: an unresolved flow
// or node, or a detected loop. It is fatal to the turn.
type FlowError struct {
	BotID  string
	Flow   string
	Node   string
	Reason string
	Path   []TraceEntry
	Err    error
}

func (e *FlowError) Error() string {
	var b strings.Builder
	b.WriteString("flow error")
	if e.Flow != "" {
		fmt.Fprintf(&b, " in %s", e.Flow)
		if e.Node != "" {
			fmt.Fprintf(&b, "/%s", e.Node)
		}
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Path) > 0 {
		parts := make([]string, len(e.Path))
		for i, p := range e.Path {
			parts[i] = p.String()
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(parts, " -> "))
		b.WriteString("]")
	}
	if e.Err != nil && e.Reason == "" {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *FlowError) Unwrap() error { return e.Err }

// IsLoop reports whether the error comes from loop detection or the step limit.
func (e *FlowError) IsLoop() bool {
	return errors.Is(e.Err, ErrInfiniteLoop) || errors.Is(e.Err, ErrStepLimit)
}

// ProcessingError wraps a failure of the instruction or prompt processor.
type ProcessingError struct {
	BotID       string
	Flow        string
	Node        string
	Instruction *Instruction
	Err         error
}

func (e *ProcessingError) Error() string {
	where := e.Flow + "/" + e.Node
	if e.Instruction != nil {
		what := string(e.Instruction.Type)
		if e.Instruction.Action != nil {
			what += " " + e.Instruction.Action.Name
		} else if e.Instruction.To != nil {
			what += " " + e.Instruction.To.String()
		}
		return fmt.Sprintf("processing error in bot %s at %s (%s): %v", e.BotID, where, what, e.Err)
	}
	return fmt.Sprintf("processing error in bot %s at %s: %v", e.BotID, where, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// TimeoutNodeNotFoundError means no timeout destination resolved.
type TimeoutNodeNotFoundError struct {
	BotID string
	Flow  string
	Node  string
}

func (e *TimeoutNodeNotFoundError) Error() string {
	return fmt.Sprintf("no timeout node found for bot %s at %s/%s", e.BotID, e.Flow, e.Node)
}

// IsTimeoutNodeNotFound reports whether err is, or wraps, a TimeoutNodeNotFoundError.
func IsTimeoutNodeNotFound(err error) bool {
	var target *TimeoutNodeNotFoundError
	return errors.As(err, &target)
}
