package dialog

import (
	"context"
	"time"

	"github.com/Abraxas-365/convo/pkg/kernel"
)

// ============================================================================
// Repository Interfaces
// ============================================================================

// FlowSource loads the raw flow definitions of a bot.
type FlowSource interface {
	LoadAll(ctx context.Context, botID kernel.BotID) ([]Flow, error)
}

// FlowRepository serves compiled flow sets, cached per bot.
type FlowRepository interface {
	Flows(ctx context.Context, botID kernel.BotID) (*FlowSet, error)
	Reload(ctx context.Context, botID kernel.BotID) (*FlowSet, error)
	Invalidate(botID kernel.BotID)
}

// StateRepository persistencia del estado de conversación
type StateRepository interface {
	Get(ctx context.Context, key kernel.ConversationKey) (*State, error)
	Save(ctx context.Context, state *State) error
	Delete(ctx context.Context, key kernel.ConversationKey) error

	// FindInactive returns conversations whose ExpiresAt is at or before now.
	FindInactive(ctx context.Context, now time.Time, limit int) ([]kernel.ConversationKey, error)
}

// Unlock releases a lock taken by Locker.
type Unlock func()

// Locker serializes turns of one conversation.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// ============================================================================
// Processor Interfaces
// ============================================================================

// InstructionProcessor runs one instruction and reports the follow-up.
type InstructionProcessor interface {
	Process(ctx context.Context, turn *Turn, instruction Instruction) (ProcessResult, error)
}

// PromptProcessor drives one slot-filling attempt.
type PromptProcessor interface {
	ProcessPrompt(ctx context.Context, input PromptInput) (PromptResult, error)
}

// HookType identifica un hook
type HookType string

const (
	HookBeforeSessionTimeout HookType = "before_session_timeout"
)

// HookPayload is handed to hooks. State may be modified by the hook.
type HookPayload struct {
	BotID          kernel.BotID
	ConversationID kernel.ConversationID
	Event          Event
	State          *State
}

// HookService dispatches lifecycle hooks.
type HookService interface {
	ExecuteHook(ctx context.Context, hook HookType, payload HookPayload) error
}

// ErrorReporter receives fatal turn errors. hideStack is set for errors
// caused by the flow graph rather than by code.
type ErrorReporter func(err error, hideStack bool)

// ============================================================================
// Engine & Service Interfaces
// ============================================================================

// Engine runs turns over a conversation state.
type Engine interface {
	ProcessEvent(ctx context.Context, state *State, event Event) (*TurnResult, error)
	ProcessTimeout(ctx context.Context, state *State, event Event) (*TurnResult, error)
	Jump(ctx context.Context, state *State, flow, node string) error
}

// ConversationService is the host-facing entry point.
type ConversationService interface {
	HandleEvent(ctx context.Context, event Event) (*TurnResult, error)
	HandleTimeout(ctx context.Context, key kernel.ConversationKey) (*TurnResult, error)
	Jump(ctx context.Context, key kernel.ConversationKey, flow, node string) (*State, error)
	GetState(ctx context.Context, key kernel.ConversationKey) (*State, error)
	Reset(ctx context.Context, key kernel.ConversationKey) error
}
