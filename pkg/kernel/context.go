package kernel

import "context"

// ============================================================================
// Context Keys - Claves para context.Context
// ============================================================================

type ContextKey string

// ConversationContextKey es la clave para almacenar ConversationKey
const ConversationContextKey ContextKey = "conversation"

// WithConversation attaches the conversation key to ctx so ports can log it.
func WithConversation(ctx context.Context, key ConversationKey) context.Context {
	return context.WithValue(ctx, ConversationContextKey, key)
}

// ConversationFrom returns the key stored by WithConversation.
func ConversationFrom(ctx context.Context) (ConversationKey, bool) {
	key, ok := ctx.Value(ConversationContextKey).(ConversationKey)
	return key, ok
}
