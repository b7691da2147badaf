package kernel

type BotID string

func NewBotID(id string) BotID  { return BotID(id) }
func (b BotID) String() string { return string(b) }
func (b BotID) IsEmpty() bool  { return string(b) == "" }

type ConversationID string

func NewConversationID(id string) ConversationID { return ConversationID(id) }
func (c ConversationID) String() string          { return string(c) }
func (c ConversationID) IsEmpty() bool           { return string(c) == "" }

type EventID string

func NewEventID(id string) EventID { return EventID(id) }
func (e EventID) String() string   { return string(e) }
func (e EventID) IsEmpty() bool    { return string(e) == "" }

// ConversationKey identifica una conversación dentro de un bot
type ConversationKey struct {
	BotID          BotID          `json:"bot_id"`
	ConversationID ConversationID `json:"conversation_id"`
}

func NewConversationKey(botID BotID, conversationID ConversationID) ConversationKey {
	return ConversationKey{BotID: botID, ConversationID: conversationID}
}

func (k ConversationKey) String() string {
	return string(k.BotID) + ":" + string(k.ConversationID)
}

func (k ConversationKey) IsEmpty() bool {
	return k.BotID.IsEmpty() || k.ConversationID.IsEmpty()
}
