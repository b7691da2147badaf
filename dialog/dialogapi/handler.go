package dialogapi

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

// ActiveCounter cuenta conversaciones con contexto activo
type ActiveCounter interface {
	CountActive(ctx context.Context, botID kernel.BotID) (int, error)
}

// DialogHandler exposes the conversation service and the flow repository.
type DialogHandler struct {
	conversations dialog.ConversationService
	flows         dialog.FlowRepository
	counter       ActiveCounter
}

func NewDialogHandler(
	conversations dialog.ConversationService,
	flows dialog.FlowRepository,
	counter ActiveCounter,
) *DialogHandler {
	return &DialogHandler{
		conversations: conversations,
		flows:         flows,
		counter:       counter,
	}
}

// EventRequest is the body of POST .../events
type EventRequest struct {
	ID      string                 `json:"id,omitempty"`
	Type    dialog.EventType       `json:"type,omitempty"`
	Text    string                 `json:"text,omitempty"`
	Payload map[string]any         `json:"payload,omitempty"`
	Elected *dialog.ElectedTrigger `json:"elected,omitempty"`
}

// JumpRequest is the body of POST .../jump
type JumpRequest struct {
	Flow string `json:"flow"`
	Node string `json:"node,omitempty"`
}

// TurnResponse summarizes one turn.
type TurnResponse struct {
	Status      dialog.TurnStatus `json:"status"`
	Outputs     []dialog.Output   `json:"outputs"`
	CurrentFlow string            `json:"current_flow,omitempty"`
	CurrentNode string            `json:"current_node,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func toTurnResponse(res *dialog.TurnResult) TurnResponse {
	out := TurnResponse{
		Status:  res.Status,
		Outputs: res.Outputs,
	}
	if out.Outputs == nil {
		out.Outputs = []dialog.Output{}
	}
	if res.State != nil {
		out.CurrentFlow = res.State.Context.CurrentFlow
		out.CurrentNode = res.State.Context.CurrentNode
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func conversationKey(c *fiber.Ctx) kernel.ConversationKey {
	return kernel.NewConversationKey(
		kernel.NewBotID(c.Params("botId")),
		kernel.NewConversationID(c.Params("conversationId")),
	)
}

// HandleEvent runs one turn.
// POST /api/v1/bots/:botId/conversations/:conversationId/events
func (h *DialogHandler) HandleEvent(c *fiber.Ctx) error {
	key := conversationKey(c)

	var req EventRequest
	if err := c.BodyParser(&req); err != nil {
		return dialog.ErrInvalidEvent().WithDetail("reason", "invalid body").WithCause(err)
	}

	log.Printf("📥 Event for %s (type: %s)", key, req.Type)

	res, err := h.conversations.HandleEvent(c.Context(), dialog.Event{
		ID:             kernel.NewEventID(req.ID),
		BotID:          key.BotID,
		ConversationID: key.ConversationID,
		Type:           req.Type,
		Text:           req.Text,
		Payload:        req.Payload,
		Elected:        req.Elected,
	})
	if err != nil {
		return err
	}
	return c.JSON(toTurnResponse(res))
}

// HandleTimeout runs the timeout turn now.
// POST /api/v1/bots/:botId/conversations/:conversationId/timeout
func (h *DialogHandler) HandleTimeout(c *fiber.Ctx) error {
	res, err := h.conversations.HandleTimeout(c.Context(), conversationKey(c))
	if err != nil {
		if dialog.IsTimeoutNodeNotFound(err) {
			return dialog.ErrTimeoutNodeNotFound().WithCause(err)
		}
		return err
	}
	return c.JSON(toTurnResponse(res))
}

// Jump mueve la conversación a otro nodo
// POST /api/v1/bots/:botId/conversations/:conversationId/jump
func (h *DialogHandler) Jump(c *fiber.Ctx) error {
	var req JumpRequest
	if err := c.BodyParser(&req); err != nil || !strings.HasSuffix(req.Flow, dialog.FlowSuffix) {
		return dialog.ErrInvalidEvent().WithDetail("reason", "flow is required")
	}

	state, err := h.conversations.Jump(c.Context(), conversationKey(c), req.Flow, req.Node)
	if err != nil {
		var flowErr *dialog.FlowError
		if errors.As(err, &flowErr) {
			return dialog.ErrNodeNotFound().
				WithDetail("flow", req.Flow).
				WithDetail("node", req.Node).
				WithCause(err)
		}
		return err
	}
	return c.JSON(state)
}

// GET /api/v1/bots/:botId/conversations/:conversationId/state
func (h *DialogHandler) GetState(c *fiber.Ctx) error {
	state, err := h.conversations.GetState(c.Context(), conversationKey(c))
	if err != nil {
		return err
	}
	return c.JSON(state)
}

// DELETE /api/v1/bots/:botId/conversations/:conversationId/state
func (h *DialogHandler) ResetState(c *fiber.Ctx) error {
	if err := h.conversations.Reset(c.Context(), conversationKey(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListFlows returns the flow names of a bot.
// GET /api/v1/bots/:botId/flows
func (h *DialogHandler) ListFlows(c *fiber.Ctx) error {
	botID := kernel.NewBotID(c.Params("botId"))
	set, err := h.flows.Flows(c.Context(), botID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"bot_id": botID,
		"flows":  set.Names(),
	})
}

// ReloadFlows recompiles the flows of a bot.
// POST /api/v1/bots/:botId/flows/reload
func (h *DialogHandler) ReloadFlows(c *fiber.Ctx) error {
	botID := kernel.NewBotID(c.Params("botId"))
	set, err := h.flows.Reload(c.Context(), botID)
	if err != nil {
		return err
	}
	log.Printf("🔄 Flows reloaded for bot %s", botID)
	return c.JSON(fiber.Map{
		"bot_id": botID,
		"flows":  set.Names(),
	})
}

// DELETE /api/v1/bots/:botId/flows/cache
func (h *DialogHandler) InvalidateFlows(c *fiber.Ctx) error {
	h.flows.Invalidate(kernel.NewBotID(c.Params("botId")))
	return c.SendStatus(fiber.StatusNoContent)
}

// GET /api/v1/bots/:botId/stats
func (h *DialogHandler) Stats(c *fiber.Ctx) error {
	if h.counter == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": "Stats are not available for this state backend",
		})
	}
	botID := kernel.NewBotID(c.Params("botId"))
	active, err := h.counter.CountActive(c.Context(), botID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"bot_id":               botID,
		"active_conversations": active,
	})
}
