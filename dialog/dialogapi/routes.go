package dialogapi

import (
	"github.com/gofiber/fiber/v2"
)

type DialogRoutes struct {
	handler *DialogHandler
}

func NewDialogRoutes(handler *DialogHandler) *DialogRoutes {
	return &DialogRoutes{
		handler: handler,
	}
}

func (r *DialogRoutes) RegisterRoutes(app *fiber.App) {
	bots := app.Group("/api/v1/bots/:botId")

	conversations := bots.Group("/conversations/:conversationId")
	conversations.Post("/events", r.handler.HandleEvent)
	conversations.Post("/timeout", r.handler.HandleTimeout)
	conversations.Post("/jump", r.handler.Jump)
	conversations.Get("/state", r.handler.GetState)
	conversations.Delete("/state", r.handler.ResetState)

	bots.Get("/flows", r.handler.ListFlows)
	bots.Post("/flows/reload", r.handler.ReloadFlows)
	bots.Delete("/flows/cache", r.handler.InvalidateFlows)

	bots.Get("/stats", r.handler.Stats)
}
