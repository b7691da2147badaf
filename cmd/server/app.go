package main

import (
	"log"
	"time"

	"github.com/Abraxas-365/craftable/errx/errxfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

const version = "1.0.0"

var startTime = time.Now()

func newApp(c *Container) *fiber.App {
	srv := c.Config.Server
	app := fiber.New(fiber.Config{
		AppName:      "convo",
		ServerHeader: "convo",
		ReadTimeout:  srv.ReadTimeout,
		WriteTimeout: srv.WriteTimeout,
		ErrorHandler: errxfiber.FiberErrorHandler(),
	})

	app.Use(requestid.New())
	if srv.Environment != "test" {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${method} ${path} - ${latency}\n",
		}))
	}
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: srv.CorsOrigins,
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	app.Get("/health", healthHandler(c.HealthCheck))
	app.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"name":     "convo",
			"version":  version,
			"uptime":   time.Since(startTime).String(),
			"services": c.GetServiceNames(),
		})
	})

	c.DialogRoutes.RegisterRoutes(app)
	log.Println("🛣️  Dialog routes registered")

	if srv.Environment == "development" {
		app.Get("/debug/container", func(ctx *fiber.Ctx) error {
			return ctx.JSON(fiber.Map{
				"services":    c.GetServiceNames(),
				"cached_bots": c.CachedBots(),
				"health":      c.HealthCheck(),
			})
		})
	}

	app.Use(func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Route not found",
			"path":  ctx.Path(),
		})
	})
	return app
}

// healthHandler responde 503 si algún componente falla
func healthHandler(check func() map[string]bool) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		services := check()

		status, code := "healthy", fiber.StatusOK
		for _, ok := range services {
			if !ok {
				status, code = "degraded", fiber.StatusServiceUnavailable
				break
			}
		}

		return ctx.Status(code).JSON(fiber.Map{
			"status":    status,
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"services":  services,
			"version":   version,
		})
	}
}
