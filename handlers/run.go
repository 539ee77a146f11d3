package handlers

import (
	"run-dao-backend/middleware"
	"run-dao-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupRunRoutes(app *fiber.App, runService *services.RunService) {
	// 🔓 Public routes
	app.Get("/runs/:id", runService.GetRun)

	// 🔐 Secured routes
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Post("/runs", runService.IngestRun)
	secured.Get("/runs", runService.ListMyRuns)
	secured.Post("/runs/:id/kudos", runService.GiveKudos)
	secured.Post("/runs/:id/report", runService.ReportRun)

	// 🔒 Admin-only moderation
	admin := secured.Group("/admin")
	admin.Post("/reports/:id/resolve", runService.ResolveReport)
}
