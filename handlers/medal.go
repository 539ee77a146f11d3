package handlers

import (
	"run-dao-backend/middleware"
	"run-dao-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMedalRoutes(app *fiber.App, medalService *services.MedalService) {
	// 🔓 Public routes
	app.Get("/medals/:id", medalService.GetMedal)

	// 🔐 Secured routes
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Get("/medals", medalService.ListMyMedals)
	secured.Post("/medals/upgrade", medalService.Upgrade)
	secured.Patch("/medals/:id", medalService.UpdateMetadata)
}
