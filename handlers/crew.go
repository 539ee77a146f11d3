package handlers

import (
	"run-dao-backend/middleware"
	"run-dao-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupCrewRoutes(app *fiber.App, crewService *services.CrewService) {
	// 🔓 Public routes
	app.Get("/crews", crewService.ListCrews)
	app.Get("/crews/:id", crewService.GetCrew)
	app.Get("/crews/:id/quests", crewService.ListCrewQuests)

	// 🔐 Secured routes
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Post("/crews", crewService.CreateCrew)
	secured.Post("/crews/:id/join", crewService.JoinCrew)
	secured.Post("/crews/:id/leave", crewService.LeaveCrew)
	secured.Post("/crews/:id/members/:userId/approve", crewService.ApproveMember)
}
