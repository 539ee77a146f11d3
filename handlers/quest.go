package handlers

import (
	"run-dao-backend/middleware"
	"run-dao-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupQuestRoutes(app *fiber.App, questService *services.QuestService) {
	// 🔓 Public routes — no user context, but still behind Gateway auth
	app.Get("/quests", questService.ListQuests)
	app.Get("/quests/:id", questService.GetQuest)
	app.Get("/quests/:id/settlement", questService.GetSettlement)

	// 🔐 Secured routes — require user context (userID, roles)
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Post("/quests", questService.CreateQuest)
	secured.Post("/quests/:id/join", questService.JoinQuest)
	secured.Get("/quests/:id/winners", questService.DeriveWinners)
	secured.Post("/quests/:id/complete", questService.CompleteQuest)
	secured.Post("/quests/:id/cancel", questService.CancelQuest)
}
