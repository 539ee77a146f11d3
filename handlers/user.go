package handlers

import (
	"run-dao-backend/middleware"
	"run-dao-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupUserRoutes(app *fiber.App, userService *services.UserService) {
	// 🔓 Public routes — provisioning comes from the identity gateway
	app.Post("/users", userService.CreateUser)
	app.Get("/users", userService.ListUsers)
	app.Get("/users/wallet/:address", userService.GetUserByWallet)
	app.Get("/users/:id", userService.GetUser)

	// 🔐 Secured routes
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Get("/users/me", userService.GetMe)
	secured.Patch("/users/me", userService.UpdateMe)
}
