package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/socialverse/social-verse/handlers"
	"github.com/socialverse/social-verse/middleware"
)

func ProfileRoutes(app *fiber.App) {
	api := app.Group("/api/v1")

	api.Get("/profile", middleware.Protected(), handlers.GetProfile)
	api.Put("/profile", middleware.Protected(), handlers.UpdateProfile)
	api.Get("/uploads/signature", middleware.Protected(), handlers.GenerateUploadSignature)

	users := api.Group("/users", middleware.Protected())
	users.Post("/:username/follow", handlers.FollowUser)
	users.Post("/:username/unfollow", handlers.UnfollowUser)
}
