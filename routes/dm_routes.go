package routes

import (
	websocketcontrib "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/socialverse/social-verse/handlers"
	"github.com/socialverse/social-verse/middleware"
)

func MessagingRoutes(app *fiber.App) {
	api := app.Group("/api/v1")

	dm := api.Group("/dm", middleware.Protected())
	dm.Get("/socket-token", handlers.SocketToken)
	dm.Get("/eligible-users", handlers.EligibleUsers)
	dm.Post("/with/:username", handlers.OpenConversation)
	dm.Get("/conversations", handlers.GetConversations)
	dm.Get("/conversations/:conversationId/messages", handlers.GetConversationMessages)
	dm.Post("/conversations/:conversationId/messages", handlers.SendMessage)
	dm.Post("/conversations/:conversationId/seen", handlers.MarkConversationSeen)
	dm.Get("/unread-count", handlers.UnreadCount)

	// Realtime channel; authenticated at handshake time via the token
	// from /dm/socket-token, not the session JWT.
	api.Use("/ws", handlers.SocketUpgrade)
	api.Get("/ws", websocketcontrib.New(handlers.ServeWs))
}
