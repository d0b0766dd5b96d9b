package router

import (
	"github.com/labstack/echo/v4"

	"rentalhub/internal/adapter/api/handler"
	"rentalhub/internal/adapter/api/middleware"
)

// SetupChatRouter sets up all chat-related routes (excluding WebSocket)
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, attachmentHandler *handler.AttachmentHandler, authMiddleware *middleware.AuthMiddleware) {
	v1 := e.Group("/v1")
	v1.Use(authMiddleware.Authenticate)

	chatGroup := v1.Group("/chats")

	// Chat management
	chatGroup.POST("", chatHandler.CreateChat)             // POST /v1/chats - Find or create a chat with a counterpart
	chatGroup.GET("", chatHandler.GetUserChats)            // GET /v1/chats - Active chats with unread counts
	chatGroup.PUT("/active", chatHandler.SetActiveChat)    // PUT /v1/chats/active - Focus a chat in the UI
	chatGroup.DELETE("/:id", chatHandler.DeleteChat)       // DELETE /v1/chats/:id - Archive a chat
	chatGroup.PUT("/:id/read", chatHandler.MarkChatAsRead) // PUT /v1/chats/:id/read - Mark chat as read

	// Message management
	chatGroup.POST("/:id/messages", chatHandler.SendMessage)       // POST /v1/chats/:id/messages - Send message
	chatGroup.GET("/:id/messages", chatHandler.GetChatMessages)    // GET /v1/chats/:id/messages - Loaded messages, oldest first
	chatGroup.GET("/:id/archive", chatHandler.GetArchivedMessages) // GET /v1/chats/:id/archive - Messages straight from the remote
	chatGroup.POST("/:id/attachments", attachmentHandler.UploadAttachment) // POST /v1/chats/:id/attachments - Upload a file, returns its URL
	chatGroup.GET("/:id/attachments", attachmentHandler.ListAttachments)   // GET /v1/chats/:id/attachments - Uploaded files, newest first

	v1.POST("/session/logout", chatHandler.Logout)
}
