package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type SendMessageRequest struct {
	Text            string `json:"text" validate:"required"`
	ClientMessageID string `json:"clientMessageId" validate:"required,max=64"`
}

// SocketToken issues the short-lived token a client presents when
// opening the realtime channel.
func SocketToken(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return respondError(c, err)
	}

	token, err := issueSocketToken(userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create socket token"})
	}
	return c.JSON(fiber.Map{"token": token})
}

// EligibleUsers lists everyone the caller may message: the union of
// their followers and the users they follow.
func EligibleUsers(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return respondError(c, err)
	}

	users, err := dm.EligibleUsers(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"users": users})
}

// OpenConversation resolves or lazily creates the conversation between
// the caller and the user named in the path.
func OpenConversation(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return respondError(c, err)
	}

	conv, other, err := dm.OpenConversation(c.UserContext(), userID, c.Params("username"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"conversationId": conv.ID, "other": other})
}

func GetConversations(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return respondError(c, err)
	}

	summaries, err := dm.ListConversations(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"conversations": summaries})
}

func GetConversationMessages(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return respondError(c, err)
	}
	conversationID, err := uuid.Parse(c.Params("conversationId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation ID"})
	}

	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	messages, err := dm.ListMessages(c.UserContext(), conversationID, userID, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"messages": messages})
}

// SendMessage is the REST append path. A replayed clientMessageId
// answers 409 carrying the original message so the client can
// reconcile without refetching.
func SendMessage(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return respondError(c, err)
	}
	conversationID, err := uuid.Parse(c.Params("conversationId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation ID"})
	}

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	msg, duplicate, err := dm.Append(c.UserContext(), conversationID, userID, req.Text, req.ClientMessageID)
	if err != nil {
		return respondError(c, err)
	}
	if duplicate {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Duplicate message", "message": msg})
	}
	return c.JSON(fiber.Map{"message": msg})
}

// MarkConversationSeen stamps every unseen message addressed to the
// caller in the conversation. Safe to repeat.
func MarkConversationSeen(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return respondError(c, err)
	}
	conversationID, err := uuid.Parse(c.Params("conversationId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation ID"})
	}

	if _, err := dm.MarkSeen(c.UserContext(), conversationID, userID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func UnreadCount(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return respondError(c, err)
	}

	count, err := dm.CountUnread(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"unreadCount": count})
}
