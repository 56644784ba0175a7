package handlers

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/socialverse/social-verse/apperrors"
	"github.com/socialverse/social-verse/services"
	ws "github.com/socialverse/social-verse/websocket"
)

var validate = validator.New()

var (
	dm  *services.DMService
	hub *ws.Hub
)

// InitMessaging wires the shared messaging service and hub into the
// handler package; called once from main before routes are mounted.
func InitMessaging(svc *services.DMService, h *ws.Hub) {
	dm = svc
	hub = h
}

// currentUserID resolves the caller's identity from the verified
// session JWT placed in locals by the auth middleware.
func currentUserID(c *fiber.Ctx) (uuid.UUID, error) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return uuid.Nil, apperrors.Unauthorized("Unauthorized")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, apperrors.Unauthorized("Unauthorized")
	}
	raw, _ := claims["user_id"].(string)
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.Unauthorized("Unauthorized")
	}
	return userID, nil
}

var statusByCode = map[apperrors.Code]int{
	apperrors.CodeInvalidArgument:  fiber.StatusBadRequest,
	apperrors.CodeNotFound:         fiber.StatusNotFound,
	apperrors.CodeAlreadyExists:    fiber.StatusConflict,
	apperrors.CodePermissionDenied: fiber.StatusForbidden,
	apperrors.CodeUnauthenticated:  fiber.StatusUnauthorized,
	apperrors.CodeUnavailable:      fiber.StatusServiceUnavailable,
}

// respondError maps application error codes to HTTP statuses.
func respondError(c *fiber.Ctx, err error) error {
	status, ok := statusByCode[apperrors.CodeOf(err)]
	if !ok {
		status = fiber.StatusInternalServerError
		log.Printf("[ERROR] %v | Path: %s", err, c.Path())
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
