package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	websocketcontrib "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/socialverse/social-verse/apperrors"
	config "github.com/socialverse/social-verse/configs"
	ws "github.com/socialverse/social-verse/websocket"
)

const (
	socketTokenAudience = "socket"
	socketTokenTTL      = time.Hour
)

// socketSecret is distinct from the session secret so a leaked socket
// token cannot be replayed against the REST API. Falls back to the
// session secret when unset.
func socketSecret() []byte {
	if secret := config.Config("SOCKET_SECRET_KEY"); secret != "" {
		return []byte(secret)
	}
	return []byte(config.Config("JWT_SECRET"))
}

func issueSocketToken(userID uuid.UUID) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"aud": socketTokenAudience,
		"exp": time.Now().Add(socketTokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(socketSecret())
}

func parseSocketToken(tokenString string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return socketSecret(), nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, errors.New("invalid socket token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !claims.VerifyAudience(socketTokenAudience, true) {
		return uuid.Nil, errors.New("invalid socket token")
	}
	sub, _ := claims["sub"].(string)
	return uuid.Parse(sub)
}

// SocketUpgrade authenticates the handshake before the connection is
// upgraded; no anonymous subscription ever reaches the hub.
func SocketUpgrade(c *fiber.Ctx) error {
	if !websocketcontrib.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	userID, err := parseSocketToken(c.Query("token"))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired socket token"})
	}
	c.Locals("socket_user_id", userID)
	return c.Next()
}

// Client-to-server frame. Only dm:send is understood; it carries an ack
// ID the server echoes back so the client can match the reply.
type inboundFrame struct {
	Event string      `json:"event"`
	ID    string      `json:"id"`
	Data  sendPayload `json:"data"`
}

type sendPayload struct {
	ConversationID  string `json:"conversationId"`
	Text            string `json:"text"`
	ClientMessageID string `json:"clientMessageId"`
}

type ackFrame struct {
	Event string  `json:"event"`
	ID    string  `json:"id"`
	Data  ackBody `json:"data"`
}

type ackBody struct {
	OK        bool        `json:"ok"`
	Duplicate bool        `json:"duplicate,omitempty"`
	Message   interface{} `json:"message,omitempty"`
	Error     *ackError   `json:"error,omitempty"`
}

type ackError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeWs binds an authenticated connection to its user topic and runs
// the read loop. Sends arriving here go through the same service path
// as the REST handler; only the acknowledgement mechanism differs.
func ServeWs(c *websocketcontrib.Conn) {
	userID, ok := c.Locals("socket_user_id").(uuid.UUID)
	if !ok {
		_ = c.Close()
		return
	}

	session := hub.Register(userID, c)
	defer func() {
		hub.Unregister(session)
		_ = c.Close()
	}()

	for {
		var frame inboundFrame
		if err := c.ReadJSON(&frame); err != nil {
			if websocketcontrib.IsCloseError(err, websocketcontrib.CloseGoingAway, websocketcontrib.CloseAbnormalClosure) {
				log.Printf("Socket closed for user %s: %v", userID, err)
			} else {
				log.Printf("Socket read error for user %s: %v", userID, err)
			}
			return
		}
		if frame.Event != "dm:send" {
			continue
		}

		body := handleSocketSend(userID, frame.Data)
		if err := session.WriteJSON(ackFrame{Event: "ack", ID: frame.ID, Data: body}); err != nil {
			log.Printf("Socket ack write failed for user %s: %v", userID, err)
			return
		}
	}
}

func handleSocketSend(userID uuid.UUID, payload sendPayload) ackBody {
	conversationID, err := uuid.Parse(payload.ConversationID)
	if err != nil {
		return ackBody{OK: false, Error: &ackError{Code: string(apperrors.CodeInvalidArgument), Message: "Invalid conversation ID"}}
	}

	msg, duplicate, err := dm.Append(context.Background(), conversationID, userID, payload.Text, payload.ClientMessageID)
	if err != nil {
		return ackBody{OK: false, Error: &ackError{Code: string(apperrors.CodeOf(err)), Message: err.Error()}}
	}
	return ackBody{OK: true, Duplicate: duplicate, Message: msg}
}

var _ ws.Conn = (*websocketcontrib.Conn)(nil)
