// Package chatclient is the Go client for the messaging API: REST
// calls for the durable read/write path and a single lazily
// established socket for realtime delivery. The REST message list is
// authoritative; socket events are incremental appends deduplicated by
// idempotency key.
package chatclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/socialverse/social-verse/apperrors"
	"github.com/socialverse/social-verse/models"
	"github.com/socialverse/social-verse/services"
)

type Client struct {
	baseURL      string
	sessionToken string
	httpc        *http.Client

	mu     sync.Mutex
	socket *Socket
}

func New(baseURL, sessionToken string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		sessionToken: sessionToken,
		httpc:        &http.Client{Timeout: 15 * time.Second},
	}
}

// Socket returns the one realtime connection for this client session,
// establishing it on first use. Subsequent calls reuse the cached
// connection; the socket itself handles reconnects.
func (c *Client) Socket() (*Socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.socket != nil {
		return c.socket, nil
	}

	s, err := connectSocket(c.baseURL, c.SocketToken)
	if err != nil {
		return nil, err
	}
	c.socket = s
	return s, nil
}

// Reset tears down the cached socket; used on logout. The next Socket
// call authenticates from scratch.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.socket != nil {
		c.socket.Close()
		c.socket = nil
	}
}

type OpenConversationResult struct {
	ConversationID uuid.UUID            `json:"conversationId"`
	Other          models.PublicProfile `json:"other"`
}

func (c *Client) SocketToken() (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(http.MethodGet, "/api/v1/dm/socket-token", nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) EligibleUsers() ([]models.PublicProfile, error) {
	var out struct {
		Users []models.PublicProfile `json:"users"`
	}
	if err := c.do(http.MethodGet, "/api/v1/dm/eligible-users", nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (c *Client) OpenConversation(username string) (OpenConversationResult, error) {
	var out OpenConversationResult
	err := c.do(http.MethodPost, "/api/v1/dm/with/"+username, nil, &out)
	return out, err
}

func (c *Client) Conversations() ([]services.ConversationSummary, error) {
	var out struct {
		Conversations []services.ConversationSummary `json:"conversations"`
	}
	if err := c.do(http.MethodGet, "/api/v1/dm/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *Client) Messages(conversationID uuid.UUID, limit int) ([]models.Message, error) {
	path := fmt.Sprintf("/api/v1/dm/conversations/%s/messages?limit=%d", conversationID, limit)
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SendMessage is the REST fallback send path, used when the socket
// send fails. A 409 means the key was already stored; the original
// message comes back and the call is treated as success.
func (c *Client) SendMessage(conversationID uuid.UUID, text, clientMessageID string) (models.Message, bool, error) {
	body := map[string]string{"text": text, "clientMessageId": clientMessageID}
	var out struct {
		Message models.Message `json:"message"`
	}
	err := c.do(http.MethodPost, fmt.Sprintf("/api/v1/dm/conversations/%s/messages", conversationID), body, &out)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeAlreadyExists) {
			return out.Message, true, nil
		}
		return models.Message{}, false, err
	}
	return out.Message, false, nil
}

func (c *Client) MarkSeen(conversationID uuid.UUID) error {
	return c.do(http.MethodPost, fmt.Sprintf("/api/v1/dm/conversations/%s/seen", conversationID), nil, nil)
}

func (c *Client) UnreadCount() (int64, error) {
	var out struct {
		UnreadCount int64 `json:"unreadCount"`
	}
	if err := c.do(http.MethodGet, "/api/v1/dm/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

var codeByStatus = map[int]apperrors.Code{
	http.StatusBadRequest:         apperrors.CodeInvalidArgument,
	http.StatusUnauthorized:       apperrors.CodeUnauthenticated,
	http.StatusForbidden:          apperrors.CodePermissionDenied,
	http.StatusNotFound:           apperrors.CodeNotFound,
	http.StatusConflict:           apperrors.CodeAlreadyExists,
	http.StatusServiceUnavailable: apperrors.CodeUnavailable,
}

func (c *Client) do(method, path string, body interface{}, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = &bytes.Buffer{}
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return err
		}
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.sessionToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpc.Do(req)
	if err != nil {
		return apperrors.Unavailable("Request failed", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		var apiErr struct {
			Error   string          `json:"error"`
			Message json.RawMessage `json:"message"`
		}
		_ = json.NewDecoder(res.Body).Decode(&apiErr)
		code, ok := codeByStatus[res.StatusCode]
		if !ok {
			code = apperrors.CodeInternal
		}
		// A duplicate send carries the original message alongside the
		// error; surface it to the caller before returning the error.
		if code == apperrors.CodeAlreadyExists && out != nil && len(apiErr.Message) > 0 {
			_ = json.Unmarshal([]byte(`{"message":`+string(apiErr.Message)+`}`), out)
		}
		msg := apiErr.Error
		if msg == "" {
			msg = res.Status
		}
		return apperrors.New(code, msg)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
