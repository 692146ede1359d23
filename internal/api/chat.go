package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/internal/auth"
	"finadvisor/backend/internal/queue"
	"finadvisor/backend/pkg/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

// ChatStore is the conversation log the chat endpoints read and append to.
type ChatStore interface {
	AppendMessage(ctx context.Context, userID, chatID string, msg models.Message) error
	GetConversation(ctx context.Context, userID, chatID string) (models.Conversation, error)
	ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error)
}

// ChatServer serves the chat ingress and history endpoints.
type ChatServer struct {
	store ChatStore
	bus   queue.Bus
	log   Logger
	now   func() time.Time
}

// NewChatServer creates a ChatServer.
func NewChatServer(store ChatStore, bus queue.Bus, log Logger) *ChatServer {
	return &ChatServer{store: store, bus: bus, log: log, now: time.Now}
}

// PostChatRequest is the body of POST /chat.
type PostChatRequest struct {
	Message string `json:"message" validate:"required,max=8000"`
	ChatID  string `json:"chatId,omitempty" validate:"omitempty,max=64"`
	// UserID is accepted for compatibility and must match the caller.
	UserID string `json:"userId,omitempty"`
	Image  string `json:"image,omitempty"`
}

// PostChatResponse acknowledges a queued message.
type PostChatResponse struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	Status    string `json:"status"`
}

// MessagesResponse is GET /chat with a chatId.
type MessagesResponse struct {
	ChatID   string           `json:"chatId"`
	Title    string           `json:"title"`
	Messages []models.Message `json:"messages"`
}

// ChatsResponse is GET /chat without a chatId.
type ChatsResponse struct {
	Chats []models.ChatSummary `json:"chats"`
}

func caller(c echo.Context, claimed string) (auth.Identity, error) {
	id, ok := auth.IdentityFrom(c.Request().Context())
	if !ok {
		return auth.Identity{}, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}
	if claimed != "" && claimed != id.UserID {
		return auth.Identity{}, apperr.New(apperr.CodeForbidden, "userId does not match the authenticated user")
	}
	return id, nil
}

// PostChat stores the user's message and queues it for the advisory
// pipeline. The reply is appended to the chat asynchronously.
// (POST /chat)
func (s *ChatServer) PostChat(c echo.Context) error {
	var req PostChatRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "invalid request body", err)
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := c.Validate(&req); err != nil {
		return err
	}
	id, err := caller(c, req.UserID)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	chatID := req.ChatID
	if chatID == "" {
		chatID = uuid.NewString()
	}
	msg := models.Message{
		MessageID: ulid.Make().String(),
		Sender:    models.SenderUser,
		Text:      req.Message,
		Timestamp: s.now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, id.UserID, chatID, msg); err != nil {
		return err
	}

	evt := models.ChatEvent{
		Type:      models.EventChatMessageReceived,
		UserID:    id.UserID,
		ChatID:    chatID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
		Image:     req.Image,
	}
	if _, err := s.bus.Publish(ctx, evt); err != nil {
		return apperr.Transient(err)
	}
	s.log.Info("chat message queued", "user_id", id.UserID, "chat_id", chatID, "message_id", msg.MessageID)

	return c.JSON(http.StatusAccepted, PostChatResponse{
		MessageID: msg.MessageID,
		ChatID:    chatID,
		Status:    "queued",
	})
}

// GetChat returns one chat's messages when chatId is given, otherwise the
// caller's chat list.
// (GET /chat)
func (s *ChatServer) GetChat(c echo.Context) error {
	id, err := caller(c, c.QueryParam("userId"))
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	if chatID := c.QueryParam("chatId"); chatID != "" {
		conv, err := s.store.GetConversation(ctx, id.UserID, chatID)
		if err != nil {
			return err
		}
		msgs := conv.Messages
		if msgs == nil {
			msgs = []models.Message{}
		}
		return c.JSON(http.StatusOK, MessagesResponse{ChatID: conv.ChatID, Title: conv.Title, Messages: msgs})
	}

	chats, err := s.store.ListChats(ctx, id.UserID)
	if err != nil {
		return err
	}
	if chats == nil {
		chats = []models.ChatSummary{}
	}
	return c.JSON(http.StatusOK, ChatsResponse{Chats: chats})
}
