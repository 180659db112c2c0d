package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/tbourn/go-pedidos-client/internal/domain"
)

// LoginResult is the body of POST /login.
type LoginResult struct {
	Success bool        `json:"success"`
	Token   string      `json:"token"`
	User    domain.User `json:"user"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Login exchanges credentials for a bearer token. It is the only call made
// without authorization.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	raw, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return LoginResult{}, err
	}
	var res LoginResult
	err = c.send(ctx, request{
		op: "login", method: http.MethodPost, path: "/login",
		body: bytes.NewReader(raw), ctype: "application/json",
	}, &res)
	return res, err
}

// FetchOrders returns the orders visible to the logged-in user.
func (c *Client) FetchOrders(ctx context.Context) (domain.OrdersResponse, error) {
	var res domain.OrdersResponse
	if err := c.Do(ctx, "fetch_orders", http.MethodGet, "/api/pedidos/user", nil, &res); err != nil {
		return domain.OrdersResponse{}, err
	}
	return res, nil
}

// CreateOrder submits a new order description.
func (c *Client) CreateOrder(ctx context.Context, description string) error {
	return c.Do(ctx, "create_order", http.MethodPost, "/api/pedidos",
		map[string]string{"det_pedido": description}, nil)
}

// DeleteOrder removes an order.
func (c *Client) DeleteOrder(ctx context.Context, id string) error {
	return c.Do(ctx, "delete_order", http.MethodDelete, "/api/pedidos/"+pathID(id), nil, nil)
}

// RoomMessages returns the stored history of a room, in response order.
// Entries that fail to decode are skipped.
func (c *Client) RoomMessages(ctx context.Context, roomID string) ([]domain.ChatMessage, error) {
	var res struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := c.Do(ctx, "room_messages", http.MethodGet, "/api/messages/"+pathID(roomID), nil, &res); err != nil {
		return nil, err
	}
	return decodeMessages(res.Messages, roomID), nil
}

// OutboundMessage is the body of POST /api/sendMessage.
type OutboundMessage struct {
	Role      string `json:"role"`
	RoomID    string `json:"roomId"`
	Message   string `json:"message"`
	UserID    string `json:"userId"`
	Nombres   string `json:"nombres"`
	Apellidos string `json:"apellidos"`
	Estado    string `json:"estado"`
	Timestamp string `json:"timestamp"`
}

// SendMessage durably stores a message. The backend broadcasts it to the
// room; the returned id is empty when the backend does not report one.
func (c *Client) SendMessage(ctx context.Context, m OutboundMessage) (string, error) {
	var res struct {
		ID      domain.FlexID   `json:"id"`
		Message json.RawMessage `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := c.Do(ctx, "send_message", http.MethodPost, "/api/sendMessage", m, &res); err != nil {
		return "", err
	}
	if id := res.ID.String(); id != "" {
		return id, nil
	}
	for _, nested := range []json.RawMessage{res.Message, res.Data} {
		var w struct {
			ID domain.FlexID `json:"id"`
		}
		if len(nested) > 0 && json.Unmarshal(nested, &w) == nil && w.ID != "" {
			return w.ID.String(), nil
		}
	}
	return "", nil
}

// UpdateMessageStatus sets the status flag of a stored message.
func (c *Client) UpdateMessageStatus(ctx context.Context, messageID string, status domain.MessageStatus) error {
	return c.Do(ctx, "update_message_status", http.MethodPut, "/api/updateMessageStatus/"+pathID(messageID),
		map[string]string{"estado": string(status)}, nil)
}

// UnreadMessages returns the unread counter of a user. A non-numeric user
// id yields a zero snapshot without a network call.
func (c *Client) UnreadMessages(ctx context.Context, userID string) (domain.NotificationSnapshot, error) {
	if _, ok := domain.FlexID(userID).Int(); !ok {
		c.log.Debug().Str("user_id", userID).Msg("unread check skipped for non-numeric user id")
		return domain.NotificationSnapshot{}, nil
	}
	var res wireNotifications
	if err := c.Do(ctx, "unread_messages", http.MethodGet, "/api/unreadMessages/"+pathID(userID), nil, &res); err != nil {
		return domain.NotificationSnapshot{}, err
	}
	return res.toDomain(), nil
}

// Notifications returns the unread counter and pending orders of a user
// acting in role.
func (c *Client) Notifications(ctx context.Context, userID, role string) (domain.NotificationSnapshot, error) {
	q := url.Values{"role": []string{role}}
	var res wireNotifications
	path := "/api/notifications/" + pathID(userID) + "?" + q.Encode()
	if err := c.Do(ctx, "notifications", http.MethodGet, path, nil, &res); err != nil {
		return domain.NotificationSnapshot{}, err
	}
	return res.toDomain(), nil
}

// UpdateNotification flags a room as having unread activity for userType.
func (c *Client) UpdateNotification(ctx context.Context, roomID, userType string) error {
	return c.Do(ctx, "update_notification", http.MethodPost, "/api/notifications/update",
		map[string]string{"roomId": roomID, "userType": userType}, nil)
}

// ErrUploadTooLarge is returned when an attachment exceeds MaxUploadBytes.
var ErrUploadTooLarge = errors.New("attachment exceeds upload limit")

// UploadDocument sends an attachment for an order as multipart/form-data
// with the fields "file" and "id_pedido".
func (c *Client) UploadDocument(ctx context.Context, orderID, filename string, r io.Reader) error {
	if c.maxUpload > 0 {
		r = io.LimitReader(r, c.maxUpload+1)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("id_pedido", orderID); err != nil {
		return err
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return err
	}
	n, err := io.Copy(fw, r)
	if err != nil {
		return fmt.Errorf("read attachment: %w", err)
	}
	if c.maxUpload > 0 && n > c.maxUpload {
		return ErrUploadTooLarge
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return c.send(ctx, request{
		op: "upload_document", method: http.MethodPost, path: "/api/uploadDocument",
		body: &buf, ctype: mw.FormDataContentType(), auth: true,
	}, nil)
}

// ListDocuments returns the attachments of an order.
func (c *Client) ListDocuments(ctx context.Context, orderID string) ([]domain.Document, error) {
	var raw []wireDocument
	if err := c.Do(ctx, "list_documents", http.MethodGet, "/api/documents/"+pathID(orderID), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]domain.Document, 0, len(raw))
	for _, d := range raw {
		if doc := d.toDomain(); strings.TrimSpace(doc.Name) != "" || doc.URL != "" {
			out = append(out, doc)
		}
	}
	return out, nil
}
