package transport

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tbourn/go-pedidos-client/internal/domain"
)

// wireMessage is a chat message as the backend stores and broadcasts it.
type wireMessage struct {
	ID        domain.FlexID `json:"id,omitempty"`
	RoomID    domain.FlexID `json:"roomId,omitempty"`
	Message   string        `json:"message"`
	UserID    domain.FlexID `json:"userId"`
	Nombres   string        `json:"nombres"`
	Apellidos string        `json:"apellidos"`
	Role      string        `json:"role,omitempty"`
	Timestamp string        `json:"timestamp"`
	Estado    string        `json:"estado,omitempty"`
}

func (w wireMessage) toDomain(fallbackRoom string) domain.ChatMessage {
	ts, err := domain.ParseTimestamp(w.Timestamp)
	if err != nil {
		ts = time.Time{}
	}
	room := w.RoomID.String()
	if room == "" {
		room = fallbackRoom
	}
	m := domain.ChatMessage{
		ID:              w.ID.String(),
		RoomID:          room,
		Body:            w.Message,
		SenderID:        w.UserID.String(),
		SenderGivenName: w.Nombres,
		SenderSurname:   w.Apellidos,
		Role:            domain.NormalizeRole(w.Role),
		Timestamp:       ts,
		Status:          domain.MessageStatus(strings.ToUpper(strings.TrimSpace(w.Estado))),
	}
	m.ApplyDefaults()
	if m.Erased() {
		m.Body = ""
	}
	return m
}

// decodeMessages turns a list of wire messages into domain messages,
// skipping entries that do not decode.
func decodeMessages(raw []json.RawMessage, room string) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(raw))
	for _, r := range raw {
		var w wireMessage
		if json.Unmarshal(r, &w) != nil {
			continue
		}
		out = append(out, w.toDomain(room))
	}
	return out
}

// wireUser is one entry of an updateUsers presence broadcast.
type wireUser struct {
	UserID    domain.FlexID `json:"userId"`
	Nombres   string        `json:"nombres"`
	Apellidos string        `json:"apellidos"`
	Role      string        `json:"role"`
	RoomID    domain.FlexID `json:"roomId"`
	SocketID  string        `json:"socketId"`
}

func (w wireUser) toDomain() domain.ConnectedUser {
	return domain.ConnectedUser{
		UserID:       w.UserID.String(),
		GivenName:    w.Nombres,
		Surname:      w.Apellidos,
		Role:         domain.NormalizeRole(w.Role),
		RoomID:       w.RoomID.String(),
		ConnectionID: w.SocketID,
	}
}

// wireDocument is an attachment row of GET /api/documents/:pedidoId.
type wireDocument struct {
	ID     domain.FlexID `json:"id"`
	Nombre string        `json:"nombre"`
	Name   string        `json:"name"`
	URL    string        `json:"url"`
	Ruta   string        `json:"ruta"`
}

func (w wireDocument) toDomain() domain.Document {
	name := w.Nombre
	if name == "" {
		name = w.Name
	}
	link := w.URL
	if link == "" {
		link = w.Ruta
	}
	return domain.Document{ID: w.ID.String(), Name: name, URL: link}
}

// wireNotifications is the body of the unread and notification endpoints.
type wireNotifications struct {
	NewMessagesCount json.Number           `json:"newMessagesCount"`
	Solicitudes      []domain.PendingOrder `json:"solicitudes"`
}

func (w wireNotifications) toDomain() domain.NotificationSnapshot {
	n, err := w.NewMessagesCount.Int64()
	if err != nil || n < 0 {
		n = 0
	}
	return domain.NotificationSnapshot{UnreadCount: int(n), Pending: w.Solicitudes}
}
