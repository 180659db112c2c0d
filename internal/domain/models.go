// Package domain defines the records the client works with: orders grouped
// by company and requester, chat messages, presence, unread notification
// state, documents, the logged-in user, and the persisted client state row.
//
// JSON tags on backend-sourced types (Order, PendingOrder, User) follow the
// backend's field names so they can be decoded directly at the transport
// boundary.
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrShape reports a payload whose structure does not match what the
// decoder expects (object where an array was required, and so on).
var ErrShape = errors.New("unexpected payload shape")

// FlexID is an identifier the backend sends either as a JSON string or as a
// JSON number. It is always held as its decimal/string form.
type FlexID string

// UnmarshalJSON accepts "abc", 42, and null.
func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*f = ""
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return ErrShape
		}
		*f = FlexID(n.String())
		return nil
	}
}

// String returns the identifier as text.
func (f FlexID) String() string { return string(f) }

// Int returns the identifier as an integer, reporting false when it is not numeric.
func (f FlexID) Int() (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(f)), 10, 64)
	return n, err == nil
}

// Order is a purchase order ("pedido") as returned by the backend.
// Orders are read-only on the client; status changes come from the backend.
type Order struct {
	ID                 FlexID `json:"id"`
	Code               string `json:"cod_pedido"`
	Description        string `json:"det_pedido"`
	Status             string `json:"est_pedido"`
	RequesterSurname   string `json:"de_apellidos,omitempty"`
	RequesterGivenName string `json:"de_nombres,omitempty"`
	RoomID             FlexID `json:"id_room"`
	UserID             FlexID `json:"id_user"`
}

// RequesterGroup holds the orders of one requester inside a company.
type RequesterGroup struct {
	Name   string  `json:"name"`
	Orders []Order `json:"orders"`
}

// Company ("empresa") is a client-side grouping of orders by organization.
// Requesters keep the iteration order of the backend response.
type Company struct {
	Name       string           `json:"name"`
	Logo       string           `json:"logo"`
	Requesters []RequesterGroup `json:"requesters"`
}

// OrderCount returns the number of orders across all requesters.
func (c Company) OrderCount() int {
	n := 0
	for _, r := range c.Requesters {
		n += len(r.Orders)
	}
	return n
}

// MessageStatus is the soft-delete flag of a chat message.
type MessageStatus string

const (
	StatusActive MessageStatus = "A"
	StatusErased MessageStatus = "E"
)

// AnonymousName is shown when a sender has no given name.
const AnonymousName = "Anónimo"

// ChatMessage is one entry of a room's message list.
//
// ID is the server-assigned id and may be empty for messages that arrived
// over the realtime channel without one. LocalID is assigned by the client
// when the message enters a list and is stable for its lifetime there.
type ChatMessage struct {
	ID              string        `json:"id,omitempty"`
	LocalID         string        `json:"local_id"`
	RoomID          string        `json:"room_id"`
	Body            string        `json:"body"`
	SenderID        string        `json:"sender_id"`
	SenderGivenName string        `json:"sender_given_name"`
	SenderSurname   string        `json:"sender_surname"`
	Role            string        `json:"role,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
	Status          MessageStatus `json:"status"`
}

// ApplyDefaults fills the display defaults for missing names and status.
func (m *ChatMessage) ApplyDefaults() {
	if strings.TrimSpace(m.SenderGivenName) == "" {
		m.SenderGivenName = AnonymousName
	}
	if m.Status == "" {
		m.Status = StatusActive
	}
}

// Erase clears the visible body and flags the message as deleted.
func (m *ChatMessage) Erase() {
	m.Body = ""
	m.Status = StatusErased
}

// Erased reports whether the message was soft-deleted.
func (m ChatMessage) Erased() bool { return m.Status == StatusErased }

// ConnectedUser is one entry of a presence snapshot.
type ConnectedUser struct {
	UserID       string `json:"user_id"`
	GivenName    string `json:"given_name"`
	Surname      string `json:"surname"`
	Role         string `json:"role,omitempty"`
	RoomID       string `json:"room_id,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// PendingOrder is an order flagged with unread activity ("solicitudes").
type PendingOrder struct {
	ID          FlexID `json:"id"`
	Code        string `json:"cod_pedido"`
	Description string `json:"det_pedido"`
	UserID      FlexID `json:"id_user"`
	Status      string `json:"est_pedido"`
	RoomID      FlexID `json:"id_room"`
}

// NotificationSnapshot is the unread state returned by one poll.
type NotificationSnapshot struct {
	UnreadCount int            `json:"unread_count"`
	Pending     []PendingOrder `json:"pending,omitempty"`
}

// Visible reports whether the unread badge is shown.
func (s NotificationSnapshot) Visible() bool { return s.UnreadCount > 0 }

// Badge is the rendered state of the unread badge.
type Badge struct {
	Count   int  `json:"count"`
	Visible bool `json:"visible"`
}

// BadgeOf derives the badge from a snapshot; a non-positive count hides it.
func BadgeOf(s NotificationSnapshot) Badge {
	if s.UnreadCount <= 0 {
		return Badge{}
	}
	return Badge{Count: s.UnreadCount, Visible: true}
}

// Document is an attachment of an order.
type Document struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}
