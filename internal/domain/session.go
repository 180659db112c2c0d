package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Known roles. Anything that is not RoleUser is treated as staff.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

var upper = cases.Upper(language.Und)

// NormalizeRole trims and upper-cases a role name.
func NormalizeRole(role string) string {
	return upper.String(strings.TrimSpace(role))
}

// CounterpartRole returns the role on the other side of a conversation:
// USER talks to ADMIN and every other role talks to USER.
func CounterpartRole(role string) string {
	if NormalizeRole(role) == RoleUser {
		return RoleAdmin
	}
	return RoleUser
}

// User is the profile returned by the login endpoint.
type User struct {
	ID        FlexID `json:"id"`
	Role      string `json:"role"`
	Username  string `json:"username,omitempty"`
	GivenName string `json:"de_nombres,omitempty"`
	Surname   string `json:"de_apellidos,omitempty"`
}

// DisplayGivenName returns the given name or AnonymousName.
func (u User) DisplayGivenName() string {
	if strings.TrimSpace(u.GivenName) == "" {
		return AnonymousName
	}
	return u.GivenName
}

// Session is the bearer token plus the profile it belongs to.
type Session struct {
	Token string `json:"-"`
	User  User   `json:"user"`
}

// LoggedIn reports whether the session carries a token.
func (s Session) LoggedIn() bool { return strings.TrimSpace(s.Token) != "" }

// ClientState is a persisted key/value pair of client-side state
// (the bearer token and the serialized user profile).
type ClientState struct {
	Key       string    `gorm:"type:varchar(64);primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the database table name for ClientState.
func (ClientState) TableName() string { return "client_state" }
