// Session HTTP handlers.
//
//   - POST   /session   (login)
//   - GET    /session   (current user)
//   - DELETE /session   (logout; leaves every open room)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// LoginRequest is the JSON payload for logging in.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges credentials for a session. The token never leaves the
// daemon; only the profile is returned.
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	sess, err := h.deps.Auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sess)
}

// CurrentSession returns the logged-in profile or 401.
func (h *Handlers) CurrentSession(c *gin.Context) {
	sess, err := h.deps.Auth.Current(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sess)
}

// Logout closes every room, clears the badge and drops the session.
func (h *Handlers) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	h.deps.Rooms.CloseAll(ctx)
	if h.deps.Notifications != nil {
		h.deps.Notifications.Reset()
	}
	if err := h.deps.Auth.Logout(ctx); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
