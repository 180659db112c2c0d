// Badge and notice HTTP handlers.
//
//   - GET    /badge          (unread badge)
//   - GET    /notices        (active toasts and dialogs)
//   - DELETE /notices/{id}   (dismiss)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pedidos-client/internal/domain"
)

// BadgeResponse is the badge plus the pending rooms behind it.
type BadgeResponse struct {
	domain.Badge
	Pending []domain.PendingOrder `json:"pending"`
}

// GetBadge returns the last polled unread state.
func (h *Handlers) GetBadge(c *gin.Context) {
	snap := h.deps.Notifications.Snapshot()
	pending := snap.Pending
	if pending == nil {
		pending = []domain.PendingOrder{}
	}
	ok(c, http.StatusOK, BadgeResponse{Badge: h.deps.Notifications.Badge(), Pending: pending})
}

// ListNotices returns the notices still on screen.
func (h *Handlers) ListNotices(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"notices": h.deps.Notices.Active()})
}

// DismissNotice closes a dialog or toast.
func (h *Handlers) DismissNotice(c *gin.Context) {
	if !h.deps.Notices.Dismiss(c.Param("id")) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "notice not found")
		return
	}
	noContent(c)
}
