// Room HTTP handlers.
//
// This file exposes a mounted chat room:
//   - POST   /rooms/{roomId}                        (open / join)
//   - GET    /rooms/{roomId}                        (snapshot)
//   - DELETE /rooms/{roomId}                        (close / leave)
//   - POST   /rooms/{roomId}/messages               (send)
//   - DELETE /rooms/{roomId}/messages/{messageId}   (soft delete)
//   - PUT    /rooms/{roomId}/follow                 (follow-tail toggle)
//   - POST   /rooms/{roomId}/documents              (multipart upload)
//   - GET    /rooms/{roomId}/documents              (list)
//   - GET    /rooms/{roomId}/search?q=&k=           (rank visible messages)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a receipt for
// (user, room, key) exists, the send is not repeated: the stored message is
// returned with `Idempotency-Replayed: true`.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pedidos-client/internal/domain"
	"github.com/tbourn/go-pedidos-client/internal/http/middleware"
	"github.com/tbourn/go-pedidos-client/internal/repo"
	"github.com/tbourn/go-pedidos-client/internal/search"
	"github.com/tbourn/go-pedidos-client/internal/utils"
)

// OpenRoomRequest optionally names the order of the room; otherwise it is
// looked up from the last fetched orders.
type OpenRoomRequest struct {
	OrderID string `json:"order_id"`
}

// SendMessageRequest is the JSON payload for a send.
type SendMessageRequest struct {
	Body string `json:"body"`
}

// FollowRequest toggles auto-scroll to the newest message.
type FollowRequest struct {
	Follow *bool `json:"follow"`
}

// SearchResponse carries ranked matches.
type SearchResponse struct {
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
}

// room resolves the mounted room or writes 404.
func (h *Handlers) room(c *gin.Context) (Room, bool) {
	r, err := h.deps.Rooms.Get(c.Param("roomId"))
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeRoomNotOpen, "room is not open")
		return nil, false
	}
	return r, true
}

// OpenRoom joins a room and returns its first snapshot. Opening an open
// room returns it unchanged.
func (h *Handlers) OpenRoom(c *gin.Context) {
	var req OpenRoomRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	r, err := h.deps.Rooms.Open(c.Request.Context(), c.Param("roomId"), strings.TrimSpace(req.OrderID))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, r.Snapshot())
}

// GetRoom returns the current room snapshot.
func (h *Handlers) GetRoom(c *gin.Context) {
	r, found := h.room(c)
	if !found {
		return
	}
	ok(c, http.StatusOK, r.Snapshot())
}

// CloseRoom leaves the room.
func (h *Handlers) CloseRoom(c *gin.Context) {
	if err := h.deps.Rooms.Close(c.Request.Context(), c.Param("roomId")); err != nil {
		fail(c, http.StatusNotFound, ErrCodeRoomNotOpen, "room is not open")
		return
	}
	noContent(c)
}

// SendMessage posts a message to the room, replaying a stored receipt for a
// retried Idempotency-Key.
func (h *Handlers) SendMessage(c *gin.Context) {
	r, found := h.room(c)
	if !found {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	ctx := c.Request.Context()
	roomID := c.Param("roomId")
	uid := userID(c)

	// Replay path.
	idemKey, hasKey := middleware.GetIdempotencyKey(c)
	if hasKey && h.deps.Receipts != nil {
		rec, err := h.deps.Receipts.Get(ctx, uid, roomID, idemKey, time.Now().UTC())
		if err == nil && rec != nil {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, domain.ChatMessage{
				RoomID:    rec.RoomID,
				Body:      rec.Body,
				SenderID:  rec.UserID,
				Timestamp: rec.SentAt,
				Status:    domain.StatusActive,
			})
			return
		}
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("receipt lookup failed")
		}
	}

	msg, err := r.Send(ctx, req.Body)
	if err != nil {
		failErr(c, err)
		return
	}

	// Store path, best effort.
	if hasKey && h.deps.Receipts != nil {
		if err := h.deps.Receipts.Create(ctx, msg, uid, idemKey, http.StatusCreated, h.deps.ReceiptTTL); err != nil &&
			!errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("receipt store failed")
		}
	}
	ok(c, http.StatusCreated, msg)
}

// DeleteMessage soft-deletes a message by server id or local id.
func (h *Handlers) DeleteMessage(c *gin.Context) {
	r, found := h.room(c)
	if !found {
		return
	}
	if err := r.SoftDelete(c.Request.Context(), c.Param("messageId")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// SetFollow toggles follow-tail.
func (h *Handlers) SetFollow(c *gin.Context) {
	r, found := h.room(c)
	if !found {
		return
	}
	var req FollowRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Follow == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "follow (bool) required")
		return
	}
	r.SetFollowTail(*req.Follow)
	noContent(c)
}

// UploadDocument attaches the multipart "file" field to the room's order
// and returns the refreshed document list.
func (h *Handlers) UploadDocument(c *gin.Context) {
	r, found := h.room(c)
	if !found {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field \"file\" required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable upload")
		return
	}
	defer f.Close()

	docs, err := r.Upload(c.Request.Context(), fh.Filename, f)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"documents": docs})
}

// ListDocuments returns the documents of the room's order.
func (h *Handlers) ListDocuments(c *gin.Context) {
	r, found := h.room(c)
	if !found {
		return
	}
	docs, err := r.Documents(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"documents": docs})
}

// SearchMessages ranks the room's visible messages against q.
func (h *Handlers) SearchMessages(c *gin.Context) {
	r, found := h.room(c)
	if !found {
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeEmptyInput, "q required")
		return
	}
	res := r.Search(q, utils.BoundedInt(c.Query("k"), 5, 1, 50))
	if res == nil {
		res = []search.Result{}
	}
	ok(c, http.StatusOK, SearchResponse{Query: q, Results: res})
}
