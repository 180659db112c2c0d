// Order HTTP handlers.
//
//   - GET    /orders                   (fetch and group)
//   - POST   /orders                   (create)
//   - DELETE /orders/{id}?confirm=true (delete)
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pedidos-client/internal/services"
)

// CreateOrderRequest is the JSON payload for creating an order.
type CreateOrderRequest struct {
	Description string `json:"description"`
}

// ListOrders refetches the user's orders grouped by company and requester.
// With ?cached=true the last fetched view is returned without a call.
func (h *Handlers) ListOrders(c *gin.Context) {
	if cached, _ := strconv.ParseBool(c.Query("cached")); cached {
		ok(c, http.StatusOK, h.deps.Orders.Current())
		return
	}
	view, err := h.deps.Orders.Fetch(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, view)
}

// CreateOrder submits an order and returns the refreshed view.
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if err := h.deps.Orders.Create(c.Request.Context(), req.Description); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, h.deps.Orders.Current())
}

// DeleteOrder removes an order. The UI asks the user first and passes
// confirm=true; without it nothing is deleted and 428 is returned.
func (h *Handlers) DeleteOrder(c *gin.Context) {
	confirm := services.Confirmer(nil)
	if v, _ := strconv.ParseBool(c.Query("confirm")); v {
		confirm = services.Confirmed
	}
	if err := h.deps.Orders.Delete(c.Request.Context(), c.Param("id"), confirm); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
