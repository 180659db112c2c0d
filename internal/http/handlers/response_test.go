package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-pedidos-client/internal/services"
	"github.com/tbourn/go-pedidos-client/internal/transport"
)

// serveErr runs failErr(err) behind a request id and a captured logger.
func serveErr(t *testing.T, err error) (*httptest.ResponseRecorder, ErrorResponse, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var logs bytes.Buffer
	lg := zerolog.New(&logs)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-1")
		c.Set("logger", &lg)
		c.Next()
	})
	r.GET("/x", func(c *gin.Context) { failErr(c, err) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	var body ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v (%s)", err, w.Body.String())
	}
	return w, body, logs.String()
}

func TestFailErr_Mapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"no session", services.ErrNotLoggedIn, http.StatusUnauthorized, ErrCodeNotLoggedIn},
		{"no token", fmt.Errorf("send: %w", transport.ErrNoToken), http.StatusUnauthorized, ErrCodeNotLoggedIn},
		{"login rejected", services.ErrLoginRejected, http.StatusUnauthorized, ErrCodeLoginRejected},
		{"blank body", services.ErrEmptyInput, http.StatusBadRequest, ErrCodeEmptyInput},
		{"no room id", services.ErrNoRoom, http.StatusBadRequest, ErrCodeBadRequest},
		{"room closing", services.ErrRoomNotOpen, http.StatusConflict, ErrCodeRoomNotOpen},
		{"unknown message", services.ErrMessageNotFound, http.StatusNotFound, ErrCodeMessageNotFound},
		{"unconfirmed delete", services.ErrNotConfirmed, http.StatusPreconditionRequired, ErrCodeNotConfirmed},
		{"upload cap", transport.ErrUploadTooLarge, http.StatusRequestEntityTooLarge, ErrCodeTooLarge},
		{"backend 4xx", &transport.APIError{Status: http.StatusBadRequest, Message: "pedido cerrado"}, http.StatusBadGateway, ErrCodeUpstream},
		{"backend garbage", transport.ErrBadPayload, http.StatusBadGateway, ErrCodeUpstream},
		{"backend slow", context.DeadlineExceeded, http.StatusGatewayTimeout, ErrCodeUpstream},
		{"anything else", errors.New("disk full"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, body, _ := serveErr(t, tc.err)
			if w.Code != tc.status || body.Code != tc.code {
				t.Fatalf("got %d/%s, want %d/%s", w.Code, body.Code, tc.status, tc.code)
			}
			if body.RequestID != "rid-1" {
				t.Fatalf("request id not echoed: %+v", body)
			}
		})
	}
}

func TestFailErr_BackendMessageIsShown(t *testing.T) {
	_, body, _ := serveErr(t, &transport.APIError{Status: http.StatusConflict, Message: "pedido cerrado"})
	if body.Message != "pedido cerrado" {
		t.Fatalf("message = %q", body.Message)
	}
}

func TestFail_OnlyServerErrorsAreLogged(t *testing.T) {
	_, _, logs := serveErr(t, services.ErrRoomNotOpen)
	if logs != "" {
		t.Fatalf("4xx must not log, got %s", logs)
	}
	_, _, logs = serveErr(t, errors.New("disk full"))
	if !strings.Contains(logs, `"level":"error"`) || !strings.Contains(logs, `"code":"internal_error"`) {
		t.Fatalf("5xx should log at error level, got %s", logs)
	}
}

func TestSuccessHelpers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/orders", func(c *gin.Context) { ok(c, http.StatusCreated, gin.H{"groups": []string{}}) })
	r.DELETE("/rooms/r1", func(c *gin.Context) { noContent(c) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orders", nil))
	if w.Code != http.StatusCreated || strings.TrimSpace(w.Body.String()) != `{"groups":[]}` {
		t.Fatalf("ok: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/rooms/r1", nil))
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("noContent: %d %q", w.Code, w.Body.String())
	}
}
