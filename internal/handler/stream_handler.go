package handler

import (
	"net/http"
	"strconv"

	"market-booking/internal/middleware"
	"market-booking/internal/stream"
	"market-booking/internal/transport/httpdto"
	market_errors "market-booking/pkg/errors"
	"market-booking/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamHandler opens live event streams over SSE or WebSocket.
type StreamHandler struct {
	router   *stream.Router
	registry *stream.Registry
	buffer   int
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

func NewStreamHandler(router *stream.Router, registry *stream.Registry, buffer int, l *logger.Logger) *StreamHandler {
	return &StreamHandler{
		router:   router,
		registry: registry,
		buffer:   buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: l,
	}
}

func (h *StreamHandler) SSE(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		writeError(c, market_errors.ErrUnauthorized)
		return
	}
	lastEventID, err := lastEventID(c)
	if err != nil {
		badRequest(c, "invalid Last-Event-ID")
		return
	}
	h.router.ServeSSE(c.Writer, c.Request, id, lastEventID, h.buffer)
}

func (h *StreamHandler) WebSocket(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		writeError(c, market_errors.ErrUnauthorized)
		return
	}
	lastEventID, err := lastEventID(c)
	if err != nil {
		badRequest(c, "invalid Last-Event-ID")
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.router.ServeWS(ws, c.Request, id, lastEventID, h.buffer)
}

// Status reports live connection counts. Admin only.
func (h *StreamHandler) Status(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		writeError(c, market_errors.ErrUnauthorized)
		return
	}
	if !id.IsAdmin() {
		writeError(c, market_errors.ErrForbidden)
		return
	}

	byRole := make(map[string]int)
	for role, n := range h.registry.Stats() {
		byRole[string(role)] = n
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.StreamStatusResponse{
		Total:  h.registry.Count(),
		ByRole: byRole,
	}))
}

// lastEventID reads the resume point from the Last-Event-ID header, falling
// back to the last_event_id query parameter. Absent means zero.
func lastEventID(c *gin.Context) (int64, error) {
	v := c.GetHeader("Last-Event-ID")
	if v == "" {
		v = c.Query("last_event_id")
	}
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
