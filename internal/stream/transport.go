package stream

import (
	"net/http"
	"time"

	"market-booking/internal/domain/identity"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxMessageSize = 4 * 1024

// ServeSSE runs an event stream on w until the client goes away or the
// connection is evicted.
func (r *Router) ServeSSE(w http.ResponseWriter, req *http.Request, id identity.Identity, lastEventID int64, buffer int) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	conn := NewConn(id, NewSSEWriter(w), buffer)
	r.run(req, conn, lastEventID)
}

// ServeWS runs the same stream over an upgraded WebSocket. Inbound messages
// only count as activity.
func (r *Router) ServeWS(ws *websocket.Conn, req *http.Request, id identity.Identity, lastEventID int64, buffer int) {
	conn := NewConn(id, NewWSWriter(ws), buffer)

	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		conn.Touch()
		return nil
	})
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					r.logger.Logger.Debug("websocket read failed",
						zap.String("connection_id", conn.ID()), zap.Error(err))
				}
				conn.Close()
				return
			}
			conn.Touch()
		}
	}()

	r.run(req, conn, lastEventID)
}

func (r *Router) run(req *http.Request, conn *Conn, lastEventID int64) {
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		if err := conn.WritePump(); err != nil {
			r.logger.Logger.Debug("stream write failed",
				zap.String("connection_id", conn.ID()), zap.Error(err))
		}
	}()

	started := time.Now()
	if err := r.Attach(req.Context(), conn, lastEventID); err != nil {
		r.logger.Logger.Warn("failed to attach stream connection",
			zap.String("connection_id", conn.ID()), zap.Error(err))
		conn.Close()
		<-pumpDone
		return
	}

	select {
	case <-conn.Done():
	case <-req.Context().Done():
	}
	r.Detach(conn)
	<-pumpDone

	r.logger.Logger.Debug("stream closed",
		zap.String("connection_id", conn.ID()), zap.Duration("duration", time.Since(started)))
}
