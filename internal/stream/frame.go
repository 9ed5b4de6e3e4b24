package stream

import (
	"net/http"
	"strconv"
	"time"

	"market-booking/internal/domain/event"

	"github.com/gin-contrib/sse"
	"github.com/gorilla/websocket"
)

const (
	EventConnected = "connected"
	EventPing      = "ping"

	writeWait = 10 * time.Second
)

// Frame is one message on a live connection. ID is empty for control frames.
type Frame struct {
	ID    string      `json:"id,omitempty"`
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func EventFrame(evt event.Event) Frame {
	return Frame{
		ID:    strconv.FormatInt(evt.ID, 10),
		Event: evt.Name(),
		Data:  evt,
	}
}

func ConnectedFrame(connectionID string) Frame {
	return Frame{Event: EventConnected, Data: map[string]string{"connection_id": connectionID}}
}

func PingFrame(at time.Time) Frame {
	return Frame{Event: EventPing, Data: map[string]int64{"ts": at.Unix()}}
}

// FrameWriter is the transport behind a connection. WriteFrame is only ever
// called from the connection's write pump.
type FrameWriter interface {
	WriteFrame(f Frame) error
	Close() error
}

type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func NewSSEWriter(w http.ResponseWriter) FrameWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *sseWriter) WriteFrame(f Frame) error {
	// Not every ResponseWriter supports deadlines; the heartbeat still evicts stalled clients.
	_ = s.rc.SetWriteDeadline(time.Now().Add(writeWait))
	if err := sse.Encode(s.w, sse.Event{Id: f.ID, Event: f.Event, Data: f.Data}); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseWriter) Close() error {
	return nil
}

type wsWriter struct {
	conn *websocket.Conn
}

func NewWSWriter(conn *websocket.Conn) FrameWriter {
	return &wsWriter{conn: conn}
}

// A WebSocket peer answers pings with pongs; a successful write only means the
// kernel buffer had room.
func (w *wsWriter) peerAcknowledges() bool { return true }

func (w *wsWriter) WriteFrame(f Frame) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if f.Event == EventPing {
		if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return err
		}
	}
	return w.conn.WriteJSON(f)
}

func (w *wsWriter) Close() error {
	// WriteControl may run concurrently with the pump's writes.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return w.conn.Close()
}
