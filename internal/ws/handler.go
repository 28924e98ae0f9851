package ws

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/termpilot/termpilot/internal/engine/broadcast"
	"github.com/termpilot/termpilot/internal/engine/session"
	"github.com/termpilot/termpilot/internal/infrastructure/monitoring"
	"github.com/termpilot/termpilot/internal/logging"
	"github.com/termpilot/termpilot/internal/planner"
	sharederrors "github.com/termpilot/termpilot/internal/shared/errors"
	"github.com/termpilot/termpilot/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// inboundFrame is any message a client may send.
type inboundFrame struct {
	Type          string          `json:"type"`
	Command       string          `json:"command,omitempty"`
	Risk          types.RiskLevel `json:"risk,omitempty"`
	Confirmed     bool            `json:"confirmed,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Char          string          `json:"char,omitempty"`
	Rows          uint16          `json:"rows,omitempty"`
	Cols          uint16          `json:"cols,omitempty"`
}

// Handler manages WebSocket connections to sessions.
type Handler struct {
	manager *session.Manager
	planner *planner.Client
	metrics *monitoring.Metrics
	log     *logging.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(manager *session.Manager, plannerClient *planner.Client, metrics *monitoring.Metrics, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handler{
		manager: manager,
		planner: plannerClient,
		metrics: metrics,
		log:     log.Component("ws"),
	}
}

// client serializes all writes to one connection through the send channel.
type client struct {
	conn     *websocket.Conn
	send     chan any
	stop     chan struct{}
	stopOnce sync.Once
}

func (cl *client) push(frame any) {
	select {
	case cl.send <- frame:
	case <-cl.stop:
	}
}

func (cl *client) shutdown() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

// HandleSession upgrades the connection and streams one session. Buffered
// output from ?since= onward is replayed before live chunks.
func (h *Handler) HandleSession(c *gin.Context) {
	s, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	since, _ := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 64)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	cl := &client{
		conn: conn,
		send: make(chan any, 64),
		stop: make(chan struct{}),
	}

	sub, snapshot := s.Subscribe()
	defer s.Unsubscribe(sub.ID)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		cl.writePump()
	}()
	go func() {
		defer wg.Done()
		h.streamOutput(cl, sub, snapshot, since)
	}()

	cl.push(map[string]any{
		"type":       "connected",
		"session_id": s.ID.String(),
		"state":      s.State(),
	})

	h.readLoop(cl, s)

	cl.shutdown()
	s.Unsubscribe(sub.ID)
	wg.Wait()
}

// writePump is the only goroutine that writes to the connection.
func (cl *client) writePump() {
	for {
		select {
		case frame := <-cl.send:
			if err := cl.conn.WriteJSON(frame); err != nil {
				cl.shutdown()
				return
			}
		case <-cl.stop:
			return
		}
	}
}

// streamOutput replays buffered chunks at or past since, then forwards
// live chunks until the subscription or connection ends.
func (h *Handler) streamOutput(cl *client, sub *broadcast.Subscriber, snapshot []types.OutputChunk, since uint64) {
	for _, chunk := range snapshot {
		if chunk.Seq < since {
			continue
		}
		cl.push(outputFrame(chunk))
		h.metrics.RecordWSMessage("out", "output")
	}

	for {
		select {
		case chunk, ok := <-sub.Chunks():
			if !ok {
				return
			}
			cl.push(outputFrame(chunk))
			h.metrics.RecordWSMessage("out", "output")
		case <-cl.stop:
			return
		}
	}
}

func outputFrame(chunk types.OutputChunk) map[string]any {
	if chunk.EOF {
		return map[string]any{"type": "eof", "seq": chunk.Seq}
	}
	return map[string]any{
		"type":      "output",
		"seq":       chunk.Seq,
		"data":      string(chunk.Bytes),
		"timestamp": chunk.Timestamp.UnixMilli(),
	}
}

// readLoop processes inbound frames until the client disconnects.
func (h *Handler) readLoop(cl *client, s *session.Session) {
	for {
		var frame inboundFrame
		if err := cl.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("read error", zap.Error(err))
			}
			return
		}
		h.metrics.RecordWSMessage("in", frame.Type)

		switch frame.Type {
		case "execute":
			h.handleExecute(cl, s, frame)
		case "confirm":
			h.handleConfirm(cl, s, frame)
		case "control":
			h.handleControl(cl, s, frame)
		case "resize":
			if err := s.Resize(types.Dimensions{Rows: frame.Rows, Cols: frame.Cols}); err != nil {
				cl.push(errorFrame(err.Error()))
			}
		case "ping":
			cl.push(map[string]any{"type": "pong"})
		default:
			cl.push(errorFrame("unknown frame type"))
		}

		select {
		case <-cl.stop:
			return
		default:
		}
	}
}

func (h *Handler) handleExecute(cl *client, s *session.Session, frame inboundFrame) {
	risk := frame.Risk
	if !risk.Valid() {
		risk = h.planner.Classify(context.Background(), frame.Command)
	}

	pending, err := s.Enqueue(types.CommandRequest{
		Text:      frame.Command,
		Risk:      risk,
		Confirmed: frame.Confirmed,
	})
	if err != nil {
		if sharederrors.Is(err, sharederrors.ErrConfirmationRequired) {
			cl.push(map[string]any{
				"type":           "pending_confirmation",
				"correlation_id": pending.Req.CorrelationID,
				"risk":           risk,
				"warnings":       planner.Warnings(frame.Command),
			})
			return
		}
		cl.push(errorFrame(err.Error()))
		return
	}

	cl.push(map[string]any{
		"type":           "accepted",
		"correlation_id": pending.Req.CorrelationID,
	})
	go h.awaitResult(cl, pending.Result())
}

func (h *Handler) handleConfirm(cl *client, s *session.Session, frame inboundFrame) {
	pending, err := s.Confirm(frame.CorrelationID)
	if err != nil {
		cl.push(errorFrame(err.Error()))
		return
	}
	go h.awaitResult(cl, pending.Result())
}

func (h *Handler) handleControl(cl *client, s *session.Session, frame inboundFrame) {
	if frame.Char == "" {
		cl.push(errorFrame("missing control char"))
		return
	}
	if err := s.ControlChar(frame.Char[0]); err != nil {
		cl.push(errorFrame(err.Error()))
		return
	}
	cl.push(map[string]any{"type": "control_sent", "char": frame.Char})
}

// awaitResult forwards a command result frame once execution finishes.
func (h *Handler) awaitResult(cl *client, resultCh <-chan types.CommandResult) {
	select {
	case res := <-resultCh:
		cl.push(map[string]any{
			"type":           "result",
			"correlation_id": res.CorrelationID,
			"output":         string(res.Output),
			"exit_code":      res.ExitCode,
			"duration_ms":    res.DurationMs,
			"truncated":      res.Truncated,
			"status":         res.Status,
		})
	case <-cl.stop:
	}
}

func errorFrame(msg string) map[string]any {
	return map[string]any{"type": "error", "message": msg}
}
