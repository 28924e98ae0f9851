package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/termpilot/termpilot/internal/engine/session"
	"github.com/termpilot/termpilot/internal/infrastructure/monitoring"
	"github.com/termpilot/termpilot/internal/planner"
	sharederrors "github.com/termpilot/termpilot/internal/shared/errors"
	"github.com/termpilot/termpilot/internal/types"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	manager *session.Manager
	planner *planner.Client
	metrics *monitoring.Metrics
}

// NewHandlers creates a new handler set.
func NewHandlers(manager *session.Manager, plannerClient *planner.Client, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{
		manager: manager,
		planner: plannerClient,
		metrics: metrics,
	}
}

// Root handles the basic health check.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "termpilot",
		"version": "0.3.0",
	})
}

// Health handles the detailed health check.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.manager.Stats(),
	})
}

// Stats returns the JSON metrics snapshot.
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics":  h.metrics.GetSnapshot(),
		"sessions": h.manager.Stats(),
	})
}

type createSessionRequest struct {
	Shell      string            `json:"shell"`
	WorkingDir string            `json:"working_dir"`
	Rows       uint16            `json:"rows"`
	Cols       uint16            `json:"cols"`
	Env        map[string]string `json:"env"`
}

// CreateSession spawns a new shell session.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	s, err := h.manager.Create(session.CreateOptions{
		Shell:      req.Shell,
		WorkingDir: req.WorkingDir,
		Dimensions: types.Dimensions{Rows: req.Rows, Cols: req.Cols},
		Env:        req.Env,
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, s.Info())
}

// ListSessions lists all live sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions": h.manager.List(),
		"stats":    h.manager.Stats(),
	})
}

// GetSession returns one session's summary.
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Info())
}

// CloseSession closes a session. With ?force=true in-flight work is
// abandoned and the shell is killed immediately.
func (h *Handlers) CloseSession(c *gin.Context) {
	force, _ := strconv.ParseBool(c.Query("force"))

	if err := h.manager.Close(c.Param("id"), force); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": c.Param("id"),
		"closed":     true,
	})
}

type executeRequest struct {
	Command   string          `json:"command" binding:"required"`
	Risk      types.RiskLevel `json:"risk"`
	Confirmed bool            `json:"confirmed"`
}

type commandResultResponse struct {
	CorrelationID string              `json:"correlation_id"`
	Output        string              `json:"output"`
	ExitCode      *int                `json:"exit_code"`
	DurationMs    int64               `json:"duration_ms"`
	Truncated     bool                `json:"truncated"`
	Status        types.CommandStatus `json:"status"`
}

func resultResponse(res types.CommandResult) commandResultResponse {
	return commandResultResponse{
		CorrelationID: res.CorrelationID,
		Output:        string(res.Output),
		ExitCode:      res.ExitCode,
		DurationMs:    res.DurationMs,
		Truncated:     res.Truncated,
		Status:        res.Status,
	}
}

// Execute submits a command and blocks until its result. Unclassified
// commands are classified before enqueueing. Critical-risk commands that
// are not confirmed come back 202 with a correlation ID for the confirm
// endpoint.
func (h *Handlers) Execute(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	risk := req.Risk
	if !risk.Valid() {
		risk = h.planner.Classify(c.Request.Context(), req.Command)
	}

	cmdReq := types.CommandRequest{
		Text:      req.Command,
		Risk:      risk,
		Confirmed: req.Confirmed,
	}

	pending, err := s.Enqueue(cmdReq)
	if err != nil {
		switch {
		case sharederrors.Is(err, sharederrors.ErrConfirmationRequired):
			c.JSON(http.StatusAccepted, gin.H{
				"status":         types.StatusPendingConfirmation,
				"correlation_id": pending.Req.CorrelationID,
				"risk":           risk,
				"warnings":       planner.Warnings(req.Command),
			})
		case sharederrors.Is(err, sharederrors.ErrQueueClosed):
			c.JSON(http.StatusConflict, gin.H{"error": "session is closing"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	select {
	case res := <-pending.Result():
		c.JSON(http.StatusOK, resultResponse(res))
	case <-c.Request.Context().Done():
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "client disconnected"})
	}
}

type confirmRequest struct {
	CorrelationID string `json:"correlation_id" binding:"required"`
}

// Confirm admits a held critical-risk command and blocks until its result.
func (h *Handlers) Confirm(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pending, err := s.Confirm(req.CorrelationID)
	if err != nil {
		if sharederrors.Is(err, sharederrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		}
		return
	}

	select {
	case res := <-pending.Result():
		c.JSON(http.StatusOK, resultResponse(res))
	case <-c.Request.Context().Done():
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "client disconnected"})
	}
}

type controlRequest struct {
	Char string `json:"char" binding:"required"`
}

// Control sends a control character to the pty, bypassing the queue.
func (h *Handlers) Control(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.ControlChar(req.Char[0]); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sent": req.Char})
}

type resizeRequest struct {
	Rows uint16 `json:"rows" binding:"required"`
	Cols uint16 `json:"cols" binding:"required"`
}

// Resize changes the pty window size.
func (h *Handlers) Resize(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.Resize(types.Dimensions{Rows: req.Rows, Cols: req.Cols}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rows": req.Rows, "cols": req.Cols})
}

// Output replays buffered output chunks from a sequence number. Chunk
// bytes are rendered as strings for JSON clients.
func (h *Handlers) Output(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	since, err := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since parameter"})
		return
	}

	chunks := s.ReplayFrom(since)
	out := make([]gin.H, 0, len(chunks))
	var next uint64 = since
	for _, ch := range chunks {
		out = append(out, gin.H{
			"seq":       ch.Seq,
			"data":      string(ch.Bytes),
			"timestamp": ch.Timestamp,
			"eof":       ch.EOF,
		})
		next = ch.Seq + 1
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": s.ID.String(),
		"chunks":     out,
		"next_seq":   next,
	})
}

type planRequest struct {
	Goal string `json:"goal" binding:"required"`
}

// Plan asks the external planner for a command sequence.
func (h *Handlers) Plan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	plan, err := h.planner.Plan(c.Request.Context(), req.Goal)
	if err != nil {
		h.metrics.RecordPlannerCall("plan", "error")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	h.metrics.RecordPlannerCall("plan", "ok")
	c.JSON(http.StatusOK, plan)
}

type classifyRequest struct {
	Command string `json:"command" binding:"required"`
}

// Classify returns the risk level and warnings for a single command.
func (h *Handlers) Classify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	risk := h.planner.Classify(c.Request.Context(), req.Command)
	c.JSON(http.StatusOK, gin.H{
		"command":  req.Command,
		"risk":     risk,
		"warnings": planner.Warnings(req.Command),
	})
}

// session resolves the :id path parameter, writing a 404 on miss.
func (h *Handlers) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return s, true
}
