package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-pulsemap/internal/engine"
	"github.com/mr1hm/go-pulsemap/internal/geo"
	"github.com/mr1hm/go-pulsemap/internal/models"
	"github.com/mr1hm/go-pulsemap/internal/queue"
	"github.com/mr1hm/go-pulsemap/internal/reactions"
	"github.com/mr1hm/go-pulsemap/internal/tracts"
	"github.com/mr1hm/go-pulsemap/internal/updates"
)

type Handler struct {
	eng *engine.Engine
}

func NewHandler(eng *engine.Engine) *Handler {
	return &Handler{eng: eng}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	api := r.Group("/api")
	api.GET("/tracts", h.getTracts)
	api.PUT("/viewport", h.putViewport)
	api.PUT("/anchor", h.putAnchor)
	api.GET("/nearby", h.getNearby)
	api.GET("/updates", h.getUpdates)
	api.GET("/reactions", h.getReactions)
	api.POST("/reports/:rid/react", h.react)
	api.GET("/queue", h.getQueue)
	api.POST("/queue/:action", h.queueAction)
	api.GET("/stream", h.stream)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"session": h.eng.SessionID(),
		"points":  h.eng.Sources.Counts(),
	})
}

func (h *Handler) getTracts(c *gin.Context) {
	fc := OverlayGeoJSON(h.eng.Tracts.Overlay())
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

type viewportRequest struct {
	Zoom   float64   `json:"zoom"`
	BBox   string    `json:"bbox"`
	Bounds *geo.BBox `json:"bounds"`
}

func (h *Handler) putViewport(c *gin.Context) {
	var req viewportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	vp := tracts.Viewport{Zoom: req.Zoom, Bounds: req.Bounds}
	if req.BBox != "" {
		b, err := geo.ParseBBox(req.BBox)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		vp.Bounds = &b
	}
	if vp.Bounds != nil {
		if err := vp.Bounds.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	token := h.eng.SetViewport(c.Request.Context(), vp)
	c.JSON(http.StatusAccepted, gin.H{"token": token})
}

func (h *Handler) putAnchor(c *gin.Context) {
	var anchor models.Coordinates
	if err := c.ShouldBindJSON(&anchor); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if anchor.Latitude < -90 || anchor.Latitude > 90 || anchor.Longitude < -180 || anchor.Longitude > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates out of range"})
		return
	}

	token := h.eng.SetAnchor(c.Request.Context(), anchor)
	c.JSON(http.StatusAccepted, gin.H{"token": token})
}

func (h *Handler) getNearby(c *gin.Context) {
	res := h.eng.Nearby.Latest()
	body := gin.H{
		"token":  res.Token,
		"anchor": res.Anchor,
		"items":  nonNil(res.Items),
	}
	if res.Err != nil {
		body["error"] = res.Err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) getUpdates(c *gin.Context) {
	tab, ok := updates.ParseTab(c.Query("tab"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tab must be local or global"})
		return
	}

	items, err := h.eng.LoadUpdates(c.Request.Context(), tab)
	switch {
	case errors.Is(err, engine.ErrNoAnchor):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load updates", "items": []models.UpdateItem{}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tab": tab, "items": nonNil(items)})
}

func (h *Handler) getReactions(c *gin.Context) {
	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	c.JSON(http.StatusOK, h.eng.Reactions.Snapshot(ids...))
}

type reactRequest struct {
	Action string `json:"action" binding:"required"`
}

func (h *Handler) react(c *gin.Context) {
	var req reactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	action, err := models.ParseAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rid := c.Param("rid")
	state, err := h.eng.Reactions.Toggle(c.Request.Context(), rid, action)
	if errors.Is(err, reactions.ErrCommitFailed) {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "rid": rid, "state": state})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rid": rid, "state": state})
}

func (h *Handler) getQueue(c *gin.Context) {
	c.JSON(http.StatusOK, h.eng.Queue.State())
}

func (h *Handler) queueAction(c *gin.Context) {
	q := h.eng.Queue

	switch name := c.Param("action"); name {
	case "open":
		if !q.Open() {
			c.JSON(http.StatusConflict, gin.H{"error": queue.ErrEmpty.Error()})
			return
		}
	case "close":
		q.Close()
	default:
		action, err := queue.ParseAction(name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := q.Act(c.Request.Context(), action); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, queue.ErrBusy) || errors.Is(err, queue.ErrEmpty) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, q.State())
}

// stream pushes queue, overlay and reaction changes as server-sent events
// until the client goes away. The current queue state and overlay are sent
// first.
func (h *Handler) stream(c *gin.Context) {
	qid, queueCh := h.eng.Queue.Subscribe()
	defer h.eng.Queue.Unsubscribe(qid)
	oid, overlayCh := h.eng.Tracts.Subscribe()
	defer h.eng.Tracts.Unsubscribe(oid)
	rid, reactionCh := h.eng.Reactions.Subscribe()
	defer h.eng.Reactions.Unsubscribe(rid)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	slog.Debug("stream client connected", "remote", c.ClientIP())

	c.SSEvent("queue", h.eng.Queue.State())
	c.SSEvent("overlay", OverlayGeoJSON(h.eng.Tracts.Overlay()))
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("stream client disconnected", "remote", c.ClientIP())
			return
		case st, ok := <-queueCh:
			if !ok {
				return
			}
			c.SSEvent("queue", st)
		case ov, ok := <-overlayCh:
			if !ok {
				return
			}
			c.SSEvent("overlay", OverlayGeoJSON(ov))
		case ch, ok := <-reactionCh:
			if !ok {
				return
			}
			c.SSEvent("reaction", ch)
		}
		c.Writer.Flush()
	}
}

func nonNil(items []models.UpdateItem) []models.UpdateItem {
	if items == nil {
		return []models.UpdateItem{}
	}
	return items
}
