package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"propmock/internal/domain/chaos"
	"propmock/internal/domain/docstore"
	"propmock/internal/platform/observability"
)

// StatusBody is returned by GET /__mock/status.
type StatusBody struct {
	Collections   map[string]int         `json:"collections"`
	Chaos         chaos.Config           `json:"chaos"`
	Metrics       observability.Snapshot `json:"metrics"`
	Listeners     int                    `json:"listeners"`
	DroppedEvents int64                  `json:"dropped_events"`
}

type control struct {
	store     *docstore.Store
	chaos     *chaos.Controller
	recorder  *observability.Recorder
	listeners func() int
	dropped   func() int64
}

func (ctl control) register(group *gin.RouterGroup, events http.HandlerFunc) {
	group.GET("/config", ctl.getConfig)
	group.PATCH("/config", ctl.patchConfig)
	group.POST("/reset", ctl.reset)
	group.GET("/status", ctl.status)
	if events != nil {
		group.GET("/events", gin.WrapF(events))
	}
}

func (ctl control) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, ctl.chaos.Config())
}

func (ctl control) patchConfig(c *gin.Context) {
	var patch chaos.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, http.StatusBadRequest, "invalid chaos patch")
		return
	}
	cfg, err := ctl.chaos.UpdateConfig(patch)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (ctl control) reset(c *gin.Context) {
	ctl.store.Reset(c.Request.Context())
	ctl.recorder.Reset()
	c.JSON(http.StatusOK, gin.H{"collections": ctl.store.Stats(c.Request.Context())})
}

func (ctl control) status(c *gin.Context) {
	body := StatusBody{
		Collections: ctl.store.Stats(c.Request.Context()),
		Chaos:       ctl.chaos.Config(),
		Metrics:     ctl.recorder.Snapshot(),
	}
	if ctl.listeners != nil {
		body.Listeners = ctl.listeners()
	}
	if ctl.dropped != nil {
		body.DroppedEvents = ctl.dropped()
	}
	c.JSON(http.StatusOK, body)
}
