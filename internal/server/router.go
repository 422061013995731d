package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hallqvist/voltmine/internal/controller"
	"github.com/hallqvist/voltmine/internal/metrics"
	"github.com/hallqvist/voltmine/internal/miner"
	"github.com/hallqvist/voltmine/internal/pricefeed"
	"github.com/hallqvist/voltmine/internal/store"
)

// Router exposes the daemon over HTTP for the CLI and any UI. The core has
// no protocol of its own; everything an operator does goes through here and
// ends up as controller commands, preserving per-slot ordering.
//
// Endpoints under {basePath}:
//
//	GET  /status         all slots (or ?name= for one)
//	GET  /prices         cached price per zone
//	GET  /prices/history ?zone=SE3&limit=N (requires a store)
//	GET  /events         ?slot=&limit=N lifecycle events (requires a store)
//	GET  /pools          built-in pool catalogue
//	POST /start          ?name=  manual start (mode manual_on)
//	POST /stop           ?name=  manual stop (mode manual_off)
//	POST /mode           ?name=&mode=automatic|manual_on|manual_off
//	GET  /metrics        Prometheus exposition (when enabled)
type Router struct {
	ctl      *controller.Controller
	cache    *pricefeed.Cache
	st       store.Store // optional
	metrics  bool
	basePath string
}

type Options struct {
	Controller *controller.Controller
	Cache      *pricefeed.Cache
	Store      store.Store
	Metrics    bool
	BasePath   string
}

func NewRouter(o Options) *Router {
	return &Router{
		ctl:      o.Controller,
		cache:    o.Cache,
		st:       o.Store,
		metrics:  o.Metrics,
		basePath: sanitizeBase(o.BasePath),
	}
}

// Handler returns a gin-powered http.Handler that can be mounted anywhere.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/prices", r.handlePrices)
	group.GET("/prices/history", r.handlePriceHistory)
	group.GET("/events", r.handleEvents)
	group.GET("/pools", r.handlePools)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/mode", r.handleMode)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, o Options) *http.Server {
	r := NewRouter(o)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	views := r.ctl.Views()
	if name := c.Query("name"); name != "" {
		for _, v := range views {
			if v.Name == name {
				writeJSON(c, http.StatusOK, v)
				return
			}
		}
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown slot " + name})
		return
	}
	writeJSON(c, http.StatusOK, views)
}

func (r *Router) handlePrices(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.cache.Snapshot())
}

func (r *Router) handlePriceHistory(c *gin.Context) {
	if r.st == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no store configured"})
		return
	}
	zone, err := pricefeed.ParseZone(c.Query("zone"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	samples, err := r.st.RecentPrices(c.Request.Context(), zone, queryLimit(c))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, samples)
}

func (r *Router) handleEvents(c *gin.Context) {
	if r.st == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no store configured"})
		return
	}
	events, err := r.st.RecentTransitions(c.Request.Context(), c.Query("slot"), queryLimit(c))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, events)
}

func (r *Router) handlePools(c *gin.Context) {
	writeJSON(c, http.StatusOK, miner.DefaultPools)
}

func (r *Router) handleStart(c *gin.Context) {
	r.applyMode(c, controller.ModeManualOn)
}

func (r *Router) handleStop(c *gin.Context) {
	r.applyMode(c, controller.ModeManualOff)
}

func (r *Router) handleMode(c *gin.Context) {
	m, err := controller.ParseMode(c.Query("mode"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	r.applyMode(c, m)
}

func (r *Router) applyMode(c *gin.Context, m controller.Mode) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name"})
		return
	}
	if err := r.ctl.SetMode(name, m); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func queryLimit(c *gin.Context) int {
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 0
}
