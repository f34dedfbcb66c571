package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
	"github.com/comitanigiacomo/walme-bot/internal/core/workers"
)

type StatsReader interface {
	Latest() (*domain.RunStats, error)
	Account(email string) (*domain.AccountStat, error)
}

type RunTrigger interface {
	TriggerNow() bool
	State() workers.State
	Passes() int64
}

type StatusHandler struct {
	stats     StatsReader
	scheduler RunTrigger
	startTime time.Time
}

func NewStatusHandler(stats StatsReader, scheduler RunTrigger, startTime time.Time) *StatusHandler {
	return &StatusHandler{
		stats:     stats,
		scheduler: scheduler,
		startTime: startTime,
	}
}

func (h *StatusHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/stats", h.GetStats)
	r.GET("/accounts/:email", h.GetAccount)
	r.POST("/runs", h.TriggerRun)
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
		"state":  h.scheduler.State(),
		"passes": h.scheduler.Passes(),
	})
}

func (h *StatusHandler) GetStats(c *gin.Context) {
	stats, err := h.stats.Latest()
	if err != nil {
		if errors.Is(err, domain.ErrStatsNotReady) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no statistics yet, first batch still running"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve statistics"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *StatusHandler) GetAccount(c *gin.Context) {
	email := c.Param("email")

	stat, err := h.stats.Account(email)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		case errors.Is(err, domain.ErrStatsNotReady):
			c.JSON(http.StatusNotFound, gin.H{"error": "no statistics yet, first batch still running"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve account"})
		}
		return
	}

	c.JSON(http.StatusOK, stat)
}

func (h *StatusHandler) TriggerRun(c *gin.Context) {
	queued := h.scheduler.TriggerNow()

	c.JSON(http.StatusAccepted, gin.H{
		"queued": queued,
		"state":  h.scheduler.State(),
	})
}
