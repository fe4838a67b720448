package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"solescan/internal/ingest"
)

// WorkerPool is the slice of the ingest manager the health probe reads.
type WorkerPool interface {
	Snapshot() map[string]ingest.Health
	Healthy() bool
}

// Leader reports scheduler lease ownership.
type Leader interface {
	Leading() bool
}

type HealthHandler struct {
	DB        *gorm.DB
	Workers   WorkerPool
	Scheduler Leader
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

// health reports the full picture: db reachability, per-worker ingest
// health, and whether this instance leads the scheduler. Degraded workers
// do not fail the probe; a down worker or unreachable db does.
func (h *HealthHandler) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK

	if err := h.pingDB(); err != nil {
		body["status"] = "degraded"
		body["db"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		body["db"] = "ok"
	}

	if h.Workers != nil {
		body["ingest"] = h.Workers.Snapshot()
		if !h.Workers.Healthy() {
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	if h.Scheduler != nil {
		body["scheduler_leader"] = h.Scheduler.Leading()
	}

	c.JSON(status, body)
}

func (h *HealthHandler) ready(c *gin.Context) {
	if err := h.pingDB(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *HealthHandler) pingDB() error {
	if h.DB == nil {
		return errors.New("db not configured")
	}
	sqlDB, err := h.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
