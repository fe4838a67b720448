package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"solescan/internal/ingest"
)

// maxIngestBatch bounds one POST so a single supplier cannot monopolize the
// push channel.
const maxIngestBatch = 1000

// IngestHandler accepts inbound push events and hands them to the matching
// push worker's channel. The channel is bounded; when a source cannot keep
// up the caller gets a 429 and retries with its own backoff.
type IngestHandler struct {
	Token   string
	Inboxes map[string]chan<- ingest.Event
	Logger  *zap.Logger
}

func (h *IngestHandler) Register(r *gin.Engine) {
	r.POST("/v1/ingest/:source/events", h.acceptEvents)
}

func (h *IngestHandler) acceptEvents(c *gin.Context) {
	if h.Token != "" && c.GetHeader("X-Ingest-Token") != h.Token {
		Error(c, http.StatusUnauthorized, "bad ingest token")
		return
	}

	source := c.Param("source")
	inbox, ok := h.Inboxes[source]
	if !ok {
		Error(c, http.StatusNotFound, "unknown ingest source "+source)
		return
	}

	var events []ingest.Event
	if err := c.ShouldBindJSON(&events); err != nil {
		Error(c, http.StatusBadRequest, "bad event batch: "+err.Error())
		return
	}
	if len(events) == 0 {
		Error(c, http.StatusBadRequest, "empty event batch")
		return
	}
	if len(events) > maxIngestBatch {
		Error(c, http.StatusRequestEntityTooLarge, "batch exceeds limit")
		return
	}

	accepted := 0
	for _, ev := range events {
		select {
		case inbox <- ev:
			accepted++
		default:
			// Inbox full; report what landed so the supplier resends the rest.
			h.log().Warn("ingest inbox full",
				zap.String("source", source),
				zap.Int("accepted", accepted),
				zap.Int("rejected", len(events)-accepted))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"accepted": accepted,
				"rejected": len(events) - accepted,
			})
			return
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

func (h *IngestHandler) log() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return zap.NewNop()
}
