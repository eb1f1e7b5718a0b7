package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/good-food-maalsi/franchise-service/internal/config"
	"github.com/good-food-maalsi/franchise-service/internal/metrics"
)

type BrokerStatus interface {
	Connected() bool
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db        Pinger
	consumer  BrokerStatus
	publisher BrokerStatus
}

// NewHealthHandler reports degraded when the consumer session is down or the
// database does not answer a ping. The publisher session is reported on its
// own and never degrades the worker; a nil publisher is left out.
func NewHealthHandler(db Pinger, consumer, publisher BrokerStatus) *HealthHandler {
	return &HealthHandler{db: db, consumer: consumer, publisher: publisher}
}

func status(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

// HealthCheck returns worker status
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	brokerUp := h.consumer.Connected()

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	dbUp := h.db.Ping(ctx) == nil

	code, overall := http.StatusOK, "ok"
	if !brokerUp || !dbUp {
		code, overall = http.StatusServiceUnavailable, "degraded"
	}

	body := gin.H{
		"status":    overall,
		"service":   config.ServiceName,
		"rabbitmq":  status(brokerUp),
		"database":  status(dbUp),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.publisher != nil {
		body["publisher"] = status(h.publisher.Connected())
	}
	c.JSON(code, body)
}

// NewRouter serves /health and /metrics
func NewRouter(health *HealthHandler, m *metrics.Registry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", health.HealthCheck)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	return router
}
