package api

import (
	"context"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/kilnworks/kiln/cache"
	"github.com/kilnworks/kiln/providers"
)

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

var startTime = time.Now()

type HealthHandler struct {
	db      *gorm.DB
	cache   *cache.RedisCache
	network providers.PaymentNetwork
}

func CreateHealthHandler(db *gorm.DB, redisCache *cache.RedisCache, network providers.PaymentNetwork) *HealthHandler {
	return &HealthHandler{db: db, cache: redisCache, network: network}
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{
		"database": "ok",
		"cache":    "ok",
		"network":  "ok",
	}
	status := "healthy"

	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		checks["database"] = "unavailable"
		status = "degraded"
	}
	if h.cache == nil {
		checks["cache"] = "disabled"
	} else if err := h.cache.Client().Ping(ctx).Err(); err != nil {
		checks["cache"] = "unavailable"
		status = "degraded"
	}
	if !h.network.IsAvailable(ctx) {
		checks["network"] = "unavailable"
		status = "degraded"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(startTime).String(),
		Checks:    checks,
	})
}
