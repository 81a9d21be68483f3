package http

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pinger проверяет доступность зависимости
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsProvider отдает состояние фоновых пулов
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// HealthHandler обработчик health checks
type HealthHandler struct {
	store     Pinger
	cache     Pinger
	analytics StatsProvider
	version   string
	startTime time.Time
	log       *zap.Logger
}

// NewHealthHandler создает новый health handler
func NewHealthHandler(store, cache Pinger, analytics StatsProvider, version string, log *zap.Logger) *HealthHandler {
	return &HealthHandler{
		store:     store,
		cache:     cache,
		analytics: analytics,
		version:   version,
		startTime: time.Now(),
		log:       log,
	}
}

// HealthResponse структура ответа health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
}

// ReadyResponse структура ответа проверки готовности
type ReadyResponse struct {
	Status         string                 `json:"status"`
	Timestamp      time.Time              `json:"timestamp"`
	DatabaseStatus string                 `json:"database_status"`
	CacheStatus    string                 `json:"cache_status"`
	Analytics      map[string]interface{} `json:"analytics,omitempty"`
}

// Health проверка живости, не трогает зависимости
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
	}, http.StatusOK)
}

// Ready проверка готовности: база данных и кэш
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := ReadyResponse{
		Status:         "ready",
		Timestamp:      time.Now().UTC(),
		DatabaseStatus: h.check(ctx, "database", h.store),
		CacheStatus:    h.check(ctx, "cache", h.cache),
	}
	if h.analytics != nil {
		response.Analytics = h.analytics.GetStats()
	}

	statusCode := http.StatusOK
	if response.DatabaseStatus != "healthy" || response.CacheStatus != "healthy" {
		response.Status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		h.log.Warn("readiness check failed",
			zap.String("database_status", response.DatabaseStatus),
			zap.String("cache_status", response.CacheStatus))
	}

	writeJSON(w, response, statusCode)
}

func (h *HealthHandler) check(ctx context.Context, name string, p Pinger) string {
	if p == nil {
		return "healthy"
	}
	if err := p.Ping(ctx); err != nil {
		h.log.Error("dependency ping failed", zap.String("dependency", name), zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
