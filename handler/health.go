package handler

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/paymux/paymux/idempotency"
	"github.com/paymux/paymux/infra/response"
	"github.com/paymux/paymux/plugin"
)

// Version is stamped at build time
var Version = "dev"

// HealthHandler answers liveness and readiness probes
type HealthHandler struct {
	db        *sql.DB
	redis     idempotency.RedisClient
	host      *plugin.Host
	startTime time.Time
}

// HealthStatus is the readiness report
type HealthStatus struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Timestamp  time.Time         `json:"timestamp"`
	Uptime     string            `json:"uptime"`
	Database   DatabaseHealth    `json:"database"`
	Redis      *RedisHealth      `json:"redis,omitempty"`
	Providers  map[string]string `json:"providers"`
	Goroutines int               `json:"goroutines"`
}

// DatabaseHealth reports the SQLite connection state
type DatabaseHealth struct {
	Connected    bool   `json:"connected"`
	ResponseTime string `json:"responseTimeMs"`
	OpenConns    int    `json:"openConnections"`
	Error        string `json:"error,omitempty"`
}

// RedisHealth reports the idempotency store connection state
type RedisHealth struct {
	Connected    bool   `json:"connected"`
	ResponseTime string `json:"responseTimeMs"`
	Error        string `json:"error,omitempty"`
}

// NewHealthHandler creates a new health handler. redis is nil when claims
// run on the in-process store.
func NewHealthHandler(db *sql.DB, redis idempotency.RedisClient, host *plugin.Host) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, host: host, startTime: time.Now()}
}

// Liveness reports that the process is up
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, "OK", map[string]string{"status": "alive"})
}

// Readiness reports whether the service can take traffic. The database, and
// Redis when configured, must answer; provider states are informational.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:     "healthy",
		Version:    Version,
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Providers:  make(map[string]string),
		Goroutines: runtime.NumGoroutine(),
	}

	start := time.Now()
	if err := h.db.PingContext(ctx); err != nil {
		status.Status = "unhealthy"
		status.Database.Error = err.Error()
	} else {
		status.Database.Connected = true
	}
	status.Database.ResponseTime = time.Since(start).Round(time.Millisecond).String()
	status.Database.OpenConns = h.db.Stats().OpenConnections

	if h.redis != nil {
		status.Redis = &RedisHealth{}
		start = time.Now()
		if err := h.redis.Ping(ctx).Err(); err != nil {
			status.Status = "unhealthy"
			status.Redis.Error = err.Error()
		} else {
			status.Redis.Connected = true
		}
		status.Redis.ResponseTime = time.Since(start).Round(time.Millisecond).String()
	}

	if h.host != nil {
		for _, desc := range h.host.Discover() {
			status.Providers[desc.Name] = string(desc.State)
		}
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	response.Success(w, code, "Health", status)
}
