package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// CatalogStatus reports on the installed catalog.
type CatalogStatus interface {
	Loaded() bool
	Current() domain.Catalog
}

// Check probes one backing dependency.
type Check func(ctx context.Context) error

type namedCheck struct {
	name string
	fn   Check
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	catalog   CatalogStatus
	checks    []namedCheck
	timeout   time.Duration
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler reporting on catalog.
func NewHealthHandler(catalog CatalogStatus, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		catalog:   catalog,
		timeout:   2 * time.Second,
		startedAt: time.Now(),
		logger:    logHandler(logger, "health"),
	}
}

// WithCheck adds a dependency probe such as a database ping.
func (h *HealthHandler) WithCheck(name string, fn Check) *HealthHandler {
	h.checks = append(h.checks, namedCheck{name: name, fn: fn})
	sort.SliceStable(h.checks, func(i, j int) bool { return h.checks[i].name < h.checks[j].name })
	return h
}

type catalogHealth struct {
	Loaded     bool      `json:"loaded"`
	Generation uint64    `json:"generation"`
	Items      int       `json:"items"`
	LoadedAt   time.Time `json:"loadedAt,omitzero"`
}

// HealthCheck reports liveness, the installed catalog and each dependency.
// It answers 503 until a first catalog is installed.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	c := h.catalog.Current()
	resp := map[string]any{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"catalog": catalogHealth{
			Loaded:     h.catalog.Loaded(),
			Generation: c.Generation,
			Items:      len(c.Items),
			LoadedAt:   c.LoadedAt,
		},
	}

	deps := make(map[string]string, len(h.checks))
	for _, chk := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		err := chk.fn(ctx)
		cancel()
		if err != nil {
			h.logger.WarnContext(r.Context(), "dependency unhealthy",
				slog.String("dependency", chk.name),
				slog.String("error", err.Error()),
			)
			deps[chk.name] = err.Error()
			resp["status"] = "degraded"
			continue
		}
		deps[chk.name] = "ok"
	}
	if len(deps) > 0 {
		resp["dependencies"] = deps
	}

	status := http.StatusOK
	if !h.catalog.Loaded() {
		resp["status"] = "starting"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
