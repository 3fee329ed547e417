package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/sessiond/pkg/authsdk"
	"github.com/aussiebroadwan/sessiond/pkg/httpx"
)

// readyTimeout bounds each dependency ping.
const readyTimeout = 2 * time.Second

// Pinger is anything readiness can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LivezHandler godoc
//
//	@Summary		Liveness Check Endpoint
//	@Description	Returns 200 while the process is serving, without touching any dependency
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version"
//	@Router			/livez [get].
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler godoc
//
//	@Summary		Readiness Check Endpoint
//	@Description	Readiness endpoint returning service health status and checks for critical dependencies
//	@Description	Includes uptime, version, and status of the session store and the user directory
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version, checks"
//	@Failure		503	{object}	authsdk.HealthResponse	"status, uptime, version, checks - service not ready"
//	@Router			/readyz [get].
func ReadyzHandler(
	startTime time.Time,
	version string,
	sessions Pinger,
	directory Pinger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &authsdk.HealthChecks{
			SessionStore: ping(r.Context(), sessions),
			Directory:    ping(r.Context(), directory),
		}

		overallStatus := "ok"
		statusCode := http.StatusOK
		if checks.SessionStore != "ok" || checks.Directory != "ok" {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := authsdk.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		}
		httpx.WriteJSON(w, statusCode, response)
	}
}

func ping(ctx context.Context, p Pinger) string {
	if p == nil {
		return "error: not configured"
	}

	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
