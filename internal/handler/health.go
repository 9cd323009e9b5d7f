package handler

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"fleetflow-gateway/internal/client"
	"fleetflow-gateway/internal/config"
	"fleetflow-gateway/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

const defaultReachabilityTimeout = 2 * time.Second

// HealthHandler serves the gateway's own liveness and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version

	reachabilityTimeout time.Duration
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{
		cfg:                 cfg,
		version:             v,
		reachabilityTimeout: defaultReachabilityTimeout,
	}
}

// Healthz is the liveness check. It never contacts the backend, so a backend
// outage does not get the gateway restarted.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Backend backendStatus `json:"backend"`
	Policy  relayPolicy   `json:"policy"`
}

type backendStatus struct {
	URL                  string `json:"url"`
	Reachable            bool   `json:"reachable"`
	DialMillis           int64  `json:"dial_ms"`
	Error                string `json:"error,omitempty"`
	HeaderTimeoutSeconds int    `json:"header_timeout_seconds"`
}

type relayPolicy struct {
	ForwardedHeaders bool     `json:"forwarded_headers"`
	StrippedHeaders  []string `json:"stripped_headers"`
	BodyMaxBytes     int64    `json:"body_max_bytes"`
	RateLimitRPS     float64  `json:"rate_limit_rps"`
}

// Status reports how requests are relayed and whether the backend accepts
// TCP connections. It answers 503 when the backend cannot be reached, so it
// doubles as a readiness check.
func (h *HealthHandler) Status(c echo.Context) error {
	backend := h.checkBackend(c.Request().Context())

	resp := statusResponse{
		Status:  "ok",
		Version: string(h.version),
		Backend: backend,
		Policy: relayPolicy{
			ForwardedHeaders: h.cfg.Proxy.ForwardedHeaders,
			StrippedHeaders:  service.HopByHopHeaders(),
			BodyMaxBytes:     h.cfg.Server.BodyLimit(),
		},
	}
	if h.cfg.Server.RateLimit.Enabled {
		resp.Policy.RateLimitRPS = h.cfg.Server.RateLimit.RequestsPerSecond
	}

	code := http.StatusOK
	if !backend.Reachable {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

// checkBackend opens and closes a TCP connection to the backend. No HTTP
// request is sent, so the check has no side effects on the backend.
func (h *HealthHandler) checkBackend(ctx context.Context) backendStatus {
	st := backendStatus{
		URL:                  h.cfg.Backend.RedactedURL(),
		HeaderTimeoutSeconds: h.cfg.Backend.TimeoutSeconds,
	}

	addr, err := dialAddr(h.cfg.Backend.URL)
	if err != nil {
		st.Error = "invalid backend url"
		return st
	}

	ctx, cancel := context.WithTimeout(ctx, h.reachabilityTimeout)
	defer cancel()

	var d net.Dialer
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", addr)
	st.DialMillis = time.Since(start).Milliseconds()
	if err != nil {
		st.Error = reachabilityError(err)
		return st
	}
	_ = conn.Close()
	st.Reachable = true
	return st
}

// dialAddr returns host:port for a backend URL, filling in the scheme's
// default port.
func dialAddr(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

func reachabilityError(err error) string {
	switch client.Classify(err) {
	case client.FailureDNS:
		return "backend host unreachable"
	case client.FailureTimeout:
		return "backend connect timed out"
	default:
		return "backend connection failed"
	}
}
