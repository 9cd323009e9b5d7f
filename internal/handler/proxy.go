package handler

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"fleetflow-gateway/internal/client"
	"fleetflow-gateway/internal/model"
	"fleetflow-gateway/internal/service"
)

const (
	apiPrefix   = "/api"
	openAPIPath = "openapi.json"
)

// Credential-looking query values and URL passwords in error messages.
var (
	secretParamPattern = regexp.MustCompile(`(?i)((?:token|access_token|api_?key|password)=)[^&\s"]+`)
	userinfoPattern    = regexp.MustCompile(`(//[^/:@\s"]+:)[^@/\s"]+(@)`)
)

// Forwarder relays a request to the backend.
type Forwarder interface {
	Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error)
}

// ProxyHandler forwards API requests to the backend and streams the response back.
type ProxyHandler struct {
	service Forwarder
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies /api and /api/* to the same path on the backend, minus the
// /api prefix.
func (h *ProxyHandler) Handle(c echo.Context) error {
	return h.forward(c, backendPath(c.Request().URL))
}

// OpenAPI proxies /openapi.json to the backend's schema document.
func (h *ProxyHandler) OpenAPI(c echo.Context) error {
	return h.forward(c, openAPIPath)
}

func (h *ProxyHandler) forward(c echo.Context, path string) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          path,
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
		ClientIP:      peerIP(req),
		Scheme:        peerScheme(req),
		Host:          req.Host,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Backend values replace anything the gateway middleware already set.
	dst := c.Response().Header()
	for key, vals := range resp.Header {
		dst[key] = vals
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Once the status is sent a mid-stream failure can only truncate the
	// body, so it is logged rather than returned.
	var w io.Writer = c.Response()
	if resp.ContentLength < 0 {
		w = &flushWriter{w: c.Response(), rc: http.NewResponseController(c.Response())}
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", sanitizeError(err),
			"path", req.URL.Path,
		)
	}

	return nil
}

// backendPath returns the escaped request path with the /api prefix and the
// following slash removed.
func backendPath(u *url.URL) string {
	p := strings.TrimPrefix(u.EscapedPath(), apiPrefix)
	return strings.TrimPrefix(p, "/")
}

// peerIP returns the address of the connection the request arrived on.
// Client-supplied X-Forwarded-For and X-Real-Ip headers are not consulted.
func peerIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// peerScheme reports the scheme of the inbound connection itself.
func peerScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)

	// Errors raised while reading the inbound body (such as the body limit
	// tripping mid-stream) surface inside the outbound error.
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return c.JSON(he.Code, map[string]string{
			"error": strings.ToLower(http.StatusText(he.Code)),
		})
	}

	status := http.StatusBadGateway
	var msg string
	switch client.Classify(err) {
	case client.FailureCanceled:
		msg = "client disconnected"
	case client.FailureTimeout:
		status = http.StatusGatewayTimeout
		msg = "backend request timed out"
	case client.FailureDNS:
		msg = "backend host unreachable"
	case client.FailureConnection:
		msg = "backend connection failed"
	default:
		msg = "backend request failed"
	}
	return c.JSON(status, map[string]string{"error": msg})
}

// sanitizeError redacts credentials from error messages that embed backend URLs.
func sanitizeError(err error) string {
	msg := secretParamPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
	return userinfoPattern.ReplaceAllString(msg, "${1}[REDACTED]${2}")
}

// flushWriter pushes each chunk to the client for bodies of unknown length,
// such as server-sent events.
type flushWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err != nil {
		return n, err
	}
	_ = fw.rc.Flush()
	return n, nil
}
