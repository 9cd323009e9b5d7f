// Package service implements the gateway's forwarding logic.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/textproto"
	"slices"
	"strings"

	"fleetflow-gateway/internal/config"
	"fleetflow-gateway/internal/model"
)

// hopByHopHeaders only apply to a single transport leg and are never relayed.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HopByHopHeaders returns the header names stripped in both directions, in
// addition to any listed in a Connection header.
func HopByHopHeaders() []string {
	return slices.Clone(hopByHopHeaders)
}

// Streamer executes an outbound request with a streamed body.
type Streamer interface {
	DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader, contentLength int64) (*model.ProxyResponse, error)
}

// ProxyService forwards requests to the backend origin it was built with.
type ProxyService struct {
	client           Streamer
	logger           *slog.Logger
	baseURL          string
	forwardedHeaders bool
}

// NewProxyService creates a ProxyService for cfg.Backend.URL. The config is
// expected to have passed config.Load validation.
func NewProxyService(c Streamer, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client:           c,
		logger:           logger.With("component", "proxy_service"),
		baseURL:          strings.TrimSuffix(cfg.Backend.URL, "/"),
		forwardedHeaders: cfg.Proxy.ForwardedHeaders,
	}
}

// Forward sends pr to the backend and returns the backend's response for
// relaying. Backend status codes are never treated as errors; an error means
// the backend could not be reached. The caller must close the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target := s.buildTargetURL(pr.Path, pr.RawQuery)
	header := s.outboundHeader(pr)
	body, length := requestBody(pr)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target, header, body, length)
	if err != nil {
		return nil, fmt.Errorf("forward to backend: %w", err)
	}

	removeHopByHop(resp.Header)
	return resp, nil
}

// buildTargetURL joins the backend origin with the escaped path and the
// literal query string. Neither is decoded or re-encoded.
func (s *ProxyService) buildTargetURL(path, rawQuery string) string {
	target := s.baseURL + "/" + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

func (s *ProxyService) outboundHeader(pr *model.ProxyRequest) http.Header {
	dst := pr.Header.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	removeHopByHop(dst)

	// An explicitly empty value stops net/http from adding its own User-Agent.
	if _, ok := dst["User-Agent"]; !ok {
		dst["User-Agent"] = []string{""}
	}

	if s.forwardedHeaders {
		if pr.ClientIP != "" {
			if prior := dst.Get("X-Forwarded-For"); prior != "" {
				dst.Set("X-Forwarded-For", prior+", "+pr.ClientIP)
			} else {
				dst.Set("X-Forwarded-For", pr.ClientIP)
			}
		}
		if pr.Scheme != "" {
			dst.Set("X-Forwarded-Proto", pr.Scheme)
		}
		if pr.Host != "" {
			dst.Set("X-Forwarded-Host", pr.Host)
		}
	}
	return dst
}

// requestBody returns the body to send and its length. GET and HEAD never
// carry a body; every other method streams the inbound body as-is.
func requestBody(pr *model.ProxyRequest) (io.Reader, int64) {
	switch pr.Method {
	case http.MethodGet, http.MethodHead:
		return http.NoBody, 0
	}
	if pr.Body == nil || pr.Body == http.NoBody || pr.ContentLength == 0 {
		return http.NoBody, 0
	}
	return pr.Body, pr.ContentLength
}

// removeHopByHop deletes hop-by-hop headers, including any named in Connection.
func removeHopByHop(h http.Header) {
	if h == nil {
		return
	}
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = textproto.TrimString(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
