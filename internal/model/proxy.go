// Package model defines the per-request types passed between gateway layers.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest is an inbound request to be forwarded to the backend.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// Path is the backend-relative path in escaped form, without a leading slash.
	Path     string
	RawQuery string
	Header   http.Header
	Body     io.ReadCloser
	// ContentLength is -1 when the inbound length is unknown (chunked).
	ContentLength int64

	ClientIP string
	Scheme   string
	Host     string
}

// ProxyResponse is the backend response to be streamed back to the caller.
type ProxyResponse struct {
	StatusCode    int
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}
