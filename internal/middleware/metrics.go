package middleware

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"fleetflow-gateway/internal/metrics"
)

// MetricsMiddleware records per-route request counts and latency together
// with the body bytes relayed in each direction. Inbound bytes are counted as
// the body is consumed, so a streamed upload is measured without buffering.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			route := metrics.Route(req.URL.Path)
			method := metrics.NormalizeMethod(req.Method)

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			in := &countingBody{ReadCloser: req.Body}
			if req.Body != nil && req.Body != http.NoBody {
				req.Body = in
			}

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)

			status := c.Response().Status
			var he *echo.HTTPError
			if err != nil && errors.As(err, &he) {
				// Not written yet; the central error handler runs after us.
				status = he.Code
			}

			m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status), route).Inc()
			m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
			if in.n > 0 {
				m.BodyBytes.WithLabelValues(metrics.DirectionIn, route).Add(float64(in.n))
			}
			if size := c.Response().Size; size > 0 {
				m.BodyBytes.WithLabelValues(metrics.DirectionOut, route).Add(float64(size))
			}

			return err
		}
	}
}

// countingBody tallies the bytes read from a request body.
type countingBody struct {
	io.ReadCloser
	n int64
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n += int64(n)
	return n, err
}
