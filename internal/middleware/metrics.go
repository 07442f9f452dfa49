package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/linklink-server/internal/metrics"
)

// PrometheusMetrics records request count, latency and in-flight requests
// labelled by route pattern.
func PrometheusMetrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			metrics.HTTPRequestsInFlight.Inc()
			defer metrics.HTTPRequestsInFlight.Dec()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unknown"
			}
			code := strconv.Itoa(status)
			method := c.Request().Method
			metrics.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(method, route, code).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
