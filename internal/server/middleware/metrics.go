package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig tunes the request duration histogram and where the
// prometheus scrape endpoint is mounted.
type MetricsConfig struct {
	Skipper     Skipper
	Buckets     []float64
	MetricsPath string
}

var DefaultMetricsConfig = MetricsConfig{
	Skipper: DefaultSkipper,
	Buckets: []float64{
		0.001, 0.005,
		0.01, 0.05,
		0.1, 0.5,
		1.0, 5.0,
		10.0, 30.0,
	},
	MetricsPath: "/metrics",
}

// Metrics instruments request durations and serves the scrape endpoint with
// the default config.
func Metrics() echo.MiddlewareFunc {
	return MetricsWithConfig(DefaultMetricsConfig)
}

func MetricsWithConfig(config MetricsConfig) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = DefaultSkipper
	}
	durations := registerDurations(config.Buckets)

	var promHandler echo.HandlerFunc
	if config.MetricsPath != "" {
		promHandler = echo.WrapHandler(promhttp.Handler())
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if promHandler != nil && c.Request().RequestURI == config.MetricsPath {
				return promHandler(c)
			}
			if config.Skipper(c) {
				return next(c)
			}

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			durations.WithLabelValues(
				strconv.Itoa(c.Response().Status),
				c.Request().Method,
				c.Path(),
			).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func registerDurations(buckets []float64) *prometheus.HistogramVec {
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aibot_http_request_duration_seconds",
		Help:    "Time spent serving a route",
		Buckets: buckets,
	}, []string{"code", "method", "path"})
	if err := prometheus.Register(durations); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.HistogramVec)
		}
		panic(err)
	}
	return durations
}
