// Package middleware holds the echo middleware for the status server:
// request ids, request logging, prometheus instrumentation, and payload
// validation.
package middleware

import "github.com/labstack/echo/v4"

// Skipper decides whether a middleware is bypassed for a request.
type Skipper func(c echo.Context) bool

var DefaultSkipper Skipper = func(c echo.Context) bool {
	return false
}

// Logger is the structured key-value logging surface the request logger
// needs; ct-go named loggers satisfy it.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}
