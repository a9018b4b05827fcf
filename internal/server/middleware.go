package server

import (
	"errors"
	"net/http"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/labstack/echo/v4"
)

func errorHandler() echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var he *echo.HTTPError
		if !errors.As(err, &he) {
			he = &echo.HTTPError{
				Code:    http.StatusInternalServerError,
				Message: http.StatusText(http.StatusInternalServerError),
			}
		}
		if he.Code >= http.StatusInternalServerError {
			log.Errorw(c.Request().Context(), "request failed", "error", err.Error())
		}

		if c.Response().Committed {
			return
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(he.Code)
		} else {
			err = c.JSON(he.Code, he)
		}
		if err != nil {
			log.Errorw(c.Request().Context(), "error response write failed", "error", err.Error())
		}
	}
}
