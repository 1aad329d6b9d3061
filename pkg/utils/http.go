package utils

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/srand/jolt/engine/pkg/log"
)

func HttpLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		log.Tracef("%4s %s %v", c.Request().Method, c.Request().URL, c.Response().Status)
		return err
	}
}

// NewEcho creates an echo instance with the common middleware and debug routes.
func NewEcho() *echo.Echo {
	r := echo.New()
	r.HideBanner = true
	r.HidePort = true
	r.Logger.SetOutput(log.NewLogWriter(log.DebugLevel))
	r.Use(HttpLogger)
	r.Add(echo.GET, "/debug/pprof/*", echo.WrapHandler(http.DefaultServeMux))
	return r
}
