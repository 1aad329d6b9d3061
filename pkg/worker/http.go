package worker

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/srand/jolt/engine/pkg/metrics"
)

func NewHttpHandler(worker *Worker, gatherer prometheus.Gatherer, r *echo.Echo) {
	r.GET("/groups", func(c echo.Context) error {
		return c.JSON(http.StatusOK, worker.service.ListExecutionContexts())
	})

	r.GET("/stats", func(c echo.Context) error {
		return c.JSON(http.StatusOK, worker.service.Stats())
	})

	r.GET("/profile", func(c echo.Context) error {
		return c.JSON(http.StatusOK, worker.profile)
	})

	if gatherer != nil {
		r.GET("/metrics", echo.WrapHandler(metrics.Handler(gatherer)))
	}
}
