package coordinator

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/metrics"
	"github.com/srand/jolt/engine/pkg/protocol"
	"github.com/srand/jolt/engine/pkg/utils"
)

func NewHttpHandler(service *Service, gatherer prometheus.Gatherer, r *echo.Echo) {
	r.GET("/workers", func(c echo.Context) error {
		return c.JSON(http.StatusOK, service.resources.ListWorkers())
	})

	r.GET("/jobs", func(c echo.Context) error {
		jobs := service.Jobs()
		statuses := make([]protocol.JobStatus, 0, len(jobs))
		for _, job := range jobs {
			statuses = append(statuses, job.Status())
		}
		return c.JSON(http.StatusOK, statuses)
	})

	r.GET("/jobs/:id", func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}

		job, err := service.Job(execution.JobID(id))
		if errors.Is(err, utils.ErrNotFound) {
			return c.String(http.StatusNotFound, err.Error())
		}
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, job.Status())
	})

	if gatherer != nil {
		r.GET("/metrics", echo.WrapHandler(metrics.Handler(gatherer)))
	}
}
