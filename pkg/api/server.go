// Package api exposes the HTTP intake surface: lifecycle event delivery,
// manual reconciliation triggers, and dead-letter inspection.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/flocksync/flocksync/pkg/broker"
	"github.com/flocksync/flocksync/pkg/instances"
	"github.com/flocksync/flocksync/pkg/lifecycle"
	"github.com/flocksync/flocksync/pkg/log"
	"github.com/flocksync/flocksync/pkg/types"
)

// Server is the HTTP intake server. Lifecycle events are handled
// synchronously so the acknowledgement happens within the request;
// reconcile triggers only enqueue and return.
type Server struct {
	e       *echo.Echo
	addr    string
	handler *lifecycle.Handler
	broker  broker.Broker
	source  *instances.MemorySource
}

// NewServer wires the intake routes. source may be nil when the instance
// inventory is not managed over HTTP; the registration routes are then
// not installed.
func NewServer(addr string, handler *lifecycle.Handler, b broker.Broker, source *instances.MemorySource) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{e: e, addr: addr, handler: handler, broker: b, source: source}

	e.GET("/healthz", s.healthz)
	e.POST("/v1/lifecycle", s.postLifecycle)
	e.POST("/v1/reconcile/:group", s.postReconcile)
	e.GET("/v1/deadletters", s.getDeadLetters)

	if source != nil {
		e.PUT("/v1/groups/:group/instances/:id", s.putInstance)
		e.DELETE("/v1/groups/:group/instances/:id", s.deleteInstance)
	}

	return s
}

// Start begins serving. It blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	logger := log.WithComponent("api")
	logger.Info().Str("addr", s.addr).Msg("intake API listening")
	err := s.e.Start(s.addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) postLifecycle(c echo.Context) error {
	var event types.LifecycleEvent
	if err := c.Bind(&event); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid event payload"})
	}
	if event.ScalingGroup == "" || event.InstanceID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "scaling_group and instance_id are required"})
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	if err := s.handler.Handle(c.Request().Context(), &event); err != nil {
		logger := log.WithGroup(event.ScalingGroup)
		logger.Error().Err(err).Msg("lifecycle event handling failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "handled"})
}

func (s *Server) postReconcile(c echo.Context) error {
	group := c.Param("group")
	if group == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "group is required"})
	}
	if err := s.broker.Enqueue(c.Request().Context(), group, types.TriggerEvent); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"group": group, "status": "enqueued"})
}

func (s *Server) putInstance(c echo.Context) error {
	var view types.InstanceView
	if err := c.Bind(&view); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid instance payload"})
	}
	view.ScalingGroup = c.Param("group")
	view.ID = c.Param("id")
	if view.LifecycleState == "" {
		view.LifecycleState = "InService"
	}
	if view.LaunchedAt.IsZero() {
		view.LaunchedAt = time.Now().UTC()
	}
	s.source.SetInstance(view)

	// Membership changed; converge the group's records.
	if err := s.broker.Enqueue(c.Request().Context(), view.ScalingGroup, types.TriggerEvent); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) deleteInstance(c echo.Context) error {
	group := c.Param("group")
	s.source.RemoveInstance(c.Param("id"))

	if err := s.broker.Enqueue(c.Request().Context(), group, types.TriggerEvent); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getDeadLetters(c echo.Context) error {
	reader, ok := s.broker.(broker.DeadLetterReader)
	if !ok {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "broker does not expose dead letters"})
	}
	tasks, err := reader.DeadLetters()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if tasks == nil {
		tasks = []types.ReconciliationTask{}
	}
	return c.JSON(http.StatusOK, tasks)
}
