package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aminenidae/stint/pkg/coordinator"
	"github.com/aminenidae/stint/pkg/events"
	"github.com/aminenidae/stint/pkg/log"
	"github.com/aminenidae/stint/pkg/metrics"
	"github.com/aminenidae/stint/pkg/storage"
	"github.com/aminenidae/stint/pkg/types"
)

// Server serves the consumer HTTP API. Everything except enrollment is
// a read: consumers observe totals, gaps, and counters but never write
// ledger state through here.
type Server struct {
	coord    *coordinator.Coordinator
	store    storage.Store
	broker   *events.Broker
	readOnly bool

	http *http.Server
}

// NewServer creates an API server. With readOnly set, the enrollment
// endpoints are refused too and the surface is pure reads.
func NewServer(coord *coordinator.Coordinator, store storage.Store, broker *events.Broker, readOnly bool) *Server {
	return &Server{
		coord:    coord,
		store:    store,
		broker:   broker,
		readOnly: readOnly,
	}
}

// Start begins serving on addr. Returns once the listener is bound;
// serving continues in the background until Stop.
func (s *Server) Start(addr string) error {
	gin.SetMode(gin.ReleaseMode)

	s.http = &http.Server{
		Addr:        addr,
		Handler:     s.router(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: the SSE stream holds its connection open.
		IdleTimeout: 60 * time.Second,
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	metrics.RegisterComponent("api", true, "")
	log.WithComponent("api").Info().Str("addr", addr).Bool("read_only", s.readOnly).Msg("API listening")

	go func() {
		if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithComponent("api").Error().Err(err).Msg("API server failed")
			metrics.UpdateComponent("api", false, err.Error())
		}
	}()

	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.observe())
	if s.readOnly {
		router.Use(readOnlyGuard())
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/entities", s.listEntities)
		v1.POST("/entities", s.enrollEntity)
		v1.DELETE("/entities/:id", s.unenrollEntity)
		v1.GET("/entities/:id/total", s.entityTotal)
		v1.GET("/entities/:id/history", s.entityHistory)
		v1.GET("/entities/:id/stream", s.streamEntity)
		v1.GET("/gaps", s.listGaps)
		v1.GET("/counters", s.listCounters)
		v1.GET("/status", s.status)
	}

	router.GET("/healthz", gin.WrapF(metrics.HealthHandler()))
	router.GET("/readyz", s.readyz)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

// observe records request metrics after the handler runs.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()
		timer.ObserveDurationVec(metrics.APIRequestDuration, c.Request.Method)
		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// resolveEntity accepts an entity ID or a name. The CLI passes names,
// downstream consumers pass the IDs they stored.
func (s *Server) resolveEntity(param string) (*types.Entity, error) {
	entity, err := s.store.GetEntity(param)
	if err == nil {
		return entity, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return s.store.GetEntityByName(param)
}

func (s *Server) listEntities(c *gin.Context) {
	entities, err := s.store.ListEntities()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]EntityView, 0, len(entities))
	for _, entity := range entities {
		views = append(views, s.entityView(entity))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) enrollEntity(c *gin.Context) {
	var req EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	entity, err := s.coord.Enroll(c.Request.Context(), req.Name)
	if err != nil {
		if errors.Is(err, coordinator.ErrAlreadyEnrolled) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, s.entityView(entity))
}

func (s *Server) unenrollEntity(c *gin.Context) {
	entity, err := s.resolveEntity(c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := s.coord.Unenroll(c.Request.Context(), entity.Name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) entityTotal(c *gin.Context) {
	entity, err := s.resolveEntity(c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	view := TotalView{Entity: entity.ID, Name: entity.Name}
	if entry, lerr := s.store.GetLedger(entity.ID); lerr == nil {
		view.TotalSeconds = entry.TotalSeconds
		view.Epoch = entry.Epoch
		view.SuspiciousBursts = entry.SuspiciousBursts
		view.UpdatedAt = entry.UpdatedAt
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) entityHistory(c *gin.Context) {
	entity, err := s.resolveEntity(c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
		return
	}

	totals, err := s.store.ListDayTotals(entity.ID, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	view := HistoryView{Entity: entity.ID, Name: entity.Name, Days: make([]DayView, 0, len(totals))}
	for _, total := range totals {
		view.Days = append(view.Days, DayView{Day: total.Day, Seconds: total.Seconds})
	}
	if entry, lerr := s.store.GetLedger(entity.ID); lerr == nil && entry.Epoch != "" {
		view.Open = &DayView{Day: entry.Epoch, Seconds: entry.TotalSeconds}
	}
	c.JSON(http.StatusOK, view)
}

// streamEntity forwards broker events for one entity as SSE. Global
// events with no entity, liveness transitions mostly, go to every
// stream: a consumer watching totals wants to know when the pipeline
// degrades.
func (s *Server) streamEntity(c *gin.Context) {
	entity, err := s.resolveEntity(c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Entity != "" && ev.Entity != entity.ID {
				continue
			}
			c.SSEvent(string(ev.Type), EventView{
				Entity:    ev.Entity,
				Message:   ev.Message,
				Timestamp: ev.Timestamp,
			})
			c.Writer.Flush()
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().Unix())
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) listGaps(c *gin.Context) {
	gaps := s.coord.Gaps()

	views := make([]GapView, 0, len(gaps))
	for _, gap := range gaps {
		views = append(views, GapView{
			Entity:         gap.Entity,
			Start:          gap.Start,
			End:            gap.End,
			SuspectedCause: string(gap.SuspectedCause),
			DetectedAt:     gap.DetectedAt,
		})
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) listCounters(c *gin.Context) {
	counters, err := s.store.Counters()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Zero-fill so consumers see every class, incremented or not.
	for _, class := range types.CounterClasses {
		if _, ok := counters[class]; !ok {
			counters[class] = 0
		}
	}
	c.JSON(http.StatusOK, counters)
}

func (s *Server) status(c *gin.Context) {
	health := s.coord.Status()

	view := StatusView{
		Healthy:   health.Healthy,
		Reason:    health.Reason,
		CheckedAt: health.CheckedAt,
		Entities:  make(map[string]int),
	}

	entities, err := s.store.ListEntities()
	if err == nil {
		for _, entity := range entities {
			view.Entities[string(entity.State)]++
		}
	}

	if marker, err := s.store.GetLiveness(); err == nil {
		age := time.Since(marker.Timestamp).Round(time.Second).String()
		view.LivenessAge = age
	}

	c.JSON(http.StatusOK, view)
}

func (s *Server) readyz(c *gin.Context) {
	readiness := metrics.GetReadiness()

	code := http.StatusOK
	if readiness.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, readiness)
}

func (s *Server) entityView(entity *types.Entity) EntityView {
	view := EntityView{
		ID:         entity.ID,
		Name:       entity.Name,
		State:      string(entity.State),
		Generation: entity.Generation,
		EnrolledAt: entity.EnrolledAt,
	}
	if entity.Archived() {
		view.ArchivedAt = &entity.ArchivedAt
	}
	if entry, err := s.store.GetLedger(entity.ID); err == nil {
		view.TotalSeconds = entry.TotalSeconds
		view.Epoch = entry.Epoch
	}
	return view
}
