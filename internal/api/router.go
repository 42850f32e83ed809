package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cinvymoe/patrol_server/internal/api/handlers"
	apimiddleware "github.com/cinvymoe/patrol_server/internal/api/middleware"
	"github.com/cinvymoe/patrol_server/internal/api/service"
	"github.com/cinvymoe/patrol_server/internal/broker"
	"github.com/cinvymoe/patrol_server/internal/config"
	"github.com/cinvymoe/patrol_server/internal/detection"
	"github.com/cinvymoe/patrol_server/internal/mapper"
	"github.com/cinvymoe/patrol_server/internal/scheduler"
)

// RouterDependencies holds all dependencies needed by the router
type RouterDependencies struct {
	Config           *config.Config
	Broker           *broker.Broker
	DataManager      *broker.DataManager
	Mapper           *mapper.CameraMapper
	FrameCache       *detection.FrameCache
	DetectionMonitor *detection.Monitor
	CameraMonitor    *scheduler.CameraMonitor
	DB               *sql.DB
}

// Router holds the HTTP router and its handlers
type Router struct {
	config        *config.Config
	mux           *chi.Mux
	dispatch      *service.DispatchService
	streamHandler *handlers.StreamHandler
	statusHandler *handlers.StatusHandler
	healthHandler *handlers.HealthHandler
}

// NewRouter creates a new HTTP router
func NewRouter(deps *RouterDependencies) *Router {
	dispatch := service.NewDispatchService(deps.DataManager, deps.Mapper)

	r := &Router{
		config:        deps.Config,
		mux:           chi.NewRouter(),
		dispatch:      dispatch,
		streamHandler: handlers.NewStreamHandler(dispatch, deps.Broker, deps.FrameCache),
		statusHandler: handlers.NewStatusHandler(deps.Broker, deps.DataManager, deps.Mapper,
			deps.FrameCache, deps.DetectionMonitor, deps.CameraMonitor),
		healthHandler: handlers.NewHealthHandler(deps.DB),
	}

	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Dispatch returns the dispatch service for shutdown wiring.
func (r *Router) Dispatch() *service.DispatchService {
	return r.dispatch
}

func (r *Router) setupMiddleware() {
	r.mux.Use(middleware.RequestID)
	r.mux.Use(middleware.RealIP)
	r.mux.Use(apimiddleware.Logger)
	r.mux.Use(middleware.Recoverer)
	r.mux.Use(middleware.Timeout(60 * time.Second))

	if r.config.API.EnableCORS {
		r.mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: r.config.API.CORSAllowedOrigins,
			AllowedMethods: r.config.API.CORSAllowedMethods,
			AllowedHeaders: r.config.API.CORSAllowedHeaders,
			MaxAge:         300,
		}))
	}
}

func (r *Router) setupRoutes() {
	r.mux.Get("/health", r.healthHandler.Health)

	r.mux.Route("/api/v1", func(api chi.Router) {
		api.Route("/broker", func(b chi.Router) {
			b.Get("/stats", r.statusHandler.BrokerStats)
			b.Get("/subscribers/{type}", r.statusHandler.BrokerSubscribers)
		})

		api.Get("/messages/stats", r.statusHandler.DataManagerStats)

		api.Route("/mappings", func(m chi.Router) {
			m.Get("/directions", r.statusHandler.DirectionMappings)
			m.Get("/angle-ranges", r.statusHandler.AngleRanges)
			m.Post("/cache/clear", r.statusHandler.ClearMapperCache)
		})

		api.Route("/detection", func(d chi.Router) {
			d.Get("/status", r.statusHandler.DetectionStatus)
			d.Get("/frames/{id}/info", r.statusHandler.FrameInfo)
			d.Post("/frames/clear", r.statusHandler.ClearFrames)
			d.Post("/frames/{id}/clear", r.statusHandler.ClearFrames)
		})

		api.Get("/cameras/monitor/status", r.statusHandler.CameraMonitorStatus)
	})

	r.mux.Get("/ws/messages", r.streamHandler.WebSocketMessages)
	r.mux.Get("/ws/detection/frames/{id}", r.streamHandler.WebSocketFrames)
}
