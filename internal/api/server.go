package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/ticketing/config"
	"example.com/backstage/services/ticketing/internal/api/handlers"
	"example.com/backstage/services/ticketing/internal/cache"
	"example.com/backstage/services/ticketing/internal/repositories"
	"example.com/backstage/services/ticketing/internal/services"
	"example.com/backstage/services/ticketing/internal/tracing"
)

// Server represents the HTTP server
type Server struct {
	config      config.Config
	router      *gin.Engine
	httpServer  *http.Server
	store       repositories.Store
	intents     *services.IntentService
	listings    *services.ListingService
	settlements *services.SettlementService
	cacheClient *cache.RedisCache
	tracer      tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	store repositories.Store,
	intents *services.IntentService,
	listings *services.ListingService,
	settlements *services.SettlementService,
	cacheClient *cache.RedisCache,
	tracer tracing.Tracer,
) *Server {
	server := &Server{
		config:      cfg,
		store:       store,
		intents:     intents,
		listings:    listings,
		settlements: settlements,
		cacheClient: cacheClient,
		tracer:      tracer,
	}

	router := server.setupRouter()
	server.router = router

	httpServer := &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: router,
	}
	server.httpServer = httpServer

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handlers.RequestLogger())

	purchaseHandler := handlers.NewPurchaseHandler(s.intents, s.listings, s.tracer)
	purchaseHandler.RegisterRoutes(router)

	eventsHandler := handlers.NewEventsHandler(s.store, s.cacheClient)
	eventsHandler.RegisterRoutes(router)

	webhookHandler := handlers.NewWebhookHandler(s.settlements, s.config.Gateway.WebhookSecret, s.tracer)
	webhookHandler.RegisterRoutes(router)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
