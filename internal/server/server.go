package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/wisun2metrics/internal/config"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
)

// Server answers HTTP requests by asking the master actor
type Server struct {
	port           uint
	httpLog        bool
	rootContext    *actor.RootContext
	masterActor    *actor.PID
	metricsHandler http.Handler
}

// NewServer builds the HTTP server. metricsHandler may be nil, in which case
// /metrics is not served.
func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, metricsHandler http.Handler) *http.Server {
	srv := &Server{
		port:           cfg.Port,
		httpLog:        cfg.HttpLog,
		rootContext:    rootContext,
		masterActor:    masterActor,
		metricsHandler: metricsHandler,
	}

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", srv.port),
		Handler:           srv.RegisterRoutes(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// healthcheck waits up to 10s on the master
		WriteTimeout: 15 * time.Second,
	}
}
