// paigeant-monitor exposes the workflow repository over HTTP so operators
// can watch workflows move through their itineraries.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/paigeant/paigeant/cmd/paigeant-monitor/routes"
	"github.com/paigeant/paigeant/common/bootstrap"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "paigeant-monitor", bootstrap.SkipTransport())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap paigeant-monitor: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown()

	e := setupEcho()
	setupHealthCheck(e)
	routes.RegisterWorkflowRoutes(e, components.Repository)

	startServer(e, components)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	return e
}

func setupHealthCheck(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "paigeant-monitor",
		})
	})
}

func startServer(e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.Service.Port
	log := components.Logger

	go func() {
		log.Info("starting paigeant-monitor", "port", port)
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown
	log.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
