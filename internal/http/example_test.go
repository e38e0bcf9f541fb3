package http_test

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/ragd/internal/http"
	"github.com/fyrsmithlabs/ragd/internal/services"
)

// ExampleServer demonstrates how to create and start the HTTP server.
func ExampleServer() {
	// An empty registry serves /health and /metrics; API routes answer 503
	// until their services are wired.
	registry := services.NewRegistry(services.Options{})

	// Create logger
	logger := zap.NewNop()

	// Configure the server
	cfg := &httpserver.Config{
		Host: "localhost",
		Port: 0,
	}

	// Create the server
	server, err := httpserver.NewServer(registry, logger, cfg)
	if err != nil {
		panic(err)
	}

	// Start server in background
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
