package http_test

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mender/internal/eventlog"
	"github.com/fyrsmithlabs/mender/internal/handler"
	httpserver "github.com/fyrsmithlabs/mender/internal/http"
	"github.com/fyrsmithlabs/mender/internal/learning"
	"github.com/fyrsmithlabs/mender/internal/logging"
	"github.com/fyrsmithlabs/mender/internal/pattern"
	"github.com/fyrsmithlabs/mender/internal/remediation"
)

// ExampleServer wires the engine over in-memory stores and serves it.
func ExampleServer() {
	logger := zap.NewNop()
	patterns := pattern.NewMemoryStore()

	events, err := eventlog.NewLogger(nil, eventlog.NewMemoryStore(), nil, logger)
	if err != nil {
		panic(err)
	}
	learner, err := learning.NewLearner(nil, patterns, nil, logger)
	if err != nil {
		panic(err)
	}
	registry := remediation.NewRegistry()
	remediator, err := remediation.NewService(nil, patterns, registry, nil, logger)
	if err != nil {
		panic(err)
	}
	h, err := handler.New(nil, events, learner, remediator, patterns, logging.NewNop())
	if err != nil {
		panic(err)
	}

	server, err := httpserver.NewServer(httpserver.Deps{
		Handler:  h,
		Patterns: patterns,
		Actions:  registry,
	}, logger, &httpserver.Config{Host: "localhost", Port: 0})
	if err != nil {
		panic(err)
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
