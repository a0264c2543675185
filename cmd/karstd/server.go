package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// startServer serves until ctx is cancelled, then drains in-flight
// requests before returning.
func startServer(ctx context.Context, host, port string, handler http.Handler, logger *zap.Logger) {
	addr := fmt.Sprintf("%s:%s", host, port)
	srv := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Info("Listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server down", zap.Error(err))
	}
}
