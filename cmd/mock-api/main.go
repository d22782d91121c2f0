// Command mock-api serves an in-memory Captain's Log API for running the
// offline sync tool against without a real backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dsbaciga/captainslog/internal/logger"
	"github.com/dsbaciga/captainslog/internal/mockapi"
	"github.com/dsbaciga/captainslog/offline"
)

func main() {
	port := flag.Int("port", 3000, "HTTP port")
	prefix := flag.String("prefix", "/api", "path prefix for every route")
	missingAsNull := flag.Bool("missing-as-null", false, "answer reads of unknown ids with {\"data\": null}")
	flag.Parse()

	log := logger.New("mock-api")

	opts := []mockapi.Option{mockapi.WithPrefix(*prefix)}
	if *missingAsNull {
		opts = append(opts, mockapi.WithMissingAsNull())
	}
	api := mockapi.New(offline.Endpoints(), opts...)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      api.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", *port).Str("prefix", *prefix).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server…")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}
