// Command server runs the message organism: the central pump, its
// listener registry, and the meta-namespace HTTP surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xmlpipeline/organism/internal/config"
	"github.com/xmlpipeline/organism/internal/metahttp"
	"github.com/xmlpipeline/organism/pkg/organism"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("organism: starting")

	ctx := context.Background()
	cfg := config.Load()

	// Transport is out of scope (SPEC_FULL §1): this process has no
	// external channel to deliver outbound messages over, so egress
	// logs and drops. A deployment that bridges to a real transport
	// supplies its own pump.Egress here instead.
	egress := func(_ context.Context, raw []byte) error {
		log.Debug().Int("bytes", len(raw)).Msg("organism: outbound message has no wired transport, dropping")
		return nil
	}

	org, err := organism.NewWithConfig(ctx, cfg, egress)
	if err != nil {
		log.Fatal().Err(err).Msg("organism: failed to initialize")
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      metahttp.NewRouter(org.Pump, nil, cfg.MetaCORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("organism: shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		org.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", cfg.Port).Str("version", cfg.Version).Msg("organism: ready")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("organism: http server failed")
	}
}
