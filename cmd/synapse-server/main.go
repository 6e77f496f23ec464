// Command synapse-server is the Synapse process entry point: it wires
// the L1 store, optional secondary tier, UDS server and subscriber loop
// together, and owns process-level signal handling and exit codes.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sabirovruslan/synapse/internal/config"
	"github.com/sabirovruslan/synapse/internal/l1"
	"github.com/sabirovruslan/synapse/internal/metrics"
	"github.com/sabirovruslan/synapse/internal/secondary"
	"github.com/sabirovruslan/synapse/internal/server"
	"github.com/sabirovruslan/synapse/internal/shutdown"
	"github.com/sabirovruslan/synapse/internal/subscriber"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	configureLogging(cfg.LogLevel)

	stats := metrics.New("synapse", prometheus.DefaultRegisterer)
	store := l1.New(cfg.L1Capacity, stats)

	var secClient *secondary.Client
	if cfg.Secondary != nil {
		var err error
		secClient, err = secondary.New(*cfg.Secondary, stats)
		if err != nil {
			log.Error().Err(err).Msg("failed to configure secondary store")
			return 1
		}
		defer secClient.Close()
	}

	tok := shutdown.New()
	notifySignals(tok)

	go store.Run(tok.Context())

	if secClient != nil {
		sub := subscriber.New(store, secClient, stats)
		go sub.Run(tok.Context())
	}

	srv := server.New(cfg.SocketPath, store, secClient, stats)
	if err := srv.Run(tok); err != nil {
		log.Error().Err(err).Msg("synapse server exited with error")
		return 1
	}

	log.Info().Msg("synapse server shut down cleanly")
	return 0
}

// notifySignals triggers tok on SIGINT.
func notifySignals(tok *shutdown.Token) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT)
	go func() {
		<-sigCh
		log.Info().Msg("received SIGINT, shutting down")
		tok.Cancel()
	}()
}

func configureLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
