// Package server implements the UDS accept loop, per-connection request
// dispatch and graceful shutdown.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	uuid "github.com/satori/go.uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sabirovruslan/synapse/internal/l1"
	"github.com/sabirovruslan/synapse/internal/metrics"
	"github.com/sabirovruslan/synapse/internal/protocol"
	"github.com/sabirovruslan/synapse/internal/secondary"
	"github.com/sabirovruslan/synapse/internal/shutdown"
)

// drainTimeout bounds how long Run waits, once shutdown is triggered,
// for in-flight connections to finish their current request and return
// on their own; in-flight tasks are never forcibly cancelled.
const drainTimeout = 5 * time.Second

// Server owns the UDS listener and dispatches every accepted connection
// to the shared L1 store and, when configured, the secondary tier.
type Server struct {
	socketPath string
	l1         *l1.Store
	secondary  *secondary.Client
	metrics    *metrics.Set
}

// New builds a Server. sec may be nil to disable the secondary tier.
func New(socketPath string, store *l1.Store, sec *secondary.Client, m *metrics.Set) *Server {
	return &Server{socketPath: socketPath, l1: store, secondary: sec, metrics: m}
}

// Run resolves the socket path, binds the listener, and serves
// connections until tok is cancelled. It returns nil on a clean
// shutdown; a non-nil error means bind failure or an unrecovered accept
// error.
func (s *Server) Run(tok *shutdown.Token) error {
	if dir := filepath.Dir(s.socketPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if _, err := os.Stat(s.socketPath); err == nil {
		if err := os.Remove(s.socketPath); err != nil {
			return err
		}
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	defer listener.Close()

	log.Info().Str("socket", s.socketPath).Msg("synapse server started")

	g, ctx := errgroup.WithContext(tok.Context())

	closeOnShutdown := make(chan struct{})
	go func() {
		select {
		case <-tok.Done():
			listener.Close()
		case <-closeOnShutdown:
		}
	}()

	var acceptErr error
acceptLoop:
	for {
		conn, err := listener.Accept()
		if err != nil {
			if tok.Cancelled() {
				break acceptLoop
			}
			log.Error().Err(err).Msg("accept failed")
			acceptErr = err
			break acceptLoop
		}

		g.Go(func() error {
			s.handleConn(ctx, conn)
			return nil
		})
	}
	close(closeOnShutdown)

	log.Info().Msg("uds accept loop stopped")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		log.Warn().Msg("shutdown drain timeout exceeded; returning without waiting for stragglers")
	}

	return acceptErr
}

// handleConn reads frames sequentially from conn until EOF, a framing
// error, or shutdown, replying exactly once per request. Shutdown is
// checked between requests; a read already waiting on the client is not
// interrupted.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	connID := uuid.NewV4().String()
	defer conn.Close()
	logger := log.With().Str("conn_id", connID).Logger()
	logger.Debug().Msg("connection accepted")

	for {
		if ctx.Err() != nil {
			return
		}

		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug().Err(err).Msg("connection closed")
			}
			return
		}

		started := time.Now()
		resp, opLabel := s.dispatch(ctx, payload)

		if s.metrics != nil {
			s.metrics.Latency.WithLabelValues(opLabel).Observe(float64(time.Since(started).Milliseconds()))
		}

		if err := protocol.WriteFrame(conn, protocol.EncodeResponse(resp)); err != nil {
			logger.Debug().Err(err).Msg("write failed")
			return
		}
	}
}

// dispatch decodes one frame payload and produces its response. A
// decode failure always yields the generic Error("Not implemented")
// response and the connection continues.
func (s *Server) dispatch(ctx context.Context, payload []byte) (protocol.CacheResponce, string) {
	cmd, err := protocol.DecodeCommand(payload)
	if err != nil {
		if s.metrics != nil {
			s.metrics.Error.WithLabelValues("decode").Inc()
		}
		return protocol.Error("Not implemented"), "decode_error"
	}

	switch cmd.Kind {
	case protocol.CmdGet:
		return s.l1.Get(cmd.Key), metrics.OpGetLabel
	case protocol.CmdSet:
		s.l1.Set(cmd.Key, cmd.Value, cmd.TTLSecs)
		if s.secondary != nil {
			go s.writeThrough(ctx, cmd)
		}
		return protocol.Ok(), metrics.OpSetLabel
	default:
		return protocol.Error("Not implemented"), "decode_error"
	}
}

// writeThrough fires the secondary-store write after the local L1 write
// already succeeded. Its failure is logged, never surfaced to the
// client, who has already received Ok.
func (s *Server) writeThrough(ctx context.Context, cmd protocol.Command) {
	if err := s.secondary.Set(ctx, cmd.Key, cmd.Value, cmd.TTLSecs); err != nil {
		log.Warn().Err(err).Str("key", cmd.Key).
			Msg("secondary write-through failed; client already received Ok")
	}
}
