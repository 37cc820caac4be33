// Package wireserver accepts incoming peer connections and answers the
// liveness/config-pull protocol over them (§4.5).
package wireserver

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/p2p-failover/failoverd/internal/config"
	"github.com/p2p-failover/failoverd/internal/metrics"
	"github.com/p2p-failover/failoverd/pkg/wireproto"
)

// Server answers PING and GET CONFIG on a single bound port.
type Server struct {
	store  *config.Store
	logger *slog.Logger
}

// New returns a Server that answers GET CONFIG from store's raw text.
func New(store *config.Store, logger *slog.Logger) *Server {
	return &Server{store: store, logger: logger}
}

// ListenAndServe binds 0.0.0.0:port and serves connections until the
// listener is closed or accept fails. A bind failure is fatal (§4.5, §7) —
// it is returned to the caller, who is expected to terminate the process.
func (s *Server) ListenAndServe(port uint32) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return fmt.Errorf("binding wire server to port %d: %w", port, err)
	}
	defer ln.Close()

	s.logger.Info("wire server listening", "port", port)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("wire server accept: %w", err)
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	s.logger.Debug("peer connection established", "remote", remote)

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == wireproto.Ping:
			metrics.WireRequests.WithLabelValues("ping").Inc()
			if _, err := conn.Write([]byte(wireproto.Pong + "\n")); err != nil {
				return
			}
		case wireproto.IsGetConfig(line):
			metrics.WireRequests.WithLabelValues("get_config").Inc()
			raw := wireproto.EscapeNewlines(s.store.RawText())
			if _, err := conn.Write([]byte(raw + "\n")); err != nil {
				return
			}
			s.logger.Debug("sent config to peer", "remote", remote)
		default:
			// Unknown commands are silently ignored, matching the original
			// listener's behavior.
			metrics.WireRequests.WithLabelValues("unknown").Inc()
		}
	}
}
