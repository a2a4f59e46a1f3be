// Command payment runs the standalone payment authority process
// described in spec.md §6: it authorizes and captures payment for orders
// on behalf of whichever replica currently holds leadership.
package main

import (
	"flag"
	"net"

	"github.com/foodmesh/core/internal/config"
	"github.com/foodmesh/core/internal/logging"
	"github.com/foodmesh/core/internal/payment"
	"github.com/foodmesh/core/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML cluster config file (defaults built in if empty)")
	listenAddr := flag.String("listen", "", "address to listen on (defaults to the config's payment endpoint)")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	logger := logging.New(*debug)
	defer logger.Sync()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Fatalw("failed to load config", "error", err)
		}
		cfg = loaded
	}

	addr := *listenAddr
	if addr == "" {
		addr = cfg.Payment.String()
	}

	authority := payment.NewAuthority(cfg.AuthorizationSuccessProbability, logger)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatalw("failed to listen", "addr", addr, "error", err)
	}
	acceptor := transport.NewAcceptor(listener, authority, logger)

	logger.Infow("payment authority listening", "addr", addr, "p_auth", cfg.AuthorizationSuccessProbability)
	go func() {
		if err := acceptor.Serve(); err != nil {
			logger.Warnw("acceptor stopped", "error", err)
		}
	}()

	<-logging.TerminalSignalCh()
	logger.Infow("shutting down")
	acceptor.Close()
}
