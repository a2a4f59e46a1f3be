// Command replica runs one replica process of the food delivery core:
// the Ring Manager, the replicated Store, the Coordinator, and the
// leader-only Order/Locator services, all wired behind a single
// transport.Acceptor (spec.md §2, §4).
package main

import (
	"flag"
	"net"
	"net/http"

	"github.com/foodmesh/core/internal/config"
	"github.com/foodmesh/core/internal/coordinator"
	"github.com/foodmesh/core/internal/endpoint"
	"github.com/foodmesh/core/internal/locator"
	"github.com/foodmesh/core/internal/logging"
	"github.com/foodmesh/core/internal/metrics"
	"github.com/foodmesh/core/internal/orders"
	"github.com/foodmesh/core/internal/payment"
	"github.com/foodmesh/core/internal/reaper"
	"github.com/foodmesh/core/internal/ring"
	"github.com/foodmesh/core/internal/router"
	"github.com/foodmesh/core/internal/store"
	"github.com/foodmesh/core/internal/transport"
	"github.com/foodmesh/core/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML cluster config file (defaults built in if empty)")
	selfAddr := flag.String("self", "127.0.0.1:8081", "this replica's own host:port, must appear in the cluster's replica list")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9091", "address the /metrics endpoint listens on")
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

	self, err := endpoint.Parse(*selfAddr)
	if err != nil {
		logger.Fatalw("bad -self address", "error", err)
	}

	reg := metrics.New()

	st := store.NewStore(logger)
	storeStop := make(chan struct{})
	go st.Run(storeStop)

	mgr := ring.New(self, cfg.Replicas, st, cfg, logger, nil, reg)

	// reap is wired after construction to break the Coordinator <-> Reaper
	// <-> Order Service construction cycle; onDisconnect is a no-op until
	// reap is assigned, which happens before the acceptor starts serving.
	var reap *reaper.Reaper
	coord := coordinator.New(logger, mgr, st, func(kind wire.UserKind, userID string) {
		if reap != nil {
			reap.Notify(kind, userID)
		}
	})
	coordStop := make(chan struct{})
	go coord.Run(coordStop)

	loc := locator.New(st, cfg)

	payClient, err := payment.NewRPCClient(cfg.Payment, logger)
	if err != nil {
		logger.Fatalw("failed to dial payment authority", "error", err)
	}

	ordersSvc := orders.New(logger, cfg, st, coord, loc, payClient, mgr.IsLeader, reg)
	ordersStop := make(chan struct{})
	go ordersSvc.Run(ordersStop)

	mgr.SetObserver(ordersSvc)
	coord.SetRouter(ordersSvc)

	reap = reaper.New(logger, cfg, ordersSvc.CheckReap)
	reapStop := make(chan struct{})
	go reap.Run(reapStop)

	listener, err := net.Listen("tcp", self.String())
	if err != nil {
		logger.Fatalw("failed to listen", "addr", self.String(), "error", err)
	}
	inbox := router.NewReplica(mgr, coord)
	acceptor := transport.NewAcceptor(listener, inbox, logger)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		logger.Infow("serving metrics", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			logger.Warnw("metrics server stopped", "error", err)
		}
	}()

	logger.Infow("replica starting", "self", self.String())
	mgr.Start()

	go func() {
		if err := acceptor.Serve(); err != nil {
			logger.Warnw("acceptor stopped", "error", err)
		}
	}()

	<-logging.TerminalSignalCh()
	logger.Infow("shutting down")
	acceptor.Close()
	mgr.Stop()
	close(coordStop)
	close(ordersStop)
	close(reapStop)
	close(storeStop)
}
