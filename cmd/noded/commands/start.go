package commands

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/I-luk-I/Warthog/config"
	"github.com/I-luk-I/Warthog/internal/chainstate"
	"github.com/I-luk-I/Warthog/internal/eventloop"
	"github.com/I-luk-I/Warthog/internal/log"
	"github.com/I-luk-I/Warthog/internal/peerdb"
	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/transport/ws"
	"github.com/I-luk-I/Warthog/internal/wire"
)

const metricsNamespace = "warthog"

// StartCmd runs the node: it loads config, stands up the chain-state
// server, the websocket transport, the metrics HTTP endpoint, and the
// event loop, and blocks until a signal or any of those stop
// (grounded on the teacher's inspect.Inspect.Run errgroup pattern).
func StartCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := log.NewDefaultLogger(cfg.Log.Format, cfg.Log.Level)
			if err != nil {
				return err
			}
			return runNode(cmd.Context(), cfg, logger, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics.listen-address", "0.0.0.0:9901", "Prometheus metrics listen address")
	return cmd
}

func runNode(parent context.Context, cfg *config.Config, logger log.Logger, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stateServer := chainstate.NewMemory()
	peerDB := peerdb.NewMemory()
	metrics := eventloop.PrometheusMetrics(metricsNamespace)

	e := eventloop.New(ctx, cfg.Eventloop.ToEventloopConfig(), stateServer, peerDB, logger, metrics)

	listener, err := ws.NewListener(cfg.Transport.ListenAddress, cfg.Transport.MaxConnections, logger)
	if err != nil {
		return err
	}
	e.SetDialer(func(ctx context.Context, addr string) (transport.Connection, error) {
		return listener.Dial(ctx, addr)
	})

	updates := make(chan chainstate.StateUpdate, 64)
	stateServer.Subscribe(ctx, updates)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.Run()
	})

	g.Go(func() error {
		return forwardStateUpdates(gctx, updates, e)
	})

	g.Go(func() error {
		return acceptLoop(gctx, listener, e, logger)
	})

	g.Go(func() error {
		return serveMetrics(gctx, metricsAddr, logger)
	})

	<-gctx.Done()
	listener.Close()
	return g.Wait()
}

// acceptLoop hands every inbound connection to the event loop, then
// extracts messages off it on its own goroutine until it closes
// (spec.md §1: the loop thread never blocks on socket I/O).
func acceptLoop(ctx context.Context, listener *ws.Listener, e *eventloop.Eventloop, logger log.Logger) error {
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		e.AsyncProcess(conn)
		go extractLoop(ctx, conn, e, logger)
	}
}

// forwardStateUpdates relays the chain-state server's push channel onto
// the loop thread (spec.md §4.8: the loop only ever learns of chain
// changes through AsyncStateUpdate).
func forwardStateUpdates(ctx context.Context, updates <-chan chainstate.StateUpdate, e *eventloop.Eventloop) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			e.AsyncStateUpdate(u)
		}
	}
}

func extractLoop(ctx context.Context, conn transport.Connection, e *eventloop.Eventloop, logger log.Logger) {
	wsConn, ok := conn.(*ws.Conn)
	if !ok {
		return
	}
	reason := wsConn.ExtractMessages(ctx, func(msg wire.Message) {
		e.AsyncInboundMessage(conn.ID(), msg)
	})
	e.AsyncErase(conn.ID(), reason)
}

func serveMetrics(ctx context.Context, addr string, logger log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	logger.Info("metrics server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server stopped with error", "err", err)
		return err
	}
	return nil
}
