// Command p2pnode is a thin demonstration binary: flags and a YAML
// settings file feed a network.Config, which drives a network.Controller
// through Start/Run until an interrupt or SIGTERM arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/k-nuth/network/pkg/network"
	"github.com/k-nuth/network/pkg/proxy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

func main() {
	app := cli.NewApp()
	app.Name = "p2pnode"
	app.Usage = "run a P2P network core node"
	app.ErrWriter = os.Stdout
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML settings file",
			Value: "./config.yml",
		},
		&cli.BoolFlag{
			Name:  "debug, d",
			Usage: "enable debug-level logging",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	log, err := newLogger(ctx.Bool("debug"))
	if err != nil {
		return cli.NewExitError(fmt.Errorf("p2pnode: build logger: %w", err), 1)
	}
	defer log.Sync()

	fc, err := loadFile(ctx.String("config"))
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	cfg, err := fc.toControllerConfig()
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	nodeID := uuid.New()
	log = log.With(zap.String("node-id", nodeID.String()))

	reg := prometheus.NewRegistry()
	c := network.New(cfg, log, reg)

	if fc.MetricsAddress != "" {
		go serveMetrics(fc.MetricsAddress, reg, log)
	}

	c.Subscribe(func(ch *proxy.Channel) bool {
		log.Info("peer connected", zap.Stringer("authority", ch.Authority()))
		return true
	})

	if err := c.Start(); err != nil {
		return cli.NewExitError(fmt.Errorf("p2pnode: start: %w", err), 1)
	}
	if err := c.Run(); err != nil {
		return cli.NewExitError(fmt.Errorf("p2pnode: run: %w", err), 1)
	}

	gctx := newGraceContext()
	<-gctx.Done()

	log.Info("shutting down")
	c.Close()
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", zap.Error(err))
	}
}

func newGraceContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	signal.Notify(stop, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()
	return ctx
}
