// Command netidd runs a simulated mesh of nodes with the network-id
// manager enabled on each, and serves the first node's diagnostics
// over HTTP. It exists to exercise the subsystem end to end without
// a live overlay.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/misaakidis/fred-staging/internal/config"
	"github.com/misaakidis/fred-staging/internal/diag"
	"github.com/misaakidis/fred-staging/internal/simnet"
	"github.com/misaakidis/fred-staging/pkg/netid"
)

const meshMaxHTL = 10

// runtime adapts the first node to the diag server.
type runtime struct {
	manager *netid.Manager
	metrics *netid.Metrics
	started time.Time
}

func (r *runtime) Manager() *netid.Manager { return r.manager }
func (r *runtime) Metrics() *netid.Metrics { return r.metrics }
func (r *runtime) StartTime() time.Time    { return r.started }

func main() {
	configPath := flag.String("config", "netidd.yaml", "path to YAML config")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netidd: %v\n", err)
		os.Exit(1)
	}

	mesh := simnet.NewMesh(cfg.Sim.Seed, meshMaxHTL)
	nodes := make([]*simnet.Node, cfg.Sim.Peers)
	for i := range nodes {
		nodes[i] = mesh.NewNode(fmt.Sprintf("node-%02d", i))
	}
	// Fully connect the mesh; the clustering still has to discover
	// that everyone reaches everyone.
	for i, a := range nodes {
		for _, b := range nodes[i+1:] {
			mesh.Connect(a, b)
		}
	}

	netCfg := netid.Config{
		DisableSecretPings:  cfg.NetID.DisableSecretPings,
		DisableSecretPinger: cfg.NetID.DisableSecretPinger,
	}
	metrics := netid.NewMetrics()
	managers := make([]*netid.Manager, len(nodes))
	for i, n := range nodes {
		m := metrics
		if i != 0 {
			m = nil // only the diag node is instrumented
		}
		managers[i] = n.AttachManager(netCfg, m)
	}
	for _, mgr := range managers {
		mgr.Start()
	}

	rt := &runtime{manager: managers[0], metrics: metrics, started: time.Now()}
	server := diag.NewServer(rt)
	if err := server.Start(cfg.Diag.Listen); err != nil {
		fmt.Fprintf(os.Stderr, "netidd: diag listen: %v\n", err)
		os.Exit(1)
	}

	slog.Info("netidd: running",
		"peers", cfg.Sim.Peers,
		"pings_enabled", !cfg.NetID.DisableSecretPings,
		"pinger_enabled", !cfg.NetID.DisableSecretPinger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("netidd: shutting down")
	for _, mgr := range managers {
		mgr.Stop()
	}
	if err := server.Close(); err != nil {
		slog.Warn("netidd: diag close failed", "error", err)
	}
}
