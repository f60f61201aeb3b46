// Main package for the babel hub: the LAN relay and media server binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Watson-Will/babel/internal/config"
	"github.com/Watson-Will/babel/internal/metrics"
	"github.com/Watson-Will/babel/pkg/broker"
	"github.com/Watson-Will/babel/pkg/discovery"
	"github.com/Watson-Will/babel/pkg/gateway"
	"github.com/Watson-Will/babel/pkg/kernel"
	"github.com/Watson-Will/babel/pkg/transport"
)

func main() {
	logger := zap.Must(zap.NewProduction())
	if os.Getenv("APP_ENV") != "production" {
		logger = zap.Must(zap.NewDevelopment())
	}
	defer logger.Sync()

	//
	// Flags
	configPath := flag.String("config", "", "Path to a YAML configuration file (defaults apply when empty)")
	scanSubnet := flag.String("scan", "", "Scan the given /24 subnet for peer hubs and exit (e.g. 192.168.0.0/24)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("Failed to load configuration", zap.Error(err))
			return
		}
		cfg = loaded
	}

	shutdownCtx, shutdownRelease := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer shutdownRelease()

	if *scanSubnet != "" {
		runScan(shutdownCtx, logger, cfg, *scanSubnet)
		return
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	//
	// Relay core setup: gateway, kernel pool, broker, then the surface.
	g := gateway.CreateGateway(gateway.GatewayParams{
		AwaitTimeout:  cfg.AwaitTimeout(),
		PendingTTL:    cfg.PendingTTL(),
		SweepInterval: cfg.SweepInterval(),
		Logger:        logger,
		Metrics:       m,
	})

	kernelPool := kernel.CreatePool(g, logger)

	sessionBroker := broker.CreateBroker(broker.BrokerParams{
		Kernel:            kernelPool,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		HeartbeatTimeout:  cfg.HeartbeatTimeout(),
		Logger:            logger,
		Metrics:           m,
	})

	server, serverErr := transport.CreateServer(sessionBroker, g, kernelPool, transport.ServerParams{
		ListenAddress:      cfg.Server.ListenAddress,
		FrontEndEndpoint:   cfg.Server.FrontEndEndpoint,
		KernelEndpoint:     cfg.Server.KernelEndpoint,
		StaticDir:          cfg.Server.StaticDir,
		AllowAllOrigins:    cfg.Server.AllowAllOrigins,
		HeartbeatInterval:  cfg.HeartbeatInterval(),
		HeartbeatTimeout:   cfg.HeartbeatTimeout(),
		OutboundQueueDepth: cfg.Server.OutboundQueueDepth,
		ChunkSize:          cfg.Media.ChunkSize,
		Handshake:          cfg.Discovery.Handshake,
		Logger:             logger,
		Metrics:            m,
		Registry:           registry,
	})
	if serverErr != nil {
		logger.Error("Failed to create hub server", zap.Error(serverErr))
		return
	}

	wg := sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sessionBroker.Start(shutdownCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.Start(shutdownCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		server.Start(shutdownCtx)
	}()

	wg.Wait()
}

func runScan(ctx context.Context, logger *zap.Logger, cfg *config.Config, subnet string) {
	scanner := discovery.CreateScanner(discovery.ScannerParams{
		ServicePort: cfg.Discovery.ServicePort,
		HealthPath:  cfg.Discovery.HealthPath,
		Handshake:   cfg.Discovery.Handshake,
		PingTimeout: cfg.PingTimeout(),
		DialTimeout: cfg.DialTimeout(),
		Logger:      logger,
	})

	peers, err := scanner.ScanSubnet(ctx, subnet)
	if err != nil {
		logger.Error("Subnet scan failed", zap.Error(err))
		return
	}

	for _, peer := range peers {
		fmt.Println(peer)
	}
}
