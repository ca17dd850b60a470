package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/eduard256/roverlive/internal/api"
	"github.com/eduard256/roverlive/internal/config"
	"github.com/eduard256/roverlive/internal/device"
	"github.com/eduard256/roverlive/internal/metrics"
	"github.com/eduard256/roverlive/internal/push"
	"github.com/eduard256/roverlive/internal/stream"
	"github.com/eduard256/roverlive/internal/utils/clock"
	"github.com/eduard256/roverlive/internal/utils/logger"
	"github.com/eduard256/roverlive/pkg/sse"
)

const (
	// Banner is the application banner
	Banner = `
██████╗  ██████╗ ██╗   ██╗███████╗██████╗ ██╗     ██╗██╗   ██╗███████╗
██╔══██╗██╔═══██╗██║   ██║██╔════╝██╔══██╗██║     ██║██║   ██║██╔════╝
██████╔╝██║   ██║██║   ██║█████╗  ██████╔╝██║     ██║██║   ██║█████╗
██╔══██╗██║   ██║╚██╗ ██╔╝██╔══╝  ██╔══██╗██║     ██║╚██╗ ██╔╝██╔══╝
██║  ██║╚██████╔╝ ╚████╔╝ ███████╗██║  ██║███████╗██║ ╚████╔╝ ███████╗
╚═╝  ╚═╝ ╚═════╝   ╚═══╝  ╚══════╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═══╝  ╚══════╝

Rover 360 Live Video and Camera Control
Version: %s
`
)

func main() {
	// Print banner
	fmt.Printf(Banner, api.Version)
	fmt.Println()

	// Load configuration
	cfg := config.Load()

	// Setup logger
	slogger := cfg.SetupLogger()
	slog.SetDefault(slogger)

	// Create adapter for our interface
	log := logger.NewAdapter(slogger)

	log.Info("starting RoverLive",
		slog.String("version", api.Version),
		slog.String("listen", cfg.Server.Listen),
		slog.String("stream_base_url", cfg.Stream.BaseURL),
		slog.String("device_api", cfg.Device.APIBaseURL),
		slog.String("push_transport", cfg.Push.Transport),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.Real()
	met := metrics.New()

	events := sse.NewServer(log.Component("sse"))
	events.Start(ctx)
	bridge := api.NewEventBridge(events, met)

	// Stream sessions
	factory := stream.NewFactory(stream.FactoryConfig{
		ManifestInterval: cfg.Stream.ManifestInterval,
		RequestTimeout:   cfg.Stream.RequestTimeout,
	}, clk, log.Component("player"))

	manager := stream.NewManager(stream.ManagerConfig{
		BaseURL:        cfg.Stream.BaseURL,
		RetryDelay:     cfg.Stream.RetryDelay,
		LatencyTick:    cfg.Latency.Tick,
		LatencyCeiling: cfg.Latency.Ceiling,
	}, factory, clk, log.Component("stream"))
	manager.OnChange(bridge.SessionChanged)
	manager.OnLatency(bridge.LatencyReported)

	// Device commands and their confirmations
	client := device.NewClient(cfg.Device.APIBaseURL, cfg.Device.RequestTimeout, log.Component("device"))
	hub := device.NewHub(client, clk, device.Timeouts{
		Soft: cfg.Device.SoftTimeout,
		Hard: cfg.Device.HardTimeout,
	}, bridge, log.Component("device"))

	source, err := pushSource(cfg.Push, log.Component("push"))
	if err != nil {
		log.Error("invalid push configuration", err)
		os.Exit(1)
	}
	pushState := "disabled"
	if source != nil {
		pushState = cfg.Push.Transport
		go func() {
			if err := source.Run(ctx, bridge.Counting(hub.Handle)); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("push channel stopped", err)
			}
		}()
	} else {
		log.Warn("push channel disabled, device commands will time out without confirmation")
	}

	// Create API server
	apiServer := api.NewServer(cfg, api.Deps{
		Sessions: manager,
		Hub:      hub,
		Events:   events,
		Metrics:  met,
		Services: func() map[string]string {
			return map[string]string{
				"sessions":    strconv.Itoa(manager.Count()),
				"push":        pushState,
				"sse_clients": strconv.Itoa(events.ClientCount()),
			}
		},
		Gauges: func() {
			met.SetActiveSessions(manager.Count())
			met.SetSSEClients(events.ClientCount())
		},
	}, log.Component("api"))

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("HTTP server starting",
			slog.String("address", httpServer.Addr),
			slog.String("api_version", "v1"),
		)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", err)
			os.Exit(1)
		}
	}()

	// Print API endpoints
	printEndpoints(cfg.Server.Listen)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Stop pushing events first so open event streams end
	cancel()
	manager.CloseAll()
	hub.Close()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", err)
		os.Exit(1)
	}

	log.Info("server stopped gracefully")
}

// pushSource builds the configured confirmation transport. nil means none.
func pushSource(cfg config.PushConfig, log *logger.Adapter) (push.Source, error) {
	reconnect := push.ReconnectConfig{RetryDelay: cfg.RetryDelay, MaxRetryDelay: cfg.MaxRetry}

	switch strings.ToLower(cfg.Transport) {
	case "websocket", "ws":
		if cfg.WebSocketURL == "" {
			return nil, fmt.Errorf("websocket transport needs a url")
		}
		return push.NewWebSocketSource(cfg.WebSocketURL, reconnect, log), nil
	case "mqtt":
		if cfg.MQTTBroker == "" {
			return nil, fmt.Errorf("mqtt transport needs a broker")
		}
		return push.NewMQTTSource(push.MQTTConfig{
			Broker:    cfg.MQTTBroker,
			Topic:     cfg.MQTTTopic,
			ClientID:  cfg.MQTTClientID,
			QoS:       1,
			Reconnect: reconnect,
		}, log), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown push transport %q", cfg.Transport)
	}
}

// printEndpoints prints available API endpoints
func printEndpoints(listen string) {
	host, port := "localhost", listen
	if i := strings.LastIndex(listen, ":"); i >= 0 {
		if h := listen[:i]; h != "" && h != "0.0.0.0" {
			host = h
		}
		port = listen[i+1:]
	}

	baseURL := fmt.Sprintf("http://%s:%s", host, port)

	fmt.Println("\n🚀 API Endpoints:")
	fmt.Println("────────────────────────────────────────────────")
	fmt.Printf("  Health Check:     GET  %s/api/v1/health\n", baseURL)
	fmt.Printf("  Open Session:     POST %s/api/v1/sessions\n", baseURL)
	fmt.Printf("  Session View:     GET  %s/api/v1/sessions/{id}/view\n", baseURL)
	fmt.Printf("  Shader:           GET  %s/api/v1/projection/shader?mode=dual-fisheye\n", baseURL)
	fmt.Printf("  Device Commands:  POST %s/api/v1/rovers/{rover_id}/{connect|live|capture|config}\n", baseURL)
	fmt.Printf("  Events:           GET  %s/api/v1/events (SSE)\n", baseURL)
	fmt.Printf("  Metrics:          GET  %s/metrics\n", baseURL)
	fmt.Println("────────────────────────────────────────────────")

	fmt.Println("\n📝 Example Requests:")
	fmt.Println("\n1. Open an HLS session for a rover:")
	fmt.Printf(`   curl -X POST %s/api/v1/sessions \
     -H "Content-Type: application/json" \
     -d '{"protocol": "hls", "rover_id": "rover-1", "projection": "dual-fisheye"}'
`, baseURL)

	fmt.Println("\n2. Start live streaming on the 360 camera:")
	fmt.Printf(`   curl -X POST %s/api/v1/rovers/rover-1/live \
     -H "Content-Type: application/json" \
     -d '{"substation_id": "sub-7", "live": 1}'
`, baseURL)

	fmt.Println("\n3. Follow session and command events:")
	fmt.Printf("   curl -N %s/api/v1/events\n", baseURL)

	fmt.Println("\n────────────────────────────────────────────────")
}
