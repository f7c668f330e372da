package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/chaz8081/estim-connector/internal/ble"
	"github.com/chaz8081/estim-connector/internal/bpio"
	"github.com/chaz8081/estim-connector/internal/config"
	"github.com/chaz8081/estim-connector/internal/connector"
	"github.com/chaz8081/estim-connector/internal/estim"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/estim-connector/config.yaml)")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path := config.DefaultConfigPath()
		if err := config.WriteDefault(path); err != nil {
			log.Fatalf("config: %v", err)
		}
		log.Printf("Default config written to %s", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := ble.NewTinyGoManager(ble.TinyGoOptions{
		EventBuffer: cfg.Connector.EventBuffer,
		ReadBuffer:  cfg.Connector.ReadBuffer,
	})
	conn, err := connector.New(ctx, manager, connector.Options{
		NamePrefix:       cfg.Connector.NamePrefix,
		TrackDisconnects: cfg.Connector.TrackDisconnects,
	})
	if err != nil {
		log.Fatalf("Failed to create connector: %v\n\nCheck that exactly one Bluetooth adapter is present and powered on.", err)
	}
	defer conn.Close()

	if err := conn.Scan(ctx); err != nil {
		log.Fatalf("Failed to start scan: %v", err)
	}
	log.Printf("Scanning for %q devices...", cfg.Connector.NamePrefix)

	go conn.Listen(ctx)

	poller := estim.NewPoller(conn, cfg.Estim.PollInterval, estim.DeviceOptions{
		MinPower: cfg.Estim.MinPower,
		MaxPower: cfg.Estim.MaxPower,
	})

	upstream := dialUpstream(ctx, cfg.BPIO.ClientURI)
	if upstream != nil {
		defer upstream.Close()
	}

	dir := bpio.NewDirectory()
	go dir.Follow(ctx, cfg.Estim.PollInterval, func() []bpio.Device {
		devs := bpio.EstimDevices(poller.Devices())
		if upstream != nil {
			devs = append(devs, upstream.Devices()...)
		}
		return devs
	})

	if cfg.BPIO.ListenPort != 0 {
		srv := bpio.NewServer(dir, bpio.ServerOptions{
			AllowedOrigins: cfg.BPIO.AllowedOrigins,
			StopAll: func(ctx context.Context) error {
				return stopAll(ctx, poller, upstream)
			},
		})
		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.BPIO.ListenPort))
		go func() {
			if err := srv.ListenAndServe(ctx, addr); err != nil {
				log.Printf("ERROR: Buttplug server stopped: %v", err)
			}
		}()
		log.Printf("Buttplug server on ws://%s", addr)
	}

	log.Println("Ready! Ctrl+C to quit.")

	err = poller.Run(ctx, func(d *estim.Device) {
		battery, err := d.BatteryPercent(ctx)
		if err != nil {
			log.Printf("Device %d ready (battery unknown: %v)", d.Index(), err)
			return
		}
		log.Printf("Device %d ready (battery %d%%)", d.Index(), battery)
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("ERROR: poller stopped: %v", err)
	}

	log.Println("Shutting down...")
	for _, d := range poller.Devices() {
		if err := d.Stop(context.Background()); err != nil {
			log.Printf("ERROR: stopping device %d: %v", d.Index(), err)
		}
	}
	log.Println("Goodbye!")
}

// dialUpstream connects to the Buttplug server whose devices are proxied.
// It returns nil when uri is empty or the server is unreachable.
func dialUpstream(ctx context.Context, uri string) *bpio.Client {
	if uri == "" {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := bpio.Dial(dialCtx, uri, "estim-connector")
	if err != nil {
		log.Printf("WARNING: upstream Buttplug server unavailable, not proxying: %v", err)
		return nil
	}
	log.Printf("Proxying devices of %q at %s", client.ServerName(), uri)
	go func() {
		<-client.Done()
		if ctx.Err() == nil {
			log.Printf("WARNING: upstream Buttplug server disconnected: %v", client.Err())
		}
	}()
	return client
}

// stopAll stops every local device and asks the upstream server, if any,
// to stop its devices.
func stopAll(ctx context.Context, poller *estim.Poller, upstream *bpio.Client) error {
	var errs []error
	for _, d := range poller.Devices() {
		if err := d.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("device %d: %w", d.Index(), err))
		}
	}
	if upstream != nil {
		if err := upstream.StopAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("upstream: %w", err))
		}
	}
	return errors.Join(errs...)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== estim-connector ===")
	fmt.Printf("  Prefix:  %s\n", cfg.Connector.NamePrefix)
	fmt.Printf("  Poll:    %s\n", cfg.Estim.PollInterval)
	fmt.Printf("  Power:   %d-%d\n", cfg.Estim.MinPower, cfg.Estim.MaxPower)
	if cfg.BPIO.ListenPort != 0 {
		fmt.Printf("  BPIO:    127.0.0.1:%d\n", cfg.BPIO.ListenPort)
	} else {
		fmt.Println("  BPIO:    disabled")
	}
	if cfg.BPIO.ClientURI != "" {
		fmt.Printf("  Proxy:   %s\n", cfg.BPIO.ClientURI)
	}
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("=======================")
}
