package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/biglietto/sealbridge/internal/api"
	"github.com/biglietto/sealbridge/internal/bridge"
	"github.com/biglietto/sealbridge/internal/config"
	"github.com/biglietto/sealbridge/internal/logging"
	"github.com/biglietto/sealbridge/internal/service"
	"github.com/biglietto/sealbridge/internal/settings"
	"github.com/biglietto/sealbridge/internal/tray"
)

func main() {
	// Define flags
	versionFlag := flag.Bool("version", false, "Print version information and exit")
	noTrayFlag := flag.Bool("no-tray", false, "Run without system tray (headless mode)")
	configFlag := flag.String("config", "", "Path to YAML config file")

	// Custom usage message
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Seal Bridge Monitor - SIAE device-bridge session manager\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  sealbridge [flags]\n")
		fmt.Fprintf(os.Stderr, "  sealbridge <command>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  install     Install auto-start service\n")
		fmt.Fprintf(os.Stderr, "  uninstall   Remove auto-start service\n")
		fmt.Fprintf(os.Stderr, "  version     Print version information\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  SEALBRIDGE_RELAY_URL      Relay origin (default: https://localhost:8443)\n")
		fmt.Fprintf(os.Stderr, "  SEALBRIDGE_LISTEN_PORT    Local API port (default: 32460)\n")
		fmt.Fprintf(os.Stderr, "  SEALBRIDGE_LOGGER_LEVEL   Log level (debug|info|warn|error)\n")
	}

	flag.Parse()

	// Handle version flag
	if *versionFlag {
		printVersion()
		return
	}

	// Handle commands (non-flag arguments)
	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			return
		case "install":
			if err := service.New().Install(); err != nil {
				log.Fatalf("Failed to install service: %v", err)
			}
			fmt.Println("Auto-start service installed successfully")
			return
		case "uninstall":
			if err := service.New().Uninstall(); err != nil {
				log.Fatalf("Failed to uninstall service: %v", err)
			}
			fmt.Println("Auto-start service removed successfully")
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			flag.Usage()
			os.Exit(1)
		}
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	run(cfg, *noTrayFlag)
}

func printVersion() {
	fmt.Printf("sealbridge %s\n", api.Version)
	fmt.Printf("Build time: %s\n", api.BuildTime)
	fmt.Printf("Git commit: %s\n", api.GitCommit)
}

func run(cfg *config.Config, headless bool) {
	// Initialize logging system
	logging.Init(cfg.Logger.BufferSize, logging.ParseLevel(cfg.Logger.Level))
	logging.Info(logging.CatSystem, "Seal Bridge Monitor starting", map[string]any{
		"version": api.Version,
	})

	// User preferences: crash reporting opt-in and a persisted log level
	// override (set through /v1/settings).
	userSettings, _ := settings.Load()
	logging.InitSentry(api.Version, userSettings.CrashReporting)
	if userSettings.LogLevel != "" {
		logging.SetLevel(logging.ParseLevel(userSettings.LogLevel))
	}

	channelURL, err := cfg.Relay.ChannelURL()
	if err != nil {
		log.Fatalf("Invalid relay configuration: %v", err)
	}
	bootstrapURL, err := cfg.Relay.BootstrapURL()
	if err != nil {
		log.Fatalf("Invalid relay configuration: %v", err)
	}

	session := bridge.New(bridge.Config{
		ChannelURL:        channelURL,
		BootstrapURL:      bootstrapURL,
		SessionCookie:     cfg.Relay.SessionCookie,
		HeartbeatInterval: cfg.Relay.HeartbeatInterval(),
		ReconnectDelay:    cfg.Relay.ReconnectDelay(),
		OperationTimeout:  cfg.Relay.OperationTimeout(),
		QueryTimeout:      cfg.Relay.QueryTimeout(),
		BootstrapTimeout:  cfg.Relay.BootstrapTimeout(),
	})

	mux := api.NewMux(session)
	mux.HandleFunc("/v1/ws", api.InitWebSocket(session))

	addr := cfg.Address()

	shutdown := func() {
		log.Println("Shutting down...")
		session.Stop()
		logging.FlushSentry(2 * time.Second)
		os.Exit(0)
	}
	api.SetShutdownHandler(shutdown)

	// Server start function
	startServer := func() {
		if err := session.Start(); err != nil {
			// Not fatal: the session keeps reconnecting on its own.
			log.Printf("relay not reachable yet: %v", err)
		}

		log.Printf("sealbridge %s listening on http://%s\n", api.Version, addr)
		log.Printf("WebSocket available at ws://%s/v1/ws\n", addr)
		logging.Info(logging.CatSystem, "Server started", map[string]any{
			"address": addr,
			"relay":   channelURL,
		})

		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}

	// Determine if we should use system tray
	useTray := !headless && tray.IsSupported()

	if useTray {
		log.Println("Starting with system tray...")

		trayApp := tray.New(addr, session, shutdown)

		// Run tray with server - this blocks on the main thread until quit
		// (required for macOS Cocoa compatibility)
		trayApp.RunWithServer(startServer)
	} else {
		if headless {
			log.Println("Running in headless mode (no system tray)")
		} else {
			log.Println("System tray not supported on this platform, running headless")
		}

		// Set up signal handling for graceful shutdown
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			<-sigChan
			shutdown()
		}()

		startServer()
	}
}
