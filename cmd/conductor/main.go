package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"conductor/internal/infra/config"
	"conductor/internal/infra/logger"
	"conductor/internal/infra/tracer"
	"conductor/internal/usecase/eventbus"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "doctor":
			if err := runDoctor(); err != nil {
				fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
				os.Exit(1)
			}
			return
		}
		if !strings.HasPrefix(os.Args[1], "-") {
			fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'conductor --help' for usage information.\n", os.Args[1])
			os.Exit(1)
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`conductor - multi-agent orchestration service

USAGE:
    conductor [COMMAND] [FLAGS]

COMMANDS:
    doctor      Run health checks on your setup

    (no command) - Run the orchestrator with the HTTP API

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml (missing file means defaults)
    Environment: CONDUCTOR_* variables override config
    Secrets:     values prefixed with enc: are decrypted with CONDUCTOR_CONFIG_KEY`)
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Safety gate & audit
	sec, secCleanup, err := initSecurity(cfg, log)
	if err != nil {
		return fmt.Errorf("security: %w", err)
	}
	defer secCleanup()

	// 4. Event bus
	bus := eventbus.New(log)
	defer bus.Close()

	// 5. Memory & knowledge
	mem, memCleanup, err := initMemory(ctx, cfg, bus, sec.Audit, log)
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	defer memCleanup()

	// 6. LLM (optional)
	llmProvider := initLLM(cfg, log)

	// 7. Tools
	tools, toolsCleanup, err := initTools(ctx, cfg, llmProvider, log)
	if err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	defer toolsCleanup()

	// 8. Agents & orchestrator
	rt, err := initRuntime(cfg, runtimeDeps{
		Bus:       bus,
		Tools:     tools.Executor,
		Safety:    sec.Gate,
		Audit:     sec.Audit,
		Knowledge: mem.Knowledge,
		Memory:    mem.Manager,
		LLM:       llmProvider,
	}, log)
	if err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	defer rt.Orchestrator.Close()

	// 9. Transport & bridge
	tr, err := initTransport(cfg, rt, bus, log)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer tr.Close()

	mem.Manager.StartConsolidation()
	defer mem.Manager.StopConsolidation()

	log.Info("conductor starting",
		"agents", len(rt.Agents),
		"tools", len(tools.Executor.List()),
		"memory", mem.Manager.LongTerm().Backend(),
		"knowledge", mem.Knowledge.Len(),
		"llm", llmProvider != nil,
		"http", tr.HTTP != nil,
		"bridge", tr.Bridge != nil,
	)

	if tr.HTTP == nil {
		<-ctx.Done()
		log.Info("shutting down")
		return nil
	}

	errCh := make(chan error, 1)
	go func() { errCh <- tr.HTTP.Start(ctx) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := tr.HTTP.Stop(shutdownCtx); err != nil {
			log.Error("http shutdown error", "error", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("CONDUCTOR_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
