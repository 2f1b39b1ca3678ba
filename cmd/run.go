package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/chuan-gyld/ai-firm/commbus"
	"github.com/chuan-gyld/ai-firm/coreengine/agents"
	"github.com/chuan-gyld/ai-firm/coreengine/config"
	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
	"github.com/chuan-gyld/ai-firm/coreengine/grpc"
	"github.com/chuan-gyld/ai-firm/coreengine/httpapi"
	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
	"github.com/chuan-gyld/ai-firm/coreengine/observability"
	"github.com/chuan-gyld/ai-firm/coreengine/persistence"
)

const shutdownGrace = 5 * time.Second

func runCommand(stdio appIO) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "start a run on a product idea",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "idea", Usage: "the product idea"},
			&cli.StringFlag{Name: "idea-file", Usage: "read the product idea from a file"},
			&cli.StringFlag{Name: "name", Usage: "project name (overrides config)"},
			&cli.StringSliceFlag{Name: "role", Usage: "participating role, repeatable (overrides config)"},
			&cli.StringFlag{Name: "model", Usage: "model name (overrides config)"},
			&cli.StringFlag{Name: "base-url", Usage: "OpenAI-compatible API base URL (overrides config)"},
			&cli.StringFlag{Name: "sqlite", Usage: "sqlite database path (overrides config)"},
			&cli.StringFlag{Name: "grpc", Usage: "control service address, empty disables (overrides config)"},
			&cli.StringFlag{Name: "http", Usage: "metrics and activity address, empty disables (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			applyRunFlags(c, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			idea, err := readIdea(c.String("idea"), c.String("idea-file"))
			if err != nil {
				return err
			}
			return runFirm(c.Context, runOptions{
				cfg:    cfg,
				idea:   idea,
				in:     stdio.in,
				out:    stdio.out,
				logger: newLogger(cfg, stdio.errOut),
			})
		},
	}
}

func applyRunFlags(c *cli.Context, cfg *config.RuntimeConfig) {
	if c.IsSet("name") {
		cfg.ProjectName = c.String("name")
	}
	if c.IsSet("role") {
		cfg.Roles = c.StringSlice("role")
	}
	if c.IsSet("model") {
		cfg.LLMModel = c.String("model")
	}
	if c.IsSet("base-url") {
		cfg.LLMBaseURL = c.String("base-url")
	}
	if c.IsSet("sqlite") {
		cfg.SQLitePath = c.String("sqlite")
	}
	if c.IsSet("grpc") {
		cfg.GRPCAddress = c.String("grpc")
	}
	if c.IsSet("http") {
		cfg.HTTPAddress = c.String("http")
	}
}

func readIdea(idea, path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read idea: %w", err)
		}
		idea = string(data)
	}
	idea = strings.TrimSpace(idea)
	if idea == "" {
		return "", errors.New("an idea is required (--idea or --idea-file)")
	}
	return idea, nil
}

// =============================================================================
// Wiring
// =============================================================================

type runOptions struct {
	cfg    *config.RuntimeConfig
	idea   string
	in     io.Reader
	out    io.Writer
	logger *observability.Logger

	// provider replaces the OpenAI provider when set.
	provider agents.LLMProvider
	// ready, if set, is called once every listener is up.
	ready func(*stack)
}

// stack is everything a run wires together.
type stack struct {
	store  *persistence.Store
	router *commbus.MessageRouter
	orch   *kernel.Orchestrator
	human  *lineBridge
	hub    *httpapi.ActivityHub
	grpc   *grpc.GracefulServer
	http   *httpapi.Server
}

func newProvider(cfg *config.RuntimeConfig) (agents.LLMProvider, error) {
	apiKey := os.Getenv(cfg.LLMAPIKeyEnv)
	return agents.NewOpenAIProvider(cfg.OpenAI(apiKey), nil)
}

// assemble builds every component for cfg without starting anything.
func assemble(opts runOptions) (*stack, error) {
	cfg, logger := opts.cfg, opts.logger

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	provider := opts.provider
	if provider == nil {
		if provider, err = newProvider(cfg); err != nil {
			return nil, err
		}
	}
	reasoners := make(map[envelope.Role]kernel.Reasoner, registry.Len())
	for _, role := range registry.Roles() {
		r, err := agents.NewLLMReasoner(provider, agents.WithLogger(logger.With("role", string(role))))
		if err != nil {
			return nil, err
		}
		reasoners[role] = r
	}

	store, err := persistence.Open(cfg.SQLitePath, persistence.Options{SnapshotRetention: cfg.SnapshotRetention})
	if err != nil {
		return nil, err
	}

	router := commbus.NewMessageRouter(registry,
		commbus.WithLogger(logger),
		commbus.WithActivityRetention(cfg.ActivityRetention),
		commbus.WithMiddleware(
			commbus.NewValidationMiddleware(),
			commbus.NewMetricsMiddleware(),
			commbus.NewLoggingMiddleware(logger),
		),
	)

	human := newLineBridge(opts.in, opts.out)
	project := kernel.NewProject(cfg.ProjectName, opts.idea)
	orch, err := kernel.NewOrchestrator(project, kernel.OrchestratorDeps{
		Router:      router,
		Reasoners:   reasoners,
		Human:       human,
		Persistence: store,
		Artifacts:   store,
		Logger:      logger.With("project_id", project.ID()),
	}, cfg.Orchestrator())
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rt := &stack{store: store, router: router, orch: orch, human: human}
	rt.hub = httpapi.NewActivityHub(router, cfg.ActivityLimit, logger)
	router.Subscribe(rt.hub.Publish)

	if cfg.GRPCAddress != "" {
		rt.grpc = grpc.NewGracefulServer(grpc.NewControlServer(orch, router, logger), cfg.GRPCAddress, logger)
	}
	if cfg.HTTPAddress != "" {
		rt.http = httpapi.NewServer(httpapi.Deps{Dashboard: orch, Hub: rt.hub, Logger: logger})
	}
	return rt, nil
}

// runFirm runs until the team converges, a shutdown command arrives or ctx
// is cancelled. Cancellation stops the orchestrator gracefully.
func runFirm(ctx context.Context, opts runOptions) error {
	logger := opts.logger

	shutdownTracer, err := observability.InitTracer("ai-firm", opts.cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	rt, err := assemble(opts)
	if err != nil {
		return err
	}
	defer rt.store.Close()
	defer rt.hub.Close()

	// Listeners outlive the orchestrator's context so a final status can be
	// read until the run has fully stopped.
	serveCtx, stopServing := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServing()

	if rt.grpc != nil {
		if _, err := rt.grpc.StartBackground(); err != nil {
			return err
		}
		defer rt.grpc.ShutdownWithTimeout(shutdownGrace)
	}
	httpDone := make(chan error, 1)
	if rt.http != nil {
		ready := make(chan string, 1)
		go func() { httpDone <- rt.http.Serve(serveCtx, opts.cfg.HTTPAddress, shutdownGrace, ready) }()
		select {
		case <-ready:
		case err := <-httpDone:
			return err
		}
	} else {
		close(httpDone)
	}
	if opts.ready != nil {
		opts.ready(rt)
	}

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("shutdown_requested", "reason", ctx.Err().Error())
			rt.human.Close()
			stopCtx, cancel := context.WithTimeout(context.Background(), opts.cfg.Orchestrator().StopTimeout+time.Second)
			defer cancel()
			if err := rt.orch.Stop(stopCtx); err != nil {
				logger.Warn("orchestrator_stop_failed", "error", err.Error())
			}
		case <-stopped:
		}
	}()

	// The run context is detached so loops exit through Stop rather than
	// mid-iteration.
	if err := rt.orch.Run(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	d := rt.orch.Dashboard()
	logger.Info("run_finished",
		"project_id", d.Project.ID,
		"state", string(d.Project.State),
		"summary", d.Summary,
	)
	fmt.Fprintf(opts.out, "\n%s: %s (%s)\n", d.Project.Name, d.Project.State, d.Summary)

	stopServing()
	if err := <-httpDone; err != nil {
		logger.Warn("http_server_error", "error", err.Error())
	}
	return nil
}
