// Command conductor runs the agent execution runtime: serve the HTTP API,
// run a one-shot task, or validate configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/logger"
	"github.com/kadirpekel/conductor/pkg/runtime"
	"github.com/kadirpekel/conductor/pkg/server"
)

type cli struct {
	Config   string `help:"Path to the YAML configuration file." short:"c" type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`

	Serve    serveCmd    `cmd:"" help:"Start the HTTP server."`
	Run      runCmd      `cmd:"" help:"Run a single task and print the result."`
	Validate validateCmd `cmd:"" help:"Validate the configuration and exit."`
}

type serveCmd struct{}

func (s *serveCmd) Run(root *cli) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	return server.New(cfg, rt).ListenAndServe(ctx)
}

type runCmd struct {
	Task      string `arg:"" help:"Task for the agent."`
	SessionID string `help:"Session to run in." default:""`
	Stream    bool   `help:"Stream output as it is generated."`
}

func (r *runCmd) Run(root *cli) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if r.Stream {
		cfg.Agent.Streaming = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	a, err := rt.NewAgent(ctx, r.SessionID, rt.DefaultPromptConfig())
	if err != nil {
		return err
	}

	if r.Stream {
		for event := range a.RunStream(ctx, r.Task) {
			switch event.Type {
			case agent.EventContent:
				fmt.Print(event.Data["delta"])
			case agent.EventToolCall:
				fmt.Printf("\n[tool] %s\n", event.Data["tool"])
			case agent.EventError:
				return fmt.Errorf("%v", event.Data["message"])
			case agent.EventDone:
				fmt.Println()
			}
		}
		return nil
	}

	result, err := a.Run(ctx, r.Task)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("run failed: %s", result.Response)
	}

	fmt.Println(result.Response)
	return nil
}

type validateCmd struct{}

func (v *validateCmd) Run(root *cli) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	fmt.Printf("Configuration OK (model: %s)\n", cfg.LLM.Model)
	return nil
}

func main() {
	var root cli
	kctx := kong.Parse(&root,
		kong.Name("conductor"),
		kong.Description("LLM agent execution runtime"),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(root.LogLevel)
	logger.Init(level, os.Stderr, "simple")

	if err := kctx.Run(&root); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
