package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/stagehand/internal/core/storage"
	"github.com/syntrixbase/stagehand/internal/logging"
	"github.com/syntrixbase/stagehand/internal/orchestrator"
	"github.com/syntrixbase/stagehand/pkg/model"
)

func newPipelineCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Manage pipeline definitions",
	}
	cmd.AddCommand(newPipelineApplyCmd(load), newPipelineShowCmd(load))
	return cmd
}

// withOrchestrator connects to the configured store and runs fn against an
// orchestrator that does not poll.
func withOrchestrator(ctx context.Context, load loader, fn func(*orchestrator.Orchestrator) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	defer logging.Shutdown()

	conn, err := storage.NewConnector(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(context.Background()); err != nil {
			slog.Warn("Failed to close storage connector", "error", err)
		}
	}()

	pipelineCfg := cfg.Pipeline
	pipelineCfg.File = ""
	return fn(orchestrator.New(conn, pipelineCfg, nil))
}

func newPipelineApplyCmd(load loader) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Validate a pipeline file and store it",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := orchestrator.LoadFile(file)
			if err != nil {
				return err
			}
			return withOrchestrator(cmd.Context(), load, func(o *orchestrator.Orchestrator) error {
				if err := o.Apply(cmd.Context(), p); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pipeline %q applied: %v\n", p.Name, p.StageNames())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Pipeline definition (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newPipelineShowCmd(load loader) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored pipeline as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), load, func(o *orchestrator.Orchestrator) error {
				if _, err := o.Refresh(cmd.Context()); err != nil {
					return err
				}
				p := o.Pipeline()
				if debug {
					p = o.DebugPipeline()
				}
				return printPipeline(cmd.OutOrStdout(), p)
			})
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "Show the debug pipeline")
	return cmd
}

var errNoPipeline = errors.New("no pipeline stored")

func printPipeline(w io.Writer, p *model.Pipeline) error {
	if p == nil {
		return errNoPipeline
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
