package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/entrhq/loom/pkg/agent"
	"github.com/entrhq/loom/pkg/agent/tools"
	"github.com/entrhq/loom/pkg/config"
	"github.com/entrhq/loom/pkg/logging"
	"github.com/entrhq/loom/pkg/tools/document"
	"github.com/entrhq/loom/pkg/types"
)

type runOptions struct {
	configFile   string
	task         string
	instructions string
	model        string
	fallbacks    []string
	attachments  []string
	output       string
	quiet        bool
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one session to completion",
		Args:  cobra.NoArgs,
		Example: `  loom run --task "Describe the attached pages" --attach page1.png@1 --attach page2.png@2
  loom run --config loom.yaml --task "Summarize" --output result.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSession(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Path to configuration file (YAML)")
	flags.StringVarP(&opts.task, "task", "t", "", "Task to perform (required)")
	flags.StringVar(&opts.instructions, "instructions", "", "System instructions for the session")
	flags.StringVarP(&opts.model, "model", "m", "", "Model override")
	flags.StringSliceVar(&opts.fallbacks, "fallback", nil, "Fallback models in preference order")
	flags.StringArrayVarP(&opts.attachments, "attach", "a", nil, "Attachment as path[@index]; repeatable")
	flags.StringVarP(&opts.output, "output", "o", "", "Write the final artifact as JSON to this file")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Do not stream model text")
	_ = cmd.MarkFlagRequired("task")

	return cmd
}

func runSession(ctx context.Context, opts *runOptions, stdout, stderr io.Writer) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.Logging.Level))

	attachments, err := loadAttachments(opts.attachments)
	if err != nil {
		return err
	}

	provider, err := newProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}

	registry, err := tools.NewRegistry(cfg.Tools.Disabled...)
	if err != nil {
		return err
	}
	for _, tool := range []tools.Tool{newInspectAttachmentTool(), document.NewExtractTextTool(0)} {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}

	engine, err := agent.NewEngine(cfg, registry, agent.WithProvider(provider))
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(context.Background()); err != nil {
			fmt.Fprintf(stderr, "warning: failed to flush transcript store: %v\n", err)
		}
	}()

	session := engine.StartSession(opts.model, opts.fallbacks, opts.instructions)

	var (
		artifact *types.Artifact
		runErr   error
	)
	for ev := range session.SubmitTurn(ctx, opts.task, attachments...) {
		switch ev.Kind {
		case types.EventKindText:
			switch {
			case ev.IsNotice():
				fmt.Fprintf(stderr, "[loom] %s\n", ev.Delta)
			case ev.IsThinking():
			case !opts.quiet:
				fmt.Fprint(stderr, ev.Delta)
			}
		case types.EventKindTool:
			if !opts.quiet {
				fmt.Fprintf(stderr, "\n[tool] %s %s\n", ev.ToolName, ev.ToolJSON)
			}
		case types.EventKindComplete:
			artifact = ev.Artifact
		case types.EventKindError:
			artifact = ev.Artifact
			runErr = ev.Error
		}
	}

	stats := session.Stats()
	fmt.Fprintf(stderr, "\n[loom] %s after %d iterations, %d tool calls, %d tokens (model %s)\n",
		stats.State, stats.Iterations, stats.ToolCalls, stats.Usage.TotalTokens, stats.Model)

	if artifact != nil {
		if err := writeArtifact(artifact, opts.output, stdout); err != nil {
			return err
		}
	}
	return runErr
}

// loadAttachments reads path[@index] arguments. Without an index, attachments
// are numbered from 1 in flag order.
func loadAttachments(args []string) ([]types.Attachment, error) {
	out := make([]types.Attachment, 0, len(args))
	for i, arg := range args {
		path, index := arg, i+1
		if at := strings.LastIndex(arg, "@"); at > 0 {
			n, err := strconv.Atoi(arg[at+1:])
			if err != nil {
				return nil, fmt.Errorf("invalid attachment index in %q: %w", arg, err)
			}
			path, index = arg[:at], n
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
		out = append(out, types.Attachment{
			MimeType: detectMimeType(path, data),
			Data:     data,
			Index:    index,
		})
	}
	return out, nil
}

func detectMimeType(path string, data []byte) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		return mt
	}
	return http.DetectContentType(data)
}

// writeArtifact prints the artifact content, and writes it as JSON when a path is given.
func writeArtifact(a *types.Artifact, path string, stdout io.Writer) error {
	fmt.Fprintln(stdout, a.Content)
	if path == "" {
		return nil
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}
