package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fabfab/scanqa/api"
	"github.com/fabfab/scanqa/chat"
	"github.com/fabfab/scanqa/config"
	"github.com/fabfab/scanqa/pipeline"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	verbose    bool

	cfg    config.Config
	logger *log.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "scanqa",
		Short:         "Ask questions about scanned PDFs",
		Long:          "scanqa transcribes a scanned document with a vision model, indexes the text and answers questions strictly from it.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opts.logger = log.New(cmd.ErrOrStderr(), "", log.LstdFlags)

			path := opts.configPath
			if path == "" {
				path = os.Getenv(config.ConfigPathEnv)
			}
			cfg, err := config.LoadFile(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file (default $"+config.ConfigPathEnv+")")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log per-page transcription details")

	root.AddCommand(
		newChatCmd(opts),
		newAskCmd(opts),
		newServeCmd(opts),
		newClearCmd(opts),
	)
	return root
}

// initialized builds and ingests a controller for path.
func (o *rootOptions) initialized(ctx context.Context, path string, closers *cleanup) (*pipeline.Controller, error) {
	controller, err := buildController(ctx, o.cfg, path, o.logger, o.verbose, closers)
	if err != nil {
		return nil, err
	}
	if err := controller.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", path, err)
	}
	return controller, nil
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <file>",
		Short: "Ingest a document and start an interactive question loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var closers cleanup
			defer closers.run()

			controller, err := opts.initialized(cmd.Context(), args[0], &closers)
			if err != nil {
				return err
			}
			return runREPL(cmd.Context(), controller, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

type asker interface {
	Ask(ctx context.Context, question string) (chat.Answer, error)
}

// runREPL reads one question per line until EOF, "exit" or "quit".
func runREPL(ctx context.Context, a asker, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Document ready. Ask a question (type 'exit' to quit).")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		question := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(question) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		answer, err := a.Ask(ctx, question)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printAnswer(out, answer)
	}
}

func printAnswer(out io.Writer, answer chat.Answer) {
	fmt.Fprintln(out, answer.Text)
	if answer.Refused || len(answer.Evidence) == 0 {
		return
	}
	pages := answer.Pages()
	labels := make([]string, len(pages))
	for i, p := range pages {
		labels[i] = fmt.Sprintf("%d", p)
	}
	fmt.Fprintf(out, "(pages: %s)\n", strings.Join(labels, ", "))
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		question string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "ask <file>",
		Short: "Ingest a document and answer a single question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(question) == "" {
				return errors.New("--question is required")
			}

			var closers cleanup
			defer closers.run()

			controller, err := opts.initialized(cmd.Context(), args[0], &closers)
			if err != nil {
				return err
			}

			answer, err := controller.Ask(cmd.Context(), question)
			if err != nil {
				return fmt.Errorf("ask failed: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"question": answer.Question,
					"answer":   answer.Text,
					"refused":  answer.Refused,
					"pages":    answer.Pages(),
				})
			}
			printAnswer(cmd.OutOrStdout(), answer)
			return nil
		},
	}

	cmd.Flags().StringVarP(&question, "question", "q", "", "question to ask")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the answer as JSON")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve <file>",
		Short: "Serve the question API for a document over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var closers cleanup
			defer closers.run()

			controller, err := buildController(ctx, opts.cfg, args[0], opts.logger, opts.verbose, &closers)
			if err != nil {
				return err
			}

			if addr == "" {
				addr = opts.cfg.HTTPAddr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.New(controller, opts.logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Questions get 503 until ingestion finishes.
			go func() {
				if err := controller.Initialize(ctx); err != nil {
					opts.logger.Printf("initialize %s: %v", args[0], err)
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				opts.logger.Printf("serving %s on %s", controller.SourceName(), addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("http server: %w", err)
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				opts.logger.Printf("shutting down")
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default $HTTP_ADDR or :8080)")
	return cmd
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <file>",
		Short: "Remove a document's chunks from the index and provenance graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clearDocument(cmd.Context(), opts.cfg, args[0], opts.logger)
		},
	}
}
