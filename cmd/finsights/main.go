package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/finsights/internal/app"
	"github.com/dharsanguruparan/finsights/internal/config"
	"github.com/dharsanguruparan/finsights/internal/model"
	"github.com/dharsanguruparan/finsights/internal/pipeline"
	"github.com/dharsanguruparan/finsights/internal/queue"
)

var verbose bool

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "finsights: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finsights",
		Short: "Earnings call transcript ingestion",
		Long: `finsights discovers earnings call transcripts in the exchange announcement feed,
downloads their PDFs and converts them to plain text, tracking every document in PostgreSQL.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	cmd.AddCommand(
		newMigrateCmd(),
		newRunCmd(),
		newDiscoverCmd(),
		newDownloadCmd(),
		newConvertCmd(),
		newCleanupCmd(),
		newEnqueueCmd(),
	)
	return cmd
}

// withApp loads configuration, connects and hands the app to fn.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(verbose || cfg.Debug)
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func addWindowFlags(cmd *cobra.Command, from, to *string) {
	cmd.Flags().StringVar(from, "from", "", "First announcement date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(to, "to", "", "Last announcement date (YYYY-MM-DD, default today)")
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the documents table and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(*app.App) error {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			})
		},
	}
}

func newRunCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover, download and convert transcripts for a date window",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := pipeline.ParseWindow(from, to, time.Now())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				rep, err := a.Pipeline.Run(cmd.Context(), w)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatReport(rep))
				return nil
			})
		},
	}
	addWindowFlags(cmd, &from, &to)
	return cmd
}

func newDiscoverCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Register new transcripts without downloading them",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := pipeline.ParseWindow(from, to, time.Now())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				items, err := a.Fetcher.Discover(cmd.Context(), w.From, w.To)
				if err != nil {
					return err
				}
				ids, err := a.Registrar.Register(cmd.Context(), items)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "discovered=%d registered=%d\n", len(items), len(ids))
				return nil
			})
		},
	}
	addWindowFlags(cmd, &from, &to)
	return cmd
}

func newDownloadCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download PDFs for every discovered document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				docs, err := a.Repo.ListByStatus(cmd.Context(), model.StatusDiscovered, limit)
				if err != nil {
					return err
				}
				ids := make([]string, len(docs))
				for i, doc := range docs {
					ids[i] = doc.ID
				}
				res := a.Downloader.DownloadAll(cmd.Context(), ids)
				fmt.Fprintf(cmd.OutOrStdout(), "downloaded=%d failed=%d skipped=%d\n", res.Downloaded, res.Failed, res.Skipped)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum documents to download (0 means all)")
	return cmd
}

func newConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert",
		Short: "Convert every downloaded PDF to text",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				succeeded, failed, err := a.Converter.ConvertAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "converted=%d failed=%d\n", succeeded, failed)
				return nil
			})
		},
	}
}

func newCleanupCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete documents and files past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				age := olderThan
				if age <= 0 {
					age = a.Config.Retention()
				}
				removed, err := a.Cleaner.Cleanup(cmd.Context(), time.Now().Add(-age))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed=%d\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Override the configured retention (e.g. 72h)")
	return cmd
}

func newEnqueueCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a pipeline run for the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := pipeline.ParseWindow(from, to, time.Now())
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			client := asynq.NewClient(asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			defer client.Close()
			id, err := queue.EnqueueRun(cmd.Context(), client, queue.RunPayload{
				From: w.From.Format(pipeline.DateLayout),
				To:   w.To.Format(pipeline.DateLayout),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued task %s\n", id)
			return nil
		},
	}
	addWindowFlags(cmd, &from, &to)
	return cmd
}

func formatReport(rep pipeline.Report) string {
	return fmt.Sprintf("discovered=%d registered=%d downloaded=%d download_failed=%d download_skipped=%d converted=%d conversion_failed=%d",
		rep.Discovered, rep.Registered, rep.Downloaded, rep.DownloadFailed, rep.DownloadSkipped, rep.Converted, rep.ConversionFailed)
}
