package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/divyekant/llm-bucket/internal/pipeline"
	"github.com/divyekant/llm-bucket/pkg/llmbucket"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch, process and upload every configured source",
		Args:  cobra.NoArgs,
		RunE:  runSync,
	}
	cmd.Flags().StringP("config", "c", "", "Path to the YAML or TOML config file")
	cmd.Flags().String("env-file", ".env", "Dotenv file loaded before reading the environment")
	cmd.Flags().Int("workers", 0, "Sources synced in parallel (default LLM_BUCKET_WORKERS or CPU count)")
	cmd.Flags().Duration("timeout", 0, "Deadline for the whole run, e.g. 10m (0 = none)")
	cmd.Flags().Bool("empty-bucket", false, "Delete every external source in the bucket before syncing")
	cmd.Flags().String("history", "", "Record the run in this SQLite database")
	cmd.MarkFlagRequired("config")
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	workers, _ := cmd.Flags().GetInt("workers")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	emptyBucket, _ := cmd.Flags().GetBool("empty-bucket")
	historyPath, _ := cmd.Flags().GetString("history")
	logLevel, _ := cmd.Flags().GetString("log-level")
	quiet, _ := cmd.Flags().GetBool("quiet")
	jsonMode, _ := cmd.Flags().GetBool("json")

	s, err := llmbucket.New(llmbucket.SyncOptions{
		ConfigPath:  configPath,
		EnvFile:     envFile,
		Workers:     workers,
		Timeout:     timeout,
		EmptyBucket: emptyBucket,
		HistoryPath: historyPath,
		ProgressFn:  progressPrinter(cmd),
	})
	if err != nil {
		return err
	}
	setupLogging(s.Logging(), logLevel)

	out := cmd.OutOrStdout()
	if !quiet && !jsonMode {
		upload := "disabled"
		if s.UploadEnabled() {
			upload = "enabled"
		}
		fmt.Fprintln(out, titleStyle.Render("llm-bucket sync"))
		fmt.Fprintf(out, "  config:  %s\n", configPath)
		fmt.Fprintf(out, "  output:  %s\n", s.OutputDir())
		fmt.Fprintf(out, "  kind:    %s\n", s.Kind())
		fmt.Fprintf(out, "  sources: %d\n", len(s.Sources()))
		fmt.Fprintf(out, "  upload:  %s\n", upload)
		if emptyBucket {
			fmt.Fprintf(out, "  %s\n", warnStyle.Render("bucket will be emptied first"))
		}
		fmt.Fprintln(out)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	startTime := time.Now()
	report, err := s.Run(ctx)
	if err != nil {
		return err
	}
	elapsed := time.Since(startTime)

	if err := writeOutput(cmd, report, func() { printSummary(out, report, elapsed) }); err != nil {
		return err
	}

	if failed := len(report.Failures()); failed > 0 {
		return fmt.Errorf("%d of %d %w", failed, len(report.Sources), errSourcesFailed)
	}
	return nil
}

func printSummary(w io.Writer, report *pipeline.RunReport, elapsed time.Duration) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("=== Summary ==="))
	for _, src := range report.Sources {
		if f := src.Result.Failure; f != nil {
			fmt.Fprintf(w, "  %s %s\n", failStyle.Render("✗"), src.Source)
			fmt.Fprintf(w, "      %s %s/%s: %s\n",
				mutedStyle.Render(src.Key), f.Stage, f.ErrorKind, truncateText(f.Message, 160))
			continue
		}

		detail := fmt.Sprintf("%d files", src.Files)
		if src.Uploaded {
			detail += ", uploaded"
		}
		if c := src.Changes; c != nil && !c.Empty() {
			detail += fmt.Sprintf(", +%d ~%d -%d", len(c.Added), len(c.Modified), len(c.Removed))
		}
		fmt.Fprintf(w, "  %s %s (%s)\n", okStyle.Render("✓"), src.Source, detail)
		fmt.Fprintf(w, "      %s\n", mutedStyle.Render(src.Result.ArtifactPath))
	}

	failed := len(report.Failures())
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  run:     %s\n", report.ID)
	fmt.Fprintf(w, "  synced:  %d/%d\n", len(report.Sources)-failed, len(report.Sources))
	if failed > 0 {
		fmt.Fprintf(w, "  failed:  %s\n", failStyle.Render(fmt.Sprint(failed)))
	}
	fmt.Fprintf(w, "  elapsed: %s\n", elapsed.Round(time.Millisecond))
}

