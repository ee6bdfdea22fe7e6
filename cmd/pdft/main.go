// Package main は運用者向けの CLI です。サーバーと同じ設定・ストアを使います。
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AbsurdMirror/PDF-Translator/internal/app"
	"github.com/AbsurdMirror/PDF-Translator/internal/config"
	"github.com/AbsurdMirror/PDF-Translator/internal/content"
	"github.com/AbsurdMirror/PDF-Translator/internal/jobs"
	applog "github.com/AbsurdMirror/PDF-Translator/internal/log"
)

var (
	application *app.App
	logCloser   io.Closer

	flagVerbose    bool
	flagSourceLang string
	flagTargetLang string
	flagTranslate  bool
)

func main() {
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging")
	parseCmd.Flags().StringVar(&flagSourceLang, "source", "", "source language (default English)")
	parseCmd.Flags().StringVar(&flagTargetLang, "target", "", "target language (default Chinese)")
	parseCmd.Flags().BoolVar(&flagTranslate, "translate", false, "translate right after a successful parse")

	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initApp
	rootCmd.PersistentPostRunE = closeApp

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("pdft failed", slog.Any("error", err))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "pdft",
	Short:        "PDF translation pipeline operator tool",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the HTTP server and stage workers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return application.Serve(cmd.Context())
	},
}

var parseCmd = &cobra.Command{
	Use:   "parse FILE",
	Short: "register a PDF and run the parse stage",
	Long: `Registers FILE as a new task and runs the parse stage in this process.
The document is uploaded to the parsing service directly; no server needs to be running.`,
	Args: cobra.ExactArgs(1),
	RunE: doParse,
}

var translateCmd = &cobra.Command{
	Use:   "translate TASK_ID",
	Short: "run the translate stage for a parsed task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd.Context(), cmd.OutOrStdout(), jobs.StageTranslate, args[0])
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "list task records, newest first",
	RunE:  doTasks,
}

var exportCmd = &cobra.Command{
	Use:   "export TASK_ID OUT.xlsx",
	Short: "write the source and translated content of a task as a spreadsheet",
	Args:  cobra.ExactArgs(2),
	RunE:  doExport,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build information",
	// 設定を読まずに動く
	PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
	PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Fprintln(out, "pdft: version info not available")
			return
		}
		fmt.Fprintf(out, "pdft: %s\n", info.Main.Version)
		fmt.Fprintf(out, "go:   %s\n", info.GoVersion)
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				fmt.Fprintf(out, "commit: %s\n", s.Value)
			}
		}
	},
}

func initApp(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if flagVerbose {
		cfg.LogLevel = "debug"
	}

	logger, closer, err := applog.New(applog.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Dir: cfg.LogDir})
	if err != nil {
		return err
	}
	logCloser = closer
	slog.SetDefault(logger)

	ctx := applog.ContextAttrs(cmd.Context(),
		slog.String("cmd", cmd.Name()),
		slog.Int("pid", os.Getpid()),
	)
	cmd.SetContext(ctx)

	application, err = app.Build(ctx, cfg, logger)
	return err
}

func closeApp(*cobra.Command, []string) error {
	var err error
	if application != nil {
		err = application.Close()
	}
	if logCloser != nil {
		_ = logCloser.Close()
	}
	return err
}

func doParse(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	record, err := application.Import(ctx, args[0], flagSourceLang, flagTargetLang)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "task %s registered (%s)\n", record.TaskID, record.Filename)

	if err := runStage(ctx, out, jobs.StageParse, record.TaskID); err != nil {
		return err
	}
	if !flagTranslate || application.Queued() {
		return nil
	}
	current, err := application.Store.Get(ctx, record.TaskID)
	if err != nil {
		return err
	}
	if current == nil || current.ParseProgress < 100 {
		return nil
	}
	return runStage(ctx, out, jobs.StageTranslate, record.TaskID)
}

func runStage(ctx context.Context, out io.Writer, stage jobs.Stage, taskID string) error {
	record, err := application.RunTask(ctx, stage, taskID)
	if err != nil {
		return fmt.Errorf("%s %s: %w", stage, taskID, err)
	}
	if record == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	if application.Queued() {
		fmt.Fprintf(out, "%s queued for %s\n", taskID, stage)
		return nil
	}
	fmt.Fprintf(out, "%s %s: %s %d%% %s\n", taskID, stage, record.Status, record.Progress(stage), record.Message)
	if record.Status == jobs.StatusFailed {
		return fmt.Errorf("%s stage failed", stage)
	}
	return nil
}

func doTasks(cmd *cobra.Command, _ []string) error {
	records, err := application.Store.List(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK ID\tFILE\tSTATUS\tPARSE\tTRANSLATE\tUPDATED\tMESSAGE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%d%%\t%s\t%s\n",
			r.TaskID, r.Filename, r.Status, r.ParseProgress, r.TranslateProgress,
			r.UpdatedAt.Local().Format("2006-01-02 15:04"), r.Message)
	}
	return w.Flush()
}

func doExport(cmd *cobra.Command, args []string) error {
	taskID, out := args[0], args[1]
	path, err := application.Storage.ResultPath(taskID)
	if err != nil {
		return err
	}
	doc, err := content.Load(path)
	if err != nil {
		return fmt.Errorf("load result of %s: %w", taskID, err)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := content.ExportXLSX(doc, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d items to %s\n", len(doc.Items), out)
	return nil
}
