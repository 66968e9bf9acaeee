package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/loqalabs/loqa-coach/internal/analysis"
	"github.com/loqalabs/loqa-coach/internal/config"
	"github.com/loqalabs/loqa-coach/internal/input"
	"github.com/loqalabs/loqa-coach/internal/logging"
	"github.com/loqalabs/loqa-coach/internal/runtime"
	"github.com/loqalabs/loqa-coach/internal/session"
)

var version = "0.1.0-dev"

type options struct {
	configPath string
	backendURL string
	userID     string
	verbose    bool
}

func (o *options) bind(fs *flag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "Path to configuration file (defaults and COACH_* env when empty)")
	fs.StringVar(&o.backendURL, "backend", "", "Override backend base URL")
	fs.StringVar(&o.userID, "user", "", "User id sent with the submission")
	fs.BoolVar(&o.verbose, "v", false, "Verbose logging")
}

func main() {
	var (
		submitOpts options
		recordOpts options
		filePath   string
		duration   time.Duration
	)
	submitCmd := flag.NewFlagSet("submit", flag.ExitOnError)
	submitOpts.bind(submitCmd)
	submitCmd.StringVar(&filePath, "file", "", "Audio file to analyse")

	recordCmd := flag.NewFlagSet("record", flag.ExitOnError)
	recordOpts.bind(recordCmd)
	recordCmd.DurationVar(&duration, "duration", 5*time.Second, "How long to record")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'submit', 'record' or 'version'")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "submit":
		submitCmd.Parse(os.Args[2:])
		err = runSubmit(ctx, submitOpts, filePath)
	case "record":
		recordCmd.Parse(os.Args[2:])
		err = runRecord(ctx, recordOpts, duration)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, opts options) (*session.Store, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.backendURL != "" {
		cfg.Backend.BaseURL = opts.backendURL
	}
	if opts.userID != "" {
		cfg.User.DefaultID = opts.userID
	}
	cfg.Preview.Mode = "memory"
	cfg.Telemetry.LogFile = ""
	cfg.Telemetry.LogLevel = "warn"
	if opts.verbose {
		cfg.Telemetry.LogLevel = "debug"
	}

	logger, _, err := logging.New(cfg.Telemetry, os.Stderr)
	if err != nil {
		return nil, err
	}
	return runtime.NewStore(ctx, cfg, logger)
}

func runSubmit(ctx context.Context, opts options, path string) error {
	if path == "" {
		return errors.New("submit requires -file")
	}
	store, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	file, err := input.LoadFile(path)
	if err != nil {
		return err
	}
	if _, err := store.SelectFile(file); err != nil {
		return err
	}
	return submitAndPrint(ctx, store, os.Stdout)
}

func runRecord(ctx context.Context, opts options, duration time.Duration) error {
	store, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.StartCapture(ctx); err != nil {
		return err
	}
	color.New(color.FgYellow).Fprintf(os.Stderr, "recording for %s, press Ctrl+C to stop early\n", duration)
	select {
	case <-time.After(duration):
	case <-ctx.Done():
	}
	if _, err := store.StopCapture(); err != nil {
		return err
	}
	return submitAndPrint(context.WithoutCancel(ctx), store, os.Stdout)
}

func submitAndPrint(ctx context.Context, store *session.Store, out io.Writer) error {
	color.New(color.Faint).Fprintln(os.Stderr, "analysing...")
	if _, err := store.Submit(ctx); err != nil {
		if alert := store.Snapshot().Alert; alert != nil {
			return fmt.Errorf("%s (%w)", alert.Message, err)
		}
		return err
	}
	store.Wait()
	snap := store.Snapshot()
	if snap.Result == nil {
		return errors.New("submission finished without a result")
	}
	printResult(out, snap.UserID, *snap.Result)
	return nil
}

func printResult(out io.Writer, userID string, r analysis.Result) {
	label := color.New(color.FgCyan, color.Bold).SprintFunc()
	score := color.New(color.FgGreen).SprintFunc()
	missing := color.New(color.Faint).SprintFunc()

	field := func(name string, v analysis.Value, render func(a ...any) string) {
		if !v.Available() {
			render = missing
		}
		fmt.Fprintf(out, "%s %s\n", label(name+":"), render(v.String()))
	}

	fmt.Fprintf(out, "%s %s\n", label("User:"), userID)
	field("Original", r.OriginalText, fmt.Sprint)
	field("Corrected", r.CorrectedText, fmt.Sprint)
	field("Pronunciation", r.PronunciationScore, score)
	field("Grammar", r.GrammarScore, score)
	field("Recommendation", r.Recommendation, color.New(color.FgMagenta).SprintFunc())
}
