// Command viewreplay plays scripted page sessions against a viewability
// tracker and reports when each one certified an impression.
//
// Usage:
//
//	viewreplay [flags] trace.yaml [trace.json ...]
//
// Flag defaults may also be set with VIEWREPLAY_* environment variables.
// The exit status is 0 when every trace met its expectations, 1 when some
// did not and 2 when a trace could not be run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/banshee-data/viewability/internal/config"
	"github.com/banshee-data/viewability/internal/monitoring"
	"github.com/banshee-data/viewability/internal/replay"
	"github.com/banshee-data/viewability/internal/security"
	"github.com/banshee-data/viewability/internal/version"
)

// Config holds viewreplay settings.
type Config struct {
	Output   string        `env:"VIEWREPLAY_OUTPUT"`
	Timeline bool          `env:"VIEWREPLAY_TIMELINE"`
	Verbose  bool          `env:"VIEWREPLAY_VERBOSE"`
	Timeout  time.Duration `env:"VIEWREPLAY_TIMEOUT" envDefault:"30s"`
	Version  bool
}

const (
	exitOK     = 0
	exitFailed = 1
	exitError  = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// parseConfig layers flags over environment defaults and returns the trace
// paths.
func parseConfig(fs *flag.FlagSet, args []string) (Config, []string, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, nil, err
	}

	fs.StringVar(&cfg.Output, "o", cfg.Output, "write results as JSON to this file")
	fs.BoolVar(&cfg.Timeline, "timeline", cfg.Timeline, "print each trace's timeline")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "log tracker activity to stderr")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "wall-clock limit per trace")
	fs.BoolVar(&cfg.Version, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}
	if fs.NArg() == 0 && !cfg.Version {
		return Config{}, nil, fmt.Errorf("at least one trace file is required")
	}
	return cfg, fs.Args(), nil
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("viewreplay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg, paths, err := parseConfig(fs, args)
	if err != nil {
		fmt.Fprintf(stderr, "viewreplay: %v\n", err)
		return exitError
	}
	if cfg.Version {
		fmt.Fprintf(stdout, "viewreplay %s\n", version.String())
		return exitOK
	}

	if cfg.Verbose {
		monitoring.SetLogger(log.New(stderr, "", log.Ltime|log.Lmicroseconds).Printf)
	} else {
		monitoring.SetLogger(nil)
	}

	status := exitOK
	var results []*replay.Result
	for _, path := range paths {
		res, err := runOne(cfg, path)
		if err != nil {
			fmt.Fprintf(stdout, "ERROR %s: %v\n", path, err)
			status = exitError
			continue
		}
		results = append(results, res)
		printResult(stdout, res, cfg.Timeline)
		if !res.Passed() && status == exitOK {
			status = exitFailed
		}
	}

	passed := 0
	for _, res := range results {
		if res.Passed() {
			passed++
		}
	}
	fmt.Fprintf(stdout, "\n%d/%d traces passed\n", passed, len(paths))

	if cfg.Output != "" {
		if err := writeJSON(cfg.Output, results); err != nil {
			fmt.Fprintf(stderr, "viewreplay: %v\n", err)
			return exitError
		}
		fmt.Fprintf(stdout, "Results written to %s\n", cfg.Output)
	}
	return status
}

func runOne(cfg Config, path string) (*replay.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	return replay.RunFile(ctx, path)
}

func printResult(w io.Writer, res *replay.Result, timeline bool) {
	verdict := "PASS"
	if !res.Passed() {
		verdict = "FAIL"
	}
	completed := "not completed"
	if res.CompletedAtMs != nil {
		completed = fmt.Sprintf("completed at %dms", *res.CompletedAtMs)
	}
	fmt.Fprintf(w, "%s %-24s %-22s threshold %.2f  errors %d\n",
		verdict, res.Name, completed, res.InViewThreshold, len(res.Errors))

	for _, msg := range res.Errors {
		fmt.Fprintf(w, "    error: %s\n", msg)
	}
	for _, msg := range res.Failures {
		fmt.Fprintf(w, "    expected %s\n", msg)
	}
	if !timeline {
		return
	}
	for _, ev := range res.Timeline {
		verdict := string(ev.Status.Verdict)
		if verdict == "" {
			verdict = "-"
		}
		fmt.Fprintf(w, "    %7dms  %-10s %-10s ratio %.2f  %s\n", ev.AtMs, ev.Action, ev.State, ev.Ratio, verdict)
	}
}

func writeJSON(path string, results []*replay.Result) error {
	if err := security.ValidateExportPath(path); err != nil {
		return err
	}
	if results == nil {
		results = []*replay.Result{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
