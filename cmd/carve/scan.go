package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tetsuo/carve"
	"github.com/tetsuo/carve/formats"
	"github.com/tetsuo/carve/internal/config"
	"github.com/tetsuo/carve/internal/logging"
	"github.com/tetsuo/carve/internal/metrics"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var cmdScan = &cobra.Command{
	Use:   "scan <file>...",
	Short: "Split files into format segments",
	Args:  cobra.MinimumNArgs(1),
	Run:   scan,
}

var flag = struct {
	Config      string
	Decoders    []string
	Jobs        int
	LogLevel    string
	LogFormat   string
	Format      string
	MetricsAddr string
	NoColor     bool
	Progress    time.Duration
}{}

func init() {
	cmd.AddCommand(cmdScan)
	bindScanFlags(cmdScan.Flags())
}

func bindScanFlags(f *pflag.FlagSet) {
	f.StringVarP(&flag.Config, "config", "c", "", "YAML configuration file")
	f.StringSliceVarP(&flag.Decoders, "decoders", "d", nil, "Decoders to run, in order (default all)")
	f.IntVarP(&flag.Jobs, "jobs", "j", 0, "Files analyzed concurrently")
	f.StringVar(&flag.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	f.StringVar(&flag.LogFormat, "log-format", "", "Log format (console, json)")
	f.StringVarP(&flag.Format, "format", "f", "", "Output format (table, yaml)")
	f.StringVar(&flag.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.BoolVar(&flag.NoColor, "no-color", false, "Disable colors")
	f.DurationVar(&flag.Progress, "progress", 2*time.Second, "Interval between progress logs, 0 to disable")
}

// loadConfig reads the configuration file, if any, and applies the flags
// set on the command line over it.
func loadConfig(f *pflag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if flag.Config != "" {
		var err error
		cfg, err = config.Load(flag.Config)
		if err != nil {
			return nil, err
		}
	}

	if f.Changed("decoders") {
		cfg.Decoders = flag.Decoders
	}
	if f.Changed("jobs") {
		cfg.Jobs = flag.Jobs
	}
	if f.Changed("log-level") {
		cfg.Log.Level = flag.LogLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = flag.LogFormat
	}
	if f.Changed("format") {
		cfg.Output.Format = config.OutputFormat(flag.Format)
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Listen = flag.MetricsAddr
	}
	if flag.NoColor {
		cfg.Output.Color = config.ColorNever
	}
	cfg.Normalize()
	return cfg, cfg.Validate()
}

// fileReport is the outcome of the analysis of one file.
type fileReport struct {
	File     string          `yaml:"file"`
	Size     int64           `yaml:"size"`
	Segments []segmentReport `yaml:"segments"`
	Error    string          `yaml:"error,omitempty"`
}

type segmentReport struct {
	Begin               int64          `yaml:"begin"`
	End                 int64          `yaml:"end"`
	Extensions          []string       `yaml:"extensions,flow"`
	Truncated           bool           `yaml:"truncated,omitempty"`
	MissingPreviousData bool           `yaml:"missing_previous_data,omitempty"`
	Metadata            map[string]any `yaml:"metadata,omitempty"`
}

func scan(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd.Flags())
	check(err)

	switch cfg.Output.Color {
	case config.ColorNever:
		color.NoColor = true
	case config.ColorAlways:
		color.NoColor = false
	}
	log, err := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level, color.NoColor)
	checkf(err, "logger")

	if cfg.Metrics.Listen != "" {
		srv := metrics.Serve(cfg.Metrics.Listen, log)
		defer func() { _ = srv.Close() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reports := make([]fileReport, len(args))
	g := new(errgroup.Group)
	g.SetLimit(cfg.Jobs)
	for i, path := range args {
		g.Go(func() error {
			reports[i] = analyze(ctx, cfg, log, path)
			return nil
		})
	}
	_ = g.Wait()

	switch cfg.Output.Format {
	case config.OutputYAML:
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		check(enc.Encode(reports))
		check(enc.Close())
	default:
		printTable(os.Stdout, reports)
	}

	var failed int
	for _, r := range reports {
		if r.Error != "" {
			failed++
		}
	}
	if ctx.Err() != nil {
		fatalf("interrupted")
	}
	if failed > 0 {
		fatalf("%d of %d files failed", failed, len(reports))
	}
}

// analyze runs a fresh Analyzer over the file at path. The Analyzer is
// cancelled when ctx is.
func analyze(ctx context.Context, cfg *config.Config, log zerolog.Logger, path string) fileReport {
	a := carve.New(formats.Default,
		carve.WithLogger(log),
		carve.WithDecoders(cfg.Decoders...))
	defer context.AfterFunc(ctx, a.Cancel)()

	done := make(chan struct{})
	defer close(done)
	if flag.Progress > 0 {
		go func() {
			tick := time.NewTicker(flag.Progress)
			defer tick.Stop()
			for {
				select {
				case <-done:
					return
				case <-tick.C:
					total, decoded := a.Progress()
					log.Info().Str("file", path).
						Str("decoded", humanize.IBytes(uint64(decoded))).
						Str("total", humanize.IBytes(uint64(total))).
						Msg("Analyzing")
				}
			}
		}()
	}

	start := time.Now()
	segs, err := a.GetSegments(path)
	report := fileReport{File: path}
	for _, seg := range segs {
		report.Size = max(report.Size, seg.End)
		report.Segments = append(report.Segments, segmentReport{
			Begin:               seg.Begin,
			End:                 seg.End,
			Extensions:          seg.Extensions,
			Truncated:           seg.Truncated,
			MissingPreviousData: seg.MissingPreviousData,
			Metadata:            seg.Metadata,
		})
	}
	switch {
	case errors.Is(err, carve.ErrCancelled):
		report.Error = "cancelled"
		log.Warn().Str("file", path).Msg("Analysis cancelled")
	case err != nil:
		report.Error = err.Error()
		log.Error().Err(err).Str("file", path).Msg("Analysis failed")
	default:
		log.Info().Str("file", path).Int("segments", len(segs)).
			Dur("elapsed", time.Since(start)).Msg("Analyzed")
	}
	return report
}

var (
	colorFile      = color.New(color.Bold)
	colorKnown     = color.New(color.FgGreen)
	colorUnknown   = color.New(color.Faint)
	colorTruncated = color.New(color.FgRed)
	colorError     = color.New(color.FgRed, color.Bold)
)

func printTable(w io.Writer, reports []fileReport) {
	for _, r := range reports {
		colorFile.Fprintf(w, "%s", r.File)
		fmt.Fprintf(w, " (%s)\n", humanize.IBytes(uint64(r.Size)))
		for _, seg := range r.Segments {
			c := colorKnown
			switch {
			case len(seg.Extensions) == 1 && seg.Extensions[0] == carve.Unknown:
				c = colorUnknown
			case seg.Truncated:
				c = colorTruncated
			}
			var flags []string
			if seg.Truncated {
				flags = append(flags, "truncated")
			}
			if seg.MissingPreviousData {
				flags = append(flags, "missing-previous-data")
			}
			c.Fprintf(w, "  %12d %12d %10s  %-16s %s\n",
				seg.Begin, seg.End,
				humanize.IBytes(uint64(seg.End-seg.Begin)),
				strings.Join(seg.Extensions, ","),
				strings.Join(flags, " "))
		}
		if r.Error != "" {
			colorError.Fprintf(w, "  error: %s\n", r.Error)
		}
	}
}
