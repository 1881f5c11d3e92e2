package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shii9/PassiveNio/internal/config"
	"github.com/shii9/PassiveNio/internal/module"
	"github.com/shii9/PassiveNio/internal/report"
	"github.com/shii9/PassiveNio/internal/scan"
	"github.com/shii9/PassiveNio/internal/sources"
	"github.com/shii9/PassiveNio/internal/utils"
)

type options struct {
	domain      string
	configPath  string
	outputDir   string
	verbose     bool
	jsonStdout  bool
	listModules bool
}

// exitError carries a process exit code out of cobra.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func newRootCmd(newRegistry func() (*module.Registry, error), stdout io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "passivenio",
		Short:         "Passive OSINT reconnaissance for a domain",
		Long:          `passivenio queries public sources about a domain and writes a scored report. It never sends traffic that probes the target's infrastructure beyond ordinary web requests.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := newRegistry()
			if err != nil {
				return err
			}
			if opts.listModules {
				listModules(stdout, reg)
				return nil
			}
			code := run(cmd.Context(), cmd, opts, reg, stdout)
			if code != 0 {
				return exitError{code}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.domain, "domain", "d", "", "Target domain (overrides target.domain)")
	f.StringVarP(&opts.configPath, "config", "c", "config.yaml", "Configuration file")
	f.StringVarP(&opts.outputDir, "output", "o", "", "Report directory (overrides scan.output_dir)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")
	f.BoolVar(&opts.jsonStdout, "json-stdout", false, "Print the risk summary as JSON on stdout")
	f.BoolVar(&opts.listModules, "list-modules", false, "List the built-in modules and exit")
	return cmd
}

// loadConfig applies flag overrides on top of the file. The default config
// path may be missing when a domain is given on the command line.
func loadConfig(cmd *cobra.Command, opts options) (*config.Config, error) {
	optional := opts.domain != "" && !cmd.Flags().Changed("config")
	cfg, err := config.Load(opts.configPath, optional)
	if err != nil {
		return nil, err
	}
	if opts.domain != "" {
		cfg.Target.Domain = opts.domain
	}
	if opts.outputDir != "" {
		cfg.Scan.OutputDir = opts.outputDir
	}
	if opts.verbose {
		cfg.Scan.Verbose = true
	}
	if opts.jsonStdout {
		cfg.Scan.JSONStdout = true
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cobra.Command, opts options, reg *module.Registry, stdout io.Writer) int {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		utils.InitLogger(opts.verbose, "")
		utils.Logger.WithError(err).Error("Invalid configuration")
		return 1
	}
	closeLog := utils.InitLogger(cfg.Scan.Verbose, cfg.Scan.LogFile)
	defer closeLog()

	engine := &scan.Engine{
		Registry: reg,
		Config:   cfg,
		Log:      utils.Logger.WithField("component", "scan"),
	}
	res, err := engine.Run(ctx)
	if err != nil {
		utils.Logger.WithError(err).Error("Scan not started")
		return 1
	}

	if cfg.Scan.JSONStdout {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Report.Summary()); err != nil {
			utils.Logger.WithError(err).Error("Cannot print summary")
		}
	} else {
		report.PrintSummary(stdout, res.Report, res.Paths)
	}
	if res.PersistErr != nil {
		utils.Logger.Warn("Report was not saved; the summary above is all that remains of this scan")
	}
	return 0
}

func listModules(w io.Writer, reg *module.Registry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tKEY\tDESCRIPTION")
	for _, d := range reg.Catalog() {
		key := "-"
		switch {
		case d.RequiresKey:
			key = d.KeyEnv
		case d.KeyEnv != "":
			key = d.KeyEnv + " (optional)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Source, key, d.Description)
	}
	tw.Flush()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(sources.Registry, os.Stdout)
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		var e exitError
		if errors.As(err, &e) {
			os.Exit(e.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
