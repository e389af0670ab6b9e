package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/strata/internal/config"
	"github.com/bamsammich/strata/internal/domain"
	"github.com/bamsammich/strata/internal/filter"
	"github.com/bamsammich/strata/internal/snapshot"
	"github.com/bamsammich/strata/internal/store"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// filterFlag is a pflag.Value that keeps the command-line order of
// --exclude and --include rules by appending to a shared filter.Chain.
type filterFlag struct {
	chain   *filter.Chain
	include bool
}

func (*filterFlag) String() string { return "" }
func (*filterFlag) Type() string   { return "pattern" }

func (f *filterFlag) Set(val string) error {
	if f.include {
		return f.chain.AddInclude(val)
	}
	return f.chain.AddExclude(val)
}

// options holds the global flags shared by every command.
type options struct {
	dir         string
	backupDir   string
	compression string
	storeMode   string
	archive     bool
	filterFile  string
	maxSize     string
	bwLimit     string
	noIgnore    bool
	maxDepth    int
	workers     int
	cacheSize   int
	verbose     bool
	quiet       bool
	noProgress  bool
	logFile     string
	configFile  string
	showVersion bool

	chain  *filter.Chain
	cfg    config.Config
	logger *slog.Logger
	closer io.Closer
}

func run(args []string, stdout, stderr io.Writer) int {
	root, o := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return execute(root, o, stderr)
}

// execute runs root and releases the log file whatever the outcome;
// PersistentPostRunE does not run when a command fails.
func execute(root *cobra.Command, o *options, stderr io.Writer) int {
	defer o.teardown()

	if err := root.Execute(); err != nil {
		return exitCode(err, stderr)
	}
	if err := o.teardown(); err != nil {
		return exitCode(fmt.Errorf("close log: %w", err), stderr)
	}
	return 0
}

// exitCode maps err to the process exit status: 1 when there was nothing
// to act on, 2 for every other failure.
func exitCode(err error, stderr io.Writer) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	if errors.Is(err, domain.ErrNotFound) {
		return 1
	}
	return 2
}

func newRootCmd() (*cobra.Command, *options) {
	o := &options{chain: filter.NewChain()}

	rootCmd := &cobra.Command{
		Use:   "strata",
		Short: "Incremental snapshots of a directory tree",
		Long: "strata records point-in-time snapshots of a directory as a chain of\n" +
			"forward diffs and restores the tree to any recorded point.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "strata %s\n", version)
				return nil
			}
			return cmd.Help()
		},
	}

	rootCmd.Flags().BoolVar(&o.showVersion, "version", false, "print version and exit")

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&o.dir, "dir", "C", ".", "directory tree to snapshot or restore")
	pf.StringVar(&o.backupDir, "backup-dir", snapshot.DefaultBackupDir,
		"snapshot store directory (relative paths are inside --dir)")
	pf.StringVar(&o.compression, "compression", "none", "compression for new snapshots: none, per-file or whole")
	pf.StringVar(&o.storeMode, "store", "auto", "store layout: auto, discrete or archive")
	pf.BoolVar(&o.archive, "archive", false, "pack snapshots into a single archive (same as --store archive)")
	pf.Var(&filterFlag{chain: o.chain}, "exclude", "exclude paths matching PATTERN (repeatable)")
	pf.Var(&filterFlag{chain: o.chain, include: true}, "include", "include paths matching PATTERN (repeatable)")
	pf.StringVar(&o.filterFile, "filter", "", "read filter rules from FILE")
	pf.StringVar(&o.maxSize, "max-size", "", "skip files larger than SIZE (e.g. 1G, 500M)")
	pf.StringVar(&o.bwLimit, "bwlimit", "", "limit file reads and writes to SIZE per second (e.g. 50M)")
	pf.BoolVar(&o.noIgnore, "no-ignore-file", false, "do not read "+filter.IgnoreFile+" from the tree root")
	pf.IntVar(&o.maxDepth, "max-depth", 0, "longest snapshot chain before a new one is started (default 10000)")
	pf.IntVarP(&o.workers, "workers", "n", 0, "parallel file readers and writers (default: min(NumCPU, 8))")
	pf.IntVar(&o.cacheSize, "cache", 64, "resolved snapshots kept in memory")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&o.quiet, "quiet", "q", false, "suppress all output except errors")
	pf.BoolVar(&o.noProgress, "no-progress", false, "disable progress display")
	pf.StringVar(&o.logFile, "log", "", "write a structured JSON log to FILE (rotated)")
	pf.StringVar(&o.configFile, "config", "", "config file (default "+config.Path()+")")

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(
		newSnapshotCmd(o),
		newRestoreCmd(o),
		newListCmd(o),
		newShowCmd(o),
		newVerifyCmd(o),
		newDocsCmd(),
	)
	return rootCmd, o
}

// setup loads the config file, applies its defaults and configures
// logging. It runs before every command.
func (o *options) setup(cmd *cobra.Command) error {
	var err error
	if o.configFile != "" {
		o.cfg, err = config.LoadFile(o.configFile)
	} else {
		o.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyConfigDefaults(cmd.Flags(), o); err != nil {
		return err
	}
	return o.setupLogging(cmd.ErrOrStderr())
}

func (o *options) teardown() error {
	if o.closer == nil {
		return nil
	}
	err := o.closer.Close()
	o.closer = nil
	return err
}

// applyConfigDefaults applies config file defaults for flags not set on
// the command line. Config excludes go after the command-line rules, so
// an explicit --include still wins.
func applyConfigDefaults(flags *pflag.FlagSet, o *options) error {
	d := o.cfg.Defaults
	setString := func(name string, dst *string, v *string) {
		if !flags.Changed(name) && v != nil {
			*dst = *v
		}
	}
	setInt := func(name string, dst *int, v *int) {
		if !flags.Changed(name) && v != nil {
			*dst = *v
		}
	}
	setString("backup-dir", &o.backupDir, d.BackupDir)
	setString("compression", &o.compression, d.Compression)
	setString("store", &o.storeMode, d.Store)
	setString("max-size", &o.maxSize, d.MaxSize)
	setString("bwlimit", &o.bwLimit, d.BWLimit)
	setString("log", &o.logFile, o.cfg.Log.File)
	setInt("max-depth", &o.maxDepth, d.MaxDepth)
	setInt("workers", &o.workers, d.Workers)
	setInt("cache", &o.cacheSize, d.CacheSize)

	for _, p := range d.Exclude {
		if err := o.chain.AddExclude(p); err != nil {
			return fmt.Errorf("%w: config exclude %q: %w", domain.ErrConfiguration, p, err)
		}
	}
	return nil
}

// repoOptions turns the global flags into repository options.
func (o *options) repoOptions() (snapshot.Options, error) {
	tier, err := domain.ParseTier(o.compression)
	if err != nil {
		return snapshot.Options{}, err
	}
	modeName := o.storeMode
	if o.archive {
		modeName = "archive"
	}
	mode, err := store.ParseMode(modeName)
	if err != nil {
		return snapshot.Options{}, err
	}
	if o.maxDepth < 0 {
		return snapshot.Options{}, fmt.Errorf("%w: --max-depth must not be negative", domain.ErrConfiguration)
	}

	if o.filterFile != "" {
		if err := o.chain.LoadFile(o.filterFile); err != nil {
			return snapshot.Options{}, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
		}
		o.filterFile = ""
	}
	if o.maxSize != "" {
		n, err := filter.ParseSize(o.maxSize)
		if err != nil {
			return snapshot.Options{}, fmt.Errorf("%w: --max-size: %w", domain.ErrConfiguration, err)
		}
		o.chain.SetMaxSize(n)
	}
	var bwLimit int64
	if o.bwLimit != "" {
		bwLimit, err = filter.ParseSize(o.bwLimit)
		if err != nil {
			return snapshot.Options{}, fmt.Errorf("%w: --bwlimit: %w", domain.ErrConfiguration, err)
		}
	}

	return snapshot.Options{
		Root:           o.dir,
		BackupDir:      o.backupDir,
		Mode:           mode,
		Tier:           tier,
		Filter:         o.chain,
		NoIgnoreFile:   o.noIgnore,
		MaxDepth:       o.maxDepth,
		CacheSize:      o.cacheSize,
		Workers:        o.workers,
		BandwidthLimit: bwLimit,
		Logger:         o.logger,
	}, nil
}

var dateLayouts = []string{
	domain.SnapshotIDLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseDate reads --date in the snapshot ID layout or a few common
// timestamp layouts, in local time unless the value carries a zone.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid --date %q (use YYYYmmdd_HHMMSS)", domain.ErrConfiguration, s)
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
