package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"dbconv/internal/config"
	"dbconv/internal/debug"
	"dbconv/internal/heightmap"

	"github.com/mattn/go-isatty"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	if err := config.Initialize(); err != nil {
		fmt.Printf("Error initializing config: %v\n", err)
		os.Exit(exitFailure)
	}

	sizeDefault := config.GetInt(config.KeyHeightmapSize)
	formatDefault := config.GetString(config.KeyHeightmapFormat)
	skipUpdateCheckDefault := config.GetBool(config.KeyUpdateSkipCheck)
	debugDefault := config.GetBool(config.KeyDebug)

	versionFlag := flag.Bool("version", false, "Print version information and exit")
	debugFlag := flag.Bool("debug", debugDefault, "Write a debug log to ~/.dbconv/debug.log")
	convertFlag := flag.String("convert", "", "Convert a displace.bin heightmap to an image")
	sizeFlag := flag.Int("size", sizeDefault, "Map edge length in samples (512 or 1024)")
	formatFlag := flag.String("format", formatDefault, "Image format for -convert (raw or png)")
	outFlag := flag.String("out", "", "Output path (defaults next to the input)")
	reverseFlag := flag.String("reverse", "", "Restore a displace.bin from a .raw or .png image")
	metaFlag := flag.String("meta", "", "Metadata JSON for -reverse (defaults next to the image)")
	checkUpdateFlag := flag.Bool("check-update", false, "Check for a newer release and exit")
	updateFlag := flag.Bool("update", false, "Download and install the latest release")
	yesFlag := flag.Bool("yes", false, "Install without prompting")
	noRestartFlag := flag.Bool("no-restart", false, "Do not launch the new version after installing")
	skipUpdateCheckFlag := flag.Bool("skip-update-check", skipUpdateCheckDefault, "Skip the startup update check (or set DBCONV_UPDATE_SKIP_CHECK=true)")
	flag.Parse()

	if *versionFlag {
		printVersion()
		os.Exit(exitOK)
	}

	visited := map[string]struct{}{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = struct{}{}
	})

	runtime := computeRuntimeOptions(runtimeFlags{
		debug:           debugFlag,
		convert:         convertFlag,
		size:            sizeFlag,
		format:          formatFlag,
		out:             outFlag,
		reverse:         reverseFlag,
		meta:            metaFlag,
		checkUpdate:     checkUpdateFlag,
		update:          updateFlag,
		yes:             yesFlag,
		noRestart:       noRestartFlag,
		skipUpdateCheck: skipUpdateCheckFlag,
	}, visited)
	runtime.relaunchArgs = relaunchArgs(os.Args[1:])

	if err := debug.Init(runtime.debug); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: debug log unavailable: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, runtime, os.Stdout, os.Stderr)
	stop()
	debug.Close()
	os.Exit(code)
}

// run dispatches to the requested command and returns the process exit code.
func run(ctx context.Context, runtime runtimeOptions, stdout, stderr io.Writer) int {
	switch {
	case runtime.convertPath != "" && runtime.reversePath != "":
		_, _ = fmt.Fprintln(stderr, "Error: -convert and -reverse cannot be combined")
		return exitUsage
	case runtime.convertPath != "":
		notifyUpdateAvailable(ctx, runtime, stderr)
		return runConvert(runtime, stdout, stderr)
	case runtime.reversePath != "":
		notifyUpdateAvailable(ctx, runtime, stderr)
		return runReverse(runtime, stdout, stderr)
	case runtime.checkUpdate:
		return runCheckUpdate(ctx, stdout, stderr)
	case runtime.update:
		return runUpdate(ctx, runtime, stdout, stderr)
	default:
		_, _ = fmt.Fprintln(stderr, "Usage: dbconv -convert displace.bin [-size 512|1024] [-format raw|png] [-out path]")
		_, _ = fmt.Fprintln(stderr, "       dbconv -reverse image.png|image.raw [-meta image.json] [-out displace.bin]")
		_, _ = fmt.Fprintln(stderr, "       dbconv -check-update | -update [-yes] [-no-restart]")
		return exitUsage
	}
}

type runtimeFlags struct {
	debug           *bool
	convert         *string
	size            *int
	format          *string
	out             *string
	reverse         *string
	meta            *string
	checkUpdate     *bool
	update          *bool
	yes             *bool
	noRestart       *bool
	skipUpdateCheck *bool
}

type runtimeOptions struct {
	debug           bool
	convertPath     string
	size            int
	format          heightmap.Format
	formatErr       error
	outPath         string
	reversePath     string
	metaPath        string
	checkUpdate     bool
	update          bool
	yes             bool
	noRestart       bool
	skipUpdateCheck bool
	interactive     bool
	relaunchArgs    []string
}

func computeRuntimeOptions(flags runtimeFlags, visited map[string]struct{}) runtimeOptions {
	opts := runtimeOptions{
		convertPath: strings.TrimSpace(*flags.convert),
		outPath:     strings.TrimSpace(*flags.out),
		reversePath: strings.TrimSpace(*flags.reverse),
		metaPath:    strings.TrimSpace(*flags.meta),
		checkUpdate: *flags.checkUpdate,
		update:      *flags.update,
		yes:         *flags.yes,
		noRestart:   *flags.noRestart,
		interactive: isTerminal(os.Stdout),
	}

	opts.debug = config.GetBool(config.KeyDebug)
	if flagWasExplicitlySet("debug", visited) {
		opts.debug = *flags.debug
	}

	opts.size = config.GetInt(config.KeyHeightmapSize)
	if flagWasExplicitlySet("size", visited) {
		opts.size = *flags.size
	}

	format := config.GetString(config.KeyHeightmapFormat)
	if flagWasExplicitlySet("format", visited) {
		format = *flags.format
	}
	opts.format, opts.formatErr = heightmap.ParseFormat(format)

	opts.skipUpdateCheck = config.GetBool(config.KeyUpdateSkipCheck)
	if flagWasExplicitlySet("skip-update-check", visited) {
		opts.skipUpdateCheck = *flags.skipUpdateCheck
	}

	return opts
}

func flagWasExplicitlySet(name string, visited map[string]struct{}) bool {
	if _, ok := visited[name]; ok {
		return true
	}
	f := flag.CommandLine.Lookup(name)
	if f == nil {
		return false
	}
	return f.Value.String() != f.DefValue
}

// isTerminal is a package variable so tests can force plain output.
var isTerminal = func(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
