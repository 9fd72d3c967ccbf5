package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"panostitch/internal/models"
	"panostitch/internal/workspace"
	"panostitch/pkg/config"
	"panostitch/pkg/metadata"
	"panostitch/pkg/report"
	"panostitch/pkg/stitch"
)

type options struct {
	width      int
	height     int
	output     string
	configPath string
	workers    int
	projection string
	blendMode  string
	tempDir    string
	keepTemp   bool
	saveFrames bool
	plots      string
	verbose    bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		var cfgErr *models.ConfigurationError
		if errors.As(err, &cfgErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

func newRootCmd() *cobra.Command {
	var opts options

	root := &cobra.Command{
		Use:   "panostitch <folder>",
		Short: "Stitch a grid of camera rig frames into one panorama",
		Long: `panostitch stitches the frames of a multi-row camera rig into a single
panorama. Frames are named by grid position (for example r0_c3.jpg) or listed
in a rig.yaml or rig.toml manifest inside the folder.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], &opts)
		},
	}

	f := root.Flags()
	f.IntVar(&opts.width, "width", 0, "output width in pixels (0 keeps the native size)")
	f.IntVar(&opts.height, "height", 0, "output height in pixels (0 keeps the native size)")
	f.StringVarP(&opts.output, "output", "o", "output.jpg", "output image (.jpg, .png or .tif)")
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML or TOML configuration file")
	f.IntVar(&opts.workers, "workers", 0, "parallel workers per stage (0 uses the configuration)")
	f.StringVar(&opts.projection, "projection", "", "cylindrical, spherical or planar")
	f.StringVar(&opts.blendMode, "blend", "", "feather, twoband or average")
	f.StringVar(&opts.tempDir, "temp-dir", "", "parent of the job workspace (defaults to the system temp directory)")
	f.BoolVar(&opts.keepTemp, "keep-temp", false, "keep the job workspace after exit")
	f.BoolVar(&opts.saveFrames, "save-frames", false, "write projected frames to the workspace")
	f.StringVar(&opts.plots, "plots", "", "directory for coverage and focal plots")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newInitConfigCmd())
	return root
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write the default configuration to a YAML or TOML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", args[0])
			return nil
		},
	}
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return nil, &models.ConfigurationError{Field: "config", Row: -1, Column: -1, Err: err}
		}
		cfg = loaded
	}
	if opts.workers > 0 {
		cfg.Processing.NumWorkers = opts.workers
	}
	if opts.projection != "" {
		cfg.Processing.Projection = opts.projection
	}
	if opts.blendMode != "" {
		cfg.Blending.Mode = opts.blendMode
	}
	if opts.saveFrames {
		cfg.Output.SaveIntermediaryResults = true
	}
	if opts.verbose {
		cfg.Output.Verbose = true
	}
	return cfg, nil
}

// displayPath returns the absolute form of path for logs, or path itself
// when it cannot be resolved.
func displayPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func run(cmd *cobra.Command, folder string, opts *options) (err error) {
	level := log.InfoLevel
	if opts.verbose {
		level = log.DebugLevel
	}
	logger := newLogger(os.Stderr, level)
	defer func() {
		if err != nil {
			logger.Error("Stitch failed", "err", err)
		}
	}()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if cfg.Output.Verbose {
		logger.SetLevel(log.DebugLevel)
	}

	start := time.Now()
	layout, frames, err := metadata.Load(folder, stitch.MetadataOptions(cfg, opts.width, opts.height))
	if err != nil {
		return err
	}
	logger.Info("Loaded rig", "folder", folder, "rows", layout.Rows, "frames", len(frames),
		"elapsed", time.Since(start).Round(time.Millisecond))

	ws, err := workspace.Acquire(opts.tempDir, opts.keepTemp)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ws.Close(); cerr != nil {
			logger.Warn("Failed to clean up workspace", "dir", ws.Dir(), "err", cerr)
		}
	}()
	if opts.keepTemp {
		logger.Info("Keeping workspace", "dir", ws.Dir())
	}

	stitcher, err := stitch.New(cfg, logger, ws)
	if err != nil {
		return err
	}
	res, err := stitcher.Run(cmd.Context(), layout, frames)
	if err != nil {
		return err
	}

	if err := workspace.WriteImage(opts.output, res.Image, cfg.Output.JPEGQuality); err != nil {
		return err
	}
	logger.Info("Panorama written", "path", displayPath(opts.output),
		"size", fmt.Sprintf("%dx%d", res.Image.Bounds().Dx(), res.Image.Bounds().Dy()))

	if opts.plots != "" {
		paths, err := report.Write(opts.plots, res.Quality.Coverage, res.Focals)
		if err != nil {
			logger.Warn("Failed to write plots", "err", err)
		}
		for _, p := range paths {
			logger.Info("Plot written", "path", p)
		}
	}

	for _, note := range res.Quality.Notes() {
		logger.Warn("Quality", "note", note)
	}
	logger.Info("Done", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
