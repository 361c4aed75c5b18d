package main

import (
	"fmt"
	"log/slog"

	"feature-align/internal/config"
	"feature-align/internal/logging"
	"feature-align/internal/version"

	"github.com/spf13/cobra"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string
}

// load returns the configuration with persistent flag overrides applied and
// a logger writing to the command's error stream.
func (g *globals) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg := config.Default()
	if g.configPath != "" {
		loaded, err := config.Load(g.configPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = g.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Logging.Format = g.logFormat
	}
	return cfg, logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr()), nil
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:   "imgalign",
		Short: "Feature-based image registration",
		Long: `imgalign detects keypoints in two images, matches their descriptors,
estimates a homography robust to outlier matches and warps the first image
into the frame of the second.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "JSON configuration file")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format (text|json)")

	rootCmd.AddCommand(newAlignCmd(g))
	rootCmd.AddCommand(newCompareCmd(g))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
