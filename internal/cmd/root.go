package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dendrascience/shallfs/config"
	"github.com/dendrascience/shallfs/version"
)

// globals holds the persistent flags and the configuration they select.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string
	cfg        config.Config
}

// load reads the configuration file and sets up logging. Flags given on the
// command line win over the file.
func (g *globals) load(cmd *cobra.Command) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = g.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	g.cfg = cfg
	return setUpLogging(cfg.Log.Level, cfg.Log.Format)
}

func setUpLogging(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// NewRootCmd creates and returns the root cobra command for the shallfs CLI.
// It sets up all subcommands, command groups, and basic configuration.
func NewRootCmd() *cobra.Command {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:   "shallfs",
		Short: "shallfs - An audited pass-through filesystem with a circular journal",
		Long: `shallfs mirrors a directory through FUSE and records every change made
through the mount in a crash-consistent circular journal on a block device.

Use subcommands to perform different operations:
  - mount: Serve a directory at a mountpoint, journaling to a device
  - mkfs: Write an empty journal to a device
  - fsck: Check and repair an unmounted journal
  - read: Print or extract the records of an unmounted journal
  - info, log, ctrl: Talk to a mounted journal`,
		Version:       version.GetFullVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&g.configPath, "config", config.DefaultPath, "Path to the configuration file")
	flags.StringVar(&g.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.StringVar(&g.logFormat, "log-format", "text", "Log format (text or json)")

	groupMaintenance := "maintenance"
	groupFilesystem := "filesystem"

	// Add command groups for better organization
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupFilesystem,
		Title: "Filesystem Operations",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupMaintenance,
		Title: "Journal Maintenance",
	})

	for _, c := range []*cobra.Command{
		NewMountCmd(g),
		NewInfoCmd(g),
		NewLogCmd(g),
		NewCtrlCmd(g),
	} {
		c.GroupID = groupFilesystem
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{
		NewMkfsCmd(),
		NewFsckCmd(),
		NewReadCmd(),
		NewTuneCmd(),
	} {
		c.GroupID = groupMaintenance
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}
