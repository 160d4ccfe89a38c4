package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/platformsre/patchrun/internal/helpers"
	"github.com/platformsre/patchrun/internal/ui"
	"github.com/spf13/cobra"
)

var (
	serverList  string
	serverFile  string
	configPath  string
	autoConfirm bool

	pingOnly       bool
	skipQuiesce    bool
	skipPatch      bool
	skipReboot     bool
	skipRelease    bool
	skipPrechecks  bool
	recheckUpdates bool
	stopService    string

	rootCmd = &cobra.Command{
		Use:   "maintain",
		Short: "Fleet patch deployment and maintenance gating",
		Long: `A CLI tool for patching database-backed application servers:
fleet validation, database quiescence, patch installation tracking,
coordinated reboots and post-deployment release.`,
		RunE: runMaintenance,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return helpers.ValidateFlags(&helpers.FlagConfig{
				Servers:    serverList,
				ServerFile: serverFile,
				ConfigPath: configPath,
			})
		},
	}
)

func Execute() {
	c := make(chan os.Signal, 1)

	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		os.Exit(1)
	}()

	rootCmd.SilenceErrors = false
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverList, "servers", "", "Comma-separated list of servers to maintain")
	rootCmd.PersistentFlags().StringVar(&serverFile, "server-file", "", "File with one server per line")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./config.json", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&autoConfirm, "yes", false, "Skip confirmation prompts")

	rootCmd.Flags().BoolVar(&pingOnly, "ping-only", false, "Validate reachability only, then exit")
	rootCmd.Flags().BoolVar(&skipQuiesce, "skip-quiesce", false, "Skip the database quiescence stage")
	rootCmd.Flags().BoolVar(&skipPatch, "skip-patch", false, "Skip patch dispatch and monitoring")
	rootCmd.Flags().BoolVar(&skipReboot, "skip-reboot", false, "Skip the reboot stage")
	rootCmd.Flags().BoolVar(&skipRelease, "skip-release", false, "Skip the post-deployment release stage")
	rootCmd.Flags().BoolVar(&skipPrechecks, "skip-prechecks", false, "Reboot without waiting for the job scheduler")
	rootCmd.Flags().BoolVar(&recheckUpdates, "recheck-updates", false, "Re-check outstanding updates after reboot")
	rootCmd.Flags().StringVar(&stopService, "stop-service", "", "Extra service to stop before reboot")
}

func runMaintenance(cmd *cobra.Command, args []string) error {
	ui.PrintBanner(true)

	pipeline, err := newPipeline()
	if err != nil {
		return err
	}
	defer pipeline.Close()

	if err := pipeline.Run(cmd.Context()); err != nil {
		return fmt.Errorf("maintenance run failed: %v", err)
	}
	return nil
}
