// Command iotcore is a minimal demo binary for the component framework:
// it boots one named container from a directory of YAML declarations,
// starts it, and runs until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iotech/iotcore/pkg/config"
	"github.com/iotech/iotcore/pkg/container"
	"github.com/iotech/iotcore/pkg/log"
	"github.com/iotech/iotcore/pkg/scheduler"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "iotcore",
	Short: "iotcore - component container framework demo",
	Long: `iotcore boots a named container of components from a directory of
YAML declarations, runs it to completion, and tears it down cleanly
on interrupt.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"iotcore version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	// The IOT::Scheduler factory is registered here (the built-in Logger
	// factory registers itself in pkg/container's init) so any container
	// declaration can reference both by type, mirroring the way warren
	// composes its subsystems in main().
	scheduler.Register()

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a container built from a directory of YAML declarations",
	Long: `run allocates a container under --container, loads its declaration
and every named component's configuration from --config-dir
(expects "<name>.yaml" per component, plus a "<container>.yaml"
declaration listing them in start order), starts it, and blocks
until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("container")
		dir, _ := cmd.Flags().GetString("config-dir")

		cont, err := container.Alloc(name)
		if err != nil {
			return fmt.Errorf("failed to allocate container: %w", err)
		}
		defer container.Free(cont)

		if err := cont.Init(config.FileLoader{Dir: dir}); err != nil {
			return fmt.Errorf("failed to load container %q: %w", name, err)
		}

		cont.Start()
		log.Info(fmt.Sprintf("container %q running", name))

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Info(fmt.Sprintf("stopping container %q", name))
		cont.Stop()
		return nil
	},
}

func init() {
	runCmd.Flags().String("container", "", "Container name (required)")
	runCmd.Flags().String("config-dir", "./config", "Directory holding <name>.yaml declarations")
	runCmd.MarkFlagRequired("container")
}
