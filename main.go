// Sphyctre - circuit simulator runner
// This program runs a simulator on a netlist deck in a scratch directory,
// decodes the Nutmeg raw file it writes and exports the waveforms.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"sphyctre/internal/config"
	"sphyctre/internal/export"
	"sphyctre/internal/logging"
	"sphyctre/internal/simulator"
	"sphyctre/internal/version"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Command line flag variables
var (
	cfgFile     string // Configuration file path
	verbose     bool   // Enable verbose logging
	showVersion bool   // Show version information
	printConfig bool   // Print the effective configuration and exit
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sphyctre [deck]",
	Short: "Run a circuit simulation and export its waveforms",
	Long: `Sphyctre runs a circuit simulator (Spectre, ngspice or any tool writing
Nutmeg raw files) on a netlist deck, decodes the raw output and exports every
plot as CSV, JSON, a YAML summary or a raw file.

The simulator runs in a scratch directory and is stopped with SIGTERM, then
SIGKILL, when the timeout expires or the run is interrupted.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo("Sphyctre"))
			return
		}
		if err := runSimulation(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// init initializes the CLI flags and configuration
func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Command-specific flags
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")
	rootCmd.Flags().StringP("simulator", "s", "", "simulator executable name or path")
	rootCmd.Flags().StringSlice("args", nil, "simulator arguments ({deck}, {raw} and {workdir} are substituted)")
	rootCmd.Flags().DurationP("timeout", "t", 0, "wall-clock limit for the run (0 disables)")
	rootCmd.Flags().Duration("grace-period", 0, "time between SIGTERM and SIGKILL")
	rootCmd.Flags().StringP("output", "o", "", "output directory")
	rootCmd.Flags().StringP("format", "f", "", "output format (csv, json, yaml, raw, ascii)")
	rootCmd.Flags().String("byte-order", "", "binary byte order (auto, little, big)")
	rootCmd.Flags().Bool("keep-workdir", false, "keep the scratch directory after the run")

	// Bind command line flags to viper configuration keys
	viper.BindPFlag("simulator.executable", rootCmd.Flags().Lookup("simulator"))
	viper.BindPFlag("simulator.args", rootCmd.Flags().Lookup("args"))
	viper.BindPFlag("simulator.timeout", rootCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("simulator.grace_period", rootCmd.Flags().Lookup("grace-period"))
	viper.BindPFlag("simulator.keep_workdir", rootCmd.Flags().Lookup("keep-workdir"))
	viper.BindPFlag("output.dir", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("output.format", rootCmd.Flags().Lookup("format"))
	viper.BindPFlag("raw.byte_order", rootCmd.Flags().Lookup("byte-order"))
}

// loadConfig reads the config file, environment and flags
func loadConfig() (*config.Config, error) {
	used, err := config.ReadInConfig(viper.GetViper(), cfgFile)
	if err != nil {
		return nil, err
	}
	if used != "" && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", used)
	}
	return config.Load(viper.GetViper())
}

// runSimulation is the main application logic
func runSimulation(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if printConfig {
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	}
	if len(args) == 0 {
		return fmt.Errorf("deck required")
	}
	deck := args[0]

	logger, closeLog, err := logging.New(cfg.Logging, verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	format, err := export.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}

	// Display startup information
	fmt.Printf("Sphyctre starting...\n")
	fmt.Printf("Deck: %s\n", deck)
	fmt.Printf("Simulator: %s\n", cfg.Simulator.Executable)
	if cfg.Simulator.Timeout > 0 {
		fmt.Printf("Timeout: %v\n", cfg.Simulator.Timeout)
	}
	fmt.Printf("Output: %s (%s)\n", cfg.Output.Dir, format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch := simulator.NewOrchestrator(logger)

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Handle interrupt signals in a separate goroutine
	go func() {
		select {
		case <-sigChan:
			fmt.Printf("\nReceived interrupt signal, stopping simulator...\n")
			cancel()
		case <-ctx.Done():
		}
	}()

	store, err := orch.Run(ctx, deck, cfg.SimulatorOptions(logger))
	if shutdownErr := orch.Shutdown(); shutdownErr != nil {
		logger.Warn("cleanup failed", "error", shutdownErr)
	}
	if err != nil {
		var exitErr *simulator.ExitError
		if errors.As(err, &exitErr) && exitErr.Stderr != "" {
			logger.Debug("simulator stderr", "output", exitErr.Stderr)
		}
		return fmt.Errorf("simulation failed: %w", err)
	}

	fs := afero.NewOsFs()
	if err := fs.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	outputFile := filepath.Join(cfg.Output.Dir, export.Filename(deck, format))

	fmt.Printf("📤 Exporting %d plot(s) to %s...\n", store.Len(), outputFile)
	if err := export.WriteFile(fs, outputFile, format, store.Plots()...); err != nil {
		return fmt.Errorf("failed to export results: %w", err)
	}

	for _, name := range store.Names() {
		p, _ := store.Get(name)
		fmt.Printf("   %s: %d variables, %d points\n", name, len(p.Variables), p.Rows())
	}
	fmt.Printf("Simulation completed successfully.\n")
	return nil
}

// main is the entry point of the application
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
