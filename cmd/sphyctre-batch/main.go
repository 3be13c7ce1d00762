// Sphyctre Batch - run many simulation decks concurrently
// This program runs every deck matching the input patterns with a bounded
// number of simulators at a time and exports each successful run.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"sphyctre/internal/config"
	"sphyctre/internal/export"
	"sphyctre/internal/logging"
	"sphyctre/internal/simulator"
	"sphyctre/internal/version"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

var (
	cfgFile       string   // Configuration file path
	inputPatterns []string // Deck patterns (e.g., "decks/*.scs")
	verbose       bool     // Enable verbose logging
	showVersion   bool     // Show version information
	dryRun        bool     // Show what would be run without doing it
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sphyctre-batch [deck...]",
	Short: "Run many simulation decks concurrently",
	Long: `Sphyctre Batch runs every deck given as an argument or matching an --input
pattern, with at most --concurrency simulators at a time. Each successful run
is exported to the output directory; failures are reported at the end.

Example usage:
  sphyctre-batch --input "decks/*.scs"
  sphyctre-batch --input "corners/*.cir" --concurrency 8 --format json
  sphyctre-batch --input "*.scs" --dry-run --verbose`,
	Run: func(cmd *cobra.Command, args []string) {
		// Handle version flag
		if showVersion {
			fmt.Println(version.GetVersionInfo("Sphyctre Batch"))
			return
		}

		if err := runBatch(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	// Version flag
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	// Input/Output flags
	rootCmd.Flags().StringSliceVarP(&inputPatterns, "input", "i", nil, "deck file patterns (e.g., 'decks/*.scs')")
	rootCmd.Flags().StringP("format", "f", "", "output format (csv, json, yaml, raw, ascii)")
	rootCmd.Flags().StringP("output", "o", "", "output directory")

	// Run flags
	rootCmd.Flags().IntP("concurrency", "j", 0, "simulators running at once")
	rootCmd.Flags().StringP("simulator", "s", "", "simulator executable name or path")
	rootCmd.Flags().DurationP("timeout", "t", 0, "wall-clock limit per run (0 disables)")

	// Control flags
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be run without doing it")

	viper.BindPFlag("output.format", rootCmd.Flags().Lookup("format"))
	viper.BindPFlag("output.dir", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("batch.concurrency", rootCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("simulator.executable", rootCmd.Flags().Lookup("simulator"))
	viper.BindPFlag("simulator.timeout", rootCmd.Flags().Lookup("timeout"))
}

// runBatch is the main application logic
func runBatch(args []string) error {
	if _, err := config.ReadInConfig(viper.GetViper(), cfgFile); err != nil {
		return err
	}
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}

	if verbose {
		fmt.Printf("🔧 Configuration:\n")
		fmt.Printf("   Input Patterns: %s\n", strings.Join(inputPatterns, ", "))
		fmt.Printf("   Simulator: %s\n", cfg.Simulator.Executable)
		fmt.Printf("   Concurrency: %d\n", cfg.Batch.Concurrency)
		fmt.Printf("   Output Format: %s\n", format)
		fmt.Printf("   Output Directory: %s\n", cfg.Output.Dir)
		fmt.Printf("   Dry Run: %t\n\n", dryRun)
	}

	decks, err := findDecks(inputPatterns, args)
	if err != nil {
		return fmt.Errorf("failed to find input decks: %w", err)
	}
	if len(decks) == 0 {
		return fmt.Errorf("no decks found. Make sure:\n  - Pattern includes correct path (e.g., 'decks/*.scs')\n  - Pattern is quoted to prevent shell expansion")
	}

	fmt.Printf("📁 Found %d decks:\n", len(decks))
	for i, deck := range decks {
		fmt.Printf("   %d. %s\n", i+1, deck)
	}
	fmt.Println()

	outputs := outputNames(decks, format)
	if dryRun {
		fmt.Printf("🔍 DRY RUN: Would run %d decks, %d at a time\n", len(decks), cfg.Batch.Concurrency)
		fmt.Printf("📤 Would generate output in %s format to: %s\n", format, cfg.Output.Dir)
		return nil
	}

	logger, closeLog, err := logging.New(cfg.Logging, verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	fs := afero.NewOsFs()
	if err := fs.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			fmt.Printf("\nReceived interrupt signal, stopping simulators...\n")
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Printf("⚙️  Running %d decks, %d at a time...\n", len(decks), cfg.Batch.Concurrency)
	start := time.Now()
	orch := simulator.NewOrchestrator(logger)
	results, _ := orch.RunBatch(ctx, decks, cfg.SimulatorOptions(logger), cfg.Batch.Concurrency)
	if err := orch.Shutdown(); err != nil {
		logger.Warn("cleanup failed", "error", err)
	}

	var failed error
	succeeded := 0
	for i, r := range results {
		if r.Err != nil {
			fmt.Printf("❌ %s: %v\n", r.Deck, r.Err)
			failed = multierr.Append(failed, fmt.Errorf("%s: %w", r.Deck, r.Err))
			continue
		}
		outputFile := filepath.Join(cfg.Output.Dir, outputs[i])
		if err := export.WriteFile(fs, outputFile, format, r.Store.Plots()...); err != nil {
			fmt.Printf("❌ %s: %v\n", r.Deck, err)
			failed = multierr.Append(failed, fmt.Errorf("%s: %w", r.Deck, err))
			continue
		}
		succeeded++
		fmt.Printf("✅ %s → %s (%d plots)\n", r.Deck, outputFile, r.Store.Len())
	}

	// Display summary
	fmt.Printf("\n📊 Batch Summary:\n")
	fmt.Printf("   Decks: %d\n", len(decks))
	fmt.Printf("   Succeeded: %d\n", succeeded)
	fmt.Printf("   Failed: %d\n", len(decks)-succeeded)
	fmt.Printf("   Elapsed: %v\n", time.Since(start).Round(time.Millisecond))

	if failed != nil {
		return fmt.Errorf("%d of %d decks failed", len(multierr.Errors(failed)), len(decks))
	}
	return nil
}

// findDecks expands the patterns and adds explicit arguments, dropping
// duplicates and directories
func findDecks(patterns, args []string) ([]string, error) {
	seen := make(map[string]bool)
	var decks []string
	add := func(path string) {
		if info, err := os.Stat(path); err != nil || info.IsDir() || seen[path] {
			return
		}
		seen[path] = true
		decks = append(decks, path)
	}

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			add(m)
		}
	}
	for _, arg := range args {
		add(arg)
	}
	return decks, nil
}

// outputNames picks an export file name per deck. Decks sharing a base
// name get a numeric suffix.
func outputNames(decks []string, format export.Format) []string {
	names := make([]string, len(decks))
	used := make(map[string]int)
	for i, deck := range decks {
		name := export.Filename(deck, format)
		if n := used[name]; n > 0 {
			ext := format.Extension()
			names[i] = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n+1, ext)
		} else {
			names[i] = name
		}
		used[name]++
	}
	return names
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
