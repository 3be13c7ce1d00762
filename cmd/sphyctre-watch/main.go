// Sphyctre Watch - live monitor for Nutmeg raw files
// This program follows a raw file while a simulator writes it, reporting
// plots and points as they appear, and exports the completed plots on exit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sphyctre/internal/config"
	"sphyctre/internal/export"
	"sphyctre/internal/logging"
	"sphyctre/internal/nutraw"
	"sphyctre/internal/version"
	"sphyctre/internal/watcher"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	verbose     bool
	showVersion bool
	exportPath  string
	duration    time.Duration
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sphyctre-watch [file.raw]",
	Short: "Follow a Nutmeg raw file while it is written",
	Long: `Sphyctre Watch decodes a raw file incrementally while a simulator writes it.
New plots and points are reported as they appear. When the file is replaced
or truncated decoding restarts; plots completed earlier are kept.

Stop with Ctrl-C, or use --duration. With --export the completed plots are
written to a file when watching stops.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo("Sphyctre Watch"))
			return
		}
		if len(args) == 0 {
			fmt.Fprintf(os.Stderr, "Error: filename required\n")
			cmd.Usage()
			os.Exit(1)
		}
		if err := runWatch(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().StringVarP(&exportPath, "export", "o", "", "export completed plots to file on exit (.csv, .json, .yaml, .raw)")
	rootCmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (0 watches until interrupted)")
	rootCmd.Flags().Duration("poll-interval", 0, "polling period alongside file notifications")
	rootCmd.Flags().Bool("no-notify", false, "poll only, without file notifications")
	rootCmd.Flags().String("byte-order", "", "binary byte order (auto, little, big)")

	viper.BindPFlag("watch.poll_interval", rootCmd.Flags().Lookup("poll-interval"))
	viper.BindPFlag("watch.no_notify", rootCmd.Flags().Lookup("no-notify"))
	viper.BindPFlag("raw.byte_order", rootCmd.Flags().Lookup("byte-order"))
}

func runWatch(path string) error {
	if _, err := config.ReadInConfig(viper.GetViper(), cfgFile); err != nil {
		return err
	}
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, closeLog, err := logging.New(cfg.Logging, verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			fmt.Printf("\nReceived interrupt signal, stopping...\n")
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Printf("👀 Watching %s\n", filepath.Clean(path))
	store, err := watcher.Watch(ctx, path, cfg.WatchOptions(logger), report)
	if err != nil {
		return err
	}

	fmt.Printf("\n%d plot(s) completed\n", store.Len())
	if exportPath == "" || store.Len() == 0 {
		return nil
	}
	format := export.FormatFromPath(exportPath)
	if err := export.WriteFile(afero.NewOsFs(), exportPath, format, store.Plots()...); err != nil {
		return fmt.Errorf("failed to export results: %w", err)
	}
	fmt.Printf("📤 Exported %d plot(s) as %s to %s\n", store.Len(), format, exportPath)
	return nil
}

// report prints one watcher update
func report(u watcher.Update) {
	if u.Restarted {
		fmt.Printf("🔄 File replaced or truncated, decoding from the start\n")
	}
	for _, ev := range u.Events {
		switch ev.Kind {
		case nutraw.EventHeader:
			fmt.Printf("📊 Plot %d: %s (%d variables, %d points declared)\n",
				ev.Index+1, ev.Name, len(ev.Plot.Variables), ev.Plot.Points)
		case nutraw.EventRows:
			rows := ev.Rows.Rows()
			last := ev.FirstRow + rows
			if sweep := ev.Rows.Sweep(); len(sweep) > 0 {
				fmt.Printf("   %s: %d points (sweep at %g)\n", ev.Name, last, sweep[len(sweep)-1])
			} else {
				fmt.Printf("   %s: %d points\n", ev.Name, last)
			}
		case nutraw.EventComplete:
			fmt.Printf("✅ %s complete (%s)\n", ev.Name, ev.Status)
		}
	}
	if u.Err != nil {
		fmt.Printf("❌ Decoding stopped at byte %d: %v\n", u.Offset, u.Err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
