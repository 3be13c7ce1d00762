// Sphyctre Reader - Utility to display and convert Nutmeg raw files
// This program prints plot headers, variable statistics and ASCII graphs
// from raw files, and converts them to CSV, JSON, YAML or another raw encoding.
package main

import (
	"fmt"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"strings"

	"sphyctre/internal/export"
	"sphyctre/internal/logging"
	"sphyctre/internal/nutraw"
	"sphyctre/internal/version"
	"sphyctre/internal/waveform"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	showStats    bool
	outputFormat string
	convertPath  string
	byteOrder    string
	allowPartial bool
	graphVar     string
	graphPlot    string
	graphWidth   int
	graphHeight  int
	showVersion  bool
	verbose      bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sphyctre-reader [file.raw]",
	Short: "Display contents of Nutmeg raw files",
	Long: `Sphyctre Reader displays the plot headers and waveform data of Nutmeg raw
files written by Spectre, ngspice and compatible simulators.

Display modes:
  --stats      Show min, max and final value of every variable
  --graph      Generate ASCII graph of one variable over the sweep
  --format     Print the decoded data as csv, json or yaml instead of a table
  --convert    Write the decoded plots to a file (format from the extension)`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		// Handle version flag
		if showVersion {
			fmt.Println(version.GetVersionInfo("Sphyctre Reader"))
			return
		}

		// Require filename if not showing version
		if len(args) == 0 {
			fmt.Fprintf(os.Stderr, "Error: filename required\n")
			cmd.Usage()
			os.Exit(1)
		}

		if err := displayFile(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().BoolVar(&showStats, "stats", false, "show statistics of every variable")
	rootCmd.Flags().StringVarP(&outputFormat, "format", "f", "table", "output format (table, csv, json, yaml)")
	rootCmd.Flags().StringVarP(&convertPath, "convert", "o", "", "convert to file (.csv, .json, .yaml, .raw)")
	rootCmd.Flags().StringVar(&byteOrder, "byte-order", "auto", "binary byte order (auto, little, big)")
	rootCmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "keep plots cut short by a truncated file")
	rootCmd.Flags().StringVarP(&graphVar, "graph", "g", "", "generate ASCII graph of the named variable")
	rootCmd.Flags().StringVar(&graphPlot, "graph-plot", "", "plot holding the graphed variable (default first plot)")
	rootCmd.Flags().IntVar(&graphWidth, "graph-width", 80, "width of the ASCII graph in characters")
	rootCmd.Flags().IntVar(&graphHeight, "graph-height", 20, "height of the ASCII graph in lines")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log decoding details")
}

// displayFile reads and displays the contents of a raw file
func displayFile(filename string) error {
	fs := afero.NewOsFs()
	fileInfo, err := fs.Stat(filename)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	endian, err := nutraw.ParseEndian(byteOrder)
	if err != nil {
		return err
	}
	level := "warn"
	if verbose {
		level = "debug"
	}
	opts := nutraw.ReadOptions{
		ByteOrder:    endian,
		AllowPartial: allowPartial,
		Logger:       logging.NewLogger(level, "text", os.Stderr),
	}

	format := strings.ToLower(outputFormat)
	if format != "table" {
		f, err := export.ParseFormat(format)
		if err != nil {
			return err
		}
		store, _, err := nutraw.ReadFile(fs, filename, opts)
		if err != nil {
			return err
		}
		return export.Write(os.Stdout, f, store.Plots()...)
	}

	fmt.Printf("📁 File Information:\n")
	fmt.Printf("Name: %s\n", filepath.Base(filename))
	fmt.Printf("Size: %.2f MB (%d bytes)\n", float64(fileInfo.Size())/(1024*1024), fileInfo.Size())
	fmt.Printf("Modified: %s\n\n", fileInfo.ModTime().Format("2006-01-02 15:04:05"))

	headers, err := nutraw.ReadHeaders(fs, filename)
	for i, h := range headers {
		displayHeader(i, h)
	}
	if err != nil {
		return err
	}
	if len(headers) == 0 {
		fmt.Printf("⚠️  No plots found\n")
		return nil
	}

	if !showStats && graphVar == "" && convertPath == "" {
		return nil
	}

	store, status, err := nutraw.ReadFile(fs, filename, opts)
	if err != nil {
		return err
	}
	if status == nutraw.StatusTruncated {
		fmt.Printf("⚠️  File is truncated, the last plot is incomplete\n\n")
	}

	if showStats {
		for _, p := range store.Plots() {
			displayStats(export.Summarize(p))
		}
	}

	if graphVar != "" {
		if err := displayGraph(store); err != nil {
			return err
		}
	}

	if convertPath != "" {
		f := export.FormatFromPath(convertPath)
		if err := export.WriteFile(fs, convertPath, f, store.Plots()...); err != nil {
			return fmt.Errorf("failed to convert: %w", err)
		}
		fmt.Printf("📤 Wrote %d plot(s) as %s to %s\n", store.Len(), f, convertPath)
	}
	return nil
}

// displayHeader shows one plot header
func displayHeader(index int, h *nutraw.Header) {
	fmt.Printf("📊 Plot %d: %s\n", index+1, h.Plotname)
	if h.Title != "" {
		fmt.Printf("Title: %s\n", h.Title)
	}
	if h.Date != "" {
		fmt.Printf("Date: %s\n", h.Date)
	}
	fmt.Printf("Analysis: %s\n", waveform.AnalysisFromPlotname(h.Plotname))
	fmt.Printf("Flags: %s\n", strings.Join(h.Flags, " "))
	fmt.Printf("Encoding: %s\n", h.Encoding)
	fmt.Printf("Points: %d\n", h.NumPoints)
	fmt.Printf("Header Offset: %d (line %d)\n", h.Offset, h.Line)
	if h.Encoding == waveform.EncodingBinary {
		fmt.Printf("Data Size: %.2f MB\n", float64(h.NumPoints)*float64(h.RowWidth())/(1024*1024))
	}

	fmt.Printf("Variables (%d):\n", len(h.Variables))
	for _, v := range h.Variables {
		fmt.Printf("  %4d  %-24s %-12s %s\n", v.Index, v.Name, v.RawType, v.Unit)
	}
	fmt.Println()
}

// displayStats shows the value range of every variable in a plot
func displayStats(s export.Summary) {
	fmt.Printf("📈 Statistics: %s (%d points)\n", s.Name, s.Points)
	if s.Complex {
		fmt.Printf("Complex values are summarised by magnitude\n")
	}
	fmt.Printf("  %-24s %14s %14s %14s\n", "Variable", "Min", "Max", "Final")
	for _, v := range s.Variables {
		fmt.Printf("  %-24s %14.6g %14.6g %14.6g %s\n", v.Name, v.Min, v.Max, v.Final, v.Unit)
	}
	fmt.Println()
}

// displayGraph draws the selected variable against the sweep variable
func displayGraph(store *waveform.Store) error {
	if graphWidth < 2 || graphHeight < 2 {
		return fmt.Errorf("graph must be at least 2x2, got %dx%d", graphWidth, graphHeight)
	}
	name := graphPlot
	if name == "" {
		names := store.Names()
		if len(names) == 0 {
			return fmt.Errorf("no plots to graph")
		}
		name = names[0]
	}
	p, err := store.Get(name)
	if err != nil {
		return err
	}
	v, err := p.Variable(graphVar)
	if err != nil {
		return err
	}

	var values []float64
	if p.Complex {
		data, err := p.ComplexData(v.Name)
		if err != nil {
			return err
		}
		values = make([]float64, len(data))
		for i, c := range data {
			values[i] = cmplx.Abs(c)
		}
	} else if values, err = p.Real(v.Name); err != nil {
		return err
	}
	sweep := p.Data.Sweep()

	if len(values) == 0 {
		fmt.Printf("📈 Graph: No points to display\n\n")
		return nil
	}

	minVal, maxVal := math.Inf(1), math.Inf(-1)
	for _, x := range values {
		if math.IsNaN(x) {
			continue
		}
		minVal = math.Min(minVal, x)
		maxVal = math.Max(maxVal, x)
	}
	if math.IsInf(minVal, 1) {
		fmt.Printf("📈 Graph: No finite values to display\n\n")
		return nil
	}

	// Handle edge case where all values are the same
	if maxVal == minVal {
		maxVal = minVal + 1e-6
	}

	fmt.Printf("📈 %s over %s:\n", v.Name, p.Variables[0].Name)
	fmt.Printf("Plot: %s | Points: %d", p.Name, len(values))
	if len(sweep) > 0 {
		fmt.Printf(" | Sweep: %g to %g %s", sweep[0], sweep[len(sweep)-1], p.Variables[0].Unit)
	}
	fmt.Printf("\nRange: %g to %g %s\n\n", minVal, maxVal, v.Unit)

	// Create graph grid
	graph := make([][]rune, graphHeight)
	for i := range graph {
		graph[i] = []rune(strings.Repeat(" ", graphWidth))
	}

	for i, x := range values {
		if math.IsNaN(x) {
			continue
		}
		col := 0
		if len(values) > 1 {
			col = i * (graphWidth - 1) / (len(values) - 1)
		}

		// Inverted because rows are drawn top to bottom
		normalized := (x - minVal) / (maxVal - minVal)
		row := int(float64(graphHeight-1) * (1.0 - normalized))
		row = max(0, min(graphHeight-1, row))

		if graph[row][col] == ' ' {
			graph[row][col] = '*'
		} else {
			graph[row][col] = '#' // Multiple points at same location
		}
	}

	for i, line := range graph {
		level := minVal + float64(graphHeight-1-i)/float64(graphHeight-1)*(maxVal-minVal)
		fmt.Printf("%10.4g |%s|\n", level, string(line))
	}
	fmt.Printf("           +%s+\n\n", strings.Repeat("-", graphWidth))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
