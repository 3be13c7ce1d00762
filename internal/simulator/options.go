package simulator

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"sphyctre/internal/nutraw"
)

// DefaultArgs asks a Spectre-compatible simulator for a binary raw file
var DefaultArgs = []string{"-format", "nutbin", "-raw", "{raw}", "{deck}"}

const (
	DefaultEnvVar      = "SPHYCTRE_SIMULATOR"
	DefaultRawFile     = "output.raw"
	DefaultGracePeriod = 5 * time.Second
)

// Options configure one simulator invocation
type Options struct {
	Executable string   // Name or path of the simulator binary
	Args       []string // Passed through except for {deck}, {raw} and {workdir}
	SearchPath []string // Directories searched before $PATH
	EnvVar     string   // Environment variable that overrides a relative Executable
	Env        []string // Extra KEY=VALUE entries for the simulator environment

	RawFile     string        // Raw output path, relative to the work directory unless absolute
	Timeout     time.Duration // Zero disables the timeout
	GracePeriod time.Duration // Time between SIGTERM and SIGKILL
	OutputLimit int           // Bytes of stdout and stderr kept per stream

	TempDir     string // Parent of the scratch directory (empty means the system default)
	KeepWorkDir bool   // Leave the scratch directory behind on Close

	ByteOrder nutraw.Endian
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Args == nil {
		o.Args = DefaultArgs
	}
	if o.EnvVar == "" {
		o.EnvVar = DefaultEnvVar
	}
	if o.RawFile == "" {
		o.RawFile = DefaultRawFile
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.OutputLimit <= 0 {
		o.OutputLimit = defaultOutputLimit
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// expandArgs substitutes the placeholders and appends the deck when no
// argument mentions it
func expandArgs(args []string, deck, raw, workDir string) []string {
	r := strings.NewReplacer("{deck}", deck, "{raw}", raw, "{workdir}", workDir)
	out := make([]string, 0, len(args)+1)
	hasDeck := false
	for _, a := range args {
		if strings.Contains(a, "{deck}") {
			hasDeck = true
		}
		out = append(out, r.Replace(a))
	}
	if !hasDeck {
		out = append(out, deck)
	}
	return out
}

// resolveExecutable finds the simulator binary. An absolute Executable is
// used as given; otherwise the environment variable wins, then SearchPath,
// then $PATH.
func resolveExecutable(fs afero.Fs, opts Options) (string, error) {
	name := opts.Executable
	if filepath.IsAbs(name) {
		return checkExecutable(fs, name)
	}
	if opts.EnvVar != "" {
		if v := os.Getenv(opts.EnvVar); v != "" {
			if filepath.IsAbs(v) {
				return checkExecutable(fs, v)
			}
			name = v
		}
	}
	if name == "" {
		return "", errors.New("no simulator executable configured")
	}
	if strings.ContainsRune(name, filepath.Separator) {
		abs, err := filepath.Abs(name)
		if err != nil {
			return "", err
		}
		return checkExecutable(fs, abs)
	}
	for _, dir := range opts.SearchPath {
		if dir == "" {
			continue
		}
		if p, err := checkExecutable(fs, filepath.Join(dir, name)); err == nil {
			return p, nil
		}
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("simulator %q not found in search path or $PATH: %w", name, err)
	}
	return p, nil
}

func checkExecutable(fs afero.Fs, path string) (string, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%s is not an executable file", path)
	}
	return path, nil
}
