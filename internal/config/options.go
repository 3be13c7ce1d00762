package config

import (
	"log/slog"

	"sphyctre/internal/nutraw"
	"sphyctre/internal/simulator"
	"sphyctre/internal/watcher"
)

// byteOrder is only called on validated configurations
func (c *Config) byteOrder() nutraw.Endian {
	e, _ := nutraw.ParseEndian(c.Raw.ByteOrder)
	return e
}

// SimulatorOptions maps the simulator section onto run options
func (c *Config) SimulatorOptions(logger *slog.Logger) simulator.Options {
	s := c.Simulator
	return simulator.Options{
		Executable:  s.Executable,
		Args:        s.Args,
		SearchPath:  s.SearchPath,
		EnvVar:      s.EnvVar,
		Env:         s.Env,
		RawFile:     s.RawFile,
		Timeout:     s.Timeout,
		GracePeriod: s.GracePeriod,
		OutputLimit: s.OutputLimit,
		TempDir:     s.TempDir,
		KeepWorkDir: s.KeepWorkDir,
		ByteOrder:   c.byteOrder(),
		Logger:      logger,
	}
}

// ReadOptions maps the raw section onto file read options
func (c *Config) ReadOptions(logger *slog.Logger) nutraw.ReadOptions {
	return nutraw.ReadOptions{
		ByteOrder:    c.byteOrder(),
		AllowPartial: c.Raw.AllowPartial,
		Logger:       logger,
	}
}

// WatchOptions maps the watch section onto watcher options
func (c *Config) WatchOptions(logger *slog.Logger) watcher.Options {
	return watcher.Options{
		ByteOrder:    c.byteOrder(),
		PollInterval: c.Watch.PollInterval,
		ChunkSize:    c.Watch.ChunkSize,
		NoNotify:     c.Watch.NoNotify,
		Logger:       logger,
	}
}
