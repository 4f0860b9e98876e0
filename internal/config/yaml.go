// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"specstream/internal/analysis"
	applog "specstream/internal/log"
	"specstream/internal/spectrogram"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the application configuration, loaded from YAML.
type Config struct {
	Debug     bool             `yaml:"debug"`
	LogLevel  string           `yaml:"log_level"`
	STFT      spectrogram.STFT `yaml:"stft"`
	StartTime float64          `yaml:"start_time"` // seconds; initial read position
	Engine    EngineConfig     `yaml:"engine"`
	Source    SourceConfig     `yaml:"source"`
	Audio     AudioConfig      `yaml:"audio"`
	Recording RecordingConfig  `yaml:"recording"`
	Transport TransportConfig  `yaml:"transport"`
	Export    ExportConfig     `yaml:"export"`
}

// EngineConfig tunes the fill worker and the column buffer.
type EngineConfig struct {
	ChunkColumns   int           `yaml:"chunk_columns"`      // columns per fill step
	MarginColumns  int           `yaml:"margin_columns"`     // guard band at each window edge
	ShiftUnit      int           `yaml:"shift_unit_columns"` // window shifts are multiples of this
	MemoryBudgetMB int           `yaml:"memory_budget_mb"`   // column storage budget
	MemoryFraction float64       `yaml:"memory_fraction"`    // cap as share of available memory, 0 disables
	MaxColumns     int           `yaml:"max_columns"`        // hard capacity cap, 0 for none
	ReadyAttempts  int           `yaml:"ready_attempts"`     // polls before the source counts as missing
	RangeAttempts  int           `yaml:"range_attempts"`     // polls before a chunk is abandoned
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// SourceConfig selects a file input. An empty Input means live capture.
type SourceConfig struct {
	Input        string        `yaml:"input"`
	ChunkSamples int           `yaml:"chunk_samples"`
	Throttle     time.Duration `yaml:"throttle"` // pause between chunks to emulate a live stream
}

// AudioConfig holds PortAudio capture settings.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"` // -1 for the default device
	SampleRate      float64 `yaml:"sample_rate"`
	FramesPerBuffer int     `yaml:"frames_per_buffer"`
	InputChannels   int     `yaml:"input_channels"`
	LowLatency      bool    `yaml:"low_latency"`
}

// RecordingConfig controls WAV recording of live capture.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
	BitDepth  int    `yaml:"bit_depth"`
}

// TransportConfig holds the renderer endpoints.
type TransportConfig struct {
	WSAddress        string        `yaml:"ws_address"` // empty disables the websocket server
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"`
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
}

// ExportConfig controls the parquet export.
type ExportConfig struct {
	Output      string `yaml:"output"`
	Compression string `yaml:"compression"` // snappy, zstd, gzip or none
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		STFT: spectrogram.STFT{
			WindowSize:     DefaultWindowSize,
			HopLength:      DefaultHopLength,
			WindowFunction: analysis.Hann,
			Backend:        analysis.BackendGonum,
		},
		Engine: EngineConfig{
			ChunkColumns:   DefaultChunkColumns,
			MarginColumns:  DefaultMarginColumns,
			ShiftUnit:      DefaultShiftUnit,
			MemoryBudgetMB: DefaultMemoryBudgetMB,
			MemoryFraction: DefaultMemoryFraction,
			ReadyAttempts:  DefaultReadyAttempts,
			RangeAttempts:  DefaultRangeAttempts,
			PollInterval:   DefaultPollInterval,
		},
		Source: SourceConfig{
			ChunkSamples: DefaultLoaderChunk,
		},
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFrames,
			InputChannels:   1,
		},
		Recording: RecordingConfig{
			OutputDir: "./recordings",
			BitDepth:  16,
		},
		Transport: TransportConfig{
			WSAddress:        DefaultWSAddress,
			UDPTargetAddress: DefaultUDPTarget,
			UDPSendInterval:  DefaultUDPInterval,
		},
		Export: ExportConfig{
			Compression: DefaultExportCompression,
		},
	}
}

// LoadConfig loads configuration from the YAML file at path. An empty path
// tries config.yaml in the working directory and falls back to the defaults.
// Environment overrides are applied after the file, then the result is
// validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	if err := c.Spectrogram().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	e := c.Engine
	switch {
	case e.ChunkColumns <= 0:
		return fmt.Errorf("%w: engine.chunk_columns must be positive", ErrInvalid)
	case e.MarginColumns < 0:
		return fmt.Errorf("%w: engine.margin_columns must not be negative", ErrInvalid)
	case e.ShiftUnit <= 0:
		return fmt.Errorf("%w: engine.shift_unit_columns must be positive", ErrInvalid)
	case e.MemoryBudgetMB <= 0:
		return fmt.Errorf("%w: engine.memory_budget_mb must be positive", ErrInvalid)
	case e.MemoryFraction < 0 || e.MemoryFraction > 1:
		return fmt.Errorf("%w: engine.memory_fraction %v outside [0, 1]", ErrInvalid, e.MemoryFraction)
	case e.MaxColumns < 0:
		return fmt.Errorf("%w: engine.max_columns must not be negative", ErrInvalid)
	}

	if c.Source.Input == "" {
		a := c.Audio
		if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
			return fmt.Errorf("%w: audio.sample_rate %v outside [%d, %d]", ErrInvalid, a.SampleRate, MinSampleRate, MaxSampleRate)
		}
		if a.FramesPerBuffer <= 0 || a.FramesPerBuffer > MaxBufferFrames {
			return fmt.Errorf("%w: audio.frames_per_buffer %d outside (0, %d]", ErrInvalid, a.FramesPerBuffer, MaxBufferFrames)
		}
		if a.InputChannels <= 0 {
			return fmt.Errorf("%w: audio.input_channels must be positive", ErrInvalid)
		}
		if a.InputDevice < MinDeviceID {
			return fmt.Errorf("%w: audio.input_device %d", ErrInvalid, a.InputDevice)
		}
	}

	if c.Recording.Enabled && c.Recording.BitDepth != 16 && c.Recording.BitDepth != 24 && c.Recording.BitDepth != 32 {
		return fmt.Errorf("%w: recording.bit_depth %d", ErrInvalid, c.Recording.BitDepth)
	}

	t := c.Transport
	if t.UDPEnabled {
		// An empty target logs packets instead of sending them.
		if _, _, err := net.SplitHostPort(t.UDPTargetAddress); t.UDPTargetAddress != "" && err != nil {
			return fmt.Errorf("%w: transport.udp_target_address %q: %w", ErrInvalid, t.UDPTargetAddress, err)
		}
		if t.UDPSendInterval <= 0 {
			return fmt.Errorf("%w: transport.udp_send_interval must be positive", ErrInvalid)
		}
	}
	if t.WSAddress != "" {
		if _, _, err := net.SplitHostPort(t.WSAddress); err != nil {
			return fmt.Errorf("%w: transport.ws_address %q: %w", ErrInvalid, t.WSAddress, err)
		}
	}

	switch strings.ToLower(c.Export.Compression) {
	case "", "snappy", "zstd", "gzip", "none":
	default:
		return fmt.Errorf("%w: export.compression %q", ErrInvalid, c.Export.Compression)
	}
	return nil
}

// Spectrogram returns the engine configuration.
func (c *Config) Spectrogram() spectrogram.Config {
	return spectrogram.Config{STFT: c.STFT, StartTime: c.StartTime}
}

// EngineOptions returns the engine tuning options.
func (c *Config) EngineOptions() spectrogram.Options {
	e := c.Engine
	return spectrogram.Options{
		ChunkColumns:   e.ChunkColumns,
		Margin:         e.MarginColumns,
		ShiftUnit:      e.ShiftUnit,
		MemoryBudget:   int64(e.MemoryBudgetMB) << 20,
		MemoryFraction: e.MemoryFraction,
		MaxColumns:     e.MaxColumns,
		ReadyAttempts:  e.ReadyAttempts,
		RangeAttempts:  e.RangeAttempts,
		PollInterval:   e.PollInterval,
	}
}

// applyEnvOverrides reads the ENV_* variables. Unparseable values are logged
// and ignored.
func (c *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Debug = b
			applog.Debugf("Config: overriding debug from env: %v", b)
		} else {
			applog.Warnf("Config: ignoring ENV_DEBUG=%q: %v", val, err)
		}
	}
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		c.LogLevel = val
		applog.Debugf("Config: overriding log_level from env: %s", val)
	}

	// ENV_WS_* and ENV_UDP_* are specific to the transport layer.
	if val, ok := os.LookupEnv("ENV_WS_ADDRESS"); ok {
		c.Transport.WSAddress = val
		applog.Debugf("Config: overriding transport.ws_address from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Transport.UDPEnabled = b
			applog.Debugf("Config: overriding transport.udp_enabled from env: %v", b)
		} else {
			applog.Warnf("Config: ignoring ENV_UDP_ENABLED=%q: %v", val, err)
		}
	}
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		c.Transport.UDPTargetAddress = val
		applog.Debugf("Config: overriding transport.udp_target_address from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if d, err := time.ParseDuration(val); err == nil {
			c.Transport.UDPSendInterval = d
			applog.Debugf("Config: overriding transport.udp_send_interval from env: %s", d)
		} else {
			applog.Warnf("Config: ignoring ENV_UDP_SEND_INTERVAL=%q: %v", val, err)
		}
	}
}
