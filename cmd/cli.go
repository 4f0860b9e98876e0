// SPDX-License-Identifier: MIT
package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"specstream/internal/config"
	"specstream/pkg/build"

	"github.com/spf13/cobra"
)

// Commands understood by main.
const (
	CommandServe   = "serve"
	CommandList    = "list"
	CommandExport  = "export"
	CommandVersion = "version"
)

// Invocation is the parsed command line: which command to run and the
// configuration it runs with, after flags have been applied on top of the
// config file.
type Invocation struct {
	Command    string
	Config     *config.Config
	TUI        bool
	PickDevice bool
}

// flagValues holds raw flag values; only flags the user set are applied.
type flagValues struct {
	configPath  string
	logLevel    string
	verbose     bool
	input       string
	throttle    time.Duration
	device      int
	sampleRate  float64
	record      bool
	recordDir   string
	wsAddress   string
	udpTarget   string
	startTime   float64
	window      int
	hop         int
	windowFunc  string
	tui         bool
	pick        bool
	out         string
	compression string
}

// ParseArgs builds the command tree and executes it against args. Help output
// goes to out; a nil Invocation with a nil error means help was printed and
// there is nothing left to do.
func ParseArgs(args []string, out io.Writer) (*Invocation, error) {
	info := build.GetBuildFlags()
	var (
		inv   *Invocation
		flags flagValues
	)

	resolve := func(cmd *cobra.Command, command string) error {
		cfg, err := config.LoadConfig(flags.configPath)
		if err != nil {
			return err
		}
		if err := applyFlags(cmd, &flags, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		inv = &Invocation{Command: command, Config: cfg, TUI: flags.tui, PickDevice: flags.pick}
		return nil
	}

	rootCmd := &cobra.Command{
		Use:           info.Name,
		Short:         "Streaming STFT spectrogram engine",
		Version:       info.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML config file (default ./config.yaml when present)")
	pf.StringVar(&flags.logLevel, "log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Shorthand for --log-level debug")

	// STFT flags are shared by serve and export.
	addSTFTFlags := func(c *cobra.Command) {
		f := c.Flags()
		f.StringVarP(&flags.input, "input", "i", "", "Audio file to analyze (wav, mp3, flac)")
		f.IntVar(&flags.window, "window", config.DefaultWindowSize, "STFT window size in samples")
		f.IntVar(&flags.hop, "hop", config.DefaultHopLength, "STFT hop length in samples")
		f.StringVar(&flags.windowFunc, "window-function", "hann", "Window function: hann, hamming, rectangular")
		f.Float64Var(&flags.startTime, "start", 0, "Initial window position in seconds")
	}

	serveCmd := &cobra.Command{
		Use:   CommandServe,
		Short: "Analyze a file or a live input and serve columns over websocket and UDP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolve(cmd, CommandServe)
		},
	}
	addSTFTFlags(serveCmd)
	sf := serveCmd.Flags()
	sf.DurationVar(&flags.throttle, "throttle", 0, "Delay between loaded chunks, e.g. 10ms, to emulate a stream")
	sf.IntVarP(&flags.device, "device", "d", config.DefaultDeviceID, "Input device ID for live capture. Use 'list' to see devices.")
	sf.Float64VarP(&flags.sampleRate, "sample-rate", "s", config.DefaultSampleRate, "Capture sample rate in Hz")
	sf.BoolVarP(&flags.record, "record", "r", false, "Record live capture to a WAV file")
	sf.StringVar(&flags.recordDir, "record-dir", "", "Directory for recordings")
	sf.StringVar(&flags.wsAddress, "ws", config.DefaultWSAddress, "Websocket listen address, empty to disable")
	sf.StringVar(&flags.udpTarget, "udp", "", "Publish the newest column to this UDP address")
	sf.BoolVar(&flags.tui, "tui", false, "Show the interactive status view")
	sf.BoolVar(&flags.pick, "pick-device", false, "Choose the input device interactively")
	rootCmd.AddCommand(serveCmd)

	exportCmd := &cobra.Command{
		Use:   CommandExport,
		Short: "Compute every column of a file and write them to Parquet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolve(cmd, CommandExport); err != nil {
				return err
			}
			if inv.Config.Source.Input == "" {
				return errors.New("export requires --input")
			}
			if inv.Config.Export.Output == "" {
				return errors.New("export requires --out")
			}
			return nil
		},
	}
	addSTFTFlags(exportCmd)
	ef := exportCmd.Flags()
	ef.StringVarP(&flags.out, "out", "o", "", "Parquet output file")
	ef.StringVar(&flags.compression, "compression", config.DefaultExportCompression, "Parquet compression: snappy, zstd, gzip, none")
	rootCmd.AddCommand(exportCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   CommandList,
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolve(cmd, CommandList)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   CommandVersion,
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			inv = &Invocation{Command: CommandVersion}
		},
	})

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return inv, nil
}

// applyFlags copies every flag the user set into cfg.
func applyFlags(cmd *cobra.Command, v *flagValues, cfg *config.Config) error {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("log-level") {
		cfg.LogLevel = v.logLevel
	}
	if changed("verbose") && v.verbose {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
	if changed("input") {
		cfg.Source.Input = v.input
	}
	if changed("throttle") {
		cfg.Source.Throttle = v.throttle
	}
	if changed("window") {
		cfg.STFT.WindowSize = v.window
	}
	if changed("hop") {
		cfg.STFT.HopLength = v.hop
	}
	if changed("window-function") {
		if err := cfg.STFT.WindowFunction.UnmarshalText([]byte(v.windowFunc)); err != nil {
			return fmt.Errorf("--window-function: %w", err)
		}
	}
	if changed("start") {
		cfg.StartTime = v.startTime
	}
	if changed("device") {
		cfg.Audio.InputDevice = v.device
	}
	if changed("sample-rate") {
		cfg.Audio.SampleRate = v.sampleRate
	}
	if changed("record") {
		cfg.Recording.Enabled = v.record
	}
	if changed("record-dir") {
		cfg.Recording.OutputDir = v.recordDir
	}
	if changed("ws") {
		cfg.Transport.WSAddress = v.wsAddress
	}
	if changed("udp") {
		cfg.Transport.UDPEnabled = v.udpTarget != ""
		cfg.Transport.UDPTargetAddress = v.udpTarget
	}
	if changed("out") {
		cfg.Export.Output = v.out
	}
	if changed("compression") {
		cfg.Export.Compression = v.compression
	}
	return nil
}
