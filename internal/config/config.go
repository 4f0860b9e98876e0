// SPDX-License-Identifier: MIT
package config

import "time"

// Defaults and limits for the spectrogram service.
const (
	DefaultLogLevel   = "info"
	DefaultWindowSize = 1024
	DefaultHopLength  = 256

	DefaultChunkColumns   = 16
	DefaultMarginColumns  = 16
	DefaultShiftUnit      = 16
	DefaultMemoryBudgetMB = 256
	DefaultMemoryFraction = 0.25
	DefaultReadyAttempts  = 250
	DefaultRangeAttempts  = 50
	DefaultPollInterval   = 20 * time.Millisecond

	DefaultLoaderChunk = 8192
	DefaultDeviceID    = MinDeviceID // system default input
	DefaultSampleRate  = 44100
	DefaultFrames      = 1024

	DefaultWSAddress   = "127.0.0.1:8080"
	DefaultUDPTarget   = "127.0.0.1:9090"
	DefaultUDPInterval = 33 * time.Millisecond // ~30Hz

	DefaultExportCompression = "snappy"

	MinDeviceID     = -1
	MinSampleRate   = 8000
	MaxSampleRate   = 192000
	MaxBufferFrames = 8192
)
