// SPDX-License-Identifier: MIT

// Package transport exposes the spectrogram to renderers: a websocket
// request/response server and, in the udp subpackage, a push stream of the
// newest computed column.
package transport

import "specstream/internal/spectrogram"

// Reader is the engine surface renderers may use. Implementations must be
// safe for concurrent use.
type Reader interface {
	Read(req spectrogram.Request) spectrogram.Result
	Config() spectrogram.Config
	SetConfig(cfg spectrogram.Config) error
	Stats() spectrogram.Stats
}

// Sender delivers opaque packets. Implementations should be thread-safe.
type Sender interface {
	Send(data []byte) error
	Close() error
}

var _ Reader = (*spectrogram.Engine)(nil)
