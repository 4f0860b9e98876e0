// SPDX-License-Identifier: MIT
package transport

import (
	"sync/atomic"

	applog "specstream/internal/log"
)

// LoggingSender stands in for a network sender when no target is
// configured. It logs packet sizes at debug level.
type LoggingSender struct {
	sent atomic.Uint64
}

func NewLoggingSender() *LoggingSender {
	applog.Infof("Transport: no UDP target, logging packets instead")
	return &LoggingSender{}
}

// Send never fails.
func (s *LoggingSender) Send(data []byte) error {
	n := s.sent.Add(1)
	applog.Debugf("Transport: packet %d (%d bytes)", n, len(data))
	return nil
}

// Sent returns the number of packets seen.
func (s *LoggingSender) Sent() uint64 { return s.sent.Load() }

func (s *LoggingSender) Close() error {
	applog.Debugf("Transport: logging sender closed after %d packets", s.sent.Load())
	return nil
}

var _ Sender = (*LoggingSender)(nil)
