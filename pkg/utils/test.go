// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"sync"
)

// MockSender implements the transport Sender interface for tests. It keeps a
// copy of every packet so assertions can inspect them after the fact.
type MockSender struct {
	mu      sync.Mutex
	Packets [][]byte
	Closed  bool
}

// Send stores a copy of the packet instead of transmitting it.
func (m *MockSender) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	packet := make([]byte, len(data))
	copy(packet, data)
	m.Packets = append(m.Packets, packet)
	return nil
}

// Close marks the sender closed.
func (m *MockSender) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Last returns the most recent packet or nil.
func (m *MockSender) Last() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Packets) == 0 {
		return nil
	}
	return m.Packets[len(m.Packets)-1]
}

// GenerateComplexWave returns a 440Hz fundamental plus two harmonics, normalised to [-0.9, 0.9].
func GenerateComplexWave(size int, sampleRate float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = signal * 0.9
	}
	return buffer
}

func GenerateSineWave(size int, sampleRate, frequency float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = math.Sin(2*math.Pi*frequency*t) * 0.9
	}
	return buffer
}

func FindPeakBin[T float32 | float64](magnitudes []T, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
