// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	applog "specstream/internal/log"
	"specstream/internal/spectrogram"
	"specstream/internal/transport"
)

// HeaderSize is the fixed packet prefix before the magnitudes.
const HeaderSize = 4 + 8 + 8 + 2

// ErrShortPacket is returned by DecodePacket for truncated input.
var ErrShortPacket = errors.New("udp: short packet")

// ColumnSource is the part of the engine the publisher reads.
type ColumnSource interface {
	Stats() spectrogram.Stats
	ReadRange(start, end int) spectrogram.Result
}

// Publisher periodically sends the newest computed column. A column is sent
// once; ticks with nothing new are skipped.
type Publisher struct {
	sender   transport.Sender
	src      ColumnSource
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // protects ticker and doneChan during Start/Stop

	sequenceNum uint32
	lastColumn  int
	lastGen     uint64
	packet      *bytes.Buffer
}

// NewPublisher creates a publisher. An interval <= 0 defaults to 16ms (~60Hz).
func NewPublisher(interval time.Duration, sender transport.Sender, src ColumnSource) (*Publisher, error) {
	if sender == nil {
		return nil, errors.New("publisher: sender cannot be nil")
	}
	if src == nil {
		return nil, errors.New("publisher: column source cannot be nil")
	}
	if interval <= 0 {
		interval = 16 * time.Millisecond
		applog.Warnf("Publisher: invalid interval, defaulting to %s", interval)
	}

	return &Publisher{
		sender:     sender,
		src:        src,
		interval:   interval,
		lastColumn: -1,
		packet:     new(bytes.Buffer),
	}, nil
}

// Start launches the publishing goroutine. Calling it while running is a no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("Publisher: Start called but already running")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}
	ticker, doneChan := p.ticker, p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Infof("Publisher: started (interval %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				if _, err := p.publish(); err != nil {
					applog.Debugf("Publisher: %v", err)
				}
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the goroutine and waits for it. Safe to call repeatedly.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Infof("Publisher: stopped after %d packets", p.sequenceNum)
	return nil
}

// Run publishes until ctx is cancelled, then closes the sender.
func (p *Publisher) Run(ctx context.Context) error {
	p.Start()
	<-ctx.Done()
	return p.Close()
}

// Close stops publishing and closes the sender.
func (p *Publisher) Close() error {
	if err := p.Stop(); err != nil {
		return err
	}
	return p.sender.Close()
}

/*
Packet layout, big-endian:

	| seq uint32 | timestamp int64 (ns) | column int64 | count uint16 | count * float32 |
*/

// publish sends the newest computed column if it differs from the last one
// sent. It reports whether a packet went out.
func (p *Publisher) publish() (bool, error) {
	stats := p.src.Stats()
	if stats.Computed.Empty() {
		return false, nil
	}
	column := stats.Computed.Last - 1
	if column == p.lastColumn && stats.Generation == p.lastGen {
		return false, nil
	}

	res := p.src.ReadRange(column, column+1)
	mags := res.Column(column)
	if mags == nil {
		return false, nil
	}
	if len(mags) > math.MaxUint16 {
		return false, fmt.Errorf("column height %d does not fit a packet", len(mags))
	}

	p.sequenceNum++
	p.packet.Reset()
	p.packet.Grow(HeaderSize + 4*len(mags))
	buf := p.packet

	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:], p.sequenceNum)
	binary.BigEndian.PutUint64(hdr[4:], uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint64(hdr[12:], uint64(column))
	binary.BigEndian.PutUint16(hdr[20:], uint16(len(mags)))
	buf.Write(hdr[:])
	if err := binary.Write(buf, binary.BigEndian, mags); err != nil {
		return false, fmt.Errorf("packing column %d: %w", column, err)
	}

	if err := p.sender.Send(buf.Bytes()); err != nil {
		return false, err
	}
	p.lastColumn, p.lastGen = column, stats.Generation
	applog.Debugf("Publisher: sent packet %d, column %d (%d bytes)", p.sequenceNum, column, buf.Len())
	return true, nil
}

// Packet is a decoded column packet.
type Packet struct {
	Sequence   uint32
	Timestamp  time.Time
	Column     int64
	Magnitudes []float32
}

// DecodePacket parses a packet produced by the publisher.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, ErrShortPacket
	}
	count := int(binary.BigEndian.Uint16(data[20:]))
	if len(data) < HeaderSize+4*count {
		return Packet{}, fmt.Errorf("%w: %d magnitudes announced, %d bytes", ErrShortPacket, count, len(data))
	}

	p := Packet{
		Sequence:   binary.BigEndian.Uint32(data[0:]),
		Timestamp:  time.Unix(0, int64(binary.BigEndian.Uint64(data[4:]))),
		Column:     int64(binary.BigEndian.Uint64(data[12:])),
		Magnitudes: make([]float32, count),
	}
	for i := range p.Magnitudes {
		off := HeaderSize + 4*i
		p.Magnitudes[i] = math.Float32frombits(binary.BigEndian.Uint32(data[off:]))
	}
	return p, nil
}
