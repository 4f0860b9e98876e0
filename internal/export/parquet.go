// SPDX-License-Identifier: MIT

// Package export writes a complete spectrogram to a parquet file by walking
// the engine window by window.
package export

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	applog "specstream/internal/log"
	"specstream/internal/spectrogram"

	"github.com/parquet-go/parquet-go"
)

// Row is one spectrogram column. Time is the time of the column's first
// sample in seconds.
type Row struct {
	Column     int64     `parquet:"column"`
	Time       float64   `parquet:"time"`
	Magnitudes []float32 `parquet:"magnitudes,list"`
}

// Spectrogram is the engine surface the exporter drives.
type Spectrogram interface {
	Wait(ctx context.Context, start, end int) (spectrogram.Range, error)
	ReadRange(start, end int) spectrogram.Result
	Stats() spectrogram.Stats
	WidthKnown() (int, bool)
	TimeForColumn(column int) float64
}

// Compression returns the writer option for a codec name: snappy, zstd,
// gzip or none. Empty means snappy.
func Compression(name string) (parquet.WriterOption, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return parquet.Compression(&parquet.Snappy), nil
	case "zstd":
		return parquet.Compression(&parquet.Zstd), nil
	case "gzip", "gz":
		return parquet.Compression(&parquet.Gzip), nil
	case "none", "uncompressed":
		return parquet.Compression(&parquet.Uncompressed), nil
	default:
		return nil, fmt.Errorf("export: unknown compression %q", name)
	}
}

// Run computes every column of the stream and writes it to w. It returns once
// the stream length is known and all its columns are written, and reports the
// number of rows.
func Run(ctx context.Context, sg Spectrogram, w io.Writer, compression string) (int, error) {
	opt, err := Compression(compression)
	if err != nil {
		return 0, err
	}

	pw := parquet.NewGenericWriter[Row](w, opt)
	n, runErr := writeColumns(ctx, sg, pw)
	if err := pw.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("export: closing writer: %w", err)
	}
	return n, runErr
}

func writeColumns(ctx context.Context, sg Spectrogram, pw *parquet.GenericWriter[Row]) (int, error) {
	// Half a window per step keeps the shifter able to place the step
	// inside the window.
	step := max(sg.Stats().Capacity/2, 1)
	start := time.Now()
	lastLog := start

	written := 0
	for column := 0; ; {
		width, known := sg.WidthKnown()
		if known && column >= width {
			break
		}

		end := column + step
		if known {
			end = min(end, width)
		}
		if _, err := sg.Wait(ctx, column, end); err != nil {
			return written, fmt.Errorf("export: waiting for columns [%d, %d): %w", column, end, err)
		}

		res := sg.ReadRange(column, end)
		if res.End <= res.Start {
			if width, known := sg.WidthKnown(); known && column >= width {
				break
			}
			return written, fmt.Errorf("export: no progress at column %d", column)
		}
		if res.Start != column {
			return written, fmt.Errorf("export: expected column %d, engine returned [%d, %d)", column, res.Start, res.End)
		}

		rows := make([]Row, 0, res.End-res.Start)
		for c := res.Start; c < res.End; c++ {
			rows = append(rows, Row{
				Column:     int64(c),
				Time:       sg.TimeForColumn(c),
				Magnitudes: res.Column(c),
			})
		}
		if _, err := pw.Write(rows); err != nil {
			return written, fmt.Errorf("export: writing rows: %w", err)
		}
		written += len(rows)
		column = res.End

		if time.Since(lastLog) > 2*time.Second {
			lastLog = time.Now()
			applog.Infof("Export: %d columns written", written)
		}
	}

	applog.Infof("Export: finished, %d columns in %s", written, time.Since(start).Round(time.Millisecond))
	return written, nil
}
