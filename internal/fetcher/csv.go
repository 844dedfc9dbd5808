// Package fetcher downloads remote files and streams CSV and ZIP content.
package fetcher

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions controls StreamCSV.
type CSVOptions struct {
	// HasHeader diverts the first record away from the row channel.
	HasHeader bool
	// HeaderCh receives the diverted header. It needs room for one value and
	// is sent to before any data row, so a reader that has seen a row or a
	// closed row channel can take the header without blocking.
	HeaderCh chan<- []string
	// TrimSpace trims white space around every field.
	TrimSpace bool
}

// StreamCSV parses r in a goroutine and sends each record on the returned
// row channel. Records may differ in field count. At most one error is sent
// on the error channel, and both channels close once parsing stops.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rows := make(chan []string, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(rows)
		if err := streamRecords(ctx, r, opts, rows); err != nil {
			errs <- err
		}
	}()

	return rows, errs
}

func streamRecords(ctx context.Context, r io.Reader, opts CSVOptions, rows chan<- []string) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	pendingHeader := opts.HasHeader
	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "csv: context cancelled")
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "csv: read row")
		}
		if opts.TrimSpace {
			for i := range rec {
				rec[i] = strings.TrimSpace(rec[i])
			}
		}

		dst := rows
		if pendingHeader {
			pendingHeader = false
			if opts.HeaderCh == nil {
				continue
			}
			dst = opts.HeaderCh
		}

		select {
		case dst <- rec:
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
	}
}
