package source

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"momentum-go/internal/archive"
	"momentum-go/internal/metrics"
)

// Replay reads archived days in date order, files in manifest order, lines in file order.
type Replay struct {
	log       zerolog.Logger
	store     archive.Store
	feed      string
	dates     []string
	normalize Normalizer

	dateIdx int
	date    string
	files   []archive.FileEntry
	fileIdx int
	lines   *archive.Lines
	err     error

	counters
}

// NewReplay iterates dates for feed through store.
func NewReplay(log zerolog.Logger, store archive.Store, feed string, dates []string) *Replay {
	return &Replay{log: log, store: store, feed: feed, dates: dates, normalize: defaultNormalizer()}
}

// Next returns the next well-formed record. Malformed lines are counted and skipped.
func (r *Replay) Next(ctx context.Context) (Message, bool) {
	for r.err == nil {
		if err := ctx.Err(); err != nil {
			r.err = err
			break
		}
		if r.lines == nil {
			more, err := r.advance(ctx)
			if err != nil {
				r.err = err
				break
			}
			if !more {
				return Message{}, false
			}
			continue
		}
		if !r.lines.Next() {
			if err := r.lines.Err(); err != nil {
				r.log.Warn().Err(err).Str("date", r.date).Msg("archive file truncated, skipping remainder")
			}
			r.lines.Close()
			r.lines = nil
			continue
		}
		r.received.Add(1)
		rec, err := r.normalize(r.lines.Bytes())
		if err != nil {
			r.malformed.Add(1)
			metrics.RecordsTotal.WithLabelValues(r.feed, "malformed").Inc()
			continue
		}
		r.delivered.Add(1)
		metrics.RecordsTotal.WithLabelValues(r.feed, string(rec.Kind)).Inc()
		return Message{Record: rec}, true
	}
	return Message{}, false
}

// advance opens the next file, loading manifests as dates are exhausted.
func (r *Replay) advance(ctx context.Context) (bool, error) {
	for {
		if r.fileIdx < len(r.files) {
			f := r.files[r.fileIdx]
			r.fileIdx++
			rc, err := r.store.Open(ctx, r.feed, r.date, f.Name)
			if errors.Is(err, archive.ErrNotFound) {
				r.log.Warn().Str("date", r.date).Str("file", f.Name).Msg("archive file missing")
				continue
			}
			if err != nil {
				return false, err
			}
			lines, err := archive.NewLines(rc, f.Compressed())
			if err != nil {
				r.log.Warn().Err(err).Str("file", f.Name).Msg("archive file unreadable")
				continue
			}
			r.opened.Add(1)
			r.lines = lines
			return true, nil
		}
		if r.dateIdx >= len(r.dates) {
			return false, nil
		}
		r.date = r.dates[r.dateIdx]
		r.dateIdx++
		m, err := r.store.Manifest(ctx, r.feed, r.date)
		if errors.Is(err, archive.ErrNotFound) {
			r.log.Warn().Str("feed", r.feed).Str("date", r.date).Msg("no archive for date")
			r.files, r.fileIdx = nil, 0
			continue
		}
		if err != nil {
			return false, err
		}
		r.files, r.fileIdx = m.Ordered(), 0
		r.log.Info().Str("date", r.date).Int("files", len(r.files)).Uint64("records", m.TotalRecords()).Msg("replaying archive day")
	}
}

// Err returns the failure or cancellation that ended iteration.
func (r *Replay) Err() error { return r.err }

// Stats returns counters.
func (r *Replay) Stats() Stats { return r.snapshot() }

// Close releases the open file.
func (r *Replay) Close() error {
	if r.lines != nil {
		err := r.lines.Close()
		r.lines = nil
		return err
	}
	return nil
}
