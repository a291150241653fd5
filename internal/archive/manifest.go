// Package archive locates, caches and reads date-partitioned record archives.
package archive

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a manifest or file does not exist.
var ErrNotFound = errors.New("archive object not found")

// DateLayout is the partition date format.
const DateLayout = "2006-01-02"

// Manifest describes the files archived for one feed and date.
type Manifest struct {
	Feed             string      `json:"feed"`
	Date             string      `json:"date"`
	Format           string      `json:"format"`
	RotationInterval string      `json:"rotation_interval,omitempty"`
	Files            []FileEntry `json:"files"`
	Tickers          []string    `json:"tickers,omitempty"`
	HasGaps          bool        `json:"has_gaps"`
}

// FileEntry is one rotated archive file.
type FileEntry struct {
	Name    string    `json:"name"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Records uint64    `json:"records"`
	Bytes   uint64    `json:"bytes"`
}

// Compressed reports whether the file is gzip encoded.
func (f FileEntry) Compressed() bool { return strings.HasSuffix(f.Name, ".gz") }

// TotalRecords returns the sum of records across all files.
func (m *Manifest) TotalRecords() uint64 {
	var total uint64
	for _, f := range m.Files {
		total += f.Records
	}
	return total
}

// Ordered returns the files sorted by start time, then name.
func (m *Manifest) Ordered() []FileEntry {
	out := make([]FileEntry, len(m.Files))
	copy(out, m.Files)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Dates expands an inclusive YYYY-MM-DD range.
func Dates(from, to string) ([]string, error) {
	start, err := time.Parse(DateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("parse from date: %w", err)
	}
	end := start
	if to != "" {
		if end, err = time.Parse(DateLayout, to); err != nil {
			return nil, fmt.Errorf("parse to date: %w", err)
		}
	}
	if end.Before(start) {
		return nil, fmt.Errorf("date range %s..%s is reversed", from, to)
	}
	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(DateLayout))
	}
	return out, nil
}
