// Package archive defines where rendered reports are kept.
package archive

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Archiver stores one object and returns its URI.
type Archiver interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

// ReportKey names the object for a report generated at t:
// reports/<date>/<timestamp>.txt, in UTC.
func ReportKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("reports/%s/%s.txt", t.Format("2006-01-02"), t.Format("20060102T150405Z"))
}
