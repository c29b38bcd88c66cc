// Package storage defines where debug artifacts such as result-page
// screenshots are written. Backends live in subpackages (memory, local, gcs).
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ArtifactStore persists a blob and returns a URI locating it.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// ScreenshotPath builds the object path for a run's result-page screenshot,
// e.g. "screenshots/2026/01/02/<session>-150405.png".
func ScreenshotPath(prefix, sessionID string, ts time.Time) string {
	ts = ts.UTC()
	name := fmt.Sprintf("%s-%s.png", sanitize(sessionID), ts.Format("150405"))
	return path.Join(strings.Trim(prefix, "/"), "screenshots", ts.Format("2006/01/02"), name)
}

func sanitize(id string) string {
	if id == "" {
		return "run"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
