// Package sidecar persists and reads the per-file JSON metadata record
// (C5) that drives C6's freshness revalidation. Grounded on
// original_source/src/get/header.rs's response-header extraction and
// spec.md §4.5.
package sidecar

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"golang.org/x/sys/unix"

	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
)

// Record is the sidecar document for one cached file.
type Record struct {
	URL               string              `json:"url"`
	HeaderMap         map[string][]string `json:"header_map"`
	LocalLastModified time.Time           `json:"local_last_modified"`
	LocalLastChecked  time.Time           `json:"local_last_checked"`
	Hash              [32]byte            `json:"hash"`
}

// PathFor returns the sidecar path for a stored artifact path:
// p.parent / ("." + p.name + ".json").
func PathFor(artifactPath string) string {
	dir, name := filepath.Split(artifactPath)
	return filepath.Join(dir, "."+name+".json")
}

// Read loads and parses the sidecar for artifactPath. A missing sidecar
// is reported as repoerr.NotFound, matching C6's "absent -> no prior
// record" branch.
func Read(artifactPath string) (*Record, error) {
	path := PathFor(artifactPath)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, repoerr.New(repoerr.NotFound)
		}
		return nil, repoerr.Wrap(repoerr.OpenFile, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return nil, repoerr.Wrap(repoerr.FileLockFailed, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.ReadDirectory, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, repoerr.Wrap(repoerr.ReadDirectory, err)
	}
	return &rec, nil
}

// Write serializes rec to artifactPath's sidecar location under an
// exclusive lock, truncating any prior contents. The exclusive lock is
// the write barrier against concurrent writers; readers only ever take a
// shared lock.
func Write(artifactPath string, rec *Record) error {
	path := PathFor(artifactPath)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return repoerr.Wrap(repoerr.FileCreateFailed, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return repoerr.Wrap(repoerr.FileLockFailed, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	data, err := json.Marshal(rec)
	if err != nil {
		return repoerr.Wrap(repoerr.FileWriteFailed, err)
	}
	if err := f.Truncate(0); err != nil {
		return repoerr.Wrap(repoerr.FileSeekFailed, err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return repoerr.Wrap(repoerr.FileWriteFailed, err)
	}
	return f.Sync()
}

// FromResponse builds a new sidecar record from an upstream response:
// Date becomes local_last_checked (falling back to now), Last-Modified
// becomes local_last_modified (falling back to local_last_checked), and
// every response header is copied in lower-cased, UTF-8-validated form.
func FromResponse(url string, header http.Header, hash [32]byte, now time.Time) *Record {
	checked := parseRFC2822(header.Get("Date"))
	if checked.IsZero() {
		checked = now
	}
	modified := parseRFC2822(header.Get("Last-Modified"))
	if modified.IsZero() {
		modified = checked
	}

	headerMap := make(map[string][]string, len(header))
	for name, values := range header {
		lower := toLower(name)
		kept := make([]string, 0, len(values))
		for _, v := range values {
			if utf8.ValidString(v) {
				kept = append(kept, v)
			}
		}
		if len(kept) > 0 {
			headerMap[lower] = kept
		}
	}

	return &Record{
		URL:               url,
		HeaderMap:         headerMap,
		LocalLastModified: modified,
		LocalLastChecked:  checked,
		Hash:              hash,
	}
}

// WithMonotonicModified returns a copy of rec with LocalLastModified
// advanced to max(rec.LocalLastModified, candidate) — the monotonicity
// invariant required on every update.
func (rec Record) WithMonotonicModified(candidate time.Time) Record {
	if candidate.After(rec.LocalLastModified) {
		rec.LocalLastModified = candidate
	}
	return rec
}

func parseRFC2822(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := mail.ParseDate(value); err == nil {
		return t
	}
	if t, err := time.Parse(http.TimeFormat, value); err == nil {
		return t
	}
	return time.Time{}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
