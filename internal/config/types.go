// Package config implements the per-repository JSON configuration store
// (C1): load, cache, merge-with-main, and SIGHUP-triggered hot reload.
package config

import (
	"fmt"
	"time"
)

// DefaultMaxFileSize and DefaultFresh are the spec-mandated fallbacks used
// when a repo config (and the main config) leave the corresponding field
// unset.
const (
	DefaultMaxFileSize uint64        = 4 * 1024 * 1024 * 1024 // 4 GiB
	DefaultFresh       time.Duration = 5 * time.Minute
)

// Header is a single response header name/value pair, kept as an ordered
// pair (not a map) because repeated headers and ordering both matter on
// the wire.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PathPerm is the set of operations a token is allowed to perform against
// one exact path.
type PathPerm struct {
	Read   bool `json:"read"`
	Put    bool `json:"put"`
	Delete bool `json:"delete"`
}

// Token is one entry of the repo's bcrypt-gated token table.
type Token struct {
	BcryptHash string              `json:"bcrypt_hash"`
	Paths      map[string]PathPerm `json:"paths"`
}

// LocalUpstream points at another repo directory on the same server.
type LocalUpstream struct {
	Path string `json:"path"`
}

// RemoteUpstream points at an HTTP repository.
type RemoteUpstream struct {
	URL       string `json:"url"`
	Timeout   Dur    `json:"timeout"`
	TimeFresh *Dur   `json:"time_fresh,omitempty"`
}

// EffectiveTimeFresh returns this upstream's own freshness override if
// set, converted to a time.Duration.
func (r RemoteUpstream) EffectiveTimeFresh() (time.Duration, bool) {
	if r.TimeFresh == nil {
		return 0, false
	}
	return time.Duration(*r.TimeFresh), true
}

// Upstream is a tagged union: exactly one of Local/Remote is set.
type Upstream struct {
	Local  *LocalUpstream  `json:"local,omitempty"`
	Remote *RemoteUpstream `json:"remote,omitempty"`
}

func (u Upstream) IsLocal() bool  { return u.Local != nil }
func (u Upstream) IsRemote() bool { return u.Remote != nil }

// Config is one repository's effective configuration: the fields decoded
// from its JSON document, already merged with the main config per the
// additive/preferring-self rules documented on Merge.
type Config struct {
	StoresRemoteUpstream            *bool  `json:"stores_remote_upstream,omitempty"`
	PubliclyReadable                *bool  `json:"publicly_readable,omitempty"`
	HideDirectoryListings           *bool  `json:"hide_directory_listings,omitempty"`
	InferContentTypeOnFileExtension *bool  `json:"infer_content_type_on_file_extension,omitempty"`
	TimeFresh                       *Dur   `json:"time_fresh,omitempty"`
	MaxFileSize                     *uint64 `json:"max_file_size,omitempty"`

	CacheControlFile        []Header         `json:"cache_control_file,omitempty"`
	CacheControlMetadata    []Header         `json:"cache_control_metadata,omitempty"`
	CacheControlDirListings []Header         `json:"cache_control_dir_listings,omitempty"`
	CacheControlStatusCode  map[string][]Header `json:"cache_control_status_code,omitempty"`

	Upstreams []Upstream       `json:"upstreams,omitempty"`
	Tokens    map[string]Token `json:"tokens,omitempty"`
}

// StoresRemote reports the effective stores_remote_upstream, defaulting
// to false.
func (c *Config) StoresRemote() bool {
	return c.StoresRemoteUpstream != nil && *c.StoresRemoteUpstream
}

// IsPubliclyReadable reports the effective publicly_readable, defaulting
// to true (absence of the field means public per spec.md §4.9: "require
// no auth when publicly_readable != false").
func (c *Config) IsPubliclyReadable() bool {
	return c.PubliclyReadable == nil || *c.PubliclyReadable
}

// HidesDirectoryListings reports the effective hide_directory_listings,
// defaulting to false.
func (c *Config) HidesDirectoryListings() bool {
	return c.HideDirectoryListings != nil && *c.HideDirectoryListings
}

// InfersContentType reports the effective
// infer_content_type_on_file_extension, defaulting to false.
func (c *Config) InfersContentType() bool {
	return c.InferContentTypeOnFileExtension != nil && *c.InferContentTypeOnFileExtension
}

// EffectiveTimeFresh returns the configured freshness window or the
// spec-mandated default.
func (c *Config) EffectiveTimeFresh() time.Duration {
	if c.TimeFresh != nil {
		return time.Duration(*c.TimeFresh)
	}
	return DefaultFresh
}

// EffectiveMaxFileSize returns the configured cap or the spec-mandated
// default.
func (c *Config) EffectiveMaxFileSize() uint64 {
	if c.MaxFileSize != nil {
		return *c.MaxFileSize
	}
	return DefaultMaxFileSize
}

// HasUpstreams reports whether this config names any upstream at all
// (local or remote) — used by C10 to reject PUT against non-terminal
// repos.
func (c *Config) HasUpstreams() bool { return len(c.Upstreams) > 0 }

// LocalUpstreams returns every configured Upstream.Local, in order.
func (c *Config) LocalUpstreams() []LocalUpstream {
	var out []LocalUpstream
	for _, u := range c.Upstreams {
		if u.Local != nil {
			out = append(out, *u.Local)
		}
	}
	return out
}

// RemoteUpstreams returns every configured Upstream.Remote, in order.
func (c *Config) RemoteUpstreams() []RemoteUpstream {
	var out []RemoteUpstream
	for _, u := range c.Upstreams {
		if u.Remote != nil {
			out = append(out, *u.Remote)
		}
	}
	return out
}

// Dur is a time.Duration that (de)serializes as a Go duration string
// ("5m", "1h30m") in the repo JSON documents.
type Dur time.Duration

func (d Dur) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

func (d *Dur) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		parsed, err := time.ParseDuration(s[1 : len(s)-1])
		if err != nil {
			return err
		}
		*d = Dur(parsed)
		return nil
	}
	// bare number: nanoseconds, for compatibility with numeric input.
	var ns int64
	if _, err := fmt.Sscan(s, &ns); err != nil {
		return err
	}
	*d = Dur(ns)
	return nil
}
