// Package conditional implements ETag formatting and RFC 9110 conditional
// request evaluation (C8): If-None-Match, If-Match, If-Unmodified-Since,
// and If-Modified-Since, in that precedence order. Grounded on
// original_source/src/etag.rs and original_source/src/get/header.rs.
package conditional

import (
	"encoding/base64"
	"strings"
	"sync"

	"golang.org/x/crypto/sha3"
)

// Tag is one parsed entity-tag from an If-* header value.
type Tag struct {
	Weak  bool
	Value string
}

// Validator is the parsed form of an If-None-Match/If-Match header
// value: either the wildcard "*" or a comma-separated list of tags.
type Validator struct {
	Any  bool
	Tags []Tag
}

// ParseValidator parses one If-None-Match/If-Match header value. It
// returns ok=false if any comma-separated member fails to parse, mirroring
// the upstream's all-or-nothing parse (a malformed header is a 400, not a
// partial match).
func ParseValidator(value string) (Validator, bool) {
	if value == "*" {
		return Validator{Any: true}, true
	}
	var tags []Tag
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimPrefix(part, " ")
		tag, ok := parseTag(part)
		if !ok {
			return Validator{}, false
		}
		tags = append(tags, tag)
	}
	return Validator{Tags: tags}, true
}

func parseTag(value string) (Tag, bool) {
	weak := false
	if rest, ok := strings.CutPrefix(value, "W/"); ok {
		weak = true
		value = rest
	}
	if !strings.HasPrefix(value, `"`) || !strings.HasSuffix(value, `"`) || len(value) < 2 {
		return Tag{}, false
	}
	return Tag{Weak: weak, Value: value[1 : len(value)-1]}, true
}

// FileHash carries both the cheap BLAKE3 digest computed while mapping
// the file (C3) and a lazily-computed SHA3-512 fallback, used only when
// a client presents an ETag in a format this server never emits itself.
// The fallback is memoized with sync.Once since repeated If-* headers in
// the same request must not re-hash the file.
type FileHash struct {
	BLAKE3 [32]byte
	Data   []byte

	once   sync.Once
	sha512 [64]byte
}

func (h *FileHash) sha3_512() [64]byte {
	h.once.Do(func() {
		h.sha512 = sha3.Sum512(h.Data)
	})
	return h.sha512
}

// Format renders the canonical strong ETag this server emits for a file:
// `"blake3-<base64 std>"`.
func Format(hash [32]byte) string {
	return `"blake3-` + base64.StdEncoding.EncodeToString(hash[:]) + `"`
}

// Matches reports whether tag identifies the current content of h. Tags
// of the form "blake3-<b64>" compare directly against the precomputed
// digest; any other tag is treated as a base64-encoded SHA3-512 digest
// (computed lazily, once) for compatibility with clients that cached an
// ETag from a different implementation of this protocol.
func (t Tag) Matches(h *FileHash) bool {
	if rest, ok := strings.CutPrefix(t.Value, "blake3-"); ok {
		want, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return false
		}
		return len(want) == len(h.BLAKE3) && string(want) == string(h.BLAKE3[:])
	}

	want, err := base64.StdEncoding.DecodeString(t.Value)
	if err != nil {
		return false
	}
	got := h.sha3_512()
	return len(want) == len(got) && string(want) == string(got[:])
}

// AnyMatches reports whether any tag in v matches h. Any() always
// matches.
func (v Validator) AnyMatches(h *FileHash) bool {
	if v.Any {
		return true
	}
	for _, t := range v.Tags {
		if t.Matches(h) {
			return true
		}
	}
	return false
}
