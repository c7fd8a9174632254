package conditional

import (
	"net/http"
	"strings"
	"time"
)

// Outcome is the verdict of evaluating a request's conditional headers
// against a resource's current state.
type Outcome int

const (
	// Proceed means no conditional header short-circuited the request;
	// the normal response (200, with body) should be sent.
	Proceed Outcome = iota
	// NotModified means respond 304 with no body.
	NotModified
	// PreconditionFailed means respond 412 with no body.
	PreconditionFailed
	// BadRequest means a conditional header value failed to parse;
	// respond 400 with Message as the body.
	BadRequest
)

// Result is the outcome of Evaluate plus, for BadRequest, the message to
// send back to the client.
type Result struct {
	Outcome Outcome
	Message string
}

// Evaluate implements the precedence order from RFC 9110 §13.2.2, as
// followed by original_source/src/get/header.rs: If-None-Match first (and
// when present, If-Modified-Since is ignored), then If-Match, then
// If-Unmodified-Since, then If-Modified-Since.
func Evaluate(h http.Header, hash *FileHash, modTime time.Time) Result {
	ifNoneMatch := h.Values("If-None-Match")
	hasNoneMatch := len(ifNoneMatch) > 0

	for _, raw := range ifNoneMatch {
		v, ok := ParseValidator(raw)
		if !ok {
			return Result{Outcome: BadRequest, Message: "Bad If-None-Match header: " + raw}
		}
		if v.AnyMatches(hash) {
			return Result{Outcome: NotModified}
		}
	}

	if ifMatch := h.Values("If-Match"); len(ifMatch) > 0 {
		anyMatch := false
		for _, raw := range ifMatch {
			v, ok := ParseValidator(raw)
			if !ok {
				return Result{Outcome: BadRequest, Message: "Bad If-Match header: " + raw}
			}
			if v.AnyMatches(hash) {
				anyMatch = true
				break
			}
		}
		if !anyMatch {
			return Result{Outcome: PreconditionFailed}
		}
	}

	if ius := h.Get("If-Unmodified-Since"); ius != "" || (!hasNoneMatch && h.Get("If-Modified-Since") != "") {
		notModified := false
		if !hasNoneMatch {
			for _, raw := range h.Values("If-Modified-Since") {
				t, err := parseHTTPDate(raw)
				if err != nil {
					return Result{Outcome: BadRequest, Message: "Invalid value '" + raw + "' in If-Modified-Since header: " + err.Error()}
				}
				if !modTime.After(t) {
					notModified = true
					break
				}
			}
		}
		for _, raw := range h.Values("If-Unmodified-Since") {
			t, err := parseHTTPDate(raw)
			if err != nil {
				return Result{Outcome: BadRequest, Message: "Invalid value '" + raw + "' in If-Unmodified-Since header: " + err.Error()}
			}
			if !t.After(modTime) {
				return Result{Outcome: PreconditionFailed}
			}
		}
		if notModified {
			return Result{Outcome: NotModified}
		}
	}

	return Result{Outcome: Proceed}
}

// parseHTTPDate accepts RFC 1123 (the format this server emits) and falls
// back to RFC 850 / ANSI C, matching net/http's own leniency.
func parseHTTPDate(value string) (time.Time, error) {
	for _, layout := range []string{http.TimeFormat, time.RFC850, time.ANSIC} {
		if t, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: http.TimeFormat, Value: value}
}

// LastModified formats modTime as the canonical Last-Modified header
// value (RFC 1123, always GMT).
func LastModified(modTime time.Time) string {
	return modTime.UTC().Format(http.TimeFormat)
}
