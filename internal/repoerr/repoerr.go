// Package repoerr defines the closed error enumeration shared by every
// resolution, fetch, and publish component. Each kind carries the set of
// HTTP status codes it is allowed to resolve to; when several errors from
// independent branches must be collapsed into one outward response, their
// allowed-code sets are intersected to find the single narrowest status.
package repoerr

import (
	"fmt"
	"net/http"
)

// Kind is a closed enumeration of everything that can go wrong while
// resolving, fetching, or publishing an artifact.
type Kind int

const (
	MainConfigError Kind = iota
	OpenConfig
	ReadConfig
	ParseConfig

	NotFound

	OpenFile
	ReadDirectory
	ReadDirectoryEntry
	ReadDirectoryEntryNonUTF8Name
	ReadDirectoryEntryFileType

	Panicked

	InvalidUTF8
	BadRequestPath

	UpstreamRequestError
	UpstreamBodyReadError
	UpstreamStatus
	UpstreamFileTooLarge
	PutFileTooLarge

	FileCreateFailed
	FileWriteFailed
	FileFlushFailed
	FileSeekFailed
	FileLockFailed
	FileStartsWithDot

	PutConflict
	Unauthorized
	Forbidden
)

var messages = map[Kind]string{
	MainConfigError:               "error getting main config",
	OpenConfig:                    "error opening repo config file",
	ReadConfig:                    "error reading repo config",
	ParseConfig:                   "error parsing repo config",
	NotFound:                      "file or directory could not be found",
	OpenFile:                      "error whilst opening file",
	ReadDirectory:                 "error whilst reading directory",
	ReadDirectoryEntry:            "error whilst reading directory entries",
	ReadDirectoryEntryNonUTF8Name: "error: directory contains entries with non UTF-8 names",
	ReadDirectoryEntryFileType:    "error: failed to get the file-type of the directory entry",
	Panicked:                      "error: implementation panicked",
	InvalidUTF8:                   "error: request path included invalid utf-8 characters",
	BadRequestPath:                "error: request path failed sanity checks",
	UpstreamRequestError:          "error: failed to send a request to the upstream",
	UpstreamBodyReadError:         "error: failed to read the response of the upstream",
	UpstreamStatus:                "upstream repo responded with a non 200 status code",
	UpstreamFileTooLarge:          "the file from the remote is too large",
	PutFileTooLarge:               "the file is too large",
	FileCreateFailed:              "error: failed to create a file to write the upstream's response into",
	FileWriteFailed:               "error: failed to write to a local file",
	FileFlushFailed:               "error: failed to flush a local file",
	FileSeekFailed:                "error: failed to seek a local file",
	FileLockFailed:                "error: failed to lock a local file",
	FileStartsWithDot:             "error: refusing to contact upstream about files which start with a '.'",
	PutConflict:                   "error: target file already exists",
	Unauthorized:                  "error: authentication is required",
	Forbidden:                     "error: insufficient permissions for this path",
}

// allowedStatus is the ordered slice of HTTP statuses each Kind may
// legitimately resolve to; element 0 is the default outward status.
var allowedStatus = map[Kind][]int{
	MainConfigError:               {http.StatusInternalServerError},
	OpenConfig:                    {http.StatusInternalServerError},
	ReadConfig:                    {http.StatusInternalServerError},
	ParseConfig:                   {http.StatusInternalServerError},
	NotFound:                      {http.StatusNotFound, http.StatusInternalServerError},
	OpenFile:                      {http.StatusInternalServerError},
	ReadDirectory:                 {http.StatusInternalServerError},
	ReadDirectoryEntry:            {http.StatusInternalServerError},
	ReadDirectoryEntryNonUTF8Name: {http.StatusBadRequest, http.StatusInternalServerError},
	ReadDirectoryEntryFileType:    {http.StatusBadRequest, http.StatusInternalServerError},
	Panicked:                      {http.StatusInternalServerError},
	InvalidUTF8:                   {http.StatusBadRequest, http.StatusInternalServerError},
	BadRequestPath:                {http.StatusBadRequest, http.StatusInternalServerError},
	UpstreamRequestError:          {http.StatusInternalServerError},
	UpstreamBodyReadError:         {http.StatusInternalServerError},
	UpstreamStatus:                {http.StatusInternalServerError},
	UpstreamFileTooLarge:          {http.StatusInsufficientStorage, http.StatusInternalServerError},
	PutFileTooLarge:               {http.StatusRequestEntityTooLarge, http.StatusInternalServerError},
	FileCreateFailed:              {http.StatusInternalServerError},
	FileWriteFailed:               {http.StatusInternalServerError},
	FileFlushFailed:               {http.StatusInternalServerError},
	FileSeekFailed:                {http.StatusInternalServerError},
	FileLockFailed:                {http.StatusInternalServerError},
	FileStartsWithDot:             {http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	PutConflict:                   {http.StatusConflict, http.StatusInternalServerError},
	Unauthorized:                  {http.StatusUnauthorized, http.StatusInternalServerError},
	Forbidden:                     {http.StatusForbidden, http.StatusInternalServerError},
}

// Error is a single instance of a Kind, optionally wrapping the
// lower-level cause that produced it.
type Error struct {
	Kind  Kind
	Cause error
}

func New(kind Kind) *Error { return &Error{Kind: kind} }

func Wrap(kind Kind, cause error) *Error { return &Error{Kind: kind, Cause: cause} }

// Recover converts a value recovered from a panic into a Panicked error.
// Call it from a deferred recover() at the top of every fan-out worker
// goroutine so one bad branch degrades to an error instead of taking the
// process down.
func Recover(r interface{}) *Error {
	return Wrap(Panicked, fmt.Errorf("%v", r))
}

func (e *Error) Error() string {
	msg := messages[e.Kind]
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// AllowedStatusCodes returns the ordered set of statuses this kind may
// resolve to; the first entry is the default outward status.
func (e *Error) AllowedStatusCodes() []int {
	if codes, ok := allowedStatus[e.Kind]; ok {
		return codes
	}
	return []int{http.StatusInternalServerError}
}

// StatusCode returns the default (first) allowed status for this kind.
func (e *Error) StatusCode() int {
	codes := e.AllowedStatusCodes()
	if len(codes) == 0 {
		return http.StatusInternalServerError
	}
	return codes[0]
}

// List is a non-empty collection of Errors contributed by independent
// branches of the resolution pipeline.
type List []*Error

// Error renders one line of plain text per contributing error.
func (l List) Error() string {
	s := ""
	for i, e := range l {
		if i > 0 {
			s += "\n"
		}
		s += e.Error()
	}
	return s
}

// AggregateStatus intersects every contributing error's allowed-status set
// and returns the minimum code in the intersection (the narrowest,
// most client-facing status). An empty intersection (or list) defaults
// to 500.
func (l List) AggregateStatus() int {
	if len(l) == 0 {
		return http.StatusInternalServerError
	}

	counts := make(map[int]int)
	for _, e := range l {
		seen := make(map[int]bool)
		for _, code := range e.AllowedStatusCodes() {
			if !seen[code] {
				counts[code]++
				seen[code] = true
			}
		}
	}

	best := 0
	for code, n := range counts {
		if n != len(l) {
			continue
		}
		if best == 0 || code < best {
			best = code
		}
	}
	if best == 0 {
		return http.StatusInternalServerError
	}
	return best
}

// Body renders the user-visible plain-text body: one line per contributing
// error kind, no stack traces.
func (l List) Body() string { return l.Error() }
