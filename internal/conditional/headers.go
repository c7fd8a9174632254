package conditional

import (
	"net/http"
	"strings"

	"github.com/vitaliisemenov/artifactproxy/internal/config"
)

var metadataSidecarSuffixes = []string{
	"maven-metadata.xml",
	"maven-metadata.xml.md5",
	"maven-metadata.xml.sha1",
	"maven-metadata.xml.sha256",
	"maven-metadata.xml.sha512",
}

// IsMetadataFile reports whether requestPath's trailing component is the
// project metadata document or one of its hash sidecars.
func IsMetadataFile(requestPath string) bool {
	name := requestPath
	if i := strings.LastIndexByte(requestPath, '/'); i >= 0 {
		name = requestPath[i+1:]
	}
	for _, suffix := range metadataSidecarSuffixes {
		if name == suffix {
			return true
		}
	}
	return false
}

// CacheControlHeaders selects the cache-control header set for a response
// per the rule: directory listings use cache_control_dir_listings, the
// maven-metadata document and its hash sidecars use
// cache_control_metadata, everything else uses cache_control_file.
func CacheControlHeaders(cfg *config.Config, requestPath string, isDirListing bool) []config.Header {
	switch {
	case isDirListing:
		return cfg.CacheControlDirListings
	case IsMetadataFile(requestPath):
		return cfg.CacheControlMetadata
	default:
		return cfg.CacheControlFile
	}
}

// ContentType picks the Content-Type for requestPath: application/xml for
// the metadata document itself, text/plain for its hash sidecars,
// otherwise "" (the caller falls back to octet-stream or extension
// inference per config).
func ContentType(requestPath string) string {
	name := requestPath
	if i := strings.LastIndexByte(requestPath, '/'); i >= 0 {
		name = requestPath[i+1:]
	}
	if name == "maven-metadata.xml" {
		return "application/xml"
	}
	for _, suffix := range metadataSidecarSuffixes[1:] {
		if name == suffix {
			return "text/plain"
		}
	}
	return ""
}

// ApplyHeaders writes header pairs onto w, in order, without
// deduplicating — repeated Cache-Control directives are valid and some
// configs intentionally add more than one.
func ApplyHeaders(w http.Header, headers []config.Header) {
	for _, h := range headers {
		w.Add(h.Name, h.Value)
	}
}
