// Package publish implements the PUT pipeline (C10): parse a deploy
// path into its Maven coordinates, stream the uploaded body to disk
// while hashing it four ways, write the hash sidecars, and update the
// project- and version-level maven-metadata.xml documents under
// exclusive lock. Grounded on original_source/src/path_info.rs (path
// parsing, get_merged_metadata) and original_source/src/put.rs
// (streaming-hash writer, sidecar/rollback sequence).
package publish

import (
	"strconv"
	"strings"

	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
)

// SnapshotInfo is the timestamp/build-number pair embedded in a
// snapshot artifact's filename.
type SnapshotInfo struct {
	Timestamp   string
	BuildNumber uint64
}

// PathInfo is a deploy path decomposed into its Maven coordinates.
type PathInfo struct {
	Group      []string
	Artifact   string
	Version    string
	Snapshot   *SnapshotInfo
	Classifier string
	Extension  string
}

// DottedGroup renders Group the way maven-metadata.xml's groupId field
// expects: dot-joined, not slash-joined.
func (p *PathInfo) DottedGroup() string { return strings.Join(p.Group, ".") }

// ParsePath decomposes a slash-separated deploy path into Maven
// coordinates, working from the last component backwards: filename,
// then version, then artifact; everything left over (in original order)
// is the group. Ported from path_info.rs's PathInfo::parse, with one
// deliberate correction: the reference implementation requires a
// second dash inside the snapshot filename's remainder even when there
// is no classifier, which would reject the canonical
// "<artifact>-<version>-<timestamp>-<buildNumber>.<ext>" filename with
// no classifier segment. Here the second split is optional: an absent
// second dash just means "no classifier", matching what real Maven
// clients actually upload.
func ParsePath(path string) (*PathInfo, *repoerr.Error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 {
		return nil, repoerr.New(repoerr.BadRequestPath)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return nil, repoerr.New(repoerr.BadRequestPath)
		}
	}

	n := len(parts)
	filename := parts[n-1]
	version := parts[n-2]
	artifact := parts[n-3]
	group := append([]string(nil), parts[:n-3]...)
	if len(group) == 0 {
		return nil, repoerr.New(repoerr.BadRequestPath)
	}

	bareVersion, isSnapshot := strings.CutSuffix(version, "-SNAPSHOT")

	name := filename
	ext := ""
	if i := strings.LastIndex(name, "."); i >= len(artifact)+1+len(bareVersion) {
		ext = name[i+1:]
		name = name[:i]
	}

	rest, ok := strings.CutPrefix(name, artifact+"-")
	if !ok {
		return nil, repoerr.New(repoerr.BadRequestPath)
	}

	if rest == bareVersion {
		rest = ""
	} else {
		rest, ok = strings.CutPrefix(rest, bareVersion+"-")
		if !ok {
			return nil, repoerr.New(repoerr.BadRequestPath)
		}
	}

	info := &PathInfo{Group: group, Artifact: artifact, Version: bareVersion, Extension: ext}

	if isSnapshot {
		timestamp, remainder, ok := strings.Cut(rest, "-")
		if !ok {
			return nil, repoerr.New(repoerr.BadRequestPath)
		}
		buildStr, classifier, hasClassifier := strings.Cut(remainder, "-")
		if !hasClassifier {
			buildStr = remainder
			classifier = ""
		}
		build, err := strconv.ParseUint(buildStr, 10, 64)
		if err != nil {
			return nil, repoerr.New(repoerr.BadRequestPath)
		}
		info.Snapshot = &SnapshotInfo{Timestamp: timestamp, BuildNumber: build}
		info.Classifier = classifier
	} else if rest != "" {
		info.Classifier = rest
	}

	return info, nil
}
