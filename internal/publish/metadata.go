package publish

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vitaliisemenov/artifactproxy/internal/mavenmeta"
	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
)

// lockedMetadata is one maven-metadata.xml document opened for this
// publish operation, with its backing file still held under an
// exclusive advisory lock so nothing else observes a half-written
// update.
type lockedMetadata struct {
	path string
	f    *os.File
	doc  *mavenmeta.Metadata
}

// openMetadataLocked opens (creating if absent) the maven-metadata.xml
// at path, takes an exclusive flock, and parses its contents — or
// synthesizes a fresh default document if the file was empty or just
// created. Ported from path_info.rs's get_metadata_int(lock_exclusive=true).
func openMetadataLocked(path, groupID, artifactID, version string) (*lockedMetadata, *repoerr.Error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, repoerr.Wrap(repoerr.FileCreateFailed, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.OpenFile, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, repoerr.Wrap(repoerr.FileLockFailed, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, repoerr.Wrap(repoerr.ReadConfig, err)
	}

	var doc mavenmeta.Metadata
	if len(data) > 0 {
		if err := xml.Unmarshal(data, &doc); err != nil {
			unix.Flock(int(f.Fd()), unix.LOCK_UN)
			f.Close()
			return nil, repoerr.Wrap(repoerr.ParseConfig, err)
		}
	} else {
		doc = mavenmeta.Metadata{
			GroupID:    groupID,
			ArtifactID: artifactID,
			Versioning: mavenmeta.Versioning{
				Latest:      version,
				Release:     version,
				LastUpdated: timestampLastUpdated(),
			},
		}
	}

	return &lockedMetadata{path: path, f: f, doc: &doc}, nil
}

// writeBack truncates the locked file and rewrites the serialized
// document in place, still under the same exclusive lock.
func (lm *lockedMetadata) writeBack() *repoerr.Error {
	out, err := xml.MarshalIndent(lm.doc, "", "  ")
	if err != nil {
		return repoerr.Wrap(repoerr.FileWriteFailed, err)
	}
	out = append([]byte(xml.Header), out...)

	if err := lm.f.Truncate(0); err != nil {
		return repoerr.Wrap(repoerr.FileSeekFailed, err)
	}
	if _, err := lm.f.WriteAt(out, 0); err != nil {
		return repoerr.Wrap(repoerr.FileWriteFailed, err)
	}
	if err := lm.f.Sync(); err != nil {
		return repoerr.Wrap(repoerr.FileFlushFailed, err)
	}
	return nil
}

func (lm *lockedMetadata) unlockAndClose() {
	unix.Flock(int(lm.f.Fd()), unix.LOCK_UN)
	lm.f.Close()
}

// projectMetadataPath and versionMetadataPath locate the two
// maven-metadata.xml documents a deploy may need to touch: the
// project-level one (group/artifact/maven-metadata.xml) and, for
// snapshots only, the version-level one
// (group/artifact/version-SNAPSHOT/maven-metadata.xml).
func projectMetadataPath(repoRoot string, info *PathInfo) string {
	elems := append(append([]string{repoRoot}, info.Group...), info.Artifact, "maven-metadata.xml")
	return filepath.Join(elems...)
}

func versionMetadataPath(repoRoot string, info *PathInfo) string {
	elems := append(append([]string{repoRoot}, info.Group...), info.Artifact, info.Version+"-SNAPSHOT", "maven-metadata.xml")
	return filepath.Join(elems...)
}

// snapshotValue renders the <version>-<timestamp>-<buildNumber> token
// maven-metadata.xml uses to key a snapshotVersion entry.
func snapshotValue(info *PathInfo) string {
	return fmt.Sprintf("%s-%s-%d", info.Version, info.Snapshot.Timestamp, info.Snapshot.BuildNumber)
}

// applyPut updates the in-memory metadata documents for a successful
// PUT of info, returning the set of lockedMetadata that actually
// changed and so need writing back. Ported from
// path_info.rs's get_merged_metadata (PUT branch).
func applyPut(info *PathInfo, project, version *lockedMetadata) []*lockedMetadata {
	var dirty []*lockedMetadata

	if info.Snapshot == nil {
		if project.doc.AddVersion(info.Version) {
			dirty = append(dirty, project)
		}
		return stampLastUpdated(dirty)
	}

	version.doc.Versioning.Snapshot = &mavenmeta.Snapshot{
		Timestamp:   info.Snapshot.Timestamp,
		BuildNumber: info.Snapshot.BuildNumber,
	}
	version.doc.AddSnapshotVersion(mavenmeta.SnapshotVersion{
		Classifier: info.Classifier,
		Extension:  info.Extension,
		Value:      snapshotValue(info),
		Updated:    timestampLastUpdated(),
	})
	dirty = append(dirty, version)

	if project.doc.AddVersion(info.Version + "-SNAPSHOT") {
		dirty = append(dirty, project)
	}

	return stampLastUpdated(dirty)
}

// applyDelete mirrors applyPut for the DELETE path: it removes info's
// entries and, for a snapshot whose build happened to be the current
// highest, recomputes the pointer from the next-highest remaining
// build — or clears it if none remain.
func applyDelete(info *PathInfo, project, version *lockedMetadata) ([]*lockedMetadata, *repoerr.Error) {
	if info.Snapshot == nil {
		if project.doc.RemoveVersion(info.Version) {
			return stampLastUpdated([]*lockedMetadata{project}), nil
		}
		return nil, nil
	}

	value := snapshotValue(info)
	removed := removeSnapshotVersion(version.doc, value, info.Classifier, info.Extension)
	if !removed {
		return nil, nil
	}

	if snap := version.doc.Versioning.Snapshot; snap != nil &&
		snap.Timestamp == info.Snapshot.Timestamp && snap.BuildNumber == info.Snapshot.BuildNumber {
		if !hasSnapshotValue(version.doc, value) {
			if next, ok := version.doc.HighestSnapshotValue(); ok {
				ts, build, perr := splitSnapshotValue(next)
				if perr != nil {
					return nil, perr
				}
				version.doc.Versioning.Snapshot = &mavenmeta.Snapshot{Timestamp: ts, BuildNumber: build}
			} else {
				version.doc.Versioning.Snapshot = nil
			}
		}
	}

	return stampLastUpdated([]*lockedMetadata{version}), nil
}

func removeSnapshotVersion(doc *mavenmeta.Metadata, value, classifier, extension string) bool {
	if doc.Versioning.SnapshotVersion == nil {
		return false
	}
	list := doc.Versioning.SnapshotVersion.SnapshotVersion
	out := list[:0]
	removed := false
	for _, sv := range list {
		if sv.Value == value && sv.Classifier == classifier && sv.Extension == extension {
			removed = true
			continue
		}
		out = append(out, sv)
	}
	doc.Versioning.SnapshotVersion.SnapshotVersion = out
	return removed
}

func hasSnapshotValue(doc *mavenmeta.Metadata, value string) bool {
	if doc.Versioning.SnapshotVersion == nil {
		return false
	}
	for _, sv := range doc.Versioning.SnapshotVersion.SnapshotVersion {
		if sv.Value == value {
			return true
		}
	}
	return false
}

// splitSnapshotValue recovers (timestamp, buildNumber) from a
// "<version>-<timestamp>-<buildNumber>" value by splitting from the
// right, since the version component itself may contain dashes.
func splitSnapshotValue(value string) (string, uint64, *repoerr.Error) {
	lastDash := strings.LastIndex(value, "-")
	if lastDash < 0 {
		return "", 0, repoerr.New(repoerr.ParseConfig)
	}
	buildStr := value[lastDash+1:]
	rest := value[:lastDash]
	secondDash := strings.LastIndex(rest, "-")
	if secondDash < 0 {
		return "", 0, repoerr.New(repoerr.ParseConfig)
	}
	timestamp := rest[secondDash+1:]
	build, err := strconv.ParseUint(buildStr, 10, 64)
	if err != nil {
		return "", 0, repoerr.New(repoerr.ParseConfig)
	}
	return timestamp, build, nil
}

func stampLastUpdated(dirty []*lockedMetadata) []*lockedMetadata {
	now := timestampLastUpdated()
	for _, lm := range dirty {
		lm.doc.Versioning.LastUpdated = now
	}
	return dirty
}

// timestampLastUpdated renders the current UTC time the way
// maven-metadata.xml's lastUpdated field expects: YYYYMMDDhhmmss.
func timestampLastUpdated() string {
	return time.Now().UTC().Format("20060102150405")
}
