// Package mavenmeta holds the maven-metadata.xml document types, ported
// field-for-field from the reference implementation's schema.
package mavenmeta

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// Metadata is the project- or version-level maven-metadata.xml document.
type Metadata struct {
	XMLName    xml.Name   `xml:"metadata"`
	GroupID    string     `xml:"groupId"`
	ArtifactID string     `xml:"artifactId"`
	Versioning Versioning `xml:"versioning"`
}

type Versioning struct {
	Latest          string            `xml:"latest,omitempty"`
	Release         string            `xml:"release,omitempty"`
	Versions        *Versions         `xml:"versions,omitempty"`
	Snapshot        *Snapshot         `xml:"snapshot,omitempty"`
	SnapshotVersion *SnapshotVersions `xml:"snapshotVersions,omitempty"`
	LastUpdated     string            `xml:"lastUpdated,omitempty"`
}

type Versions struct {
	Version []string `xml:"version"`
}

type Snapshot struct {
	Timestamp   string `xml:"timestamp"`
	BuildNumber uint64 `xml:"buildNumber"`
}

type SnapshotVersions struct {
	SnapshotVersion []SnapshotVersion `xml:"snapshotVersion"`
}

type SnapshotVersion struct {
	Classifier string `xml:"classifier,omitempty"`
	Extension  string `xml:"extension,omitempty"`
	Value      string `xml:"value"`
	Updated    string `xml:"updated"`
}

// AddVersion inserts v into the project-level versions set if not already
// present, reporting whether the set changed.
func (md *Metadata) AddVersion(v string) bool {
	if md.Versioning.Versions == nil {
		md.Versioning.Versions = &Versions{}
	}
	for _, existing := range md.Versioning.Versions.Version {
		if existing == v {
			return false
		}
	}
	md.Versioning.Versions.Version = append(md.Versioning.Versions.Version, v)
	return true
}

// RemoveVersion removes v from the project-level versions set, reporting
// whether it was present.
func (md *Metadata) RemoveVersion(v string) bool {
	if md.Versioning.Versions == nil {
		return false
	}
	out := md.Versioning.Versions.Version[:0]
	removed := false
	for _, existing := range md.Versioning.Versions.Version {
		if existing == v {
			removed = true
			continue
		}
		out = append(out, existing)
	}
	md.Versioning.Versions.Version = out
	return removed
}

// AddSnapshotVersion inserts sv into the snapshot_versions set, replacing
// any prior entry with the same (classifier, extension) pair.
func (md *Metadata) AddSnapshotVersion(sv SnapshotVersion) {
	if md.Versioning.SnapshotVersion == nil {
		md.Versioning.SnapshotVersion = &SnapshotVersions{}
	}
	list := md.Versioning.SnapshotVersion.SnapshotVersion
	for i, existing := range list {
		if existing.Classifier == sv.Classifier && existing.Extension == sv.Extension {
			list[i] = sv
			return
		}
	}
	md.Versioning.SnapshotVersion.SnapshotVersion = append(list, sv)
}

// HighestSnapshotValue returns the `value` field of the snapshot_versions
// entry with the numerically highest build number, used to recompute the
// snapshot pointer after a DELETE removes the current highest build.
func (md *Metadata) HighestSnapshotValue() (string, bool) {
	if md.Versioning.SnapshotVersion == nil || len(md.Versioning.SnapshotVersion.SnapshotVersion) == 0 {
		return "", false
	}
	build := func(value string) uint64 {
		n, _ := strconv.ParseUint(value[strings.LastIndex(value, "-")+1:], 10, 64)
		return n
	}
	best := md.Versioning.SnapshotVersion.SnapshotVersion[0]
	for _, sv := range md.Versioning.SnapshotVersion.SnapshotVersion[1:] {
		if build(sv.Value) > build(best.Value) {
			best = sv
		}
	}
	return best.Value, true
}
