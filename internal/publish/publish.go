package publish

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vitaliisemenov/artifactproxy/internal/config"
	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
)

// Result describes a successful publish: the coordinates that were
// deployed and the digests computed while streaming the body to disk.
type Result struct {
	Info   *PathInfo
	MD5    string
	SHA1   string
	SHA256 string
	SHA512 string
}

// hashSuffixes lists, in the order they are written, the sidecar
// extension and digest function for each of the four hashes a deploy
// gets. Grounded on put.rs's write_file_hash! invocations (md5, sha1,
// sha256, sha512, in that order).
var hashSuffixes = []struct {
	suffix string
	new    func() hash.Hash
}{
	{"md5", md5.New},
	{"sha1", sha1.New},
	{"sha256", sha256.New},
	{"sha512", sha512.New},
}

// Put writes body to repoRoot/reqPath, computing its four content
// hashes as it streams, writes the four hash sidecars, and folds the
// new coordinate into the project- and (for snapshots) version-level
// maven-metadata.xml documents — all under an exclusive lock on the
// metadata so concurrent deploys never interleave. Any failure after
// the target file is created rolls back every file this call created.
//
// A repo with any upstream configured never accepts deploys — it is a
// mirror, not a terminal repo (grounded on put.rs's 403 "forbidden to
// deploy to a repo which has remotes").
func Put(logger *slog.Logger, cfg *config.Config, repoRoot, reqPath string, body io.Reader) (*Result, *repoerr.Error) {
	if cfg.HasUpstreams() {
		return nil, repoerr.New(repoerr.Forbidden)
	}

	info, perr := ParsePath(reqPath)
	if perr != nil {
		return nil, perr
	}
	limit := int64(cfg.EffectiveMaxFileSize())

	targetPath := filepath.Join(repoRoot, filepath.FromSlash(reqPath))
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		logger.Error("publish: failed to create parent directories", "path", targetPath, "error", err)
		return nil, repoerr.Wrap(repoerr.FileCreateFailed, err)
	}

	f, err := os.OpenFile(targetPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, repoerr.New(repoerr.PutConflict)
		}
		logger.Error("publish: failed to create target file", "path", targetPath, "error", err)
		return nil, repoerr.Wrap(repoerr.FileCreateFailed, err)
	}

	created := []string{targetPath}
	rollback := func() {
		for _, p := range created {
			if rerr := os.Remove(p); rerr != nil && !os.IsNotExist(rerr) {
				logger.Error("publish: failed to roll back file after error", "path", p, "error", rerr)
			}
		}
	}

	digests, werr := writeHashed(f, body, limit)
	closeErr := f.Close()
	if werr != nil {
		rollback()
		return nil, werr
	}
	if closeErr != nil {
		rollback()
		return nil, repoerr.Wrap(repoerr.FileFlushFailed, closeErr)
	}

	for i, hs := range hashSuffixes {
		sidecarPath := hashSidecarPath(targetPath, hs.suffix)
		if err := writeHashSidecar(sidecarPath, digests[i]); err != nil {
			logger.Error("publish: failed to write hash sidecar", "path", sidecarPath, "error", err)
			rollback()
			return nil, repoerr.Wrap(repoerr.FileCreateFailed, err)
		}
		created = append(created, sidecarPath)
	}

	if perr := updateMetadata(repoRoot, info); perr != nil {
		rollback()
		return nil, perr
	}

	return &Result{
		Info:   info,
		MD5:    digests[0],
		SHA1:   digests[1],
		SHA256: digests[2],
		SHA512: digests[3],
	}, nil
}

// hashSidecarPath appends ".<suffix>" after the target's existing
// extension, or sets it as the extension if the target has none —
// "artifact-1.0.jar" + "md5" -> "artifact-1.0.jar.md5". Ported from
// put.rs's write_file_hash! path construction.
func hashSidecarPath(targetPath, suffix string) string {
	return targetPath + "." + suffix
}

// writeHashed copies body into f, limited to limit bytes, while
// feeding every written chunk through all four digest functions at
// once via io.MultiWriter.
func writeHashed(f *os.File, body io.Reader, limit int64) ([4]string, *repoerr.Error) {
	var digests [4]string
	hashers := make([]hash.Hash, len(hashSuffixes))
	writers := make([]io.Writer, 0, len(hashSuffixes)+1)
	writers = append(writers, f)
	for i, hs := range hashSuffixes {
		hashers[i] = hs.new()
		writers = append(writers, hashers[i])
	}

	limited := &limitedReader{r: body, limit: limit}
	if _, err := io.Copy(io.MultiWriter(writers...), limited); err != nil {
		if limited.exceeded {
			return digests, repoerr.New(repoerr.PutFileTooLarge)
		}
		return digests, repoerr.Wrap(repoerr.FileWriteFailed, err)
	}

	for i, h := range hashers {
		digests[i] = hex.EncodeToString(h.Sum(nil))
	}
	return digests, nil
}

// limitedReader errors on the first Read made after limit bytes have
// been read, so a body of exactly limit bytes is rejected too,
// distinguishing that condition (exceeded=true) from a genuine
// upstream read error. Grounded on put.rs's WriteFile::poll_write
// limit check.
type limitedReader struct {
	r        io.Reader
	limit    int64
	read     int64
	exceeded bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.read >= l.limit {
		l.exceeded = true
		return 0, io.ErrClosedPipe
	}
	if remaining := l.limit - l.read; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	return n, err
}

func writeHashSidecar(path, digest string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(digest)
	return err
}

// updateMetadata opens the project-level (and, for snapshots, the
// version-level) maven-metadata.xml under exclusive lock, folds in
// info's new coordinate, and writes back only the documents that
// actually changed.
func updateMetadata(repoRoot string, info *PathInfo) *repoerr.Error {
	projectPath := projectMetadataPath(repoRoot, info)
	project, perr := openMetadataLocked(projectPath, info.DottedGroup(), info.Artifact, info.Version)
	if perr != nil {
		return perr
	}
	defer project.unlockAndClose()

	var version *lockedMetadata
	if info.Snapshot != nil {
		versionPath := versionMetadataPath(repoRoot, info)
		v, perr := openMetadataLocked(versionPath, info.DottedGroup(), info.Artifact, info.Version)
		if perr != nil {
			return perr
		}
		defer v.unlockAndClose()
		version = v
	}

	dirty := applyPut(info, project, version)
	for _, lm := range dirty {
		if perr := lm.writeBack(); perr != nil {
			return perr
		}
	}
	return nil
}
