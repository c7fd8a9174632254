// Package localstore implements the local-repository resolver (C3):
// stat, lock, memory-map, and hash a file stored on disk, or list a
// directory's entries. Grounded on original_source/src/get/local.rs.
package localstore

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/edsrzf/mmap-go"
	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"

	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
)

// Timing is one Server-Timing phase contributed by a resolution step;
// Name matches the metric token used in the Server-Timing header, Desc
// is its human-readable description.
type Timing struct {
	Name string
	Desc string
	Dur  time.Duration
}

// File is a memory-mapped view of a local file, already hashed and with
// an advisory shared lock held for the lifetime of the mapping. Close
// must be called to release the mapping and the lock.
type File struct {
	Data    mmap.MMap
	Hash    [32]byte
	ModTime time.Time
	Size    int64
	Timings []Timing

	f *os.File
}

// NewFile constructs a File from an already-locked, already-mmapped
// handle. Used by callers outside this package (C6's revalidation) that
// perform their own lock/truncate/remap sequence but still want to hand
// the result back through the same File type C3 produces.
func NewFile(f *os.File, data mmap.MMap, hash [32]byte, modTime time.Time, size int64, timings []Timing) *File {
	return &File{f: f, Data: data, Hash: hash, ModTime: modTime, Size: size, Timings: timings}
}

// Raw returns the underlying open file handle, so a caller that needs to
// upgrade the shared lock this File was mapped under (C6's revalidation)
// can do so on the very same file descriptor rather than opening a
// second, independently-locked handle to the same inode.
func (r *File) Raw() *os.File { return r.f }

// Close unmaps the file and releases the shared lock.
func (r *File) Close() error {
	var err error
	if r.Data != nil {
		err = r.Data.Unmap()
	}
	if r.f != nil {
		_ = unix.Flock(int(r.f.Fd()), unix.LOCK_UN)
		if cerr := r.f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Entry is one child of a directory listing.
type Entry struct {
	Name  string
	IsDir bool
}

// Dir is a listing of one directory's immediate children.
type Dir struct {
	ModTime time.Time
	Entries []Entry
}

// Stat opens path, takes a shared advisory lock, memory-maps it, and
// computes its BLAKE3 hash. Directory handling depends on both flags:
//   - displayDir == false: any directory resolves as NotFound — the repo
//     config has hide_directory_listings set, so a directory path "fails
//     rather than lists" regardless of how it was requested.
//   - displayDir == true, hasTrailingSlash == true: a directory yields a
//     Dir listing.
//   - displayDir == true, hasTrailingSlash == false: a directory yields
//     isADir=true, so the caller can redirect to the trailing-slash form.
//
// Non-regular files (sockets, devices) are mapped the same as regular
// files — only the directory bit is special-cased, since everything
// inside a maven repo tree is expected to be a directory or a file.
func Stat(path string, hasTrailingSlash, displayDir bool) (file *File, dir *Dir, isADir bool, errs repoerr.List) {
	start := time.Now()

	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, false, repoerr.List{statErrKind(err)}
	}

	if info.IsDir() {
		if !displayDir {
			return nil, nil, false, repoerr.List{repoerr.New(repoerr.NotFound)}
		}
		if !hasTrailingSlash {
			return nil, nil, true, nil
		}
		dir, errs := readDir(path, info)
		return nil, dir, false, errs
	}

	var timings []Timing
	next := time.Now()
	timings = append(timings, Timing{
		Name: "resolveImplLocalFSMetadata",
		Desc: "Resolve Impl: Local: Query File Metadata",
		Dur:  next.Sub(start),
	})
	start = next

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, false, repoerr.List{openErrKind(err)}
	}

	next = time.Now()
	timings = append(timings, Timing{
		Name: "resolveImplLocalOpenFile",
		Desc: "Resolve Impl: Local: Opening File",
		Dur:  next.Sub(start),
	})
	start = next

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		f.Close()
		return nil, nil, false, repoerr.List{repoerr.Wrap(repoerr.FileLockFailed, err)}
	}

	next = time.Now()
	timings = append(timings, Timing{
		Name: "resolveImplLocalSharedFileLock",
		Desc: "Resolve Impl: Local: Acquiring Shared File Lock",
		Dur:  next.Sub(start),
	})
	start = next

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, nil, false, repoerr.List{repoerr.Wrap(repoerr.OpenFile, err)}
	}

	next = time.Now()
	timings = append(timings, Timing{
		Name: "resolveImplLocalMemMapFile",
		Desc: "Resolve Impl: Local: Memory Map file",
		Dur:  next.Sub(start),
	})
	start = next

	hash := blake3.Sum256(data)

	next = time.Now()
	timings = append(timings, Timing{
		Name: "resolveImplLocalETagFile",
		Desc: "Resolve Impl: Local: Calculate File ETag",
		Dur:  next.Sub(start),
	})

	return &File{
		Data:    data,
		Hash:    hash,
		ModTime: info.ModTime(),
		Size:    info.Size(),
		Timings: timings,
		f:       f,
	}, nil, false, nil
}

// IsSidecar reports whether name is a sidecar metadata filename
// (".<name>.json") that should be hidden from directory listings.
func IsSidecar(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".json")
}

func readDir(path string, info os.FileInfo) (*Dir, repoerr.List) {
	f, err := os.Open(path)
	if err != nil {
		return nil, repoerr.List{repoerr.Wrap(repoerr.ReadDirectory, err)}
	}
	defer f.Close()

	dirEntries, err := f.ReadDir(-1)
	if err != nil {
		return nil, repoerr.List{repoerr.Wrap(repoerr.ReadDirectoryEntry, err)}
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if !utf8.ValidString(name) {
			return nil, repoerr.List{repoerr.New(repoerr.ReadDirectoryEntryNonUTF8Name)}
		}
		if IsSidecar(name) {
			continue
		}
		isDir := de.IsDir()
		if de.Type()&os.ModeSymlink != 0 {
			target, statErr := os.Stat(path + string(os.PathSeparator) + name)
			if statErr != nil {
				return nil, repoerr.List{repoerr.Wrap(repoerr.ReadDirectoryEntryFileType, statErr)}
			}
			isDir = target.IsDir()
		}
		entries = append(entries, Entry{Name: name, IsDir: isDir})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return &Dir{ModTime: info.ModTime(), Entries: entries}, nil
}

func statErrKind(err error) *repoerr.Error {
	if os.IsNotExist(err) {
		return repoerr.New(repoerr.NotFound)
	}
	return repoerr.Wrap(repoerr.OpenFile, err)
}

func openErrKind(err error) *repoerr.Error {
	if os.IsNotExist(err) {
		return repoerr.New(repoerr.NotFound)
	}
	return repoerr.Wrap(repoerr.OpenFile, err)
}

// FormatHash renders a BLAKE3 digest as a lowercase hex string.
func FormatHash(hash [32]byte) string {
	return fmt.Sprintf("%x", hash)
}
