// Package cache implements the content-addressed, version/architecture
// partitioned disk cache: repository indexes, downloaded archives, cloned
// git trees, and compiled binary packages, all behind a write-then-rename
// atomicity barrier with no process-wide lock.
//
// The small freshness/format-version metadata is kept in a single BoltDB
// file, using a bucket-per-key, epoch-gated design scaled down from a
// full version/revision cache to a pure freshness timestamp store.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	shutil "github.com/termie/go-shutil"
)

const (
	bucketIndexMeta  = "index-meta"
	bucketFormat     = "format"
	formatVersionKey = "version"

	// CurrentFormatVersion is incremented whenever the on-disk cache layout
	// changes shape; a mismatch invalidates the whole cache rather than
	// risking misreading stale entries.
	CurrentFormatVersion = 1
)

// EnvCacheDir is the environment variable overriding the
// platform-default cache root.
const EnvCacheDir = "RV_CACHE_DIR"

// Store is the root handle on the disk cache.
type Store struct {
	Root string
	db   *bolt.DB
}

// DefaultRoot resolves the platform cache-directory convention, honoring
// RV_CACHE_DIR when set.
func DefaultRoot() string {
	if v := os.Getenv(EnvCacheDir); v != "" {
		return v
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "rv")
}

// Open opens (creating if necessary) the disk cache rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating cache root %s", dir)
	}
	dbPath := filepath.Join(dir, "state.bincode")
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening cache state file %s", dbPath)
	}

	s := &Store{Root: dir, db: db}
	if err := s.checkFormatVersion(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the cache's state handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) checkFormatVersion() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketFormat))
		if err != nil {
			return err
		}
		existing := b.Get([]byte(formatVersionKey))
		if existing == nil {
			return b.Put([]byte(formatVersionKey), []byte{CurrentFormatVersion})
		}
		if existing[0] != CurrentFormatVersion {
			// A format bump invalidates prior cache contents outright; the
			// caller re-populates lazily on next fetch/materialize.
			for _, k := range []string{"repos", "archives", "git", "binaries"} {
				if err := os.RemoveAll(filepath.Join(s.Root, k)); err != nil {
					return err
				}
			}
			if err := tx.DeleteBucket([]byte(bucketIndexMeta)); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			return b.Put([]byte(formatVersionKey), []byte{CurrentFormatVersion})
		}
		return nil
	})
}

// IndexKey derives the cache key for a repository index, keyed by
// (repository URL, architecture, engine version).
func IndexKey(repoURL, engine, arch string) string {
	return hashString(repoURL) + "|" + engine + "|" + arch
}

// IndexMeta is the freshness metadata tracked per repository index.
type IndexMeta struct {
	FetchedAt       time.Time
	CorruptLastRead bool
}

func (s *Store) indexDir(key string) string {
	parts := splitKey(key)
	return filepath.Join(s.Root, "repos", parts[0], parts[1], parts[2])
}

func splitKey(key string) [3]string {
	// key is "<hash>|<engine>|<arch>"; split back into path segments.
	var out [3]string
	i, j := 0, 0
	seg := 0
	for j < len(key) && seg < 2 {
		if key[j] == '|' {
			out[seg] = key[i:j]
			seg++
			i = j + 1
		}
		j++
	}
	out[2] = key[i:]
	return out
}

// ReadIndex returns a cached index's raw bytes and metadata, if present.
func (s *Store) ReadIndex(key string) ([]byte, IndexMeta, bool, error) {
	path := filepath.Join(s.indexDir(key), "INDEX")
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, IndexMeta{}, false, nil
		}
		return nil, IndexMeta{}, false, err
	}

	var meta IndexMeta
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketIndexMeta))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		t, corrupt, perr := decodeIndexMeta(v)
		if perr != nil {
			return perr
		}
		meta = IndexMeta{FetchedAt: t, CorruptLastRead: corrupt}
		return nil
	})
	if err != nil {
		return nil, IndexMeta{}, false, err
	}
	return raw, meta, true, nil
}

// WriteIndex atomically stores a freshly-fetched index's raw bytes and
// fetch timestamp.
func (s *Store) WriteIndex(key string, raw []byte, fetchedAt time.Time) error {
	dir := s.indexDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeThenRename(filepath.Join(dir, "INDEX"), raw); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketIndexMeta))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), encodeIndexMeta(fetchedAt, false))
	})
}

// MarkCorrupt records that the last read of this index failed to parse, so
// the next Fetch call re-downloads once before surfacing
// RepositoryFetchFailed.
func (s *Store) MarkCorrupt(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketIndexMeta))
		if err != nil {
			return err
		}
		existing := b.Get([]byte(key))
		t := time.Time{}
		if existing != nil {
			t, _, _ = decodeIndexMeta(existing)
		}
		return b.Put([]byte(key), encodeIndexMeta(t, true))
	})
}

// ArchivePath returns the content-addressed path for an archive digest.
func (s *Store) ArchivePath(digest string) string {
	prefix := digest
	if len(prefix) > 2 {
		prefix = digest[:2]
	}
	return filepath.Join(s.Root, "archives", prefix, digest)
}

// HasArchive reports whether an archive with this digest is already cached
// and its contents hash back to the same digest.
func (s *Store) HasArchive(digest string) bool {
	path := s.ArchivePath(digest)
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	sum, err := hashReader(f)
	return err == nil && sum == digest
}

// WriteArchive streams r into the cache under a temp name, verifies its
// digest, then renames it into place. If digest is non-empty and doesn't
// match, the temp file is discarded and an error returned (callers map
// this to ArchiveDigestMismatch).
func (s *Store) WriteArchive(digest string, r io.Reader) (string, error) {
	tmp, err := ioutil.TempFile(s.Root, "archive-*.tmp")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	h := sha256.New()
	if _, err := io.Copy(tmp, io.TeeReader(r, h)); err != nil {
		tmp.Close()
		return "", err
	}
	tmp.Close()

	sum := hex.EncodeToString(h.Sum(nil))
	if digest != "" && sum != digest {
		return sum, errors.Errorf("downloaded archive digest %s does not match expected %s", sum, digest)
	}

	dest := s.ArchivePath(sum)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return sum, err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		// Cross-device or concurrent-writer races fall back to copy.
		if cerr := copyFile(tmpPath, dest); cerr != nil {
			return sum, cerr
		}
	}
	return sum, nil
}

// GitDir returns the clone directory for a git remote URL.
func (s *Store) GitDir(repoURL string) string {
	return filepath.Join(s.Root, "git", hashString(repoURL))
}

// BinaryDir returns the cache location for a compiled binary package
// result, keyed by (engine, arch, name, version, fingerprint) so builds
// are additionally keyed by a compile-flag fingerprint.
func (s *Store) BinaryDir(engine, arch, name, ver, fingerprint string) string {
	return filepath.Join(s.Root, "binaries", engine, arch, name+"-"+ver+"-"+fingerprint)
}

// Method names how Materialize placed a cache entry into the library.
type Method int

const (
	MethodHardLink Method = iota
	MethodReflinkOrCopy
	MethodSymlink
)

func (m Method) String() string {
	switch m {
	case MethodHardLink:
		return "hardlink"
	case MethodReflinkOrCopy:
		return "copy"
	case MethodSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Materialize links or copies a cache entry directory into the library:
// hard links preferred, then a plain recursive copy, then a symlink when
// the copy fails too. The destination filesystem is not inspected (no
// network-filesystem detection), and the copy step does not use reflink.
func (s *Store) Materialize(src, dest string) (Method, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}

	// Any hardlink failure -- cross-device or otherwise -- falls through
	// to the copy fallback below rather than failing materialize outright.
	// A partial failure leaves a half-built tree; each fallback starts from
	// a clean destination.
	if err := hardlinkTree(src, dest); err == nil {
		return MethodHardLink, nil
	}
	_ = os.RemoveAll(dest)

	if err := shutil.CopyTree(src, dest, nil); err == nil {
		return MethodReflinkOrCopy, nil
	}
	_ = os.RemoveAll(dest)

	if err := os.Symlink(src, dest); err != nil {
		return 0, errors.Wrapf(err, "materializing %s into %s", src, dest)
	}
	return MethodSymlink, nil
}

// Clear removes one cache subdirectory kind ("repos", "archives", "git",
// "binaries"), or everything when kind is "".
func (s *Store) Clear(kind string) error {
	if kind == "" {
		for _, k := range []string{"repos", "archives", "git", "binaries"} {
			if err := os.RemoveAll(filepath.Join(s.Root, k)); err != nil {
				return err
			}
		}
		return s.db.Update(func(tx *bolt.Tx) error {
			err := tx.DeleteBucket([]byte(bucketIndexMeta))
			if err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			return nil
		})
	}
	return os.RemoveAll(filepath.Join(s.Root, kind))
}

// SweepOrphanTemp removes temp files left behind by a crashed writer,
// tolerating another process's in-flight write to the same key.
func (s *Store) SweepOrphanTemp(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	return godirwalk.Walk(s.Root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			if filepath.Ext(path) != ".tmp" {
				return nil
			}
			fi, err := os.Stat(path)
			if err != nil {
				return nil
			}
			if fi.ModTime().Before(cutoff) {
				_ = os.Remove(path)
			}
			return nil
		},
		ErrorCallback: func(string, error) godirwalk.ErrorAction {
			return godirwalk.SkipNode
		},
	})
}
