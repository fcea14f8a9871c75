package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/karrick/godirwalk"
)

// hashString returns a short, filesystem-safe hex digest of s, used to
// name the repos/<hash-of-url>/ and git/<hash-of-url>/ cache directories.
func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

func hashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeThenRename implements the cache's sole concurrency primitive:
// write to a temp file in the same directory, then rename over the
// destination. Concurrent writers to the same key are self-healing --
// last rename wins, and both writes were individually valid.
func writeThenRename(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := ioutil.TempFile(dir, filepath.Base(dest)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, dest)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// hardlinkTree recursively hard-links every regular file in src into dest,
// the preferred cheap-materialization fast path.
func hardlinkTree(src, dest string) error {
	return godirwalk.Walk(src, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			target := filepath.Join(dest, rel)
			if de.IsDir() {
				return os.MkdirAll(target, 0o755)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return os.Link(path, target)
		},
	})
}

// encodeIndexMeta/decodeIndexMeta pack the freshness timestamp and
// corrupt-read flag into the small fixed layout stored per BoltDB value.
func encodeIndexMeta(t time.Time, corrupt bool) []byte {
	buf := make([]byte, 9)
	binary.BigEndian.PutUint64(buf, uint64(t.Unix()))
	if corrupt {
		buf[8] = 1
	}
	return buf
}

func decodeIndexMeta(v []byte) (time.Time, bool, error) {
	if len(v) < 9 {
		return time.Time{}, false, nil
	}
	sec := int64(binary.BigEndian.Uint64(v[:8]))
	return time.Unix(sec, 0), v[8] == 1, nil
}
