// Package library scans the on-disk project library and computes the
// fingerprint used to detect drift between what's installed and what a
// Resolution calls for.
package library

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"

	"github.com/rainoffallingstar/rv/internal/rv/source"
	"github.com/rainoffallingstar/rv/internal/rv/version"
)

const StagingDirName = ".staging"

// metaFileName holds the sidecar install metadata sync writes after a
// successful build/install, since a DESCRIPTION file alone can't tell
// Scan how a package got there.
const metaFileName = ".rv-installed.json"

// Entry is a single installed package in the project library.
type Entry struct {
	Name            string
	Version         version.Version
	Fingerprint     string
	Source          source.Kind
	Digest          string
	HasMeta         bool // whether a sidecar install record was found
	Drifted         bool // tree contents no longer match the recorded fingerprint
	BuiltFromSource bool // this system compiled it, rather than reusing a binary
}

// InstallMeta is the sidecar record sync writes into a package directory
// once a build/install completes, letting Scan recover the source kind,
// archive digest, build provenance, and install-time fingerprint that a
// bare DESCRIPTION file doesn't carry.
type InstallMeta struct {
	Source          source.Kind `json:"source"`
	Digest          string      `json:"digest,omitempty"`
	Fingerprint     string      `json:"fingerprint,omitempty"`
	BuiltFromSource bool        `json:"built_from_source,omitempty"`
}

// WriteMeta persists install metadata for pkgDir. Called by sync after a
// package is staged into the library.
func WriteMeta(pkgDir string, meta InstallMeta) error {
	f, err := os.Create(filepath.Join(pkgDir, metaFileName))
	if err != nil {
		return errors.Wrapf(err, "writing install metadata for %s", pkgDir)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(meta)
}

func readMeta(pkgDir string) (InstallMeta, bool) {
	f, err := os.Open(filepath.Join(pkgDir, metaFileName))
	if err != nil {
		return InstallMeta{}, false
	}
	defer f.Close()
	var m InstallMeta
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return InstallMeta{}, false
	}
	return m, true
}

// Path returns the on-disk directory for a (root, engineVersion, arch)
// library, honoring the manifest's optional unnamespaced override.
func Path(root, engineVersion, arch string, override bool) string {
	if override {
		return root
	}
	return filepath.Join(root, engineVersion, arch)
}

// Scan reads every installed package directory under dir, computing a
// content fingerprint for each from its DESCRIPTION file and tree
// contents. Entries whose metadata can't be read are skipped -- a
// library is allowed to contain scratch directories the manager doesn't
// own.
func Scan(dir string) (map[string]Entry, error) {
	out := map[string]Entry{}
	infos, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, errors.Wrapf(err, "scanning library %s", dir)
	}
	for _, fi := range infos {
		if !fi.IsDir() || fi.Name() == StagingDirName {
			continue
		}
		entry, err := describeInstalled(filepath.Join(dir, fi.Name()))
		if err != nil {
			continue
		}
		out[entry.Name] = entry
	}
	return out, nil
}

func describeInstalled(pkgDir string) (Entry, error) {
	descPath := filepath.Join(pkgDir, "DESCRIPTION")

	fp, err := Fingerprint(pkgDir)
	if err != nil {
		return Entry{}, err
	}

	name, ver, err := readNameVersion(descPath)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{Name: name, Version: ver, Fingerprint: fp}
	if meta, ok := readMeta(pkgDir); ok {
		entry.Source = meta.Source
		entry.Digest = meta.Digest
		entry.HasMeta = true
		entry.Drifted = meta.Fingerprint != "" && meta.Fingerprint != fp
		entry.BuiltFromSource = meta.BuiltFromSource
	}
	return entry, nil
}

func readNameVersion(descPath string) (string, version.Version, error) {
	f, err := os.Open(descPath)
	if err != nil {
		return "", version.Version{}, err
	}
	defer f.Close()
	d, err := parseMinimalDescription(f)
	if err != nil {
		return "", version.Version{}, err
	}
	return d.name, d.version, nil
}

type minimalDescription struct {
	name    string
	version version.Version
}

// parseMinimalDescription reads only Package/Version out of a DESCRIPTION
// file, avoiding a dependency on the full descriptor package (which also
// parses dependency edges the library scan doesn't need).
func parseMinimalDescription(f *os.File) (minimalDescription, error) {
	var d minimalDescription
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if v, ok := fieldValue(line, "Package"); ok {
			d.name = v
		}
		if v, ok := fieldValue(line, "Version"); ok {
			if parsed, err := version.Parse(v); err == nil {
				d.version = parsed
			}
		}
	}
	if d.name == "" {
		return d, errors.New("DESCRIPTION missing Package field")
	}
	return d, nil
}

func fieldValue(line, field string) (string, bool) {
	if !strings.HasPrefix(line, field+":") {
		return "", false
	}
	return strings.TrimSpace(line[len(field)+1:]), true
}

// Fingerprint computes a content-derived digest of an installed package
// tree sufficient to detect drift: the sorted relative file list and each
// file's size are folded into a single SHA-256.
func Fingerprint(dir string) (string, error) {
	h := sha256.New()
	var names []string
	sizes := map[string]int64{}

	err := godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			if rel == metaFileName {
				return nil // the sidecar is written after the fingerprint is recorded
			}
			fi, err := os.Stat(path)
			if err != nil {
				return nil
			}
			names = append(names, rel)
			sizes[rel] = fi.Size()
			return nil
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "fingerprinting %s", dir)
	}

	sort.Strings(names)
	for _, n := range names {
		h.Write([]byte(n))
		var sz [8]byte
		v := sizes[n]
		for i := 7; i >= 0; i-- {
			sz[i] = byte(v)
			v >>= 8
		}
		h.Write(sz[:])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
