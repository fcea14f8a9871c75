package lockfile

import (
	"bytes"
	"testing"

	"github.com/rainoffallingstar/rv/internal/rv/resolve"
	"github.com/rainoffallingstar/rv/internal/rv/source"
	"github.com/rainoffallingstar/rv/internal/rv/version"
)

func sampleLockfile() Lockfile {
	return Lockfile{
		FormatVersion: CurrentFormatVersion,
		EngineVersion: "4.3.1",
		Arch:          "x86_64-pc-linux-gnu",
		Nodes: []resolve.LockedNode{
			{Name: "dplyr", Version: version.MustParse("1.1.3"), Source: source.Repo, RepoAlias: "A", Digest: "abc123"},
			{Name: "pkgA", Version: version.MustParse("0.1.0-rc1"), Source: source.Git, GitRepo: "https://example.com/pkgA.git", GitSHA: "deadbeef"},
		},
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	lf := sampleLockfile()
	var buf bytes.Buffer
	if err := WriteBinary(&buf, lf); err != nil {
		t.Fatal(err)
	}
	got, err := ReadBinary(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Nodes) != len(lf.Nodes) {
		t.Fatalf("node count = %d, want %d", len(got.Nodes), len(lf.Nodes))
	}
	for i := range lf.Nodes {
		if got.Nodes[i].Name != lf.Nodes[i].Name {
			t.Errorf("node %d name = %q, want %q", i, got.Nodes[i].Name, lf.Nodes[i].Name)
		}
		if got.Nodes[i].Version.String() != lf.Nodes[i].Version.String() {
			t.Errorf("node %d version = %q, want %q", i, got.Nodes[i].Version, lf.Nodes[i].Version)
		}
	}
}

func TestReadBinaryRejectsFormatMismatch(t *testing.T) {
	lf := sampleLockfile()
	lf.FormatVersion = CurrentFormatVersion + 1
	var buf bytes.Buffer
	if err := WriteBinary(&buf, lf); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadBinary(&buf); err == nil {
		t.Fatal("expected LockfileIncompatible error")
	}
}

func TestWriteJSONIncludesAllNodes(t *testing.T) {
	lf := sampleLockfile()
	var buf bytes.Buffer
	if err := WriteJSON(&buf, lf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("dplyr")) || !bytes.Contains(buf.Bytes(), []byte("pkgA")) {
		t.Errorf("expected both package names in JSON output: %s", buf.String())
	}
}
