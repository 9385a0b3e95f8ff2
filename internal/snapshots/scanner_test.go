package snapshots

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/snapguard-io/snapguard/internal/lsn"
)

func writeFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "00000000-00000001.snap", 100)
	writeFile(t, dir, "00000000-00000002.snap", 250)
	writeFile(t, dir, "00000001-00000000.snap", 42)

	descs, err := Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(descs) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(descs))
	}

	bySize := make(map[lsn.LSN]int64)
	for _, d := range descs {
		bySize[d.Position] = d.SizeBytes
	}
	if bySize[lsn.Make(0, 1)] != 100 {
		t.Errorf("expected size 100 for 0/1, got %d", bySize[lsn.Make(0, 1)])
	}
	if bySize[lsn.Make(0, 2)] != 250 {
		t.Errorf("expected size 250 for 0/2, got %d", bySize[lsn.Make(0, 2)])
	}
	if bySize[lsn.Make(1, 0)] != 42 {
		t.Errorf("expected size 42 for 1/0, got %d", bySize[lsn.Make(1, 0)])
	}
}

func TestScanSkipsNonSnapshotEntries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "00000000-00000001.snap", 10)
	writeFile(t, dir, "ZZZZZZZZ.snap", 10)
	writeFile(t, dir, "state.dat", 10)
	writeFile(t, dir, ".hidden", 10)
	if err := os.Mkdir(filepath.Join(dir, "00000000-00000002.snap"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	descs, err := Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(descs) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(descs))
	}
	if descs[0].Position != lsn.Make(0, 1) {
		t.Errorf("expected position 0/1, got %s", descs[0].Position)
	}
}

func TestScanEmptyDir(t *testing.T) {
	descs, err := Scan(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(descs) != 0 {
		t.Fatalf("expected no descriptors, got %d", len(descs))
	}
}

func TestScanMissingDirFails(t *testing.T) {
	_, err := Scan(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestTotalSize(t *testing.T) {
	descs := []Descriptor{
		{Position: lsn.Make(0, 1), SizeBytes: 100},
		{Position: lsn.Make(0, 2), SizeBytes: 250},
	}
	if got := TotalSize(descs); got != 350 {
		t.Errorf("expected total 350, got %d", got)
	}
	if got := TotalSize(nil); got != 0 {
		t.Errorf("expected total 0 for nil, got %d", got)
	}
}
