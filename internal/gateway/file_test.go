package gateway

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

func newTestGateway(t *testing.T) *FileGateway {
	t.Helper()
	return NewFileGateway(t.TempDir())
}

func TestFilePutAndGet(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	doc := []byte(`{"campaign_id":"spring-rome"}`)
	if err := g.Put(ctx, StateKey("spring-rome"), doc); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := g.Get(ctx, StateKey("spring-rome"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(doc) {
		t.Errorf("Get = %q, want %q", got, doc)
	}

	// Documents live under one directory per campaign.
	if _, err := os.Stat(filepath.Join(g.BaseDir(), "spring-rome", "workflow-state")); err != nil {
		t.Errorf("expected state file on disk: %v", err)
	}
}

func TestFileGetNotFound(t *testing.T) {
	g := newTestGateway(t)

	_, err := g.Get(context.Background(), StateKey("missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get err = %v, want ErrNotFound", err)
	}
}

func TestFileExists(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	key := HandoffKey("c1", pipeline.StageContent, pipeline.StageDesign)
	ok, err := g.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Error("Exists should be false before Put")
	}
	if err := g.Put(ctx, key, []byte("{}")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err = g.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Error("Exists should be true after Put")
	}

	// A directory is not a document.
	ok, _ = g.Exists(ctx, "c1/handoffs")
	if ok {
		t.Error("directory should not count as a document")
	}
}

func TestFileRejectsEscapingKeys(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	for _, key := range []string{"", "/etc/passwd", "../outside", "c1/../../x", "c1//x", "c1/.tmp-123"} {
		if err := g.Put(ctx, key, []byte("x")); err == nil {
			t.Errorf("Put(%q) should fail", key)
		}
	}
}

func TestFileList(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	_ = g.Put(ctx, StateKey("b"), []byte("{}"))
	_ = g.Put(ctx, StateKey("a"), []byte("{}"))
	_ = g.Put(ctx, ContextKey("a", pipeline.StageContent), []byte("{}"))
	_ = g.Put(ctx, ArtifactKey("a", "trend-analysis"), []byte("{}"))

	keys, err := g.List(ctx, "a/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"a/artifacts/trend-analysis", "a/content-context", "a/workflow-state"}
	if len(keys) != len(want) {
		t.Fatalf("List = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}

	ids, err := CampaignIDs(ctx, g)
	if err != nil {
		t.Fatalf("CampaignIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("CampaignIDs = %v, want [a b]", ids)
	}
}

func TestFileListEmptyBaseDir(t *testing.T) {
	g := NewFileGateway(filepath.Join(t.TempDir(), "does-not-exist"))

	keys, err := g.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("List returned %d, want 0", len(keys))
	}
}

func TestFileDelete(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	_ = g.Put(ctx, StateKey("gone"), []byte("{}"))
	if err := g.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := g.Get(ctx, StateKey("gone")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete err = %v, want ErrNotFound", err)
	}
	if err := g.Delete(ctx, "gone"); err == nil {
		t.Error("expected error deleting missing campaign")
	}
}

func TestFileCancelledContext(t *testing.T) {
	g := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := g.Put(ctx, StateKey("c"), []byte("{}")); !errors.Is(err, context.Canceled) {
		t.Errorf("Put err = %v, want context.Canceled", err)
	}
}

func TestAtomicWriteCleanup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")

	data := []byte(`{"key": "value"}`)
	if err := WriteAtomic(path, data); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("content = %q, want %q", got, data)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "test.json" {
			t.Errorf("unexpected leftover file %q", e.Name())
		}
	}
}

func TestFileConcurrentPuts(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Put(ctx, StateKey("race"), []byte(`{"ok":true}`))
		}()
	}
	wg.Wait()

	got, err := g.Get(ctx, StateKey("race"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"ok":true}` {
		t.Errorf("Get = %q", got)
	}
}
