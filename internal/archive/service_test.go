package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestPageArchiveLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsurePageRepo("page-1", "# Hello\n", "Avery"); err != nil {
		t.Fatalf("EnsurePageRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "page-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	// Re-ensuring is a no-op.
	if err := svc.EnsurePageRepo("page-1", "ignored", "Avery"); err != nil {
		t.Fatalf("EnsurePageRepo() second call error = %v", err)
	}

	commit, err := svc.CommitRevision("page-1", "# Hello\n\nEdited.\n", "Avery", "Update /hello")
	if err != nil {
		t.Fatalf("CommitRevision() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	history, err := svc.History("page-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
	if history[0].Message != "Update /hello" {
		t.Errorf("newest commit first, got %q", history[0].Message)
	}

	body, err := svc.GetBodyByHash("page-1", commit.Hash)
	if err != nil {
		t.Fatalf("GetBodyByHash() error = %v", err)
	}
	if !strings.Contains(body, "Edited.") {
		t.Fatalf("unexpected archived body: %q", body)
	}
}

func TestConcurrentCommitsSamePage(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsurePageRepo("page-1", "v0", "Avery"); err != nil {
		t.Fatalf("EnsurePageRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			body := fmt.Sprintf("version %02d", idx)
			if _, err := svc.CommitRevision("page-1", body, "Avery", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitRevision() concurrent error = %v", err)
		}
	}

	history, err := svc.History("page-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) < writers+1 {
		t.Fatalf("expected at least %d commits, got %d", writers+1, len(history))
	}
}
