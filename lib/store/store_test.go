// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
)

// implementations lists every Store under test; the shared suite runs
// against each.
func implementations(t *testing.T) map[string]Store {
	t.Helper()
	dir, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	return map[string]Store{
		"mem": NewMemStore(),
		"dir": dir,
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	for name, impl := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			data := []byte("object payload")

			id, err := impl.Put(ctx, data)
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if id != content.HashObject(data) {
				t.Error("Put returned an id that is not the object hash")
			}

			got, err := impl.Get(ctx, id)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("Get returned %q, want %q", got, data)
			}

			has, err := impl.Has(ctx, id)
			if err != nil {
				t.Fatalf("Has: %v", err)
			}
			if !has {
				t.Error("Has reported a stored object as absent")
			}
		})
	}
}

func TestPutIsIdempotent(t *testing.T) {
	for name, impl := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := impl.Put(ctx, []byte("same bytes"))
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			second, err := impl.Put(ctx, []byte("same bytes"))
			if err != nil {
				t.Fatalf("second Put: %v", err)
			}
			if first != second {
				t.Errorf("ids differ for identical bytes: %s != %s", first, second)
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, impl := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			missing := content.HashObject([]byte("never stored"))

			if _, err := impl.Get(ctx, missing); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get: got %v, want ErrNotFound", err)
			}
			has, err := impl.Has(ctx, missing)
			if err != nil {
				t.Fatalf("Has: %v", err)
			}
			if has {
				t.Error("Has reported a missing object as present")
			}
		})
	}
}

func TestRefLifecycle(t *testing.T) {
	for name, impl := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := impl.Put(ctx, []byte("first"))
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			second, err := impl.Put(ctx, []byte("second"))
			if err != nil {
				t.Fatalf("Put: %v", err)
			}

			// Create: expected zero.
			if err := impl.UpdateRef(ctx, "topics/main", content.Hash{}, first); err != nil {
				t.Fatalf("creating ref: %v", err)
			}
			got, err := impl.GetRef(ctx, "topics/main")
			if err != nil {
				t.Fatalf("GetRef: %v", err)
			}
			if got != first {
				t.Errorf("ref points to %s, want %s", got.Short(), first.Short())
			}

			// Advance with correct expected.
			if err := impl.UpdateRef(ctx, "topics/main", first, second); err != nil {
				t.Fatalf("advancing ref: %v", err)
			}

			// Delete: zero target.
			if err := impl.UpdateRef(ctx, "topics/main", second, content.Hash{}); err != nil {
				t.Fatalf("deleting ref: %v", err)
			}
			if _, err := impl.GetRef(ctx, "topics/main"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetRef after delete: got %v, want ErrNotFound", err)
			}
		})
	}
}

func TestUpdateRefConflicts(t *testing.T) {
	for name, impl := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, _ := impl.Put(ctx, []byte("first"))
			second, _ := impl.Put(ctx, []byte("second"))

			if err := impl.UpdateRef(ctx, "r", content.Hash{}, first); err != nil {
				t.Fatalf("creating ref: %v", err)
			}

			// Stale expected value.
			err := impl.UpdateRef(ctx, "r", second, first)
			if !errors.Is(err, ErrRefConflict) {
				t.Errorf("stale update: got %v, want ErrRefConflict", err)
			}

			// Create over an existing ref.
			err = impl.UpdateRef(ctx, "r", content.Hash{}, second)
			if !errors.Is(err, ErrRefConflict) {
				t.Errorf("duplicate create: got %v, want ErrRefConflict", err)
			}
		})
	}
}

func TestUpdateRefValidatesNames(t *testing.T) {
	for name, impl := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			target, _ := impl.Put(ctx, []byte("x"))
			for _, bad := range []string{"", "/abs", "trail/", "a//b", "../escape", "with space", "a\tb"} {
				if err := impl.UpdateRef(ctx, bad, content.Hash{}, target); err == nil {
					t.Errorf("UpdateRef accepted ref name %q", bad)
				}
			}
		})
	}
}

func TestListRefs(t *testing.T) {
	for name, impl := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			target, _ := impl.Put(ctx, []byte("x"))
			for _, refName := range []string{"topics/b", "topics/a", "ids/one", "drop/policy"} {
				if err := impl.UpdateRef(ctx, refName, content.Hash{}, target); err != nil {
					t.Fatalf("creating %s: %v", refName, err)
				}
			}

			topics, err := impl.ListRefs(ctx, "topics/")
			if err != nil {
				t.Fatalf("ListRefs: %v", err)
			}
			if len(topics) != 2 || topics[0].Name != "topics/a" || topics[1].Name != "topics/b" {
				t.Errorf("ListRefs(topics/) = %+v, want sorted topics/a, topics/b", topics)
			}

			all, err := impl.ListRefs(ctx, "")
			if err != nil {
				t.Fatalf("ListRefs: %v", err)
			}
			if len(all) != 4 {
				t.Errorf("ListRefs(\"\") returned %d refs, want 4", len(all))
			}
		})
	}
}

func TestConcurrentRefUpdatesSingleWinner(t *testing.T) {
	for name, impl := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base, _ := impl.Put(ctx, []byte("base"))
			if err := impl.UpdateRef(ctx, "contended", content.Hash{}, base); err != nil {
				t.Fatalf("creating ref: %v", err)
			}

			const racers = 16
			var wins int
			var mu sync.Mutex
			var wg sync.WaitGroup
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					target, err := impl.Put(ctx, []byte{byte(n)})
					if err != nil {
						return
					}
					if impl.UpdateRef(ctx, "contended", base, target) == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()

			if wins != 1 {
				t.Errorf("%d racers won the compare-and-swap, want exactly 1", wins)
			}
		})
	}
}

func TestDirStoreDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	impl, err := NewDirStore(dir)
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	ctx := context.Background()

	id, err := impl.Put(ctx, []byte("pristine"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Flip the stored bytes behind the store's back.
	hexForm := id.String()
	path := filepath.Join(dir, "objects", hexForm[:2], hexForm[2:])
	if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tampering with object file: %v", err)
	}

	_, err = impl.Get(ctx, id)
	if err == nil {
		t.Fatal("Get returned corrupt bytes without error")
	}
	if !fault.Is(err, fault.CategoryIntegrity) {
		t.Errorf("corruption not categorized as integrity: %v", err)
	}
}

func TestDirStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewDirStore(dir)
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	id, err := first.Put(ctx, []byte("persistent"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := first.UpdateRef(ctx, "topics/main", content.Hash{}, id); err != nil {
		t.Fatalf("UpdateRef: %v", err)
	}

	reopened, err := NewDirStore(dir)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	data, err := reopened.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(data) != "persistent" {
		t.Errorf("object changed across reopen: %q", data)
	}
	target, err := reopened.GetRef(ctx, "topics/main")
	if err != nil {
		t.Fatalf("GetRef after reopen: %v", err)
	}
	if target != id {
		t.Errorf("ref changed across reopen: %s != %s", target.Short(), id.Short())
	}
}

func TestContextCancellation(t *testing.T) {
	impl := NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := impl.Put(ctx, []byte("x")); err == nil {
		t.Error("Put succeeded with canceled context")
	}
	if _, err := impl.GetRef(ctx, "r"); err == nil {
		t.Error("GetRef succeeded with canceled context")
	}
}
