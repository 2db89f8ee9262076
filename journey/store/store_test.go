package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// testRepository exercises the Repository contract against any backend.
func testRepository(t *testing.T, repo Repository) {
	ctx := context.Background()

	t.Run("Get missing", func(t *testing.T) {
		_, err := repo.Get(ctx, "workflow_process_info_missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveOrUpdate then Get", func(t *testing.T) {
		doc := []byte(`{"v":1}`)
		if err := repo.SaveOrUpdate(ctx, "workflow_process_info_c1", doc); err != nil {
			t.Fatalf("SaveOrUpdate failed: %v", err)
		}
		got, err := repo.Get(ctx, "workflow_process_info_c1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, doc) {
			t.Errorf("expected %s, got %s", doc, got)
		}

		doc2 := []byte(`{"v":2}`)
		if err := repo.SaveOrUpdate(ctx, "workflow_process_info_c1", doc2); err != nil {
			t.Fatalf("SaveOrUpdate replace failed: %v", err)
		}
		got, err = repo.Get(ctx, "workflow_process_info_c1")
		if err != nil {
			t.Fatalf("Get after replace failed: %v", err)
		}
		if !bytes.Equal(got, doc2) {
			t.Errorf("expected replacement %s, got %s", doc2, got)
		}
	})

	t.Run("Save rejects duplicates", func(t *testing.T) {
		if err := repo.Save(ctx, "workflow_process_info_dup", []byte(`{}`)); err != nil {
			t.Fatalf("first Save failed: %v", err)
		}
		err := repo.Save(ctx, "workflow_process_info_dup", []byte(`{}`))
		if !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("Update requires existence", func(t *testing.T) {
		err := repo.Update(ctx, "workflow_process_info_absent", []byte(`{}`))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.SaveOrUpdate(ctx, "workflow_process_info_up", []byte(`{"v":1}`)); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
		if err := repo.Update(ctx, "workflow_process_info_up", []byte(`{"v":2}`)); err != nil {
			t.Errorf("Update failed: %v", err)
		}
	})

	t.Run("Delete is idempotent", func(t *testing.T) {
		if err := repo.SaveOrUpdate(ctx, "workflow_process_info_del", []byte(`{}`)); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
		if err := repo.Delete(ctx, "workflow_process_info_del"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(ctx, "workflow_process_info_del"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected document gone, got %v", err)
		}
		if err := repo.Delete(ctx, "workflow_process_info_del"); err != nil {
			t.Errorf("deleting an absent key must not fail: %v", err)
		}
	})

	t.Run("GetAll filters by prefix and sorts", func(t *testing.T) {
		for _, key := range []string{
			"workflow_audit_c9_00002",
			"workflow_audit_c9_00001",
			"workflow_audit_c9_00003",
			"journey_orders",
		} {
			if err := repo.SaveOrUpdate(ctx, key, []byte(`{"k":"`+key+`"}`)); err != nil {
				t.Fatalf("seed %s failed: %v", key, err)
			}
		}
		docs, err := repo.GetAll(ctx, "workflow_audit_c9")
		if err != nil {
			t.Fatalf("GetAll failed: %v", err)
		}
		if len(docs) != 3 {
			t.Fatalf("expected 3 audit documents, got %d", len(docs))
		}
		for i, kd := range docs {
			want := fmt.Sprintf("workflow_audit_c9_%05d", i+1)
			if kd.Key != want {
				t.Errorf("position %d: expected %s, got %s", i, want, kd.Key)
			}
		}
	})

	t.Run("GetLocked reads the document", func(t *testing.T) {
		doc := []byte(`{"locked":true}`)
		if err := repo.SaveOrUpdate(ctx, "workflow_process_info_lk", doc); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
		got, err := repo.GetLocked(ctx, "workflow_process_info_lk")
		if err != nil {
			t.Fatalf("GetLocked failed: %v", err)
		}
		if !bytes.Equal(got, doc) {
			t.Errorf("expected %s, got %s", doc, got)
		}
	})

	t.Run("counters", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			got, err := repo.IncrCounter(ctx, "workflow_counter_c1")
			if err != nil {
				t.Fatalf("IncrCounter failed: %v", err)
			}
			if got != want {
				t.Errorf("expected %d, got %d", want, got)
			}
		}
		// Counters are independent per key.
		if got, err := repo.IncrCounter(ctx, "workflow_counter_c2"); err != nil || got != 1 {
			t.Errorf("expected fresh counter at 1, got %d, %v", got, err)
		}
		// Delete resets the counter along with any document.
		if err := repo.Delete(ctx, "workflow_counter_c1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if got, err := repo.IncrCounter(ctx, "workflow_counter_c1"); err != nil || got != 1 {
			t.Errorf("expected counter restarted at 1 after delete, got %d, %v", got, err)
		}
	})
}

func TestMemRepository(t *testing.T) {
	testRepository(t, NewMemRepository())
}

func TestMemRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemRepository()
	ctx := context.Background()

	doc := []byte(`{"v":1}`)
	if err := repo.SaveOrUpdate(ctx, "k", doc); err != nil {
		t.Fatalf("SaveOrUpdate failed: %v", err)
	}
	doc[2] = 'x'

	got, err := repo.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, []byte(`{"v":1}`)) {
		t.Errorf("stored document aliased the caller's slice: %s", got)
	}
	got[0] = 'x'
	again, _ := repo.Get(ctx, "k")
	if !bytes.Equal(again, []byte(`{"v":1}`)) {
		t.Errorf("returned document aliased internal storage: %s", again)
	}
}

func TestMemRepository_ConcurrentCounter(t *testing.T) {
	repo := NewMemRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.IncrCounter(ctx, "shared"); err != nil {
				t.Errorf("IncrCounter failed: %v", err)
			}
		}()
	}
	wg.Wait()
	final, err := repo.IncrCounter(ctx, "shared")
	if err != nil {
		t.Fatalf("final IncrCounter failed: %v", err)
	}
	if final != 51 {
		t.Errorf("expected 51 after 50 concurrent increments, got %d", final)
	}
}
