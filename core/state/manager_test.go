package state

import (
	"testing"

	"solbox/storage"
)

type kvRecord struct {
	Name  string
	Value uint64
}

func TestManagerOverlayCommit(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	if err := mgr.KVPut([]byte("record"), kvRecord{Name: "a", Value: 7}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if len(db.Keys()) != 0 {
		t.Fatalf("write reached backend before commit")
	}
	var got kvRecord
	ok, err := mgr.KVGet([]byte("record"), &got)
	if err != nil || !ok || got.Value != 7 {
		t.Fatalf("overlay read: ok=%v err=%v got=%+v", ok, err, got)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if mgr.Dirty() != 0 {
		t.Fatalf("pending writes survived commit")
	}

	fresh := NewManager(db)
	ok, err = fresh.KVGet([]byte("record"), &got)
	if err != nil || !ok || got.Name != "a" {
		t.Fatalf("committed read: ok=%v err=%v got=%+v", ok, err, got)
	}
}

func TestManagerDiscard(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	if err := mgr.KVPut([]byte("record"), kvRecord{Value: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mgr.KVPut([]byte("record"), kvRecord{Value: 2}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.KVDelete([]byte("other")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	mgr.Discard()

	var got kvRecord
	if _, err := mgr.KVGet([]byte("record"), &got); err != nil || got.Value != 1 {
		t.Fatalf("discard did not restore committed value: %+v (%v)", got, err)
	}
}

func TestManagerDelete(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	if err := mgr.KVPut([]byte("record"), kvRecord{Value: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mgr.KVDelete([]byte("record")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mgr.KVGet([]byte("record"), nil); ok {
		t.Fatalf("deleted key still visible in overlay")
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(db.Keys()) != 0 {
		t.Fatalf("delete not applied to backend")
	}
}

func TestKVRejectsEmptyKey(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	if err := mgr.KVPut(nil, kvRecord{}); err == nil {
		t.Fatalf("expected empty key error")
	}
	if _, err := mgr.KVGet(nil, nil); err == nil {
		t.Fatalf("expected empty key error")
	}
}
