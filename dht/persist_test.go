package dht

import (
	"net"
	"path/filepath"
	"testing"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.db")
	db, err := OpenStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	rt := New(ID{}, DefaultBucketSize)
	c := Contact{IP: net.IPv4(127, 0, 0, 1).To4(), Port: 6881, LastOkUnix: 42}
	c.ID[0] = 0x80
	rt.Insert(c)

	if err := Save(db, rt); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := New(ID{}, DefaultBucketSize)
	if err := Load(db, loaded); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Size() != 1 {
		t.Fatalf("loaded size = %d, want 1", loaded.Size())
	}
	got := loaded.Snapshot()[0]
	if got.ID != c.ID || got.Port != c.Port || got.LastOkUnix != c.LastOkUnix {
		t.Fatalf("loaded contact = %+v, want %+v", got, c)
	}
}

func TestLoadWithoutPriorSaveIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.db")
	db, err := OpenStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	rt := New(ID{}, DefaultBucketSize)
	if err := Load(db, rt); err != nil {
		t.Fatalf("load: %v", err)
	}
	if rt.Size() != 0 {
		t.Fatalf("expected empty table")
	}
}
