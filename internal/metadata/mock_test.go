package metadata

import (
	"context"
	"errors"
	"testing"
)

func TestMockStorePutGet(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	v, err := store.Put(ctx, "/a", []byte("one"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, "/a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Exists || string(got.Value) != "one" || got.Version != v {
		t.Errorf("Get = %+v, want value one at version %d", got, v)
	}

	missing, err := store.Get(ctx, "/missing")
	if err != nil || missing.Exists {
		t.Errorf("Get(missing) = %+v, %v", missing, err)
	}
}

func TestMockStoreCAS(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	if _, err := store.Put(ctx, "/k", []byte("x"), IfAbsent()); err != nil {
		t.Fatalf("create with version 0: %v", err)
	}
	if _, err := store.Put(ctx, "/k", []byte("y"), IfAbsent()); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("second create = %v, want ErrVersionMismatch", err)
	}
	if err := store.Delete(ctx, "/k", IfVersion(99)); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("conditional delete = %v, want ErrVersionMismatch", err)
	}
}

func TestMockStoreListAndDeleteRange(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	for _, k := range []string{"/w/003", "/w/001", "/w/002", "/x/001"} {
		if _, err := store.Put(ctx, k, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.List(ctx, "/w/", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Key != "/w/001" || all[2].Key != "/w/003" {
		t.Fatalf("prefix list = %v", all)
	}

	limited, _ := store.List(ctx, "/w/", "", 1)
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d results", len(limited))
	}

	ranged, _ := store.List(ctx, "/w/002", "/w/003", 0)
	if len(ranged) != 1 || ranged[0].Key != "/w/002" {
		t.Errorf("range list = %v", ranged)
	}

	if err := store.DeleteRange(ctx, "/w/001", "/w/003"); err != nil {
		t.Fatal(err)
	}
	rest, _ := store.List(ctx, "/w/", "", 0)
	if len(rest) != 1 || rest[0].Key != "/w/003" {
		t.Errorf("after DeleteRange = %v", rest)
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}
}

func TestMockStoreEphemeral(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	if _, err := store.Put(ctx, "/lock", []byte("a"), Ephemeral(), IfAbsent()); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(ctx, "/lock", []byte("b"), Ephemeral(), IfAbsent()); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("second acquire = %v, want ErrVersionMismatch", err)
	}
	if _, err := store.Put(ctx, "/state", []byte("s")); err != nil {
		t.Fatal(err)
	}
	if store.CallCount(OpPutEphemeral) != 2 || store.CallCount(OpPut) != 1 {
		t.Errorf("calls = %d ephemeral, %d plain", store.CallCount(OpPutEphemeral), store.CallCount(OpPut))
	}

	store.ExpireSession()
	if got, _ := store.Get(ctx, "/lock"); got.Exists {
		t.Error("ephemeral key survived session expiry")
	}
	if got, _ := store.Get(ctx, "/state"); !got.Exists {
		t.Error("persistent key dropped on session expiry")
	}
	if _, err := store.Put(ctx, "/lock", []byte("c"), Ephemeral(), IfAbsent()); err != nil {
		t.Errorf("acquire after expiry: %v", err)
	}
}

func TestMockStoreVersionsIncrease(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	v1, err := store.Put(ctx, "/a", []byte("1"))
	if err != nil {
		t.Fatal(err)
	}
	v2, err := store.Put(ctx, "/a", []byte("2"), IfVersion(v1))
	if err != nil {
		t.Fatalf("CAS at current version: %v", err)
	}
	if v2 <= v1 {
		t.Errorf("version %d after %d, want increase", v2, v1)
	}
	if _, err := store.Put(ctx, "/a", []byte("3"), IfVersion(v1)); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("CAS at stale version = %v, want ErrVersionMismatch", err)
	}
	if err := store.Delete(ctx, "/missing", IfVersion(7)); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
}

func TestMockStoreFailOnAndClose(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	boom := errors.New("boom")

	store.FailOn("put", boom)
	if _, err := store.Put(ctx, "/k", nil); !errors.Is(err, boom) {
		t.Errorf("Put = %v, want injected failure", err)
	}
	store.FailOn("put", nil)
	if _, err := store.Put(ctx, "/k", nil); err != nil {
		t.Errorf("Put after clearing failure: %v", err)
	}
	if store.CallCount("put") != 2 {
		t.Errorf("CallCount(put) = %d, want 2", store.CallCount("put"))
	}

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "/k"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Get after close = %v, want ErrStoreClosed", err)
	}
}
