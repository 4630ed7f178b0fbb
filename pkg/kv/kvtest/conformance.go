// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/scribehq/scribe-backend/pkg/kv"
)

// StoreFactory creates a fresh Store instance for testing
type StoreFactory func(t *testing.T) kv.Store

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	t.Run("StringOperations", func(t *testing.T) {
		testStringOperations(t, factory)
	})
	t.Run("KeyOperations", func(t *testing.T) {
		testKeyOperations(t, factory)
	})
	t.Run("TTLOperations", func(t *testing.T) {
		testTTLOperations(t, factory)
	})
	t.Run("PrefixScan", func(t *testing.T) {
		testPrefixScan(t, factory)
	})
	t.Run("MultiOperations", func(t *testing.T) {
		testMultiOperations(t, factory)
	})
	t.Run("HealthCheck", func(t *testing.T) {
		testHealthCheck(t, factory)
	})
}

func testStringOperations(t *testing.T, factory StoreFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, store kv.Store)
	}{
		{"SetGet", testSetGet},
		{"GetNonExistent", testGetNonExistent},
		{"Overwrite", testOverwrite},
		{"SetGetString", testSetGetString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tt.test(t, store)
		})
	}
}

func testSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:string"
	value := []byte("hello world")

	if err := store.Set(ctx, key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if string(result) != string(value) {
		t.Errorf("Expected %q, got %q", value, result)
	}
}

func testGetNonExistent(t *testing.T, store kv.Store) {
	ctx := context.Background()

	_, err := store.Get(ctx, "test:missing")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func testOverwrite(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:overwrite"

	if err := store.Set(ctx, key, []byte("first")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, key, []byte("second")); err != nil {
		t.Fatalf("Second set failed: %v", err)
	}

	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(result) != "second" {
		t.Errorf("Expected overwritten value, got %q", result)
	}
}

func testSetGetString(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:str"
	value := "plain string value"

	if err := store.SetString(ctx, key, value); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}

	result, err := store.GetString(ctx, key)
	if err != nil {
		t.Fatalf("GetString failed: %v", err)
	}
	if result != value {
		t.Errorf("Expected %q, got %q", value, result)
	}
}

func testKeyOperations(t *testing.T, factory StoreFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, store kv.Store)
	}{
		{"Del", testDel},
		{"DelMultiple", testDelMultiple},
		{"Exists", testExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tt.test(t, store)
		})
	}
}

func testDel(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:del"

	if err := store.Set(ctx, key, []byte("value")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	deleted, err := store.Del(ctx, key)
	if err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted key, got %d", deleted)
	}

	if _, err := store.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing key reports zero, not an error
	deleted, err = store.Del(ctx, key)
	if err != nil {
		t.Fatalf("Del of missing key failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected 0 deleted keys, got %d", deleted)
	}
}

func testDelMultiple(t *testing.T, store kv.Store) {
	ctx := context.Background()

	for _, key := range []string{"test:del:a", "test:del:b"} {
		if err := store.Set(ctx, key, []byte("value")); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	deleted, err := store.Del(ctx, "test:del:a", "test:del:b", "test:del:missing")
	if err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted keys, got %d", deleted)
	}
}

func testExists(t *testing.T, store kv.Store) {
	ctx := context.Background()

	if err := store.Set(ctx, "test:exists", []byte("value")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	count, err := store.Exists(ctx, "test:exists", "test:missing")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 existing key, got %d", count)
	}
}

func testTTLOperations(t *testing.T, factory StoreFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, store kv.Store)
	}{
		{"SetWithTTL", testSetWithTTL},
		{"Expire", testExpire},
		{"TTLNoExpiry", testTTLNoExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tt.test(t, store)
		})
	}
}

func testSetWithTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:ttl"

	if err := store.Set(ctx, key, []byte("value"), 50*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := store.Get(ctx, key); err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	if _, err := store.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after expiry, got %v", err)
	}
}

func testExpire(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:expire"

	if err := store.Set(ctx, key, []byte("value")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ok, err := store.Expire(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if !ok {
		t.Error("Expected Expire to succeed on existing key")
	}

	ttl, err := store.TTL(ctx, key)
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("Expected TTL in (0, 1m], got %v", ttl)
	}

	ok, err = store.Expire(ctx, "test:missing", time.Minute)
	if err != nil {
		t.Fatalf("Expire on missing key failed: %v", err)
	}
	if ok {
		t.Error("Expected Expire to report false for missing key")
	}
}

func testTTLNoExpiry(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:ttl:none"

	if err := store.Set(ctx, key, []byte("value")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ttl, err := store.TTL(ctx, key)
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl != -1 {
		t.Errorf("Expected -1 for key without expiry, got %v", ttl)
	}

	if _, err := store.TTL(ctx, "test:missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing key, got %v", err)
	}
}

func testPrefixScan(t *testing.T, factory StoreFactory) {
	store := factory(t)
	defer store.Close()

	ctx := context.Background()

	pairs := map[string][]byte{
		"scan:a":   []byte("1"),
		"scan:b":   []byte("2"),
		"scan:c:d": []byte("3"),
		"other:x":  []byte("4"),
	}
	for key, value := range pairs {
		if err := store.Set(ctx, key, value); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	keys, err := store.Keys(ctx, "scan:")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}

	sort.Strings(keys)
	expected := []string{"scan:a", "scan:b", "scan:c:d"}
	if len(keys) != len(expected) {
		t.Fatalf("Expected %d keys, got %d: %v", len(expected), len(keys), keys)
	}
	for i, key := range expected {
		if keys[i] != key {
			t.Errorf("Expected key %q at %d, got %q", key, i, keys[i])
		}
	}

	keys, err = store.Keys(ctx, "nothing:")
	if err != nil {
		t.Fatalf("Keys with unmatched prefix failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Expected no keys, got %v", keys)
	}
}

func testMultiOperations(t *testing.T, factory StoreFactory) {
	store := factory(t)
	defer store.Close()

	ctx := context.Background()

	pairs := map[string][]byte{
		"multi:a": []byte("alpha"),
		"multi:b": []byte("beta"),
	}
	if err := store.MSet(ctx, pairs); err != nil {
		t.Fatalf("MSet failed: %v", err)
	}

	values, err := store.MGet(ctx, "multi:a", "multi:missing", "multi:b")
	if err != nil {
		t.Fatalf("MGet failed: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("Expected 3 values, got %d", len(values))
	}
	if string(values[0]) != "alpha" {
		t.Errorf("Expected alpha, got %q", values[0])
	}
	if values[1] != nil {
		t.Errorf("Expected nil for missing key, got %q", values[1])
	}
	if string(values[2]) != "beta" {
		t.Errorf("Expected beta, got %q", values[2])
	}
}

func testHealthCheck(t *testing.T, factory StoreFactory) {
	store := factory(t)
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
