package service

import (
	"context"
	"testing"
	"time"

	"github.com/provinciadigital41-cpu/provincia/config"
)

func TestMemoryRunLockerAcquireRelease(t *testing.T) {
	locker := NewMemoryRunLocker(5 * time.Minute)
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, "card-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("Expected first acquire to succeed")
	}

	ok, err = locker.Acquire(ctx, "card-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ok {
		t.Error("Expected second acquire on same card to fail")
	}

	// A different card is independent
	ok, _ = locker.Acquire(ctx, "card-2")
	if !ok {
		t.Error("Expected acquire on different card to succeed")
	}

	if err := locker.Release(ctx, "card-1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	ok, _ = locker.Acquire(ctx, "card-1")
	if !ok {
		t.Error("Expected acquire after release to succeed")
	}
}

func TestMemoryRunLockerTTLExpiry(t *testing.T) {
	locker := NewMemoryRunLocker(10 * time.Millisecond)
	ctx := context.Background()

	if ok, _ := locker.Acquire(ctx, "card-1"); !ok {
		t.Fatal("Expected first acquire to succeed")
	}

	time.Sleep(20 * time.Millisecond)

	// An expired lock is reacquirable even without a release.
	if ok, _ := locker.Acquire(ctx, "card-1"); !ok {
		t.Error("Expected acquire after TTL expiry to succeed")
	}
}

func TestMemoryRunLockerReleaseUnheld(t *testing.T) {
	locker := NewMemoryRunLocker(time.Minute)

	if err := locker.Release(context.Background(), "never-held"); err != nil {
		t.Errorf("Unexpected error releasing unheld lock: %v", err)
	}
}

func TestNewRunLockerDrivers(t *testing.T) {
	locker, err := NewRunLocker(&config.LockConfig{Driver: "memory", TTLMinutes: 5})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, ok := locker.(*MemoryRunLocker); !ok {
		t.Errorf("Expected MemoryRunLocker, got %T", locker)
	}

	locker, err = NewRunLocker(&config.LockConfig{Driver: "redis", RedisAddr: "localhost:6379", TTLMinutes: 5})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, ok := locker.(*RedisRunLocker); !ok {
		t.Errorf("Expected RedisRunLocker, got %T", locker)
	}

	if _, err := NewRunLocker(&config.LockConfig{Driver: "zookeeper"}); err == nil {
		t.Error("Expected error for unknown driver")
	}
}
