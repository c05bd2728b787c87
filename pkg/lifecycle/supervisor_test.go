package lifecycle

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestSupervisor_FirstRegistrationActivatesImmediately(t *testing.T) {
	manager := setupManager(t)
	sup := NewSupervisor(zerolog.Nop())
	ctx := context.Background()

	c := newTestController(t, manager, "v1", workingFetcher())
	if err := sup.Register(ctx, c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if sup.Active() != c {
		t.Error("First registered version should be active")
	}
	if c.State() != StateActive {
		t.Errorf("State: got %s, want active", c.State())
	}
	if sup.Waiting() != nil {
		t.Error("No version should be waiting")
	}
}

func TestSupervisor_SecondVersionWaits(t *testing.T) {
	manager := setupManager(t)
	sup := NewSupervisor(zerolog.Nop())
	ctx := context.Background()

	v1 := newTestController(t, manager, "v1", workingFetcher())
	if err := sup.Register(ctx, v1); err != nil {
		t.Fatalf("Register v1 failed: %v", err)
	}

	v2 := newTestController(t, manager, "v2", workingFetcher())
	if err := sup.Register(ctx, v2); err != nil {
		t.Fatalf("Register v2 failed: %v", err)
	}

	if sup.Active() != v1 {
		t.Error("v1 should still be active")
	}
	if sup.Waiting() != v2 {
		t.Error("v2 should be waiting")
	}
	if v2.State() != StateInstalled {
		t.Errorf("v2 state: got %s, want installed", v2.State())
	}

	// v1 partitions survive while v2 waits: old pages keep working.
	names, err := manager.Partitions(ctx)
	if err != nil {
		t.Fatalf("Partitions failed: %v", err)
	}
	if len(names) != 4 {
		t.Errorf("Expected both versions' partitions, got %v", names)
	}
}

func TestSupervisor_SkipWaitingPromotes(t *testing.T) {
	manager := setupManager(t)
	sup := NewSupervisor(zerolog.Nop())
	ctx := context.Background()

	v1 := newTestController(t, manager, "v1", workingFetcher())
	if err := sup.Register(ctx, v1); err != nil {
		t.Fatalf("Register v1 failed: %v", err)
	}
	v2 := newTestController(t, manager, "v2", workingFetcher())
	if err := sup.Register(ctx, v2); err != nil {
		t.Fatalf("Register v2 failed: %v", err)
	}

	if err := sup.SkipWaiting(ctx); err != nil {
		t.Fatalf("SkipWaiting failed: %v", err)
	}

	if sup.Active() != v2 {
		t.Error("v2 should be active after skip-waiting")
	}
	if sup.Waiting() != nil {
		t.Error("No version should be waiting after skip-waiting")
	}
	if v1.State() != StateSuperseded {
		t.Errorf("v1 state: got %s, want superseded", v1.State())
	}

	// Old-version partitions are purged during activation.
	names, err := manager.Partitions(ctx)
	if err != nil {
		t.Fatalf("Partitions failed: %v", err)
	}
	want := []string{"v2-dynamic", "v2-static"}
	if len(names) != len(want) {
		t.Fatalf("Partitions: got %v, want %v", names, want)
	}
}

func TestSupervisor_SkipWaitingWithoutWaiting(t *testing.T) {
	manager := setupManager(t)
	sup := NewSupervisor(zerolog.Nop())
	ctx := context.Background()

	v1 := newTestController(t, manager, "v1", workingFetcher())
	if err := sup.Register(ctx, v1); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := sup.SkipWaiting(ctx); err != nil {
		t.Errorf("SkipWaiting with nothing waiting should be a no-op, got %v", err)
	}
	if sup.Active() != v1 {
		t.Error("Active version should be unchanged")
	}
}

func TestSupervisor_FailedInstallKeepsOldVersion(t *testing.T) {
	manager := setupManager(t)
	sup := NewSupervisor(zerolog.Nop())
	ctx := context.Background()

	v1 := newTestController(t, manager, "v1", workingFetcher())
	if err := sup.Register(ctx, v1); err != nil {
		t.Fatalf("Register v1 failed: %v", err)
	}

	broken := workingFetcher()
	broken.failPaths["/manifest.json"] = true
	v2 := newTestController(t, manager, "v2", broken)

	if err := sup.Register(ctx, v2); err == nil {
		t.Fatal("Register with failing install should return error")
	}

	if sup.Active() != v1 {
		t.Error("v1 must remain active after v2 install failure")
	}
	if sup.Waiting() != nil {
		t.Error("Failed version must not be waiting")
	}
}

func TestSupervisor_SameVersionReRegister(t *testing.T) {
	manager := setupManager(t)
	sup := NewSupervisor(zerolog.Nop())
	ctx := context.Background()

	v1 := newTestController(t, manager, "v1", workingFetcher())
	if err := sup.Register(ctx, v1); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	again := newTestController(t, manager, "v1", workingFetcher())
	if err := sup.Register(ctx, again); err != nil {
		t.Fatalf("Re-register failed: %v", err)
	}

	if sup.Active() != v1 {
		t.Error("Original controller should stay active on same-version re-register")
	}
}
