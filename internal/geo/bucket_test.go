package geo

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
)

func TestCellForQuantizesByFloor(t *testing.T) {
	index := NewBucketIndex(100)

	key := index.CellFor(12.349, 34.001)
	if key.X != 1234 || key.Y != 3400 {
		t.Fatalf("expected cell (1234, 3400), got (%d, %d)", key.X, key.Y)
	}

	negative := index.CellFor(-0.001, -0.001)
	if negative.X != -1 || negative.Y != -1 {
		t.Fatalf("expected negative coordinates to floor down, got (%d, %d)", negative.X, negative.Y)
	}

	if key.String() != "location:1234_3400" {
		t.Fatalf("unexpected key rendering %q", key.String())
	}
}

func TestJoinReportsMemberCount(t *testing.T) {
	index := NewBucketIndex(100)

	if _, count, err := index.Join("conn-1", 12.345, 34.567); err != nil || count != 1 {
		t.Fatalf("expected first member count 1, got %d (err %v)", count, err)
	}
	key, count, err := index.Join("conn-2", 12.349, 34.561)
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected second member count 2, got %d", count)
	}

	members := index.Members(key)
	sort.Strings(members)
	if len(members) != 2 || members[0] != "conn-1" || members[1] != "conn-2" {
		t.Fatalf("unexpected members %v", members)
	}
}

func TestMembersNearResolvesSingleCellOnly(t *testing.T) {
	index := NewBucketIndex(100)

	if _, _, err := index.Join("conn-near", 0.121, 0.341); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if _, _, err := index.Join("conn-far", 0.121, 0.351); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	members := index.MembersNear(0.125, 0.345)
	if len(members) != 1 || members[0] != "conn-near" {
		t.Fatalf("expected only the same-cell subscriber, got %v", members)
	}
}

func TestJoinNewCellReplacesOldMembership(t *testing.T) {
	index := NewBucketIndex(100)

	first, _, err := index.Join("conn-1", 10.001, 20.001)
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	second, _, err := index.Join("conn-1", 50.001, 60.001)
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if first == second {
		t.Fatal("test requires distinct cells")
	}

	if members := index.Members(first); len(members) != 0 {
		t.Fatalf("expected stale cell to be empty, got %v", members)
	}
	if members := index.Members(second); len(members) != 1 {
		t.Fatalf("expected new cell membership, got %v", members)
	}
}

func TestLeaveAndDropRemoveMembership(t *testing.T) {
	index := NewBucketIndex(100)

	if _, _, err := index.Join("conn-1", 10.001, 20.001); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if err := index.Leave("conn-1", 10.001, 20.001); err != nil {
		t.Fatalf("unexpected leave error: %v", err)
	}
	if members := index.MembersNear(10.001, 20.001); len(members) != 0 {
		t.Fatalf("expected empty cell after leave, got %v", members)
	}

	// Leave for a connection that is not subscribed is a no-op.
	if err := index.Leave("ghost", 10.001, 20.001); err != nil {
		t.Fatalf("unexpected leave error: %v", err)
	}

	if _, _, err := index.Join("conn-2", 10.001, 20.001); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	index.Drop("conn-2")
	if members := index.MembersNear(10.001, 20.001); len(members) != 0 {
		t.Fatalf("expected empty cell after drop, got %v", members)
	}
}

func TestMalformedCoordinatesRejected(t *testing.T) {
	index := NewBucketIndex(100)

	if _, _, err := index.Join("conn-1", 91, 0); !errors.Is(err, ErrMalformedLocation) {
		t.Fatalf("expected ErrMalformedLocation for latitude, got %v", err)
	}
	if _, _, err := index.Join("conn-1", 0, -181); !errors.Is(err, ErrMalformedLocation) {
		t.Fatalf("expected ErrMalformedLocation for longitude, got %v", err)
	}
	if err := index.Leave("conn-1", 120, 0); !errors.Is(err, ErrMalformedLocation) {
		t.Fatalf("expected ErrMalformedLocation on leave, got %v", err)
	}
	if members := index.MembersNear(120, 0); members != nil {
		t.Fatalf("expected nil members for malformed coordinate, got %v", members)
	}
}

func TestConcurrentJoinLeaveKeepsIndexConsistent(t *testing.T) {
	index := NewBucketIndex(100)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			connectionID := fmt.Sprintf("conn-%d", n)
			if _, _, err := index.Join(connectionID, 10.001, 20.001); err != nil {
				t.Errorf("unexpected join error: %v", err)
			}
			if n%2 == 0 {
				index.Drop(connectionID)
			}
		}(i)
	}
	wg.Wait()

	members := index.MembersNear(10.001, 20.001)
	if len(members) != 25 {
		t.Fatalf("expected 25 surviving members, got %d", len(members))
	}
}
