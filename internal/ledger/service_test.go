package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestLedger(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:ledger-%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Entry{}, &AccountTotal{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build ledger service: %v", err)
	}
	return service
}

func TestAppendReturnsRunningTotal(t *testing.T) {
	service := newTestLedger(t)
	ctx := context.Background()

	total, err := service.Append(ctx, AppendRequest{UserID: "user-1", Delta: 40, Reason: "Task completed: task-a"})
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if total != 40 {
		t.Fatalf("expected total 40, got %d", total)
	}

	total, err = service.Append(ctx, AppendRequest{UserID: "user-1", Delta: -15, Reason: "Correction: task-a overscored"})
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if total != 25 {
		t.Fatalf("expected total 25 after compensating entry, got %d", total)
	}

	cached, err := service.Total(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected total error: %v", err)
	}
	if cached != 25 {
		t.Fatalf("expected cached total 25, got %d", cached)
	}
}

func TestZeroDeltaRejectedWithoutSideEffect(t *testing.T) {
	service := newTestLedger(t)
	ctx := context.Background()

	if _, err := service.Append(ctx, AppendRequest{UserID: "user-1", Delta: 0, Reason: "noop"}); !errors.Is(err, ErrInvalidDelta) {
		t.Fatalf("expected ErrInvalidDelta, got %v", err)
	}

	entries, err := service.Entries(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("unexpected entries error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries after rejected append, got %d", len(entries))
	}
}

func TestTotalForUnknownUserIsZero(t *testing.T) {
	service := newTestLedger(t)

	total, err := service.Total(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected total error: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected zero total, got %d", total)
	}
}

func TestConcurrentAppendsLoseNothing(t *testing.T) {
	service := newTestLedger(t)
	ctx := context.Background()

	const appends = 50
	var wg sync.WaitGroup
	for i := 0; i < appends; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := service.Append(ctx, AppendRequest{
				UserID: "user-1",
				Delta:  10,
				Reason: fmt.Sprintf("Task completed: task-%d", n),
			})
			if err != nil {
				t.Errorf("unexpected append error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	total, err := service.Total(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected total error: %v", err)
	}
	if total != appends*10 {
		t.Fatalf("expected total %d, got %d", appends*10, total)
	}

	sum, err := service.SumDeltas(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected sum error: %v", err)
	}
	if sum != total {
		t.Fatalf("cached total %d drifted from entry sum %d", total, sum)
	}
}

func TestAppendsForDifferentUsersStayIsolated(t *testing.T) {
	service := newTestLedger(t)
	ctx := context.Background()

	if _, err := service.Append(ctx, AppendRequest{UserID: "user-a", Delta: 30, Reason: "Task completed: task-1"}); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if _, err := service.Append(ctx, AppendRequest{UserID: "user-b", Delta: 70, Reason: "Task completed: task-2"}); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	totalA, _ := service.Total(ctx, "user-a")
	totalB, _ := service.Total(ctx, "user-b")
	if totalA != 30 || totalB != 70 {
		t.Fatalf("expected isolated totals 30/70, got %d/%d", totalA, totalB)
	}
}
