package achievements

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cityquest/backend/internal/ledger"
	"github.com/cityquest/backend/internal/realtime"
)

type fakeRepository struct {
	mu        sync.Mutex
	approved  int64
	category  int64
	streak    int
	stats     ApprovalStats
	locations int64
	records   map[string]Record
	failWith  error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{records: make(map[string]Record)}
}

func (r *fakeRepository) CountApproved(context.Context, string) (int64, error) {
	if r.failWith != nil {
		return 0, r.failWith
	}
	return r.approved, nil
}

func (r *fakeRepository) CountApprovedInCategory(context.Context, string, string) (int64, error) {
	return r.category, nil
}

func (r *fakeRepository) StreakDays(context.Context, string) (int, error) {
	return r.streak, nil
}

func (r *fakeRepository) ApprovalStats(context.Context, string) (ApprovalStats, error) {
	return r.stats, nil
}

func (r *fakeRepository) CountDistinctLocations(context.Context, string) (int64, error) {
	return r.locations, nil
}

func (r *fakeRepository) InsertAchievementIfAbsent(_ context.Context, record Record) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := record.UserID + "/" + record.AchievementType
	if _, exists := r.records[key]; exists {
		return false, nil
	}
	r.records[key] = record
	return true, nil
}

func (r *fakeRepository) recordCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type fakeLedger struct {
	mu      sync.Mutex
	total   int64
	appends []ledger.AppendRequest
}

func (l *fakeLedger) Append(_ context.Context, request ledger.AppendRequest) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total += request.Delta
	l.appends = append(l.appends, request)
	return l.total, nil
}

func (l *fakeLedger) Total(context.Context, string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (s *recordingSink) Dispatch(event realtime.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]string, 0, len(s.events))
	for _, event := range s.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

func newTestEvaluator(t *testing.T, repo *fakeRepository, store *fakeLedger, sink *recordingSink) *Evaluator {
	t.Helper()
	evaluator, err := NewEvaluator(EvaluatorConfig{
		Repository: repo,
		Ledger:     store,
		Events:     sink,
	})
	if err != nil {
		t.Fatalf("unexpected evaluator error: %v", err)
	}
	return evaluator
}

func TestFirstApprovalAwardsFirstTaskOnce(t *testing.T) {
	repo := newFakeRepository()
	repo.approved = 1
	store := &fakeLedger{total: 40}
	sink := &recordingSink{}
	evaluator := newTestEvaluator(t, repo, store, sink)

	event := Event{CategoryName: "Photography", Points: 40}
	if err := evaluator.Evaluate(context.Background(), "user-1", event); err != nil {
		t.Fatalf("unexpected evaluate error: %v", err)
	}

	if repo.recordCount() != 1 {
		t.Fatalf("expected one achievement record, got %d", repo.recordCount())
	}
	if len(store.appends) != 1 || store.appends[0].Delta != 10 {
		t.Fatalf("expected one 10-point bonus credit, got %v", store.appends)
	}
	if store.appends[0].Reason != "Achievement: First Steps" {
		t.Fatalf("unexpected ledger reason %q", store.appends[0].Reason)
	}

	kinds := sink.kinds()
	if len(kinds) != 2 || kinds[0] != realtime.EventAchievementUnlocked || kinds[1] != realtime.EventAdminNotification {
		t.Fatalf("expected unlock + admin events, got %v", kinds)
	}

	// Re-running the same event must not award again.
	if err := evaluator.Evaluate(context.Background(), "user-1", event); err != nil {
		t.Fatalf("unexpected evaluate error: %v", err)
	}
	if repo.recordCount() != 1 {
		t.Fatalf("expected idempotent award, got %d records", repo.recordCount())
	}
	if len(store.appends) != 1 {
		t.Fatalf("expected no second bonus credit, got %d", len(store.appends))
	}
}

func TestMilestoneFiresOnceWhenCrossed(t *testing.T) {
	repo := newFakeRepository()
	repo.approved = 5
	store := &fakeLedger{total: 105}
	evaluator := newTestEvaluator(t, repo, store, &recordingSink{})

	if err := evaluator.Evaluate(context.Background(), "user-1", Event{}); err != nil {
		t.Fatalf("unexpected evaluate error: %v", err)
	}
	if _, ok := repo.records["user-1/points_100"]; !ok {
		t.Fatal("expected points_100 to fire crossing 95 -> 105")
	}
	bonusAppends := len(store.appends)

	// Another credit to 110 total must not refire the milestone.
	if err := evaluator.Evaluate(context.Background(), "user-1", Event{}); err != nil {
		t.Fatalf("unexpected evaluate error: %v", err)
	}
	if len(store.appends) != bonusAppends {
		t.Fatalf("milestone refired: appends grew from %d to %d", bonusAppends, len(store.appends))
	}
}

func TestConcurrentQualifyingEventsAwardAtMostOnce(t *testing.T) {
	repo := newFakeRepository()
	repo.approved = 10
	repo.stats = ApprovalStats{Approved: 10, Total: 10, AveragePoints: 50}
	store := &fakeLedger{total: 500}
	evaluator := newTestEvaluator(t, repo, store, &recordingSink{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := evaluator.Evaluate(context.Background(), "user-1", Event{}); err != nil {
				t.Errorf("unexpected evaluate error: %v", err)
			}
		}()
	}
	wg.Wait()

	repo.mu.Lock()
	qualityRecords := 0
	for key := range repo.records {
		if key == "user-1/quality_expert" {
			qualityRecords++
		}
	}
	repo.mu.Unlock()
	if qualityRecords != 1 {
		t.Fatalf("expected exactly one quality_expert record, got %d", qualityRecords)
	}

	bonus := 0
	for _, request := range store.appends {
		if request.Reason == "Achievement: Quality Expert" {
			bonus++
		}
	}
	if bonus != 1 {
		t.Fatalf("expected exactly one quality_expert bonus credit, got %d", bonus)
	}
}

func TestRepositoryFailurePropagates(t *testing.T) {
	repo := newFakeRepository()
	repo.failWith = errors.New("connection refused")
	evaluator := newTestEvaluator(t, repo, &fakeLedger{}, &recordingSink{})

	if err := evaluator.Evaluate(context.Background(), "user-1", Event{}); err == nil {
		t.Fatal("expected snapshot failure to propagate")
	}
}
