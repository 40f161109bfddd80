package embedding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragcache/internal/domain"
)

type mockBudgetStore struct {
	mu      sync.Mutex
	data    map[string]int64
	ttls    map[string]time.Duration
	loadErr error
	addErr  error
}

func newMockBudgetStore() *mockBudgetStore {
	return &mockBudgetStore{data: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (m *mockBudgetStore) Add(_ context.Context, key string, tokens int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.data[key] += tokens
	m.ttls[key] = ttl
	return nil
}

func (m *mockBudgetStore) Load(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return 0, m.loadErr
	}
	return m.data[key], nil
}

func fixedClock(bt *BudgetTracker, t time.Time) *time.Time {
	cur := t
	bt.now = func() time.Time { return cur }
	bt.daily.start = startOfDay(t)
	bt.monthly.start = startOfMonth(t)
	return &cur
}

func TestBudgetTracker_RejectWhenDailyExceeded(t *testing.T) {
	bt := NewBudgetTracker("test", 100, 0, BudgetActionReject, zap.NewNop())
	bt.Record(100)

	if err := bt.Check(context.Background()); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestBudgetTracker_RejectWhenMonthlyExceeded(t *testing.T) {
	bt := NewBudgetTracker("test", 0, 500, BudgetActionReject, zap.NewNop())
	bt.Record(500)

	if err := bt.Check(context.Background()); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestBudgetTracker_WarnLetsRequestThrough(t *testing.T) {
	bt := NewBudgetTracker("test", 100, 0, BudgetActionWarn, zap.NewNop())
	bt.Record(200)

	if err := bt.Check(context.Background()); err != nil {
		t.Fatalf("expected nil for warn action, got %v", err)
	}
}

func TestBudgetTracker_ZeroLimitIsUnlimited(t *testing.T) {
	bt := NewBudgetTracker("test", 0, 0, BudgetActionReject, zap.NewNop())
	bt.Record(1 << 40)

	if err := bt.Check(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if bt.RemainingDaily() != -1 || bt.RemainingMonthly() != -1 {
		t.Errorf("expected -1/-1, got %d/%d", bt.RemainingDaily(), bt.RemainingMonthly())
	}
}

func TestBudgetTracker_Remaining(t *testing.T) {
	bt := NewBudgetTracker("test", 1000, 10000, BudgetActionWarn, zap.NewNop())
	bt.Record(300)

	if got := bt.RemainingDaily(); got != 700 {
		t.Errorf("daily remaining = %d, want 700", got)
	}
	if got := bt.RemainingMonthly(); got != 9700 {
		t.Errorf("monthly remaining = %d, want 9700", got)
	}

	bt.Record(5000)
	if got := bt.RemainingDaily(); got != 0 {
		t.Errorf("daily remaining clamps at 0, got %d", got)
	}
}

func TestBudgetTracker_RecordIgnoresNonPositive(t *testing.T) {
	bt := NewBudgetTracker("test", 1000, 0, BudgetActionWarn, zap.NewNop())
	bt.Record(0)
	bt.Record(-5)

	if bt.DailyUsed() != 0 {
		t.Errorf("expected 0, got %d", bt.DailyUsed())
	}
}

func TestBudgetTracker_DayRolloverResetsDailyOnly(t *testing.T) {
	bt := NewBudgetTracker("test", 100, 1000, BudgetActionReject, zap.NewNop())
	clock := fixedClock(bt, time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC))

	bt.Record(100)
	if err := bt.Check(context.Background()); err == nil {
		t.Fatal("expected rejection before rollover")
	}

	*clock = time.Date(2026, 3, 11, 0, 5, 0, 0, time.UTC)
	if err := bt.Check(context.Background()); err != nil {
		t.Fatalf("expected allow after rollover, got %v", err)
	}
	if bt.DailyUsed() != 0 {
		t.Errorf("daily used = %d, want 0", bt.DailyUsed())
	}
	if bt.MonthlyUsed() != 100 {
		t.Errorf("monthly used = %d, want 100", bt.MonthlyUsed())
	}
}

func TestBudgetTracker_MonthRolloverResetsBoth(t *testing.T) {
	bt := NewBudgetTracker("test", 0, 100, BudgetActionReject, zap.NewNop())
	clock := fixedClock(bt, time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC))

	bt.Record(150)
	*clock = time.Date(2026, 2, 1, 0, 0, 1, 0, time.UTC)

	if bt.MonthlyUsed() != 0 || bt.DailyUsed() != 0 {
		t.Errorf("expected reset, got daily=%d monthly=%d", bt.DailyUsed(), bt.MonthlyUsed())
	}
}

func TestBudgetTracker_WithStore_LoadsCurrentWindows(t *testing.T) {
	store := newMockBudgetStore()
	store.data["ragcache:budget:prov:daily:2026-05-04"] = 300
	store.data["ragcache:budget:prov:monthly:2026-05"] = 5000
	store.data["ragcache:budget:prov:daily:2026-05-03"] = 999

	bt := NewBudgetTracker("prov", 1000, 10000, BudgetActionReject, zap.NewNop())
	fixedClock(bt, time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	bt.WithStore(context.Background(), store)

	if bt.DailyUsed() != 300 {
		t.Errorf("daily used = %d, want 300", bt.DailyUsed())
	}
	if bt.MonthlyUsed() != 5000 {
		t.Errorf("monthly used = %d, want 5000", bt.MonthlyUsed())
	}
}

func TestBudgetTracker_WithStore_LoadErrorStartsFromZero(t *testing.T) {
	store := newMockBudgetStore()
	store.loadErr = errors.New("connection refused")

	bt := NewBudgetTracker("prov", 1000, 10000, BudgetActionReject, zap.NewNop())
	bt.WithStore(context.Background(), store)

	if bt.DailyUsed() != 0 || bt.MonthlyUsed() != 0 {
		t.Errorf("expected zero counters, got %d/%d", bt.DailyUsed(), bt.MonthlyUsed())
	}
}

func TestBudgetTracker_Record_PersistsWithTTL(t *testing.T) {
	store := newMockBudgetStore()
	bt := NewBudgetTracker("prov", 1000, 10000, BudgetActionWarn, zap.NewNop())
	fixedClock(bt, time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	bt.WithStore(context.Background(), store)

	bt.Record(100)
	bt.Record(200)

	daily := "ragcache:budget:prov:daily:2026-05-04"
	monthly := "ragcache:budget:prov:monthly:2026-05"
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.data[daily] != 300 {
		t.Errorf("stored daily = %d, want 300", store.data[daily])
	}
	if store.data[monthly] != 300 {
		t.Errorf("stored monthly = %d, want 300", store.data[monthly])
	}
	if store.ttls[daily] != dailyKeyTTL {
		t.Errorf("daily ttl = %v", store.ttls[daily])
	}
	if store.ttls[monthly] != monthlyKeyTTL {
		t.Errorf("monthly ttl = %v", store.ttls[monthly])
	}
}

func TestBudgetTracker_Record_StoreErrorKeepsMemory(t *testing.T) {
	store := newMockBudgetStore()
	bt := NewBudgetTracker("prov", 1000, 10000, BudgetActionWarn, zap.NewNop())
	bt.WithStore(context.Background(), store)

	store.mu.Lock()
	store.addErr = errors.New("write timeout")
	store.mu.Unlock()

	bt.Record(50)
	if bt.DailyUsed() != 50 {
		t.Errorf("daily used = %d, want 50", bt.DailyUsed())
	}
}

func TestBudgetTracker_KeyFormat(t *testing.T) {
	bt := NewBudgetTracker("gemini", 0, 0, BudgetActionWarn, zap.NewNop())
	fixedClock(bt, time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC))

	if got := bt.key(&bt.daily); got != "ragcache:budget:gemini:daily:2026-12-01" {
		t.Errorf("daily key = %q", got)
	}
	if got := bt.key(&bt.monthly); !strings.HasSuffix(got, ":monthly:2026-12") {
		t.Errorf("monthly key = %q", got)
	}
}
