package pagination

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/epireve/uk-gateway/internal/testutil"
	"github.com/epireve/uk-gateway/pkg/store"
)

func names(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Company %d", i+1)
	}
	return out
}

func TestNewPager_Validation(t *testing.T) {
	src := testutil.NewMemoryStore()

	if _, err := NewPager(src, 0); !errors.Is(err, ErrInvalidPageSize) {
		t.Errorf("NewPager(0) error = %v, want ErrInvalidPageSize", err)
	}
	if _, err := NewPager(nil, 10); err == nil {
		t.Error("NewPager(nil) should fail")
	}
}

func TestPager_VisitsEveryRecordOnce(t *testing.T) {
	tests := []struct {
		name     string
		records  int
		pageSize int
		pages    int
	}{
		{name: "empty", records: 0, pageSize: 3, pages: 0},
		{name: "single short page", records: 2, pageSize: 3, pages: 1},
		{name: "exact multiple", records: 6, pageSize: 3, pages: 2},
		{name: "trailing short page", records: 7, pageSize: 3, pages: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testutil.NewMemoryStore(names(tt.records)...)
			pager, err := NewPager(src, tt.pageSize)
			if err != nil {
				t.Fatalf("NewPager() error = %v", err)
			}

			seen := map[int64]int{}
			for {
				page, err := pager.Next(context.Background())
				if err != nil {
					t.Fatalf("Next() error = %v", err)
				}
				if page == nil {
					break
				}
				for _, r := range page {
					seen[r.ID]++
				}
			}

			if len(seen) != tt.records {
				t.Errorf("visited %d records, want %d", len(seen), tt.records)
			}
			for id, n := range seen {
				if n != 1 {
					t.Errorf("record %d visited %d times", id, n)
				}
			}
			if pager.Pages() != tt.pages {
				t.Errorf("Pages() = %d, want %d", pager.Pages(), tt.pages)
			}
			if !pager.Done() {
				t.Error("Done() = false after the walk")
			}
		})
	}
}

// lateInsertSource adds a record right after the first page is read, before
// the pager runs its existence check.
type lateInsertSource struct {
	*testutil.MemoryStore
	inserted bool
}

func (s *lateInsertSource) FetchPending(ctx context.Context, afterID int64, limit int) ([]store.Record, error) {
	page, err := s.MemoryStore.FetchPending(ctx, afterID, limit)
	if !s.inserted {
		s.inserted = true
		s.Add("Late Arrival")
	}
	return page, err
}

func TestPager_ShortPageChecksForMore(t *testing.T) {
	src := &lateInsertSource{MemoryStore: testutil.NewMemoryStore(names(2)...)}
	pager, err := NewPager(src, 5)
	if err != nil {
		t.Fatalf("NewPager() error = %v", err)
	}
	ctx := context.Background()

	page, err := pager.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("first page len = %d, want 2", len(page))
	}
	if pager.Done() {
		t.Fatal("Done() = true although a record is pending past the cursor")
	}

	page, err = pager.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(page) != 1 || page[0].ID != 3 {
		t.Errorf("second page = %v, want the late record", page)
	}
	if !pager.Done() {
		t.Error("Done() = false after the final short page")
	}
	if src.CountCalls() != 2 {
		t.Errorf("CountCalls() = %d, want 2", src.CountCalls())
	}
}

func TestPager_MidRunInsertWithLargerID(t *testing.T) {
	src := testutil.NewMemoryStore(names(4)...)
	pager, err := NewPager(src, 2)
	if err != nil {
		t.Fatalf("NewPager() error = %v", err)
	}
	ctx := context.Background()

	var visited []int64
	for i := 0; ; i++ {
		page, err := pager.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if page == nil {
			break
		}
		for _, r := range page {
			visited = append(visited, r.ID)
		}
		if i == 0 {
			src.Add("Inserted During Run")
		}
	}

	if len(visited) != 5 {
		t.Errorf("visited = %v, want 5 records", visited)
	}
	for i := 1; i < len(visited); i++ {
		if visited[i] <= visited[i-1] {
			t.Errorf("ids not ascending: %v", visited)
		}
	}
	if pager.Cursor() != 5 {
		t.Errorf("Cursor() = %d, want 5", pager.Cursor())
	}
}

func TestPager_Errors(t *testing.T) {
	boom := errors.New("connection reset")

	src := testutil.NewMemoryStore(names(1)...)
	src.FetchErr = boom
	pager, _ := NewPager(src, 10)
	if _, err := pager.Next(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Next() error = %v, want fetch error", err)
	}

	src = testutil.NewMemoryStore(names(1)...)
	src.CountErr = boom
	pager, _ = NewPager(src, 10)
	if _, err := pager.Next(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Next() error = %v, want count error", err)
	}
}

func TestPager_DoneIsSticky(t *testing.T) {
	src := testutil.NewMemoryStore(names(1)...)
	pager, _ := NewPager(src, 10)
	ctx := context.Background()

	if page, _ := pager.Next(ctx); len(page) != 1 {
		t.Fatalf("first page len = %d, want 1", len(page))
	}
	calls := src.FetchCalls()
	if page, _ := pager.Next(ctx); page != nil {
		t.Errorf("Next() after done = %v, want nil", page)
	}
	if src.FetchCalls() != calls {
		t.Error("Next() hit the source after the walk finished")
	}
}
