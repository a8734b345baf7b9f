package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/michaelbrown/pylab/internal/storage"
)

// testStore connects to PYLAB_TEST_POSTGRES_DSN and empties the submissions
// table around each test.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PYLAB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PYLAB_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		s.pool.Exec(context.Background(), `TRUNCATE submissions`)
		s.Close()
	})
	if _, err := s.pool.Exec(ctx, `TRUNCATE submissions`); err != nil {
		t.Fatalf("truncating: %v", err)
	}
	return s
}

func TestCreateAndGetSubmission(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sub := &storage.Submission{
		UserID:    7,
		ProblemID: 3,
		Code:      "while True: pass",
		Status:    storage.StatusTimeout,
		Error:     "execution timed out after 30 seconds",
	}
	if err := s.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	if sub.ID == 0 {
		t.Fatal("ID was not assigned")
	}

	got, err := s.GetSubmission(ctx, 7, sub.ID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if got.Status != storage.StatusTimeout || got.Code != sub.Code || got.Language != storage.LanguagePython {
		t.Errorf("got %+v", got)
	}
	if got.ExecutionTime != nil || got.Score != nil || got.IsCorrect != nil {
		t.Error("nullable fields should be null")
	}
	if !got.SubmittedAt.Equal(sub.SubmittedAt) {
		t.Errorf("submitted_at = %v, want %v", got.SubmittedAt, sub.SubmittedAt)
	}

	if _, err := s.GetSubmission(ctx, 8, sub.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("other user err = %v, want ErrNotFound", err)
	}
}

func TestListSubmissions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		at = at.Add(time.Second)
		return at
	}

	for _, sub := range []storage.Submission{
		{UserID: 1, ProblemID: 10, Code: "a", Status: storage.StatusSuccess},
		{UserID: 1, ProblemID: 20, Code: "b", Status: storage.StatusError},
		{UserID: 1, ProblemID: 10, Code: "c", Status: storage.StatusSuccess},
	} {
		if err := s.CreateSubmission(ctx, &sub); err != nil {
			t.Fatal(err)
		}
	}

	subs, err := s.ListSubmissions(ctx, storage.SubmissionListOptions{UserID: 1, ProblemID: 10})
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(subs) != 2 || subs[0].Code != "c" || subs[1].Code != "a" {
		t.Errorf("got %+v, want c then a", subs)
	}

	page, err := s.ListSubmissions(ctx, storage.SubmissionListOptions{UserID: 1, Limit: 1, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].Code != "a" {
		t.Errorf("page = %+v", page)
	}
}
