package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/library-system/internal/model"
)

// Тесты в этом файле требуют живой PostgreSQL и пропускаются,
// если адрес БД не задан через TEST_DATABASE_URI.
func newTestRepository(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI is not set")
	}

	repo, err := NewPostgresRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

func createTestUser(t *testing.T, repo *PostgresRepository) int64 {
	t.Helper()

	login := fmt.Sprintf("reader-%d", time.Now().UnixNano())
	id, err := repo.CreateUser(context.Background(), login, []byte("hash"))
	require.NoError(t, err)

	return id
}

func createTestBook(t *testing.T, repo *PostgresRepository, copies int) int64 {
	t.Helper()

	book, err := repo.CreateBook(context.Background(), "Мастер и Маргарита", "Булгаков", "9780306406157", copies)
	require.NoError(t, err)

	return book.ID
}

func TestBorrowBook_ConcurrentClaimsDoNotOverclaim(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	userID := createTestUser(t, repo)
	bookID := createTestBook(t, repo, 2)
	now := time.Now().UTC()

	const attempts = 4
	errs := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.BorrowBook(ctx, userID, bookID, now)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var borrowed, rejected int
	for err := range errs {
		switch {
		case err == nil:
			borrowed++
		case errors.Is(err, ErrNoCopyAvailable):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	require.Equal(t, 2, borrowed)
	require.Equal(t, 2, rejected)

	book, err := repo.GetBook(ctx, bookID)
	require.NoError(t, err)
	require.Equal(t, 0, book.AvailableCopies)

	user, err := repo.GetUserByLogin(ctx, userLogin(t, repo, userID))
	require.NoError(t, err)
	require.Equal(t, 2, user.CurrentBorrowed)
}

func TestReturnCopy_ExactlyOneWinner(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	userID := createTestUser(t, repo)
	bookID := createTestBook(t, repo, 1)
	now := time.Now().UTC()

	rec, err := repo.BorrowBook(ctx, userID, bookID, now)
	require.NoError(t, err)

	const attempts = 2
	errs := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := repo.ReturnCopy(ctx, rec.ID, now)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var returned, rejected int
	for err := range errs {
		switch {
		case err == nil:
			returned++
		case errors.Is(err, ErrNotReturnable):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	require.Equal(t, 1, returned)
	require.Equal(t, 1, rejected)

	book, err := repo.GetBook(ctx, bookID)
	require.NoError(t, err)
	require.Equal(t, 1, book.AvailableCopies)
}

func TestApplyOverdueFine_IdempotentAndGrows(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	userID := createTestUser(t, repo)
	bookID := createTestBook(t, repo, 1)
	now := time.Now().UTC()

	rec, err := repo.BorrowBook(ctx, userID, bookID, now)
	require.NoError(t, err)

	after3 := rec.ExpectedReturnDate.AddDate(0, 0, 3)
	fine, err := repo.ApplyOverdueFine(ctx, rec.ID, after3)
	require.NoError(t, err)
	require.NotNil(t, fine)
	require.Equal(t, model.OverdueFine(3), fine.Amount)

	// Повтор по той же записи сумму не задваивает
	again, err := repo.ApplyOverdueFine(ctx, rec.ID, after3)
	require.NoError(t, err)
	require.Equal(t, fine.ID, again.ID)
	require.Equal(t, fine.Amount, again.Amount)

	fines, err := repo.GetFinesByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, fines, 1)

	// Через два дня штраф той же записи доначисляется до актуальной суммы
	after5 := rec.ExpectedReturnDate.AddDate(0, 0, 5)
	grown, err := repo.ApplyOverdueFine(ctx, rec.ID, after5)
	require.NoError(t, err)
	require.Equal(t, fine.ID, grown.ID)
	require.Equal(t, model.OverdueFine(5), grown.Amount)

	balance, err := repo.GetBalance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, model.OverdueFine(5), balance.TotalFines)
	require.Equal(t, model.OverdueFine(5), balance.Outstanding)
}

func TestApplyOverdueFine_ClosedRecordRejected(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	userID := createTestUser(t, repo)
	bookID := createTestBook(t, repo, 1)
	now := time.Now().UTC()

	rec, err := repo.BorrowBook(ctx, userID, bookID, now)
	require.NoError(t, err)

	_, _, err = repo.ReturnCopy(ctx, rec.ID, now)
	require.NoError(t, err)

	_, err = repo.ApplyOverdueFine(ctx, rec.ID, rec.ExpectedReturnDate.AddDate(0, 0, 3))
	require.ErrorIs(t, err, ErrNotReturnable)
}

func userLogin(t *testing.T, repo *PostgresRepository, userID int64) string {
	t.Helper()

	var login string
	err := repo.pool.QueryRow(context.Background(),
		`SELECT login FROM users WHERE id = $1`, userID,
	).Scan(&login)
	require.NoError(t, err)

	return login
}
