package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/library-system/internal/model"
)

// CreateBook создаёт издание и указанное число его экземпляров.
func (r *PostgresRepository) CreateBook(ctx context.Context, title, author, isbn string, copies int) (*model.Book, error) {
	var book model.Book

	err := r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO books (title, author, isbn, total_copies, available_copies)
			 VALUES ($1, $2, $3, $4, $4)
			 RETURNING id, created_at`,
			title, author, isbn, copies,
		).Scan(&book.ID, &book.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert book: %w", err)
		}

		for i := 0; i < copies; i++ {
			_, err := tx.Exec(ctx,
				`INSERT INTO book_copies (book_id, status) VALUES ($1, $2)`,
				book.ID, string(model.CopyStatusAvailable),
			)
			if err != nil {
				return fmt.Errorf("insert copy: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	book.Title = title
	book.Author = author
	book.ISBN = isbn
	book.TotalCopies = copies
	book.AvailableCopies = copies

	return &book, nil
}

// GetBook возвращает издание по идентификатору.
func (r *PostgresRepository) GetBook(ctx context.Context, bookID int64) (*model.Book, error) {
	ctx, cancel := boundedCtx(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx,
		`SELECT id, title, author, isbn, total_copies, available_copies, created_at
		 FROM books
		 WHERE id = $1`,
		bookID,
	)

	var b model.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.TotalCopies, &b.AvailableCopies, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}

	return &b, nil
}

// ListBooks возвращает каталог изданий.
func (r *PostgresRepository) ListBooks(ctx context.Context) ([]model.Book, error) {
	ctx, cancel := boundedCtx(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id, title, author, isbn, total_copies, available_copies, created_at
		 FROM books
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select books: %w", err)
	}
	defer rows.Close()

	var books []model.Book
	for rows.Next() {
		var b model.Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.TotalCopies, &b.AvailableCopies, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return books, nil
}

// recomputeAvailableTx пересчитывает производный счётчик доступных
// экземпляров издания из состояний его экземпляров в той же транзакции,
// что и смена состояния экземпляра. Строка издания блокируется отдельным
// оператором: пересчёт после ожидания блокировки выполняется по свежему
// снимку и видит смены состояний, закоммиченные параллельной транзакцией.
func recomputeAvailableTx(ctx context.Context, tx pgx.Tx, bookID int64) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM books WHERE id = $1 FOR UPDATE`, bookID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBookNotFound
		}
		return fmt.Errorf("lock book: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE books
		 SET available_copies = (
		     SELECT COUNT(*) FROM book_copies WHERE book_id = $1 AND status = $2
		 )
		 WHERE id = $1`,
		bookID, string(model.CopyStatusAvailable),
	)
	if err != nil {
		return fmt.Errorf("recompute available copies: %w", err)
	}
	return nil
}
