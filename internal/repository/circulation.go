package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/library-system/internal/model"
)

// BorrowBook выдаёт читателю один свободный экземпляр издания.
// Проверка прав, захват экземпляра, создание записи и изменение счётчиков
// выполняются одной транзакцией: частично применённых выдач не бывает.
func (r *PostgresRepository) BorrowBook(ctx context.Context, userID, bookID int64, now time.Time) (*model.BorrowRecord, error) {
	var rec *model.BorrowRecord

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			// Блокируем строку читателя: параллельные выдачи одного
			// пользователя сериализуются и лимит не превышается.
			var status string
			var currentBorrowed int
			err := tx.QueryRow(ctx,
				`SELECT status, current_borrowed FROM users WHERE id = $1 FOR UPDATE`,
				userID,
			).Scan(&status, &currentBorrowed)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrUserNotFound
				}
				return fmt.Errorf("lock user: %w", err)
			}

			u := model.User{Status: model.UserStatus(status), CurrentBorrowed: currentBorrowed}
			if !u.CanBorrow() {
				return ErrUserCannotBorrow
			}

			// Блокируем строку издания до захвата экземпляра: пересчёты
			// available_copies параллельных выдач сериализуются.
			var exists int
			err = tx.QueryRow(ctx, `SELECT 1 FROM books WHERE id = $1 FOR UPDATE`, bookID).Scan(&exists)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrBookNotFound
				}
				return fmt.Errorf("check book: %w", err)
			}

			// Захват экземпляра: выбор и смена состояния — один оператор,
			// SKIP LOCKED исключает гонку двух параллельных выдач за строку.
			var copyID int64
			err = tx.QueryRow(ctx,
				`UPDATE book_copies SET status = $1
				 WHERE id = (
				     SELECT id FROM book_copies
				     WHERE book_id = $2 AND status = $3
				     ORDER BY id
				     LIMIT 1
				     FOR UPDATE SKIP LOCKED
				 )
				 RETURNING id`,
				string(model.CopyStatusBorrowed), bookID, string(model.CopyStatusAvailable),
			).Scan(&copyID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrNoCopyAvailable
				}
				return fmt.Errorf("claim copy: %w", err)
			}

			borrowed := model.BorrowRecord{
				UserID:             userID,
				BookID:             bookID,
				CopyID:             copyID,
				Status:             model.RecordStatusBorrowed,
				BorrowDate:         now,
				ExpectedReturnDate: now.AddDate(0, 0, model.LoanPeriodDays),
			}

			err = tx.QueryRow(ctx,
				`INSERT INTO borrow_records (user_id, book_id, copy_id, status, borrow_date, expected_return_date)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 RETURNING id`,
				userID, bookID, copyID, string(borrowed.Status), borrowed.BorrowDate, borrowed.ExpectedReturnDate,
			).Scan(&borrowed.ID)
			if err != nil {
				return fmt.Errorf("insert record: %w", err)
			}

			if err := recomputeAvailableTx(ctx, tx, bookID); err != nil {
				return err
			}

			_, err = tx.Exec(ctx,
				`UPDATE users
				 SET current_borrowed = current_borrowed + 1,
				     total_borrowed = total_borrowed + 1
				 WHERE id = $1`,
				userID,
			)
			if err != nil {
				return fmt.Errorf("update user counters: %w", err)
			}

			rec = &borrowed
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// ReturnCopy закрывает запись о выдаче и возвращает экземпляр в фонд.
// При просрочке начисляется (или доначисляется) единственный штраф записи.
func (r *PostgresRepository) ReturnCopy(ctx context.Context, recordID int64, now time.Time) (*model.BorrowRecord, *model.Fine, error) {
	var rec *model.BorrowRecord
	var fine *model.Fine

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			locked, err := lockRecordTx(ctx, tx, recordID)
			if err != nil {
				return err
			}
			if !locked.CanReturn() {
				return ErrNotReturnable
			}

			_, err = tx.Exec(ctx,
				`UPDATE borrow_records SET status = $2, actual_return_date = $3 WHERE id = $1`,
				recordID, string(model.RecordStatusReturned), now,
			)
			if err != nil {
				return fmt.Errorf("close record: %w", err)
			}

			if err := releaseCopyTx(ctx, tx, locked.CopyID, model.CopyStatusAvailable); err != nil {
				return err
			}
			if err := recomputeAvailableTx(ctx, tx, locked.BookID); err != nil {
				return err
			}

			days := model.OverdueDays(locked.ExpectedReturnDate, now)
			if days > 0 {
				fine, err = upsertOverdueFineTx(ctx, tx, locked, model.OverdueFine(days), now)
				if err != nil {
					return err
				}
			}

			if err := decrementBorrowedTx(ctx, tx, locked.UserID); err != nil {
				return err
			}

			locked.Status = model.RecordStatusReturned
			locked.ActualReturnDate = &now
			rec = locked
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}

	return rec, fine, nil
}

// ExtendLoan продлевает срок возврата на фиксированный период.
// Допускается один раз и только для записи в статусе BORROWED.
func (r *PostgresRepository) ExtendLoan(ctx context.Context, recordID int64) (*model.BorrowRecord, error) {
	var rec *model.BorrowRecord

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			locked, err := lockRecordTx(ctx, tx, recordID)
			if err != nil {
				return err
			}
			if locked.Status != model.RecordStatusBorrowed {
				return ErrNotBorrowed
			}
			if locked.Extended {
				return ErrAlreadyExtended
			}

			newDate := locked.ExpectedReturnDate.AddDate(0, 0, model.ExtensionDays)
			_, err = tx.Exec(ctx,
				`UPDATE borrow_records SET expected_return_date = $2, extended = TRUE WHERE id = $1`,
				recordID, newDate,
			)
			if err != nil {
				return fmt.Errorf("extend record: %w", err)
			}

			locked.ExpectedReturnDate = newDate
			locked.Extended = true
			rec = locked
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// ReportLost списывает экземпляр как утерянный и начисляет штраф.
func (r *PostgresRepository) ReportLost(ctx context.Context, recordID int64, fineAmount int64, now time.Time) (*model.BorrowRecord, *model.Fine, error) {
	return r.closeRecord(ctx, recordID, model.RecordStatusLost, model.CopyStatusLost, model.FineTypeLost, fineAmount, now)
}

// ReportDamaged списывает экземпляр как повреждённый и начисляет штраф.
func (r *PostgresRepository) ReportDamaged(ctx context.Context, recordID int64, fineAmount int64, now time.Time) (*model.BorrowRecord, *model.Fine, error) {
	return r.closeRecord(ctx, recordID, model.RecordStatusDamaged, model.CopyStatusDamaged, model.FineTypeDamaged, fineAmount, now)
}

// closeRecord терминально закрывает запись: экземпляр переходит в LOST или
// DAMAGED и в фонд не возвращается, читателю начисляется фиксированный штраф.
func (r *PostgresRepository) closeRecord(ctx context.Context, recordID int64, recStatus model.RecordStatus, copyStatus model.CopyStatus, fineType model.FineType, fineAmount int64, now time.Time) (*model.BorrowRecord, *model.Fine, error) {
	var rec *model.BorrowRecord
	var fine *model.Fine

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			locked, err := lockRecordTx(ctx, tx, recordID)
			if err != nil {
				return err
			}
			if !locked.CanReturn() {
				return ErrNotReturnable
			}

			_, err = tx.Exec(ctx,
				`UPDATE borrow_records SET status = $2, actual_return_date = $3 WHERE id = $1`,
				recordID, string(recStatus), now,
			)
			if err != nil {
				return fmt.Errorf("close record: %w", err)
			}

			if err := releaseCopyTx(ctx, tx, locked.CopyID, copyStatus); err != nil {
				return err
			}
			if err := recomputeAvailableTx(ctx, tx, locked.BookID); err != nil {
				return err
			}

			fine, err = insertFineTx(ctx, tx, locked.UserID, &locked.ID, fineType, fineAmount, now)
			if err != nil {
				return err
			}

			if err := decrementBorrowedTx(ctx, tx, locked.UserID); err != nil {
				return err
			}

			locked.Status = recStatus
			locked.ActualReturnDate = &now
			rec = locked
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}

	return rec, fine, nil
}

// GetRecordsByUser возвращает записи о выдачах читателя.
func (r *PostgresRepository) GetRecordsByUser(ctx context.Context, userID int64) ([]model.BorrowRecord, error) {
	ctx, cancel := boundedCtx(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, book_id, copy_id, status, borrow_date, expected_return_date, actual_return_date, extended
		 FROM borrow_records
		 WHERE user_id = $1
		 ORDER BY borrow_date DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	var records []model.BorrowRecord
	for rows.Next() {
		var rec model.BorrowRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.BookID, &rec.CopyID, &status, &rec.BorrowDate, &rec.ExpectedReturnDate, &rec.ActualReturnDate, &rec.Extended); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Status = model.RecordStatus(status)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return records, nil
}

// GetOverdueRecords возвращает открытые записи с истёкшим сроком возврата.
func (r *PostgresRepository) GetOverdueRecords(ctx context.Context, now time.Time, limit int) ([]model.BorrowRecord, error) {
	ctx, cancel := boundedCtx(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, book_id, copy_id, status, borrow_date, expected_return_date, actual_return_date, extended
		 FROM borrow_records
		 WHERE status IN ($1, $2) AND expected_return_date < $3
		 ORDER BY expected_return_date
		 LIMIT $4`,
		string(model.RecordStatusBorrowed), string(model.RecordStatusOverdue), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select overdue records: %w", err)
	}
	defer rows.Close()

	var records []model.BorrowRecord
	for rows.Next() {
		var rec model.BorrowRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.BookID, &rec.CopyID, &status, &rec.BorrowDate, &rec.ExpectedReturnDate, &rec.ActualReturnDate, &rec.Extended); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Status = model.RecordStatus(status)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return records, nil
}

// ApplyOverdueFine помечает открытую просроченную запись статусом OVERDUE и
// идемпотентно начисляет её единственный штраф за просрочку. Повторный
// вызов по неизменившейся записи сумму не задваивает. Если запись успели
// закрыть параллельно, возвращается ErrNotReturnable.
func (r *PostgresRepository) ApplyOverdueFine(ctx context.Context, recordID int64, now time.Time) (*model.Fine, error) {
	var fine *model.Fine

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			locked, err := lockRecordTx(ctx, tx, recordID)
			if err != nil {
				return err
			}
			if !locked.CanReturn() {
				return ErrNotReturnable
			}

			days := model.OverdueDays(locked.ExpectedReturnDate, now)
			if days == 0 {
				return nil
			}

			if locked.Status == model.RecordStatusBorrowed {
				_, err = tx.Exec(ctx,
					`UPDATE borrow_records SET status = $2 WHERE id = $1`,
					recordID, string(model.RecordStatusOverdue),
				)
				if err != nil {
					return fmt.Errorf("flag overdue: %w", err)
				}
			}

			fine, err = upsertOverdueFineTx(ctx, tx, locked, model.OverdueFine(days), now)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	return fine, nil
}

// lockRecordTx читает запись о выдаче с блокировкой строки.
func lockRecordTx(ctx context.Context, tx pgx.Tx, recordID int64) (*model.BorrowRecord, error) {
	row := tx.QueryRow(ctx,
		`SELECT id, user_id, book_id, copy_id, status, borrow_date, expected_return_date, actual_return_date, extended
		 FROM borrow_records
		 WHERE id = $1
		 FOR UPDATE`,
		recordID,
	)

	var rec model.BorrowRecord
	var status string
	err := row.Scan(&rec.ID, &rec.UserID, &rec.BookID, &rec.CopyID, &status, &rec.BorrowDate, &rec.ExpectedReturnDate, &rec.ActualReturnDate, &rec.Extended)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("lock record: %w", err)
	}
	rec.Status = model.RecordStatus(status)

	return &rec, nil
}

// releaseCopyTx переводит выданный экземпляр в указанное состояние.
// Условие на текущий статус закрывает гонку двух одновременных возвратов.
func releaseCopyTx(ctx context.Context, tx pgx.Tx, copyID int64, to model.CopyStatus) error {
	tag, err := tx.Exec(ctx,
		`UPDATE book_copies SET status = $2 WHERE id = $1 AND status = $3`,
		copyID, string(to), string(model.CopyStatusBorrowed),
	)
	if err != nil {
		return fmt.Errorf("release copy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCopyNotBorrowed
	}
	return nil
}

func decrementBorrowedTx(ctx context.Context, tx pgx.Tx, userID int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE users SET current_borrowed = GREATEST(current_borrowed - 1, 0) WHERE id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("decrement borrowed: %w", err)
	}
	return nil
}
