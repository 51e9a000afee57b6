package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/library-system/internal/model"
)

const fineColumns = `id, user_id, record_id, type, status, amount, issued_date, due_date, paid_date,
	 payment_method, payment_reference, waived_by, waive_reason`

// insertFineTx начисляет штраф и увеличивает пожизненную сумму начислений
// читателя в той же транзакции.
func insertFineTx(ctx context.Context, tx pgx.Tx, userID int64, recordID *int64, fineType model.FineType, amount int64, now time.Time) (*model.Fine, error) {
	fine := model.Fine{
		UserID:     userID,
		RecordID:   recordID,
		Type:       fineType,
		Status:     model.FineStatusPending,
		Amount:     amount,
		IssuedDate: now,
		DueDate:    now.AddDate(0, 0, model.FineDueDays),
	}

	err := tx.QueryRow(ctx,
		`INSERT INTO fines (user_id, record_id, type, status, amount, issued_date, due_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		userID, recordID, string(fineType), string(fine.Status), amount, fine.IssuedDate, fine.DueDate,
	).Scan(&fine.ID)
	if err != nil {
		return nil, fmt.Errorf("insert fine: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET total_fines = total_fines + $2 WHERE id = $1`,
		userID, amount,
	)
	if err != nil {
		return nil, fmt.Errorf("update total fines: %w", err)
	}

	return &fine, nil
}

// upsertOverdueFineTx начисляет штраф за просрочку по записи или доводит
// сумму уже начисленного до актуальной. У записи не бывает двух штрафов
// за просрочку; терминальный штраф заморожен и не меняется.
func upsertOverdueFineTx(ctx context.Context, tx pgx.Tx, rec *model.BorrowRecord, amount int64, now time.Time) (*model.Fine, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+fineColumns+`
		 FROM fines
		 WHERE record_id = $1 AND type = $2
		 FOR UPDATE`,
		rec.ID, string(model.FineTypeOverdue),
	)

	existing, err := scanFine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return insertFineTx(ctx, tx, rec.UserID, &rec.ID, model.FineTypeOverdue, amount, now)
		}
		return nil, fmt.Errorf("lock fine: %w", err)
	}

	if existing.IsTerminal() {
		return existing, nil
	}

	if delta := amount - existing.Amount; delta != 0 {
		_, err := tx.Exec(ctx,
			`UPDATE fines SET amount = $2 WHERE id = $1`,
			existing.ID, amount,
		)
		if err != nil {
			return nil, fmt.Errorf("update fine amount: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE users SET total_fines = total_fines + $2 WHERE id = $1`,
			existing.UserID, delta,
		)
		if err != nil {
			return nil, fmt.Errorf("update total fines: %w", err)
		}

		existing.Amount = amount
	}

	return existing, nil
}

// PayFine отмечает штраф оплаченным. Терминальный штраф неизменяем:
// из двух одновременных оплат пройдёт ровно одна.
func (r *PostgresRepository) PayFine(ctx context.Context, fineID int64, method, reference string, now time.Time) (*model.Fine, error) {
	ctx, cancel := boundedCtx(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx,
		`UPDATE fines
		 SET status = $2, paid_date = $3, payment_method = $4, payment_reference = $5
		 WHERE id = $1 AND status = $6
		 RETURNING `+fineColumns,
		fineID, string(model.FineStatusPaid), now, method, reference, string(model.FineStatusPending),
	)

	fine, err := scanFine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.fineUpdateConflict(ctx, fineID)
		}
		return nil, fmt.Errorf("pay fine: %w", err)
	}

	return fine, nil
}

// WaiveFine прощает штраф с указанием, кем и по какой причине.
func (r *PostgresRepository) WaiveFine(ctx context.Context, fineID int64, by, reason string) (*model.Fine, error) {
	ctx, cancel := boundedCtx(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx,
		`UPDATE fines
		 SET status = $2, waived_by = $3, waive_reason = $4
		 WHERE id = $1 AND status = $5
		 RETURNING `+fineColumns,
		fineID, string(model.FineStatusWaived), by, reason, string(model.FineStatusPending),
	)

	fine, err := scanFine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.fineUpdateConflict(ctx, fineID)
		}
		return nil, fmt.Errorf("waive fine: %w", err)
	}

	return fine, nil
}

// CancelFine отменяет штраф.
func (r *PostgresRepository) CancelFine(ctx context.Context, fineID int64) (*model.Fine, error) {
	ctx, cancel := boundedCtx(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx,
		`UPDATE fines
		 SET status = $2
		 WHERE id = $1 AND status = $3
		 RETURNING `+fineColumns,
		fineID, string(model.FineStatusCancelled), string(model.FineStatusPending),
	)

	fine, err := scanFine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.fineUpdateConflict(ctx, fineID)
		}
		return nil, fmt.Errorf("cancel fine: %w", err)
	}

	return fine, nil
}

// fineUpdateConflict различает отсутствующий штраф и уже терминальный.
func (r *PostgresRepository) fineUpdateConflict(ctx context.Context, fineID int64) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM fines WHERE id = $1`, fineID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrFineNotFound
		}
		return fmt.Errorf("check fine: %w", err)
	}
	return fmt.Errorf("%w: %s", ErrFineAlreadyTerminal, status)
}

// GetFinesByUser возвращает штрафы читателя.
func (r *PostgresRepository) GetFinesByUser(ctx context.Context, userID int64) ([]model.Fine, error) {
	ctx, cancel := boundedCtx(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT `+fineColumns+`
		 FROM fines
		 WHERE user_id = $1
		 ORDER BY issued_date DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select fines: %w", err)
	}
	defer rows.Close()

	var fines []model.Fine
	for rows.Next() {
		fine, err := scanFine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fine: %w", err)
		}
		fines = append(fines, *fine)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return fines, nil
}

func scanFine(row pgx.Row) (*model.Fine, error) {
	var f model.Fine
	var fineType, status string
	err := row.Scan(&f.ID, &f.UserID, &f.RecordID, &fineType, &status, &f.Amount, &f.IssuedDate, &f.DueDate,
		&f.PaidDate, &f.PaymentMethod, &f.PaymentReference, &f.WaivedBy, &f.WaiveReason)
	if err != nil {
		return nil, err
	}
	f.Type = model.FineType(fineType)
	f.Status = model.FineStatus(status)
	return &f, nil
}
