package model

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestOverdueDays(t *testing.T) {
	tests := []struct {
		name     string
		expected time.Time
		now      time.Time
		want     int
	}{
		{
			name:     "not due yet",
			expected: date(2025, 6, 15),
			now:      date(2025, 6, 10),
			want:     0,
		},
		{
			name:     "due today",
			expected: date(2025, 6, 15),
			now:      date(2025, 6, 15),
			want:     0,
		},
		{
			name:     "six days late",
			expected: date(2025, 6, 15),
			now:      date(2025, 6, 21),
			want:     6,
		},
		{
			name:     "time of day ignored",
			expected: date(2025, 6, 15),
			now:      time.Date(2025, 6, 16, 23, 59, 0, 0, time.UTC),
			want:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OverdueDays(tt.expected, tt.now); got != tt.want {
				t.Fatalf("OverdueDays = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOverdueFine(t *testing.T) {
	if got := OverdueFine(6); got != 6*DailyFineRate {
		t.Fatalf("OverdueFine(6) = %d, want %d", got, 6*DailyFineRate)
	}
	if got := OverdueFine(0); got != 0 {
		t.Fatalf("OverdueFine(0) = %d, want 0", got)
	}
	if got := OverdueFine(-1); got != 0 {
		t.Fatalf("OverdueFine(-1) = %d, want 0", got)
	}
}

func TestUserCanBorrow(t *testing.T) {
	u := &User{Status: UserStatusActive, CurrentBorrowed: 0}
	if !u.CanBorrow() {
		t.Fatalf("active user with no loans must be able to borrow")
	}

	u.CurrentBorrowed = MaxBorrowedBooks
	if u.CanBorrow() {
		t.Fatalf("user at the loan limit must not be able to borrow")
	}

	u = &User{Status: UserStatusSuspended, CurrentBorrowed: 0}
	if u.CanBorrow() {
		t.Fatalf("suspended user must not be able to borrow")
	}
}

func TestRecordCanReturn(t *testing.T) {
	for _, status := range []RecordStatus{RecordStatusBorrowed, RecordStatusOverdue} {
		rec := &BorrowRecord{Status: status}
		if !rec.CanReturn() {
			t.Fatalf("record in status %s must be returnable", status)
		}
	}

	for _, status := range []RecordStatus{RecordStatusReturned, RecordStatusLost, RecordStatusDamaged} {
		rec := &BorrowRecord{Status: status}
		if rec.CanReturn() {
			t.Fatalf("record in terminal status %s must not be returnable", status)
		}
	}
}

func TestRecordIsOverdue(t *testing.T) {
	rec := &BorrowRecord{
		Status:             RecordStatusBorrowed,
		ExpectedReturnDate: date(2025, 6, 15),
	}

	if rec.IsOverdue(date(2025, 6, 14)) {
		t.Fatalf("record before the due date must not be overdue")
	}
	if !rec.IsOverdue(date(2025, 6, 16)) {
		t.Fatalf("record past the due date must be overdue")
	}

	rec.Status = RecordStatusReturned
	if rec.IsOverdue(date(2025, 6, 16)) {
		t.Fatalf("closed record must not be overdue")
	}
}

func TestFineIsTerminal(t *testing.T) {
	f := &Fine{Status: FineStatusPending}
	if f.IsTerminal() {
		t.Fatalf("pending fine must not be terminal")
	}

	for _, status := range []FineStatus{FineStatusPaid, FineStatusWaived, FineStatusCancelled} {
		f := &Fine{Status: status}
		if !f.IsTerminal() {
			t.Fatalf("fine in status %s must be terminal", status)
		}
	}
}

// Сквозной сценарий политики: выдача на 14 дней, возврат на 20-й день.
func TestLoanPolicyScenario(t *testing.T) {
	borrowDate := date(2025, 6, 1)
	expected := borrowDate.AddDate(0, 0, LoanPeriodDays)
	returned := borrowDate.AddDate(0, 0, 20)

	days := OverdueDays(expected, returned)
	if days != 6 {
		t.Fatalf("overdue days = %d, want 6", days)
	}
	if amount := OverdueFine(days); amount != 6000 {
		t.Fatalf("fine amount = %d, want 6000", amount)
	}
}
