// Package model содержит доменные сущности библиотечного сервиса.
package model

import "time"

// Политики обслуживания. Сроки в днях, суммы в минимальных денежных единицах.
const (
	LoanPeriodDays   = 14
	ExtensionDays    = 14
	MaxBorrowedBooks = 5
	DailyFineRate    = 1000
	FineDueDays      = 30
)

// UserStatus описывает состояние учётной записи читателя.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User представляет читателя и его производные счётчики.
// CurrentBorrowed и TotalBorrowed изменяются только в одной транзакции
// с записями о выдаче; TotalFines — пожизненная сумма начислений,
// при оплате не уменьшается.
type User struct {
	ID              int64
	Login           string
	PasswordHash    []byte
	Status          UserStatus
	CurrentBorrowed int
	TotalBorrowed   int
	TotalFines      int64
	CreatedAt       time.Time
}

// CanBorrow сообщает, разрешена ли читателю новая выдача.
func (u *User) CanBorrow() bool {
	return u.Status == UserStatusActive && u.CurrentBorrowed < MaxBorrowedBooks
}

// Book описывает издание каталога. TotalCopies и AvailableCopies —
// производные счётчики, пересчитываемые из состояний экземпляров.
type Book struct {
	ID              int64
	Title           string
	Author          string
	ISBN            string
	TotalCopies     int
	AvailableCopies int
	CreatedAt       time.Time
}

// CopyStatus описывает состояние физического экземпляра.
type CopyStatus string

const (
	CopyStatusAvailable   CopyStatus = "AVAILABLE"
	CopyStatusBorrowed    CopyStatus = "BORROWED"
	CopyStatusReserved    CopyStatus = "RESERVED"
	CopyStatusLost        CopyStatus = "LOST"
	CopyStatusDamaged     CopyStatus = "DAMAGED"
	CopyStatusMaintenance CopyStatus = "MAINTENANCE"
)

// BookCopy представляет один физический экземпляр издания.
type BookCopy struct {
	ID     int64
	BookID int64
	Status CopyStatus
}

// RecordStatus описывает состояние записи о выдаче.
type RecordStatus string

const (
	RecordStatusBorrowed RecordStatus = "BORROWED"
	RecordStatusOverdue  RecordStatus = "OVERDUE"
	RecordStatusReturned RecordStatus = "RETURNED"
	RecordStatusLost     RecordStatus = "LOST"
	RecordStatusDamaged  RecordStatus = "DAMAGED"
)

// BorrowRecord представляет один эпизод выдачи экземпляра читателю.
type BorrowRecord struct {
	ID                 int64
	UserID             int64
	BookID             int64
	CopyID             int64
	Status             RecordStatus
	BorrowDate         time.Time
	ExpectedReturnDate time.Time
	ActualReturnDate   *time.Time
	Extended           bool
}

// CanReturn сообщает, допустим ли возврат или списание по записи.
func (r *BorrowRecord) CanReturn() bool {
	return r.Status == RecordStatusBorrowed || r.Status == RecordStatusOverdue
}

// IsOverdue сообщает, просрочена ли открытая запись на момент now.
func (r *BorrowRecord) IsOverdue(now time.Time) bool {
	return r.CanReturn() && OverdueDays(r.ExpectedReturnDate, now) > 0
}

// FineStatus описывает состояние штрафа.
type FineStatus string

const (
	FineStatusPending   FineStatus = "PENDING"
	FineStatusPaid      FineStatus = "PAID"
	FineStatusWaived    FineStatus = "WAIVED"
	FineStatusCancelled FineStatus = "CANCELLED"
)

// FineType описывает причину начисления штрафа.
type FineType string

const (
	FineTypeOverdue FineType = "OVERDUE"
	FineTypeLost    FineType = "LOST"
	FineTypeDamaged FineType = "DAMAGED"
)

// Fine представляет денежное обязательство читателя. Amount фиксируется
// при начислении и неизменяем после перехода в терминальный статус.
type Fine struct {
	ID               int64
	UserID           int64
	RecordID         *int64
	Type             FineType
	Status           FineStatus
	Amount           int64
	IssuedDate       time.Time
	DueDate          time.Time
	PaidDate         *time.Time
	PaymentMethod    string
	PaymentReference string
	WaivedBy         string
	WaiveReason      string
}

// IsTerminal сообщает, завершён ли жизненный цикл штрафа.
func (f *Fine) IsTerminal() bool {
	return f.Status != FineStatusPending
}

// Balance содержит пожизненную сумму начислений и текущую задолженность читателя.
type Balance struct {
	TotalFines  int64 `json:"total_fines"`
	Outstanding int64 `json:"outstanding"`
}

// OverdueDays возвращает число полных календарных дней просрочки между
// ожидаемой датой возврата и моментом now. Дни просрочки считаются только
// здесь: и возврат, и фоновый обход пользуются одной функцией.
func OverdueDays(expected, now time.Time) int {
	days := int(dateOnly(now).Sub(dateOnly(expected)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// OverdueFine возвращает сумму штрафа за указанное число дней просрочки.
func OverdueFine(overdueDays int) int64 {
	if overdueDays <= 0 {
		return 0
	}
	return int64(overdueDays) * DailyFineRate
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
