// Package service реализует бизнес-логику библиотечного сервиса.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/library-system/internal/model"
	"github.com/mmeshcher/library-system/internal/notify"
	"github.com/mmeshcher/library-system/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	CreateBook(ctx context.Context, title, author, isbn string, copies int) (*model.Book, error)
	GetBook(ctx context.Context, bookID int64) (*model.Book, error)
	ListBooks(ctx context.Context) ([]model.Book, error)
	BorrowBook(ctx context.Context, userID, bookID int64, now time.Time) (*model.BorrowRecord, error)
	ReturnCopy(ctx context.Context, recordID int64, now time.Time) (*model.BorrowRecord, *model.Fine, error)
	ExtendLoan(ctx context.Context, recordID int64) (*model.BorrowRecord, error)
	ReportLost(ctx context.Context, recordID int64, fineAmount int64, now time.Time) (*model.BorrowRecord, *model.Fine, error)
	ReportDamaged(ctx context.Context, recordID int64, fineAmount int64, now time.Time) (*model.BorrowRecord, *model.Fine, error)
	GetRecordsByUser(ctx context.Context, userID int64) ([]model.BorrowRecord, error)
	GetOverdueRecords(ctx context.Context, now time.Time, limit int) ([]model.BorrowRecord, error)
	ApplyOverdueFine(ctx context.Context, recordID int64, now time.Time) (*model.Fine, error)
	GetFinesByUser(ctx context.Context, userID int64) ([]model.Fine, error)
	PayFine(ctx context.Context, fineID int64, method, reference string, now time.Time) (*model.Fine, error)
	WaiveFine(ctx context.Context, fineID int64, by, reason string) (*model.Fine, error)
	CancelFine(ctx context.Context, fineID int64) (*model.Fine, error)
}

// Policy содержит настраиваемые суммы штрафов за утерю и повреждение.
type Policy struct {
	LostFineAmount    int64
	DamagedFineAmount int64
	SweepInterval     time.Duration
}

// Service содержит бизнес-логику библиотечного сервиса.
type Service struct {
	repo         Repository
	notifyClient *notify.Client
	policy       Policy
	logger       *zap.Logger
	now          func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом уведомлений.
func NewService(repo Repository, notifyClient *notify.Client, policy Policy, logger *zap.Logger) *Service {
	if policy.SweepInterval <= 0 {
		policy.SweepInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:         repo,
		notifyClient: notifyClient,
		policy:       policy,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового читателя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль читателя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, errors.New("invalid credentials")
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// AddBook добавляет издание и его экземпляры в каталог.
func (s *Service) AddBook(ctx context.Context, title, author, isbn string, copies int) (*model.Book, error) {
	if copies <= 0 {
		return nil, errors.New("copies must be positive")
	}
	return s.repo.CreateBook(ctx, title, author, isbn, copies)
}

// ListBooks возвращает каталог изданий.
func (s *Service) ListBooks(ctx context.Context) ([]model.Book, error) {
	return s.repo.ListBooks(ctx)
}

// Borrow выдаёт читателю свободный экземпляр издания.
func (s *Service) Borrow(ctx context.Context, userID, bookID int64) (*model.BorrowRecord, error) {
	return s.repo.BorrowBook(ctx, userID, bookID, s.now())
}

// ReturnCopy принимает возврат по записи о выдаче. При просрочке вместе
// с записью возвращается начисленный штраф.
func (s *Service) ReturnCopy(ctx context.Context, recordID int64) (*model.BorrowRecord, *model.Fine, error) {
	return s.repo.ReturnCopy(ctx, recordID, s.now())
}

// Extend продлевает срок возврата по записи о выдаче.
func (s *Service) Extend(ctx context.Context, recordID int64) (*model.BorrowRecord, error) {
	return s.repo.ExtendLoan(ctx, recordID)
}

// ReportLost оформляет утерю экземпляра.
func (s *Service) ReportLost(ctx context.Context, recordID int64) (*model.BorrowRecord, *model.Fine, error) {
	return s.repo.ReportLost(ctx, recordID, s.policy.LostFineAmount, s.now())
}

// ReportDamaged оформляет повреждение экземпляра.
func (s *Service) ReportDamaged(ctx context.Context, recordID int64) (*model.BorrowRecord, *model.Fine, error) {
	return s.repo.ReportDamaged(ctx, recordID, s.policy.DamagedFineAmount, s.now())
}

// GetRecordsByUser возвращает записи о выдачах читателя.
func (s *Service) GetRecordsByUser(ctx context.Context, userID int64) ([]model.BorrowRecord, error) {
	return s.repo.GetRecordsByUser(ctx, userID)
}

// GetFinesByUser возвращает штрафы читателя.
func (s *Service) GetFinesByUser(ctx context.Context, userID int64) ([]model.Fine, error) {
	return s.repo.GetFinesByUser(ctx, userID)
}

// GetBalance возвращает пожизненную сумму начислений и задолженность читателя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	return s.repo.GetBalance(ctx, userID)
}

// PayFine отмечает штраф оплаченным.
func (s *Service) PayFine(ctx context.Context, fineID int64, method, reference string) (*model.Fine, error) {
	return s.repo.PayFine(ctx, fineID, method, reference, s.now())
}

// WaiveFine прощает штраф.
func (s *Service) WaiveFine(ctx context.Context, fineID int64, by, reason string) (*model.Fine, error) {
	return s.repo.WaiveFine(ctx, fineID, by, reason)
}

// CancelFine отменяет штраф.
func (s *Service) CancelFine(ctx context.Context, fineID int64) (*model.Fine, error) {
	return s.repo.CancelFine(ctx, fineID)
}

// StartOverdueSweep запускает фоновый обход просроченных выдач.
func (s *Service) StartOverdueSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.policy.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processOverdueBatch(ctx)
			}
		}
	}()
}

func (s *Service) processOverdueBatch(ctx context.Context) {
	now := s.now()

	records, err := s.repo.GetOverdueRecords(ctx, now, 100)
	if err != nil {
		s.logger.Error("select overdue records", zap.Error(err))
		return
	}

	for _, rec := range records {
		fine, err := s.repo.ApplyOverdueFine(ctx, rec.ID, now)
		if err != nil {
			// Запись могли вернуть параллельно: это штатный исход обхода.
			if errors.Is(err, repository.ErrNotReturnable) || errors.Is(err, repository.ErrRecordNotFound) {
				continue
			}
			s.logger.Error("apply overdue fine", zap.Error(err), zap.Int64("recordID", rec.ID))
			continue
		}

		if fine == nil || s.notifyClient == nil {
			continue
		}

		notice := notify.OverdueNotice{
			UserID:      rec.UserID,
			RecordID:    rec.ID,
			BookID:      rec.BookID,
			FineAmount:  fine.Amount,
			OverdueDays: model.OverdueDays(rec.ExpectedReturnDate, now),
			DueDate:     rec.ExpectedReturnDate,
		}
		if err := s.notifyClient.SendOverdueNotice(ctx, notice); err != nil {
			s.logger.Warn("send overdue notice", zap.Error(err), zap.Int64("recordID", rec.ID))
		}
	}
}
