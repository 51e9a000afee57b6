// Package handler содержит HTTP-обработчики API библиотечного сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/library-system/internal/middleware"
	"github.com/mmeshcher/library-system/internal/model"
	"github.com/mmeshcher/library-system/internal/repository"
	"github.com/mmeshcher/library-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	AddBook(ctx context.Context, title, author, isbn string, copies int) (*model.Book, error)
	ListBooks(ctx context.Context) ([]model.Book, error)
	Borrow(ctx context.Context, userID, bookID int64) (*model.BorrowRecord, error)
	ReturnCopy(ctx context.Context, recordID int64) (*model.BorrowRecord, *model.Fine, error)
	Extend(ctx context.Context, recordID int64) (*model.BorrowRecord, error)
	ReportLost(ctx context.Context, recordID int64) (*model.BorrowRecord, *model.Fine, error)
	ReportDamaged(ctx context.Context, recordID int64) (*model.BorrowRecord, *model.Fine, error)
	GetRecordsByUser(ctx context.Context, userID int64) ([]model.BorrowRecord, error)
	GetFinesByUser(ctx context.Context, userID int64) ([]model.Fine, error)
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	PayFine(ctx context.Context, fineID int64, method, reference string) (*model.Fine, error)
	WaiveFine(ctx context.Context, fineID int64, by, reason string) (*model.Fine, error)
	CancelFine(ctx context.Context, fineID int64) (*model.Fine, error)
}

// Handler реализует HTTP-обработчики API библиотечного сервиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового читателя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию читателя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type addBookRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN   string `json:"isbn"`
	Copies int    `json:"copies"`
}

type bookResponse struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
}

// AddBook добавляет издание и его экземпляры в каталог.
func (h *Handler) AddBook(w http.ResponseWriter, r *http.Request) {
	var req addBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Title == "" || req.Author == "" || req.Copies <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidISBN(req.ISBN) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	book, err := h.service.AddBook(r.Context(), req.Title, req.Author, req.ISBN, req.Copies)
	if err != nil {
		h.logger.Error("add book error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, toBookResponse(*book))
}

// ListBooks возвращает каталог изданий.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context())
	if err != nil {
		h.logger.Error("list books error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(books) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]bookResponse, 0, len(books))
	for _, b := range books {
		resp = append(resp, toBookResponse(b))
	}

	writeJSON(w, http.StatusOK, resp)
}

type borrowRequest struct {
	BookID int64 `json:"book_id"`
}

type recordResponse struct {
	ID                 int64  `json:"id"`
	BookID             int64  `json:"book_id"`
	CopyID             int64  `json:"copy_id"`
	Status             string `json:"status"`
	BorrowDate         string `json:"borrow_date"`
	ExpectedReturnDate string `json:"expected_return_date"`
	ActualReturnDate   string `json:"actual_return_date,omitempty"`
	Extended           bool   `json:"extended"`
}

type recordWithFineResponse struct {
	Record recordResponse `json:"record"`
	Fine   *fineResponse  `json:"fine,omitempty"`
}

// Borrow выдаёт текущему читателю экземпляр указанного издания.
func (h *Handler) Borrow(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req borrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BookID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rec, err := h.service.Borrow(r.Context(), userID, req.BookID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrBookNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrUserCannotBorrow):
			writeError(w, http.StatusConflict, "user cannot borrow")
		case errors.Is(err, repository.ErrNoCopyAvailable):
			writeError(w, http.StatusConflict, "no copy available")
		default:
			h.logger.Error("borrow error", zap.Error(err), zap.Int64("userID", userID), zap.Int64("bookID", req.BookID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, toRecordResponse(*rec))
}

// GetRecords возвращает записи о выдачах текущего читателя.
func (h *Handler) GetRecords(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	records, err := h.service.GetRecordsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get records error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(records) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toRecordResponse(rec))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ReturnCopy принимает возврат по записи о выдаче.
func (h *Handler) ReturnCopy(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r)
	if !ok {
		return
	}

	rec, fine, err := h.service.ReturnCopy(r.Context(), recordID)
	if err != nil {
		h.writeRecordError(w, err, recordID)
		return
	}

	writeJSON(w, http.StatusOK, toRecordWithFine(rec, fine))
}

// Extend продлевает срок возврата по записи о выдаче.
func (h *Handler) Extend(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r)
	if !ok {
		return
	}

	rec, err := h.service.Extend(r.Context(), recordID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrRecordNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrAlreadyExtended):
			writeError(w, http.StatusConflict, "record already extended")
		case errors.Is(err, repository.ErrNotBorrowed):
			writeError(w, http.StatusConflict, "record is not borrowed")
		default:
			h.logger.Error("extend error", zap.Error(err), zap.Int64("recordID", recordID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, toRecordResponse(*rec))
}

// ReportLost оформляет утерю экземпляра по записи о выдаче.
func (h *Handler) ReportLost(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r)
	if !ok {
		return
	}

	rec, fine, err := h.service.ReportLost(r.Context(), recordID)
	if err != nil {
		h.writeRecordError(w, err, recordID)
		return
	}

	writeJSON(w, http.StatusOK, toRecordWithFine(rec, fine))
}

// ReportDamaged оформляет повреждение экземпляра по записи о выдаче.
func (h *Handler) ReportDamaged(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r)
	if !ok {
		return
	}

	rec, fine, err := h.service.ReportDamaged(r.Context(), recordID)
	if err != nil {
		h.writeRecordError(w, err, recordID)
		return
	}

	writeJSON(w, http.StatusOK, toRecordWithFine(rec, fine))
}

type fineResponse struct {
	ID         int64  `json:"id"`
	RecordID   *int64 `json:"record_id,omitempty"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	IssuedDate string `json:"issued_date"`
	DueDate    string `json:"due_date"`
	PaidDate   string `json:"paid_date,omitempty"`
}

// GetFines возвращает штрафы текущего читателя.
func (h *Handler) GetFines(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	fines, err := h.service.GetFinesByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get fines error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(fines) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]fineResponse, 0, len(fines))
	for _, f := range fines {
		resp = append(resp, *toFineResponse(&f))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetBalance возвращает пожизненную сумму начислений и задолженность текущего читателя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

type payFineRequest struct {
	Method    string `json:"method"`
	Reference string `json:"reference"`
}

// PayFine отмечает штраф оплаченным.
func (h *Handler) PayFine(w http.ResponseWriter, r *http.Request) {
	fineID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req payFineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Method == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	fine, err := h.service.PayFine(r.Context(), fineID, req.Method, req.Reference)
	if err != nil {
		h.writeFineError(w, err, fineID)
		return
	}

	writeJSON(w, http.StatusOK, toFineResponse(fine))
}

type waiveFineRequest struct {
	By     string `json:"by"`
	Reason string `json:"reason"`
}

// WaiveFine прощает штраф.
func (h *Handler) WaiveFine(w http.ResponseWriter, r *http.Request) {
	fineID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req waiveFineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.By == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	fine, err := h.service.WaiveFine(r.Context(), fineID, req.By, req.Reason)
	if err != nil {
		h.writeFineError(w, err, fineID)
		return
	}

	writeJSON(w, http.StatusOK, toFineResponse(fine))
}

// CancelFine отменяет штраф.
func (h *Handler) CancelFine(w http.ResponseWriter, r *http.Request) {
	fineID, ok := pathID(w, r)
	if !ok {
		return
	}

	fine, err := h.service.CancelFine(r.Context(), fineID)
	if err != nil {
		h.writeFineError(w, err, fineID)
		return
	}

	writeJSON(w, http.StatusOK, toFineResponse(fine))
}

func (h *Handler) writeRecordError(w http.ResponseWriter, err error, recordID int64) {
	switch {
	case errors.Is(err, repository.ErrRecordNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrNotReturnable):
		writeError(w, http.StatusConflict, "record is not returnable")
	default:
		h.logger.Error("record operation error", zap.Error(err), zap.Int64("recordID", recordID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeFineError(w http.ResponseWriter, err error, fineID int64) {
	switch {
	case errors.Is(err, repository.ErrFineNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrFineAlreadyTerminal):
		writeError(w, http.StatusConflict, "fine already terminal")
	default:
		h.logger.Error("fine operation error", zap.Error(err), zap.Int64("fineID", fineID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func toBookResponse(b model.Book) bookResponse {
	return bookResponse{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
	}
}

func toRecordResponse(rec model.BorrowRecord) recordResponse {
	resp := recordResponse{
		ID:                 rec.ID,
		BookID:             rec.BookID,
		CopyID:             rec.CopyID,
		Status:             string(rec.Status),
		BorrowDate:         rec.BorrowDate.Format(time.RFC3339),
		ExpectedReturnDate: rec.ExpectedReturnDate.Format(time.RFC3339),
		Extended:           rec.Extended,
	}
	if rec.ActualReturnDate != nil {
		resp.ActualReturnDate = rec.ActualReturnDate.Format(time.RFC3339)
	}
	return resp
}

func toRecordWithFine(rec *model.BorrowRecord, fine *model.Fine) recordWithFineResponse {
	return recordWithFineResponse{
		Record: toRecordResponse(*rec),
		Fine:   toFineResponse(fine),
	}
}

func toFineResponse(f *model.Fine) *fineResponse {
	if f == nil {
		return nil
	}
	resp := &fineResponse{
		ID:         f.ID,
		RecordID:   f.RecordID,
		Type:       string(f.Type),
		Status:     string(f.Status),
		Amount:     f.Amount,
		IssuedDate: f.IssuedDate.Format(time.RFC3339),
		DueDate:    f.DueDate.Format(time.RFC3339),
	}
	if f.PaidDate != nil {
		resp.PaidDate = f.PaidDate.Format(time.RFC3339)
	}
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
