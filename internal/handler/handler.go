// Package handler содержит HTTP-обработчики API сервиса packpool.
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

	"github.com/mmeshcher/packpool-system/internal/flutterwave"
	"github.com/mmeshcher/packpool-system/internal/middleware"
	"github.com/mmeshcher/packpool-system/internal/model"
	"github.com/mmeshcher/packpool-system/internal/repository"
	"github.com/mmeshcher/packpool-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, name, email, phone, password string) (int64, error)
	AuthenticateUser(ctx context.Context, email, password string) (int64, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	UpdatePayoutDestination(ctx context.Context, userID int64, accountNumber, accountName string) error

	CreatePack(ctx context.Context, createdBy int64, name string, contribution, targetAmount float64, totalMembers int) (*model.Pack, error)
	GetPack(ctx context.Context, id int64) (*model.Pack, error)
	ListPacks(ctx context.Context) ([]repository.PackWithCount, error)
	ListUserPacks(ctx context.Context, userID int64) ([]model.Pack, error)
	ListCreatedPacks(ctx context.Context, userID int64) ([]model.Pack, error)
	UpdatePack(ctx context.Context, id int64, name *string, status *model.PackStatus) error

	AddMember(ctx context.Context, packID int64, email string) (*model.Member, error)
	RemoveMember(ctx context.Context, packID, userID int64) error
	ListMembers(ctx context.Context, packID int64) ([]model.Member, error)

	InitiateContribution(ctx context.Context, memberID int64, amount float64) (*service.PaymentIntent, error)
	InitiatePayout(ctx context.Context, memberID int64, amount float64) (*service.PaymentIntent, error)
	VerifyContribution(ctx context.Context, txRef string) (*service.SettlementResult, error)
	VerifyPayout(ctx context.Context, txRef string) (*service.SettlementResult, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) error
	ListUserPayments(ctx context.Context, userID int64) ([]model.Payment, int64, error)
	ListPackPayments(ctx context.Context, packID int64) ([]model.Payment, error)
}

// Handler реализует HTTP-обработчики API сервиса packpool.
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

// statusForError переводит доменную ошибку в HTTP-статус согласно таксономии:
// нарушения правил — 400, отсутствие сущностей — 404, конфликты — 409,
// отказ шлюза — 502, остальное — 500.
func statusForError(err error) int {
	var gatewayErr *flutterwave.GatewayError

	switch {
	case errors.Is(err, service.ErrInvalidPack),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrAlreadyContributed),
		errors.Is(err, service.ErrNotNextInLine),
		errors.Is(err, service.ErrAlreadyReceived),
		errors.Is(err, service.ErrIncompleteFunding),
		errors.Is(err, service.ErrAmountMismatch),
		errors.Is(err, service.ErrMissingPayoutDestination),
		errors.Is(err, service.ErrPackNotActive),
		errors.Is(err, service.ErrInvalidAccountNumber),
		errors.Is(err, service.ErrNotContribution),
		errors.Is(err, service.ErrNotPayout),
		errors.Is(err, service.ErrInvalidSignature),
		errors.Is(err, service.ErrPaymentFailed),
		errors.Is(err, repository.ErrPackFull),
		errors.Is(err, repository.ErrPaymentInProgress):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrPaymentPending):
		return http.StatusAccepted
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrPackNotFound),
		errors.Is(err, repository.ErrMemberNotFound),
		errors.Is(err, repository.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrUserExists),
		errors.Is(err, repository.ErrPackExists),
		errors.Is(err, repository.ErrAlreadyMember),
		errors.Is(err, repository.ErrMemberHasPayments):
		return http.StatusConflict
	case errors.As(err, &gatewayErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error, op string, fields ...zap.Field) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(status), status)
		return
	}
	// Доменные отказы называют нарушенное правило и текущие значения.
	http.Error(w, err.Error(), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Name, req.Email, req.Phone, req.Password)
	if err != nil {
		h.writeError(w, err, "register user error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) || errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type profileResponse struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	AccountName   string `json:"accountName,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

// GetProfile возвращает профиль текущего пользователя.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get profile error", zap.Int64("userID", userID))
		return
	}

	h.writeJSON(w, profileResponse{
		ID:            user.ID,
		Name:          user.Name,
		Email:         user.Email,
		Phone:         user.Phone,
		AccountNumber: user.AccountNumber,
		AccountName:   user.AccountName,
		CreatedAt:     user.CreatedAt.Format(time.RFC3339),
	})
}

type accountRequest struct {
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
}

// UpdateAccount сохраняет реквизиты текущего пользователя для выплат.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdatePayoutDestination(r.Context(), userID, req.AccountNumber, req.AccountName); err != nil {
		h.writeError(w, err, "update account error", zap.Int64("userID", userID))
		return
	}

	w.WriteHeader(http.StatusOK)
}

type createPackRequest struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
	TargetAmount float64 `json:"targetAmount"`
	TotalMembers int     `json:"totalMembers"`
}

type packResponse struct {
	ID                   int64   `json:"id"`
	Name                 string  `json:"name"`
	Contribution         float64 `json:"contribution"`
	TargetAmount         float64 `json:"targetAmount"`
	TotalMembers         int     `json:"totalMembers"`
	CurrentRound         int     `json:"currentRound"`
	CurrentContributions float64 `json:"currentContributions"`
	TotalContributions   float64 `json:"totalContributions"`
	Status               string  `json:"status"`
	CreatedBy            int64   `json:"createdBy"`
	CreatedAt            string  `json:"createdAt"`
	MemberCount          *int    `json:"memberCount,omitempty"`
}

func toPackResponse(p *model.Pack) packResponse {
	return packResponse{
		ID:                   p.ID,
		Name:                 p.Name,
		Contribution:         float64(p.Contribution) / 100,
		TargetAmount:         float64(p.TargetAmount) / 100,
		TotalMembers:         p.TotalMembers,
		CurrentRound:         p.CurrentRound,
		CurrentContributions: float64(p.CurrentContributions) / 100,
		TotalContributions:   float64(p.TotalContributions) / 100,
		Status:               string(p.Status),
		CreatedBy:            p.CreatedBy,
		CreatedAt:            p.CreatedAt.Format(time.RFC3339),
	}
}

// CreatePack создаёт накопительный круг от имени текущего пользователя.
func (h *Handler) CreatePack(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createPackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	pack, err := h.service.CreatePack(r.Context(), userID, req.Name, req.Contribution, req.TargetAmount, req.TotalMembers)
	if err != nil {
		h.writeError(w, err, "create pack error", zap.Int64("userID", userID))
		return
	}

	w.WriteHeader(http.StatusCreated)
	h.writeJSON(w, toPackResponse(pack))
}

// ListPacks возвращает все круги с фактическим числом участников.
func (h *Handler) ListPacks(w http.ResponseWriter, r *http.Request) {
	packs, err := h.service.ListPacks(r.Context())
	if err != nil {
		h.writeError(w, err, "list packs error")
		return
	}

	resp := make([]packResponse, 0, len(packs))
	for _, pc := range packs {
		pr := toPackResponse(&pc.Pack)
		count := pc.MemberCount
		pr.MemberCount = &count
		resp = append(resp, pr)
	}

	h.writeJSON(w, resp)
}

func packIDFromURL(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "packID"), 10, 64)
}

// GetPack возвращает круг по идентификатору.
func (h *Handler) GetPack(w http.ResponseWriter, r *http.Request) {
	packID, err := packIDFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	pack, err := h.service.GetPack(r.Context(), packID)
	if err != nil {
		h.writeError(w, err, "get pack error", zap.Int64("packID", packID))
		return
	}

	h.writeJSON(w, toPackResponse(pack))
}

type updatePackRequest struct {
	Name   *string `json:"name"`
	Status *string `json:"status"`
}

// UpdatePack изменяет имя и/или статус круга.
func (h *Handler) UpdatePack(w http.ResponseWriter, r *http.Request) {
	packID, err := packIDFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req updatePackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var status *model.PackStatus
	if req.Status != nil {
		s := model.PackStatus(*req.Status)
		status = &s
	}

	if err := h.service.UpdatePack(r.Context(), packID, req.Name, status); err != nil {
		h.writeError(w, err, "update pack error", zap.Int64("packID", packID))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ListUserPacks возвращает круги, в которых состоит текущий пользователь.
func (h *Handler) ListUserPacks(w http.ResponseWriter, r *http.Request) {
	h.listPacksOf(w, r, h.service.ListUserPacks, "list user packs error")
}

// ListCreatedPacks возвращает круги, созданные текущим пользователем.
func (h *Handler) ListCreatedPacks(w http.ResponseWriter, r *http.Request) {
	h.listPacksOf(w, r, h.service.ListCreatedPacks, "list created packs error")
}

func (h *Handler) listPacksOf(w http.ResponseWriter, r *http.Request, list func(context.Context, int64) ([]model.Pack, error), op string) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	packs, err := list(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, op, zap.Int64("userID", userID))
		return
	}

	resp := make([]packResponse, 0, len(packs))
	for i := range packs {
		resp = append(resp, toPackResponse(&packs[i]))
	}

	h.writeJSON(w, resp)
}

type memberResponse struct {
	ID             int64  `json:"id"`
	PackID         int64  `json:"packId"`
	UserID         int64  `json:"userId"`
	Order          int    `json:"order"`
	HasContributed bool   `json:"hasContributed"`
	HasReceived    bool   `json:"hasReceived"`
	JoinedAt       string `json:"joinedAt"`
}

func toMemberResponse(m *model.Member) memberResponse {
	return memberResponse{
		ID:             m.ID,
		PackID:         m.PackID,
		UserID:         m.UserID,
		Order:          m.Order,
		HasContributed: m.HasContributed,
		HasReceived:    m.HasReceived,
		JoinedAt:       m.JoinedAt.Format(time.RFC3339),
	}
}

// ListMembers возвращает участников круга в порядке очереди выплат.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	packID, err := packIDFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	members, err := h.service.ListMembers(r.Context(), packID)
	if err != nil {
		h.writeError(w, err, "list members error", zap.Int64("packID", packID))
		return
	}

	resp := make([]memberResponse, 0, len(members))
	for i := range members {
		resp = append(resp, toMemberResponse(&members[i]))
	}

	h.writeJSON(w, resp)
}

type addMemberRequest struct {
	Email string `json:"email"`
}

// AddMember добавляет пользователя в круг по email.
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	packID, err := packIDFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	member, err := h.service.AddMember(r.Context(), packID, req.Email)
	if err != nil {
		h.writeError(w, err, "add member error", zap.Int64("packID", packID))
		return
	}

	w.WriteHeader(http.StatusCreated)
	h.writeJSON(w, toMemberResponse(member))
}

// RemoveMember удаляет пользователя из круга.
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	packID, err := packIDFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RemoveMember(r.Context(), packID, userID); err != nil {
		h.writeError(w, err, "remove member error", zap.Int64("packID", packID), zap.Int64("userID", userID))
		return
	}

	w.WriteHeader(http.StatusOK)
}
