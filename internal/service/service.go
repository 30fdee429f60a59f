// Package service реализует бизнес-логику сервиса packpool.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/mmeshcher/packpool-system/internal/flutterwave"
	"github.com/mmeshcher/packpool-system/internal/model"
	"github.com/mmeshcher/packpool-system/internal/repository"
	"github.com/mmeshcher/packpool-system/internal/validation"
)

// ErrInvalidPack возвращается, если параметры круга нарушают инвариант
// contribution * totalMembers == targetAmount.
var (
	ErrInvalidPack = errors.New("contribution multiplied by total members must equal target amount")
	// ErrInvalidCredentials возвращается при неверной паре email/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidAccountNumber возвращается для номера счёта, не прошедшего проверку NUBAN.
	ErrInvalidAccountNumber = errors.New("invalid account number")
	// ErrPackNotActive возвращается для операций, требующих активного круга.
	ErrPackNotActive = errors.New("pack is not active")
	// ErrAlreadyContributed возвращается при повторном взносе в текущем раунде.
	ErrAlreadyContributed = errors.New("member has already contributed this round")
	// ErrInvalidAmount возвращается, если сумма взноса не равна фиксированному взносу круга.
	ErrInvalidAmount = errors.New("contribution amount does not match pack contribution")
	// ErrNotNextInLine возвращается, если порядковый номер участника не совпадает с текущим раундом.
	ErrNotNextInLine = errors.New("member is not next in line for payout")
	// ErrAlreadyReceived возвращается при повторной выплате участнику в текущем раунде.
	ErrAlreadyReceived = errors.New("member has already received payout")
	// ErrIncompleteFunding возвращается, если раунд собран не полностью.
	ErrIncompleteFunding = errors.New("round is not fully funded")
	// ErrAmountMismatch возвращается, если запрошенная выплата не равна целевой сумме круга.
	ErrAmountMismatch = errors.New("payout amount must equal target amount")
	// ErrMissingPayoutDestination возвращается, если у получателя не указаны реквизиты.
	ErrMissingPayoutDestination = errors.New("payout destination is not set")
	// ErrInvalidSignature возвращается для вебхука с неверной подписью.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrNotContribution возвращается при сверке платежа чужого типа как взноса.
	ErrNotContribution = errors.New("payment is not a contribution")
	// ErrNotPayout возвращается при сверке платежа чужого типа как выплаты.
	ErrNotPayout = errors.New("payment is not a payout")
	// ErrPaymentFailed возвращается, если шлюз подтвердил отказ по платежу.
	ErrPaymentFailed = errors.New("payment failed at gateway")
	// ErrPaymentPending возвращается, если шлюз ещё не завершил обработку платежа.
	ErrPaymentPending = errors.New("payment is still being processed")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, name, email, phone string, passwordHash []byte) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	UpdatePayoutDestination(ctx context.Context, userID int64, accountNumber, accountName string) error

	CreatePack(ctx context.Context, name string, contribution, targetAmount int64, totalMembers int, createdBy int64) (int64, error)
	GetPackByID(ctx context.Context, id int64) (*model.Pack, error)
	ListPacks(ctx context.Context) ([]repository.PackWithCount, error)
	ListPacksByMember(ctx context.Context, userID int64) ([]model.Pack, error)
	ListPacksByCreator(ctx context.Context, userID int64) ([]model.Pack, error)
	UpdatePack(ctx context.Context, id int64, name *string, status *model.PackStatus) error

	AddMember(ctx context.Context, packID, userID int64) (*model.Member, error)
	RemoveMember(ctx context.Context, packID, userID int64) error
	ListMembers(ctx context.Context, packID int64) ([]model.Member, error)
	GetMemberInfo(ctx context.Context, memberID int64) (*repository.MemberInfo, error)

	CreatePayment(ctx context.Context, memberID, userID, amount int64, pType model.PaymentType, flutterRef string) (int64, error)
	HasPendingPayment(ctx context.Context, memberID int64, pType model.PaymentType) (bool, error)
	GetPaymentByRef(ctx context.Context, flutterRef string) (*model.Payment, error)
	ListPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error)
	ListPaymentsByPack(ctx context.Context, packID int64) ([]model.Payment, error)
	SettleContribution(ctx context.Context, paymentID int64) error
	SettlePayout(ctx context.Context, paymentID int64) (*repository.PayoutResult, error)
	MarkPaymentFailed(ctx context.Context, paymentID int64) error
}

// Gateway описывает контракт платёжного шлюза, используемый сервисом.
type Gateway interface {
	InitiateCharge(ctx context.Context, req flutterwave.ChargeRequest) (string, error)
	InitiateTransfer(ctx context.Context, req flutterwave.TransferRequest) error
	VerifyTransaction(ctx context.Context, txRef string) (*flutterwave.Verification, error)
	VerifyTransfer(ctx context.Context, reference string) (*flutterwave.Verification, error)
}

// Код банка, на счета которого выполняются выплаты.
const defaultBankCode = "044"

// Service содержит бизнес-логику сервиса packpool.
type Service struct {
	repo          Repository
	gateway       Gateway
	logger        *zap.Logger
	webhookSecret string
	frontendURL   string
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом шлюза.
func NewService(repo Repository, gateway Gateway, logger *zap.Logger, webhookSecret, frontendURL string) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:          repo,
		gateway:       gateway,
		logger:        logger,
		webhookSecret: webhookSecret,
		frontendURL:   frontendURL,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, name, email, phone, password string) (int64, error) {
	hashed := hashPassword(email, password)
	return s.repo.CreateUser(ctx, name, email, phone, hashed)
}

// AuthenticateUser проверяет email и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (int64, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(email, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(email, password string) []byte {
	sum := sha256.Sum256([]byte(email + ":" + password))
	return sum[:]
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// UpdatePayoutDestination сохраняет реквизиты пользователя для выплат,
// предварительно проверив номер счёта по алгоритму NUBAN.
func (s *Service) UpdatePayoutDestination(ctx context.Context, userID int64, accountNumber, accountName string) error {
	if !validation.IsValidAccountNumber(defaultBankCode, accountNumber) {
		return fmt.Errorf("%w: %s", ErrInvalidAccountNumber, accountNumber)
	}
	if accountName == "" {
		return ErrMissingPayoutDestination
	}
	return s.repo.UpdatePayoutDestination(ctx, userID, accountNumber, accountName)
}

// CreatePack создаёт накопительный круг. Суммы принимаются в найрах.
// Инвариант contribution * totalMembers == targetAmount проверяется строго.
func (s *Service) CreatePack(ctx context.Context, createdBy int64, name string, contribution, targetAmount float64, totalMembers int) (*model.Pack, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidPack)
	}
	if totalMembers <= 0 {
		return nil, fmt.Errorf("%w: total members must be positive", ErrInvalidPack)
	}

	contributionKobo := toKobo(contribution)
	targetKobo := toKobo(targetAmount)

	if contributionKobo <= 0 {
		return nil, fmt.Errorf("%w: contribution must be positive", ErrInvalidPack)
	}
	if contributionKobo*int64(totalMembers) != targetKobo {
		return nil, ErrInvalidPack
	}

	id, err := s.repo.CreatePack(ctx, name, contributionKobo, targetKobo, totalMembers, createdBy)
	if err != nil {
		return nil, err
	}

	return s.repo.GetPackByID(ctx, id)
}

// GetPack возвращает круг по идентификатору.
func (s *Service) GetPack(ctx context.Context, id int64) (*model.Pack, error) {
	return s.repo.GetPackByID(ctx, id)
}

// ListPacks возвращает все круги с числом участников.
func (s *Service) ListPacks(ctx context.Context) ([]repository.PackWithCount, error) {
	return s.repo.ListPacks(ctx)
}

// ListUserPacks возвращает круги, в которых состоит пользователь.
func (s *Service) ListUserPacks(ctx context.Context, userID int64) ([]model.Pack, error) {
	return s.repo.ListPacksByMember(ctx, userID)
}

// ListCreatedPacks возвращает круги, созданные пользователем.
func (s *Service) ListCreatedPacks(ctx context.Context, userID int64) ([]model.Pack, error) {
	return s.repo.ListPacksByCreator(ctx, userID)
}

// UpdatePack изменяет имя и/или статус круга.
func (s *Service) UpdatePack(ctx context.Context, id int64, name *string, status *model.PackStatus) error {
	if status != nil {
		switch *status {
		case model.PackStatusActive, model.PackStatusCompleted, model.PackStatusInactive:
		default:
			return fmt.Errorf("%w: unknown status %q", ErrInvalidPack, *status)
		}
	}
	return s.repo.UpdatePack(ctx, id, name, status)
}

// AddMember добавляет пользователя в круг по email. Порядковый номер
// назначается по времени вступления: следующий за текущим числом участников.
func (s *Service) AddMember(ctx context.Context, packID int64, email string) (*model.Member, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.repo.AddMember(ctx, packID, user.ID)
}

// RemoveMember удаляет пользователя из круга; номера оставшихся участников
// сдвигаются вниз без разрывов.
func (s *Service) RemoveMember(ctx context.Context, packID, userID int64) error {
	return s.repo.RemoveMember(ctx, packID, userID)
}

// ListMembers возвращает участников круга в порядке очереди выплат.
func (s *Service) ListMembers(ctx context.Context, packID int64) ([]model.Member, error) {
	return s.repo.ListMembers(ctx, packID)
}

// toKobo переводит сумму из найр в кобо.
func toKobo(naira float64) int64 {
	return int64(math.Round(naira * 100))
}

// toNaira переводит сумму из кобо в найры.
func toNaira(kobo int64) float64 {
	return float64(kobo) / 100
}
