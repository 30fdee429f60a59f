package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/packpool-system/internal/flutterwave"
	"github.com/mmeshcher/packpool-system/internal/model"
	"github.com/mmeshcher/packpool-system/internal/repository"
)

// PaymentIntent описывает инициированный платёж: ссылку авторизации
// для плательщика и ссылку для последующей сверки.
type PaymentIntent struct {
	RedirectURL string
	TxRef       string
	PackID      int64
}

// SettlementResult описывает исход сверки платежа.
type SettlementResult struct {
	PaymentID int64
	Amount    int64
	PackID    int64
	// Заполняются только для выплат, применённых этим вызовом.
	NewRound int
	Complete bool
}

// InitiateContribution начинает взнос участника: проверяет правила раунда,
// открывает PENDING-платёж и запрашивает списание у шлюза. Эффекты на счётчики
// круга применяются только при подтверждении, не при инициации.
func (s *Service) InitiateContribution(ctx context.Context, memberID int64, amount float64) (*PaymentIntent, error) {
	info, err := s.repo.GetMemberInfo(ctx, memberID)
	if err != nil {
		return nil, err
	}

	if info.Pack.Status != model.PackStatusActive {
		return nil, fmt.Errorf("%w: status is %s", ErrPackNotActive, info.Pack.Status)
	}
	if info.Member.HasContributed {
		return nil, ErrAlreadyContributed
	}

	amountKobo := toKobo(amount)
	if amountKobo != info.Pack.Contribution {
		return nil, fmt.Errorf("%w: required contribution is %.2f NGN", ErrInvalidAmount, toNaira(info.Pack.Contribution))
	}

	pending, err := s.repo.HasPendingPayment(ctx, memberID, model.PaymentTypeContribution)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, repository.ErrPaymentInProgress
	}

	txRef := uuid.NewString()

	link, err := s.gateway.InitiateCharge(ctx, flutterwave.ChargeRequest{
		TxRef:       txRef,
		Amount:      toNaira(amountKobo),
		Currency:    "NGN",
		RedirectURL: fmt.Sprintf("%s/payment-status?packId=%d", s.frontendURL, info.Pack.ID),
		Customer: flutterwave.Customer{
			Email: info.User.Email,
			Name:  info.User.Name,
			Phone: info.User.Phone,
		},
		Customizations: flutterwave.Customizations{
			Title:       fmt.Sprintf("%s - (%s)", info.Pack.Name, info.User.Name),
			Description: fmt.Sprintf("Contribution to %s", info.Pack.Name),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initiate charge: %w", err)
	}

	if _, err := s.repo.CreatePayment(ctx, memberID, info.User.ID, amountKobo, model.PaymentTypeContribution, txRef); err != nil {
		return nil, err
	}

	s.logger.Info("contribution initiated",
		zap.Int64("memberID", memberID),
		zap.Int64("packID", info.Pack.ID),
		zap.String("txRef", txRef),
	)

	return &PaymentIntent{RedirectURL: link, TxRef: txRef, PackID: info.Pack.ID}, nil
}

// InitiatePayout начинает выплату участнику текущего раунда. Каждое условие
// допуска проверяется отдельно, чтобы отказ называл нарушенное правило и
// текущие значения, из-за которых он произошёл.
func (s *Service) InitiatePayout(ctx context.Context, memberID int64, amount float64) (*PaymentIntent, error) {
	info, err := s.repo.GetMemberInfo(ctx, memberID)
	if err != nil {
		return nil, err
	}

	if info.Pack.Status != model.PackStatusActive {
		return nil, fmt.Errorf("%w: status is %s", ErrPackNotActive, info.Pack.Status)
	}
	if info.Member.Order != info.Pack.CurrentRound {
		return nil, fmt.Errorf("%w: current round is %d and your order is %d",
			ErrNotNextInLine, info.Pack.CurrentRound, info.Member.Order)
	}
	if info.Member.HasReceived {
		return nil, ErrAlreadyReceived
	}
	if !info.User.HasPayoutDestination() {
		return nil, ErrMissingPayoutDestination
	}
	if info.Pack.CurrentContributions != info.Pack.TargetAmount {
		return nil, fmt.Errorf("%w: collected %.2f of %.2f NGN",
			ErrIncompleteFunding, toNaira(info.Pack.CurrentContributions), toNaira(info.Pack.TargetAmount))
	}

	amountKobo := toKobo(amount)
	if amountKobo != info.Pack.TargetAmount {
		return nil, fmt.Errorf("%w: payout amount must be %.2f NGN",
			ErrAmountMismatch, toNaira(info.Pack.TargetAmount))
	}

	pending, err := s.repo.HasPendingPayment(ctx, memberID, model.PaymentTypePayout)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, repository.ErrPaymentInProgress
	}

	txRef := uuid.NewString()

	err = s.gateway.InitiateTransfer(ctx, flutterwave.TransferRequest{
		AccountBank:   defaultBankCode,
		AccountNumber: info.User.AccountNumber,
		Amount:        toNaira(amountKobo),
		Narration:     fmt.Sprintf("Payout to %s for pack %s", info.User.Name, info.Pack.Name),
		Currency:      "NGN",
		Reference:     txRef,
		CallbackURL:   s.frontendURL + "/payment-status",
	})
	if err != nil {
		return nil, fmt.Errorf("initiate transfer: %w", err)
	}

	if _, err := s.repo.CreatePayment(ctx, memberID, info.User.ID, amountKobo, model.PaymentTypePayout, txRef); err != nil {
		return nil, err
	}

	s.logger.Info("payout initiated",
		zap.Int64("memberID", memberID),
		zap.Int64("packID", info.Pack.ID),
		zap.String("txRef", txRef),
	)

	return &PaymentIntent{TxRef: txRef, PackID: info.Pack.ID}, nil
}

// VerifyContribution — канал A сверки взноса: по ссылке транзакции
// опрашивает шлюз и применяет подтверждение. Уже подтверждённый платёж
// возвращается из леджера без повторного обращения к шлюзу и без
// повторного применения эффектов.
func (s *Service) VerifyContribution(ctx context.Context, txRef string) (*SettlementResult, error) {
	payment, err := s.repo.GetPaymentByRef(ctx, txRef)
	if err != nil {
		return nil, err
	}

	if payment.Type != model.PaymentTypeContribution {
		return nil, ErrNotContribution
	}

	if payment.Status == model.PaymentStatusSuccess {
		return &SettlementResult{PaymentID: payment.ID, Amount: payment.Amount}, nil
	}

	verification, err := s.gateway.VerifyTransaction(ctx, txRef)
	if err != nil {
		// Сверка — консультативный канал: платёж остаётся PENDING,
		// окончательный вердикт может принести вебхук.
		return nil, fmt.Errorf("verify transaction: %w", err)
	}

	if err := s.applyVerdict(ctx, payment, verification.Status); err != nil {
		return nil, err
	}

	s.checkAmount(payment, toKobo(verification.Amount))

	if err := s.repo.SettleContribution(ctx, payment.ID); err != nil {
		if errors.Is(err, repository.ErrAlreadySettled) {
			// Вебхук успел первым: вердикт берётся из леджера.
			return s.settledResult(ctx, payment)
		}
		return nil, err
	}

	s.logger.Info("contribution settled",
		zap.Int64("paymentID", payment.ID),
		zap.String("txRef", txRef),
	)

	return &SettlementResult{PaymentID: payment.ID, Amount: payment.Amount}, nil
}

// VerifyPayout — канал A сверки выплаты: подтверждает перевод у шлюза,
// применяет выплату и запускает переход круга на следующий раунд.
func (s *Service) VerifyPayout(ctx context.Context, txRef string) (*SettlementResult, error) {
	payment, err := s.repo.GetPaymentByRef(ctx, txRef)
	if err != nil {
		return nil, err
	}

	if payment.Type != model.PaymentTypePayout {
		return nil, ErrNotPayout
	}

	if payment.Status == model.PaymentStatusSuccess {
		return &SettlementResult{PaymentID: payment.ID, Amount: payment.Amount}, nil
	}

	verification, err := s.gateway.VerifyTransfer(ctx, txRef)
	if err != nil {
		return nil, fmt.Errorf("verify transfer: %w", err)
	}

	if err := s.applyVerdict(ctx, payment, verification.Status); err != nil {
		return nil, err
	}

	s.checkAmount(payment, toKobo(verification.Amount))

	res, err := s.repo.SettlePayout(ctx, payment.ID)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadySettled) {
			return s.settledResult(ctx, payment)
		}
		return nil, err
	}

	s.logger.Info("payout settled",
		zap.Int64("paymentID", payment.ID),
		zap.String("txRef", txRef),
		zap.Int("newRound", res.NewRound),
		zap.Bool("complete", res.Complete),
	)

	return &SettlementResult{
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		PackID:    res.PackID,
		NewRound:  res.NewRound,
		Complete:  res.Complete,
	}, nil
}

// HandleWebhook — канал B сверки: аутентифицирует событие шлюза по подписи
// и применяет его через те же идемпотентные операции, что и явная сверка.
// Неизвестные события и отсутствующие платежи подтверждаются без эффекта.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !flutterwave.VerifySignature(body, signature, s.webhookSecret) {
		return ErrInvalidSignature
	}

	event, err := flutterwave.ParseWebhook(body)
	if err != nil {
		if errors.Is(err, flutterwave.ErrUnknownEvent) {
			s.logger.Warn("unhandled webhook event", zap.Error(err))
			return nil
		}
		return err
	}

	payment, err := s.repo.GetPaymentByRef(ctx, event.Reference)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			s.logger.Warn("payment not found for webhook",
				zap.String("reference", event.Reference),
				zap.String("event", string(event.Type)),
			)
			return nil
		}
		return err
	}

	switch event.Type {
	case flutterwave.EventChargeCompleted:
		if payment.Type != model.PaymentTypeContribution {
			s.logger.Warn("charge event for non-contribution payment", zap.Int64("paymentID", payment.ID))
			return nil
		}
		s.checkAmount(payment, toKobo(event.Amount))
		err = s.repo.SettleContribution(ctx, payment.ID)

	case flutterwave.EventTransferCompleted:
		if payment.Type != model.PaymentTypePayout {
			s.logger.Warn("transfer event for non-payout payment", zap.Int64("paymentID", payment.ID))
			return nil
		}
		_, err = s.repo.SettlePayout(ctx, payment.ID)

	case flutterwave.EventChargeFailed, flutterwave.EventTransferFailed:
		err = s.repo.MarkPaymentFailed(ctx, payment.ID)
	}

	if err != nil {
		if errors.Is(err, repository.ErrAlreadySettled) {
			// Другой канал применил подтверждение первым.
			return nil
		}
		return err
	}

	s.logger.Info("webhook applied",
		zap.String("event", string(event.Type)),
		zap.Int64("paymentID", payment.ID),
	)

	return nil
}

// settledResult формирует ответ сверки для платежа, который другой канал
// уже вывел из PENDING. Итог берётся из леджера: платёж мог быть и отклонён,
// тогда кешировать успех нельзя.
func (s *Service) settledResult(ctx context.Context, payment *model.Payment) (*SettlementResult, error) {
	current, err := s.repo.GetPaymentByRef(ctx, payment.FlutterRef)
	if err != nil {
		return nil, err
	}
	if current.Status == model.PaymentStatusFailed {
		return nil, ErrPaymentFailed
	}
	return &SettlementResult{PaymentID: current.ID, Amount: current.Amount}, nil
}

// applyVerdict переводит статус шлюза в вердикт сверки. Подтверждение
// продолжается только для успешного статуса; отказ фиксируется в леджере,
// незавершённая обработка оставляет платёж в PENDING.
func (s *Service) applyVerdict(ctx context.Context, payment *model.Payment, status string) error {
	switch strings.ToLower(status) {
	case "successful", "success":
		return nil
	case "failed":
		if err := s.repo.MarkPaymentFailed(ctx, payment.ID); err != nil && !errors.Is(err, repository.ErrAlreadySettled) {
			return err
		}
		return ErrPaymentFailed
	default:
		return ErrPaymentPending
	}
}

// checkAmount сверяет сумму, названную шлюзом, с записанной в леджере.
// Расхождение фиксируется в логе, но подтверждение не блокирует.
func (s *Service) checkAmount(payment *model.Payment, reportedKobo int64) {
	if reportedKobo != 0 && reportedKobo != payment.Amount {
		s.logger.Warn("amount mismatch",
			zap.Int64("paymentID", payment.ID),
			zap.Int64("expected", payment.Amount),
			zap.Int64("reported", reportedKobo),
		)
	}
}

// ListUserPayments возвращает платежи пользователя и их суммарный объём в кобо.
func (s *Service) ListUserPayments(ctx context.Context, userID int64) ([]model.Payment, int64, error) {
	payments, err := s.repo.ListPaymentsByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	for _, p := range payments {
		total += p.Amount
	}

	return payments, total, nil
}

// ListPackPayments возвращает платежи всех участников круга.
func (s *Service) ListPackPayments(ctx context.Context, packID int64) ([]model.Payment, error) {
	return s.repo.ListPaymentsByPack(ctx, packID)
}
