package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/packpool-system/internal/middleware"
	"github.com/mmeshcher/packpool-system/internal/model"
	"github.com/mmeshcher/packpool-system/internal/service"
)

// Заголовок, в котором Flutterwave передаёт подпись вебхука.
const signatureHeader = "verif-hash"

type initiatePaymentRequest struct {
	MemberID int64   `json:"memberId"`
	Amount   float64 `json:"amount"`
}

type paymentIntentResponse struct {
	RedirectURL   string `json:"redirectUrl,omitempty"`
	TransactionID string `json:"transactionId"`
	PackID        int64  `json:"packId"`
}

// InitiateContribution начинает взнос участника и возвращает ссылку оплаты.
func (h *Handler) InitiateContribution(w http.ResponseWriter, r *http.Request) {
	h.initiatePayment(w, r, h.service.InitiateContribution, "initiate contribution error")
}

// InitiatePayout начинает выплату участнику текущего раунда.
func (h *Handler) InitiatePayout(w http.ResponseWriter, r *http.Request) {
	h.initiatePayment(w, r, h.service.InitiatePayout, "initiate payout error")
}

func (h *Handler) initiatePayment(w http.ResponseWriter, r *http.Request,
	initiate func(ctx context.Context, memberID int64, amount float64) (*service.PaymentIntent, error), op string) {
	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.MemberID == 0 || req.Amount <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	intent, err := initiate(r.Context(), req.MemberID, req.Amount)
	if err != nil {
		h.writeError(w, err, op, zap.Int64("memberID", req.MemberID))
		return
	}

	h.writeJSON(w, paymentIntentResponse{
		RedirectURL:   intent.RedirectURL,
		TransactionID: intent.TxRef,
		PackID:        intent.PackID,
	})
}

type settlementResponse struct {
	PaymentID int64   `json:"paymentId"`
	Amount    float64 `json:"amount"`
	PackID    int64   `json:"packId,omitempty"`
	Round     int     `json:"round,omitempty"`
	Complete  bool    `json:"isComplete,omitempty"`
}

// VerifyContribution сверяет взнос по ссылке транзакции шлюза.
func (h *Handler) VerifyContribution(w http.ResponseWriter, r *http.Request) {
	txRef := chi.URLParam(r, "txRef")

	res, err := h.service.VerifyContribution(r.Context(), txRef)
	if err != nil {
		h.writeError(w, err, "verify contribution error", zap.String("txRef", txRef))
		return
	}

	h.writeJSON(w, settlementResponse{
		PaymentID: res.PaymentID,
		Amount:    float64(res.Amount) / 100,
	})
}

// VerifyPayout сверяет выплату по ссылке перевода шлюза.
func (h *Handler) VerifyPayout(w http.ResponseWriter, r *http.Request) {
	txRef := chi.URLParam(r, "txRef")

	res, err := h.service.VerifyPayout(r.Context(), txRef)
	if err != nil {
		h.writeError(w, err, "verify payout error", zap.String("txRef", txRef))
		return
	}

	h.writeJSON(w, settlementResponse{
		PaymentID: res.PaymentID,
		Amount:    float64(res.Amount) / 100,
		PackID:    res.PackID,
		Round:     res.NewRound,
		Complete:  res.Complete,
	})
}

type paymentResponse struct {
	ID        int64   `json:"id"`
	MemberID  int64   `json:"memberId"`
	UserID    int64   `json:"userId"`
	Amount    float64 `json:"amount"`
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	TxRef     string  `json:"txRef"`
	CreatedAt string  `json:"createdAt"`
}

func toPaymentResponses(payments []model.Payment) []paymentResponse {
	resp := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		resp = append(resp, paymentResponse{
			ID:        p.ID,
			MemberID:  p.MemberID,
			UserID:    p.UserID,
			Amount:    float64(p.Amount) / 100,
			Type:      string(p.Type),
			Status:    string(p.Status),
			TxRef:     p.FlutterRef,
			CreatedAt: p.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp
}

type userPaymentsResponse struct {
	Payments []paymentResponse `json:"payments"`
	Total    float64           `json:"totalContributions"`
}

// ListUserPayments возвращает платежи текущего пользователя и их суммарный объём.
func (h *Handler) ListUserPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	payments, total, err := h.service.ListUserPayments(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "list user payments error", zap.Int64("userID", userID))
		return
	}

	h.writeJSON(w, userPaymentsResponse{
		Payments: toPaymentResponses(payments),
		Total:    float64(total) / 100,
	})
}

// ListPackPayments возвращает платежи всех участников круга.
func (h *Handler) ListPackPayments(w http.ResponseWriter, r *http.Request) {
	packID, err := packIDFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	payments, err := h.service.ListPackPayments(r.Context(), packID)
	if err != nil {
		h.writeError(w, err, "list pack payments error", zap.Int64("packID", packID))
		return
	}

	h.writeJSON(w, toPaymentResponses(payments))
}

// Webhook принимает уведомления Flutterwave. Подпись проверяется по сырому
// телу; внутренние сбои подтверждаются шлюзу как принятые, чтобы не
// провоцировать бесконечные повторы, — расхождения разрешит явная сверка.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err = h.service.HandleWebhook(r.Context(), body, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("webhook error", zap.Error(err))
	}

	w.WriteHeader(http.StatusOK)
}
