package flutterwave

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// EventType перечисляет закрытое множество обрабатываемых событий вебхука.
type EventType string

const (
	EventChargeCompleted   EventType = "charge.completed"
	EventTransferCompleted EventType = "transfer.completed"
	EventChargeFailed      EventType = "charge.failed"
	EventTransferFailed    EventType = "transfer.failed"
)

// ErrUnknownEvent возвращается для событий вне обрабатываемого множества.
var ErrUnknownEvent = errors.New("unknown webhook event")

// ErrMissingReference возвращается, если в событии нет ссылки на транзакцию.
var ErrMissingReference = errors.New("missing transaction reference")

// WebhookEvent — разобранное и провалидированное событие вебхука.
type WebhookEvent struct {
	Type      EventType
	Reference string
	Amount    float64
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		TxRef             string  `json:"tx_ref"`
		Reference         string  `json:"reference"`
		TransferReference string  `json:"transfer_reference"`
		Amount            float64 `json:"amount"`
	} `json:"data"`
}

// VerifySignature сверяет подпись вебхука: HMAC-SHA256 от сырого тела,
// посчитанный на общем секрете, в шестнадцатеричной записи.
func VerifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseWebhook разбирает тело вебхука в событие закрытого множества.
// Ссылка берётся из tx_ref для списаний и из reference/transfer_reference
// для переводов.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}

	var ref string
	switch EventType(p.Event) {
	case EventChargeCompleted, EventChargeFailed:
		ref = p.Data.TxRef
	case EventTransferCompleted, EventTransferFailed:
		ref = p.Data.Reference
		if ref == "" {
			ref = p.Data.TransferReference
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, p.Event)
	}

	if ref == "" {
		return nil, ErrMissingReference
	}

	return &WebhookEvent{
		Type:      EventType(p.Event),
		Reference: ref,
		Amount:    p.Data.Amount,
	}, nil
}
