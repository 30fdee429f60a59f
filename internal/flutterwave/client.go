// Package flutterwave предоставляет клиент платёжного шлюза Flutterwave:
// инициацию списаний и переводов, сверку транзакций и разбор вебхуков.
package flutterwave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с API Flutterwave.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient создаёт клиент шлюза по указанному адресу и секретному ключу.
func NewClient(baseURL, secretKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: rc.StandardClient(),
	}
}

// Customer описывает плательщика в запросе на списание.
type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phonenumber,omitempty"`
}

// Customizations задаёт отображаемые шлюзом заголовок и описание платежа.
type Customizations struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ChargeRequest описывает запрос на списание средств с плательщика.
type ChargeRequest struct {
	TxRef          string         `json:"tx_ref"`
	Amount         float64        `json:"amount"`
	Currency       string         `json:"currency"`
	RedirectURL    string         `json:"redirect_url"`
	Customer       Customer       `json:"customer"`
	Customizations Customizations `json:"customizations"`
}

// TransferRequest описывает запрос на перевод средств на банковский счёт.
type TransferRequest struct {
	AccountBank   string  `json:"account_bank"`
	AccountNumber string  `json:"account_number"`
	Amount        float64 `json:"amount"`
	Narration     string  `json:"narration"`
	Currency      string  `json:"currency"`
	Reference     string  `json:"reference"`
	CallbackURL   string  `json:"callback_url,omitempty"`
}

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// GatewayError означает, что шлюз отклонил запрос или вернул не-успешный ответ.
type GatewayError struct {
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error: %s", e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || result.Status != "success" {
		msg := result.Message
		if msg == "" {
			msg = fmt.Sprintf("unexpected status: %d", resp.StatusCode)
		}
		return nil, &GatewayError{Message: msg}
	}

	return result.Data, nil
}

type chargeData struct {
	Link string `json:"link"`
}

// InitiateCharge инициирует списание и возвращает ссылку авторизации платежа.
func (c *Client) InitiateCharge(ctx context.Context, req ChargeRequest) (string, error) {
	data, err := c.do(ctx, http.MethodPost, "/payments", req)
	if err != nil {
		return "", err
	}

	var d chargeData
	if err := json.Unmarshal(data, &d); err != nil {
		return "", fmt.Errorf("decode charge data: %w", err)
	}

	return d.Link, nil
}

// InitiateTransfer инициирует перевод средств на банковский счёт получателя.
func (c *Client) InitiateTransfer(ctx context.Context, req TransferRequest) error {
	_, err := c.do(ctx, http.MethodPost, "/transfers", req)
	return err
}

// Verification описывает подтверждённое шлюзом состояние транзакции.
type Verification struct {
	Status string  `json:"status"`
	Amount float64 `json:"amount"`
}

// VerifyTransaction запрашивает у шлюза состояние списания по ссылке tx_ref.
func (c *Client) VerifyTransaction(ctx context.Context, txRef string) (*Verification, error) {
	path := "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(txRef)

	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var v Verification
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode verification: %w", err)
	}

	return &v, nil
}

// VerifyTransfer запрашивает у шлюза состояние перевода по его ссылке.
func (c *Client) VerifyTransfer(ctx context.Context, reference string) (*Verification, error) {
	data, err := c.do(ctx, http.MethodGet, "/transfers/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}

	var v Verification
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode verification: %w", err)
	}

	return &v, nil
}
