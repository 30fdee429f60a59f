package flutterwave

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
)

func hexHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"charge.completed"}`)

	if !VerifySignature(body, hexHMAC(body, "secret"), "secret") {
		t.Fatalf("valid signature rejected")
	}
	if VerifySignature(body, hexHMAC(body, "other"), "secret") {
		t.Fatalf("signature from wrong secret accepted")
	}
	if VerifySignature([]byte(`{"event":"charge.failed"}`), hexHMAC(body, "secret"), "secret") {
		t.Fatalf("signature for different body accepted")
	}
	if VerifySignature(body, "", "secret") {
		t.Fatalf("empty signature accepted")
	}
}

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    WebhookEvent
		wantErr error
	}{
		{
			name: "charge completed",
			body: `{"event":"charge.completed","data":{"tx_ref":"ref-1","amount":10000}}`,
			want: WebhookEvent{Type: EventChargeCompleted, Reference: "ref-1", Amount: 10000},
		},
		{
			name: "transfer completed with reference",
			body: `{"event":"transfer.completed","data":{"reference":"ref-2","amount":50000}}`,
			want: WebhookEvent{Type: EventTransferCompleted, Reference: "ref-2", Amount: 50000},
		},
		{
			name: "transfer completed with transfer_reference fallback",
			body: `{"event":"transfer.completed","data":{"transfer_reference":"ref-3"}}`,
			want: WebhookEvent{Type: EventTransferCompleted, Reference: "ref-3"},
		},
		{
			name: "charge failed",
			body: `{"event":"charge.failed","data":{"tx_ref":"ref-4"}}`,
			want: WebhookEvent{Type: EventChargeFailed, Reference: "ref-4"},
		},
		{
			name:    "unknown event",
			body:    `{"event":"subscription.cancelled","data":{"tx_ref":"ref-5"}}`,
			wantErr: ErrUnknownEvent,
		},
		{
			name:    "missing reference",
			body:    `{"event":"charge.completed","data":{"amount":10000}}`,
			wantErr: ErrMissingReference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ParseWebhook([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseWebhook error: %v", err)
			}
			if *event != tt.want {
				t.Fatalf("event = %+v, want %+v", *event, tt.want)
			}
		})
	}
}

func TestParseWebhook_BadJSON(t *testing.T) {
	if _, err := ParseWebhook([]byte("not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}
