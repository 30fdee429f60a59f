package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGzipMiddleware_CompressesResponse(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"status":"ACTIVE"}`)); err != nil {
			t.Fatalf("write: %v", err)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/api/packs", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()

	GzipMiddleware(next).ServeHTTP(w, r)

	res := w.Result()
	if got := res.Header.Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("content-encoding = %q, want gzip", got)
	}

	gr, err := gzip.NewReader(res.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gr.Close()

	body, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != `{"status":"ACTIVE"}` {
		t.Fatalf("body = %q", body)
	}
}

func TestGzipMiddleware_PassthroughWithoutAcceptEncoding(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("plain")); err != nil {
			t.Fatalf("write: %v", err)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/api/packs", nil)
	w := httptest.NewRecorder()

	GzipMiddleware(next).ServeHTTP(w, r)

	res := w.Result()
	if got := res.Header.Get("Content-Encoding"); got != "" {
		t.Fatalf("content-encoding = %q, want empty", got)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "plain" {
		t.Fatalf("body = %q", body)
	}
}

func TestGzipMiddleware_DecompressesRequest(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(`{"memberId":7,"amount":10000}`)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		if string(body) != `{"memberId":7,"amount":10000}` {
			t.Fatalf("request body = %q", body)
		}
	})

	r := httptest.NewRequest(http.MethodPost, "/api/payments/initiate", &buf)
	r.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()

	GzipMiddleware(next).ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestGzipMiddleware_BadCompressedBody(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	r := httptest.NewRequest(http.MethodPost, "/api/payments/initiate", strings.NewReader("not gzip"))
	r.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()

	GzipMiddleware(next).ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}
