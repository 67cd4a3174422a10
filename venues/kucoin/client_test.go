package kucoin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"venueflow/errs"
)

func signWith(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestRequestSigning(t *testing.T) {
	const (
		apiKey     = "key-1"
		apiSecret  = "secret-1"
		passphrase = "phrase-1"
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("KC-API-KEY"); got != apiKey {
			t.Errorf("KC-API-KEY = %q", got)
		}
		if got := r.Header.Get("KC-API-KEY-VERSION"); got != "2" {
			t.Errorf("KC-API-KEY-VERSION = %q", got)
		}
		if got := r.Header.Get("KC-API-PASSPHRASE"); got != signWith(apiSecret, passphrase) {
			t.Errorf("passphrase signature mismatch: %q", got)
		}

		body, _ := io.ReadAll(r.Body)
		ts := r.Header.Get("KC-API-TIMESTAMP")
		want := signWith(apiSecret, ts+r.Method+r.URL.RequestURI()+string(body))
		if got := r.Header.Get("KC-API-SIGN"); got != want {
			t.Errorf("signature mismatch for %s %s: got %q want %q", r.Method, r.URL.RequestURI(), got, want)
		}

		w.Write([]byte(`{"code":"200000","data":{}}`))
	}))
	defer srv.Close()

	client := newRESTClient(srv.URL, apiKey, apiSecret, passphrase)
	ctx := context.Background()

	q := url.Values{}
	q.Set("symbol", "BTC-USDT")
	if err := client.get(ctx, "/api/v1/orders", q, nil); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if err := client.post(ctx, "/api/v1/orders", map[string]string{"side": "buy"}, nil); err != nil {
		t.Fatalf("post failed: %v", err)
	}
}

func TestEnvelopeErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"200004","msg":"Balance insufficient!"}`))
	}))
	defer srv.Close()

	client := newRESTClient(srv.URL, "k", "s", "p")
	err := client.get(context.Background(), "/api/v1/orders", nil, nil)
	if !errs.IsKind(err, errs.KindInsufficientBalance) {
		t.Fatalf("want insufficient balance, got %v", err)
	}
}

func TestHTTPStatusFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newRESTClient(srv.URL, "k", "s", "p")
	err := client.get(context.Background(), "/api/v1/orders", nil, nil)
	if !errs.IsKind(err, errs.KindRateLimit) {
		t.Fatalf("want rate limit, got %v", err)
	}
}

func TestCodeErrTaxonomy(t *testing.T) {
	tests := []struct {
		code string
		want *errs.Kind
	}{
		{"400001", errs.KindAuth},
		{"400004", errs.KindAuth},
		{"411100", errs.KindAuth},
		{"200004", errs.KindInsufficientBalance},
		{"429000", errs.KindRateLimit},
		{"404000", errs.KindNotFound},
		{"400100", errs.KindValidation},
		{"900001", errs.KindValidation},
	}
	for _, tt := range tests {
		err := codeErr("GetOrder", tt.code, "msg")
		if !errs.IsKind(err, tt.want) {
			t.Errorf("codeErr(%s) = %v, want kind %v", tt.code, err, tt.want)
		}
	}
}
