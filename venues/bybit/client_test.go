package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"venueflow/errs"
)

func TestRequestSigning(t *testing.T) {
	const secret = "test-secret"

	var verified bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts := r.Header.Get("X-BAPI-TIMESTAMP")
		key := r.Header.Get("X-BAPI-API-KEY")
		recv := r.Header.Get("X-BAPI-RECV-WINDOW")
		sig := r.Header.Get("X-BAPI-SIGN")
		if ts == "" || key != "test-key" || recv != "5000" {
			t.Errorf("missing auth headers: ts=%q key=%q recv=%q", ts, key, recv)
		}

		var payload string
		if r.Method == http.MethodGet {
			payload = r.URL.RawQuery
		} else {
			raw, _ := io.ReadAll(r.Body)
			payload = string(raw)
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(ts + key + recv + payload))
		if sig != hex.EncodeToString(mac.Sum(nil)) {
			t.Errorf("signature mismatch for payload %q", payload)
		}
		verified = true
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{}}`))
	}))
	defer srv.Close()

	client := newRESTClient(srv.URL, "test-key", secret, 5000)

	query := url.Values{}
	query.Set("category", "spot")
	query.Set("symbol", "BTCUSDT")
	if err := client.get(context.Background(), "/v5/market/tickers", query, nil); err != nil {
		t.Fatalf("signed GET failed: %v", err)
	}
	if !verified {
		t.Fatal("server never saw the request")
	}

	verified = false
	body := map[string]string{"category": "spot", "symbol": "BTCUSDT"}
	if err := client.post(context.Background(), "/v5/order/create", body, nil); err != nil {
		t.Fatalf("signed POST failed: %v", err)
	}
	if !verified {
		t.Fatal("server never saw the POST")
	}
}

func TestEnvelopeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":10003,"retMsg":"API key is invalid.","result":{}}`))
	}))
	defer srv.Close()

	client := newRESTClient(srv.URL, "k", "s", 0)
	err := client.get(context.Background(), "/v5/account/wallet-balance", nil, nil)
	if !errs.IsKind(err, errs.KindAuth) {
		t.Fatalf("retCode 10003 must map to auth, got %v", err)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newRESTClient(srv.URL, "k", "s", 0)
	err := client.get(context.Background(), "/v5/market/tickers", nil, nil)
	if !errs.IsKind(err, errs.KindRateLimit) {
		t.Fatalf("http 429 must map to rate limit, got %v", err)
	}
}

func TestRetCodeErrTaxonomy(t *testing.T) {
	tests := []struct {
		code int
		kind *errs.Kind
	}{
		{10003, errs.KindAuth},
		{10004, errs.KindAuth},
		{33004, errs.KindAuth},
		{10006, errs.KindRateLimit},
		{110007, errs.KindInsufficientBalance},
		{170131, errs.KindInsufficientBalance},
		{110001, errs.KindNotFound},
		{110043, errs.KindInvalidState},
		{170193, errs.KindValidation},
	}
	for _, tt := range tests {
		err := retCodeErr("op", tt.code, "msg")
		if !errs.IsKind(err, tt.kind) {
			t.Errorf("retCode %d mapped to %v, want %v", tt.code, errs.KindOf(err), tt.kind)
		}
	}
}

func TestWsAuthSignature(t *testing.T) {
	const expires = int64(1711900800000)
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("GET/realtime1711900800000"))
	want := hex.EncodeToString(mac.Sum(nil))

	if got := wsAuthSignature("secret", expires); got != want {
		t.Fatalf("wsAuthSignature = %q, want %q", got, want)
	}
	if wsAuthSignature("other", expires) == want {
		t.Fatal("signature must depend on the secret")
	}
}
