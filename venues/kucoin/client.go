package kucoin

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"venueflow/errs"
)

const (
	liveRestURL    = "https://api.kucoin.com"
	sandboxRestURL = "https://openapi-sandbox.kucoin.com"

	successCode = "200000"
)

// restClient signs and sends KuCoin requests. The signature covers
// timestamp + method + endpoint + body with HMAC-SHA256, base64
// encoded; the passphrase is itself signed under key version 2.
type restClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	passphrase string
	http       *http.Client
}

func newRESTClient(baseURL, apiKey, apiSecret, passphrase string) *restClient {
	return &restClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		passphrase: passphrase,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *restClient) signB64(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// get performs a GET. Public endpoints still get signed headers; the
// venue ignores them where authentication is not required.
func (c *restClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *restClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *restClient) delete(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodDelete, path, nil, out)
}

func (c *restClient) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var payload []byte
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.KindValidation, "kucoin", endpoint, err)
		}
		payload = raw
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return errs.Wrap(errs.KindConnection, "kucoin", endpoint, err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("KC-API-KEY", c.apiKey)
	req.Header.Set("KC-API-TIMESTAMP", timestamp)
	req.Header.Set("KC-API-SIGN", c.signB64(timestamp+method+endpoint+string(payload)))
	req.Header.Set("KC-API-PASSPHRASE", c.signB64(c.passphrase))
	req.Header.Set("KC-API-KEY-VERSION", "2")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindConnection, "kucoin", endpoint, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return errs.Wrap(errs.KindConnection, "kucoin", endpoint, err)
	}
	if res.StatusCode != http.StatusOK {
		var env envelope
		if json.Unmarshal(raw, &env) == nil && env.Code != "" {
			return codeErr(endpoint, env.Code, env.Msg)
		}
		return errs.FromHTTPStatus(res.StatusCode, "kucoin", endpoint, nil)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errs.Wrap(errs.KindConnection, "kucoin", endpoint, err)
	}
	if env.Code != successCode {
		return codeErr(endpoint, env.Code, env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errs.Wrap(errs.KindConnection, "kucoin", endpoint, err)
		}
	}
	return nil
}

// codeErr maps a KuCoin business code onto the error taxonomy.
func codeErr(op, code, msg string) error {
	kind := errs.KindValidation
	switch code {
	case "400001", "400002", "400003", "400004", "400005", "400006", "411100":
		kind = errs.KindAuth
	case "200004":
		kind = errs.KindInsufficientBalance
	case "429000":
		kind = errs.KindRateLimit
	case "400100":
		kind = errs.KindValidation
	case "404000":
		kind = errs.KindNotFound
	}
	return errs.New(kind, "kucoin", op, "code %s: %s", code, msg)
}
