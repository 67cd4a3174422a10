package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"venueflow/errs"
)

const (
	liveRestURL = "https://api.bybit.com"
	demoRestURL = "https://api-demo.bybit.com"

	defaultRecvWindow = 5000
)

// restClient signs and sends V5 requests. Signatures cover
// timestamp + api key + recv window + (query string or JSON body)
// with HMAC-SHA256, hex encoded, in the X-BAPI-SIGN header.
type restClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow int
	http       *http.Client
}

func newRESTClient(baseURL, apiKey, apiSecret string, recvWindow int) *restClient {
	if recvWindow <= 0 {
		recvWindow = defaultRecvWindow
	}
	return &restClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		recvWindow: recvWindow,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

// envelope is the uniform V5 response wrapper.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

func (c *restClient) sign(timestamp string, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + c.apiKey + strconv.Itoa(c.recvWindow) + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// get performs a signed GET and decodes result into out.
func (c *restClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// post performs a signed POST with a JSON body and decodes result into out.
func (c *restClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *restClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	var payload string
	var reqBody io.Reader

	if method == http.MethodGet {
		if query != nil {
			payload = query.Encode()
			endpoint += "?" + payload
		}
	} else {
		raw, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.KindValidation, "bybit", path, err)
		}
		payload = string(raw)
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return errs.Wrap(errs.KindConnection, "bybit", path, err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(c.recvWindow))
	req.Header.Set("X-BAPI-SIGN", c.sign(timestamp, payload))
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindConnection, "bybit", path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return errs.Wrap(errs.KindConnection, "bybit", path, err)
	}
	if res.StatusCode != http.StatusOK {
		return errs.FromHTTPStatus(res.StatusCode, "bybit", path, fmt.Errorf("http %d: %s", res.StatusCode, truncate(raw)))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errs.Wrap(errs.KindConnection, "bybit", path, err)
	}
	if env.RetCode != 0 {
		return retCodeErr(path, env.RetCode, env.RetMsg)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return errs.Wrap(errs.KindConnection, "bybit", path, err)
		}
	}
	return nil
}

// retCodeErr maps a V5 business code onto the error taxonomy.
func retCodeErr(op string, code int, msg string) error {
	kind := errs.KindValidation
	switch code {
	case 10003, 10004, 10005, 33004:
		kind = errs.KindAuth
	case 10006, 10018:
		kind = errs.KindRateLimit
	case 110007, 170131:
		kind = errs.KindInsufficientBalance
	case 110001, 170213:
		kind = errs.KindNotFound
	case 110008, 110043, 170142:
		// 110043: leverage not modified. Callers treat invalid-state on
		// the leverage endpoint as already-set.
		kind = errs.KindInvalidState
	}
	return errs.New(kind, "bybit", op, "retCode %d: %s", code, msg)
}

func truncate(raw []byte) string {
	const max = 256
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}

// wsAuthSignature renders the private stream auth proof.
func wsAuthSignature(apiSecret string, expires int64) string {
	mac := hmac.New(sha256.New, []byte(apiSecret))
	fmt.Fprintf(mac, "GET/realtime%d", expires)
	return hex.EncodeToString(mac.Sum(nil))
}
