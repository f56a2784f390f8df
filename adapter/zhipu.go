package adapter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/taipm/llmgateway"
)

func init() {
	Default.MustRegister(NewZhipu("https://open.bigmodel.cn/api/paas/v4"))
}

// Zhipu implements Adapter for Zhipu AI's GLM models. The request/response
// envelope is OpenAI-compatible (same chat/completions shape as adapter.OpenAI),
// but authentication differs: a Zhipu credential is an "id.secret" pair, and
// every request signs a short-lived JWT bearer token from it rather than
// sending the raw credential as a static Bearer token. The error envelope
// also differs ({"error":{"code":"1234","message":"..."}} with a
// provider-specific numeric code string instead of an HTTP-status-shaped
// "type").
type Zhipu struct {
	baseURL string
	// tokenTTL is how long a signed JWT remains valid; kept short since a
	// BuildRequest call happens once per attempt and credentials rotate
	// independently of token lifetime.
	tokenTTL time.Duration
}

// NewZhipu builds an adapter pointed at baseURL (no trailing slash).
func NewZhipu(baseURL string) *Zhipu {
	return &Zhipu{baseURL: baseURL, tokenTTL: 5 * time.Minute}
}

func (a *Zhipu) APIType() string { return "zhipu" }

func (a *Zhipu) Supports(f Feature) bool {
	switch f {
	case FeatureTools, FeatureJSONSchema:
		return true
	default:
		return false
	}
}

// signJWT builds a Zhipu-style bearer token from an "id.secret" credential:
// a compact JWT with header {"alg":"HS256","sign_type":"SIGN"} and claims
// {api_key, exp, timestamp}, HMAC-SHA256-signed with secret. This mirrors
// the scheme Zhipu's own SDKs use, reimplemented over crypto/hmac rather
// than a general JWT library since this is the one place the gateway needs
// JWT signing at all.
func signJWT(credentialValue string, ttl time.Duration) (string, error) {
	parts := strings.SplitN(credentialValue, ".", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("adapter/zhipu: credential must be formatted \"id.secret\"")
	}
	id, secret := parts[0], parts[1]

	now := time.Now()
	header := map[string]any{"alg": "HS256", "sign_type": "SIGN"}
	claims := map[string]any{
		"api_key":   id,
		"exp":       now.Add(ttl).UnixMilli(),
		"timestamp": now.UnixMilli(),
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	signingInput := base64URLEncode(headerJSON) + "." + base64URLEncode(claimsJSON)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	sig := mac.Sum(nil)

	return signingInput + "." + base64URLEncode(sig), nil
}

func base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func (a *Zhipu) BuildRequest(model string, req llmgateway.Request, credentialValue string) (HTTPRequest, error) {
	if err := req.Config.Validate(); err != nil {
		return HTTPRequest{}, err
	}

	// Reuse the OpenAI-compatible body shape; the wire format is identical
	// down to field names, only the transport-level auth and error
	// envelope diverge.
	oa := &OpenAI{baseURL: a.baseURL}
	httpReq, err := oa.BuildRequest(model, req, "")
	if err != nil {
		return HTTPRequest{}, err
	}

	token, err := signJWT(credentialValue, a.tokenTTL)
	if err != nil {
		return HTTPRequest{}, &llmgateway.GatewayError{Kind: llmgateway.KindAuthError, Underlying: err}
	}

	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.URL = a.baseURL + "/chat/completions"
	return httpReq, nil
}

type zhipuErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Zhipu) ParseResponse(resp HTTPResponse) (llmgateway.Response, error) {
	if resp.StatusCode >= 400 {
		return llmgateway.Response{}, classifyZhipuError(resp)
	}

	oa := &OpenAI{baseURL: a.baseURL}
	return oa.ParseResponse(resp)
}

// classifyZhipuError maps Zhipu's numeric-code error envelope onto the
// gateway's Kind taxonomy. Zhipu reports auth/quota/rate-limit failures via
// its own "code" strings rather than relying solely on HTTP status, so both
// are consulted.
func classifyZhipuError(resp HTTPResponse) error {
	var body zhipuErrorBody
	_ = json.Unmarshal(resp.Body, &body)
	msg := body.Error.Message
	if msg == "" {
		msg = string(resp.Body)
	}
	underlying := fmt.Errorf("adapter/zhipu: status %d code=%s: %s", resp.StatusCode, body.Error.Code, msg)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, body.Error.Code == "1302", body.Error.Code == "1113":
		return &llmgateway.GatewayError{Kind: llmgateway.KindRateLimited, Underlying: underlying}
	case resp.StatusCode == http.StatusUnauthorized, body.Error.Code == "1001", body.Error.Code == "1002":
		return &llmgateway.GatewayError{Kind: llmgateway.KindAuthError, Underlying: underlying}
	case resp.StatusCode == http.StatusBadRequest:
		return &llmgateway.GatewayError{Kind: llmgateway.KindBadRequest, Underlying: underlying}
	case resp.StatusCode >= 500:
		return &llmgateway.GatewayError{Kind: llmgateway.KindServerError, Underlying: underlying}
	default:
		return &llmgateway.GatewayError{Kind: llmgateway.KindServerError, Underlying: underlying}
	}
}
