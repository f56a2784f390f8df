package adapter

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llmgateway"
)

func TestZhipu_BuildRequest_SignsJWTFromIDSecretCredential(t *testing.T) {
	a := NewZhipu("https://open.bigmodel.cn/api/paas/v4")
	req := llmgateway.Request{
		Messages: []llmgateway.Message{llmgateway.Text(llmgateway.RoleUser, "hello")},
	}

	httpReq, err := a.BuildRequest("glm-4.7", req, "myid.mysecret")
	require.NoError(t, err)

	auth := httpReq.Header.Get("Authorization")
	require.True(t, strings.HasPrefix(auth, "Bearer "))
	token := strings.TrimPrefix(auth, "Bearer ")
	segments := strings.Split(token, ".")
	require.Len(t, segments, 3)

	headerRaw, err := base64.RawURLEncoding.DecodeString(segments[0])
	require.NoError(t, err)
	var header map[string]any
	require.NoError(t, json.Unmarshal(headerRaw, &header))
	assert.Equal(t, "HS256", header["alg"])

	claimsRaw, err := base64.RawURLEncoding.DecodeString(segments[1])
	require.NoError(t, err)
	var claims map[string]any
	require.NoError(t, json.Unmarshal(claimsRaw, &claims))
	assert.Equal(t, "myid", claims["api_key"])
}

func TestZhipu_BuildRequest_RejectsMalformedCredential(t *testing.T) {
	a := NewZhipu("https://open.bigmodel.cn/api/paas/v4")
	req := llmgateway.Request{Messages: []llmgateway.Message{llmgateway.Text(llmgateway.RoleUser, "hi")}}

	_, err := a.BuildRequest("glm-4.7", req, "not-an-id-secret-pair")
	require.Error(t, err)
	var gwErr *llmgateway.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, llmgateway.KindAuthError, gwErr.Kind)
}

func TestZhipu_ParseResponse_SharesOpenAIEnvelope(t *testing.T) {
	a := NewZhipu("https://open.bigmodel.cn/api/paas/v4")
	resp, err := a.ParseResponse(HTTPResponse{StatusCode: 200, Body: readTestdata(t, "openai_response.json")})
	require.NoError(t, err)
	assert.Equal(t, "The weather in Paris is sunny and 21C.", resp.Text)
}

func TestZhipu_ParseResponse_NumericErrorCodeClassifiesInsufficientBalanceAsRateLimited(t *testing.T) {
	a := NewZhipu("https://open.bigmodel.cn/api/paas/v4")
	_, err := a.ParseResponse(HTTPResponse{StatusCode: 400, Body: readTestdata(t, "zhipu_error_response.json")})
	require.Error(t, err)
	var gwErr *llmgateway.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, llmgateway.KindRateLimited, gwErr.Kind)
}
