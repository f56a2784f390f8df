package adapter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/taipm/llmgateway"
)

func init() {
	Default.MustRegister(NewOpenAI("https://api.openai.com/v1"))
}

// OpenAI implements Adapter for OpenAI and the many services that copy its
// Chat Completions wire format (vLLM, Ollama's OpenAI-compatible endpoint,
// OpenRouter, LM Studio, and similar). BuildRequest/ParseResponse are pure
// functions over net/http + encoding/json rather than a vendored SDK client,
// matching spec §4.3's requirement that both be callable fresh on every
// retry attempt with a freshly rotated credential.
type OpenAI struct {
	baseURL string
}

// NewOpenAI builds an adapter pointed at baseURL (no trailing slash), e.g.
// "https://api.openai.com/v1" or a self-hosted OpenAI-compatible endpoint.
func NewOpenAI(baseURL string) *OpenAI {
	return &OpenAI{baseURL: baseURL}
}

func (a *OpenAI) APIType() string { return "openai" }

func (a *OpenAI) Supports(f Feature) bool {
	switch f {
	case FeatureTools, FeatureStreaming, FeatureMultimodal, FeatureJSONSchema, FeatureLogProbs, FeatureParallelToolUse:
		return true
	default:
		return false
	}
}

type oaMessage struct {
	Role       string          `json:"role"`
	Content    any             `json:"content,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []oaToolCallOut `json:"tool_calls,omitempty"`
}

type oaToolCallOut struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type oaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type oaRequestBody struct {
	Model            string         `json:"model"`
	Messages         []oaMessage    `json:"messages"`
	Temperature      *float64       `json:"temperature,omitempty"`
	MaxTokens        *int           `json:"max_tokens,omitempty"`
	TopP             *float64       `json:"top_p,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty"`
	Stop             []string       `json:"stop,omitempty"`
	Tools            []oaTool       `json:"tools,omitempty"`
	ToolChoice       any            `json:"tool_choice,omitempty"`
	ResponseFormat   map[string]any `json:"response_format,omitempty"`
	Logprobs         bool           `json:"logprobs,omitempty"`
	TopLogprobs      *int           `json:"top_logprobs,omitempty"`
}

func (a *OpenAI) BuildRequest(model string, req llmgateway.Request, credentialValue string) (HTTPRequest, error) {
	if err := req.Config.Validate(); err != nil {
		return HTTPRequest{}, err
	}

	body := oaRequestBody{
		Model:    model,
		Messages: make([]oaMessage, 0, len(req.Messages)),
	}

	for _, msg := range req.Messages {
		if !req.SupportsMultimodal {
			if part, ok := firstMultimodalPart(msg); ok {
				return HTTPRequest{}, llmgateway.NewGatewayError(llmgateway.KindUnsupportedFeature, "", model,
					fmt.Errorf("adapter/openai: model does not support multimodal input, got %s content part", part))
			}
		}
		m, err := convertOAMessage(msg)
		if err != nil {
			return HTTPRequest{}, err
		}
		body.Messages = append(body.Messages, m)
	}

	if req.Config.Temperature != 0 {
		body.Temperature = &req.Config.Temperature
	}
	if req.Config.MaxTokens != 0 {
		body.MaxTokens = &req.Config.MaxTokens
	}
	if req.Config.TopP != 0 {
		body.TopP = &req.Config.TopP
	}
	if req.Config.FrequencyPenalty != 0 {
		body.FrequencyPenalty = &req.Config.FrequencyPenalty
	}
	if req.Config.PresencePenalty != 0 {
		body.PresencePenalty = &req.Config.PresencePenalty
	}
	if len(req.Config.Stop) > 0 {
		body.Stop = req.Config.Stop
	}
	if req.Config.ResponseFormat != nil {
		switch req.Config.ResponseFormat.Kind {
		case llmgateway.ResponseFormatJSONObject:
			body.ResponseFormat = map[string]any{"type": "json_object"}
		case llmgateway.ResponseFormatJSONSchema:
			body.ResponseFormat = map[string]any{
				"type": "json_schema",
				"json_schema": map[string]any{
					"name":   "response",
					"schema": req.Config.ResponseFormat.Schema,
				},
			}
		}
	}

	if len(req.Tools) > 0 {
		body.Tools = make([]oaTool, len(req.Tools))
		for i, t := range req.Tools {
			body.Tools[i].Type = "function"
			body.Tools[i].Function.Name = t.Name
			body.Tools[i].Function.Description = t.Description
			body.Tools[i].Function.Parameters = t.Parameters
		}
	}

	if req.ToolChoice != nil {
		if req.ToolChoice.Name != "" {
			body.ToolChoice = map[string]any{
				"type":     "function",
				"function": map[string]string{"name": req.ToolChoice.Name},
			}
		} else {
			body.ToolChoice = string(req.ToolChoice.Mode)
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return HTTPRequest{}, fmt.Errorf("adapter/openai: marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+credentialValue)

	return HTTPRequest{
		Method: http.MethodPost,
		URL:    a.baseURL + "/chat/completions",
		Header: header,
		Body:   raw,
	}, nil
}

// firstMultimodalPart reports the ContentKind of the first non-text,
// non-tool part in msg, if any, so BuildRequest can reject it before
// conversion when the target model isn't known multimodal.
func firstMultimodalPart(msg llmgateway.Message) (llmgateway.ContentKind, bool) {
	for _, part := range msg.Content {
		switch part.Type {
		case llmgateway.ContentImage, llmgateway.ContentAudio, llmgateway.ContentVideo, llmgateway.ContentFile:
			return part.Type, true
		}
	}
	return "", false
}

func convertOAMessage(msg llmgateway.Message) (oaMessage, error) {
	out := oaMessage{Role: string(msg.Role)}

	if msg.Role == llmgateway.RoleTool {
		out.ToolCallID = msg.ToolCallID
		for _, part := range msg.Content {
			if part.Type == llmgateway.ContentToolResult && part.ToolResult != nil {
				out.Content = part.ToolResult.Content
			}
		}
		return out, nil
	}

	var toolCalls []oaToolCallOut
	var parts []oaContentPart
	allText := true

	for _, part := range msg.Content {
		switch part.Type {
		case llmgateway.ContentText:
			parts = append(parts, oaContentPart{Type: "text", Text: part.Text})
		case llmgateway.ContentImage:
			allText = false
			if part.Media == nil {
				return oaMessage{}, fmt.Errorf("adapter/openai: image content part missing media")
			}
			url := part.Media.URI
			if url == "" && len(part.Media.InlineData) > 0 {
				url = "data:" + part.Media.MIMEType + ";base64," + b64(part.Media.InlineData)
			}
			parts = append(parts, oaContentPart{Type: "image_url", ImageURL: &struct {
				URL string `json:"url"`
			}{URL: url}})
		case llmgateway.ContentToolCall:
			if part.ToolCall != nil {
				tc := oaToolCallOut{ID: part.ToolCall.ID, Type: "function"}
				tc.Function.Name = part.ToolCall.Name
				tc.Function.Arguments = part.ToolCall.Arguments
				toolCalls = append(toolCalls, tc)
			}
		}
	}

	if len(toolCalls) > 0 {
		out.ToolCalls = toolCalls
	}

	switch {
	case len(parts) == 0:
		out.Content = ""
	case allText && len(parts) == 1:
		out.Content = parts[0].Text
	default:
		out.Content = parts
	}

	return out, nil
}

type oaChoice struct {
	Message struct {
		Content   string          `json:"content"`
		Refusal   string          `json:"refusal"`
		ToolCalls []oaToolCallOut `json:"tool_calls"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type oaResponseBody struct {
	Choices []oaChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type oaErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (a *OpenAI) ParseResponse(resp HTTPResponse) (llmgateway.Response, error) {
	if resp.StatusCode >= 400 {
		return llmgateway.Response{}, classifyOAError(resp)
	}

	var body oaResponseBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return llmgateway.Response{}, &llmgateway.GatewayError{
			Kind:       llmgateway.KindParseError,
			Underlying: fmt.Errorf("adapter/openai: decode response: %w", err),
		}
	}

	out := llmgateway.Response{Raw: resp.Body}
	out.Usage = llmgateway.Usage{
		PromptTokens:     body.Usage.PromptTokens,
		CompletionTokens: body.Usage.CompletionTokens,
		TotalTokens:      body.Usage.TotalTokens,
	}

	if len(body.Choices) == 0 {
		return out, nil
	}

	choice := body.Choices[0]
	out.Text = choice.Message.Content
	out.FinishReason = mapOAFinishReason(choice.FinishReason)

	if len(choice.Message.ToolCalls) > 0 {
		out.ToolCalls = make([]llmgateway.ToolCallRef, len(choice.Message.ToolCalls))
		for i, tc := range choice.Message.ToolCalls {
			out.ToolCalls[i] = llmgateway.ToolCallRef{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}
		}
		out.FinishReason = llmgateway.FinishToolCalls
	}

	if choice.Message.Refusal != "" {
		return out, llmgateway.NewGatewayError(llmgateway.KindContentFiltered, "", "", fmt.Errorf("refused: %s", choice.Message.Refusal))
	}

	return out, nil
}

func mapOAFinishReason(reason string) llmgateway.FinishReason {
	switch reason {
	case "stop":
		return llmgateway.FinishStop
	case "length":
		return llmgateway.FinishLength
	case "tool_calls", "function_call":
		return llmgateway.FinishToolCalls
	case "content_filter":
		return llmgateway.FinishContentFilter
	default:
		return llmgateway.FinishStop
	}
}

func classifyOAError(resp HTTPResponse) error {
	var body oaErrorBody
	_ = json.Unmarshal(resp.Body, &body)
	msg := body.Error.Message
	if msg == "" {
		msg = string(resp.Body)
	}
	underlying := fmt.Errorf("adapter/openai: status %d: %s", resp.StatusCode, msg)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &llmgateway.GatewayError{Kind: llmgateway.KindRateLimited, Underlying: underlying}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &llmgateway.GatewayError{Kind: llmgateway.KindAuthError, Underlying: underlying}
	case resp.StatusCode == http.StatusBadRequest:
		return &llmgateway.GatewayError{Kind: llmgateway.KindBadRequest, Underlying: underlying}
	case resp.StatusCode >= 500:
		return &llmgateway.GatewayError{Kind: llmgateway.KindServerError, Underlying: underlying}
	default:
		return &llmgateway.GatewayError{Kind: llmgateway.KindServerError, Underlying: underlying}
	}
}

func b64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

type oaEmbedRequestBody struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type oaEmbedResponseBody struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// BuildEmbedRequest implements adapter.Embedder. task_type has no OpenAI
// equivalent and is ignored (spec §6: "task_type is only forwarded to
// providers that honor it").
func (a *OpenAI) BuildEmbedRequest(model string, texts []string, taskType string, credentialValue string) (HTTPRequest, error) {
	raw, err := json.Marshal(oaEmbedRequestBody{Model: model, Input: texts})
	if err != nil {
		return HTTPRequest{}, fmt.Errorf("adapter/openai: marshal embed request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+credentialValue)

	return HTTPRequest{
		Method: http.MethodPost,
		URL:    a.baseURL + "/embeddings",
		Header: header,
		Body:   raw,
	}, nil
}

func (a *OpenAI) ParseEmbedResponse(resp HTTPResponse) ([][]float32, error) {
	if resp.StatusCode >= 400 {
		return nil, classifyOAError(resp)
	}

	var body oaEmbedResponseBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, &llmgateway.GatewayError{
			Kind:       llmgateway.KindParseError,
			Underlying: fmt.Errorf("adapter/openai: decode embed response: %w", err),
		}
	}

	out := make([][]float32, len(body.Data))
	for _, d := range body.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
