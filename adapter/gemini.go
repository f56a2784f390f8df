package adapter

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/taipm/llmgateway"
)

func init() {
	Default.MustRegister(NewGemini("https://generativelanguage.googleapis.com/v1beta"))
}

// Gemini implements Adapter for Google's Generative Language API
// (generateContent). Unlike OpenAI's chat-completions shape, Gemini has no
// "assistant" role (it uses "model"), carries the system prompt in a
// separate systemInstruction field, nests text/inline_data/function_call
// under per-turn "parts", and authenticates via an "?key=" query parameter
// rather than an Authorization header.
type Gemini struct {
	baseURL string
}

// NewGemini builds an adapter pointed at baseURL (no trailing slash).
func NewGemini(baseURL string) *Gemini {
	return &Gemini{baseURL: baseURL}
}

func (a *Gemini) APIType() string { return "gemini" }

func (a *Gemini) Supports(f Feature) bool {
	switch f {
	case FeatureTools, FeatureMultimodal, FeatureCodeExecution, FeatureGrounding, FeatureJSONSchema:
		return true
	default:
		return false
	}
}

type gPart struct {
	Text                string                 `json:"text,omitempty"`
	InlineData          *gInlineData           `json:"inlineData,omitempty"`
	FileData            *gFileData             `json:"fileData,omitempty"`
	FunctionCall        *gFunctionCall         `json:"functionCall,omitempty"`
	FunctionResponse    *gFunctionResp         `json:"functionResponse,omitempty"`
	ExecutableCode      *gExecutableCode       `json:"executableCode,omitempty"`
	CodeExecutionResult *gCodeExecutionResult `json:"codeExecutionResult,omitempty"`
}

// gExecutableCode and gCodeExecutionResult carry the two halves of a Gemini
// code-execution turn: the model-authored snippet it ran, and the sandboxed
// outcome/output pair it ran it with (populated only when EnableCodeExecution
// was set on the request).
type gExecutableCode struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type gCodeExecutionResult struct {
	Outcome string `json:"outcome"`
	Output  string `json:"output"`
}

type gInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type gFileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type gFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type gFunctionResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type gContent struct {
	Role  string  `json:"role,omitempty"`
	Parts []gPart `json:"parts"`
}

type gFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type gTool struct {
	FunctionDeclarations []gFunctionDeclaration `json:"functionDeclarations,omitempty"`
	CodeExecution        *struct{}              `json:"codeExecution,omitempty"`
	GoogleSearch         *struct{}              `json:"googleSearchRetrieval,omitempty"`
}

type gGenerationConfig struct {
	Temperature      *float64       `json:"temperature,omitempty"`
	MaxOutputTokens  *int           `json:"maxOutputTokens,omitempty"`
	TopP             *float64       `json:"topP,omitempty"`
	TopK             *int           `json:"topK,omitempty"`
	StopSequences    []string       `json:"stopSequences,omitempty"`
	ResponseMIMEType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type gSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type gRequestBody struct {
	Contents          []gContent        `json:"contents"`
	SystemInstruction *gContent         `json:"systemInstruction,omitempty"`
	Tools             []gTool           `json:"tools,omitempty"`
	GenerationConfig  gGenerationConfig `json:"generationConfig"`
	SafetySettings    []gSafetySetting  `json:"safetySettings,omitempty"`
}

// geminiRole maps the gateway's canonical Role onto Gemini's two-role
// vocabulary ("user"/"model"); system prompts are pulled out separately and
// tool results are sent back as a "user" turn carrying a functionResponse
// part, matching the REST API's documented convention.
func geminiRole(r llmgateway.Role) string {
	switch r {
	case llmgateway.RoleAssistant:
		return "model"
	default:
		return "user"
	}
}

func (a *Gemini) BuildRequest(model string, req llmgateway.Request, credentialValue string) (HTTPRequest, error) {
	if err := req.Config.Validate(); err != nil {
		return HTTPRequest{}, err
	}

	body := gRequestBody{}

	for _, msg := range req.Messages {
		if msg.Role == llmgateway.RoleSystem {
			parts := textParts(msg)
			body.SystemInstruction = &gContent{Parts: parts}
			continue
		}

		parts, err := convertGeminiParts(msg)
		if err != nil {
			return HTTPRequest{}, err
		}
		body.Contents = append(body.Contents, gContent{Role: geminiRole(msg.Role), Parts: parts})
	}

	cfg := req.Config
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		if t > 1.0 {
			t = 1.0
		}
		body.GenerationConfig.Temperature = &t
	}
	if cfg.MaxTokens != 0 {
		body.GenerationConfig.MaxOutputTokens = &cfg.MaxTokens
	}
	if cfg.TopP != 0 {
		body.GenerationConfig.TopP = &cfg.TopP
	}
	if cfg.TopK != 0 {
		body.GenerationConfig.TopK = &cfg.TopK
	}
	if len(cfg.Stop) > 0 {
		body.GenerationConfig.StopSequences = cfg.Stop
	}
	if cfg.ResponseMIMEType != "" {
		body.GenerationConfig.ResponseMIMEType = cfg.ResponseMIMEType
	}
	if cfg.ResponseFormat != nil && cfg.ResponseFormat.Kind == llmgateway.ResponseFormatJSONSchema {
		body.GenerationConfig.ResponseMIMEType = "application/json"
		body.GenerationConfig.ResponseSchema = cfg.ResponseFormat.Schema
	}
	for cat, threshold := range cfg.SafetySettings {
		body.SafetySettings = append(body.SafetySettings, gSafetySetting{Category: string(cat), Threshold: string(threshold)})
	}

	var tools []gTool
	if len(req.Tools) > 0 {
		decls := make([]gFunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = gFunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
		}
		tools = append(tools, gTool{FunctionDeclarations: decls})
	}
	if cfg.EnableCodeExecution {
		tools = append(tools, gTool{CodeExecution: &struct{}{}})
	}
	if cfg.EnableGrounding {
		tools = append(tools, gTool{GoogleSearch: &struct{}{}})
	}
	body.Tools = tools

	raw, err := json.Marshal(body)
	if err != nil {
		return HTTPRequest{}, fmt.Errorf("adapter/gemini: marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	return HTTPRequest{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/models/%s:generateContent?key=%s", a.baseURL, model, credentialValue),
		Header: header,
		Body:   raw,
	}, nil
}

func textParts(msg llmgateway.Message) []gPart {
	var parts []gPart
	for _, part := range msg.Content {
		if part.Type == llmgateway.ContentText {
			parts = append(parts, gPart{Text: part.Text})
		}
	}
	return parts
}

func convertGeminiParts(msg llmgateway.Message) ([]gPart, error) {
	if msg.Role == llmgateway.RoleTool {
		var parts []gPart
		for _, part := range msg.Content {
			if part.Type == llmgateway.ContentToolResult && part.ToolResult != nil {
				parts = append(parts, gPart{FunctionResponse: &gFunctionResp{
					Name:     msg.ToolCallID,
					Response: map[string]any{"result": part.ToolResult.Content},
				}})
			}
		}
		return parts, nil
	}

	var parts []gPart
	for _, part := range msg.Content {
		switch part.Type {
		case llmgateway.ContentText:
			parts = append(parts, gPart{Text: part.Text})
		case llmgateway.ContentImage, llmgateway.ContentAudio, llmgateway.ContentVideo, llmgateway.ContentFile:
			if part.Media == nil {
				return nil, fmt.Errorf("adapter/gemini: media content part missing media")
			}
			if part.Media.URI != "" {
				parts = append(parts, gPart{FileData: &gFileData{MIMEType: part.Media.MIMEType, FileURI: part.Media.URI}})
			} else {
				parts = append(parts, gPart{InlineData: &gInlineData{MIMEType: part.Media.MIMEType, Data: b64(part.Media.InlineData)}})
			}
		case llmgateway.ContentToolCall:
			if part.ToolCall != nil {
				var args map[string]any
				_ = json.Unmarshal([]byte(part.ToolCall.Arguments), &args)
				parts = append(parts, gPart{FunctionCall: &gFunctionCall{Name: part.ToolCall.Name, Args: args}})
			}
		}
	}
	return parts, nil
}

type gCandidate struct {
	Content           gContent       `json:"content"`
	FinishReason      string         `json:"finishReason"`
	GroundingMetadata map[string]any `json:"groundingMetadata,omitempty"`
}

type gUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// gPromptFeedback carries the request-level safety verdict Gemini returns
// instead of any candidates when the prompt itself is blocked (as opposed to
// a per-candidate SAFETY finishReason, which still returns a candidate).
type gPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type gResponseBody struct {
	Candidates     []gCandidate     `json:"candidates"`
	UsageMetadata  *gUsageMetadata  `json:"usageMetadata"`
	PromptFeedback *gPromptFeedback `json:"promptFeedback,omitempty"`
}

type gErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (a *Gemini) ParseResponse(resp HTTPResponse) (llmgateway.Response, error) {
	if resp.StatusCode >= 400 {
		return llmgateway.Response{}, classifyGeminiError(resp)
	}

	var body gResponseBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return llmgateway.Response{}, &llmgateway.GatewayError{
			Kind:       llmgateway.KindParseError,
			Underlying: fmt.Errorf("adapter/gemini: decode response: %w", err),
		}
	}

	if body.PromptFeedback != nil && body.PromptFeedback.BlockReason != "" {
		return llmgateway.Response{}, &llmgateway.GatewayError{
			Kind:       llmgateway.KindContentFiltered,
			Underlying: fmt.Errorf("adapter/gemini: prompt blocked: %s", body.PromptFeedback.BlockReason),
		}
	}

	out := llmgateway.Response{Raw: resp.Body}
	if body.UsageMetadata != nil {
		out.Usage = llmgateway.Usage{
			PromptTokens:     body.UsageMetadata.PromptTokenCount,
			CompletionTokens: body.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      body.UsageMetadata.TotalTokenCount,
		}
	}

	if len(body.Candidates) == 0 {
		return out, nil
	}

	candidate := body.Candidates[0]
	var pendingCode *llmgateway.CodeExecutionResult
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			out.Text += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			out.ToolCalls = append(out.ToolCalls, llmgateway.ToolCallRef{
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			})
		}
		// Gemini emits executableCode and its codeExecutionResult as two
		// consecutive parts of one turn, not one combined part: pair an
		// executableCode part with the codeExecutionResult immediately
		// following it into a single CodeExecutionResult entry, the way the
		// REST API's own "one code block, one outcome" turn structure pairs
		// them.
		switch {
		case part.ExecutableCode != nil:
			pendingCode = &llmgateway.CodeExecutionResult{
				Code:     part.ExecutableCode.Code,
				Language: part.ExecutableCode.Language,
			}
		case part.CodeExecutionResult != nil:
			result := pendingCode
			if result == nil {
				result = &llmgateway.CodeExecutionResult{}
			}
			result.Outcome = part.CodeExecutionResult.Outcome
			result.Output = part.CodeExecutionResult.Output
			out.CodeExecutionResults = append(out.CodeExecutionResults, *result)
			pendingCode = nil
		}
	}
	if pendingCode != nil {
		out.CodeExecutionResults = append(out.CodeExecutionResults, *pendingCode)
	}
	if candidate.GroundingMetadata != nil {
		out.GroundingMetadata = candidate.GroundingMetadata
	}

	out.FinishReason = mapGeminiFinishReason(candidate.FinishReason, len(out.ToolCalls) > 0)
	return out, nil
}

func mapGeminiFinishReason(reason string, hasToolCalls bool) llmgateway.FinishReason {
	if hasToolCalls {
		return llmgateway.FinishToolCalls
	}
	switch reason {
	case "STOP":
		return llmgateway.FinishStop
	case "MAX_TOKENS":
		return llmgateway.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return llmgateway.FinishContentFilter
	default:
		return llmgateway.FinishStop
	}
}

type gEmbedRequestBody struct {
	Requests []gEmbedContentRequest `json:"requests"`
}

type gEmbedContentRequest struct {
	Model                string   `json:"model"`
	Content              gContent `json:"content"`
	TaskType             string   `json:"taskType,omitempty"`
}

type gEmbedResponseBody struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

// BuildEmbedRequest implements adapter.Embedder via Gemini's batchEmbedContents
// endpoint, which honors taskType unlike OpenAI's embeddings endpoint (spec
// §6).
func (a *Gemini) BuildEmbedRequest(model string, texts []string, taskType string, credentialValue string) (HTTPRequest, error) {
	modelPath := "models/" + model
	reqs := make([]gEmbedContentRequest, len(texts))
	for i, text := range texts {
		reqs[i] = gEmbedContentRequest{
			Model:    modelPath,
			Content:  gContent{Parts: []gPart{{Text: text}}},
			TaskType: taskType,
		}
	}

	raw, err := json.Marshal(gEmbedRequestBody{Requests: reqs})
	if err != nil {
		return HTTPRequest{}, fmt.Errorf("adapter/gemini: marshal embed request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	return HTTPRequest{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", a.baseURL, model, credentialValue),
		Header: header,
		Body:   raw,
	}, nil
}

func (a *Gemini) ParseEmbedResponse(resp HTTPResponse) ([][]float32, error) {
	if resp.StatusCode >= 400 {
		return nil, classifyGeminiError(resp)
	}

	var body gEmbedResponseBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, &llmgateway.GatewayError{
			Kind:       llmgateway.KindParseError,
			Underlying: fmt.Errorf("adapter/gemini: decode embed response: %w", err),
		}
	}

	out := make([][]float32, len(body.Embeddings))
	for i, e := range body.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func classifyGeminiError(resp HTTPResponse) error {
	var body gErrorBody
	_ = json.Unmarshal(resp.Body, &body)
	msg := body.Error.Message
	if msg == "" {
		msg = string(resp.Body)
	}
	underlying := fmt.Errorf("adapter/gemini: status %d: %s", resp.StatusCode, msg)

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
