// Package llmgateway provides a unified interface over heterogeneous LLM
// provider APIs (OpenAI-compatible, Google Gemini, Zhipu GLM, and others),
// handling credential rotation, retries, multimodal content marshalling,
// tool-calling loops, and model resolution behind a single request/response
// contract.
package llmgateway

import "fmt"

// Role identifies the speaker of a Message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in a conversation. For Role == RoleTool, ToolCallID
// identifies which ToolCall this message answers.
type Message struct {
	Role       Role
	Content    []ContentPart
	ToolCallID string
}

// Text is a convenience constructor for a single-part text message.
func Text(role Role, text string) Message {
	return Message{Role: role, Content: []ContentPart{{Type: ContentText, Text: text}}}
}

// ToolResultMessage builds the tool-role message injected after a tool
// executes, as required by the orchestrator loop (spec §4.4 step 3).
func ToolResultMessage(callID, content string) Message {
	return Message{
		Role:       RoleTool,
		ToolCallID: callID,
		Content:    []ContentPart{{Type: ContentToolResult, ToolResult: &ToolResult{CallID: callID, Content: content}}},
	}
}

// ContentKind discriminates the variant carried by a ContentPart.
type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentImage      ContentKind = "image"
	ContentVideo      ContentKind = "video"
	ContentAudio      ContentKind = "audio"
	ContentFile       ContentKind = "file"
	ContentToolCall   ContentKind = "tool_call"
	ContentToolResult ContentKind = "tool_result"
	ContentThought    ContentKind = "thought"
)

// MediaSource discriminates how a binary media ContentPart's bytes are
// referenced: embedded inline, fetched by URI, or a local path. The adapters
// in this module send InlineData or URI only; none reads LocalPath or
// uploads a local file.
type MediaSource struct {
	InlineData []byte // raw bytes, present when MIMEType is set and URI/LocalPath are empty
	MIMEType   string
	URI        string // remote reference, provider resolves
	LocalPath  string // local file path; carried but not read by any adapter
}

// ToolCallRef is the tool_call ContentPart payload: a model-emitted request
// to invoke a named function with JSON arguments.
type ToolCallRef struct {
	ID        string
	Name      string
	Arguments string // raw JSON object
}

// ToolResult is the tool_result ContentPart payload.
type ToolResult struct {
	CallID  string
	Content string
}

// ContentPart is one element of a Message's content, tagged by Type. Exactly
// one of the type-specific fields is populated depending on Type.
type ContentPart struct {
	Type ContentKind

	Text string // ContentText

	Media *MediaSource // ContentImage, ContentVideo, ContentAudio, ContentFile

	ToolCall *ToolCallRef // ContentToolCall

	ToolResult *ToolResult // ContentToolResult

	Thought string // ContentThought — provider-emitted reasoning, opaque elsewhere
}

// ResponseFormatKind discriminates GenerationConfig.ResponseFormat.
type ResponseFormatKind string

const (
	ResponseFormatText       ResponseFormatKind = "text"
	ResponseFormatJSONObject ResponseFormatKind = "json_object"
	ResponseFormatJSONSchema ResponseFormatKind = "json_schema"
)

// ResponseFormat controls the shape of the model's output.
type ResponseFormat struct {
	Kind   ResponseFormatKind
	Schema map[string]any // only meaningful when Kind == ResponseFormatJSONSchema
}

// HarmCategory and HarmThreshold model Gemini-style safety settings; other
// adapters ignore them (spec §9 "dynamic keyword configuration").
type HarmCategory string
type HarmThreshold string

// GenerationConfig enumerates every sampling/behavior option this gateway
// recognizes. Adapters translate the subset they support and silently
// ignore the rest (documented per-adapter).
type GenerationConfig struct {
	Temperature float64 // 0.0-2.0
	MaxTokens   int
	TopP        float64
	TopK        int

	FrequencyPenalty  float64
	PresencePenalty   float64
	RepetitionPenalty float64

	Stop []string

	ResponseFormat     *ResponseFormat
	ResponseMIMEType    string // provider-specific alternative to ResponseFormat

	EnableCodeExecution bool
	EnableGrounding     bool

	ThinkingBudget float64 // 0.0-1.0

	SafetySettings map[HarmCategory]HarmThreshold
}

// Validate enforces the invariants spec.md §9's Open Questions resolve:
// ResponseFormat and ResponseMIMEType may not both be set.
func (c GenerationConfig) Validate() error {
	if c.ResponseFormat != nil && c.ResponseMIMEType != "" {
		notRetryable := false
		return &GatewayError{
			Kind:          KindBadRequest,
			Underlying:    fmt.Errorf("response_format and response_mime_type both set"),
			RetryableHint: &notRetryable,
		}
	}
	return nil
}

// Merge layers overrides on top of the receiver's (provider/model default)
// values, returning a new config. Zero-valued fields in overrides do not
// clobber defaults; model.Model uses this to layer a call's config over its
// ModelConfig defaults.
func (c GenerationConfig) Merge(overrides GenerationConfig) GenerationConfig {
	out := c
	if overrides.Temperature != 0 {
		out.Temperature = overrides.Temperature
	}
	if overrides.MaxTokens != 0 {
		out.MaxTokens = overrides.MaxTokens
	}
	if overrides.TopP != 0 {
		out.TopP = overrides.TopP
	}
	if overrides.TopK != 0 {
		out.TopK = overrides.TopK
	}
	if overrides.FrequencyPenalty != 0 {
		out.FrequencyPenalty = overrides.FrequencyPenalty
	}
	if overrides.PresencePenalty != 0 {
		out.PresencePenalty = overrides.PresencePenalty
	}
	if overrides.RepetitionPenalty != 0 {
		out.RepetitionPenalty = overrides.RepetitionPenalty
	}
	if len(overrides.Stop) > 0 {
		out.Stop = overrides.Stop
	}
	if overrides.ResponseFormat != nil {
		out.ResponseFormat = overrides.ResponseFormat
	}
	if overrides.ResponseMIMEType != "" {
		out.ResponseMIMEType = overrides.ResponseMIMEType
	}
	if overrides.EnableCodeExecution {
		out.EnableCodeExecution = overrides.EnableCodeExecution
	}
	if overrides.EnableGrounding {
		out.EnableGrounding = overrides.EnableGrounding
	}
	if overrides.ThinkingBudget != 0 {
		out.ThinkingBudget = overrides.ThinkingBudget
	}
	if len(overrides.SafetySettings) > 0 {
		out.SafetySettings = overrides.SafetySettings
	}
	return out
}

// ToolDefinition describes a function the model may call. Names are unique
// within a request.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
	Required    []string
}

// ToolChoiceMode is the discriminant for ToolChoice when it is not a
// specific tool name.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
)

// ToolChoice selects how the model should use the declared tools. Exactly
// one of Mode or Name is meaningful: Name set means "call this tool".
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// Request is the canonical, provider-agnostic wire shape accepted by
// Model.Generate (spec §6).
type Request struct {
	Messages   []Message
	Config     GenerationConfig
	Tools      []ToolDefinition
	ToolChoice *ToolChoice

	// SupportsMultimodal mirrors the target ModelConfig.SupportsMultimodal
	// (spec §4.3.1: "multimodal parts become content:[...] when the model
	// is known multimodal, else reject with UnsupportedFeature"). The
	// caller (package model) stamps this from its ModelConfig before
	// BuildRequest runs, keeping BuildRequest a pure function of its
	// arguments rather than a lookup against provider configuration.
	SupportsMultimodal bool
}

// FinishReason is the canonical enum every adapter maps its provider's
// terminal signal onto.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// Usage carries token accounting for a single completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CodeExecutionResult is one provider-side sandboxed execution emitted
// alongside a Gemini response when EnableCodeExecution is set.
type CodeExecutionResult struct {
	Code     string
	Language string
	Output   string
	Outcome  string
}

// Response is the canonical response shape every adapter's ParseResponse
// produces (spec §3 LLMResponse).
type Response struct {
	Text                 string
	ToolCalls            []ToolCallRef
	Usage                Usage
	FinishReason         FinishReason
	Raw                  []byte // the provider's raw response body, for debugging
	CodeExecutionResults []CodeExecutionResult
	GroundingMetadata    map[string]any
}

// ModelConfig describes one model offered by a provider (spec §6 external
// provider-configuration shape). An external loader unmarshals these
// directly via yaml.Unmarshal; this module ships no config-file reader.
type ModelConfig struct {
	ModelName          string  `yaml:"model_name"`
	IsEmbeddingModel   bool    `yaml:"is_embedding_model"`
	MaxInputTokens     int     `yaml:"max_input_tokens,omitempty"`
	Temperature        float64 `yaml:"temperature,omitempty"`
	MaxTokens          int     `yaml:"max_tokens,omitempty"`
	SupportsMultimodal bool    `yaml:"supports_multimodal,omitempty"`
}

// ProviderConfig describes one configured provider: its credential(s),
// endpoint, api_type (which adapter to look up), and the models it serves
// (spec §6).
type ProviderConfig struct {
	Name    string   `yaml:"name"`
	APIType string   `yaml:"api_type"`
	APIBase string   `yaml:"api_base"`
	APIKey  []string `yaml:"api_key"`
	Models  []ModelConfig `yaml:"models"`
	Timeout float64  `yaml:"timeout,omitempty"`
	Proxy   string   `yaml:"proxy,omitempty"`
}

// ModelByName returns the ModelConfig named modelName within this provider,
// if configured.
func (p ProviderConfig) ModelByName(modelName string) (ModelConfig, bool) {
	for _, m := range p.Models {
		if m.ModelName == modelName {
			return m, true
		}
	}
	return ModelConfig{}, false
}
