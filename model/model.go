// Package model wires one configured provider/model pair into a single
// callable handle: adapter lookup, credential rotation, retrying transport,
// rate limiting, and (when tools are registered) the tool-calling
// orchestrator. It depends on every lower-level package (credential,
// transport, adapter, toolregistry, orchestrator, ratelimit); nothing in
// those packages imports it back, so the dependency graph stays acyclic
// even though the root llmgateway package cannot host this type itself —
// transport and adapter already import llmgateway for its canonical types,
// so a Model type living in that same package would close an import cycle
// the moment it needed transport.Execute or adapter.Registry.
package model

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/taipm/llmgateway"
	"github.com/taipm/llmgateway/adapter"
	"github.com/taipm/llmgateway/credential"
	"github.com/taipm/llmgateway/orchestrator"
	"github.com/taipm/llmgateway/ratelimit"
	"github.com/taipm/llmgateway/responsecache"
	"github.com/taipm/llmgateway/toolregistry"
	"github.com/taipm/llmgateway/transport"
)

// Config tunes a Model beyond what ProviderConfig/ModelConfig carry.
type Config struct {
	RetryPolicy    transport.RetryPolicy
	CooldownPolicy credential.CooldownPolicy
	RateLimit      ratelimit.Config
	HTTPClient     *http.Client
	Logger         llmgateway.Logger
	Orchestrator   orchestrator.Config

	// ResponseCache, when set, short-circuits tool-free Generate calls that
	// hit an unexpired entry keyed by (provider, model, messages, config)
	// instead of issuing a request. Optional; nil disables caching entirely.
	ResponseCache responsecache.Cache
	CacheTTL      time.Duration

	// TokenCounter, when set alongside a positive ModelConfig.MaxInputTokens,
	// pre-flight-checks a request's estimated size before it is sent so an
	// oversized prompt fails fast with KindBadRequest instead of waiting on
	// a provider's 400. Optional; nil skips the check entirely.
	TokenCounter llmgateway.TokenCounter
}

// DefaultConfig matches the defaults each wrapped component already names.
func DefaultConfig() Config {
	return Config{
		RetryPolicy:    transport.DefaultRetryPolicy(),
		CooldownPolicy: credential.DefaultCooldownPolicy(),
		RateLimit:      ratelimit.DefaultConfig(),
		Orchestrator:   orchestrator.DefaultConfig(),
	}
}

// Model is one resolved provider/model pair (spec §4.5's registry entry),
// ready to accept Generate/Embed calls.
type Model struct {
	id       llmgateway.ModelID
	modelCfg llmgateway.ModelConfig

	adapter adapter.Adapter
	store   *credential.Store
	limiter *ratelimit.Limiter

	httpClient  *http.Client
	timeout     time.Duration
	retryPolicy transport.RetryPolicy

	tools        *toolregistry.Registry
	toolExecutor orchestrator.ToolExecutor
	orchCfg      orchestrator.Config

	cache    responsecache.Cache
	cacheTTL time.Duration

	tokenCounter llmgateway.TokenCounter

	logger llmgateway.Logger
}

// New resolves provider against the adapter registry and builds a Model for
// one of its configured models (spec §4.5 "on lookup miss: resolve against
// loaded provider configs, instantiate the adapter, construct the handle").
func New(provider llmgateway.ProviderConfig, modelName string, adapters *adapter.Registry, cfg Config) (*Model, error) {
	id, err := llmgateway.ParseModelID(provider.Name + "/" + modelName)
	if err != nil {
		return nil, err
	}

	modelCfg, ok := provider.ModelByName(modelName)
	if !ok {
		return nil, llmgateway.NewGatewayError(llmgateway.KindModelNotFound, provider.Name, modelName,
			fmt.Errorf("model %q not configured for provider %q", modelName, provider.Name))
	}

	a, err := adapters.Lookup(provider.APIType)
	if err != nil {
		return nil, err
	}

	if len(provider.APIKey) == 0 {
		return nil, llmgateway.NewGatewayError(llmgateway.KindConfigError, provider.Name, modelName,
			fmt.Errorf("provider %q has no api_key configured", provider.Name))
	}

	if cfg.RetryPolicy == (transport.RetryPolicy{}) {
		cfg.RetryPolicy = transport.DefaultRetryPolicy()
	}
	if cfg.CooldownPolicy == (credential.CooldownPolicy{}) {
		cfg.CooldownPolicy = credential.DefaultCooldownPolicy()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = llmgateway.NoopLogger{}
	}
	if cfg.Orchestrator == (orchestrator.Config{}) {
		cfg.Orchestrator = orchestrator.DefaultConfig()
	}

	timeout := time.Duration(provider.Timeout * float64(time.Second))

	return &Model{
		id:           id,
		modelCfg:     modelCfg,
		adapter:      a,
		store:        credential.NewStore(provider.Name, provider.APIKey, cfg.CooldownPolicy),
		limiter:      ratelimit.New(cfg.RateLimit),
		httpClient:   cfg.HTTPClient,
		timeout:      timeout,
		retryPolicy:  cfg.RetryPolicy,
		orchCfg:      cfg.Orchestrator,
		cache:        cfg.ResponseCache,
		cacheTTL:     cfg.CacheTTL,
		tokenCounter: cfg.TokenCounter,
		logger:       cfg.Logger,
	}, nil
}

// WithTools attaches a tool registry and executor, enabling the
// tool-calling loop on subsequent Generate calls (spec §4.4).
func (m *Model) WithTools(tools *toolregistry.Registry, exec orchestrator.ToolExecutor) *Model {
	m.tools = tools
	m.toolExecutor = exec
	return m
}

// ID returns the provider/model identifier this handle was built for.
func (m *Model) ID() llmgateway.ModelID { return m.id }

// Generate runs one (possibly multi-round, if tools are attached) model
// turn and returns the terminal Response plus the full message history
// (spec §2 data flow, §4.4).
func (m *Model) Generate(ctx context.Context, messages []llmgateway.Message, genCfg llmgateway.GenerationConfig) (llmgateway.Response, []llmgateway.Message, error) {
	var toolDefs []llmgateway.ToolDefinition
	if m.tools != nil {
		toolDefs = m.tools.Definitions()
	}
	if len(toolDefs) > 0 && !m.adapter.Supports(adapter.FeatureTools) {
		return llmgateway.Response{}, messages, llmgateway.NewGatewayError(
			llmgateway.KindUnsupportedFeature, m.id.Provider, m.id.Model,
			fmt.Errorf("model does not support tool calling"))
	}

	generate := func(ctx context.Context, msgs []llmgateway.Message) (llmgateway.Response, error) {
		return m.generateOnce(ctx, msgs, genCfg, toolDefs)
	}

	m.logger.Debug(ctx, "generate started", llmgateway.F("provider", m.id.Provider), llmgateway.F("model", m.id.Model))

	if m.tools == nil || m.toolExecutor == nil || len(toolDefs) == 0 {
		// Only the tool-free, single-round path is cached: a tool loop's
		// terminal Response depends on intermediate tool results that the
		// cache key (provider, model, messages, config) doesn't capture.
		if m.cache != nil {
			key := responsecache.Key(m.id.Provider, m.id.Model, messages, m.modelDefaults().Merge(genCfg))
			if cached, ok, err := responsecache.GetResponse(ctx, m.cache, key); err == nil && ok {
				m.logger.Info(ctx, "response cache hit", llmgateway.F("cache_key", key))
				return cached, messages, nil
			}
			m.logger.Debug(ctx, "response cache miss", llmgateway.F("cache_key", key))

			resp, err := generate(ctx, messages)
			if err != nil {
				m.logger.Error(ctx, "generate failed", llmgateway.F("error", err.Error()))
				return resp, messages, err
			}
			if err := responsecache.SetResponse(ctx, m.cache, key, resp, m.cacheTTL); err != nil {
				m.logger.Warn(ctx, "failed to write response cache entry", llmgateway.F("cache_key", key), llmgateway.F("error", err.Error()))
			}
			m.logger.Info(ctx, "generate completed", llmgateway.F("cached", false))
			return resp, messages, nil
		}

		resp, err := generate(ctx, messages)
		if err != nil {
			m.logger.Error(ctx, "generate failed", llmgateway.F("error", err.Error()))
			return resp, messages, err
		}
		m.logger.Info(ctx, "generate completed", llmgateway.F("cached", false))
		return resp, messages, nil
	}

	orch := orchestrator.New(m.tools, m.toolExecutor, m.orchCfg)
	resp, history, err := orch.Run(ctx, generate, messages)
	if err != nil {
		m.logger.Error(ctx, "tool-calling generate failed", llmgateway.F("error", err.Error()))
		return resp, history, err
	}
	m.logger.Info(ctx, "tool-calling generate completed", llmgateway.F("added_messages", len(history)-len(messages)))
	return resp, history, nil
}

// generateOnce issues a single model request through the retrying
// transport, honoring rate limits and per-attempt timeouts.
func (m *Model) generateOnce(ctx context.Context, messages []llmgateway.Message, genCfg llmgateway.GenerationConfig, tools []llmgateway.ToolDefinition) (llmgateway.Response, error) {
	mergedCfg := m.modelDefaults().Merge(genCfg)
	if err := mergedCfg.Validate(); err != nil {
		return llmgateway.Response{}, err
	}

	if m.tokenCounter != nil && m.modelCfg.MaxInputTokens > 0 {
		count, err := m.tokenCounter.CountMessages(messages)
		if err != nil {
			return llmgateway.Response{}, llmgateway.NewGatewayError(llmgateway.KindBadRequest, m.id.Provider, m.id.Model, err)
		}
		if count > m.modelCfg.MaxInputTokens {
			return llmgateway.Response{}, llmgateway.NewGatewayError(llmgateway.KindBadRequest, m.id.Provider, m.id.Model,
				fmt.Errorf("estimated %d input tokens exceeds model limit of %d", count, m.modelCfg.MaxInputTokens))
		}
	}

	req := llmgateway.Request{
		Messages:           messages,
		Config:             mergedCfg,
		Tools:              tools,
		SupportsMultimodal: m.modelCfg.SupportsMultimodal,
	}

	do := func(ctx context.Context, cred *credential.Credential) (llmgateway.Response, error) {
		if err := m.limiter.Wait(ctx, m.id.String()); err != nil {
			return llmgateway.Response{}, llmgateway.NewGatewayError(llmgateway.KindCanceled, m.id.Provider, m.id.Model, err)
		}

		httpReq, err := m.adapter.BuildRequest(m.id.Model, req, cred.Value)
		if err != nil {
			return llmgateway.Response{}, err
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if m.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}

		httpResp, err := m.roundTrip(attemptCtx, httpReq)
		if err != nil {
			return llmgateway.Response{}, err
		}

		return m.adapter.ParseResponse(httpResp)
	}

	resp, err := transport.Execute(ctx, m.store, m.retryPolicy, m.classify, do)
	if err != nil {
		return llmgateway.Response{}, annotate(err, m.id)
	}
	return resp, nil
}

// Embed implements spec §6's embeddings operation for adapters that
// implement adapter.Embedder.
func (m *Model) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	embedder, ok := m.adapter.(adapter.Embedder)
	if !ok {
		return nil, llmgateway.NewGatewayError(llmgateway.KindUnsupportedFeature, m.id.Provider, m.id.Model,
			fmt.Errorf("adapter %q does not support embeddings", m.adapter.APIType()))
	}

	do := func(ctx context.Context, cred *credential.Credential) ([][]float32, error) {
		if err := m.limiter.Wait(ctx, m.id.String()); err != nil {
			return nil, llmgateway.NewGatewayError(llmgateway.KindCanceled, m.id.Provider, m.id.Model, err)
		}

		httpReq, err := embedder.BuildEmbedRequest(m.id.Model, texts, taskType, cred.Value)
		if err != nil {
			return nil, err
		}

		httpResp, err := m.roundTrip(ctx, httpReq)
		if err != nil {
			return nil, err
		}

		return embedder.ParseEmbedResponse(httpResp)
	}

	out, err := transport.Execute(ctx, m.store, m.retryPolicy, m.classify, do)
	if err != nil {
		return nil, annotate(err, m.id)
	}
	return out, nil
}

func (m *Model) modelDefaults() llmgateway.GenerationConfig {
	cfg := llmgateway.GenerationConfig{}
	if m.modelCfg.Temperature != 0 {
		cfg.Temperature = m.modelCfg.Temperature
	}
	if m.modelCfg.MaxTokens != 0 {
		cfg.MaxTokens = m.modelCfg.MaxTokens
	}
	return cfg
}

// roundTrip sends httpReq and collects its raw response, wrapping transport
// failures as KindTransientNetwork so the executor's classifier can see them.
func (m *Model) roundTrip(ctx context.Context, httpReq adapter.HTTPRequest) (adapter.HTTPResponse, error) {
	r, err := http.NewRequestWithContext(ctx, httpReq.Method, httpReq.URL, bytes.NewReader(httpReq.Body))
	if err != nil {
		return adapter.HTTPResponse{}, llmgateway.NewGatewayError(llmgateway.KindBadRequest, m.id.Provider, m.id.Model, err)
	}
	r.Header = httpReq.Header

	resp, err := m.httpClient.Do(r)
	if err != nil {
		if ctx.Err() != nil {
			return adapter.HTTPResponse{}, llmgateway.NewGatewayError(llmgateway.KindCanceled, m.id.Provider, m.id.Model, err)
		}
		return adapter.HTTPResponse{}, llmgateway.NewGatewayError(llmgateway.KindTransientNetwork, m.id.Provider, m.id.Model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return adapter.HTTPResponse{}, llmgateway.NewGatewayError(llmgateway.KindTransientNetwork, m.id.Provider, m.id.Model, err)
	}

	return adapter.HTTPResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// classify maps an attempt's error onto the executor's (reporting kind,
// retry-routing class) pair (spec §4.2's three-way classification). Auth and
// rate-limit failures are classed NewCredential and transient network/server
// errors SameCredential; everything else is fatal. transport.Execute retries
// both retryable classes the same way (back off, then the next healthy
// credential in round-robin order); the store's disable/cooldown reporting
// is what keeps an implicated credential out of rotation.
func (m *Model) classify(err error) (llmgateway.Kind, transport.Classification) {
	var gwErr *llmgateway.GatewayError
	if !asGatewayError(err, &gwErr) {
		return llmgateway.KindTransientNetwork, transport.SameCredential
	}

	switch gwErr.Kind {
	case llmgateway.KindAuthError, llmgateway.KindRateLimited:
		return gwErr.Kind, transport.NewCredential
	case llmgateway.KindTransientNetwork, llmgateway.KindServerError:
		return gwErr.Kind, transport.SameCredential
	default:
		return gwErr.Kind, transport.Fatal
	}
}

func asGatewayError(err error, target **llmgateway.GatewayError) bool {
	for err != nil {
		if gwErr, ok := err.(*llmgateway.GatewayError); ok {
			*target = gwErr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// annotate fills in provider/model on a returned error when the lower layer
// didn't have that context available (RequestFailed wraps the raw attempt
// errors, which are built before a Model exists to stamp them).
func annotate(err error, id llmgateway.ModelID) error {
	var gwErr *llmgateway.GatewayError
	if asGatewayError(err, &gwErr) {
		if gwErr.Provider == "" {
			gwErr.Provider = id.Provider
		}
		if gwErr.Model == "" {
			gwErr.Model = id.Model
		}
	}
	return err
}
