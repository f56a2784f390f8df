// Package adapter translates the gateway's canonical Request/Response types
// to and from each provider's wire format. Adapters are pure functions of
// their inputs — building a request never reaches out to the network, and
// parsing a response never mutates shared state — so the Request Executor
// can call BuildRequest fresh on every retry attempt with a newly rotated
// credential, and so golden-fixture round-trip tests can exercise them
// without a live provider (spec §4.3).
package adapter

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/taipm/llmgateway"
)

// Feature is a capability an adapter may or may not support; callers use
// Supports to fail fast with KindUnsupportedFeature instead of discovering
// the gap from a confusing provider error.
type Feature string

const (
	FeatureTools           Feature = "tools"
	FeatureStreaming       Feature = "streaming"
	FeatureMultimodal      Feature = "multimodal"
	FeatureJSONSchema      Feature = "json_schema"
	FeatureCodeExecution   Feature = "code_execution"
	FeatureGrounding       Feature = "grounding"
	FeatureLogProbs        Feature = "log_probs"
	FeatureParallelToolUse Feature = "parallel_tool_use"
)

// HTTPRequest is the fully-built wire request an adapter hands to the
// transport layer: method, URL, headers (credential already injected), and
// a JSON body.
type HTTPRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// HTTPResponse is what the transport layer hands back to ParseResponse.
type HTTPResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Adapter is the capability-set interface every provider implements (spec
// §4.3): build_request/parse_response as pure functions, plus api_type and
// supports(feature) for registry lookup and capability checks.
type Adapter interface {
	// APIType names this adapter for Registry lookup, e.g. "openai",
	// "gemini", "zhipu".
	APIType() string

	// BuildRequest turns a canonical Request plus a model name and a raw
	// credential value into a ready-to-send HTTPRequest. Implementations
	// must not perform I/O.
	BuildRequest(model string, req llmgateway.Request, credentialValue string) (HTTPRequest, error)

	// ParseResponse turns a provider's raw HTTP response into the
	// canonical Response, or a classified error if the provider reported
	// a failure.
	ParseResponse(resp HTTPResponse) (llmgateway.Response, error)

	// Supports reports whether this adapter implements feature.
	Supports(feature Feature) bool
}

// Registry is a process-wide, api_type-keyed lookup of Adapters (spec
// §4.3's "process-wide registry" requirement), guarded by a RWMutex since
// registration happens at startup and lookups happen on every request.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds adapter under its own APIType, returning an error if that
// api_type is already registered.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.APIType()]; exists {
		return fmt.Errorf("adapter: api_type %q already registered", a.APIType())
	}
	r.adapters[a.APIType()] = a
	return nil
}

// MustRegister panics on a duplicate api_type; intended for package-init
// wiring of the built-in adapters where a conflict is a programming error.
func (r *Registry) MustRegister(a Adapter) {
	if err := r.Register(a); err != nil {
		panic(err)
	}
}

// Lookup returns the adapter registered for apiType.
func (r *Registry) Lookup(apiType string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[apiType]
	if !ok {
		return nil, &llmgateway.GatewayError{
			Kind:       llmgateway.KindConfigError,
			Underlying: fmt.Errorf("adapter: no adapter registered for api_type %q", apiType),
		}
	}
	return a, nil
}

// Default is the process-wide registry built-in adapters register
// themselves into via their package init().
var Default = NewRegistry()

// Embedder is an optional capability an Adapter may additionally implement
// for spec §6's embeddings operation. Not every provider offers embeddings
// (zhipu's adapter does not implement it), so callers type-assert for this
// interface rather than requiring it on Adapter itself.
type Embedder interface {
	BuildEmbedRequest(model string, texts []string, taskType string, credentialValue string) (HTTPRequest, error)
	ParseEmbedResponse(resp HTTPResponse) ([][]float32, error)
}
