package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/taipm/llmgateway/toolregistry"
)

// NewHTTPRequestTool builds an "http_request" tool for GET/POST/PUT/DELETE
// calls with header and body control and a bounded timeout.
func NewHTTPRequestTool() *toolregistry.Tool {
	return toolregistry.NewTool("http_request", "Make HTTP requests (GET, POST, PUT, DELETE) to APIs and web services").
		AddParameter("method", map[string]any{"type": "string", "description": "GET, POST, PUT, DELETE"}, true).
		AddParameter("url", map[string]any{"type": "string", "description": "Full URL to request"}, true).
		AddParameter("headers", map[string]any{"type": "string", "description": "Optional headers as a JSON object"}, false).
		AddParameter("body", map[string]any{"type": "string", "description": "Optional request body for POST/PUT"}, false).
		AddParameter("timeout_seconds", map[string]any{"type": "number", "description": "Optional timeout in seconds, default 30"}, false).
		WithHandler(httpRequestHandler)
}

func httpRequestHandler(args string) (string, error) {
	var params struct {
		Method         string  `json:"method"`
		URL            string  `json:"url"`
		Headers        string  `json:"headers"`
		Body           string  `json:"body"`
		TimeoutSeconds float64 `json:"timeout_seconds"`
	}
	if err := json.Unmarshal([]byte(args), &params); err != nil {
		return "", fmt.Errorf("%w: invalid JSON parameters", ErrInvalidInput)
	}

	method := strings.ToUpper(params.Method)
	if !isValidHTTPMethod(method) {
		return "", fmt.Errorf("%w: invalid HTTP method %q", ErrInvalidInput, params.Method)
	}
	if params.URL == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	if !strings.HasPrefix(params.URL, "http://") && !strings.HasPrefix(params.URL, "https://") {
		return "", fmt.Errorf("%w: url must start with http:// or https://", ErrInvalidInput)
	}

	timeout := 30 * time.Second
	if params.TimeoutSeconds > 0 {
		timeout = time.Duration(params.TimeoutSeconds * float64(time.Second))
	}

	return doHTTPRequest(method, params.URL, params.Headers, params.Body, timeout)
}

func isValidHTTPMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

func doHTTPRequest(method, url, headersJSON, body string, timeout time.Duration) (string, error) {
	client := &http.Client{Timeout: timeout}

	var bodyReader io.Reader
	if body != "" {
		bodyReader = bytes.NewBufferString(body)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrOperationFailed, err)
	}
	req.Header.Set("User-Agent", "llmgateway-tools/1.0")

	if headersJSON != "" {
		var headers map[string]string
		if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
			return "", fmt.Errorf("%w: invalid headers JSON: %v", ErrInvalidInput, err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: request failed: %v", ErrOperationFailed, err)
	}
	defer resp.Body.Close()
	duration := time.Since(start)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrOperationFailed, err)
	}

	return formatHTTPResponse(method, url, resp.StatusCode, resp.Header, respBody, duration), nil
}

func formatHTTPResponse(method, url string, statusCode int, headers http.Header, body []byte, duration time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP %s %s\n", method, url)
	fmt.Fprintf(&b, "Status: %d %s\n", statusCode, http.StatusText(statusCode))
	fmt.Fprintf(&b, "Duration: %v\n", duration)
	fmt.Fprintf(&b, "Content-Length: %d bytes\n", len(body))
	if ct := headers.Get("Content-Type"); ct != "" {
		fmt.Fprintf(&b, "Content-Type: %s\n", ct)
	}
	b.WriteString("\nResponse Body:\n")

	if strings.Contains(strings.ToLower(headers.Get("Content-Type")), "application/json") {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err == nil {
			b.Write(pretty.Bytes())
			return b.String()
		}
	}

	bodyStr := string(body)
	if len(bodyStr) > 1000 {
		b.WriteString(bodyStr[:1000])
		fmt.Fprintf(&b, "\n... (truncated, %d more bytes)", len(bodyStr)-1000)
	} else {
		b.WriteString(bodyStr)
	}
	return b.String()
}
