package tools

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPRequestTool_GetSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tool := NewHTTPRequestTool()
	args := fmt.Sprintf(`{"method":"GET","url":%q}`, srv.URL)
	result, err := tool.Handler(args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "Status: 200") {
		t.Errorf("expected 200 status in output, got %q", result)
	}
	if !strings.Contains(result, `"ok": true`) {
		t.Errorf("expected pretty-printed JSON body, got %q", result)
	}
}

func TestHTTPRequestTool_SendsCustomHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tool := NewHTTPRequestTool()
	args := fmt.Sprintf(`{"method":"GET","url":%q,"headers":"{\"Authorization\":\"Bearer tok\"}"}`, srv.URL)
	_, err := tool.Handler(args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("expected Authorization header to reach server, got %q", gotAuth)
	}
}

func TestHTTPRequestTool_PostsBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 128)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tool := NewHTTPRequestTool()
	args := fmt.Sprintf(`{"method":"POST","url":%q,"body":"hello"}`, srv.URL)
	result, err := tool.Handler(args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody != "hello" {
		t.Errorf("expected request body %q to reach server, got %q", "hello", gotBody)
	}
	if !strings.Contains(result, "Status: 201") {
		t.Errorf("expected 201 status in output, got %q", result)
	}
}

func TestHTTPRequestTool_RejectsInvalidMethod(t *testing.T) {
	tool := NewHTTPRequestTool()
	_, err := tool.Handler(`{"method":"PATCH","url":"http://example.com"}`)
	if err == nil {
		t.Error("expected error for unsupported method")
	}
}

func TestHTTPRequestTool_RejectsMissingURL(t *testing.T) {
	tool := NewHTTPRequestTool()
	_, err := tool.Handler(`{"method":"GET","url":""}`)
	if err == nil {
		t.Error("expected error for missing url")
	}
}

func TestHTTPRequestTool_RejectsNonHTTPURL(t *testing.T) {
	tool := NewHTTPRequestTool()
	_, err := tool.Handler(`{"method":"GET","url":"ftp://example.com"}`)
	if err == nil {
		t.Error("expected error for non-http(s) url")
	}
}
