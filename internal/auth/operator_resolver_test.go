package auth

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestOperatorResolver_ResolveOperator(t *testing.T) {
	// Create a temporary YAML file for testing
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "operators.yaml")
	yamlContent := `"tok-alpha-123": "r.hartmann"
"tok-beta-456": "j.okafor"
`
	if err := os.WriteFile(yamlPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}

	// Create resolver and load config
	resolver := &OperatorResolver{
		tokenToName: make(map[string]string),
		loaded:      false,
		yamlPath:    yamlPath,
	}

	if err := resolver.loadConfig(yamlPath); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	tests := []struct {
		name             string
		authorization    string
		xAPIKey          string
		expectedOperator string
		expectedFound    bool
	}{
		{
			name:             "Valid bearer token",
			authorization:    "Bearer tok-alpha-123",
			expectedOperator: "r.hartmann",
			expectedFound:    true,
		},
		{
			name:             "Bearer prefix is case-insensitive",
			authorization:    "bearer tok-beta-456",
			expectedOperator: "j.okafor",
			expectedFound:    true,
		},
		{
			name:             "Valid X-Api-Key header",
			xAPIKey:          "tok-alpha-123",
			expectedOperator: "r.hartmann",
			expectedFound:    true,
		},
		{
			name:          "Unknown token",
			authorization: "Bearer tok-unknown",
			expectedFound: false,
		},
		{
			name:          "No credentials",
			expectedFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/flags/abc/resolve", nil)

			if tt.authorization != "" {
				req.Header.Set("Authorization", tt.authorization)
			}
			if tt.xAPIKey != "" {
				req.Header.Set("X-Api-Key", tt.xAPIKey)
			}

			operator, found := resolver.ResolveOperator(req)

			if found != tt.expectedFound {
				t.Errorf("ResolveOperator() found = %v, want %v", found, tt.expectedFound)
			}

			if found && operator != tt.expectedOperator {
				t.Errorf("ResolveOperator() operator = %v, want %v", operator, tt.expectedOperator)
			}
		})
	}
}

func TestOperatorResolver_IsLoaded(t *testing.T) {
	resolver := &OperatorResolver{
		tokenToName: make(map[string]string),
		loaded:      false,
	}

	if resolver.IsLoaded() {
		t.Error("IsLoaded() should return false for unloaded config")
	}

	resolver.loaded = true

	if !resolver.IsLoaded() {
		t.Error("IsLoaded() should return true for loaded config")
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name          string
		authorization string
		xAPIKey       string
		expectedToken string
	}{
		{
			name:          "Bearer header",
			authorization: "Bearer abc123",
			expectedToken: "abc123",
		},
		{
			name:          "Bearer header with extra whitespace",
			authorization: "Bearer   abc123  ",
			expectedToken: "abc123",
		},
		{
			name:          "X-Api-Key header",
			xAPIKey:       "key789",
			expectedToken: "key789",
		},
		{
			name:          "Authorization takes precedence over X-Api-Key",
			authorization: "Bearer abc123",
			xAPIKey:       "key789",
			expectedToken: "abc123",
		},
		{
			name:          "Non-bearer authorization falls through to X-Api-Key",
			authorization: "Basic dXNlcjpwYXNz",
			xAPIKey:       "key789",
			expectedToken: "key789",
		},
		{
			name:          "Empty bearer token",
			authorization: "Bearer ",
			expectedToken: "",
		},
		{
			name:          "No credentials",
			expectedToken: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &http.Request{
				Header: make(http.Header),
			}

			if tt.authorization != "" {
				req.Header.Set("Authorization", tt.authorization)
			}
			if tt.xAPIKey != "" {
				req.Header.Set("X-Api-Key", tt.xAPIKey)
			}

			token := extractToken(req)

			if token != tt.expectedToken {
				t.Errorf("extractToken() = %v, want %v", token, tt.expectedToken)
			}
		})
	}
}

func TestOperatorAuthMiddleware(t *testing.T) {
	resolver := &OperatorResolver{
		tokenToName: map[string]string{"tok-1": "r.hartmann"},
		loaded:      true,
	}

	var unauthorizedCalls int
	mw := NewOperatorAuthMiddleware(resolver, func(w http.ResponseWriter) {
		unauthorizedCalls++
		w.WriteHeader(http.StatusUnauthorized)
	})

	var sawOperator string
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawOperator, _ = GetOperatorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// Authorized request passes the operator through the context
	req := httptest.NewRequest("POST", "/api/flags/abc/resolve", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if sawOperator != "r.hartmann" {
		t.Errorf("Expected operator r.hartmann in context, got %q", sawOperator)
	}

	// Missing token is rejected
	req = httptest.NewRequest("POST", "/api/flags/abc/resolve", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
	if unauthorizedCalls != 1 {
		t.Errorf("Expected 1 unauthorized render, got %d", unauthorizedCalls)
	}

	// Unloaded config blocks everything
	resolver.loaded = false
	req = httptest.NewRequest("POST", "/api/flags/abc/resolve", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 when config not loaded, got %d", rec.Code)
	}
}
