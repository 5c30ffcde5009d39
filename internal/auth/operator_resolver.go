package auth

import (
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// OperatorResolver resolves API tokens to operator names for flag resolution
type OperatorResolver struct {
	mu          sync.RWMutex
	tokenToName map[string]string
	loaded      bool
	yamlPath    string
}

// NewOperatorResolver creates a new operator resolver
// It attempts to load operators.yaml from:
// 1. Path specified in OPERATORS_YAML_PATH env variable
// 2. Current working directory
func NewOperatorResolver() *OperatorResolver {
	resolver := &OperatorResolver{
		tokenToName: make(map[string]string),
		loaded:      false,
		yamlPath:    "",
	}

	var yamlPath string

	// Check if path is specified via environment variable
	if envPath := os.Getenv("OPERATORS_YAML_PATH"); envPath != "" {
		yamlPath = envPath
		log.Printf("Using operators.yaml path from OPERATORS_YAML_PATH: %s", yamlPath)
	} else {
		// Use current working directory
		cwd, err := os.Getwd()
		if err != nil {
			log.Printf("Warning: Cannot determine working directory: %v", err)
			return resolver
		}
		yamlPath = filepath.Join(cwd, "operators.yaml")
		log.Printf("Looking for operators.yaml in current working directory: %s", yamlPath)
	}

	// Try to load the config
	if err := resolver.loadConfig(yamlPath); err != nil {
		log.Printf("ERROR: operators.yaml not loaded from %s: %v", yamlPath, err)
		log.Printf("IMPORTANT: Flag resolution will be BLOCKED until operators.yaml is present at: %s", yamlPath)
	} else {
		resolver.yamlPath = yamlPath
		log.Printf("SUCCESS: Loaded operator token mappings from: %s (%d entries)", yamlPath, len(resolver.tokenToName))
	}

	return resolver
}

// loadConfig loads the YAML configuration file
func (r *OperatorResolver) loadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var config map[string]string
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tokenToName = config
	r.loaded = true

	return nil
}

// Reload reloads the operator configuration from disk
func (r *OperatorResolver) Reload() error {
	if r.yamlPath == "" {
		return nil // No config file to reload
	}
	return r.loadConfig(r.yamlPath)
}

// IsLoaded returns true if the config file was successfully loaded
func (r *OperatorResolver) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// ResolveOperator resolves the token on the request to an operator name
// Returns (operator, found)
func (r *OperatorResolver) ResolveOperator(req *http.Request) (string, bool) {
	token := extractToken(req)
	if token == "" {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	operator, found := r.tokenToName[token]
	if !found {
		// Never log the token itself
		log.Printf("Warning: request presented an unrecognized operator token")
	}

	return operator, found
}

// extractToken extracts the API token from the request
// Checks the Authorization bearer header first, then X-Api-Key
func extractToken(req *http.Request) string {
	if authz := req.Header.Get("Authorization"); authz != "" {
		if tok := parseBearer(authz); tok != "" {
			return tok
		}
	}

	if key := req.Header.Get("X-Api-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	return ""
}

// parseBearer extracts the token from a "Bearer <token>" header value
func parseBearer(authz string) string {
	const prefix = "Bearer "
	if len(authz) <= len(prefix) || !strings.EqualFold(authz[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authz[len(prefix):])
}
