// Package config handles clerk configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./clerk.yaml, ~/.config/clerk/config.yaml, /etc/clerk/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"clerk.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "clerk", "config.yaml"))
	}

	paths = append(paths, "/etc/clerk/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all clerk configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Models     ModelsConfig     `yaml:"models"`
	Records    RecordsConfig    `yaml:"records"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Agent      AgentConfig      `yaml:"agent"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines model backend settings.
type ModelsConfig struct {
	Default   string `yaml:"default"`
	Provider  string `yaml:"provider"` // ollama, openai
	OllamaURL string `yaml:"ollama_url"`
	OpenAI    OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig defines OpenAI-compatible API settings.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"` // Default: https://api.openai.com/v1
	APIKey  string `yaml:"api_key"`
}

// RecordsConfig defines the record-system backend connection.
type RecordsConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`   // Embedding model name (e.g., nomic-embed-text)
	BaseURL string `yaml:"baseurl"` // Ollama URL (defaults to models.ollama_url)
}

// AgentConfig defines agent loop behavior.
type AgentConfig struct {
	// MaxIterations caps model invocations per turn (default 50).
	MaxIterations int `yaml:"max_iterations"`
	// RetrievalTopK is the chunk count for grounded answering (default 10).
	RetrievalTopK int `yaml:"retrieval_top_k"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Models: ModelsConfig{
			Default:   "qwen3:4b",
			Provider:  "ollama",
			OllamaURL: "http://localhost:11434",
		},
		Embeddings: EmbeddingsConfig{
			Model: "nomic-embed-text",
		},
		Agent: AgentConfig{
			MaxIterations: 50,
			RetrievalTopK: 10,
		},
		DataDir: ".",
	}
}
