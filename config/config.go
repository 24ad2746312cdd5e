package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	ProjectDir string `json:"project_dir"`
	DataDir    string `json:"data_dir"`

	LLMProvider    string `json:"llm_provider"`
	ChatModel      string `json:"chat_model"`
	BackendURL     string `json:"backend_url"`
	MaxTokens      int    `json:"max_tokens"`
	DeepSeekAPIKey string `json:"deepseek_api_key"`
	OpenAIAPIKey   string `json:"openai_api_key"`

	EmbeddingBaseURL string `json:"embedding_base_url"`
	EmbeddingModel   string `json:"embedding_model"`
	EmbeddingAPIKey  string `json:"embedding_api_key"`

	// Number of prior chat messages rendered into the prompt.
	HistoryWindow int `json:"history_window"`
	RetrievalTopK int `json:"retrieval_top_k"`

	OnlineTools bool `json:"online_tools"`
	Debug       bool `json:"debug"`

	// Optional YAML override for ticker aliases, stopwords and banned phrases.
	HeuristicsPath string `json:"heuristics_path"`

	EinoDebugEnabled bool `json:"eino_debug_enabled"`
	EinoDebugPort    int  `json:"eino_debug_port"`

	LongportAppKey      string `json:"longport_app_key"`
	LongportAppSecret   string `json:"longport_app_secret"`
	LongportAccessToken string `json:"longport_access_token"`
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	cfg := DefaultConfigWithRoot(currentDir)

	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overlays .env and process environment values onto c. Secrets are
// expected to come from here rather than from config.json.
func (c *Config) ApplyEnv() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	c.loadFromEnv()
}

// DefaultConfigWithRoot returns the built-in defaults with all directories under root.
func DefaultConfigWithRoot(root string) *Config {
	return &Config{
		ProjectDir: root,
		DataDir:    filepath.Join(root, "data"),

		LLMProvider: "deepseek",
		ChatModel:   "deepseek-chat",
		BackendURL:  "https://api.deepseek.com/v1",
		MaxTokens:   4096,

		EmbeddingBaseURL: "https://api.openai.com/v1",
		EmbeddingModel:   "text-embedding-3-small",

		HistoryWindow: 6,
		RetrievalTopK: 3,

		OnlineTools: true,
		Debug:       false,

		EinoDebugEnabled: false,
		EinoDebugPort:    52538,
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("PROJECT_DIR"); val != "" {
		c.ProjectDir = val
	}
	if val := os.Getenv("DATA_DIR"); val != "" {
		c.DataDir = val
	}

	if val := os.Getenv("LLM_PROVIDER"); val != "" {
		c.LLMProvider = val
	}
	if val := os.Getenv("CORTEX_CHAT_MODEL"); val != "" {
		c.ChatModel = val
	}
	if val := os.Getenv("BACKEND_URL"); val != "" {
		c.BackendURL = val
	}
	if val := os.Getenv("CORTEX_MAX_TOKENS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.MaxTokens = v
		}
	}
	if val := os.Getenv("DEEPSEEK_API_KEY"); val != "" {
		c.DeepSeekAPIKey = val
	}
	if val := os.Getenv("OPENAI_API_KEY"); val != "" {
		c.OpenAIAPIKey = val
	}

	if val := os.Getenv("CORTEX_EMBEDDING_BASE_URL"); val != "" {
		c.EmbeddingBaseURL = val
	}
	if val := os.Getenv("CORTEX_EMBEDDING_MODEL"); val != "" {
		c.EmbeddingModel = val
	}
	if val := os.Getenv("CORTEX_EMBEDDING_API_KEY"); val != "" {
		c.EmbeddingAPIKey = val
	}

	if val := os.Getenv("CORTEX_HISTORY_WINDOW"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.HistoryWindow = v
		}
	}
	if val := os.Getenv("CORTEX_RETRIEVAL_TOP_K"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.RetrievalTopK = v
		}
	}
	if val := os.Getenv("ONLINE_TOOLS"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.OnlineTools = enabled
		}
	}
	if val := os.Getenv("CORTEX_DEBUG"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Debug = enabled
		}
	}
	if val := os.Getenv("CORTEX_HEURISTICS_PATH"); val != "" {
		c.HeuristicsPath = val
	}

	if val := os.Getenv("EINO_DEBUG_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.EinoDebugEnabled = enabled
		}
	}
	if val := os.Getenv("EINO_DEBUG_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.EinoDebugPort = port
		}
	}

	if val := os.Getenv("LONGPORT_APP_KEY"); val != "" {
		c.LongportAppKey = val
	}
	if val := os.Getenv("LONGPORT_APP_SECRET"); val != "" {
		c.LongportAppSecret = val
	}
	if val := os.Getenv("LONGPORT_ACCESS_TOKEN"); val != "" {
		c.LongportAccessToken = val
	}
}

// Validate reports the first structural problem with c.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidConfig)
	}
	switch c.LLMProvider {
	case "deepseek", "openai":
	default:
		return fmt.Errorf("%w: unsupported llm_provider %q", ErrInvalidConfig, c.LLMProvider)
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("%w: history_window must not be negative", ErrInvalidConfig)
	}
	if c.RetrievalTopK < 0 {
		return fmt.Errorf("%w: retrieval_top_k must not be negative", ErrInvalidConfig)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("%w: max_tokens must not be negative", ErrInvalidConfig)
	}
	return nil
}

// LLMAPIKey returns the credential matching the configured provider.
func (c *Config) LLMAPIKey() string {
	if c.LLMProvider == "openai" {
		return c.OpenAIAPIKey
	}
	return c.DeepSeekAPIKey
}

// DBPath is where the SQLite database lives.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "advisor.db")
}

// HasLongport reports whether all Longport credentials are present.
func (c *Config) HasLongport() bool {
	return c.LongportAppKey != "" && c.LongportAppSecret != "" && c.LongportAccessToken != ""
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.DataDir}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}
