// Package config provides configuration management for the voice proxy server.
// It loads the YAML configuration file, applies defaults, overlays secrets from the
// environment and exposes typed settings for every hosted service the proxy talks to.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider names accepted by the per-service provider fields.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderOllama = "ollama"
)

const (
	DefaultPort              = 8317
	DefaultAzureAPIVersion   = "2023-05-15"
	DefaultAssistantName     = "Sasha"
	DefaultAssistantModel    = "gpt-4"
	DefaultMemoryTopK        = 20
	DefaultEmbeddingModel    = "text-embedding-ada-002"
	DefaultOllamaEmbedModel  = "nomic-embed-text"
	DefaultOllamaURL         = "http://localhost:11434"
	DefaultMemoryWriteSecs   = 30
	DefaultSpeechModel       = "tts-1-hd"
	DefaultSpeechVoice       = "nova"
	DefaultSpeechSpeed       = 1.0
	DefaultSpeechMaxChars    = 4000
	DefaultSpeechConcurrency = 1
	DefaultTranscribeModel   = "whisper-1"
	DefaultTranscribeTemp    = 0.2
)

// DefaultTranscriptionPrompt biases the transcriber towards a bilingual learner.
const DefaultTranscriptionPrompt = "This is a transcript of an English speaker trying to learn Russian. It may have " +
	"ошипки, but only in the русский part. The user may switch between English and " +
	"Russian."

// DefaultTranscriptionExamples returns the built-in bias examples. A fresh slice is returned
// on every call.
func DefaultTranscriptionExamples() []string {
	return []string{
		"Привет! Как ты сегодня делаешь? Я хочу идти в кино сегодня вечером. Ты свободен?",
		"What does 'занимание' mean?",
		"I'm trying to figure out how to say uhm 'the more you fight it, the " +
			"worse it'll feel.' What's the right... the right phrase I'm looking for? Like " +
			"uhm 'Если ты...Если ты будешь больше сопротивляться, то будет больнее' but I " +
			"know there's a better way of saying that.",
		"Привет! Как ты сегодня делаешь? Я хочу идти в кино сегодня вечером. Ты свободен?",
	}
}

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network interface to bind. Empty binds all interfaces.
	Host string `yaml:"host" json:"host"`

	// Port is the network port on which the API server will listen.
	Port int `yaml:"port" json:"port"`

	// Debug enables gin debug mode and debug level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile routes logs into a rotating file under LogDir.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir is the directory for rotated log files. Defaults to "logs".
	LogDir string `yaml:"log-dir,omitempty" json:"log-dir,omitempty"`

	// LogLevel is one of debug, info, warn, error, quiet.
	LogLevel string `yaml:"log-level,omitempty" json:"log-level,omitempty"`

	// Metrics exposes /metrics when true.
	Metrics bool `yaml:"metrics" json:"metrics"`

	// OpenAI holds credentials for api.openai.com (or a compatible base URL).
	OpenAI OpenAIConfig `yaml:"openai" json:"openai"`

	// Azure holds credentials for an Azure OpenAI resource.
	Azure AzureConfig `yaml:"azure" json:"azure"`

	// Chat configures the hosted chat-completion service.
	Chat ChatConfig `yaml:"chat" json:"chat"`

	// Assistant configures the persona used by the chat endpoint.
	Assistant AssistantConfig `yaml:"assistant" json:"assistant"`

	// Memory configures the in-process memory store.
	Memory MemoryConfig `yaml:"memory" json:"memory"`

	// Speech configures text-to-speech synthesis.
	Speech SpeechConfig `yaml:"speech" json:"speech"`

	// Transcription configures speech-to-text.
	Transcription TranscriptionConfig `yaml:"transcription" json:"transcription"`

	// Streaming configures server-side streaming behavior.
	Streaming StreamingConfig `yaml:"streaming" json:"streaming"`

	// ModelMappings overrides the Azure deployment name for a model.
	ModelMappings map[string]string `yaml:"model-mappings,omitempty" json:"model-mappings,omitempty"`

	// RequestTimeoutSeconds bounds each hosted call. 0 disables the timeout.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds,omitempty" json:"request-timeout-seconds,omitempty"`
}

// OpenAIConfig holds api.openai.com settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api-key" json:"-"`
	BaseURL string `yaml:"base-url,omitempty" json:"base-url,omitempty"`
	OrgID   string `yaml:"organization,omitempty" json:"organization,omitempty"`
}

// AzureConfig holds Azure OpenAI settings.
type AzureConfig struct {
	APIKey     string `yaml:"api-key" json:"-"`
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	APIVersion string `yaml:"api-version,omitempty" json:"api-version,omitempty"`
}

// ChatConfig selects the chat provider.
type ChatConfig struct {
	Provider string `yaml:"provider" json:"provider"`
}

// AssistantConfig holds identity, instructions and default model.
type AssistantConfig struct {
	Name         string   `yaml:"name" json:"name"`
	Instructions []string `yaml:"instructions" json:"instructions"`
	Model        string   `yaml:"model" json:"model"`
	MemoryTopK   int      `yaml:"memory-top-k,omitempty" json:"memory-top-k,omitempty"`
}

// MemoryConfig holds embedding settings for the memory store.
type MemoryConfig struct {
	// EmbeddingProvider is openai, azure or ollama.
	EmbeddingProvider   string `yaml:"embedding-provider" json:"embedding-provider"`
	EmbeddingModel      string `yaml:"embedding-model" json:"embedding-model"`
	OllamaURL           string `yaml:"ollama-url,omitempty" json:"ollama-url,omitempty"`
	WriteTimeoutSeconds int    `yaml:"write-timeout-seconds,omitempty" json:"write-timeout-seconds,omitempty"`
}

// SpeechConfig holds text-to-speech settings.
type SpeechConfig struct {
	Provider    string  `yaml:"provider" json:"provider"`
	Model       string  `yaml:"model" json:"model"`
	Voice       string  `yaml:"voice" json:"voice"`
	Speed       float64 `yaml:"speed" json:"speed"`
	MaxChars    int     `yaml:"max-chars" json:"max-chars"`
	Concurrency int     `yaml:"concurrency" json:"concurrency"`
}

// TranscriptionConfig holds speech-to-text settings.
type TranscriptionConfig struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`

	// Temperature is a pointer so an explicit 0 survives ApplyDefaults.
	Temperature *float32 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	Prompt      *string  `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Examples    []string `yaml:"examples,omitempty" json:"examples,omitempty"`

	// Normalize re-encodes uploaded wav/mp3 before sending them upstream.
	Normalize bool `yaml:"normalize" json:"normalize"`
}

// StreamingConfig holds server streaming behavior configuration.
type StreamingConfig struct {
	// KeepAliveSeconds controls how often the server emits SSE heartbeats (": keep-alive\n\n").
	// <= 0 disables keep-alives.
	KeepAliveSeconds int `yaml:"keepalive-seconds,omitempty" json:"keepalive-seconds,omitempty"`
}

// LoadConfig reads and parses the YAML file at path. A missing file is an error.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigOptional(path, false)
}

// LoadConfigOptional reads the YAML file at path. When optional is true a missing file
// yields a default configuration; a file that exists but does not parse is always an error.
// Defaults and environment overrides are applied in both cases.
func LoadConfigOptional(path string, optional bool) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !optional || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = nil
	}

	if len(strings.TrimSpace(string(data))) > 0 {
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", errUnmarshal)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.ApplyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays secrets from the environment. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if c == nil || lookup == nil {
		return
	}
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	set(&c.Azure.APIKey, "AZURE_OPENAI_API_KEY")
	set(&c.Azure.Endpoint, "AZURE_OPENAI_ENDPOINT")
	set(&c.Azure.APIVersion, "OPENAI_API_VERSION")
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if strings.TrimSpace(c.LogDir) == "" {
		c.LogDir = "logs"
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
		if c.Debug {
			c.LogLevel = "debug"
		}
	}
	if c.Azure.APIVersion == "" {
		c.Azure.APIVersion = DefaultAzureAPIVersion
	}

	// Chat defaults to Azure to match the deployment-name remapping; everything else to OpenAI.
	c.Chat.Provider = normalizeProvider(c.Chat.Provider, ProviderAzure)
	c.Speech.Provider = normalizeProvider(c.Speech.Provider, ProviderOpenAI)
	c.Transcription.Provider = normalizeProvider(c.Transcription.Provider, ProviderOpenAI)
	c.Memory.EmbeddingProvider = normalizeProvider(c.Memory.EmbeddingProvider, ProviderOpenAI)

	if strings.TrimSpace(c.Assistant.Name) == "" {
		c.Assistant.Name = DefaultAssistantName
	}
	if strings.TrimSpace(c.Assistant.Model) == "" {
		c.Assistant.Model = DefaultAssistantModel
	}
	if c.Assistant.MemoryTopK <= 0 {
		c.Assistant.MemoryTopK = DefaultMemoryTopK
	}

	if c.Memory.EmbeddingModel == "" {
		if c.Memory.EmbeddingProvider == ProviderOllama {
			c.Memory.EmbeddingModel = DefaultOllamaEmbedModel
		} else {
			c.Memory.EmbeddingModel = DefaultEmbeddingModel
		}
	}
	if c.Memory.OllamaURL == "" {
		c.Memory.OllamaURL = DefaultOllamaURL
	}
	if c.Memory.WriteTimeoutSeconds <= 0 {
		c.Memory.WriteTimeoutSeconds = DefaultMemoryWriteSecs
	}

	if c.Speech.Model == "" {
		c.Speech.Model = DefaultSpeechModel
	}
	if c.Speech.Voice == "" {
		c.Speech.Voice = DefaultSpeechVoice
	}
	if c.Speech.Speed <= 0 {
		c.Speech.Speed = DefaultSpeechSpeed
	}
	if c.Speech.MaxChars <= 0 {
		c.Speech.MaxChars = DefaultSpeechMaxChars
	}
	if c.Speech.Concurrency <= 0 {
		c.Speech.Concurrency = DefaultSpeechConcurrency
	}

	if c.Transcription.Model == "" {
		c.Transcription.Model = DefaultTranscribeModel
	}
	if c.Transcription.Temperature == nil {
		t := float32(DefaultTranscribeTemp)
		c.Transcription.Temperature = &t
	}
	if c.Transcription.Prompt == nil {
		p := DefaultTranscriptionPrompt
		c.Transcription.Prompt = &p
	}
	if c.Transcription.Examples == nil {
		c.Transcription.Examples = DefaultTranscriptionExamples()
	}
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	for name, p := range map[string]string{
		"chat.provider":             c.Chat.Provider,
		"speech.provider":           c.Speech.Provider,
		"transcription.provider":    c.Transcription.Provider,
		"memory.embedding-provider": c.Memory.EmbeddingProvider,
	} {
		switch p {
		case ProviderOpenAI, ProviderAzure:
		case ProviderOllama:
			if name != "memory.embedding-provider" {
				return fmt.Errorf("config: %s does not support %q", name, p)
			}
		default:
			return fmt.Errorf("config: unknown %s %q", name, p)
		}
	}
	if t := c.Transcription.Temperature; t != nil && (math.IsNaN(float64(*t)) || *t < 0 || *t > 1) {
		return fmt.Errorf("config: transcription.temperature %v out of range [0,1]", *t)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func normalizeProvider(p, fallback string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return fallback
	}
	return p
}
