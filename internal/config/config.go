package config

import (
	"fmt"
	"strings"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/funasr"
)

const (
	// DefaultListenAddr is used when the adapter runner does not inject an explicit address.
	DefaultListenAddr       = "127.0.0.1:50051"
	DefaultBackend          = BackendSherpa
	DefaultLanguage         = "zh"
	DefaultLogLevel         = "info"
	DefaultDataDir          = "data"
	DefaultSampleRate       = funasr.DefaultSampleRate
	DefaultEncoderLookBack  = 4
	DefaultDecoderLookBack  = 1
	DefaultContextSentences = 1
	DefaultSilenceChunks    = 3
	DefaultThreads          = 1
	DefaultProvider         = "cpu"
)

// Backend names accepted in Config.Backend.
const (
	BackendSherpa  = "sherpa"
	BackendRuntime = "runtime"
	BackendStub    = "stub"
)

// DefaultChunkSize is the paraformer-zh-streaming 600 ms window.
var DefaultChunkSize = [3]int{0, 10, 5}

// Config captures bootstrap configuration extracted from a YAML file,
// environment variables or an injected JSON payload (`NUPI_MODULE_CONFIG`).
type Config struct {
	ListenAddr string
	// HTTPAddr enables the HTTP side API when non-empty.
	HTTPAddr string
	LogLevel string
	Language string

	Backend       string
	UseStubEngine bool
	DataDir       string
	// CacheDir overrides model cache discovery.
	CacheDir string
	// Offline disables model downloads.
	Offline bool
	// RuntimeURL is the FunASR runtime websocket endpoint for the runtime backend.
	RuntimeURL string
	Threads    int
	Provider   string

	SampleRate      int
	ChunkSize       [3]int
	EncoderLookBack int
	DecoderLookBack int

	ContextSentences    int
	SentenceTerminators string
	SilenceChunks       int
}

// Validate applies defaults, checks required fields, and rejects out-of-range
// values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}

	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	switch c.Backend {
	case BackendSherpa, BackendStub:
	case BackendRuntime:
		if c.RuntimeURL == "" {
			return fmt.Errorf("config: runtime_url is required for the %s backend", BackendRuntime)
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}

	if c.Threads == 0 {
		c.Threads = DefaultThreads
	}
	if c.Threads < 0 {
		return fmt.Errorf("config: threads must be >= 0, got %d", c.Threads)
	}

	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.SampleRate < 8000 {
		return fmt.Errorf("config: sample_rate must be >= 8000, got %d", c.SampleRate)
	}
	if c.ChunkSize == [3]int{} {
		c.ChunkSize = DefaultChunkSize
	}
	for _, v := range c.ChunkSize {
		if v < 0 {
			return fmt.Errorf("config: chunk_size values must be >= 0, got %v", c.ChunkSize)
		}
	}
	if c.ChunkSize[1] == 0 {
		return fmt.Errorf("config: chunk_size[1] must be > 0, got %v", c.ChunkSize)
	}
	if c.EncoderLookBack < 0 || c.DecoderLookBack < 0 {
		return fmt.Errorf("config: look-back values must be >= 0")
	}

	if c.ContextSentences < 0 {
		return fmt.Errorf("config: context_sentences must be >= 0, got %d", c.ContextSentences)
	}
	if c.SentenceTerminators == "" {
		c.SentenceTerminators = funasr.DefaultTerminators
	}
	if c.SilenceChunks < 0 {
		return fmt.Errorf("config: silence_chunks must be >= 0, got %d", c.SilenceChunks)
	}
	return nil
}

// StrideSamples is the number of samples the recognizer consumes per call.
func (c Config) StrideSamples() int {
	return c.ChunkSize[1] * 960 * c.SampleRate / DefaultSampleRate
}
