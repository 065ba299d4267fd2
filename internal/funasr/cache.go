package funasr

import (
	"io"
	"sync"
)

// Cache is the streaming decoder state threaded through consecutive recognition
// calls of a single stream. Its contents belong to the streaming model.
type Cache struct {
	mu    sync.Mutex
	state any
}

// NewCache returns an empty cache for a new stream.
func NewCache() *Cache {
	return &Cache{}
}

// State returns the backend-owned state, or nil for a fresh cache.
func (c *Cache) State() any {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState replaces the backend-owned state.
func (c *Cache) SetState(state any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// Empty reports whether no backend state has been stored yet.
func (c *Cache) Empty() bool {
	return c.State() == nil
}

// Close discards the state, closing it first when it holds resources.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	state := c.state
	c.state = nil
	c.mu.Unlock()

	if closer, ok := state.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// ChunkConfig mirrors the streaming window parameters of the recognizer.
type ChunkConfig struct {
	// ChunkSize is [lookahead-left, chunk, lookahead-right] in 60 ms frames.
	ChunkSize       [3]int
	EncoderLookBack int
	DecoderLookBack int
}

// DefaultChunkConfig is the 600 ms window used by paraformer-zh-streaming.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkSize:       [3]int{0, 10, 5},
		EncoderLookBack: 4,
		DecoderLookBack: 1,
	}
}

// StrideSamples is the number of samples fed to the model per call.
func (c ChunkConfig) StrideSamples(sampleRate int) int {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return c.ChunkSize[1] * 960 * sampleRate / DefaultSampleRate
}

// DefaultSampleRate is the sample rate every bundled model expects.
const DefaultSampleRate = 16000
