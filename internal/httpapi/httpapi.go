// Package httpapi serves health, telemetry and punctuation over plain HTTP
// next to the gRPC service.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/adapterinfo"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/api/sttv1"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/telemetry"
)

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 64 << 10

// Punctuator serves punctuation requests; *server.Server implements it.
type Punctuator interface {
	Punctuate(ctx context.Context, req *sttv1.PunctuateRequest) (*sttv1.PunctuateResponse, error)
}

// Options wires the handlers.
type Options struct {
	Punctuator Punctuator
	Recorder   *telemetry.Recorder
	Backend    string
	Aligned    bool
	// Ready reports whether the gRPC service is serving; nil means always.
	Ready        func() bool
	MaxBodyBytes int64
	Logger       *slog.Logger
}

type handler struct {
	opts Options
	log  *slog.Logger
}

// NewRouter returns the HTTP routes.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	h := &handler{opts: opts, log: opts.Logger.With("component", "httpapi")}

	r := chi.NewRouter()
	r.Get("/healthz", h.health)
	r.Get("/v1/telemetry", h.telemetry)
	r.Post("/v1/punctuate", h.punctuate)
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	ready := h.opts.Ready == nil || h.opts.Ready()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ok":      ready,
		"adapter": adapterinfo.Info.Slug,
		"version": adapterinfo.Version(),
		"backend": h.opts.Backend,
		"aligned": h.opts.Aligned,
	})
}

func (h *handler) telemetry(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.opts.Recorder.Snapshot())
}

type punctuateResponse struct {
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	LatencyMS float64           `json:"latency_ms"`
}

func (h *handler) punctuate(w http.ResponseWriter, req *http.Request) {
	if h.opts.Punctuator == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "punctuation unavailable"})
		return
	}
	var in sttv1.PunctuateRequest
	if err := decodeJSONBody(req, h.opts.MaxBodyBytes, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	start := time.Now()
	out, err := h.opts.Punctuator.Punctuate(req.Context(), &in)
	if err != nil {
		code := http.StatusInternalServerError
		if status.Code(err) == codes.InvalidArgument {
			code = http.StatusBadRequest
		}
		h.log.Warn("punctuation request failed", "error", err)
		writeJSON(w, code, map[string]any{"error": status.Convert(err).Message()})
		return
	}
	writeJSON(w, http.StatusOK, punctuateResponse{
		Text:      out.GetText(),
		Metadata:  out.GetMetadata(),
		LatencyMS: roundMillis(time.Since(start)),
	})
}

func decodeJSONBody(req *http.Request, maxBytes int64, out any) error {
	defer req.Body.Close()
	data, err := io.ReadAll(io.LimitReader(req.Body, maxBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return fmt.Errorf("request body too large")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("invalid json: multiple JSON values")
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func roundMillis(d time.Duration) float64 {
	ms := float64(d.Microseconds()) / 1000.0
	return math.Round(ms*1000) / 1000
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
