package models

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/funasr"
)

//go:embed embedded_manifest.yaml
var embeddedManifest []byte

// ErrUnknownModel is returned when a spec is absent from the manifest.
var ErrUnknownModel = errors.New("models: unknown model")

// Manifest lists the downloadable artefacts of every supported model.
type Manifest struct {
	Models []Model `yaml:"models"`
}

// Model describes one pretrained model and its files.
type Model struct {
	Name        string `yaml:"name"`
	Revision    string `yaml:"revision"`
	DisplayName string `yaml:"display_name,omitempty"`
	Files       []File `yaml:"files"`
}

// File is a single artefact of a model.
type File struct {
	Role      string `yaml:"role"`
	Filename  string `yaml:"filename"`
	URL       string `yaml:"url,omitempty"`
	SHA256    string `yaml:"sha256,omitempty"`
	SizeBytes int64  `yaml:"size_bytes,omitempty"`
}

// Spec returns the model spec the entry is keyed by.
func (m Model) Spec() funasr.ModelSpec {
	return funasr.ModelSpec{Name: m.Name, Revision: m.Revision}
}

// DefaultManifest parses the manifest bundled with the binary.
func DefaultManifest() (Manifest, error) {
	return LoadManifest(bytes.NewReader(embeddedManifest))
}

// LoadManifest decodes a YAML manifest.
func LoadManifest(r io.Reader) (Manifest, error) {
	var manifest Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&manifest); err != nil {
		return Manifest{}, fmt.Errorf("models: decode manifest: %w", err)
	}
	for i, m := range manifest.Models {
		if m.Name == "" {
			return Manifest{}, fmt.Errorf("models: manifest entry %d has no name", i)
		}
		if len(m.Files) == 0 {
			return Manifest{}, fmt.Errorf("models: manifest entry %q has no files", m.Name)
		}
	}
	return manifest, nil
}

// Encode writes the manifest as YAML.
func (m Manifest) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("models: encode manifest: %w", err)
	}
	return enc.Close()
}

// Find returns the entry matching spec.
func (m Manifest) Find(spec funasr.ModelSpec) (Model, error) {
	for _, model := range m.Models {
		if model.Name == spec.Name && model.Revision == spec.Revision {
			return model, nil
		}
	}
	return Model{}, fmt.Errorf("%w: %s", ErrUnknownModel, spec)
}
