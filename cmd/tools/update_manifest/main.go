package main

import (
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/models"
)

func main() {
	manifestPath := flag.String("manifest", "internal/models/embedded_manifest.yaml", "Path to manifest YAML to update")
	flag.Parse()

	file, err := os.Open(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open manifest: %v\n", err)
		os.Exit(1)
	}
	manifest, err := models.LoadManifest(file)
	file.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse manifest: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 10 * time.Minute}

	for i := range manifest.Models {
		model := &manifest.Models[i]
		for j := range model.Files {
			f := &model.Files[j]
			name := model.Spec().String() + "/" + f.Filename
			if f.URL == "" {
				fmt.Printf("%s: skipping (no URL)\n", name)
				continue
			}

			fmt.Printf("%s: downloading %s...\n", name, f.URL)
			resp, err := client.Get(f.URL)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: download error: %v\n", name, err)
				continue
			}
			if resp.StatusCode != http.StatusOK {
				fmt.Fprintf(os.Stderr, "%s: unexpected status %s\n", name, resp.Status)
				resp.Body.Close()
				continue
			}

			hasher := sha256.New()
			written, err := io.Copy(hasher, resp.Body)
			resp.Body.Close()
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: read error: %v\n", name, err)
				continue
			}

			f.SHA256 = hex.EncodeToString(hasher.Sum(nil))
			f.SizeBytes = written
			fmt.Printf("%s: size=%d sha256=%s\n", name, written, f.SHA256)
		}
	}

	out, err := os.Create(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "write manifest: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()

	if err := manifest.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode manifest: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Updated manifest written to %s\n", *manifestPath)
}
