package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/models"
)

var logOutput io.Writer = os.Stderr

func main() {
	var (
		name   = flag.String("model", "all", "model name from internal/models/embedded_manifest.yaml, or \"all\"")
		output = flag.String("dir", "testdata", "cache directory where models/<name>/<revision>/ will be stored")
	)
	flag.Parse()

	if strings.TrimSpace(*output) == "" {
		fmt.Fprintln(os.Stderr, "download_model: --dir must not be empty")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	baseDir := filepath.Clean(*output)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	manager, err := models.NewManager(baseDir, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "download_model: init manager: %v\n", err)
		os.Exit(1)
	}
	if _, err := manager.CleanStaleLocks(models.DefaultLockMaxAge); err != nil {
		fmt.Fprintf(os.Stderr, "download_model: clean locks: %v\n", err)
	}

	manifest, err := models.DefaultManifest()
	if err != nil {
		fmt.Fprintf(os.Stderr, "download_model: load manifest: %v\n", err)
		os.Exit(1)
	}

	matched := 0
	for _, model := range manifest.Models {
		if *name != "all" && model.Name != *name {
			continue
		}
		matched++
		paths, err := manager.Ensure(ctx, model, models.EnsureOptions{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "download_model: ensure %s: %v\n", model.Spec(), err)
			os.Exit(1)
		}
		fmt.Printf("Model %s ready at %s (%d files)\n", model.Spec(), manager.ModelDir(model.Spec()), len(paths))
	}
	if matched == 0 {
		fmt.Fprintf(os.Stderr, "download_model: unknown model %q\n", *name)
		os.Exit(2)
	}
}
