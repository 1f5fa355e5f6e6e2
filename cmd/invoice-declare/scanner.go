package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/invoice-declare/internal/scanning"
)

type scannerFlags struct {
	kind        *string
	geminiKey   *string
	geminiModel *string
	ollamaURL   *string
	ollamaModel *string
}

func registerScannerFlags(fs *ff.FlagSet) *scannerFlags {
	return &scannerFlags{
		kind:        fs.StringLong("scanner", "none", "Fill empty notes by scanning the first page: 'none', 'gemini' or 'ollama'"),
		geminiKey:   fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel: fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name"),
		ollamaURL:   fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel: fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)"),
	}
}

// open returns the configured scanner, or nil when scanning is off.
func (f *scannerFlags) open() (scanning.Scanner, error) {
	switch *f.kind {
	case "", "none":
		return nil, nil
	case "gemini":
		apiKey := *f.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini scanner...", "model", *f.geminiModel)
		s, err := scanning.NewGemini(apiKey, *f.geminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return s, nil
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *f.ollamaURL, "model", *f.ollamaModel)
		return scanning.NewOllama(*f.ollamaURL, *f.ollamaModel)
	default:
		return nil, fmt.Errorf("invalid scanner type %q, expected none, gemini or ollama", *f.kind)
	}
}
