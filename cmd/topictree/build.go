package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/dgallion1/topictree/internal/chunker"
	"github.com/dgallion1/topictree/internal/config"
	"github.com/dgallion1/topictree/internal/engine"
	"github.com/dgallion1/topictree/internal/parser"
	"github.com/dgallion1/topictree/internal/stack"
	"github.com/dgallion1/topictree/internal/topictree"
	"github.com/spf13/cobra"
)

var (
	buildLevel     string
	buildUnits     bool
	buildTriples   bool
	buildOut       string
	buildEmbedURL  string
	buildTitlesURL string
	buildCache     string
)

var buildCmd = &cobra.Command{
	Use:   "build FILE",
	Short: "Build a topic tree from a document and print it as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := topictree.ParseLevel(buildLevel)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if buildEmbedURL != "" {
			cfg.EmbedURL = buildEmbedURL
		}
		if buildTitlesURL != "" {
			cfg.TitlesURL = buildTitlesURL
		}
		if buildCache != "" {
			cfg.EmbedCachePath = buildCache
		}

		paragraphs, err := readParagraphs(args[0], cfg)
		if err != nil {
			return err
		}
		slog.Info("paragraphs extracted", "file", args[0], "count", len(paragraphs))

		st, err := stack.Build(cfg, nil, nil, slog.Default())
		if err != nil {
			return err
		}
		defer st.Close()
		if buildTriples && !st.TriplesEnabled {
			return fmt.Errorf("--triples needs ANTHROPIC_API_KEY")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		tree, err := st.Engine.Run(ctx, paragraphs, engine.Options{
			Level:               level,
			CreateLearningUnits: buildUnits,
			CreateTriples:       buildTriples,
		})
		if err != nil {
			return err
		}
		return writeTree(cmd.OutOrStdout(), buildOut, tree)
	},
}

var paragraphsCmd = &cobra.Command{
	Use:   "paragraphs FILE",
	Short: "Print the paragraphs a document would be clustered from",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		paragraphs, err := readParagraphs(args[0], cfg)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, p := range paragraphs {
			fmt.Fprintf(out, "[%d] %s\n\n", i, p)
		}
		return nil
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildLevel, "level", "course", "Root level of the tree")
	buildCmd.Flags().BoolVar(&buildUnits, "units", true, "Split learning objectives into learning units")
	buildCmd.Flags().BoolVar(&buildTriples, "triples", false, "Extract triples under learning units")
	buildCmd.Flags().StringVarP(&buildOut, "out", "o", "", "Write JSON to this file instead of stdout")
	buildCmd.Flags().StringVar(&buildEmbedURL, "embed-url", "", "Embedding service URL (overrides EMBED_URL)")
	buildCmd.Flags().StringVar(&buildTitlesURL, "titles-url", "", "Title service URL (overrides TITLES_URL)")
	buildCmd.Flags().StringVar(&buildCache, "cache", "", "SQLite embedding cache path (overrides EMBED_CACHE_PATH)")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(paragraphsCmd)
}

// loadConfig reads the environment and applies --config.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if tuningPath != "" {
		t, err := config.LoadTuning(tuningPath)
		if err != nil {
			return cfg, err
		}
		cfg.Tuning = t
	}
	return cfg, cfg.Tuning.Validate()
}

func readParagraphs(path string, cfg config.Config) ([]string, error) {
	p, err := parser.ForFile(path)
	if err != nil {
		return nil, err
	}
	if pp, ok := p.(*parser.PDFParser); ok {
		pp.FallbackPdftotext = cfg.PDFFallbackPdftotext
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := p.Parse(f, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return chunker.Paragraphs(doc, chunker.Config{
		MaxTokens: cfg.ParagraphMaxTokens,
		MinTokens: cfg.ParagraphMinTokens,
	}), nil
}

func writeTree(stdout io.Writer, path string, tree *topictree.Tree) error {
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	slog.Info("tree written", "path", path, "nodes", tree.Count())
	return nil
}
