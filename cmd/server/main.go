package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcp-ai/rag-server/internal/chunker"
	"github.com/mcp-ai/rag-server/internal/config"
	"github.com/mcp-ai/rag-server/internal/core"
	"github.com/mcp-ai/rag-server/internal/store"
	"github.com/mcp-ai/rag-server/internal/utils"
	"github.com/mcp-ai/rag-server/internal/vectorstore"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "rag-server",
	Short:         "Document question answering over PDF, DOCX and HTML files",
	Long:          `Upload documents, index them into a local vector store and ask questions answered from their content.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (default ./config.yaml if present)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds every wired component. Callers must Close it.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *store.SQLiteStore
	index     *vectorstore.Index
	llm       *core.LLMService
	chat      *core.ChatService
	documents *core.DocumentService
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logger := utils.InitLogger(cfg.LogLevel, os.Stderr)

	a := &app{cfg: cfg, logger: logger}

	a.registry, err = store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a.llm, err = core.NewLLMService(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.index, err = vectorstore.Open(cfg.VectorDir, a.llm,
		vectorstore.WithBatchSize(cfg.EmbedBatchSize),
		vectorstore.WithConcurrency(cfg.EmbedConcurrency),
		vectorstore.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open vector index: %w", err)
	}

	splitter := chunker.New(chunker.WithChunkSize(cfg.ChunkSize), chunker.WithOverlap(cfg.ChunkOverlap))
	a.documents = core.NewDocumentService(a.registry, a.index, splitter, logger)
	a.chat = core.NewChatService(
		a.registry,
		core.NewQueryRewriter(a.llm, cfg.HistoryTurns),
		core.NewRetriever(a.index, cfg.TopK, cfg.MinSimilarity),
		core.NewAnswerSynthesizer(a.llm, cfg.StrictContext),
		cfg,
		logger,
	)

	logger.Debug("components initialized",
		"database", cfg.DatabaseURL,
		"vector_dir", cfg.VectorDir,
		"chunks", a.index.Count(),
		"default_model", cfg.DefaultModel,
	)
	return a, nil
}

func (a *app) Close() {
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.logger.Warn("failed to close vector index", "error", err)
		}
	}
	if a.llm != nil {
		a.llm.Close()
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}
}
