// Package controller owns the pipeline's shared resources (relational store,
// LLM cache, route clients, vector store) and exposes the operations the CLI
// commands invoke. Commands stay thin; all wiring lives here.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/taleteller/taleteller/internal/config"
	"github.com/taleteller/taleteller/internal/export"
	"github.com/taleteller/taleteller/internal/ingest"
	"github.com/taleteller/taleteller/internal/llm"
	"github.com/taleteller/taleteller/internal/retrieval"
	"github.com/taleteller/taleteller/internal/store"
	"github.com/taleteller/taleteller/internal/storyteller"
	"github.com/taleteller/taleteller/internal/summarize"
	"github.com/taleteller/taleteller/internal/vectorstore"
)

// chatRoutes are the routes the controller resolves up front. A route whose
// API key is missing is skipped with a warning; the stages that need it fall
// back to their no-LLM paths.
var chatRoutes = []string{"summarize", "storyteller_entity", "storyteller_narration", "storyteller_refine"}

// Controller wires services over one store, cache, and set of LLM clients.
type Controller struct {
	cfg    *config.Config
	logger *slog.Logger

	store   *store.Store
	cache   *llm.Cache
	clients map[string]*llm.Client

	vectors  *vectorstore.Store
	embedder *llm.Embedder
}

// New opens the data directory's stores and resolves the LLM routes.
func New(cfg *config.Config, logger *slog.Logger) (*Controller, error) {
	if err := os.MkdirAll(cfg.App.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.Open(cfg.SQLitePath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	var cache *llm.Cache
	if cfg.Cache.Enabled {
		cache, err = llm.OpenCache(filepath.Join(cfg.App.DataDir, "llm_cache.sqlite"), cfg.Cache.TTLSeconds)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("opening llm cache: %w", err)
		}
	}

	c := &Controller{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		cache:   cache,
		clients: make(map[string]*llm.Client),
	}
	for _, routeName := range chatRoutes {
		route, err := llm.ResolveRoute(cfg, routeName)
		if err != nil {
			if errors.Is(err, config.ErrMissingAPIKey) {
				logger.Warn("llm route unavailable; dependent stages fall back",
					"route", routeName, "error", err)
				continue
			}
			c.Close()
			return nil, fmt.Errorf("resolving route %q: %w", routeName, err)
		}
		c.clients[routeName] = llm.NewClient(route, cache, cfg.Storyteller.Observability, logger)
	}
	return c, nil
}

// Close releases every resource the controller opened.
func (c *Controller) Close() error {
	var errs []error
	if c.vectors != nil {
		errs = append(errs, c.vectors.Close())
	}
	if c.cache != nil {
		errs = append(errs, c.cache.Close())
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	return errors.Join(errs...)
}

// Store exposes the relational store for commands that only read.
func (c *Controller) Store() *store.Store { return c.store }

// Ingest loads one book file into the store.
func (c *Controller) Ingest(ctx context.Context, opts ingest.Options) (ingest.Stats, error) {
	return ingest.NewService(c.store, c.cfg, c.logger).IngestBook(ctx, opts)
}

// Summarize runs the legacy summary pipeline for a book.
func (c *Controller) Summarize(ctx context.Context, bookID int64) (summarize.Stats, error) {
	deps := summarize.ServiceDeps{Store: c.store, Config: c.cfg, Logger: c.logger}
	if client, ok := c.clients["summarize"]; ok {
		deps.Client = client
	}
	return summarize.NewService(deps).Summarize(ctx, bookID)
}

// Storytell runs chapter-mode narration for a book.
func (c *Controller) Storytell(ctx context.Context, opts storyteller.StorytellOptions) (*storyteller.StorytellStats, error) {
	svc, err := c.storytellerService(ctx, opts.BookID)
	if err != nil {
		return nil, err
	}
	return svc.Storytell(ctx, opts)
}

// StorytellSteps runs step-mode narration for a book.
func (c *Controller) StorytellSteps(ctx context.Context, opts storyteller.StepOptions) (*storyteller.StepStats, error) {
	svc, err := c.storytellerService(ctx, opts.BookID)
	if err != nil {
		return nil, err
	}
	return svc.StorytellSteps(ctx, opts)
}

// StepSize resolves the effective step size: the explicit flag when set,
// otherwise the configured default.
func (c *Controller) StepSize(flag int) int {
	if flag > 0 {
		return flag
	}
	return c.cfg.Storyteller.StepSize
}

// BuildAssets embeds missing chunks and narrations and rebuilds the FTS
// indexes. Unlike the implicit pre-build in Storytell, a missing embeddings
// API key is a hard error here.
func (c *Controller) BuildAssets(ctx context.Context, bookID int64, batchSize int) (retrieval.AssetStats, error) {
	if err := c.ensureVectors(); err != nil {
		return retrieval.AssetStats{}, err
	}
	builder := retrieval.NewAssetBuilder(c.store, c.vectors, c.embedder, c.logger)
	return builder.BuildBookAssets(ctx, bookID, batchSize)
}

// Export writes the markdown bundle for a book.
func (c *Controller) Export(ctx context.Context, bookID int64, mode string) (export.Result, error) {
	res, err := export.New(c.store, c.cfg.App.OutputDir, c.logger).Export(ctx, bookID, mode)
	if err != nil {
		return export.Result{}, err
	}
	return *res, nil
}

// storytellerService builds the narration service, with hybrid retrieval
// wired in when configuration and credentials allow it. Assets are refreshed
// first so retrieval sees the book's current chunks and narrations.
func (c *Controller) storytellerService(ctx context.Context, bookID int64) (*storyteller.Service, error) {
	deps := storyteller.ServiceDeps{
		Store:  c.store,
		Config: c.cfg,
		Logger: c.logger,
	}
	if client, ok := c.clients["storyteller_entity"]; ok {
		deps.EntityClient = client
	}
	if client, ok := c.clients["storyteller_narration"]; ok {
		deps.NarrationClient = client
	}
	if client, ok := c.clients["storyteller_refine"]; ok {
		deps.RefineClient = client
	}

	if storyteller.MemoryRetrievalEnabled(c.cfg) {
		err := c.ensureVectors()
		switch {
		case err == nil:
			if _, err := c.BuildAssets(ctx, bookID, 0); err != nil {
				return nil, fmt.Errorf("building retrieval assets: %w", err)
			}
			deps.Retriever = retrieval.NewSearcher(c.store, c.vectors, c.embedder, c.cfg.Retrieval, c.logger)
		case errors.Is(err, config.ErrMissingAPIKey):
			c.logger.Warn("memory retrieval disabled; embeddings route has no API key", "error", err)
		default:
			return nil, err
		}
	}
	return storyteller.NewService(deps), nil
}

func (c *Controller) ensureVectors() error {
	if c.vectors == nil {
		v, err := vectorstore.Open(c.cfg.VectorDir(), c.cfg.LLM.EmbeddingDim)
		if err != nil {
			return fmt.Errorf("opening vector store: %w", err)
		}
		c.vectors = v
	}
	if c.embedder == nil {
		e, err := llm.NewEmbedder(c.cfg, c.logger)
		if err != nil {
			return err
		}
		c.embedder = e
	}
	return nil
}
