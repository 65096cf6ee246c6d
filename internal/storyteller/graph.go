package storyteller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/taleteller/taleteller/internal/config"
	"github.com/taleteller/taleteller/internal/llm"
	"github.com/taleteller/taleteller/internal/retrieval"
	"github.com/taleteller/taleteller/internal/store"
)

// ChatClient is the slice of the LLM client the graph needs. A nil client
// switches the node to its deterministic fallback.
type ChatClient interface {
	ModelIdentifier() string
	CompleteJSON(ctx context.Context, req llm.Request, out any) (llm.Result, error)
	CompleteStructured(ctx context.Context, req llm.Request, schema *llm.Schema, out any) (llm.Result, error)
}

// Retriever is the slice of hybrid retrieval used by memory_retrieve.
type Retriever interface {
	Retrieve(ctx context.Context, bookID int64, q retrieval.Query) ([]retrieval.Hit, error)
}

// Node is one step of the chapter DAG: a name and a function over the
// shared state.
type Node struct {
	Name string
	Run  func(ctx context.Context, st *State) error
}

// Graph executes the fixed node sequence for one chapter. All world-state
// writes go through the session it was built with, so the caller controls
// transaction boundaries.
type Graph struct {
	sess   *store.Session
	cfg    *config.Config
	bookID int64

	retriever       Retriever
	entityClient    ChatClient
	narrationClient ChatClient
	refineClient    ChatClient

	logger *slog.Logger
	nodes  []Node
}

// GraphDeps wires a Graph. Any client (and the retriever) may be nil.
type GraphDeps struct {
	Session         *store.Session
	Config          *config.Config
	BookID          int64
	Retriever       Retriever
	EntityClient    ChatClient
	NarrationClient ChatClient
	RefineClient    ChatClient
	Logger          *slog.Logger
}

// NewGraph builds the chapter DAG. Edges are fixed; there is no dynamic
// dispatch.
func NewGraph(deps GraphDeps) *Graph {
	g := &Graph{
		sess:            deps.Session,
		cfg:             deps.Config,
		bookID:          deps.BookID,
		retriever:       deps.Retriever,
		entityClient:    deps.EntityClient,
		narrationClient: deps.NarrationClient,
		refineClient:    deps.RefineClient,
		logger:          deps.Logger.With("component", "storyteller_graph", "book_id", deps.BookID),
	}
	g.nodes = []Node{
		{Name: "entity_extract", Run: g.runEntityExtract},
		{Name: "state_lookup", Run: g.runStateLookup},
		{Name: "memory_retrieve", Run: g.runMemoryRetrieve},
		{Name: "storyteller_generate", Run: g.runGenerate},
		{Name: "consistency_check", Run: g.runConsistencyCheck},
		{Name: "evidence_verify", Run: g.runEvidenceVerify},
		{Name: "refine_narration", Run: g.runRefineNarration},
		{Name: "state_update", Run: g.runStateUpdate},
		{Name: "memory_commit", Run: g.runMemoryCommit},
	}
	return g
}

// Invoke runs every node in order. The first node error aborts the chapter.
func (g *Graph) Invoke(ctx context.Context, st *State) error {
	for _, node := range g.nodes {
		g.logger.Debug("running node", "node", node.Name, "chapter_idx", st.ChapterIdx)
		if err := node.Run(ctx, st); err != nil {
			return fmt.Errorf("node %s (chapter %d): %w", node.Name, st.ChapterIdx, err)
		}
	}
	return nil
}

func jsonString(v any) string {
	out, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(out)
}
