package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/taleteller/taleteller/internal/config"
	"github.com/taleteller/taleteller/internal/store"
	"github.com/taleteller/taleteller/internal/vectorstore"
)

// Query is one hybrid retrieval request. KeywordTerms are usually the
// entity names extracted from the chapter being narrated.
type Query struct {
	Text              string
	TopK              int
	CurrentChapterIdx int
	KeywordTerms      []string
}

// Hit is a fused retrieval result. SourceType is "chunk" or "narration".
type Hit struct {
	SourceType     string
	SourceID       int64
	ChapterIdx     int
	ChapterTitle   string
	Text           string
	Score          float64
	VectorScore    float64
	KeywordScore   float64
	ProximityScore float64
}

// Searcher fuses dense, keyword, and proximity evidence over chunks and
// prior narrations. All hits respect the causal filter: only chapters
// strictly before the one being narrated are eligible.
type Searcher struct {
	store    *store.Store
	vectors  *vectorstore.Store
	embedder Embedder
	cfg      config.RetrievalCfg
	logger   *slog.Logger
}

func NewSearcher(st *store.Store, vectors *vectorstore.Store, embedder Embedder, cfg config.RetrievalCfg, logger *slog.Logger) *Searcher {
	return &Searcher{store: st, vectors: vectors, embedder: embedder, cfg: cfg, logger: logger.With("component", "retrieval")}
}

type fusedHit struct {
	Hit
	hasVector  bool
	hasKeyword bool
}

// Retrieve runs one hybrid query against a book.
func (s *Searcher) Retrieve(ctx context.Context, bookID int64, q Query) ([]Hit, error) {
	if q.TopK <= 0 {
		return nil, nil
	}

	candidates := make(map[string]*fusedHit)

	queryVec, err := s.embedQuery(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	if queryVec != nil {
		if err := s.collectVector(ctx, bookID, vectorstore.KindChunks, "chunk", queryVec, 3*q.TopK, q.CurrentChapterIdx, candidates); err != nil {
			return nil, err
		}
		if err := s.collectVector(ctx, bookID, vectorstore.KindNarrations, "narration", queryVec, 2*q.TopK, q.CurrentChapterIdx, candidates); err != nil {
			return nil, err
		}
	}

	if match := BuildFTSQuery(ExtractKeywordTerms(q.KeywordTerms, s.cfg.MaxKeywordTerms)); match != "" {
		sess := s.store.Session()
		chunkHits, err := sess.SearchChunksFTS(ctx, bookID, match, q.CurrentChapterIdx, 3*q.TopK)
		if err != nil {
			return nil, fmt.Errorf("chunk keyword search: %w", err)
		}
		s.collectKeyword("chunk", chunkHits, candidates)

		narrationHits, err := sess.SearchNarrationsFTS(ctx, bookID, match, q.CurrentChapterIdx, 2*q.TopK)
		if err != nil {
			return nil, fmt.Errorf("narration keyword search: %w", err)
		}
		s.collectKeyword("narration", narrationHits, candidates)
	}

	return s.fuse(candidates, q.CurrentChapterIdx, q.TopK), nil
}

// fuse applies the causal filter, combines component scores, and returns
// the top results.
func (s *Searcher) fuse(candidates map[string]*fusedHit, currentIdx, topK int) []Hit {
	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		if c.ChapterIdx >= currentIdx {
			continue
		}
		c.ProximityScore = ProximityScore(currentIdx, c.ChapterIdx)
		c.Score = s.cfg.Alpha*c.VectorScore + (1-s.cfg.Alpha)*c.KeywordScore + s.cfg.Beta*c.ProximityScore
		c.Text = truncateRunes(c.Text, s.cfg.SnippetMaxChars)
		hits = append(hits, c.Hit)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].SourceType != hits[j].SourceType {
			return hits[i].SourceType < hits[j].SourceType
		}
		return hits[i].SourceID < hits[j].SourceID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// RetrieveBatch runs queries concurrently against a shared store handle,
// preserving per-query causal filters and input order.
func (s *Searcher) RetrieveBatch(ctx context.Context, bookID int64, queries []Query) ([][]Hit, error) {
	results := make([][]Hit, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, q := range queries {
		g.Go(func() error {
			hits, err := s.Retrieve(gctx, bookID, q)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Searcher) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return vecs[0], nil
}

func (s *Searcher) collectVector(ctx context.Context, bookID int64, kind vectorstore.Kind, sourceType string, queryVec []float32, k, currentIdx int, candidates map[string]*fusedHit) error {
	raw, err := s.vectors.Query(ctx, kind, bookID, queryVec, k)
	if err != nil {
		return fmt.Errorf("%s vector search: %w", sourceType, err)
	}
	size := len(raw)
	for rank, h := range raw {
		if h.ChapterIdx >= currentIdx {
			continue
		}
		score := NormRank(rank+1, size)
		c := ensureCandidate(candidates, sourceType, h.ID, h.ChapterIdx, h.ChapterTitle, h.Text)
		if !c.hasVector || score > c.VectorScore {
			c.VectorScore = score
			c.hasVector = true
		}
	}
	return nil
}

func (s *Searcher) collectKeyword(sourceType string, raw []store.FTSHit, candidates map[string]*fusedHit) {
	size := len(raw)
	for rank, h := range raw {
		score := NormRank(rank+1, size)
		c := ensureCandidate(candidates, sourceType, h.SourceID, h.ChapterIdx, h.ChapterTitle, h.Text)
		if !c.hasKeyword || score > c.KeywordScore {
			c.KeywordScore = score
			c.hasKeyword = true
		}
	}
}

func ensureCandidate(candidates map[string]*fusedHit, sourceType string, id int64, chapterIdx int, title, text string) *fusedHit {
	key := fmt.Sprintf("%s:%d", sourceType, id)
	c, ok := candidates[key]
	if !ok {
		c = &fusedHit{Hit: Hit{
			SourceType:   sourceType,
			SourceID:     id,
			ChapterIdx:   chapterIdx,
			ChapterTitle: title,
			Text:         text,
		}}
		candidates[key] = c
	}
	return c
}

// ExtractKeywordTerms deduplicates entity names in order and caps the list.
func ExtractKeywordTerms(entityNames []string, maxTerms int) []string {
	if maxTerms <= 0 {
		maxTerms = 8
	}
	seen := make(map[string]bool)
	var terms []string
	for _, name := range entityNames {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		terms = append(terms, name)
		if len(terms) >= maxTerms {
			break
		}
	}
	return terms
}

// BuildFTSQuery quotes terms and joins them with OR for FTS5 MATCH.
func BuildFTSQuery(terms []string) string {
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// NormRank converts a 1-based rank within a result list of the given size
// to a [~0, 1] score.
func NormRank(rank, size int) float64 {
	if size <= 0 || rank <= 0 {
		return 0
	}
	return 1 - float64(rank-1)/float64(size)
}

// ProximityScore rewards sources close before the current chapter.
func ProximityScore(currentIdx, sourceIdx int) float64 {
	if sourceIdx >= currentIdx {
		return 0
	}
	return 1 / (1 + float64(currentIdx-sourceIdx))
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
