// Package summarize implements the map-reduce summary pipeline that predates
// the storyteller graph. It condenses each chapter into a structured summary,
// reduces those into book-level artifacts (summary, characters, timeline, and
// an optional continuous story draft), and stores everything in the summaries
// table keyed by content-derived input hashes so reruns skip finished work.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/taleteller/taleteller/internal/config"
	"github.com/taleteller/taleteller/internal/hashing"
	"github.com/taleteller/taleteller/internal/llm"
	"github.com/taleteller/taleteller/internal/store"
)

// ChatClient is the slice of the LLM client the summarize pipeline needs.
type ChatClient interface {
	ModelIdentifier() string
	CompleteJSON(ctx context.Context, req llm.Request, out any) (llm.Result, error)
}

// Service runs the legacy summarize pipeline against one book.
type Service struct {
	store  *store.Store
	cfg    *config.Config
	client ChatClient
	logger *slog.Logger
}

// ServiceDeps collects the service's constructor inputs.
type ServiceDeps struct {
	Store  *store.Store
	Config *config.Config
	Client ChatClient
	Logger *slog.Logger
}

// NewService wires a summarize service.
func NewService(deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  deps.Store,
		cfg:    deps.Config,
		client: deps.Client,
		logger: logger.With("component", "summarize"),
	}
}

// Stats reports what one Summarize run produced versus reused.
type Stats struct {
	BookID          int64
	ChaptersTotal   int
	ChaptersNew     int
	ChaptersSkipped int
	BookSummaryNew  int
	CharactersNew   int
	TimelineNew     int
	StoryNew        int
	LLMCalls        int
	CacheHits       int
}

// Summarize produces chapter summaries and book-level artifacts for a book.
// Chapter rows are keyed by the chapter's content hash; book rows are keyed
// by a hash over the chapter summaries that fed them, so editing one chapter
// invalidates exactly that chapter plus the book reduce.
func (s *Service) Summarize(ctx context.Context, bookID int64) (Stats, error) {
	stats := Stats{BookID: bookID}
	if s.client == nil {
		return stats, fmt.Errorf("summarize requires an LLM client; configure the summarize route and its API key")
	}

	temp := 0.3
	if _, endpoint, _, err := s.cfg.LLM.ResolveChatRoute("summarize"); err == nil {
		temp = endpoint.Temperature
	}

	sess := s.store.Session()
	chapters, err := sess.ListChapters(ctx, bookID)
	if err != nil {
		return stats, fmt.Errorf("listing chapters: %w", err)
	}
	stats.ChaptersTotal = len(chapters)

	var bookSource []map[string]any
	for i := range chapters {
		ch := &chapters[i]
		if strings.TrimSpace(ch.Text) == "" {
			s.logger.Warn("skipping empty chapter", "chapter_idx", ch.Idx)
			continue
		}

		summaryObj, fresh, err := s.summarizeChapter(ctx, sess, bookID, ch, temp, &stats)
		if err != nil {
			return stats, fmt.Errorf("chapter %d: %w", ch.Idx, err)
		}
		if fresh {
			stats.ChaptersNew++
		} else {
			stats.ChaptersSkipped++
		}

		view := make(map[string]any, len(summaryObj)+2)
		for k, v := range summaryObj {
			view[k] = v
		}
		view["chapter_idx"] = ch.Idx
		view["chapter_title"] = ch.Title
		bookSource = append(bookSource, view)
	}

	if len(bookSource) == 0 {
		s.logger.Warn("no chapter summaries produced; skipping book summary", "book_id", bookID)
		return stats, nil
	}

	maxChars := s.cfg.Summarize.MaxBookInputChars
	if maxChars <= 0 {
		maxChars = 60000
	}
	if utf8.RuneCountInString(jsonCompact(bookSource)) > maxChars {
		s.logger.Info("book input too large; reducing chapter summaries before final summary",
			"book_id", bookID, "chapters", len(bookSource))
		bookSource, err = s.reduceChapterSummaries(ctx, bookSource, maxChars, temp, &stats)
		if err != nil {
			return stats, fmt.Errorf("reducing chapter summaries: %w", err)
		}
	}

	if err := s.summarizeBook(ctx, sess, bookID, bookSource, temp, &stats); err != nil {
		return stats, err
	}

	s.logger.Info("summarize complete",
		"book_id", bookID,
		"chapters_total", stats.ChaptersTotal,
		"chapters_new", stats.ChaptersNew,
		"book_summary_new", stats.BookSummaryNew,
		"story_new", stats.StoryNew,
		"llm_calls", stats.LLMCalls,
		"cache_hits", stats.CacheHits)
	return stats, nil
}

// summarizeChapter returns the chapter's summary object, generating and
// persisting it unless a row with the same identity already exists.
func (s *Service) summarizeChapter(ctx context.Context, sess *store.Session, bookID int64, ch *store.Chapter, temp float64, stats *Stats) (map[string]any, bool, error) {
	existing, err := sess.FindSummaryByInputHash(ctx, bookID, "chapter_summary", ch.ChapterHash)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		var obj map[string]any
		if err := llm.ParseLoose(existing.Content, &obj); err != nil {
			return nil, false, fmt.Errorf("stored chapter summary unreadable: %w", err)
		}
		return obj, false, nil
	}

	words := wordRange(s.cfg.Summarize.ChapterSummaryWords, [2]int{120, 300})
	system, user := chapterSummaryPrompts(s.cfg.Storyteller.Language, s.cfg.Storyteller.Style, words, ch.Text)
	req := llm.Request{
		System:    system,
		User:      user,
		InputHash: ch.ChapterHash,
		CacheKey: llm.MakeCacheKey("chapter", s.client.ModelIdentifier(),
			ChapterPromptVersion, ch.ChapterHash, formatTemperature(temp)),
	}
	var obj map[string]any
	res, err := s.client.CompleteJSON(ctx, req, &obj)
	if err != nil {
		return nil, false, err
	}
	s.countCall(res, stats)

	content, err := dumpJSON(obj)
	if err != nil {
		return nil, false, err
	}
	if _, err := sess.InsertSummary(ctx, store.Summary{
		BookID:        bookID,
		ChapterID:     &ch.ID,
		Scope:         "chapter",
		SummaryType:   "chapter_summary",
		Content:       content,
		Model:         s.client.ModelIdentifier(),
		PromptVersion: ChapterPromptVersion,
		InputHash:     ch.ChapterHash,
	}); err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

// summarizeBook generates the book_summary, characters, and timeline rows in
// one LLM call, plus the story row when story_words is configured. All four
// share the book input hash.
func (s *Service) summarizeBook(ctx context.Context, sess *store.Session, bookID int64, bookSource []map[string]any, temp float64, stats *Stats) error {
	sourceJSON := jsonCompact(bookSource)
	inputHash := hashing.SHA256Text(sourceJSON)
	model := s.client.ModelIdentifier()

	hasBook, err := sess.FindSummaryByInputHash(ctx, bookID, "book_summary", inputHash)
	if err != nil {
		return err
	}
	hasCharacters, err := sess.FindSummaryByInputHash(ctx, bookID, "characters", inputHash)
	if err != nil {
		return err
	}
	hasTimeline, err := sess.FindSummaryByInputHash(ctx, bookID, "timeline", inputHash)
	if err != nil {
		return err
	}
	storyEnabled := len(s.cfg.Summarize.StoryWords) == 2
	var hasStory *store.Summary
	if storyEnabled {
		if hasStory, err = sess.FindSummaryByInputHash(ctx, bookID, "story", inputHash); err != nil {
			return err
		}
	}

	if hasBook == nil || hasCharacters == nil || hasTimeline == nil {
		bookObj, err := s.bookReduceCall(ctx, sourceJSON, inputHash, temp, stats)
		if err != nil {
			return fmt.Errorf("book summary: %w", err)
		}

		rows := []struct {
			summaryType string
			payload     any
		}{
			{"book_summary", bookObj},
			{"characters", map[string]any{"characters": listField(bookObj, "characters")}},
			{"timeline", map[string]any{"events": listField(bookObj, "timeline")}},
		}
		for _, row := range rows {
			content, err := dumpJSON(row.payload)
			if err != nil {
				return err
			}
			if _, err := sess.InsertSummary(ctx, store.Summary{
				BookID:        bookID,
				Scope:         "book",
				SummaryType:   row.summaryType,
				Content:       content,
				Model:         model,
				PromptVersion: BookPromptVersion,
				InputHash:     inputHash,
			}); err != nil {
				return err
			}
		}
		stats.BookSummaryNew++
		stats.CharactersNew++
		stats.TimelineNew++
	}

	if storyEnabled && hasStory == nil {
		words := wordRange(s.cfg.Summarize.StoryWords, [2]int{3000, 8000})
		system, user := storySummaryPrompts(s.cfg.Storyteller.Language, s.cfg.Storyteller.Style, words, sourceJSON)
		req := llm.Request{
			System:    system,
			User:      user,
			InputHash: inputHash,
			CacheKey:  llm.MakeCacheKey("story", model, StoryPromptVersion, inputHash, formatTemperature(temp)),
		}
		var storyObj map[string]any
		res, err := s.client.CompleteJSON(ctx, req, &storyObj)
		if err != nil {
			return fmt.Errorf("story summary: %w", err)
		}
		s.countCall(res, stats)

		content, err := dumpJSON(storyObj)
		if err != nil {
			return err
		}
		if _, err := sess.InsertSummary(ctx, store.Summary{
			BookID:        bookID,
			Scope:         "book",
			SummaryType:   "story",
			Content:       content,
			Model:         model,
			PromptVersion: StoryPromptVersion,
			InputHash:     inputHash,
		}); err != nil {
			return err
		}
		stats.StoryNew++
	}
	return nil
}

// bookReduceCall is the shared book-level LLM call, used both for the final
// book summary and for partial reductions of oversized inputs.
func (s *Service) bookReduceCall(ctx context.Context, chapterSummariesJSON, inputHash string, temp float64, stats *Stats) (map[string]any, error) {
	words := wordRange(s.cfg.Summarize.BookSummaryWords, [2]int{800, 2000})
	system, user := bookSummaryPrompts(s.cfg.Storyteller.Language, s.cfg.Storyteller.Style, words, chapterSummariesJSON)
	req := llm.Request{
		System:    system,
		User:      user,
		InputHash: inputHash,
		CacheKey: llm.MakeCacheKey("book", s.client.ModelIdentifier(),
			BookPromptVersion, inputHash, formatTemperature(temp)),
	}
	var obj map[string]any
	res, err := s.client.CompleteJSON(ctx, req, &obj)
	if err != nil {
		return nil, err
	}
	s.countCall(res, stats)
	return obj, nil
}

// reduceChapterSummaries repeatedly groups chapter summaries and condenses
// each group with a book-level call until the payload fits maxChars.
func (s *Service) reduceChapterSummaries(ctx context.Context, views []map[string]any, maxChars int, temp float64, stats *Stats) ([]map[string]any, error) {
	current := views
	for {
		if utf8.RuneCountInString(jsonCompact(current)) <= maxChars || len(current) <= 1 {
			return current, nil
		}
		groups := chunkItemsBySize(current, maxChars)
		reduced := make([]map[string]any, 0, len(groups))
		for _, group := range groups {
			groupJSON := jsonCompact(group)
			partial, err := s.bookReduceCall(ctx, groupJSON, hashing.SHA256Text(groupJSON), temp, stats)
			if err != nil {
				return nil, err
			}
			first, last := group[0], group[len(group)-1]
			reduced = append(reduced, map[string]any{
				"summary":        stringField(partial, "summary"),
				"events":         listField(partial, "timeline"),
				"characters":     listField(partial, "characters"),
				"open_questions": []any{},
				"chapter_idx":    first["chapter_idx"],
				"chapter_title":  fmt.Sprintf("章节%v~%v汇总", first["chapter_idx"], last["chapter_idx"]),
			})
		}
		current = reduced
	}
}

// chunkItemsBySize greedily packs items into groups whose serialized size
// stays under maxChars. A single oversized item still gets its own group.
func chunkItemsBySize(items []map[string]any, maxChars int) [][]map[string]any {
	var groups [][]map[string]any
	var current []map[string]any
	size := 0
	for _, item := range items {
		itemSize := utf8.RuneCountInString(jsonCompact(item))
		if len(current) > 0 && size+itemSize > maxChars {
			groups = append(groups, current)
			current = nil
			size = 0
		}
		current = append(current, item)
		size += itemSize
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func (s *Service) countCall(res llm.Result, stats *Stats) {
	if res.CacheHit {
		stats.CacheHits++
	} else {
		stats.LLMCalls++
	}
}

func wordRange(pair []int, fallback [2]int) [2]int {
	if len(pair) == 2 && pair[0] > 0 && pair[1] > 0 {
		return [2]int{pair[0], pair[1]}
	}
	return fallback
}

func formatTemperature(t float64) string {
	return strconv.FormatFloat(t, 'g', -1, 64)
}

// dumpJSON renders stored summary content: two-space indent, HTML left
// unescaped so CJK punctuation survives round trips readably.
func dumpJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// jsonCompact is the canonical single-line form used for size estimates and
// input hashes. Map keys marshal sorted, so the hash is deterministic.
func jsonCompact(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func listField(m map[string]any, key string) any {
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return []any{}
}
