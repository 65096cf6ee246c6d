// Package export renders the markdown bundle for a book: per-chapter
// narration files, the merged story, world-state views, and a JSON dump.
// It only ever reads the latest narration per chapter.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/taleteller/taleteller/internal/llm"
	"github.com/taleteller/taleteller/internal/store"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[\\/:*?"<>|]+`)
	whitespaceRuns      = regexp.MustCompile(`\s+`)
)

// Result records where the bundle landed and which mode produced it.
type Result struct {
	OutputDir       string
	Mode            string
	ChaptersDir     string
	BookSummaryPath string
	CharactersPath  string
	TimelinePath    string
	StoryPath       string
	FullStoryPath   string
	WorldStatePath  string
	ChapterCount    int
}

// Exporter writes markdown bundles under outputDir/<book_hash>/.
type Exporter struct {
	store     *store.Store
	outputDir string
	logger    *slog.Logger
}

func New(st *store.Store, outputDir string, logger *slog.Logger) *Exporter {
	return &Exporter{
		store:     st,
		outputDir: outputDir,
		logger:    logger.With("component", "export"),
	}
}

// Export renders the bundle for one book. With narrations present the
// storyteller bundle is written; otherwise the legacy summary tables are
// used. Mode "storyteller" or "legacy" forces one path.
func (e *Exporter) Export(ctx context.Context, bookID int64, mode string) (*Result, error) {
	sess := e.store.Session()
	book, err := sess.GetBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("loading book: %w", err)
	}
	if book == nil {
		return nil, fmt.Errorf("book %d not found", bookID)
	}

	outputDir := filepath.Join(e.outputDir, book.BookHash)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	narrations, err := sess.LatestNarrationsByBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("listing narrations: %w", err)
	}

	useStoryteller := len(narrations) > 0
	switch mode {
	case "storyteller":
		useStoryteller = true
	case "legacy":
		useStoryteller = false
	}

	if useStoryteller {
		return e.exportStoryteller(ctx, sess, book, outputDir, narrations)
	}
	return e.exportLegacy(ctx, sess, book, outputDir)
}

func (e *Exporter) exportStoryteller(ctx context.Context, sess *store.Session, book *store.Book,
	outputDir string, narrations []store.Narration) (*Result, error) {
	chapters, err := sess.ListChapters(ctx, book.ID)
	if err != nil {
		return nil, fmt.Errorf("listing chapters: %w", err)
	}
	titles := make(map[int64]string, len(chapters))
	for _, ch := range chapters {
		titles[ch.ID] = ch.Title
	}

	chaptersDir := filepath.Join(outputDir, "chapters")
	if err := os.MkdirAll(chaptersDir, 0755); err != nil {
		return nil, fmt.Errorf("creating chapters directory: %w", err)
	}

	var merged []string
	for _, n := range narrations {
		title := titles[n.ChapterID]
		if title == "" {
			title = fmt.Sprintf("第%d章", n.ChapterIdx)
		}
		content := renderChapterNarration(n.ChapterIdx, title, n.NarrationText)
		name := fmt.Sprintf("%03d_%s.md", n.ChapterIdx, SafeFilename(title))
		if err := writeFile(filepath.Join(chaptersDir, name), content); err != nil {
			return nil, err
		}
		merged = append(merged, content)
	}

	fullStory := "# 全书说书稿\n\n暂无说书稿数据。\n"
	if len(merged) > 0 {
		fullStory = strings.Join(merged, "\n\n")
	}
	fullStoryPath := filepath.Join(outputDir, "full_story.md")
	if err := writeFile(fullStoryPath, fullStory); err != nil {
		return nil, err
	}
	storyPath := filepath.Join(outputDir, "story.md")
	storyText := ""
	if len(merged) > 0 {
		storyText = fullStory
	}
	if err := writeFile(storyPath, renderStory(storyText)); err != nil {
		return nil, err
	}

	characters, err := sess.ListCharacters(ctx, book.ID)
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}
	items, err := sess.ListItems(ctx, book.ID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	events, err := sess.ListPlotEvents(ctx, book.ID)
	if err != nil {
		return nil, fmt.Errorf("listing plot events: %w", err)
	}
	facts, err := sess.ListWorldFacts(ctx, book.ID)
	if err != nil {
		return nil, fmt.Errorf("listing world facts: %w", err)
	}

	charactersPath := filepath.Join(outputDir, "characters.md")
	if err := writeFile(charactersPath, renderCharacters(characterRows(characters))); err != nil {
		return nil, err
	}
	timelinePath := filepath.Join(outputDir, "timeline.md")
	if err := writeFile(timelinePath, renderTimeline(eventRows(events))); err != nil {
		return nil, err
	}
	bookSummaryPath := filepath.Join(outputDir, "book_summary.md")
	summary := fmt.Sprintf("共导出 %d 章说书稿。", len(narrations))
	if err := writeFile(bookSummaryPath, renderBookSummary(book.Title, summary)); err != nil {
		return nil, err
	}

	worldStatePath := filepath.Join(outputDir, "world_state.json")
	worldState, err := json.MarshalIndent(map[string]any{
		"book_id":     book.ID,
		"book_title":  book.Title,
		"narrations":  narrations,
		"characters":  characters,
		"items":       items,
		"plot_events": events,
		"world_facts": facts,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding world state: %w", err)
	}
	if err := writeFile(worldStatePath, string(worldState)); err != nil {
		return nil, err
	}

	e.logger.Info("storyteller bundle exported",
		"book_id", book.ID, "chapters", len(narrations), "output_dir", outputDir)
	return &Result{
		OutputDir:       outputDir,
		Mode:            "storyteller",
		ChaptersDir:     chaptersDir,
		BookSummaryPath: bookSummaryPath,
		CharactersPath:  charactersPath,
		TimelinePath:    timelinePath,
		StoryPath:       storyPath,
		FullStoryPath:   fullStoryPath,
		WorldStatePath:  worldStatePath,
		ChapterCount:    len(narrations),
	}, nil
}

func (e *Exporter) exportLegacy(ctx context.Context, sess *store.Session, book *store.Book, outputDir string) (*Result, error) {
	summaryRow, err := sess.LatestBookSummary(ctx, book.ID, "book_summary")
	if err != nil {
		return nil, fmt.Errorf("loading book summary: %w", err)
	}
	if summaryRow == nil {
		return nil, fmt.Errorf("no storyteller narrations or legacy book summary found; run storytell or summarize first")
	}

	summaryText := legacyField(summaryRow.Content, "summary")

	var characters []map[string]any
	if row, err := sess.LatestBookSummary(ctx, book.ID, "characters"); err != nil {
		return nil, err
	} else if row != nil {
		var obj struct {
			Characters []map[string]any `json:"characters"`
		}
		if llm.ParseLoose(row.Content, &obj) == nil {
			characters = obj.Characters
		}
	}

	var events []map[string]any
	if row, err := sess.LatestBookSummary(ctx, book.ID, "timeline"); err != nil {
		return nil, err
	} else if row != nil {
		var obj struct {
			Events []map[string]any `json:"events"`
		}
		if llm.ParseLoose(row.Content, &obj) == nil {
			events = obj.Events
		}
	}

	storyText := ""
	if row, err := sess.LatestBookSummary(ctx, book.ID, "story"); err != nil {
		return nil, err
	} else if row != nil {
		storyText = legacyField(row.Content, "story")
	}

	bookSummaryPath := filepath.Join(outputDir, "book_summary.md")
	charactersPath := filepath.Join(outputDir, "characters.md")
	timelinePath := filepath.Join(outputDir, "timeline.md")
	storyPath := filepath.Join(outputDir, "story.md")

	if err := writeFile(bookSummaryPath, renderBookSummary(book.Title, summaryText)); err != nil {
		return nil, err
	}
	if err := writeFile(charactersPath, renderCharacters(characters)); err != nil {
		return nil, err
	}
	if err := writeFile(timelinePath, renderTimeline(events)); err != nil {
		return nil, err
	}
	if err := writeFile(storyPath, renderStory(storyText)); err != nil {
		return nil, err
	}

	e.logger.Info("legacy bundle exported", "book_id", book.ID, "output_dir", outputDir)
	return &Result{
		OutputDir:       outputDir,
		Mode:            "legacy",
		BookSummaryPath: bookSummaryPath,
		CharactersPath:  charactersPath,
		TimelinePath:    timelinePath,
		StoryPath:       storyPath,
	}, nil
}

// legacyField pulls one string field out of a loosely JSON summary row,
// falling back to the raw content.
func legacyField(content, field string) string {
	var obj map[string]any
	if err := llm.ParseLoose(content, &obj); err == nil {
		if v, ok := obj[field].(string); ok && v != "" {
			return v
		}
	}
	return content
}

// SafeFilename replaces path-hostile characters with underscores and
// collapses whitespace runs.
func SafeFilename(text string) string {
	sanitized := unsafeFilenameChars.ReplaceAllString(text, "_")
	sanitized = strings.TrimSpace(sanitized)
	sanitized = whitespaceRuns.ReplaceAllString(sanitized, "_")
	if sanitized == "" {
		return "untitled"
	}
	return sanitized
}

func renderChapterNarration(chapterIdx int, title, narration string) string {
	return fmt.Sprintf("# 第%d章 %s\n\n%s\n", chapterIdx, title, narration)
}

func renderBookSummary(bookTitle, summary string) string {
	if bookTitle == "" {
		bookTitle = "(未命名)"
	}
	return fmt.Sprintf("# %s\n\n%s\n", bookTitle, summary)
}

func renderStory(story string) string {
	if story == "" {
		return "# 说书稿\n\n暂无说书稿数据。\n"
	}
	return fmt.Sprintf("# 说书稿\n\n%s\n", story)
}

func renderCharacters(characters []map[string]any) string {
	if len(characters) == 0 {
		return "# 人物表\n\n暂无人物数据。\n"
	}
	lines := []string{
		"# 人物表",
		"",
		"| 姓名 | 别名 | 关系 | 动机/目标 | 变化 |",
		"| --- | --- | --- | --- | --- |",
	}
	for _, c := range characters {
		name := firstString(c, "name", "canonical_name")
		aliases := strings.Join(coerceList(firstValue(c, "aliases", "aliases_json")), ", ")
		relations := firstString(c, "relationships", "relationships_json")
		motivation := firstString(c, "motivation")
		changes := firstString(c, "changes", "status")
		lines = append(lines, fmt.Sprintf("| %s | %s | %s | %s | %s |", name, aliases, relations, motivation, changes))
	}
	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func renderTimeline(events []map[string]any) string {
	if len(events) == 0 {
		return "# 时间线\n\n暂无事件数据。\n"
	}
	lines := []string{"# 时间线", ""}
	for i, ev := range events {
		prefix := fmt.Sprintf("%d. ", i+1)
		if idx, ok := numberValue(ev["chapter_idx"]); ok {
			prefix += fmt.Sprintf("[第%d章] ", idx)
		}
		line := prefix + firstString(ev, "event", "event_summary")
		if impact := firstString(ev, "impact"); impact != "" {
			line += fmt.Sprintf("（影响：%s）", impact)
		}
		lines = append(lines, line)
	}
	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func characterRows(characters []store.Character) []map[string]any {
	rows := make([]map[string]any, 0, len(characters))
	for _, c := range characters {
		rows = append(rows, map[string]any{
			"canonical_name":     c.CanonicalName,
			"aliases_json":       c.AliasesJSON,
			"relationships_json": c.RelationshipsJSON,
			"motivation":         c.Motivation,
			"status":             c.Status,
		})
	}
	return rows
}

func eventRows(events []store.PlotEvent) []map[string]any {
	rows := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		rows = append(rows, map[string]any{
			"chapter_idx":   ev.ChapterIdx,
			"event_summary": ev.EventSummary,
			"impact":        ev.Impact,
		})
	}
	return rows
}

func firstString(row map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := row[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstValue(row map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := row[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// coerceList accepts a string list, a JSON-encoded list, or a
// comma-separated string.
func coerceList(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s := fmt.Sprint(item); strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		var decoded []string
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded
		}
		var out []string
		for _, part := range strings.Split(trimmed, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

func numberValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
