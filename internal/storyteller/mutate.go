package storyteller

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/taleteller/taleteller/internal/hashing"
	"github.com/taleteller/taleteller/internal/store"
)

const factExcerptMaxRunes = 300

// runStateUpdate applies the verified claims to the world-state tables:
// plot events and event facts from key events, character rows from mentions
// and updates, item rows and ownership facts from new items. Runs inside the
// caller's transaction, so an error rolls the whole chapter back.
func (g *Graph) runStateUpdate(ctx context.Context, st *State) error {
	index := aliasIndex(st.CharacterStates)

	for _, ev := range st.KeyEvents {
		involved := ""
		if ev.Who != "" {
			involved = jsonString([]string{ev.Who})
		}
		if _, err := g.sess.InsertPlotEvent(ctx, store.PlotEvent{
			BookID:                 g.bookID,
			ChapterIdx:             st.ChapterIdx,
			EventType:              "narration_draft",
			EventSummary:           ev.What,
			InvolvedCharactersJSON: involved,
			Impact:                 ev.Impact,
		}); err != nil {
			return fmt.Errorf("inserting plot event: %w", err)
		}
		st.Mutations.PlotEventsInserted++

		factKey := fmt.Sprintf("event:%d:%s", st.ChapterIdx, hashing.Short(hashing.SHA256Text(ev.What)))
		if err := g.sess.UpsertWorldFact(ctx, store.WorldFact{
			BookID:           g.bookID,
			FactKey:          factKey,
			FactValue:        ev.What,
			Confidence:       0.7,
			SourceChapterIdx: st.ChapterIdx,
			SourceExcerpt:    truncateRunes(ev.What, factExcerptMaxRunes),
		}); err != nil {
			return fmt.Errorf("upserting event fact: %w", err)
		}
		st.Mutations.WorldFactsUpserted++
	}

	for _, name := range st.EntitiesMentioned {
		if err := g.touchCharacter(ctx, st, index, name); err != nil {
			return err
		}
	}

	for _, upd := range st.CharacterUpdates {
		if err := g.applyCharacterUpdate(ctx, st, index, upd); err != nil {
			return err
		}
	}

	for _, it := range st.NewItems {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		owner := strings.TrimSpace(it.Owner)
		existing, err := g.sess.GetItem(ctx, g.bookID, name)
		if err != nil {
			return fmt.Errorf("loading item %q: %w", name, err)
		}
		firstIdx := st.ChapterIdx
		if existing != nil {
			firstIdx = existing.FirstChapterIdx
		}
		if err := g.sess.SaveItem(ctx, store.Item{
			BookID:          g.bookID,
			Name:            name,
			Description:     it.Description,
			Owner:           owner,
			Status:          "active",
			FirstChapterIdx: firstIdx,
			LastChapterIdx:  st.ChapterIdx,
		}); err != nil {
			return fmt.Errorf("saving item %q: %w", name, err)
		}
		st.Mutations.ItemsUpserted++

		// Ownerless items get no ownership fact.
		if owner == "" {
			continue
		}
		excerpt := it.Description
		if excerpt == "" {
			excerpt = owner
		}
		if err := g.sess.UpsertWorldFact(ctx, store.WorldFact{
			BookID:           g.bookID,
			FactKey:          fmt.Sprintf("item:%s:owner", name),
			FactValue:        owner,
			Confidence:       0.75,
			SourceChapterIdx: st.ChapterIdx,
			SourceExcerpt:    truncateRunes(excerpt, factExcerptMaxRunes),
		}); err != nil {
			return fmt.Errorf("upserting item fact: %w", err)
		}
		st.Mutations.WorldFactsUpserted++
	}
	return nil
}

// touchCharacter records a sighting of a mentioned entity: the canonical row
// gains the surface form as an alias and advances its last-seen chapter.
func (g *Graph) touchCharacter(ctx context.Context, st *State, index map[string]string, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	canonical := name
	if resolved, ok := index[normalizeAlias(name)]; ok {
		canonical = resolved
	}

	existing, err := g.sess.GetCharacter(ctx, g.bookID, canonical)
	if err != nil {
		return fmt.Errorf("loading character %q: %w", canonical, err)
	}

	char := store.Character{BookID: g.bookID, CanonicalName: canonical}
	var aliases []string
	if existing != nil {
		char = *existing
		aliases = parseAliases(existing.AliasesJSON)
	}
	if canonical != name {
		aliases = append(aliases, name)
	}
	char.AliasesJSON = marshalAliases(aliases, canonical)
	if existing == nil || existing.FirstChapterIdx == 0 {
		char.FirstChapterIdx = st.ChapterIdx
	}
	char.LastChapterIdx = st.ChapterIdx

	if err := g.sess.SaveCharacter(ctx, char); err != nil {
		return fmt.Errorf("saving character %q: %w", canonical, err)
	}
	index[normalizeAlias(name)] = canonical
	st.Mutations.CharactersUpserted++
	return nil
}

// applyCharacterUpdate writes one verified character change plus its world
// facts. The raw model-emitted name becomes an alias of the canonical row.
func (g *Graph) applyCharacterUpdate(ctx context.Context, st *State, index map[string]string, upd CharacterUpdate) error {
	canonical := upd.Name
	if resolved, ok := index[normalizeAlias(upd.Name)]; ok {
		canonical = resolved
	}

	existing, err := g.sess.GetCharacter(ctx, g.bookID, canonical)
	if err != nil {
		return fmt.Errorf("loading character %q: %w", canonical, err)
	}

	char := store.Character{BookID: g.bookID, CanonicalName: canonical}
	var aliases []string
	if existing != nil {
		char = *existing
		aliases = parseAliases(existing.AliasesJSON)
	}
	if raw := strings.TrimSpace(upd.NameRaw); raw != "" && raw != canonical {
		aliases = append(aliases, raw)
	}
	char.AliasesJSON = marshalAliases(aliases, canonical)

	switch upd.ChangeType {
	case "status":
		char.Status = upd.After
	case "location":
		char.Location = upd.After
	}
	if existing == nil || existing.FirstChapterIdx == 0 {
		char.FirstChapterIdx = st.ChapterIdx
	}
	char.LastChapterIdx = st.ChapterIdx

	if err := g.sess.SaveCharacter(ctx, char); err != nil {
		return fmt.Errorf("saving character %q: %w", canonical, err)
	}
	index[normalizeAlias(upd.Name)] = canonical
	st.Mutations.CharactersUpserted++

	excerpt := truncateRunes(upd.Evidence, factExcerptMaxRunes)
	if err := g.sess.UpsertWorldFact(ctx, store.WorldFact{
		BookID:           g.bookID,
		FactKey:          fmt.Sprintf("character:%s:status", canonical),
		FactValue:        char.Status,
		Confidence:       0.85,
		SourceChapterIdx: st.ChapterIdx,
		SourceExcerpt:    excerpt,
	}); err != nil {
		return fmt.Errorf("upserting status fact: %w", err)
	}
	st.Mutations.WorldFactsUpserted++

	if char.Location != "" {
		if err := g.sess.UpsertWorldFact(ctx, store.WorldFact{
			BookID:           g.bookID,
			FactKey:          fmt.Sprintf("character:%s:location", canonical),
			FactValue:        char.Location,
			Confidence:       0.8,
			SourceChapterIdx: st.ChapterIdx,
			SourceExcerpt:    excerpt,
		}); err != nil {
			return fmt.Errorf("upserting location fact: %w", err)
		}
		st.Mutations.WorldFactsUpserted++
	}
	return nil
}

// marshalAliases dedups, drops the canonical name itself, sorts, and encodes
// the alias set.
func marshalAliases(aliases []string, canonical string) string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range aliases {
		a = strings.TrimSpace(a)
		if a == "" || a == canonical || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	sort.Strings(out)
	encoded, err := json.Marshal(out)
	if err != nil || out == nil {
		return "[]"
	}
	return string(encoded)
}

// runMemoryCommit marks the chapter's outputs as eligible for the retrieval
// index. The embedding itself happens in the asset build, which scans for
// narrations missing vectors.
func (g *Graph) runMemoryCommit(_ context.Context, st *State) error {
	st.MemoryCommitted = true
	g.logger.Debug("memory committed", "chapter_idx", st.ChapterIdx,
		"plot_events", st.Mutations.PlotEventsInserted,
		"characters", st.Mutations.CharactersUpserted,
		"world_facts", st.Mutations.WorldFactsUpserted)
	return nil
}
