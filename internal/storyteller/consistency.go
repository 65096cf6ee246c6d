package storyteller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taleteller/taleteller/internal/store"
)

const maxKeyEvents = 20

// normalizeAlias is the alias-index key: trimmed, lowered, spaces removed.
// CJK names have no case but mixed transliterations do.
func normalizeAlias(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "")
}

// aliasIndex maps every known alias key to its canonical character name.
func aliasIndex(characters []store.Character) map[string]string {
	index := make(map[string]string)
	for _, c := range characters {
		index[normalizeAlias(c.CanonicalName)] = c.CanonicalName
		for _, alias := range parseAliases(c.AliasesJSON) {
			index[normalizeAlias(alias)] = c.CanonicalName
		}
	}
	return index
}

func parseAliases(aliasesJSON string) []string {
	if aliasesJSON == "" {
		return nil
	}
	var aliases []string
	if err := json.Unmarshal([]byte(aliasesJSON), &aliases); err != nil {
		return nil
	}
	return aliases
}

// runConsistencyCheck deduplicates key events against the recent window,
// normalizes character names through the alias index, and drops claims that
// carry no information. Pure: no store writes, no LLM.
func (g *Graph) runConsistencyCheck(_ context.Context, st *State) error {
	index := aliasIndex(st.CharacterStates)

	recent := make(map[string]bool, len(st.RecentEvents))
	for _, ev := range st.RecentEvents {
		recent[strings.TrimSpace(ev.EventSummary)] = true
	}

	var kept []KeyEvent
	seen := make(map[string]bool)
	for _, ev := range st.KeyEvents {
		what := strings.TrimSpace(ev.What)
		if what == "" {
			st.ConsistencyWarnings = append(st.ConsistencyWarnings, "Dropped empty key_event")
			continue
		}
		if seen[what] || recent[what] {
			st.ConsistencyWarnings = append(st.ConsistencyWarnings,
				fmt.Sprintf("Dropped duplicated key_event: %s", what))
			continue
		}
		seen[what] = true
		ev.What = what
		kept = append(kept, ev)
	}
	if len(kept) > maxKeyEvents {
		kept = kept[:maxKeyEvents]
		st.ConsistencyWarnings = append(st.ConsistencyWarnings,
			fmt.Sprintf("Too many key_events; truncated to %d", maxKeyEvents))
	}
	st.KeyEvents = kept

	var updates []CharacterUpdate
	for _, upd := range st.CharacterUpdates {
		name := strings.TrimSpace(upd.Name)
		if name == "" {
			st.ConsistencyWarnings = append(st.ConsistencyWarnings, "Dropped character_update without name")
			continue
		}
		upd.NameRaw = name
		if canonical, ok := index[normalizeAlias(name)]; ok && canonical != name {
			st.ConsistencyActions = append(st.ConsistencyActions,
				fmt.Sprintf("Normalized character alias '%s' -> '%s'", name, canonical))
			upd.Name = canonical
		} else {
			upd.Name = name
		}
		if strings.TrimSpace(upd.ChangeType) == "" {
			upd.ChangeType = "status"
		}
		if upd.Before != "" && upd.Before == upd.After {
			st.ConsistencyWarnings = append(st.ConsistencyWarnings,
				fmt.Sprintf("Dropped no-op character_update for '%s' (%s)", upd.Name, upd.ChangeType))
			continue
		}
		updates = append(updates, upd)
	}
	st.CharacterUpdates = updates
	return nil
}
