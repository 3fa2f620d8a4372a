package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/local/splitmerge/internal/assembly"
	"github.com/local/splitmerge/internal/plan"
)

// parseEntries turns "id[:pages]" and "/" arguments into a working set.
func parseEntries(args []string) (*assembly.WorkingSet, error) {
	var entries []assembly.Entry
	lastSep := true
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "/" || arg == "|" {
			if lastSep {
				return nil, fmt.Errorf("separator %q must follow a document", arg)
			}
			entries = append(entries, assembly.Separator())
			lastSep = true
			continue
		}
		id, spec, _ := strings.Cut(arg, ":")
		if id == "" {
			return nil, fmt.Errorf("missing document id in %q", arg)
		}
		pages, err := plan.ParsePagesStrict(spec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
		entries = append(entries, assembly.Doc(id, pages...))
		lastSep = false
	}
	if len(entries) == 0 {
		return nil, errors.New("no documents given")
	}
	if lastSep {
		return nil, errors.New("trailing separator")
	}
	return assembly.New(entries...), nil
}

// applySplits cuts entries in two: "i=pages" moves pages of entry i into a
// new output document right after it. Indexes count every argument,
// separators included, before any split is applied.
func applySplits(ws *assembly.WorkingSet, splits []string) error {
	type split struct {
		at    int
		pages []int
	}
	parsed := make([]split, 0, len(splits))
	for _, s := range splits {
		idx, spec, ok := strings.Cut(s, "=")
		if !ok {
			return fmt.Errorf("split %q: want INDEX=PAGES", s)
		}
		var at int
		if _, err := fmt.Sscan(idx, &at); err != nil {
			return fmt.Errorf("split %q: bad index", s)
		}
		pages, err := plan.ParsePagesStrict(spec)
		if err != nil || pages == nil {
			return fmt.Errorf("split %q: bad pages", s)
		}
		parsed = append(parsed, split{at, pages})
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].at > parsed[j].at })
	for i, sp := range parsed {
		if i > 0 && parsed[i-1].at == sp.at {
			return fmt.Errorf("entry %d split twice", sp.at)
		}
		if sp.at < 0 || sp.at >= ws.Len() {
			return fmt.Errorf("split index %d out of range", sp.at)
		}
		if err := ws.SplitAt(sp.at, sp.pages, nil); err != nil {
			return fmt.Errorf("split entry %d: %w", sp.at, err)
		}
	}
	return nil
}
