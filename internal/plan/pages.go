package plan

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxRangePages bounds how many pages one "a-b" token may expand to, so
// that a token like "1-999999999" cannot allocate an enormous slice. Single
// page numbers are not bounded.
const MaxRangePages = 100000

// ErrInvalidPageRange is returned by ParsePagesStrict for a malformed token.
var ErrInvalidPageRange = errors.New("invalid page range")

// FormatPages sorts pages and compresses consecutive runs into "a-b" tokens:
// [1 2 3 5 7 8] becomes "1-3,5,7-8". Nil or empty input gives "" (all pages).
func FormatPages(pages []int) string {
	if len(pages) == 0 {
		return ""
	}
	sorted := append([]int(nil), pages...)
	sort.Ints(sorted)

	var b strings.Builder
	write := func(start, end int) {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(start))
		if end != start {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(end))
		}
	}
	// runs longer than MaxRangePages are emitted as several tokens
	writeRun := func(start, end int) {
		for end-start+1 > MaxRangePages {
			write(start, start+MaxRangePages-1)
			start += MaxRangePages
		}
		write(start, end)
	}

	start, prev := sorted[0], sorted[0]
	for _, p := range sorted[1:] {
		if p == prev {
			continue
		}
		if p == prev+1 {
			prev = p
			continue
		}
		writeRun(start, prev)
		start, prev = p, p
	}
	writeRun(start, prev)
	return b.String()
}

// ParsePages expands a range spec into page numbers. Malformed tokens are
// skipped so that a half-typed field still yields the pages it does name.
// The result keeps spec order and is not deduplicated.
func ParsePages(spec string) []int {
	var out []int
	for _, tok := range strings.Split(spec, ",") {
		pages, err := parseToken(tok)
		if err != nil {
			continue
		}
		out = append(out, pages...)
	}
	return out
}

// ParsePagesStrict is ParsePages for input that must be exact: any malformed
// token fails the whole spec. An empty spec yields nil (all pages).
func ParsePagesStrict(spec string) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	var out []int
	for _, tok := range strings.Split(spec, ",") {
		pages, err := parseToken(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPageRange, spec)
		}
		out = append(out, pages...)
	}
	return out, nil
}

func parseToken(tok string) ([]int, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return nil, ErrInvalidPageRange
	}
	first, last, isRange := strings.Cut(tok, "-")
	a, err := parsePage(first)
	if err != nil {
		return nil, err
	}
	if !isRange {
		return []int{a}, nil
	}
	b, err := parsePage(last)
	if err != nil {
		return nil, err
	}
	if a > b || b-a >= MaxRangePages {
		return nil, ErrInvalidPageRange
	}
	out := make([]int, 0, b-a+1)
	for p := a; p <= b; p++ {
		out = append(out, p)
	}
	return out, nil
}

func parsePage(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidPageRange
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, ErrInvalidPageRange
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, ErrInvalidPageRange
	}
	return n, nil
}
