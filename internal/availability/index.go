// Package availability wraps a fetched list of bookable dates or time
// slots into a set with O(1) membership tests. It performs no I/O; the
// catalog adapter is responsible for normalizing API envelopes before
// an index is built.
package availability

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Index is an immutable membership set over availability tokens.
// The zero value is an empty index.
type Index struct {
	members map[string]struct{}
	ordered []string
}

// NewDates builds an index of calendar dates. Tokens are canonicalized
// to YYYY-MM-DD; timestamps are truncated to their date part. Tokens
// that do not parse as dates are dropped rather than failing the build.
func NewDates(tokens []string) Index {
	idx := Index{members: make(map[string]struct{}, len(tokens))}
	for _, tok := range tokens {
		date, ok := canonicalDate(tok)
		if !ok {
			continue
		}
		idx.add(date)
	}
	return idx
}

// NewTimes builds an index of time-slot tokens. Slot tokens are opaque
// to the workflow, so they are kept as given apart from trimming.
func NewTimes(tokens []string) Index {
	idx := Index{members: make(map[string]struct{}, len(tokens))}
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		idx.add(tok)
	}
	return idx
}

func (i *Index) add(token string) {
	if _, dup := i.members[token]; dup {
		return
	}
	i.members[token] = struct{}{}
	i.ordered = append(i.ordered, token)
}

// Contains reports whether token is a member of the index. Date tokens
// are canonicalized the same way as at build time, so a timestamp that
// falls on an indexed date matches.
func (i Index) Contains(token string) bool {
	if len(i.members) == 0 {
		return false
	}
	token = strings.TrimSpace(token)
	if _, ok := i.members[token]; ok {
		return true
	}
	if date, ok := canonicalDate(token); ok {
		_, ok := i.members[date]
		return ok
	}
	return false
}

// Tokens returns the members in the order they were first seen.
func (i Index) Tokens() []string {
	out := make([]string, len(i.ordered))
	copy(out, i.ordered)
	return out
}

// Len returns the number of members.
func (i Index) Len() int {
	return len(i.members)
}

// canonicalDate parses a date-like token into YYYY-MM-DD form.
func canonicalDate(tok string) (string, bool) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", false
	}
	if t, err := time.Parse(dateLayout, tok); err == nil {
		return t.Format(dateLayout), true
	}
	if t, err := time.Parse(time.RFC3339, tok); err == nil {
		return t.Format(dateLayout), true
	}
	return "", false
}
