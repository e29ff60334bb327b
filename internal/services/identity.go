package services

import (
	"context"
	"sort"
	"strings"
)

// MinMatchScore is the lowest score Resolve accepts.
const MinMatchScore = 50

// Candidate is a task-platform user a member name may resolve to.
type Candidate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Match struct {
	Candidate Candidate `json:"candidate"`
	Score     float64   `json:"score"`
	Exact     bool      `json:"exact"`
}

type nameTokens struct {
	full   string
	tokens []string
}

func tokenize(s string) nameTokens {
	full := strings.ToLower(strings.TrimSpace(s))
	return nameTokens{full: full, tokens: strings.Fields(full)}
}

// matchRule scores a search name against a candidate. ok is false when the
// rule does not apply.
type matchRule struct {
	name  string
	score func(search, cand nameTokens) (float64, bool)
}

// matchRules is evaluated in order. The first rule that applies decides the
// candidate's score.
var matchRules = []matchRule{
	{
		name: "exact",
		score: func(search, cand nameTokens) (float64, bool) {
			return 100, search.full == cand.full
		},
	},
	{
		name: "all_tokens",
		score: func(search, cand nameTokens) (float64, bool) {
			if len(search.tokens) == 0 || len(cand.tokens) == 0 {
				return 0, false
			}
			for _, t := range search.tokens {
				if !strings.Contains(cand.full, t) {
					return 0, false
				}
			}
			return 80 + 10*float64(len(search.tokens))/float64(len(cand.tokens)), true
		},
	},
	{
		name: "first_last",
		score: func(search, cand nameTokens) (float64, bool) {
			if len(search.tokens) < 2 || len(cand.tokens) < 2 {
				return 0, false
			}
			sf, cf := search.tokens[0], cand.tokens[0]
			if !strings.HasPrefix(sf, cf) && !strings.HasPrefix(cf, sf) {
				return 0, false
			}
			return 70, search.tokens[len(search.tokens)-1] == cand.tokens[len(cand.tokens)-1]
		},
	},
	{
		name: "any_token",
		score: func(search, cand nameTokens) (float64, bool) {
			for _, t := range search.tokens {
				if len(t) > 2 && strings.Contains(cand.full, t) {
					return 50, true
				}
			}
			return 0, false
		},
	},
}

func scoreCandidate(search nameTokens, c Candidate) (Match, bool) {
	cand := tokenize(c.Name)
	if cand.full == "" {
		return Match{}, false
	}
	for i, rule := range matchRules {
		if s, ok := rule.score(search, cand); ok {
			return Match{Candidate: c, Score: s, Exact: i == 0}, true
		}
	}
	return Match{}, false
}

// Rank scores every candidate against name and returns the ones any rule
// matched, best first. Exact matches always lead. Ties keep candidate order.
func Rank(name string, candidates []Candidate) []Match {
	search := tokenize(name)
	if search.full == "" {
		return nil
	}
	var matches []Match
	for _, c := range candidates {
		if m, ok := scoreCandidate(search, c); ok {
			matches = append(matches, m)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Exact != matches[j].Exact {
			return matches[i].Exact
		}
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// Resolve returns the best candidate for name, or false when nothing scores
// at least MinMatchScore. The first exact match short-circuits.
func Resolve(name string, candidates []Candidate) (Match, bool) {
	search := tokenize(name)
	if search.full == "" {
		return Match{}, false
	}
	var best Match
	found := false
	for _, c := range candidates {
		m, ok := scoreCandidate(search, c)
		if !ok {
			continue
		}
		if m.Exact {
			return m, true
		}
		if !found || m.Score > best.Score {
			best, found = m, true
		}
	}
	if !found || best.Score < MinMatchScore {
		return Match{}, false
	}
	return best, true
}

// DirectoryLister lists the identities of the task platform's workspace.
type DirectoryLister interface {
	ListUsers(ctx context.Context) ([]Candidate, error)
}

// IdentityResolver resolves many names against one directory listing.
type IdentityResolver struct {
	directory  DirectoryLister
	candidates []Candidate
	loaded     bool
}

func NewIdentityResolver(directory DirectoryLister) *IdentityResolver {
	return &IdentityResolver{directory: directory}
}

// Resolve lists the directory on first use and resolves name against it.
func (r *IdentityResolver) Resolve(ctx context.Context, name string) (Match, bool, error) {
	if !r.loaded {
		users, err := r.directory.ListUsers(ctx)
		if err != nil {
			return Match{}, false, err
		}
		r.candidates = users
		r.loaded = true
	}
	m, ok := Resolve(name, r.candidates)
	return m, ok, nil
}
