package catalog

import (
	"sort"
	"strings"
	"unicode"
)

// SearchResult is one ranked hit. The same shape is produced whether the
// corpus came from the offline catalog or from a live tool listing, so
// callers can treat both paths uniformly.
type SearchResult struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	CategoryName string `json:"category_name"`
	Score        int    `json:"score"`
	Source       string `json:"source,omitempty"`
}

// Searcher ranks tool descriptors by relevance to a query. Scoring is token
// overlap between the query and a tool's name and description, with a
// case-insensitive substring fallback when no token matches; ties keep the
// corpus's original order. Name hits outweigh description hits.
type Searcher struct {
	corpus map[string][]ToolDescriptor
	order  []string
}

const (
	nameTokenWeight = 3
	descTokenWeight = 1
	nameSubstrScore = 2
	descSubstrScore = 1
)

// NewSearcher builds a searcher over a server-name-to-tools corpus.
func NewSearcher(corpus map[string][]ToolDescriptor) *Searcher {
	order := make([]string, 0, len(corpus))
	for name := range corpus {
		order = append(order, name)
	}
	sort.Strings(order)
	return &Searcher{corpus: corpus, order: order}
}

// Search returns at most max results with positive relevance, highest score
// first. A max of zero or less applies no cap.
func (s *Searcher) Search(query string, max int) []SearchResult {
	queryTokens := tokenize(query)
	queryLower := strings.ToLower(strings.TrimSpace(query))
	if len(queryTokens) == 0 && queryLower == "" {
		return nil
	}

	var results []SearchResult
	for _, server := range s.order {
		for _, tool := range s.corpus[server] {
			score := scoreTool(tool, queryTokens, queryLower)
			if score <= 0 {
				continue
			}
			results = append(results, SearchResult{
				Name:         tool.Name,
				Description:  tool.Description,
				CategoryName: server,
				Score:        score,
			})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if max > 0 && len(results) > max {
		results = results[:max]
	}
	return results
}

func scoreTool(tool ToolDescriptor, queryTokens []string, queryLower string) int {
	nameTokens := tokenSet(tool.Name)
	descTokens := tokenSet(tool.Description)

	score := 0
	for _, tok := range queryTokens {
		if nameTokens[tok] {
			score += nameTokenWeight
		}
		if descTokens[tok] {
			score += descTokenWeight
		}
	}
	if score > 0 {
		return score
	}
	if queryLower == "" {
		return 0
	}
	if strings.Contains(strings.ToLower(tool.Name), queryLower) {
		return nameSubstrScore
	}
	if strings.Contains(strings.ToLower(tool.Description), queryLower) {
		return descSubstrScore
	}
	return 0
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func tokenSet(text string) map[string]bool {
	tokens := tokenize(text)
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		set[tok] = true
	}
	return set
}
