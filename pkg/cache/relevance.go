package cache

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

const (
	similarityWeight = 0.6
	decayWeight      = 0.2
	accessWeight     = 0.2

	decayHalfLife   = 24 * time.Hour
	accessSaturates = 10
)

// Relevance scores entry against query in [0,1]:
// 0.6*similarity + 0.2*recency decay + 0.2*access frequency.
func Relevance(query string, e *Entry, now time.Time) float64 {
	var similarity float64
	if query != "" {
		if text, err := e.Bytes(); err == nil {
			similarity = tokenCosine(tokenize(query), tokenize(string(text)))
		}
	}

	age := now.Sub(e.CreatedAt)
	if age < 0 {
		age = 0
	}
	decay := math.Pow(0.5, float64(age)/float64(decayHalfLife))
	access := math.Min(float64(e.AccessCount)/accessSaturates, 1)

	score := similarityWeight*similarity + decayWeight*decay + accessWeight*access
	return math.Max(0, math.Min(1, score))
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func tokenCosine(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			shared++
		}
	}
	return float64(shared) / math.Sqrt(float64(len(a))*float64(len(b)))
}

// Scored pairs an entry with its relevance for a query
type Scored struct {
	Entry *Entry  `json:"entry"`
	Score float64 `json:"score"`
}

// Recall ranks resident entries by relevance to query, highest first. The
// computed score is written back to each entry. limit <= 0 returns all.
// Recall does not count as an access.
func (c *Cache) Recall(query string, limit int) []Scored {
	now := time.Now()
	entries := c.Snapshot()

	scored := make([]Scored, 0, len(entries))
	for _, e := range entries {
		score := Relevance(query, e, now)
		c.setScore(e.ID, score)
		e.RelevanceScore = score
		if inflated, err := e.inflated(); err == nil {
			e = inflated
		}
		scored = append(scored, Scored{Entry: e, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
