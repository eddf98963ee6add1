// Package catalog suggests vehicle brands and models while a valet types
// them in, tolerating typos.
package catalog

import (
	"sort"
	"strings"

	"github.com/schollz/closestmatch"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"golang.org/x/text/unicode/norm"
)

// MinSimilarity is the lowest score Canonical accepts as a correction.
const MinSimilarity = 0.7

// Vehicle is one catalog entry. An empty Model stands for the brand alone.
type Vehicle struct {
	Brand string `json:"brand"`
	Model string `json:"model,omitempty"`
}

// Name is "Brand Model", or just the brand.
func (v Vehicle) Name() string {
	if v.Model == "" {
		return v.Brand
	}
	return v.Brand + " " + v.Model
}

// Match is a scored suggestion.
type Match struct {
	Vehicle
	Score float64 `json:"score"`
}

// Catalog is an immutable brand and model index.
//
// Thread-safety: safe for concurrent use after construction.
type Catalog struct {
	entries []Vehicle
	byKey   map[string]Vehicle
	brands  map[string][]string
	matcher *closestmatch.ClosestMatch
}

// New indexes models by brand.
func New(models map[string][]string) *Catalog {
	c := &Catalog{byKey: make(map[string]Vehicle), brands: make(map[string][]string)}
	for brand, ms := range models {
		c.add(Vehicle{Brand: brand})
		for _, m := range ms {
			c.add(Vehicle{Brand: brand, Model: m})
		}
		c.brands[brand] = append([]string(nil), ms...)
		sort.Strings(c.brands[brand])
	}
	sort.Slice(c.entries, func(i, j int) bool { return c.entries[i].Name() < c.entries[j].Name() })

	keys := make([]string, 0, len(c.byKey))
	for k := range c.byKey {
		keys = append(keys, k)
	}
	c.matcher = closestmatch.New(keys, []int{2, 3})
	return c
}

// Default returns the catalog of brands common in the hotel's market.
func Default() *Catalog {
	return New(map[string][]string{
		"Chevrolet":  {"Aveo", "Beat", "Onix", "Spark", "Trax"},
		"Ford":       {"Escape", "Figo", "Fiesta", "Ranger"},
		"Honda":      {"City", "Civic", "CR-V", "HR-V"},
		"Hyundai":    {"Accent", "Creta", "Tucson"},
		"Kia":        {"Rio", "Seltos", "Soul", "Sportage"},
		"Mazda":      {"2", "3", "CX-3", "CX-5"},
		"Nissan":     {"Kicks", "March", "Sentra", "Tsuru", "Versa"},
		"Renault":    {"Duster", "Kwid", "Stepway"},
		"Suzuki":     {"Ciaz", "Swift", "Vitara"},
		"Toyota":     {"Corolla", "Hilux", "Prius", "RAV4", "Yaris"},
		"Volkswagen": {"Gol", "Jetta", "Polo", "Vento", "Virtus"},
	})
}

func (c *Catalog) add(v Vehicle) {
	k := normalize(v.Name())
	if _, ok := c.byKey[k]; ok {
		return
	}
	c.byKey[k] = v
	c.entries = append(c.entries, v)
}

// Brands returns every brand, sorted.
func (c *Catalog) Brands() []string {
	out := make([]string, 0, len(c.brands))
	for b := range c.brands {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Models returns the models of brand, sorted. The brand match is
// case-insensitive.
func (c *Catalog) Models(brand string) []string {
	for b, ms := range c.brands {
		if strings.EqualFold(b, strings.TrimSpace(brand)) {
			return append([]string(nil), ms...)
		}
	}
	return nil
}

// Lookup returns up to n suggestions for query, best first.
func (c *Catalog) Lookup(query string, n int) []Match {
	q := normalize(query)
	if q == "" || n <= 0 {
		return nil
	}

	candidates := make(map[string]bool)
	for _, k := range c.matcher.ClosestN(q, n*3) {
		candidates[k] = true
	}
	for k, v := range c.byKey {
		if strings.Contains(k, q) || wordSimilarity(q, v) >= MinSimilarity {
			candidates[k] = true
		}
	}

	out := make([]Match, 0, len(candidates))
	for k := range candidates {
		v := c.byKey[k]
		out = append(out, Match{Vehicle: v, Score: score(q, v)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name() < out[j].Name()
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Canonical returns the catalog spelling of a typed brand, or the input
// unchanged when nothing is close enough.
func (c *Catalog) Canonical(brand string) (string, bool) {
	q := normalize(brand)
	best, bestScore := "", 0.0
	for b := range c.brands {
		if s := similarity(q, normalize(b)); s > bestScore || (s == bestScore && b < best) {
			best, bestScore = b, s
		}
	}
	if bestScore < MinSimilarity {
		return strings.TrimSpace(brand), false
	}
	return best, true
}

// score ranks a candidate against the query. Only an exact name scores
// 1; prefix and substring hits beat pure edit distance.
func score(q string, v Vehicle) float64 {
	key := normalize(v.Name())
	if key == q {
		return 1
	}
	s := max(similarity(q, key), wordSimilarity(q, v))
	switch {
	case strings.HasPrefix(key, q), v.Model != "" && strings.HasPrefix(normalize(v.Model), q):
		s += 0.5
	case strings.Contains(key, q):
		s += 0.3
	}
	return min(s, 0.99)
}

// wordSimilarity compares the query with the brand and the model alone.
func wordSimilarity(q string, v Vehicle) float64 {
	s := similarity(q, normalize(v.Brand))
	if v.Model != "" {
		s = max(s, similarity(q, normalize(v.Model)))
	}
	return s
}

func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := max(len(ra), len(rb))
	if maxLen == 0 {
		return 1
	}
	d := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptions)
	return 1 - float64(d)/float64(maxLen)
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(norm.NFKC.String(s)), " "))
}
