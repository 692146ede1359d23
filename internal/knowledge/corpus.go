package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// corpusFile is the on-disk layout:
//
//	domains:
//	  tax_rules:
//	    - id: tax-80c
//	      title: Section 80C
//	      category: deduction
//	      text: ...
type corpusFile struct {
	Domains map[string][]Match `yaml:"domains"`
}

type document struct {
	match  Match
	vector map[string]float64
	norm   float64
}

// Corpus is a local Source over a YAML corpus, scored by cosine similarity
// of term-frequency vectors. It stands in for the vector service when none
// is configured.
type Corpus struct {
	domains map[string][]document
}

// LoadCorpus reads the corpus at path from fs.
func LoadCorpus(fs afero.Fs, path string) (*Corpus, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus %s: %w", path, err)
	}
	var f corpusFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse corpus %s: %w", path, err)
	}
	c := &Corpus{domains: map[string][]document{}}
	for domain, entries := range f.Domains {
		for i, m := range entries {
			if m.ID == "" || strings.TrimSpace(m.Text) == "" {
				return nil, fmt.Errorf("corpus %s: entry %d of %s needs id and text", path, i, domain)
			}
			v := termVector(m.Title + " " + m.Category + " " + m.Text)
			c.domains[domain] = append(c.domains[domain], document{match: m, vector: v, norm: norm(v)})
		}
	}
	return c, nil
}

// Size returns the number of passages per domain.
func (c *Corpus) Size() map[string]int {
	out := make(map[string]int, len(c.domains))
	for d, docs := range c.domains {
		out[d] = len(docs)
	}
	return out
}

// Search ranks passages by cosine similarity, dropping zero scores.
func (c *Corpus) Search(ctx context.Context, domain, query string, topK int) ([]Match, error) {
	q := termVector(query)
	qn := norm(q)
	if qn == 0 {
		return nil, nil
	}
	var out []Match
	for _, d := range c.domains[domain] {
		if d.norm == 0 {
			continue
		}
		var dot float64
		for term, w := range q {
			dot += w * d.vector[term]
		}
		if dot == 0 {
			continue
		}
		m := d.match
		m.Score = dot / (qn * d.norm)
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true, "by": true,
	"can": true, "do": true, "for": true, "from": true, "how": true, "i": true, "in": true, "is": true,
	"it": true, "my": true, "of": true, "on": true, "or": true, "should": true, "the": true, "to": true,
	"what": true, "which": true, "with": true, "you": true, "your": true, "me": true, "much": true,
}

func termVector(text string) map[string]float64 {
	v := map[string]float64{}
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(tok) < 2 || stopWords[tok] {
			continue
		}
		v[tok]++
	}
	return v
}

func norm(v map[string]float64) float64 {
	var s float64
	for _, w := range v {
		s += w * w
	}
	return math.Sqrt(s)
}
