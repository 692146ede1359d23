// Package grounding keeps model-written prose honest about numbers. Every
// numeric figure in a narrative sentence must match a value computed
// deterministically (or quoted from a retrieved source); sentences that
// cite anything else are dropped.
package grounding

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Numbers below this magnitude are treated as counts, list markers or
// ordinals and never checked.
const freeBelow = 10

// Set is a collection of permitted numeric values.
type Set struct {
	values []float64
}

// NewSet builds a Set from values.
func NewSet(values ...float64) *Set {
	s := &Set{}
	s.Add(values...)
	return s
}

// Add permits more values. NaN and Inf are ignored.
func (s *Set) Add(values ...float64) {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		s.values = append(s.values, v)
	}
}

// AddText permits every number that appears in text, e.g. the user's own
// message or a retrieved passage.
func (s *Set) AddText(text string) {
	s.Add(Numbers(text)...)
}

// Len returns the number of permitted values.
func (s *Set) Len() int { return len(s.values) }

// Contains reports whether x matches a permitted value within 1% (at least
// 0.5), which admits rounded forms such as "2.58 crore" for 25,845,710.
func (s *Set) Contains(x float64) bool {
	x = math.Abs(x)
	if x < freeBelow {
		return true
	}
	for _, v := range s.values {
		v = math.Abs(v)
		tol := math.Max(0.5, 0.01*v)
		if math.Abs(x-v) <= tol {
			return true
		}
	}
	return false
}

var (
	numberPattern = regexp.MustCompile(`(?i)(?:₹|rs\.?|inr)?\s*(\d[\d,]*(?:\.\d+)?)\s*(crores?|cr|lakhs?|lacs?|l|k)?\b`)
	sentenceSplit = regexp.MustCompile(`[.!?](?:\s+|$)`)
)

var multipliers = map[string]float64{
	"k": 1e3, "l": 1e5, "lakh": 1e5, "lakhs": 1e5, "lac": 1e5, "lacs": 1e5,
	"cr": 1e7, "crore": 1e7, "crores": 1e7,
}

// Numbers returns every figure in text, with Indian-style grouping and
// k/lakh/crore suffixes resolved: "₹1,50,000", "1.5 lakh" and "150k" all
// read as 150000.
func Numbers(text string) []float64 {
	var out []float64
	for _, m := range numberPattern.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		if mult, ok := multipliers[strings.ToLower(m[2])]; ok {
			v *= mult
		}
		out = append(out, v)
	}
	return out
}

// Filter keeps the sentences of text whose numbers are all in allowed and
// returns the dropped sentences separately.
func Filter(text string, allowed *Set) (kept string, dropped []string) {
	var b strings.Builder
	for _, para := range strings.Split(text, "\n") {
		var keptSentences []string
		for _, sentence := range splitSentences(para) {
			if grounded(sentence, allowed) {
				keptSentences = append(keptSentences, sentence)
			} else {
				dropped = append(dropped, strings.TrimSpace(sentence))
			}
		}
		line := strings.TrimSpace(strings.Join(keptSentences, " "))
		if line == "" && strings.TrimSpace(para) != "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
	}
	return strings.TrimSpace(b.String()), dropped
}

func grounded(sentence string, allowed *Set) bool {
	for _, n := range Numbers(sentence) {
		if !allowed.Contains(n) {
			return false
		}
	}
	return true
}

// splitSentences splits on terminal punctuation followed by whitespace,
// keeping the punctuation with its sentence. Decimal points are not
// followed by whitespace and so never split.
func splitSentences(para string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceSplit.FindAllStringIndex(para, -1) {
		end := loc[0] + 1
		if s := strings.TrimSpace(para[last:end]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(para[last:]); s != "" {
		out = append(out, s)
	}
	return out
}
