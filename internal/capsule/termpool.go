package capsule

import (
	"sort"

	"github.com/DoqueDB/sydney/internal/inverted"
)

// MatchMode selects how a term pool combines its terms.
type MatchMode int

const (
	// MatchOr unions the per-term results.
	MatchOr MatchMode = iota
	// MatchAnd intersects them.
	MatchAnd
	// MatchAdd unions like MatchOr but scores accumulate per term hit,
	// so multi-term documents rank above single-term ones.
	MatchAdd
)

// PooledTerm is one extracted term with its in-query weight.
type PooledTerm struct {
	Term   string
	Weight float64
}

// TermPool is the extracted term set driving free-text and word-list
// retrieval. Extraction from natural language (stopword removal, phrase
// detection, per-language weighting) belongs to the external term
// extractor; this pool applies tokenization and frequency weighting.
type TermPool struct {
	Terms []PooledTerm
}

// PoolFromFreeText extracts a weighted term pool from raw text.
func PoolFromFreeText(text string, langs []string, tok inverted.Tokenizer) *TermPool {
	freq := make(map[string]int)
	for _, t := range tok.Tokenize(text, langs) {
		freq[t.Term]++
	}
	return poolFromFreq(freq)
}

// PoolFromWordList builds a pool from an explicit word list.
func PoolFromWordList(words []string) *TermPool {
	freq := make(map[string]int)
	for _, w := range words {
		freq[w]++
	}
	return poolFromFreq(freq)
}

func poolFromFreq(freq map[string]int) *TermPool {
	p := &TermPool{Terms: make([]PooledTerm, 0, len(freq))}
	for term, n := range freq {
		p.Terms = append(p.Terms, PooledTerm{Term: term, Weight: float64(n)})
	}
	sort.Slice(p.Terms, func(i, j int) bool {
		if p.Terms[i].Weight != p.Terms[j].Weight {
			return p.Terms[i].Weight > p.Terms[j].Weight
		}
		return p.Terms[i].Term < p.Terms[j].Term
	})
	return p
}

// Tree lowers the pool to a boolean tree under the given match mode.
func (p *TermPool) Tree(mode MatchMode) Node {
	if len(p.Terms) == 0 {
		return nil
	}
	var root Node = &TermNode{Term: p.Terms[0].Term}
	for _, t := range p.Terms[1:] {
		next := &TermNode{Term: t.Term}
		if mode == MatchAnd {
			root = &AndNode{Left: root, Right: next}
		} else {
			root = &OrNode{Left: root, Right: next}
		}
	}
	return root
}
