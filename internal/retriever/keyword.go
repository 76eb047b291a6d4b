package retriever

import (
	"math"
	"strings"
)

// isStopword and tokenize follow the teacher's reranker/simple.go tokenizer
// (lowercase, alnum/underscore split, common English stopwords dropped),
// reused here as the term source for BM25 instead of a raw overlap ratio.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "can": true, "this": true,
	"that": true, "these": true, "those": true,
}

func tokenize(text string) []string {
	text = strings.ToLower(text)
	raw := strings.FieldsFunc(text, func(r rune) bool { return !isAlphanumeric(r) })
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if len(tok) <= 2 || stopwords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

// bm25Scorer holds the corpus statistics needed for Okapi BM25 scoring.
type bm25Scorer struct {
	docTokens  [][]string
	docFreq    map[string]int // term -> number of docs containing it
	avgDocLen  float64
	totalDocs  int
	k1, b      float64
}

const bm25K1 = 1.5
const bm25B = 0.75

func newBM25Scorer(corpus []string) *bm25Scorer {
	s := &bm25Scorer{
		docTokens: make([][]string, len(corpus)),
		docFreq:   make(map[string]int),
		k1:        bm25K1,
		b:         bm25B,
		totalDocs: len(corpus),
	}

	var totalLen int
	for i, doc := range corpus {
		toks := tokenize(doc)
		s.docTokens[i] = toks
		totalLen += len(toks)

		seen := make(map[string]bool, len(toks))
		for _, t := range toks {
			if !seen[t] {
				s.docFreq[t]++
				seen[t] = true
			}
		}
	}
	if s.totalDocs > 0 {
		s.avgDocLen = float64(totalLen) / float64(s.totalDocs)
	}
	return s
}

// score returns the BM25 score of document i against queryTokens.
func (s *bm25Scorer) score(i int, queryTokens []string) float64 {
	docLen := float64(len(s.docTokens[i]))
	if docLen == 0 || s.totalDocs == 0 {
		return 0
	}

	termCount := make(map[string]int, len(s.docTokens[i]))
	for _, t := range s.docTokens[i] {
		termCount[t]++
	}

	var score float64
	for _, qt := range queryTokens {
		tf := float64(termCount[qt])
		if tf == 0 {
			continue
		}
		df := float64(s.docFreq[qt])
		idf := math.Log(1 + (float64(s.totalDocs)-df+0.5)/(df+0.5))
		denom := tf + s.k1*(1-s.b+s.b*docLen/s.avgDocLen)
		score += idf * (tf * (s.k1 + 1) / denom)
	}
	return score
}
