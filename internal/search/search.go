// Package search ranks registered elements against a spoken phrase.
package search

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	textField = "text"

	minPrefixLen = 3
	minFuzzyLen  = 4
	partialBoost = 0.5
)

type Document struct {
	ID       string
	Label    string
	Metadata map[string]any
}

type Hit struct {
	ID    string
	Score float64
}

// Index is an in-memory full-text index over a small set of documents.
type Index struct {
	idx   bleve.Index
	order map[string]int
}

// NewIndex indexes docs. Text is folded for case and diacritics before it
// reaches the analyzer, so queries must go through Tokenize too.
func NewIndex(docs []Document) (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create search index: %w", err)
	}
	out := &Index{idx: idx, order: make(map[string]int, len(docs))}
	batch := idx.NewBatch()
	for i, d := range docs {
		if _, dup := out.order[d.ID]; !dup {
			out.order[d.ID] = i
		}
		if err := batch.Index(d.ID, map[string]any{textField: fold(documentText(d))}); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("index %s: %w", d.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("index documents: %w", err)
	}
	return out, nil
}

func (x *Index) Close() error { return x.idx.Close() }

// Rank scores every document against query. Documents with no matching term
// are left out. Equal scores keep insertion order.
func (x *Index) Rank(q string) ([]Hit, error) {
	terms := Tokenize(q)
	if len(terms) == 0 || len(x.order) == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(termsQuery(terms), len(x.order), 0, false)
	res, err := x.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q, err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		if h.Score > 0 {
			hits = append(hits, Hit{ID: h.ID, Score: h.Score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return x.order[hits[i].ID] < x.order[hits[j].ID]
	})
	if len(hits) == 0 {
		return nil, nil
	}
	return hits, nil
}

// Best returns the top-ranked document id.
func (x *Index) Best(q string) (string, bool, error) {
	hits, err := x.Rank(q)
	if err != nil || len(hits) == 0 {
		return "", false, err
	}
	return hits[0].ID, true, nil
}

// termsQuery matches each term exactly, and at half weight as a prefix
// ("wool" for "woollen") or one edit away ("shoe" for "shoes").
func termsQuery(terms []string) query.Query {
	dq := bleve.NewDisjunctionQuery()
	for _, t := range terms {
		tq := bleve.NewTermQuery(t)
		tq.SetField(textField)
		dq.AddQuery(tq)
		n := len([]rune(t))
		if n >= minPrefixLen {
			pq := bleve.NewPrefixQuery(t)
			pq.SetField(textField)
			pq.SetBoost(partialBoost)
			dq.AddQuery(pq)
		}
		if n >= minFuzzyLen {
			fq := bleve.NewFuzzyQuery(t)
			fq.SetField(textField)
			fq.SetFuzziness(1)
			fq.SetBoost(partialBoost)
			dq.AddQuery(fq)
		}
	}
	return dq
}

func documentText(d Document) string {
	var sb strings.Builder
	sb.WriteString(d.Label)
	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		flatten(&sb, d.Metadata[k])
	}
	return sb.String()
}

func flatten(sb *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
	case string:
		sb.WriteString(" ")
		sb.WriteString(t)
	case []any:
		for _, e := range t {
			flatten(sb, e)
		}
	case []string:
		for _, e := range t {
			flatten(sb, e)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(sb, t[k])
		}
	default:
		fmt.Fprintf(sb, " %v", t)
	}
}

// Tokenize folds case and diacritics and splits on anything that is not a
// letter or digit.
func Tokenize(s string) []string {
	folded := fold(s)
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, cases.Fold())
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}
