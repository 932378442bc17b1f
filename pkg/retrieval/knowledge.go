package retrieval

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/incidentkit/incidentkit/pkg/embedding"
	"github.com/incidentkit/incidentkit/pkg/models"
	"github.com/incidentkit/incidentkit/pkg/tools"
)

// ScoredPassage is a runbook passage with its search distance.
type ScoredPassage struct {
	Passage  models.KnowledgePassage
	Distance float64
}

// KnowledgeBase is semantic search over the static runbook corpus.
// The corpus is loaded and indexed once at startup and read-only
// afterwards.
type KnowledgeBase struct {
	index    *Index
	embedder embedding.Embedder
	passages map[string]models.KnowledgePassage
}

// corpusFile is the YAML shape of the runbook corpus on disk.
type corpusFile struct {
	Passages []struct {
		ID    string `yaml:"id"`
		Title string `yaml:"title"`
		Body  string `yaml:"body"`
		Team  string `yaml:"team"`
	} `yaml:"passages"`
}

// LoadKnowledgeBase reads the corpus file, embeds every passage, and
// builds the index. Corpus problems are startup failures — a triage
// engine without its runbooks is misconfigured, not degraded.
func LoadKnowledgeBase(ctx context.Context, path string, embedder embedding.Embedder) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}
	var corpus corpusFile
	if err := yaml.Unmarshal(data, &corpus); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", path, err)
	}

	kb := &KnowledgeBase{
		index:    NewIndex(embedder.Dimensions()),
		embedder: embedder,
		passages: make(map[string]models.KnowledgePassage, len(corpus.Passages)),
	}
	for _, p := range corpus.Passages {
		vec, err := embedder.Embed(ctx, p.Title+"\n"+p.Body)
		if err != nil {
			return nil, fmt.Errorf("embed passage %s: %w", p.ID, err)
		}
		passage := models.KnowledgePassage{
			ID: p.ID, Title: p.Title, Body: p.Body, Team: p.Team, Embedding: vec,
		}
		if err := kb.addPassage(passage); err != nil {
			return nil, err
		}
	}
	return kb, nil
}

// NewKnowledgeBase builds a knowledge base from pre-embedded passages.
// Used by tests and by callers that manage their own corpus source.
func NewKnowledgeBase(embedder embedding.Embedder, passages []models.KnowledgePassage) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{
		index:    NewIndex(embedder.Dimensions()),
		embedder: embedder,
		passages: make(map[string]models.KnowledgePassage, len(passages)),
	}
	for _, p := range passages {
		if err := kb.addPassage(p); err != nil {
			return nil, err
		}
	}
	return kb, nil
}

func (kb *KnowledgeBase) addPassage(p models.KnowledgePassage) error {
	meta := map[string]string{"title": p.Title}
	if p.Team != "" {
		meta["team"] = p.Team
	}
	if err := kb.index.Add(p.ID, p.Body, p.Embedding, meta); err != nil {
		return fmt.Errorf("index passage %s: %w", p.ID, err)
	}
	kb.passages[p.ID] = p
	return nil
}

// Len returns the number of indexed passages.
func (kb *KnowledgeBase) Len() int { return kb.index.Len() }

// Search embeds the query and returns the k most relevant passages.
func (kb *KnowledgeBase) Search(ctx context.Context, query string, k int) ([]ScoredPassage, error) {
	vec, err := kb.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := kb.index.Search(vec, k, nil)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredPassage, 0, len(hits))
	for _, h := range hits {
		out = append(out, ScoredPassage{Passage: kb.passages[h.ID], Distance: h.Distance})
	}
	return out, nil
}

// SearchText implements the search_runbooks tool contract.
func (kb *KnowledgeBase) SearchText(ctx context.Context, query string, k int) ([]tools.RunbookHit, error) {
	scored, err := kb.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	hits := make([]tools.RunbookHit, 0, len(scored))
	for _, s := range scored {
		hits = append(hits, tools.RunbookHit{
			Title:    s.Passage.Title,
			Body:     s.Passage.Body,
			Distance: s.Distance,
		})
	}
	return hits, nil
}
