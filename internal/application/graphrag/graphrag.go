// Package graphrag implements query-time entity extraction and subgraph
// retrieval over the knowledge graph: an ingestion pipeline that decides
// between a cheap NER pass and an LLM extraction call, and a query
// pipeline that expands a seed set into a bounded, human-readable
// context block.
package graphrag

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/memorycore/memorycore/pkg/errors"

	"github.com/memorycore/memorycore/internal/domain/graph"
	"github.com/memorycore/memorycore/internal/domain/memcore"
	"github.com/memorycore/memorycore/internal/infrastructure/config"
)

// ExtractedRelation is one candidate relation surfaced by extraction,
// named the way the LLM's strict JSON schema names its fields.
type ExtractedRelation struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

type extractionDocument struct {
	Entities []struct {
		Name       string  `json:"name"`
		Type       string  `json:"type"`
		Importance float64 `json:"importance"`
	} `json:"entities"`
	Relations []ExtractedRelation `json:"relations"`
}

// IngestReport summarizes one extract_and_store call.
type IngestReport struct {
	EntitiesAdded  int
	RelationsAdded int
}

// QueryResult is the rendered subgraph returned by Query.
type QueryResult struct {
	Entities       []*memcore.Entity
	Relations      []*memcore.Relation
	Paths          [][]string
	ContextText    string
	RelevanceScore float64
}

// GraphRAG composes the knowledge graph with an optional NER extractor and
// an LLM for entity/relation extraction and seed resolution.
type GraphRAG struct {
	graph     *graph.Graph
	llm       memcore.LLMClient
	extractor memcore.EntityExtractor // optional
	cfg       config.GraphRAGConfig
}

// New creates a GraphRAG over g. extractor may be nil, in which case the
// decision gate always invokes the LLM.
func New(g *graph.Graph, llm memcore.LLMClient, extractor memcore.EntityExtractor, cfg config.GraphRAGConfig) *GraphRAG {
	return &GraphRAG{graph: g, llm: llm, extractor: extractor, cfg: cfg}
}

// ExtractAndStore runs the five-stage ingestion pipeline: NER baseline,
// decision gate (LLM extraction when it fires), merge, importance filter,
// upsert.
func (r *GraphRAG) ExtractAndStore(ctx context.Context, text string) (IngestReport, error) {
	var report IngestReport

	nerEntities, nerConfident := r.runNER(ctx, text)

	var doc extractionDocument
	if r.shouldInvokeLLM(text, nerConfident, len(nerEntities) == 0) {
		extracted, err := r.extractViaLLM(ctx, text)
		if err != nil {
			return report, err
		}
		doc = extracted
	}

	merged := mergeEntities(doc, nerEntities)

	idByName := make(map[string]string, len(merged))
	for _, e := range merged {
		if e.importance < r.cfg.EntityImportanceFloor {
			continue
		}
		id := r.graph.AddEntity(e.name, e.entityType, nil)
		if id == "" {
			continue
		}
		idByName[strings.ToLower(e.name)] = id
		report.EntitiesAdded++
	}

	for _, rel := range doc.Relations {
		srcID, srcOK := idByName[strings.ToLower(rel.Source)]
		dstID, dstOK := idByName[strings.ToLower(rel.Target)]
		if !srcOK || !dstOK {
			continue
		}
		if r.graph.AddRelation(srcID, dstID, rel.Relation, 0.5, "") {
			report.RelationsAdded++
		}
	}

	return report, nil
}

// shouldInvokeLLM decides when the hybrid extractor escalates to the LLM:
// the text is long, NER confidence is low, or NER found nothing.
func (r *GraphRAG) shouldInvokeLLM(text string, nerConfident bool, nerEmpty bool) bool {
	if len(text) >= r.cfg.LLMInvokeTextLength {
		return true
	}
	if !nerConfident {
		return true
	}
	return nerEmpty
}

func (r *GraphRAG) runNER(ctx context.Context, text string) ([]memcore.ExtractedEntity, bool) {
	if r.extractor == nil {
		return nil, false
	}
	entities, err := r.extractor.Extract(ctx, text)
	if err != nil || len(entities) == 0 {
		return nil, false
	}
	confident := true
	for _, e := range entities {
		if e.Confidence < r.cfg.NERConfidenceThreshold {
			confident = false
			break
		}
	}
	return entities, confident
}

const extractionPrompt = `Extract entities and relations from the text below. Respond with strict JSON matching {"entities":[{"name":"","type":"","importance":0.0}],"relations":[{"source":"","target":"","relation":""}]} and nothing else.

Text:
%s`

func (r *GraphRAG) extractViaLLM(ctx context.Context, text string) (extractionDocument, error) {
	prompt := fmt.Sprintf(extractionPrompt, text)
	out, err := r.llm.Generate(ctx, prompt, memcore.GenerateOptions{Temperature: 0.0, MaxTokens: 512})
	if err != nil {
		return extractionDocument{}, apperrors.Wrap(apperrors.KindFetchTimeout, "graphrag extraction LLM call failed", err)
	}

	var doc extractionDocument
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &doc); err != nil {
		return extractionDocument{}, apperrors.Wrap(apperrors.KindFetchProviderErr, "graphrag extraction returned malformed JSON", err)
	}
	return doc, nil
}

type mergedEntity struct {
	name       string
	entityType memcore.EntityType
	importance float64
}

// mergeEntities implements the merge stage: LLM results take precedence
// on name match, unmatched NER entities are appended.
func mergeEntities(doc extractionDocument, ner []memcore.ExtractedEntity) []mergedEntity {
	seen := make(map[string]struct{}, len(doc.Entities))
	merged := make([]mergedEntity, 0, len(doc.Entities)+len(ner))
	for _, e := range doc.Entities {
		merged = append(merged, mergedEntity{name: e.Name, entityType: mapEntityType(e.Type), importance: e.Importance})
		seen[strings.ToLower(e.Name)] = struct{}{}
	}
	for _, e := range ner {
		if _, ok := seen[strings.ToLower(e.Name)]; ok {
			continue
		}
		merged = append(merged, mergedEntity{name: e.Name, entityType: mapEntityType(e.TypeLabel), importance: e.Confidence})
	}
	return merged
}

func mapEntityType(label string) memcore.EntityType {
	switch strings.ToLower(label) {
	case "person":
		return memcore.EntityPerson
	case "project":
		return memcore.EntityProject
	case "tool":
		return memcore.EntityTool
	case "preference":
		return memcore.EntityPreference
	default:
		return memcore.EntityConcept
	}
}

// Query runs the six-stage retrieval pipeline: seed extraction, id
// resolution, BFS expansion, relation collection, pairwise shortest
// paths, and rendering.
func (r *GraphRAG) Query(ctx context.Context, q string, maxEntities, maxDepth int) (QueryResult, error) {
	if maxEntities <= 0 {
		maxEntities = r.cfg.MaxEntities
	}
	if maxDepth <= 0 {
		maxDepth = r.cfg.MaxDepth
	}

	seeds := r.extractSeeds(ctx, q)
	return r.buildResult(seeds, maxEntities, maxDepth)
}

// QueryKeywordOnly is the synchronous, LLM-free variant for
// latency-critical callers: it resolves seeds purely via the name index.
func (r *GraphRAG) QueryKeywordOnly(q string, maxEntities, maxDepth int) QueryResult {
	if maxEntities <= 0 {
		maxEntities = r.cfg.MaxEntities
	}
	if maxDepth <= 0 {
		maxDepth = r.cfg.MaxDepth
	}
	seeds := keywordSeeds(q, r.graph)
	result, _ := r.buildResult(seeds, maxEntities, maxDepth)
	return result
}

func (r *GraphRAG) extractSeeds(ctx context.Context, q string) []string {
	if r.llm != nil {
		prompt := fmt.Sprintf("List the key entity names mentioned in this query as a JSON array of strings, nothing else:\n\n%s", q)
		out, err := r.llm.Generate(ctx, prompt, memcore.GenerateOptions{Temperature: 0.0, MaxTokens: 128})
		if err == nil {
			var names []string
			if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(out)), &names); jsonErr == nil && len(names) > 0 {
				return names
			}
		}
	}
	return keywordSeeds(q, r.graph)
}

func keywordSeeds(q string, g *graph.Graph) []string {
	words := strings.Fields(q)
	var names []string
	for _, w := range words {
		if _, ok := g.EntityByName(w); ok {
			names = append(names, w)
		}
	}
	return names
}

func (r *GraphRAG) buildResult(seedNames []string, maxEntities, maxDepth int) (QueryResult, error) {
	entities, relations := r.graph.Snapshot()

	seedIDs := make([]string, 0, len(seedNames))
	for _, name := range seedNames {
		if e, ok := r.graph.EntityByName(name); ok {
			seedIDs = append(seedIDs, e.ID)
		}
	}

	frontier := make(map[string]struct{}, len(seedIDs))
	for _, id := range seedIDs {
		frontier[id] = struct{}{}
	}
	for _, id := range seedIDs {
		for _, n := range r.graph.GetNeighbors(id, maxDepth) {
			frontier[n] = struct{}{}
		}
	}

	chosenIDs := make([]string, 0, len(frontier))
	for id := range frontier {
		if _, ok := entities[id]; ok {
			chosenIDs = append(chosenIDs, id)
		}
	}
	sort.Strings(chosenIDs)
	if len(chosenIDs) > maxEntities {
		chosenIDs = chosenIDs[:maxEntities]
	}

	chosenSet := make(map[string]struct{}, len(chosenIDs))
	resultEntities := make([]*memcore.Entity, 0, len(chosenIDs))
	for _, id := range chosenIDs {
		chosenSet[id] = struct{}{}
		resultEntities = append(resultEntities, entities[id])
	}

	seenRel := make(map[string]struct{})
	var resultRelations []*memcore.Relation
	for _, id := range chosenIDs {
		for _, rel := range r.graph.RelationsOf(id) {
			key := rel.Key()
			if _, ok := seenRel[key]; ok {
				continue
			}
			if _, srcOK := chosenSet[rel.Source]; !srcOK {
				continue
			}
			if _, dstOK := chosenSet[rel.Target]; !dstOK {
				continue
			}
			seenRel[key] = struct{}{}
			resultRelations = append(resultRelations, relations[key])
		}
	}
	if len(resultRelations) > r.cfg.MaxRelations {
		resultRelations = resultRelations[:r.cfg.MaxRelations]
	}

	var paths [][]string
	pathSeeds := seedIDs
	if len(pathSeeds) > 4 {
		pathSeeds = pathSeeds[:4]
	}
	for i := 0; i < len(pathSeeds); i++ {
		for j := i + 1; j < len(pathSeeds); j++ {
			path := r.graph.FindPath(pathSeeds[i], pathSeeds[j], maxDepth*2)
			if len(path) > 0 {
				paths = append(paths, path)
			}
		}
	}

	score := 0.2 * float64(len(resultEntities))
	if score > 1.0 {
		score = 1.0
	}

	return QueryResult{
		Entities:       resultEntities,
		Relations:      resultRelations,
		Paths:          paths,
		ContextText:    renderContext(resultEntities, resultRelations, paths),
		RelevanceScore: score,
	}, nil
}

func renderContext(entities []*memcore.Entity, relations []*memcore.Relation, paths [][]string) string {
	var sb strings.Builder
	sb.WriteString("Entities:\n")
	for _, e := range entities {
		fmt.Fprintf(&sb, "- %s (%s)\n", e.Name, e.Type)
	}
	sb.WriteString("Relations:\n")
	for _, r := range relations {
		fmt.Fprintf(&sb, "- %s %s %s (weight=%.2f)\n", r.Source, r.Type, r.Target, r.Weight)
	}
	if len(paths) > 0 {
		sb.WriteString("Paths:\n")
		for _, p := range paths {
			fmt.Fprintf(&sb, "- %s\n", strings.Join(p, " -> "))
		}
	}
	return sb.String()
}
