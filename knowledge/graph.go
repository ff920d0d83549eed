// Package knowledge mirrors ingestion provenance into Neo4j as
// Document -> Page -> Chunk with per-page transcription confidence.
package knowledge

import (
	"context"
	"fmt"
	"strconv"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/scanqa/document"
)

type Document struct {
	ID         string
	SourceName string
	Pages      []Page
	Chunks     []Chunk
}

type Page struct {
	Number       int
	Confidence   string
	UnclearCount int
	Characters   int
}

type Chunk struct {
	ID    string
	Page  int
	Index int
	Text  string
}

// Summary counts the provenance nodes of one document.
type Summary struct {
	Pages              int
	LowConfidencePages int
	Chunks             int
}

// FromPages builds the graph view of an ingestion run.
func FromPages(documentID, sourceName string, pages []document.Page, chunks []document.Chunk) Document {
	doc := Document{ID: documentID, SourceName: sourceName}
	for _, p := range pages {
		doc.Pages = append(doc.Pages, Page{
			Number:       p.PageNumber,
			Confidence:   string(p.Confidence),
			UnclearCount: p.UnclearCount,
			Characters:   len([]rune(p.Text)),
		})
	}
	for _, c := range chunks {
		doc.Chunks = append(doc.Chunks, Chunk{ID: c.ID, Page: c.PageNumber, Index: c.Index, Text: c.Text})
	}
	return doc
}

func pageID(documentID string, number int) string {
	return documentID + ":" + strconv.Itoa(number)
}

// SyncDocument replaces the provenance subgraph of doc.
func SyncDocument(ctx context.Context, driver neo4j.DriverWithContext, doc Document) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	pages := make([]map[string]any, 0, len(doc.Pages))
	for _, p := range doc.Pages {
		pages = append(pages, map[string]any{
			"id":            pageID(doc.ID, p.Number),
			"number":        p.Number,
			"confidence":    p.Confidence,
			"unclear_count": p.UnclearCount,
			"characters":    p.Characters,
		})
	}
	chunks := make([]map[string]any, 0, len(doc.Chunks))
	for _, c := range doc.Chunks {
		chunks = append(chunks, map[string]any{
			"id":      c.ID,
			"page_id": pageID(doc.ID, c.Page),
			"index":   c.Index,
			"text":    c.Text,
		})
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {id: $id})
			SET d.source_name = $source_name,
			    d.updated_at = datetime()
		`, map[string]any{"id": doc.ID, "source_name": doc.SourceName}); err != nil {
			return nil, fmt.Errorf("upsert document node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[:HAS_PAGE]->(p:Page)
			OPTIONAL MATCH (p)-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c, p
		`, map[string]any{"id": doc.ID}); err != nil {
			return nil, fmt.Errorf("clear existing pages: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})
			UNWIND $pages AS page
			CREATE (p:Page {id: page.id})
			SET p.number = page.number,
			    p.confidence = page.confidence,
			    p.unclear_count = page.unclear_count,
			    p.characters = page.characters
			CREATE (d)-[:HAS_PAGE {number: page.number}]->(p)
		`, map[string]any{"id": doc.ID, "pages": pages}); err != nil {
			return nil, fmt.Errorf("create page nodes: %w", err)
		}

		if _, err := tx.Run(ctx, `
			UNWIND $chunks AS chunk
			MATCH (p:Page {id: chunk.page_id})
			CREATE (c:Chunk {id: chunk.id})
			SET c.index = chunk.index,
			    c.text = chunk.text
			CREATE (p)-[:HAS_CHUNK {order: chunk.index}]->(c)
		`, map[string]any{"chunks": chunks}); err != nil {
			return nil, fmt.Errorf("create chunk nodes: %w", err)
		}

		return nil, nil
	})
	return err
}

// DeleteDocument removes a document and its pages and chunks.
func DeleteDocument(ctx context.Context, driver neo4j.DriverWithContext, documentID string) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})
			OPTIONAL MATCH (d)-[:HAS_PAGE]->(p:Page)
			OPTIONAL MATCH (p)-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c, p, d
		`, map[string]any{"id": documentID})
		if err != nil {
			return nil, fmt.Errorf("delete document graph: %w", err)
		}
		return result.Consume(ctx)
	})
	return err
}

// DocumentSummary reads back the page and chunk counts of a document.
func DocumentSummary(ctx context.Context, driver neo4j.DriverWithContext, documentID string) (Summary, error) {
	if driver == nil {
		return Summary{}, fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})
			OPTIONAL MATCH (d)-[:HAS_PAGE]->(p:Page)
			OPTIONAL MATCH (p)-[:HAS_CHUNK]->(c:Chunk)
			RETURN count(DISTINCT p) AS pages,
			       count(DISTINCT CASE WHEN p.confidence = 'low' THEN p END) AS low_pages,
			       count(DISTINCT c) AS chunks
		`, map[string]any{"id": documentID})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return Summary{}, result.Err()
		}
		record := result.Record()
		pages, _, _ := neo4j.GetRecordValue[int64](record, "pages")
		low, _, _ := neo4j.GetRecordValue[int64](record, "low_pages")
		chunks, _, _ := neo4j.GetRecordValue[int64](record, "chunks")
		return Summary{Pages: int(pages), LowConfidencePages: int(low), Chunks: int(chunks)}, nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("read document summary: %w", err)
	}
	return out.(Summary), nil
}

// Graph binds the package functions to one driver.
type Graph struct {
	driver neo4j.DriverWithContext
}

func NewGraph(driver neo4j.DriverWithContext) *Graph {
	return &Graph{driver: driver}
}

func (g *Graph) Sync(ctx context.Context, doc Document) error {
	return SyncDocument(ctx, g.driver, doc)
}

func (g *Graph) Delete(ctx context.Context, documentID string) error {
	return DeleteDocument(ctx, g.driver, documentID)
}

func (g *Graph) Summary(ctx context.Context, documentID string) (Summary, error) {
	return DocumentSummary(ctx, g.driver, documentID)
}
