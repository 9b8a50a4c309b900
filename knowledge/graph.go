// Package knowledge mirrors ingested documents into a Neo4j graph so the
// chat layer can enrich citations with folder, topic, and related-document
// context.
package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Document struct {
	ID       string
	Path     string
	FileName string
	Title    string
	SHA      string
	Folder   string
	Chunks   []Chunk
	Topics   []Topic
}

type Chunk struct {
	ID    string
	Index int
	Page  int
}

type Topic struct {
	Name string
}

// SyncDocument upserts the document node and rebuilds its chunk, folder, and
// topic relations.
func SyncDocument(ctx context.Context, driver neo4j.DriverWithContext, doc Document) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	params := map[string]any{
		"id":       doc.ID,
		"path":     doc.Path,
		"fileName": doc.FileName,
		"title":    doc.Title,
		"sha":      doc.SHA,
		"folder":   doc.Folder,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {id: $id})
			SET d.path = $path,
			    d.file_name = $fileName,
			    d.title = $title,
			    d.sha256 = $sha,
			    d.updated_at = datetime()
		`, params); err != nil {
			return nil, fmt.Errorf("upsert document node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[r:IN_FOLDER]->(:Folder)
			DELETE r
		`, params); err != nil {
			return nil, fmt.Errorf("remove stale folder relation: %w", err)
		}
		if doc.Folder != "" {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $id})
				MERGE (f:Folder {name: $folder})
				MERGE (d)-[:IN_FOLDER]->(f)
			`, params); err != nil {
				return nil, fmt.Errorf("upsert folder relation: %w", err)
			}
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c
		`, params); err != nil {
			return nil, fmt.Errorf("remove stale chunks: %w", err)
		}
		for _, chunk := range doc.Chunks {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $id})
				MERGE (c:Chunk {id: $chunkId})
				SET c.index = $index,
				    c.page = $page
				MERGE (d)-[:HAS_CHUNK]->(c)
			`, map[string]any{
				"id":      doc.ID,
				"chunkId": chunk.ID,
				"index":   chunk.Index,
				"page":    chunk.Page,
			}); err != nil {
				return nil, fmt.Errorf("upsert chunk node: %w", err)
			}
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[r:HAS_TOPIC]->(:Topic)
			DELETE r
		`, params); err != nil {
			return nil, fmt.Errorf("remove stale topic relations: %w", err)
		}
		for _, topic := range doc.Topics {
			if topic.Name == "" {
				continue
			}
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $id})
				MERGE (t:Topic {name: $topic})
				MERGE (d)-[:HAS_TOPIC]->(t)
			`, map[string]any{
				"id":    doc.ID,
				"topic": topic.Name,
			}); err != nil {
				return nil, fmt.Errorf("upsert topic relation: %w", err)
			}
		}

		return nil, nil
	})
	if err != nil {
		return err
	}

	return nil
}

// Purge removes every document, chunk, folder, and topic node.
func Purge(ctx context.Context, driver neo4j.DriverWithContext) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	queries := []string{
		"MATCH (d:Document) DETACH DELETE d",
		"MATCH (c:Chunk) DETACH DELETE c",
		"MATCH (f:Folder) DETACH DELETE f",
		"MATCH (t:Topic) DETACH DELETE t",
	}

	for _, query := range queries {
		result, err := session.Run(ctx, query, nil)
		if err != nil {
			return err
		}
		if _, err := result.Consume(ctx); err != nil {
			return err
		}
	}
	return nil
}
