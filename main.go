package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/astrolab/research-agent/api"
	"github.com/astrolab/research-agent/chat"
	"github.com/astrolab/research-agent/config"
	"github.com/astrolab/research-agent/database"
	"github.com/astrolab/research-agent/docmeta"
	"github.com/astrolab/research-agent/embeddings"
	"github.com/astrolab/research-agent/imagestore"
	"github.com/astrolab/research-agent/ingestion"
	"github.com/astrolab/research-agent/knowledge"
	"github.com/astrolab/research-agent/llm"
	"github.com/astrolab/research-agent/multimodal"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "ingest":
		ingestCmd(cfg, logger, os.Args[2:])
	case "chat":
		chatCmd(cfg, logger, os.Args[2:])
	case "clear":
		clearCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.ListenAddr, "address to listen on")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	if err := database.EnsureSchema(ctx, pgPool, cfg.Embeddings.Dimension); err != nil {
		logger.Fatalf("ensure schema: %v", err)
	}

	neo4jDriver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Fatalf("neo4j connection: %v", err)
	}
	defer neo4jDriver.Close(ctx)

	orch, ingest, images, err := buildServices(cfg, logger, pgPool, neo4jDriver)
	if err != nil {
		logger.Fatalf("service setup: %v", err)
	}

	deps := api.Deps{
		Query:  orch,
		Ingest: ingest,
		Images: images,
		Describer: multimodal.NewVisionDescriber(multimodal.Options{
			Model:   cfg.LLM.Models[0],
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
		}),
		Clear: func(ctx context.Context) error {
			return clearAll(ctx, cfg, logger, pgPool, neo4jDriver)
		},
	}

	server := api.New(cfg, deps, logger)
	httpServer := &http.Server{Addr: *addr, Handler: server}

	go func() {
		<-ctx.Done()
		shutdownCtx := context.Background()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("server shutdown: %v", err)
		}
	}()

	logger.Printf("serving on %s with model roster %s", *addr, strings.Join(cfg.LLM.Models, ", "))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server: %v", err)
	}
}

func ingestCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	dataDir := flags.String("dir", cfg.DataDir, "path to directory containing documents")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ingest flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	neo4jDriver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Fatalf("neo4j connection: %v", err)
	}
	defer neo4jDriver.Close(ctx)

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		logger.Fatalf("embedder setup: %v", err)
	}

	meta := docmeta.NewStore(cfg.DocMetadataPath, logger)
	svc := ingestion.NewService(pgPool, neo4jDriver, embedder, meta, logger, cfg.Embeddings.Dimension)
	logger.Printf("ingesting documents from %s using %s/%s embeddings", *dataDir, strings.ToUpper(cfg.Embeddings.Provider), cfg.Embeddings.Model)

	if err := svc.IngestDirectory(ctx, *dataDir); err != nil {
		logger.Fatalf("ingestion failed: %v", err)
	}
}

func chatCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("chat", flag.ExitOnError)
	question := flags.String("question", "", "question to ask the assistant")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse chat flags: %v", err)
	}

	if strings.TrimSpace(*question) == "" {
		fmt.Print("Enter your question: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			*question = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Fatalf("read question: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	neo4jDriver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Fatalf("neo4j connection: %v", err)
	}
	defer neo4jDriver.Close(ctx)

	orch, _, _, err := buildServices(cfg, logger, pgPool, neo4jDriver)
	if err != nil {
		logger.Fatalf("service setup: %v", err)
	}

	result := orch.Query(ctx, *question)

	fmt.Println(result.Answer)
	if result.Model != "" {
		fmt.Printf("\n(answered by %s)\n", result.Model)
	}
	if len(result.Sources) > 0 {
		fmt.Println("\nSources:")
		for idx, source := range result.Sources {
			fmt.Printf("%d. %s (relevance %.2f)\n", idx+1, source.FileName, source.Score)
			if source.URL != "" {
				fmt.Printf("   %s\n", source.URL)
			}
			fmt.Printf("   %s\n", source.Excerpt)
		}
	}
	if len(result.Images) > 0 {
		fmt.Println("\nFigures:")
		for _, image := range result.Images {
			fmt.Printf("- %s (%s, page %d)\n", image.Path, image.SourcePDF, image.Page)
		}
	}
}

func clearCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse clear flags: %v", err)
	}

	if !*confirmed {
		fmt.Print("This will permanently delete all indexed documents, metadata, and extracted images. Continue? [y/N]: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				logger.Fatalf("read confirmation: %v", err)
			}
			logger.Println("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			logger.Println("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	neo4jDriver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Fatalf("neo4j connection: %v", err)
	}
	defer neo4jDriver.Close(ctx)

	if err := clearAll(ctx, cfg, logger, pgPool, neo4jDriver); err != nil {
		logger.Fatalf("clear failed: %v", err)
	}

	logger.Println("indexed data removed")
}

func buildServices(cfg config.Config, logger *log.Logger, pgPool *pgxpool.Pool, neo4jDriver neo4j.DriverWithContext) (*chat.Orchestrator, *ingestion.Service, *imagestore.Store, error) {
	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("embedder setup: %w", err)
	}

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("llm setup: %w", err)
	}

	meta := docmeta.NewStore(cfg.DocMetadataPath, logger)
	images := imagestore.NewStore(cfg.ImageStorePath, logger)

	vectorStore := chat.NewPostgresVectorStore(pgPool)
	graphStore := chat.NewNeo4jGraphStore(neo4jDriver)
	engine := chat.NewRAGEngine(vectorStore, graphStore, embedder, llmClient, cfg.Retrieval.TopK, logger)

	orch, err := chat.NewOrchestrator(engine, images, meta, cfg.LLM.Models, chat.Options{
		RelevanceThreshold: cfg.Retrieval.RelevanceThreshold,
		ExcerptLength:      cfg.Retrieval.ExcerptLength,
		MaxImages:          cfg.Retrieval.MaxImages,
		OnDowngrade: func(modelIndex int) {
			logger.Printf("switched to fallback model %s", cfg.LLM.Models[modelIndex])
		},
	}, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("orchestrator setup: %w", err)
	}

	ingest := ingestion.NewService(pgPool, neo4jDriver, embedder, meta, logger, cfg.Embeddings.Dimension)

	return orch, ingest, images, nil
}

func clearAll(ctx context.Context, cfg config.Config, logger *log.Logger, pgPool *pgxpool.Pool, neo4jDriver neo4j.DriverWithContext) error {
	if _, err := pgPool.Exec(ctx, "TRUNCATE rag_chunks, rag_documents"); err != nil {
		return fmt.Errorf("truncate postgres tables: %w", err)
	}
	logger.Println("cleared Postgres rag_documents and rag_chunks")

	if err := knowledge.Purge(ctx, neo4jDriver); err != nil {
		return fmt.Errorf("clear neo4j: %w", err)
	}
	logger.Println("cleared Neo4j document graph")

	if err := docmeta.NewStore(cfg.DocMetadataPath, logger).Clear(); err != nil {
		return err
	}
	if err := imagestore.NewStore(cfg.ImageStorePath, logger).Clear(); err != nil {
		return err
	}
	logger.Println("cleared document and image metadata stores")

	return nil
}

func printUsage() {
	fmt.Println("Usage: research-agent <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve    Run the HTTP API and web chat UI")
	fmt.Println("  ingest   Index documents from the data directory (use --dir to override)")
	fmt.Println("  chat     Ask a single question from the command line")
	fmt.Println("  clear    Remove all indexed data")
}
