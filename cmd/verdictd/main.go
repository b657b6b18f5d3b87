package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/policygenie/verdict/pkg/audit"
	"github.com/policygenie/verdict/pkg/cache"
	"github.com/policygenie/verdict/pkg/claims"
	"github.com/policygenie/verdict/pkg/config"
	"github.com/policygenie/verdict/pkg/fraud"
	"github.com/policygenie/verdict/pkg/llm"
	"github.com/policygenie/verdict/pkg/ml"
	"github.com/policygenie/verdict/pkg/rag"
	"github.com/policygenie/verdict/pkg/risk"
)

const Version = "0.1.0"

// Engine bundles every service of the decision pipeline. All components
// are constructed here and injected explicitly; optional ones degrade
// gracefully when their backend is unavailable.
type Engine struct {
	config      *config.Config
	cache       *cache.Cache
	fraud       *fraud.Ensemble
	risk        *risk.Assessor
	adjudicator *claims.Adjudicator
	store       *rag.Store
	ingestor    *rag.Ingestor
	trail       *audit.Trail
	generator   *llm.Client
}

func NewEngine(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	cfg.MustValidate()

	byteCache := cache.New(cfg.CacheMaxSize, cache.Connect(cfg.RedisAddr, cfg.RedisPassword))

	// Local ONNX classifiers - all optional
	fraudClf := newClassifier("fraud", cfg.FraudModelPath, cfg.OnnxLibraryPath)
	sentimentClf := newClassifier("sentiment", cfg.SentimentModelPath, cfg.OnnxLibraryPath)
	financialClf := newClassifier("financial", cfg.FinancialModelPath, cfg.OnnxLibraryPath)
	clauseClf := newClassifier("clause", cfg.ClauseModelPath, cfg.OnnxLibraryPath)

	// Fraud pattern registry, optionally extended by seed files
	registry := fraud.DefaultRegistry()
	if cfg.PatternSeedDir != "" {
		loaded, err := fraud.LoadSeeds(cfg.PatternSeedDir)
		if err != nil {
			log.Printf("○ Pattern seeds not loaded (%v), using built-ins", err)
		} else {
			log.Printf("✓ Fraud patterns loaded (%d total)", loaded.TotalPatterns())
		}
		registry = loaded
	}

	if cfg.ChecklistPath != "" {
		if err := claims.LoadChecklistOverrides(cfg.ChecklistPath); err != nil {
			log.Printf("○ Checklist overrides not loaded (%v), using built-ins", err)
		} else {
			log.Printf("✓ Checklist overrides loaded (%s)", cfg.ChecklistPath)
		}
	}

	ensemble := fraud.NewEnsemble([]fraud.Detector{
		fraud.NewPatternDetector(registry),
		fraud.NewModelDetector(fraudClf),
		fraud.NewSentimentDetector(sentimentClf),
		fraud.NewStatisticalDetector(cfg.HighClaimAmount),
	}, byteCache, cfg.FraudThreshold, cfg.CacheTTL)

	// Generative tier - optional
	var generator *llm.Client
	if cfg.LLMProvider != config.ProviderNone {
		generator = llm.NewClient(llm.ClientConfig{
			Provider: cfg.LLMProvider,
			APIKey:   cfg.LLMAPIKey,
			Model:    cfg.LLMModel,
			BaseURL:  cfg.LLMBaseURL,
			Timeout:  time.Duration(cfg.LLMTimeoutMs) * time.Millisecond,
		})
		log.Printf("✓ LLM adjudication enabled (provider: %s, model: %s)", cfg.LLMProvider, cfg.LLMModel)
	} else {
		log.Println("○ LLM adjudication disabled (provider: none)")
	}

	embedder := llm.NewEmbedder(llm.EmbedderConfig{
		BaseURL: cfg.EmbeddingBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.EmbeddingModel,
	})

	store, err := rag.NewStore(embedder.Embed)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	ingestor := rag.NewIngestor(store, rag.NewClauseLabeler(clauseClf), ensemble, cfg.MinExtractChars, cfg.ChunkMaxWords)

	trail := audit.Open(ctx, cfg.DatabaseURL)

	// Typed nils must not leak into the optional interfaces.
	var riskGen risk.Generator
	var claimsGen claims.Generator
	if generator != nil {
		riskGen = generator
		claimsGen = generator
	}

	return &Engine{
		config:      cfg,
		cache:       byteCache,
		fraud:       ensemble,
		risk:        risk.NewAssessor(cfg, ensemble, financialClf, store, riskGen),
		adjudicator: claims.NewAdjudicator(cfg, ensemble, store, claimsGen, trail),
		store:       store,
		ingestor:    ingestor,
		trail:       trail,
		generator:   generator,
	}, nil
}

func newClassifier(name, modelPath, onnxLib string) *ml.TextClassifier {
	clf := ml.NewWithFallback(ml.ClassifierConfig{
		ModelPath:       modelPath,
		PipelineName:    name,
		OnnxLibraryPath: onnxLib,
	})
	if clf.IsReady() {
		log.Printf("✓ %s classifier enabled (%s)", name, modelPath)
	} else {
		log.Printf("○ %s classifier disabled (no model at %s)", name, modelPath)
	}
	return clf
}

func (e *Engine) Close() {
	e.trail.Close()
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		addr := ""
		if len(os.Args) > 2 {
			addr = ":" + strings.TrimPrefix(os.Args[2], ":")
		}
		runHTTPServer(addr)
	case "scan":
		if len(os.Args) < 3 {
			fmt.Println("Usage: verdictd scan <text>")
			os.Exit(1)
		}
		runCLIScan(strings.Join(os.Args[2:], " "))
	case "version":
		fmt.Printf("PolicyGenie Verdict v%s\n", Version)
		fmt.Println("Insurance Decision Engine")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("PolicyGenie Verdict v%s - Insurance Decision Engine\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  verdictd serve [port]     Start HTTP server (default: 8000)")
	fmt.Println("  verdictd scan <text>      Score a claim narrative for fraud")
	fmt.Println("  verdictd version          Show version")
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Println("  verdictd serve 8080")
	fmt.Println("  verdictd scan \"My car was stolen and all evidence is unavailable\"")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  VERDICT_LLM_API_KEY      API key for the generative adjudication tier")
	fmt.Println("  VERDICT_LLM_PROVIDER     Provider: ollama, openrouter, groq, openai (default: auto)")
	fmt.Println("  VERDICT_DATABASE_URL     Postgres DSN for the audit decision trail")
	fmt.Println("  VERDICT_REDIS_ADDR       Redis address for the second cache tier")
	fmt.Println("  VERDICT_FRAUD_MODEL      Path to the fraud ONNX classifier")
}

// ============================================================================
// HTTP Server Mode
// ============================================================================

func runHTTPServer(addr string) {
	cfg := config.NewDefaultConfig()
	if addr != "" {
		cfg.ListenAddr = addr
	}

	engine, err := NewEngine(context.Background(), cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	app := fiber.New(fiber.Config{
		AppName:   "PolicyGenie Verdict",
		BodyLimit: int(cfg.MaxUploadBytes),
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":          "ok",
			"version":         Version,
			"indexed_chunks":  engine.store.Count(),
			"audit_enabled":   engine.trail.Enabled(),
			"fraud_threshold": engine.fraud.Threshold(),
		})
	})

	// Claims adjudication: fraud pre-filter, grounded decision,
	// deterministic overrides.
	app.Post("/process-claim", func(c fiber.Ctx) error {
		var claim claims.Claim
		if err := c.Bind().Body(&claim); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		result, err := engine.adjudicator.Process(c.Context(), &claim)
		if err != nil {
			if errors.Is(err, claims.ErrEmptyDescription) {
				return c.Status(400).JSON(fiber.Map{"error": err.Error()})
			}
			log.Printf("[WARN] process-claim failed: %v", err)
			return c.Status(502).JSON(fiber.Map{"error": "claims processing failed"})
		}
		return c.JSON(fiber.Map{"result": result})
	})

	// Multi-factor risk assessment.
	app.Post("/assess-risk", func(c fiber.Ctx) error {
		var req struct {
			Profile        json.RawMessage `json:"profile"`
			PolicyType     string          `json:"policy_type"`
			CoverageAmount float64         `json:"coverage_amount"`
			FraudCheck     *bool           `json:"fraud_check"`
			Explainability bool            `json:"explainability"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if len(req.Profile) == 0 {
			return c.Status(400).JSON(fiber.Map{"error": "profile field is required"})
		}

		fraudCheck := true
		if req.FraudCheck != nil {
			fraudCheck = *req.FraudCheck
		}
		result := engine.risk.Assess(c.Context(), risk.ParseProfile(req.Profile), risk.Options{
			PolicyType:     req.PolicyType,
			CoverageAmount: req.CoverageAmount,
			FraudCheck:     fraudCheck,
			Explainability: req.Explainability,
		})
		if err := engine.trail.RecordRiskDecision(c.Context(), req.PolicyType, result.Decision, result.RiskScore); err != nil {
			log.Printf("[WARN] audit record failed: %v", err)
		}
		return c.JSON(result)
	})

	// Counterfactual comparison of two applicant profiles.
	app.Post("/what-if", func(c fiber.Ctx) error {
		var req struct {
			Current        json.RawMessage `json:"current"`
			Scenario       json.RawMessage `json:"scenario"`
			PolicyType     string          `json:"policy_type"`
			CoverageAmount float64         `json:"coverage_amount"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if len(req.Current) == 0 || len(req.Scenario) == 0 {
			return c.Status(400).JSON(fiber.Map{"error": "current and scenario profiles are required"})
		}
		result := engine.risk.WhatIf(c.Context(),
			risk.ParseProfile(req.Current), risk.ParseProfile(req.Scenario),
			req.PolicyType, req.CoverageAmount)
		return c.JSON(result)
	})

	// Standalone fraud scoring.
	app.Post("/fraud-check", func(c fiber.Ctx) error {
		var req struct {
			Text        string  `json:"text"`
			ClaimAmount float64 `json:"claim_amount"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if strings.TrimSpace(req.Text) == "" {
			return c.Status(400).JSON(fiber.Map{"error": "text field is required"})
		}
		result := engine.fraud.Assess(c.Context(), req.Text, &fraud.Metadata{ClaimAmount: req.ClaimAmount})
		return c.JSON(result)
	})

	// Grounded policy Q&A.
	app.Post("/chat", func(c fiber.Ctx) error {
		var req struct {
			Query string `json:"query"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if strings.TrimSpace(req.Query) == "" {
			return c.Status(400).JSON(fiber.Map{"error": "query field is required"})
		}
		if engine.generator == nil {
			return c.Status(503).JSON(fiber.Map{"error": "no generation backend configured"})
		}

		contextText := ""
		chunks := 0
		if passages, err := engine.store.Retrieve(c.Context(), req.Query, cfg.RetrieveTopK); err == nil {
			parts := make([]string, len(passages))
			for i, p := range passages {
				parts[i] = p.Content
			}
			contextText = strings.Join(parts, "\n\n")
			chunks = len(passages)
		}

		prompt := fmt.Sprintf(`You are a helpful insurance advisor.

POLICY CONTEXT:
%s

CUSTOMER QUESTION:
%s

Provide a clear, accurate answer with policy clause references where applicable.`, contextText, req.Query)

		answer, err := engine.generator.Generate(c.Context(), prompt, 0.7, 2000)
		if err != nil {
			log.Printf("[WARN] chat generation failed: %v", err)
			return c.Status(502).JSON(fiber.Map{"error": "generation failed"})
		}
		return c.JSON(fiber.Map{"answer": answer, "context_chunks": chunks})
	})

	// Document ingestion into the retrieval index. Text extraction
	// happens upstream; this accepts extracted text.
	app.Post("/ingest", func(c fiber.Ctx) error {
		var req struct {
			Source string `json:"source"`
			Text   string `json:"text"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		result, err := engine.ingestor.IngestDocument(c.Context(), req.Source, req.Text)
		if err != nil {
			return c.Status(422).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(result)
	})

	log.Printf("[STARTUP] Verdict decision engine listening on %s", cfg.ListenAddr)
	log.Printf("Endpoints:")
	log.Printf("  GET  /health         - Health and readiness")
	log.Printf("  POST /process-claim  - Staged claims adjudication")
	log.Printf("  POST /assess-risk    - Multi-factor risk assessment")
	log.Printf("  POST /what-if        - Counterfactual profile comparison")
	log.Printf("  POST /fraud-check    - Standalone fraud scoring")
	log.Printf("  POST /chat           - Grounded policy Q&A")
	log.Printf("  POST /ingest         - Index a policy document")

	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Fatal(err)
	}
}

// ============================================================================
// CLI Mode
// ============================================================================

func runCLIScan(text string) {
	cfg := config.NewDefaultConfig()
	engine, err := NewEngine(context.Background(), cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	result := engine.fraud.Assess(context.Background(), text, nil)
	output, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(output))
}
