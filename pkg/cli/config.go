package cli

import (
	"context"
	"time"

	"github.com/m-mizutani/docent/pkg/adapter"
	"github.com/m-mizutani/docent/pkg/agent"
	"github.com/m-mizutani/docent/pkg/infra"
	"github.com/m-mizutani/docent/pkg/policy"
	"github.com/m-mizutani/docent/pkg/repository"
	"github.com/m-mizutani/docent/pkg/service/llm"
	"github.com/m-mizutani/docent/pkg/service/search"
	"github.com/m-mizutani/docent/pkg/tool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Google Cloud
	project  string
	database string
	bucket   string

	// LLM
	geminiProject   string
	geminiLocation  string
	generativeModel string
	embeddingModel  string
	embedder        string
	openaiAPIKey    string
	openaiModel     string
	azureEndpoint   string
	azureAPIVersion string
	queryCacheTTL   time.Duration

	// Search
	searchBackend string
	postgresDSN   string
	pdfIndex      string
	webIndex      string

	// Sessions
	sessionBackend string
	redisURL       string
	sessionTTL     time.Duration

	// Agent
	policyDir string
	maxRounds int64
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("DOCENT_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("DOCENT_FIRESTORE_DATABASE"),
			Destination: &cfg.database,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini (defaults to --project)",
			Sources:     cli.EnvVars("DOCENT_GEMINI_PROJECT"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("DOCENT_GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "generative-model",
			Usage:       "Gemini model for chat and vision",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("DOCENT_GENERATIVE_MODEL"),
			Destination: &cfg.generativeModel,
		},
		&cli.StringFlag{
			Name:        "embedder",
			Usage:       "Embedding provider (gemini, openai)",
			Value:       "gemini",
			Sources:     cli.EnvVars("DOCENT_EMBEDDER"),
			Destination: &cfg.embedder,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Gemini embedding model",
			Value:       "gemini-embedding-001",
			Sources:     cli.EnvVars("DOCENT_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI or Azure OpenAI API key",
			Sources:     cli.EnvVars("DOCENT_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Usage:       "OpenAI embedding model or Azure deployment",
			Value:       "text-embedding-3-small",
			Sources:     cli.EnvVars("DOCENT_OPENAI_MODEL"),
			Destination: &cfg.openaiModel,
		},
		&cli.StringFlag{
			Name:        "azure-endpoint",
			Usage:       "Azure OpenAI endpoint; empty uses api.openai.com",
			Sources:     cli.EnvVars("DOCENT_AZURE_OPENAI_ENDPOINT"),
			Destination: &cfg.azureEndpoint,
		},
		&cli.StringFlag{
			Name:        "azure-api-version",
			Usage:       "Azure OpenAI API version",
			Value:       "2024-06-01",
			Sources:     cli.EnvVars("DOCENT_AZURE_OPENAI_API_VERSION"),
			Destination: &cfg.azureAPIVersion,
		},
		&cli.DurationFlag{
			Name:        "query-cache-ttl",
			Usage:       "Lifetime of cached query embeddings, 0 disables the cache",
			Value:       30 * time.Minute,
			Sources:     cli.EnvVars("DOCENT_QUERY_CACHE_TTL"),
			Destination: &cfg.queryCacheTTL,
		},
	}
}

// searchFlags returns flags selecting the search backend and index names
func searchFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "search-backend",
			Usage:       "Search backend (firestore, postgres)",
			Value:       "firestore",
			Sources:     cli.EnvVars("DOCENT_SEARCH_BACKEND"),
			Destination: &cfg.searchBackend,
		},
		&cli.StringFlag{
			Name:        "postgres-dsn",
			Usage:       "PostgreSQL DSN for the postgres search backend",
			Sources:     cli.EnvVars("DOCENT_POSTGRES_DSN"),
			Destination: &cfg.postgresDSN,
		},
		&cli.StringFlag{
			Name:        "pdf-index",
			Usage:       "Index of PDF document chunks",
			Value:       infra.DefaultPDFIndex,
			Sources:     cli.EnvVars("DOCENT_PDF_INDEX"),
			Destination: &cfg.pdfIndex,
		},
		&cli.StringFlag{
			Name:        "web-index",
			Usage:       "Index of web pages",
			Value:       infra.DefaultWebIndex,
			Sources:     cli.EnvVars("DOCENT_WEB_INDEX"),
			Destination: &cfg.webIndex,
		},
	}
}

// sessionFlags returns flags selecting the session store
func sessionFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "session-backend",
			Usage:       "Session store (memory, redis, firestore)",
			Value:       "memory",
			Sources:     cli.EnvVars("DOCENT_SESSION_BACKEND"),
			Destination: &cfg.sessionBackend,
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Usage:       "Redis URL for the redis session store",
			Sources:     cli.EnvVars("DOCENT_REDIS_URL", "REDIS_URL"),
			Destination: &cfg.redisURL,
		},
		&cli.DurationFlag{
			Name:        "session-ttl",
			Usage:       "Lifetime of idle sessions in the memory and redis stores",
			Value:       24 * time.Hour,
			Sources:     cli.EnvVars("DOCENT_SESSION_TTL"),
			Destination: &cfg.sessionTTL,
		},
	}
}

// blobFlags returns flags for the blob store
func blobFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bucket",
			Aliases:     []string{"b"},
			Usage:       "Cloud Storage bucket holding PDFs and extracted images",
			Sources:     cli.EnvVars("DOCENT_BUCKET"),
			Destination: &cfg.bucket,
		},
	}
}

// agentFlags returns flags for the conversational agent
func agentFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of rego policies (ingest, answer)",
			Sources:     cli.EnvVars("DOCENT_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.IntFlag{
			Name:        "max-rounds",
			Usage:       "Maximum tool rounds per question",
			Value:       agent.DefaultMaxRounds,
			Sources:     cli.EnvVars("DOCENT_MAX_ROUNDS"),
			Destination: &cfg.maxRounds,
		},
	}
}

// allFlags is the flag set of commands that use the whole container
func allFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, searchFlags(cfg)...)
	flags = append(flags, sessionFlags(cfg)...)
	flags = append(flags, blobFlags(cfg)...)
	flags = append(flags, agentFlags(cfg)...)
	return flags
}

// newContainer creates the service container backed by cfg
func (cfg *config) newContainer(tools ...tool.Tool) *infra.Container {
	return infra.New(cfg,
		infra.WithIndexes(cfg.pdfIndex, cfg.webIndex),
		infra.WithLLMOptions(llm.WithQueryCache(cfg.queryCacheTTL)),
		infra.WithAgentOptions(agent.WithMaxRounds(int(cfg.maxRounds))),
		infra.WithTools(tools...),
	)
}

// NewGemini creates a new Gemini adapter instance
func (cfg *config) NewGemini(ctx context.Context) (adapter.Gemini, error) {
	project := cfg.geminiProject
	if project == "" {
		project = cfg.project
	}
	if project == "" {
		return nil, goerr.New("gemini-project or project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	client, err := adapter.NewGemini(ctx, project, cfg.geminiLocation,
		adapter.WithGenerativeModel(cfg.generativeModel),
		adapter.WithEmbeddingModel(cfg.embeddingModel),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return client, nil
}

// NewEmbedder creates the embedding provider selected by --embedder
func (cfg *config) NewEmbedder(ctx context.Context) (adapter.Embedder, error) {
	switch cfg.embedder {
	case "", "gemini":
		gemini, err := cfg.NewGemini(ctx)
		if err != nil {
			return nil, err
		}
		embedder, ok := gemini.(adapter.Embedder)
		if !ok {
			return nil, goerr.New("gemini client cannot embed")
		}
		return embedder, nil

	case "openai":
		opts := []adapter.OpenAIOption{adapter.WithOpenAIModel(cfg.openaiModel)}
		if cfg.azureEndpoint != "" {
			opts = append(opts, adapter.WithAzure(cfg.azureEndpoint, cfg.azureAPIVersion))
		}
		client, err := adapter.NewOpenAI(cfg.openaiAPIKey, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create openai client")
		}
		return client, nil

	default:
		return nil, goerr.New("unsupported embedder", goerr.V("embedder", cfg.embedder))
	}
}

// NewBlob creates a new Storage adapter instance
func (cfg *config) NewBlob(ctx context.Context) (adapter.Storage, error) {
	if cfg.bucket == "" {
		return nil, goerr.New("bucket is required")
	}

	storage, err := adapter.NewStorage(ctx, cfg.bucket)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// NewSearchBackend creates the backend selected by --search-backend
func (cfg *config) NewSearchBackend(ctx context.Context) (search.Backend, error) {
	switch cfg.searchBackend {
	case "", "firestore":
		if cfg.project == "" {
			return nil, goerr.New("project is required")
		}
		backend, err := search.NewFirestore(ctx, cfg.project, cfg.database)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create firestore search backend")
		}
		return backend, nil

	case "postgres":
		if cfg.postgresDSN == "" {
			return nil, goerr.New("postgres-dsn is required")
		}
		backend, err := search.NewPostgres(cfg.postgresDSN)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create postgres search backend")
		}
		return backend, nil

	default:
		return nil, goerr.New("unsupported search backend", goerr.V("backend", cfg.searchBackend))
	}
}

// NewSessions creates the session store selected by --session-backend
func (cfg *config) NewSessions(ctx context.Context) (repository.SessionStore, error) {
	switch cfg.sessionBackend {
	case "", "memory":
		return repository.NewMemory(cfg.sessionTTL), nil

	case "redis":
		if cfg.redisURL == "" {
			return nil, goerr.New("redis-url is required")
		}
		store, err := repository.NewRedis(cfg.redisURL, repository.WithTTL(cfg.sessionTTL))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create redis session store")
		}
		return store, nil

	case "firestore":
		if cfg.project == "" {
			return nil, goerr.New("project is required")
		}
		store, err := repository.NewFirestore(ctx, cfg.project, cfg.database)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create firestore session store")
		}
		return store, nil

	default:
		return nil, goerr.New("unsupported session backend", goerr.V("backend", cfg.sessionBackend))
	}
}

// NewPolicy loads the rego policies of --policy-dir
func (cfg *config) NewPolicy(ctx context.Context) (*policy.Engine, error) {
	engine, err := policy.New(ctx, cfg.policyDir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load policies", goerr.V("dir", cfg.policyDir))
	}
	return engine, nil
}
