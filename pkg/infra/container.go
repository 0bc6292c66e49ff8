// Package infra owns the long-lived services of the process. Each one is
// built on first use and shared afterwards.
package infra

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/m-mizutani/docent/pkg/adapter"
	"github.com/m-mizutani/docent/pkg/agent"
	"github.com/m-mizutani/docent/pkg/policy"
	"github.com/m-mizutani/docent/pkg/repository"
	"github.com/m-mizutani/docent/pkg/service/llm"
	"github.com/m-mizutani/docent/pkg/service/search"
	"github.com/m-mizutani/docent/pkg/tool"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultPDFIndex = "pdf-products"
	DefaultWebIndex = "web-pages"
)

// Factory creates the clients behind each service. The CLI configuration
// implements it from flags.
type Factory interface {
	NewGemini(ctx context.Context) (adapter.Gemini, error)
	NewEmbedder(ctx context.Context) (adapter.Embedder, error)
	NewBlob(ctx context.Context) (adapter.Storage, error)
	NewSearchBackend(ctx context.Context) (search.Backend, error)
	NewSessions(ctx context.Context) (repository.SessionStore, error)
	NewPolicy(ctx context.Context) (*policy.Engine, error)
}

// lazy holds one service. A failed build leaves it empty so the next call
// tries again.
type lazy[T any] struct {
	mu     sync.Mutex
	loaded atomic.Bool
	value  T
}

func (l *lazy[T]) get(ctx context.Context, build func(ctx context.Context) (T, error)) (T, error) {
	if l.loaded.Load() {
		return l.value, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded.Load() {
		return l.value, nil
	}

	v, err := build(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	l.value = v
	l.loaded.Store(true)
	return v, nil
}

// peek returns the value only if it was built
func (l *lazy[T]) peek() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.loaded.Load()
}

type Container struct {
	factory   Factory
	pdfIndex  string
	webIndex  string
	llmOpts   []llm.Option
	agentOpts []agent.Option
	tools     []tool.Tool

	llm       lazy[*llm.Gateway]
	embedder  lazy[adapter.Embedder]
	blob      lazy[adapter.Storage]
	pdfSearch lazy[*search.Gateway]
	webSearch lazy[*search.Gateway]
	sessions  lazy[repository.SessionStore]
	policy    lazy[*policy.Engine]
	agent     lazy[*agent.Agent]
}

type Option func(*Container)

func WithIndexes(pdf, web string) Option {
	return func(c *Container) {
		if pdf != "" {
			c.pdfIndex = pdf
		}
		if web != "" {
			c.webIndex = web
		}
	}
}

func WithLLMOptions(opts ...llm.Option) Option {
	return func(c *Container) {
		c.llmOpts = append(c.llmOpts, opts...)
	}
}

func WithAgentOptions(opts ...agent.Option) Option {
	return func(c *Container) {
		c.agentOpts = append(c.agentOpts, opts...)
	}
}

// WithTools sets the tools offered to the agent. They are initialized with
// the PDF and web search services when the agent is first built.
func WithTools(tools ...tool.Tool) Option {
	return func(c *Container) {
		c.tools = append(c.tools, tools...)
	}
}

func New(factory Factory, opts ...Option) *Container {
	c := &Container{
		factory:  factory,
		pdfIndex: DefaultPDFIndex,
		webIndex: DefaultWebIndex,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Container) PDFIndex() string { return c.pdfIndex }
func (c *Container) WebIndex() string { return c.webIndex }

func (c *Container) Embedder(ctx context.Context) (adapter.Embedder, error) {
	return c.embedder.get(ctx, func(ctx context.Context) (adapter.Embedder, error) {
		e, err := c.factory.NewEmbedder(ctx)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create embedder")
		}
		return e, nil
	})
}

// LLM returns the gateway shared by chat, vision and embeddings
func (c *Container) LLM(ctx context.Context) (*llm.Gateway, error) {
	return c.llm.get(ctx, func(ctx context.Context) (*llm.Gateway, error) {
		gemini, err := c.factory.NewGemini(ctx)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create gemini client")
		}
		embedder, err := c.Embedder(ctx)
		if err != nil {
			return nil, err
		}
		g, err := llm.New(gemini, embedder, c.llmOpts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create llm gateway")
		}
		return g, nil
	})
}

func (c *Container) Blob(ctx context.Context) (adapter.Storage, error) {
	return c.blob.get(ctx, func(ctx context.Context) (adapter.Storage, error) {
		s, err := c.factory.NewBlob(ctx)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create blob store")
		}
		return s, nil
	})
}

func (c *Container) PDFSearch(ctx context.Context) (*search.Gateway, error) {
	return c.pdfSearch.get(ctx, func(ctx context.Context) (*search.Gateway, error) {
		return c.newSearch(ctx, c.pdfIndex)
	})
}

func (c *Container) WebSearch(ctx context.Context) (*search.Gateway, error) {
	return c.webSearch.get(ctx, func(ctx context.Context) (*search.Gateway, error) {
		return c.newSearch(ctx, c.webIndex)
	})
}

func (c *Container) newSearch(ctx context.Context, index string) (*search.Gateway, error) {
	gateway, err := c.LLM(ctx)
	if err != nil {
		return nil, err
	}
	backend, err := c.factory.NewSearchBackend(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create search backend", goerr.V("index", index))
	}
	return search.New(backend, index, gateway), nil
}

func (c *Container) Sessions(ctx context.Context) (repository.SessionStore, error) {
	return c.sessions.get(ctx, func(ctx context.Context) (repository.SessionStore, error) {
		s, err := c.factory.NewSessions(ctx)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create session store")
		}
		return s, nil
	})
}

func (c *Container) Policy(ctx context.Context) (*policy.Engine, error) {
	return c.policy.get(ctx, func(ctx context.Context) (*policy.Engine, error) {
		p, err := c.factory.NewPolicy(ctx)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create policy engine")
		}
		return p, nil
	})
}

// Agent returns the conversational agent. A search index that cannot be
// opened only disables its tool; the agent fails when neither can.
func (c *Container) Agent(ctx context.Context) (*agent.Agent, error) {
	return c.agent.get(ctx, func(ctx context.Context) (*agent.Agent, error) {
		gateway, err := c.LLM(ctx)
		if err != nil {
			return nil, err
		}

		logger := logging.From(ctx)
		client := &tool.Client{}
		pdfSearch, pdfErr := c.PDFSearch(ctx)
		if pdfErr != nil {
			logger.Warn("PDF search unavailable", logging.ErrAttr(pdfErr))
		} else {
			client.PDF = pdfSearch
		}
		webSearch, webErr := c.WebSearch(ctx)
		if webErr != nil {
			logger.Warn("web search unavailable", logging.ErrAttr(webErr))
		} else {
			client.Web = webSearch
		}
		if pdfErr != nil && webErr != nil {
			return nil, goerr.Wrap(errors.Join(pdfErr, webErr), "no search index available")
		}

		registry := tool.New(c.tools...)
		if err := registry.Init(ctx, client); err != nil {
			return nil, goerr.Wrap(err, "failed to initialize tools")
		}
		logger.Debug("agent tools", "names", registry.Names())

		return agent.New(gateway, registry, c.agentOpts...), nil
	})
}

// Shutdown closes every service that was built. Failures do not stop the
// remaining closes and are returned together.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error
	closeIf := func(name string, closer interface{ Close() error }, ok bool) {
		if !ok {
			return
		}
		if err := closer.Close(); err != nil {
			logging.From(ctx).Warn("failed to close service", "service", name, logging.ErrAttr(err))
			errs = append(errs, goerr.Wrap(err, "failed to close service", goerr.V("service", name)))
		}
	}

	pdfSearch, ok := c.pdfSearch.peek()
	closeIf("pdf_search", pdfSearch, ok)
	webSearch, ok := c.webSearch.peek()
	closeIf("web_search", webSearch, ok)
	gateway, ok := c.llm.peek()
	closeIf("llm", gateway, ok)
	if !ok {
		// the embedder is closed by the gateway when one was built
		embedder, built := c.embedder.peek()
		closeIf("embedder", embedder, built)
	}
	blob, ok := c.blob.peek()
	closeIf("blob", blob, ok)
	sessions, ok := c.sessions.peek()
	closeIf("sessions", sessions, ok)

	return errors.Join(errs...)
}
