package cli

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/usecase/rag"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

var errInvalidArgument = goerr.New("invalid argument")

func ragCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg       config
		sessionID string
		queryType string
		priority  string
		topK      int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session",
			Aliases:     []string{"s"},
			Usage:       "Session whose history is used to condense the question",
			Sources:     cli.EnvVars("DOCENT_SESSION_ID"),
			Destination: &sessionID,
		},
		&cli.StringFlag{
			Name:        "type",
			Aliases:     []string{"t"},
			Usage:       "Index to answer from (pdf, web)",
			Value:       string(rag.QueryPDF),
			Destination: &queryType,
		},
		&cli.StringFlag{
			Name:        "priority",
			Usage:       "Priority hint for the answer (low, normal, high)",
			Value:       string(rag.PriorityNormal),
			Destination: &priority,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "Number of chunks retrieved as context",
			Value:       rag.DefaultTopK,
			Sources:     cli.EnvVars("DOCENT_RAG_TOP_K"),
			Destination: &topK,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:      "rag",
		Usage:     "Answer one question from retrieved context without tools",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: action(logCfg, func(ctx context.Context, c *cli.Command) error {
			qt := rag.QueryType(queryType)
			if qt != rag.QueryPDF && qt != rag.QueryWeb {
				return goerr.Wrap(errInvalidArgument, "unknown query type", goerr.V("type", queryType))
			}
			prio := rag.Priority(priority)
			switch prio {
			case rag.PriorityLow, rag.PriorityNormal, rag.PriorityHigh:
			default:
				return goerr.Wrap(errInvalidArgument, "unknown priority", goerr.V("priority", priority))
			}

			container := cfg.newContainer()
			defer shutdown(ctx, container)

			gateway, err := container.LLM(ctx)
			if err != nil {
				return err
			}

			var pdfSearch, webSearch rag.Searcher
			if qt == rag.QueryPDF {
				s, err := container.PDFSearch(ctx)
				if err != nil {
					return err
				}
				pdfSearch = s
			} else {
				s, err := container.WebSearch(ctx)
				if err != nil {
					return err
				}
				webSearch = s
			}

			var history []model.ChatMessage
			if sessionID != "" {
				sessions, err := container.Sessions(ctx)
				if err != nil {
					return err
				}
				sess, err := sessions.Get(ctx, model.SessionID(sessionID))
				if err != nil {
					return goerr.Wrap(err, "failed to load session")
				}
				if sess != nil {
					history = sess.ChatHistory
				}
			}

			uc := rag.New(gateway, pdfSearch, webSearch, rag.WithTopK(int(topK)))
			resp := uc.Query(ctx, &rag.Request{
				SessionID: sessionID,
				Query:     strings.Join(c.Args().Slice(), " "),
				History:   history,
				Type:      qt,
				Priority:  prio,
			})
			return writeJSON(c.Root().Writer, resp)
		}),
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to write JSON")
	}
	return nil
}
