package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/glamour"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/docent/pkg/infra"
	"github.com/m-mizutani/docent/pkg/service/mcp"
	"github.com/m-mizutani/docent/pkg/tool"
	"github.com/m-mizutani/docent/pkg/tool/pdf"
	"github.com/m-mizutani/docent/pkg/tool/web"
	"github.com/m-mizutani/docent/pkg/usecase/chat"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// chatEnv wires the chat use case from flags
type chatEnv struct {
	cfg       config
	mcpConfig string
	tools     []tool.Tool
}

func newChatEnv() *chatEnv {
	return &chatEnv{
		tools: []tool.Tool{pdf.New(), web.New()},
	}
}

func (e *chatEnv) flags() []cli.Flag {
	flags := allFlags(&e.cfg)
	flags = append(flags, tool.New(e.tools...).Flags()...)
	flags = append(flags, &cli.StringFlag{
		Name:        "mcp-config",
		Usage:       "YAML file listing external MCP servers offered to the agent",
		Sources:     cli.EnvVars("DOCENT_MCP_CONFIG"),
		Destination: &e.mcpConfig,
	})
	return flags
}

// build returns the chat use case and the container to shut down after use
func (e *chatEnv) build(ctx context.Context) (*chat.UseCase, *infra.Container, error) {
	tools := e.tools
	provider, err := mcp.LoadAndConnect(ctx, e.mcpConfig)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to load MCP servers")
	}
	if provider != nil {
		tools = append(tools, provider)
	}

	container := e.cfg.newContainer(tools...)
	sessions, err := container.Sessions(ctx)
	if err != nil {
		return nil, container, err
	}
	ag, err := container.Agent(ctx)
	if err != nil {
		return nil, container, err
	}
	engine, err := container.Policy(ctx)
	if err != nil {
		return nil, container, err
	}

	return chat.New(sessions, ag, chat.WithPolicy(engine)), container, nil
}

func shutdown(ctx context.Context, container *infra.Container) {
	if container == nil {
		return
	}
	if err := container.Shutdown(ctx); err != nil {
		logging.From(ctx).Warn("shutdown incomplete", logging.ErrAttr(err))
	}
}

func chatCommand(logCfg *logConfig) *cli.Command {
	env := newChatEnv()
	var sessionID string

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session",
			Aliases:     []string{"s"},
			Usage:       "Session ID to resume",
			Sources:     cli.EnvVars("DOCENT_SESSION_ID"),
			Destination: &sessionID,
		},
	}
	flags = append(flags, env.flags()...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive conversation over the indexed documents and website",
		Flags: flags,
		Action: action(logCfg, func(ctx context.Context, c *cli.Command) error {
			uc, container, err := env.build(ctx)
			defer shutdown(ctx, container)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			renderer, err := glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(100),
			)
			if err != nil {
				return goerr.Wrap(err, "failed to create markdown renderer")
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "\033[36m> \033[0m",
				HistoryFile:     historyFile(),
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start line editor")
			}
			defer rl.Close()

			fmt.Fprintf(w, "Sesión de chat iniciada. Escribe 'exit' para salir.\n")

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				message := strings.TrimSpace(line)
				if message == "exit" || message == "quit" {
					break
				}
				if message == "" {
					continue
				}

				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				sp.Suffix = " pensando..."
				sp.Start()
				resp, err := uc.Ask(ctx, &chat.Request{SessionID: sessionID, Query: message})
				sp.Stop()
				if err != nil {
					logging.From(ctx).Error("failed to answer", logging.ErrAttr(err))
					fmt.Fprintf(w, "No se pudo responder la pregunta.\n")
					continue
				}
				sessionID = resp.SessionID.String()

				rendered, err := renderer.Render(answerMarkdown(resp))
				if err != nil {
					rendered = answerMarkdown(resp)
				}
				fmt.Fprint(w, rendered)
			}

			if sessionID != "" {
				fmt.Fprintf(w, "\nSesión: %s\n", sessionID)
			}
			return nil
		}),
	}
}

func askCommand(logCfg *logConfig) *cli.Command {
	env := newChatEnv()
	var (
		sessionID string
		asJSON    bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session",
			Aliases:     []string{"s"},
			Usage:       "Session ID to continue",
			Sources:     cli.EnvVars("DOCENT_SESSION_ID"),
			Destination: &sessionID,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the full response as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, env.flags()...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask a single question through the agent",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: action(logCfg, func(ctx context.Context, c *cli.Command) error {
			query := strings.Join(c.Args().Slice(), " ")

			uc, container, err := env.build(ctx)
			defer shutdown(ctx, container)
			if err != nil {
				return err
			}

			resp, err := uc.Ask(ctx, &chat.Request{SessionID: sessionID, Query: query})
			if err != nil {
				return goerr.Wrap(err, "failed to answer")
			}

			if asJSON {
				return writeJSON(c.Root().Writer, resp)
			}
			fmt.Fprint(c.Root().Writer, answerMarkdown(resp))
			return nil
		}),
	}
}

// answerMarkdown renders an answer and its sources as markdown
func answerMarkdown(resp *chat.Response) string {
	var b strings.Builder
	b.WriteString(resp.Answer)
	b.WriteString("\n")
	if len(resp.Sources) > 0 {
		b.WriteString("\n**Fuentes:**\n")
		for _, src := range resp.Sources {
			fmt.Fprintf(&b, "- %s\n", src.Value)
		}
	}
	if resp.Escalate {
		b.WriteString("\n_Se recomienda escalar esta conversación a un asesor._\n")
	}
	return b.String()
}

func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "docent_history")
}
