package cli

import (
	"context"
	"errors"
	"os"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/usecase/chat"
	"github.com/m-mizutani/docent/pkg/usecase/indexer"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

// logConfig is shared by every command
type logConfig struct {
	level  string
	format string
}

func Run(ctx context.Context, argv []string) *Error {
	var logCfg logConfig

	cmd := &cli.Command{
		Name:  "docent",
		Usage: "Document and website question answering assistant",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Log level (debug, info, warn, error)",
				Value:       "info",
				Sources:     cli.EnvVars("DOCENT_LOG_LEVEL"),
				Destination: &logCfg.level,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console, json)",
				Value:       string(logging.FormatConsole),
				Sources:     cli.EnvVars("DOCENT_LOG_FORMAT"),
				Destination: &logCfg.format,
			},
		},
		Commands: []*cli.Command{
			chatCommand(&logCfg),
			askCommand(&logCfg),
			ragCommand(&logCfg),
			searchCommand(&logCfg),
			indexCommand(&logCfg),
			sessionCommand(&logCfg),
			serveMCPCommand(&logCfg),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.From(ctx).Error("command failed", logging.ErrAttr(err))
		code := 1
		if isClientError(err) {
			code = 2
		}
		return &Error{
			Code:    code,
			Message: err.Error(),
		}
	}

	return nil
}

// isClientError reports errors caused by the caller's input
func isClientError(err error) bool {
	return errors.Is(err, chat.ErrEmptyQuery) ||
		errors.Is(err, model.ErrInvalidSessionID) ||
		errors.Is(err, indexer.ErrInvalidPage) ||
		errors.Is(err, errInvalidArgument)
}

// action installs the configured logger before running fn
func action(logCfg *logConfig, fn cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		logger := logging.New(logCfg.level, os.Stderr, logging.WithFormat(logging.Format(logCfg.format)))
		logging.SetDefault(logger)
		return fn(logging.With(ctx, logger), c)
	}
}
