package cli

import (
	"context"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/repository"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func sessionCommand(logCfg *logConfig) *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Manage conversation sessions",
		Commands: []*cli.Command{
			sessionNewCommand(logCfg),
			sessionShowCommand(logCfg),
			sessionClearCommand(logCfg),
			sessionStatusCommand(logCfg),
		},
	}
}

func sessionStoreFlags(cfg *config) []cli.Flag {
	flags := globalFlags(cfg)
	return append(flags, sessionFlags(cfg)...)
}

// withSessions runs fn with the configured store and closes it afterwards
func withSessions(ctx context.Context, cfg *config, fn func(store repository.SessionStore) error) error {
	container := cfg.newContainer()
	defer shutdown(ctx, container)

	store, err := container.Sessions(ctx)
	if err != nil {
		return err
	}
	return fn(store)
}

// requireSession loads a session and turns an absent one into an error
func requireSession(ctx context.Context, store repository.SessionStore, id model.SessionID) (*model.Session, error) {
	sess, err := store.Get(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get session")
	}
	if sess == nil {
		return nil, goerr.Wrap(repository.ErrSessionNotFound, "no such session", goerr.V("session_id", id))
	}
	return sess, nil
}

func sessionNewCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg    config
		userID string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user",
			Aliases:     []string{"u"},
			Usage:       "Owner of the session",
			Value:       model.AnonymousUser,
			Destination: &userID,
		},
	}
	flags = append(flags, sessionStoreFlags(&cfg)...)

	return &cli.Command{
		Name:  "new",
		Usage: "Create an empty session",
		Flags: flags,
		Action: action(logCfg, func(ctx context.Context, c *cli.Command) error {
			return withSessions(ctx, &cfg, func(store repository.SessionStore) error {
				sess, err := store.Create(ctx, userID)
				if err != nil {
					return goerr.Wrap(err, "failed to create session")
				}
				return writeJSON(c.Root().Writer, sess)
			})
		}),
	}
}

func sessionShowCommand(logCfg *logConfig) *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "show",
		Usage:     "Show a session and its history",
		ArgsUsage: "<session-id>",
		Flags:     sessionStoreFlags(&cfg),
		Action: action(logCfg, func(ctx context.Context, c *cli.Command) error {
			id := model.SessionID(c.Args().First())
			return withSessions(ctx, &cfg, func(store repository.SessionStore) error {
				sess, err := requireSession(ctx, store, id)
				if err != nil {
					return err
				}
				return writeJSON(c.Root().Writer, sess)
			})
		}),
	}
}

func sessionClearCommand(logCfg *logConfig) *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "clear",
		Usage:     "Delete the history of a session",
		ArgsUsage: "<session-id>",
		Flags:     sessionStoreFlags(&cfg),
		Action: action(logCfg, func(ctx context.Context, c *cli.Command) error {
			id := model.SessionID(c.Args().First())
			return withSessions(ctx, &cfg, func(store repository.SessionStore) error {
				sess, err := store.ClearHistory(ctx, id)
				if err != nil {
					return goerr.Wrap(err, "failed to clear history")
				}
				return writeJSON(c.Root().Writer, sess)
			})
		}),
	}
}

func sessionStatusCommand(logCfg *logConfig) *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "status",
		Usage:     "Set the status of a session (active, inactive, ended)",
		ArgsUsage: "<session-id> <status>",
		Flags:     sessionStoreFlags(&cfg),
		Action: action(logCfg, func(ctx context.Context, c *cli.Command) error {
			id := model.SessionID(c.Args().Get(0))
			status := model.SessionStatus(c.Args().Get(1))
			switch status {
			case model.SessionActive, model.SessionInactive, model.SessionEnded:
			default:
				return goerr.Wrap(errInvalidArgument, "unknown session status", goerr.V("status", status))
			}

			return withSessions(ctx, &cfg, func(store repository.SessionStore) error {
				sess, err := store.UpdateStatus(ctx, id, status)
				if err != nil {
					return goerr.Wrap(err, "failed to update status")
				}
				return writeJSON(c.Root().Writer, sess)
			})
		}),
	}
}
