package command

import (
	"context"
	"errors"
	"strings"

	"github.com/urfave/cli/v2"
)

type WatchOptions struct {
	SessionID string
	Query     string
}

// Deps injects the runners so the app shell stays testable without a backend.
type Deps struct {
	RunWatch      func(context.Context, WatchOptions) error
	ListSessions  func(context.Context) error
	CreateSession func(ctx context.Context, projectID, query string) error
	RemoveSession func(ctx context.Context, sessionID string) error
	SendInput     func(ctx context.Context, sessionID, text string) error
	StopSession   func(ctx context.Context, sessionID string) error
	MigrateUp     func(context.Context) error
	ShowReport    func(ctx context.Context, sessionID string) error
	ListFiles     func(context.Context) error
	CatFile       func(ctx context.Context, sessionID, path string) error
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:  "drmirror",
		Usage: "mirror a deep-research session's live state",
		Commands: []*cli.Command{
			{
				Name:      "watch",
				Usage:     "attach to a session and mirror its event stream (resumes the last session when no id is given)",
				ArgsUsage: "[session-id]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "start a fresh run with this query"},
				},
				Action: func(ctx *cli.Context) error {
					if deps.RunWatch == nil {
						return errors.New("watch runner is not configured")
					}
					return deps.RunWatch(ctx.Context, WatchOptions{
						SessionID: ctx.Args().First(),
						Query:     ctx.String("query"),
					})
				},
			},
			{
				Name:  "sessions",
				Usage: "manage backend sessions",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list sessions",
						Action: func(ctx *cli.Context) error {
							if deps.ListSessions == nil {
								return errors.New("session lister is not configured")
							}
							return deps.ListSessions(ctx.Context)
						},
					},
					{
						Name:  "create",
						Usage: "create a session",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "project", Required: true, Usage: "project id"},
							&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "start the session with this query"},
						},
						Action: func(ctx *cli.Context) error {
							if deps.CreateSession == nil {
								return errors.New("session creator is not configured")
							}
							return deps.CreateSession(ctx.Context, ctx.String("project"), ctx.String("query"))
						},
					},
					{
						Name:      "rm",
						Usage:     "delete a session",
						ArgsUsage: "<session-id>",
						Action: func(ctx *cli.Context) error {
							if deps.RemoveSession == nil {
								return errors.New("session remover is not configured")
							}
							if ctx.Args().First() == "" {
								return errors.New("session id is required")
							}
							return deps.RemoveSession(ctx.Context, ctx.Args().First())
						},
					},
				},
			},
			{
				Name:      "send",
				Usage:     "forward input text to a session",
				ArgsUsage: "<session-id> <text>",
				Action: func(ctx *cli.Context) error {
					if deps.SendInput == nil {
						return errors.New("send runner is not configured")
					}
					if ctx.Args().Len() < 2 {
						return errors.New("session id and text are required")
					}
					return deps.SendInput(ctx.Context, ctx.Args().First(), strings.Join(ctx.Args().Tail(), " "))
				},
			},
			{
				Name:      "stop",
				Usage:     "request a session's run to stop (advisory)",
				ArgsUsage: "<session-id>",
				Action: func(ctx *cli.Context) error {
					if deps.StopSession == nil {
						return errors.New("stop runner is not configured")
					}
					if ctx.Args().First() == "" {
						return errors.New("session id is required")
					}
					return deps.StopSession(ctx.Context, ctx.Args().First())
				},
			},
			{
				Name:      "report",
				Usage:     "print the tracked final report for a session",
				ArgsUsage: "<session-id>",
				Action: func(ctx *cli.Context) error {
					if deps.ShowReport == nil {
						return errors.New("report runner is not configured")
					}
					if ctx.Args().First() == "" {
						return errors.New("session id is required")
					}
					return deps.ShowReport(ctx.Context, ctx.Args().First())
				},
			},
			{
				Name:  "migrate",
				Usage: "manage the local database schema",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending schema migrations",
						Action: func(ctx *cli.Context) error {
							if deps.MigrateUp == nil {
								return errors.New("migrate runner is not configured")
							}
							return deps.MigrateUp(ctx.Context)
						},
					},
				},
			},
			{
				Name:  "files",
				Usage: "inspect output artifacts",
				Subcommands: []*cli.Command{
					{
						Name:  "ls",
						Usage: "list output files",
						Action: func(ctx *cli.Context) error {
							if deps.ListFiles == nil {
								return errors.New("file lister is not configured")
							}
							return deps.ListFiles(ctx.Context)
						},
					},
					{
						Name:      "cat",
						Usage:     "print a file's content",
						ArgsUsage: "<path>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "session", Usage: "resolve the path within this session"},
						},
						Action: func(ctx *cli.Context) error {
							if deps.CatFile == nil {
								return errors.New("file reader is not configured")
							}
							if ctx.Args().First() == "" {
								return errors.New("path is required")
							}
							return deps.CatFile(ctx.Context, ctx.String("session"), ctx.Args().First())
						},
					},
				},
			},
		},
	}
}
