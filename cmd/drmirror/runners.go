package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"drmirror/internal/api"
	"drmirror/internal/command"
	"drmirror/internal/config"
	"drmirror/internal/lifecycle"
	"drmirror/internal/protocol"
	"drmirror/internal/reconcile"
	"drmirror/internal/session"
	"drmirror/internal/store"
	"drmirror/internal/ws"
)

func buildDeps(cfg config.Config, logger *slog.Logger) command.Deps {
	client := api.NewClient(cfg.ServerBaseURL)
	return command.Deps{
		RunWatch: func(ctx context.Context, opts command.WatchOptions) error {
			return runWatch(ctx, cfg, logger, client, opts)
		},
		ListSessions: func(ctx context.Context) error {
			return runListSessions(ctx, cfg, client)
		},
		CreateSession: func(ctx context.Context, projectID, query string) error {
			info, err := client.CreateSession(ctx, projectID)
			if err != nil {
				return err
			}
			fmt.Println(info.ID)
			if query == "" {
				return nil
			}
			return runWatch(ctx, cfg, logger, client, command.WatchOptions{
				SessionID: info.ID,
				Query:     query,
			})
		},
		RemoveSession: func(ctx context.Context, sessionID string) error {
			if err := client.DeleteSession(ctx, sessionID); err != nil {
				return err
			}
			st, err := store.Open(cfg.DBPath())
			if err != nil {
				return err
			}
			defer st.Close()
			return st.DeleteSession(sessionID)
		},
		SendInput: func(ctx context.Context, sessionID, text string) error {
			return runSend(ctx, logger, client, sessionID, text)
		},
		StopSession: func(ctx context.Context, sessionID string) error {
			return runStop(ctx, logger, client, sessionID)
		},
		MigrateUp: func(ctx context.Context) error {
			st, err := store.Open(cfg.DBPath())
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Println("schema up to date:", cfg.DBPath())
			return nil
		},
		ShowReport: func(ctx context.Context, sessionID string) error {
			return runShowReport(ctx, logger, client, sessionID)
		},
		ListFiles: func(ctx context.Context) error {
			listing, err := client.ListFiles(ctx)
			if err != nil {
				return err
			}
			fmt.Println(string(listing.Tree))
			return nil
		},
		CatFile: func(ctx context.Context, sessionID, path string) error {
			content, err := client.ReadFile(ctx, sessionID, path)
			if err != nil {
				return err
			}
			fmt.Print(content.Content)
			if !strings.HasSuffix(content.Content, "\n") {
				fmt.Println()
			}
			return nil
		},
	}
}

func runWatch(ctx context.Context, cfg config.Config, logger *slog.Logger, client *api.Client, opts command.WatchOptions) error {
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer st.Close()

	sessionID := strings.TrimSpace(opts.SessionID)
	if sessionID == "" {
		sessionID, err = st.LastSession()
		if err != nil {
			return err
		}
		if sessionID == "" {
			return errors.New("no session id given and no previous session to resume")
		}
		logger.Info("resuming last session", "session_id", sessionID)
	}

	rec := reconcile.New(sessionID, client.FetchHistory, logger)
	mgr := session.NewManager(session.Options{
		Dialer: ws.RealDialer{},
		WSURL:  client.WSURL,
		Logger: logger,
		Mirror: st,
		Last:   st,
	})
	unregister := mgr.RegisterHandler(protocol.DomainPrefix, rec.HandleFrame)
	defer unregister()
	rec.OnWorkerExit(mgr.SetTerminalStatus)

	if err := mgr.Open(ctx, sessionID, opts.Query); err != nil {
		return err
	}

	lm := lifecycle.NewManager()
	lm.AddRun("history", func(ctx context.Context) error {
		// A failed history load degrades to a live-only view; it must not
		// tear the watch down.
		if err := rec.LoadHistory(ctx); err != nil {
			logger.Warn("history load incomplete", "session_id", sessionID, "err", err)
		}
		return nil
	})
	lm.AddRun("mirror", func(ctx context.Context) error {
		return runMirrorLoop(ctx, cfg, st, mgr, rec)
	})
	lm.AddShutdown("connection", func(context.Context) error {
		mgr.Close()
		return nil
	})
	return lm.StartAndWait(ctx, os.Interrupt, syscall.SIGTERM)
}

func runMirrorLoop(ctx context.Context, cfg config.Config, st *store.Store, mgr *session.Manager, rec *reconcile.Reconciler) error {
	printer := newPrinter(os.Stdout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			view := mgr.View()
			snap := rec.Snapshot()
			for _, entry := range printer.flush(view, snap) {
				_ = st.AppendLog(view.SessionID, entry.Level, entry.Message, cfg.LogKeep)
			}
			if terminal(view.Status) && snap.Phase == reconcile.PhaseLive && !view.Busy {
				return nil
			}
		}
	}
}

func terminal(status session.Status) bool {
	switch status {
	case session.StatusCompleted, session.StatusError, session.StatusStopped:
		return true
	}
	return false
}

// runSend forwards one line of input on a short-lived connection. The manager
// picks start or send_input from the status the backend reports on open.
func runSend(ctx context.Context, logger *slog.Logger, client *api.Client, sessionID, text string) error {
	mgr := session.NewManager(session.Options{
		Dialer: ws.RealDialer{},
		WSURL:  client.WSURL,
		Logger: logger,
	})
	defer mgr.Close()
	if err := mgr.Open(ctx, sessionID, ""); err != nil {
		return err
	}
	// Give the get_status round trip a moment to settle so the action choice
	// reflects the backend's actual run state.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(300 * time.Millisecond):
	}
	return mgr.Send(ctx, text)
}

func runStop(ctx context.Context, logger *slog.Logger, client *api.Client, sessionID string) error {
	mgr := session.NewManager(session.Options{
		Dialer: ws.RealDialer{},
		WSURL:  client.WSURL,
		Logger: logger,
	})
	defer mgr.Close()
	if err := mgr.Open(ctx, sessionID, ""); err != nil {
		return err
	}
	return mgr.Stop(ctx)
}

// runShowReport replays the session history to derive the report pointer,
// then fetches the report content.
func runShowReport(ctx context.Context, logger *slog.Logger, client *api.Client, sessionID string) error {
	rec := reconcile.New(sessionID, client.FetchHistory, logger)
	if err := rec.LoadHistory(ctx); err != nil {
		return err
	}
	snap := rec.Snapshot()
	if snap.SessionID != sessionID || snap.Report.Path == "" {
		return errors.New("no final report tracked for this session")
	}
	path := snap.Report.RelativePath
	if path == "" {
		path = snap.Report.Path
	}
	content, err := client.ReadFile(ctx, sessionID, path)
	if err != nil {
		return err
	}
	fmt.Print(content.Content)
	if !strings.HasSuffix(content.Content, "\n") {
		fmt.Println()
	}
	return nil
}

func runListSessions(ctx context.Context, cfg config.Config, client *api.Client) error {
	remote, err := client.ListSessions(ctx)
	if err == nil {
		for _, s := range remote {
			fmt.Printf("%s\t%s\t%s\t%s\n", s.ID, s.ProjectName, s.Status, s.CreatedAt)
		}
		return nil
	}

	// Backend unreachable: fall back to the local mirror.
	st, openErr := store.Open(cfg.DBPath())
	if openErr != nil {
		return errors.Join(err, openErr)
	}
	defer st.Close()
	local, listErr := st.ListSessions(0)
	if listErr != nil {
		return errors.Join(err, listErr)
	}
	for _, s := range local {
		fmt.Printf("%s\t%s\t%s\t(cached)\n", s.SessionID, s.ProjectName, s.Status)
	}
	return nil
}
