package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
	"github.com/manthysbr/aule-transcribe/internal/core/services"
)

// request is one control line read by serve.
type request struct {
	Op       string       `json:"op"`
	JobID    domain.JobID `json:"job_id,omitempty"`
	Owner    string       `json:"owner,omitempty"`
	Input    string       `json:"input,omitempty"`
	Language string       `json:"language,omitempty"`
}

type reply struct {
	Op    string               `json:"op"`
	JobID domain.JobID         `json:"job_id,omitempty"`
	OK    bool                 `json:"ok"`
	Error string               `json:"error,omitempty"`
	View  *domain.ProgressView `json:"view,omitempty"`
	Event json.RawMessage      `json:"event,omitempty"`
	Jobs  []domain.Job         `json:"jobs,omitempty"`
}

// lineWriter serializes JSON lines from concurrent goroutines.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(w)}
}

func (w *lineWriter) write(v any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.enc.Encode(v)
}

// session couples the orchestrator with an output stream: every submitted job
// gets a progress watcher whose events are forwarded as JSON lines.
type session struct {
	app      *app
	out      *lineWriter
	watchers sync.WaitGroup

	mu    sync.Mutex
	final map[domain.JobID]domain.ProgressView
}

func newSession(a *app, out io.Writer) *session {
	return &session{app: a, out: newLineWriter(out), final: make(map[domain.JobID]domain.ProgressView)}
}

func (s *session) watch(ctx context.Context, id domain.JobID) {
	s.watchers.Add(1)
	go func() {
		defer s.watchers.Done()
		view, err := s.app.watcher.Watch(ctx, id)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.app.logger.Warn("progress watch ended", "job_id", id, "error", err)
			}
			return
		}
		s.mu.Lock()
		s.final[id] = view
		s.mu.Unlock()
	}()
}

// forward copies bus events to the output until ctx ends, then drains what is
// already buffered.
func (s *session) forward(ctx context.Context, events <-chan services.Event) error {
	emit := func(e services.Event) {
		s.out.write(reply{Op: string(e.Type), JobID: e.JobID, OK: true, Event: json.RawMessage(e.Data)})
	}
	for {
		select {
		case e := <-events:
			emit(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-events:
					emit(e)
				default:
					return nil
				}
			}
		}
	}
}

func (s *session) handle(ctx context.Context, req request) reply {
	orch := s.app.orch
	switch req.Op {
	case "submit":
		id, err := s.app.submit(ctx, req.Owner, req.Input, req.Language)
		if err != nil {
			return reply{Op: req.Op, JobID: id, Error: err.Error()}
		}
		s.watch(ctx, id)
		return reply{Op: req.Op, JobID: id, OK: true}
	case "cancel":
		return reply{Op: req.Op, JobID: req.JobID, OK: orch.Cancel(ctx, req.JobID)}
	case "progress":
		view, ok := orch.GetProgress(req.JobID)
		if !ok {
			return reply{Op: req.Op, JobID: req.JobID, Error: domain.ErrJobNotFound.Error()}
		}
		return reply{Op: req.Op, JobID: req.JobID, OK: true, View: &view}
	case "cleanup":
		return reply{Op: req.Op, JobID: req.JobID, OK: orch.Cleanup(ctx, req.JobID)}
	case "history":
		return s.history(ctx, req)
	}
	return reply{Op: req.Op, Error: fmt.Sprintf("unknown op %q", req.Op)}
}

// history reads archived jobs: one job by id, or every job of an owner.
func (s *session) history(ctx context.Context, req request) reply {
	archive := s.app.archive
	if archive == nil {
		return reply{Op: req.Op, JobID: req.JobID, Error: "job archive disabled"}
	}
	if req.JobID != "" {
		job, err := archive.GetJob(ctx, req.JobID)
		if err != nil {
			return reply{Op: req.Op, JobID: req.JobID, Error: err.Error()}
		}
		return reply{Op: req.Op, JobID: req.JobID, OK: true, Jobs: []domain.Job{job}}
	}
	if req.Owner == "" {
		return reply{Op: req.Op, Error: "history needs job_id or owner"}
	}
	jobs, err := archive.ListByOwner(ctx, req.Owner)
	if err != nil {
		return reply{Op: req.Op, Error: err.Error()}
	}
	return reply{Op: req.Op, OK: true, Jobs: jobs}
}

func runServe(ctx context.Context, logger *slog.Logger, cfg *domain.AppConfig, in io.Reader, out io.Writer) error {
	a, err := newApp(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	s := newSession(a, out)
	events, unsub := a.bus.SubscribeGlobal()
	defer unsub()

	fwdCtx, stopForward := context.WithCancel(ctx)
	defer stopForward()

	lines := make(chan []byte)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.forward(fwdCtx, events)
	})
	if cfg.Retention > 0 {
		sweeper := services.NewRetentionSweeper(logger, a.orch, cfg.Retention)
		g.Go(func() error {
			return sweeper.Run(fwdCtx)
		})
	}
	g.Go(func() error {
		defer stopForward()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					logger.Info("input closed, waiting for running jobs")
					s.watchers.Wait()
					return nil
				}
				if len(line) == 0 {
					continue
				}
				var req request
				if err := json.Unmarshal(line, &req); err != nil {
					s.out.write(reply{Op: "error", Error: fmt.Sprintf("bad request: %v", err)})
					continue
				}
				s.out.write(s.handle(gCtx, req))
			}
		}
	})
	return g.Wait()
}

func runTranscribe(ctx context.Context, logger *slog.Logger, cfg *domain.AppConfig, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("transcribe", flag.ContinueOnError)
	var owner, language string
	var cleanup bool
	fs.StringVar(&owner, "owner", "cli", "owner key recorded on each job")
	fs.StringVar(&language, "language", "", "language hint, empty for auto-detect")
	fs.BoolVar(&cleanup, "cleanup", true, "remove finished jobs (and archive them when AULE_DB_PATH is set)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("transcribe requires at least one file")
	}

	a, err := newApp(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	s := newSession(a, out)
	events, unsub := a.bus.SubscribeGlobal()
	defer unsub()

	var ids []domain.JobID
	for _, path := range fs.Args() {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		id, err := a.submit(ctx, owner, abs, language)
		if err != nil {
			return fmt.Errorf("submit %s: %w", path, err)
		}
		ids = append(ids, id)
		s.watch(ctx, id)
	}

	fwdCtx, stopForward := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		return s.forward(fwdCtx, events)
	})
	s.watchers.Wait()
	stopForward()
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for _, id := range ids {
		view, ok := s.final[id]
		if !ok || view.Status != domain.JobStatusCompleted {
			failed++
		}
		if cleanup {
			a.orch.Cleanup(context.Background(), id)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs did not complete", failed, len(ids))
	}
	return nil
}
