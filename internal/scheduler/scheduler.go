package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"CryptoBeacon/internal/bench"
	"CryptoBeacon/internal/logging"
	"CryptoBeacon/internal/model"
	"CryptoBeacon/internal/notifier"
	"CryptoBeacon/internal/recorder"

	"github.com/robfig/cron/v3"
)

// Evaluator is the part of the bench service the scheduler drives.
type Evaluator interface {
	Evaluate(ctx context.Context, symbol string) (*model.RunResult, error)
	History(symbol string, limit int) ([]recorder.RunSummary, error)
	Deployments() map[string]model.Deployment
	Deployment(symbol string) (model.Deployment, bool)
	Current(symbol string) string
	Refresh(ctx context.Context, symbol string) (bool, error)
}

// Sender delivers formatted messages.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Scheduler manages the periodic re-evaluation and chat commands.
type Scheduler struct {
	Cron      *cron.Cron
	Evaluator Evaluator
	Notifier  Sender
	Symbols   []string
	Ctx       context.Context
	log       *logging.Logger
}

// NewScheduler creates a new Scheduler. A nil notifier disables messages.
func NewScheduler(ctx context.Context, ev Evaluator, n Sender, symbols []string) *Scheduler {
	return &Scheduler{
		Cron:      cron.New(cron.WithSeconds()),
		Evaluator: ev,
		Notifier:  n,
		Symbols:   symbols,
		Ctx:       ctx,
		log:       logging.NewComponentLogger("scheduler"),
	}
}

// RegisterAll registers the evaluation task.
func (s *Scheduler) RegisterAll(evaluateCron string) error {
	if _, err := s.Cron.AddFunc(evaluateCron, s.evaluateAll); err != nil {
		return fmt.Errorf("register evaluation task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops the cron scheduler and waits for a running job.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunNow evaluates every symbol immediately (for manual trigger / RUN_ON_START).
func (s *Scheduler) RunNow() {
	s.evaluateAll()
}

func (s *Scheduler) evaluateAll() {
	s.log.Infof("running scheduled evaluation for %s", strings.Join(s.Symbols, ", "))
	for _, sym := range s.Symbols {
		if s.Ctx.Err() != nil {
			return
		}
		s.trySend(s.evaluate(sym))
	}
}

func (s *Scheduler) evaluate(symbol string) string {
	res, err := s.Evaluator.Evaluate(s.Ctx, symbol)
	if err != nil {
		s.log.Errorf("evaluate %s: %v", symbol, err)
		return notifier.FormatError(symbol, err)
	}
	return notifier.FormatRunSummary(res)
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return notifier.HelpText
	}
	arg := func(def string) string {
		if len(fields) > 1 {
			return strings.ToUpper(fields[1])
		}
		return def
	}
	defaultSymbol := ""
	if len(s.Symbols) > 0 {
		defaultSymbol = s.Symbols[0]
	}

	switch strings.ToLower(fields[0]) {
	case "/evaluate":
		sym := arg(defaultSymbol)
		if sym == "" {
			return "usage: /evaluate SYMBOL"
		}
		return s.evaluate(sym)
	case "/latest":
		sym := arg(defaultSymbol)
		limit := 5
		if len(fields) > 2 {
			if n, err := strconv.Atoi(fields[2]); err == nil && n > 0 {
				limit = n
			}
		}
		runs, err := s.Evaluator.History(sym, limit)
		if err != nil {
			return notifier.FormatError(sym, err)
		}
		return notifier.FormatHistory(sym, runs)
	case "/current":
		if len(fields) > 1 {
			sym := arg("")
			deps := map[string]model.Deployment{}
			if d, ok := s.Evaluator.Deployment(sym); ok {
				deps[sym] = d
			}
			return notifier.FormatDeployments(deps, s.Evaluator.Current(sym))
		}
		return notifier.FormatDeployments(s.Evaluator.Deployments(), s.Evaluator.Current(defaultSymbol))
	case "/refresh":
		sym := arg(defaultSymbol)
		if sym == "" {
			return "usage: /refresh SYMBOL"
		}
		cached, err := s.Evaluator.Refresh(ctx, sym)
		switch {
		case err != nil:
			return notifier.FormatError(sym, err)
		case !cached:
			return "No price cache configured"
		default:
			return fmt.Sprintf("Cleared cached history for %s", sym)
		}
	default:
		return notifier.HelpText
	}
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		s.log.Info(text)
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Errorf("send notification: %v", err)
	}
}

var _ Evaluator = (*bench.Service)(nil)
