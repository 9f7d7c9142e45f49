package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"annobot/internal/transport"
	"annobot/pkg/logx"
)

type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	adapter transport.Adapter
	log     logx.Logger
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log}
	s.Apply(cfg)
	return s
}

// Apply swaps the rate limit at runtime. Safe to call concurrently with
// in-flight deliveries; they pick up the new limiter per send.
func (s *Service) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	s.mu.Unlock()
}

// Deliver attempts the message against every recipient and reports the
// per-recipient outcomes. It never returns early: a rejected send is
// recorded and the loop moves on. A cancelled context marks the remaining
// recipients failed without attempting them.
func (s *Service) Deliver(ctx context.Context, msg Message, recipients []int64) Report {
	rep := Report{
		JobID:     uuid.NewString(),
		StartedAt: time.Now(),
		Results:   make([]Result, 0, len(recipients)),
	}
	log := s.log.With(logx.String("job", rep.JobID))
	log.Info("fan-out started",
		logx.Int("recipients", len(recipients)),
		logx.Bool("media", msg.IsMedia()))

	for _, chatID := range recipients {
		res := s.sendOne(ctx, msg, chatID)
		switch res.Outcome {
		case OutcomeSent:
			rep.Sent++
		case OutcomeSkipped:
			rep.Skipped++
		case OutcomeFailed:
			rep.Failed++
			log.Warn("send failed",
				logx.Int64("chat_id", chatID),
				logx.String("reason", res.Reason))
		}
		rep.Results = append(rep.Results, res)
	}

	rep.FinishedAt = time.Now()
	fields := []logx.Field{
		logx.Int("sent", rep.Sent),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)),
	}
	if rep.Failed > 0 {
		log.Warn("fan-out finished with failures", fields...)
	} else {
		log.Info("fan-out finished", fields...)
	}
	return rep
}

func (s *Service) sendOne(ctx context.Context, msg Message, chatID int64) Result {
	// A media task without a payload reference cannot be attempted at all.
	if msg.IsMedia() && msg.MediaRef == "" {
		return Result{ChatID: chatID, Outcome: OutcomeSkipped, Reason: "missing media payload"}
	}

	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()
	if err := lim.Wait(ctx); err != nil {
		return Result{ChatID: chatID, Outcome: OutcomeFailed, Reason: err.Error()}
	}

	to := transport.ChatTarget{ChatID: chatID}
	opt := &transport.SendOptions{Button: msg.Button}

	var err error
	if msg.IsMedia() {
		_, err = s.adapter.SendMedia(ctx, to, msg.MediaKind, msg.MediaRef, msg.Caption, opt)
	} else {
		_, err = s.adapter.SendText(ctx, to, msg.Text, opt)
	}
	if err != nil {
		return Result{ChatID: chatID, Outcome: OutcomeFailed, Reason: err.Error()}
	}
	return Result{ChatID: chatID, Outcome: OutcomeSent}
}
