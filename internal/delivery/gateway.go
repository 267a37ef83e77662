package delivery

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	kit "remindo/internal/transport"
	logx "remindo/pkg/logx"
)

type Config struct {
	// RatePerSec caps outgoing sends across all reminders. Telegram applies
	// per-bot flood limits; staying under them here keeps fire bursts (many
	// reminders due at the same minute) from tripping 429s.
	RatePerSec float64
	// Burst allows short spikes above the sustained rate.
	Burst int
	// SendTimeout bounds a single send attempt.
	SendTimeout time.Duration
}

// Gateway is the single outgoing path for reminder and bot messages. It
// serializes rate limiting and per-send timeouts so callers only deal with
// the transport error taxonomy: nil, transient, or transport.ErrTargetGone.
type Gateway struct {
	adapter kit.Adapter
	limiter *rate.Limiter
	timeout time.Duration
	log     logx.Logger
}

func New(adapter kit.Adapter, cfg Config, log logx.Logger) *Gateway {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{
		adapter: adapter,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		timeout: timeout,
		log:     log,
	}
}

// Send delivers one message. It blocks on the rate limiter first, then runs
// the send under the configured timeout. The returned error is already
// classified by the transport layer.
func (g *Gateway) Send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	sctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	ref, err := g.adapter.SendText(sctx, to, text, opt)
	if err != nil {
		g.log.Debug("send failed",
			logx.Int64("chat_id", to.ChatID),
			logx.Int("thread_id", to.ThreadID),
			logx.Bool("permanent", kit.IsPermanent(err)),
			logx.Err(err))
	}
	return ref, err
}

// Edit rewrites a previously sent message under the same limits.
func (g *Gateway) Edit(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.adapter.EditText(sctx, ref, text, opt)
}
