// Package poller keeps a wallet's transaction list fresh while any of it is still settling.
package poller

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dwarvesf/escrow-backend/internal/consts"
	"github.com/dwarvesf/escrow-backend/internal/model"
	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
)

// Reader is the read side of the transaction API.
type Reader interface {
	GetByWallet(ctx context.Context, wallet string) ([]model.Transaction, error)
}

// Poller owns a single timer. Every read is tagged with the generation it was
// scheduled in; Stop and Restart bump the generation so late results are dropped.
type Poller struct {
	reader      Reader
	wallet      string
	interval    time.Duration
	readTimeout time.Duration
	onChange    func([]model.Transaction)
	onError     func(error)
	logger      *logger.Logger

	mu         sync.Mutex
	ctx        context.Context
	timer      *time.Timer
	generation uint64
	active     bool
	settling   bool
	snapshot   []model.Transaction
	hasRead    bool
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(p *Poller) {
		p.readTimeout = d
	}
}

// OnChange is called after a read whose result differs from the previous one.
func OnChange(fn func([]model.Transaction)) Option {
	return func(p *Poller) {
		p.onChange = fn
	}
}

func OnError(fn func(error)) Option {
	return func(p *Poller) {
		p.onError = fn
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(p *Poller) {
		p.logger = l
	}
}

func New(reader Reader, wallet string, opts ...Option) *Poller {
	p := &Poller{
		reader:   reader,
		wallet:   wallet,
		interval: consts.DefaultPollInterval,
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start reads immediately and keeps polling while something settles. It is a no-op while active.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		return
	}
	p.ctx = ctx
	p.scheduleLocked(0)
}

// Restart forces an immediate read, typically after a new lock or unlock.
func (p *Poller) Restart() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopTimerLocked()
	p.scheduleLocked(0)
}

// Stop cancels the timer. A read already in flight finishes but its result is discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopTimerLocked()
	p.active = false
}

func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Poller) Settling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settling
}

func (p *Poller) Snapshot() []model.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Transaction(nil), p.snapshot...)
}

func (p *Poller) scheduleLocked(after time.Duration) {
	p.generation++
	gen := p.generation
	p.active = true
	p.timer = time.AfterFunc(after, func() { p.poll(gen) })
}

func (p *Poller) stopTimerLocked() {
	p.generation++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Poller) poll(gen uint64) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	ctx := p.ctx
	p.mu.Unlock()

	if p.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.readTimeout)
		defer cancel()
	}
	txs, err := p.reader.GetByWallet(ctx, p.wallet)

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}

	if err != nil {
		// keep the last known state and try again
		p.timer = time.AfterFunc(p.interval, func() { p.poll(gen) })
		p.mu.Unlock()

		if p.logger != nil {
			p.logger.Warn("[Poller][poll] read failed", map[string]string{
				"wallet": p.wallet,
				"error":  err.Error(),
			})
		}
		if p.onError != nil {
			p.onError(err)
		}
		return
	}

	changed := !p.hasRead || !sameTransactions(p.snapshot, txs)
	p.hasRead = true
	p.snapshot = txs
	p.settling = model.HasSettling(txs)
	if p.settling {
		p.timer = time.AfterFunc(p.interval, func() { p.poll(gen) })
	} else {
		p.timer = nil
		p.active = false
	}
	settling := p.settling
	p.mu.Unlock()

	if p.logger != nil {
		p.logger.Debug("[Poller][poll]", map[string]string{
			"wallet":   p.wallet,
			"count":    strconv.Itoa(len(txs)),
			"changed":  strconv.FormatBool(changed),
			"settling": strconv.FormatBool(settling),
		})
	}
	if changed && p.onChange != nil {
		p.onChange(append([]model.Transaction(nil), txs...))
	}
}

func sameTransactions(a, b []model.Transaction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].TxHash != b[i].TxHash ||
			a[i].Status != b[i].Status ||
			a[i].Amount != b[i].Amount ||
			!a[i].UpdatedAt.Equal(b[i].UpdatedAt) {
			return false
		}
	}
	return true
}
