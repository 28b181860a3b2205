package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
)

// Ticker: тело одного шага опроса (Engine.Tick).
type Ticker interface {
	Tick(ctx context.Context) error
}

// Poller вызывает Tick с фиксированным интервалом в одной горутине.
// Шаги не перекрываются: следующий начинается только после завершения предыдущего.
type Poller struct {
	target   Ticker
	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller создаёт опрос; timeout ограничивает один шаг (по умолчанию: интервал ×5).
func NewPoller(target Ticker, interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * interval
	}
	return &Poller{target: target, interval: interval, timeout: timeout}
}

// Start останавливает текущий цикл (если есть) и запускает новый.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	go p.run(ctx, done)
	logger.Debugf("chatsync.Poller: started interval=%s", p.interval)
}

// Stop останавливает цикл и ждёт завершения текущего шага. Повторный вызов ничего не делает.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel, p.done = nil, nil
}

// Running сообщает, работает ли цикл.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.tick(ctx)
		}
	}
}

// tick: ошибки шага не показываются пользователю, следующий шаг идёт как обычно.
func (p *Poller) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.target.Tick(ctx); err != nil {
		logger.Debugf("chatsync.Poller: tick: %v", err)
	}
}
