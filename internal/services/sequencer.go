package services

import (
	"context"
	"sync"
	"time"

	"github.com/tbourn/rolegate/internal/clock"
	"github.com/tbourn/rolegate/internal/domain"
	"github.com/tbourn/rolegate/internal/guard"
	"github.com/tbourn/rolegate/internal/observability"
)

// SequencerOptions controls batching of flows that fire together.
//
//   - Debounce: how long to keep collecting flows for a member before the
//     first message is sent. Zero starts immediately.
//   - Spacing: pause between a confirmation and the next message.
//   - Wait: how long to wait for a confirmation before the rest of the
//     batch is dropped. Zero waits until the sequencer is closed.
type SequencerOptions struct {
	Debounce time.Duration
	Spacing  time.Duration
	Wait     time.Duration
}

// SequencerHooks are the effects the sequencer triggers.
type SequencerHooks struct {
	// Queued runs once per accepted flow before it becomes eligible to send.
	Queued func(ctx context.Context, community, member string, f domain.Flow)
	// Send posts the flow's message. A failure moves on to the next entry
	// without waiting.
	Send func(ctx context.Context, community, member string, f domain.Flow) error
	// Dropped receives the entries abandoned after a confirmation wait ran
	// out.
	Dropped func(community, member string, dropped []domain.Flow)
}

// Sequencer presents a member's simultaneously triggered flows one at a
// time: each message is sent only after the previous one was confirmed.
// There is at most one runner per (community, member).
type Sequencer struct {
	clk   clock.Clock
	opts  SequencerOptions
	hooks SequencerHooks

	mu      sync.Mutex
	batches map[string]*batch
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type batch struct {
	queue []domain.Flow
	// names holds flows that are queued or being accepted.
	names   map[string]struct{}
	active  string
	waiter  chan struct{}
	running bool
	timer   *clock.Timer
}

// NewSequencer returns an idle sequencer.
func NewSequencer(clk clock.Clock, opts SequencerOptions, hooks SequencerHooks) *Sequencer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sequencer{
		clk:     clk,
		opts:    opts,
		hooks:   hooks,
		batches: make(map[string]*batch),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue appends flows to the member's batch and returns the ones
// accepted. Flows already queued or awaiting confirmation are skipped.
func (s *Sequencer) Enqueue(ctx context.Context, community, member string, flows ...domain.Flow) []domain.Flow {
	k := guard.Key(community, member)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	b := s.batches[k]
	if b == nil {
		b = &batch{names: make(map[string]struct{})}
		s.batches[k] = b
	}
	var accepted []domain.Flow
	for _, f := range flows {
		if _, dup := b.names[f.Name]; dup || b.active == f.Name {
			continue
		}
		b.names[f.Name] = struct{}{}
		accepted = append(accepted, f)
	}
	s.mu.Unlock()

	if len(accepted) == 0 {
		return nil
	}
	if s.hooks.Queued != nil {
		for _, f := range accepted {
			s.hooks.Queued(ctx, community, member, f)
		}
	}

	s.mu.Lock()
	for _, f := range accepted {
		// Resolve may have withdrawn it meanwhile.
		if _, ok := b.names[f.Name]; ok {
			b.queue = append(b.queue, f)
		}
	}
	startNow := false
	if !b.running && !s.closed {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		if s.opts.Debounce > 0 {
			b.timer = s.clk.AfterFunc(s.opts.Debounce, func() { s.start(k, community, member) })
		} else {
			startNow = true
		}
	}
	s.mu.Unlock()

	if startNow {
		s.start(k, community, member)
	}
	return accepted
}

func (s *Sequencer) start(k, community, member string) {
	s.mu.Lock()
	b := s.batches[k]
	if b == nil || b.running || s.closed {
		s.mu.Unlock()
		return
	}
	b.timer = nil
	if len(b.queue) == 0 {
		s.forgetLocked(k, b)
		s.mu.Unlock()
		return
	}
	b.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	observability.Runners.Inc()
	go s.run(k, community, member, b)
}

func (s *Sequencer) run(k, community, member string, b *batch) {
	defer s.wg.Done()
	defer observability.Runners.Dec()

	for {
		s.mu.Lock()
		if len(b.queue) == 0 || s.ctx.Err() != nil {
			b.running = false
			b.active, b.waiter = "", nil
			s.forgetLocked(k, b)
			s.mu.Unlock()
			return
		}
		f := b.queue[0]
		b.queue = b.queue[1:]
		delete(b.names, f.Name)
		w := make(chan struct{})
		b.active, b.waiter = f.Name, w
		s.mu.Unlock()

		if err := s.hooks.Send(s.ctx, community, member, f); err != nil {
			s.mu.Lock()
			b.active, b.waiter = "", nil
			s.mu.Unlock()
			continue
		}

		confirmed := s.await(w)
		if !confirmed && s.ctx.Err() == nil {
			s.mu.Lock()
			dropped := b.queue
			b.queue = nil
			for _, d := range dropped {
				delete(b.names, d.Name)
			}
			b.active, b.waiter = "", nil
			s.mu.Unlock()
			if len(dropped) > 0 && s.hooks.Dropped != nil {
				s.hooks.Dropped(community, member, dropped)
			}
			continue
		}

		s.mu.Lock()
		b.active, b.waiter = "", nil
		more := len(b.queue) > 0
		s.mu.Unlock()
		if more && s.opts.Spacing > 0 {
			select {
			case <-s.clk.After(s.opts.Spacing):
			case <-s.ctx.Done():
			}
		}
	}
}

// await blocks until w is closed, the wait limit passes, or the sequencer
// closes. It reports whether w was closed.
func (s *Sequencer) await(w chan struct{}) bool {
	observability.PendingWaits.Inc()
	defer observability.PendingWaits.Dec()

	var limit <-chan time.Time
	if s.opts.Wait > 0 {
		limit = s.clk.After(s.opts.Wait)
	}
	select {
	case <-w:
		return true
	case <-limit:
		return false
	case <-s.ctx.Done():
		return false
	}
}

// forgetLocked drops an idle batch that has nothing queued or pending.
func (s *Sequencer) forgetLocked(k string, b *batch) {
	if !b.running && len(b.queue) == 0 && len(b.names) == 0 && b.timer == nil {
		delete(s.batches, k)
	}
}

// Resolve reports that the member confirmed flow. It releases the runner
// if flow is the one awaited, and withdraws it if it is still queued.
func (s *Sequencer) Resolve(community, member, flow string) bool {
	k := guard.Key(community, member)
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batches[k]
	if b == nil {
		return false
	}
	resolved := false
	if b.active == flow && b.waiter != nil {
		close(b.waiter)
		b.waiter = nil
		resolved = true
	}
	if _, ok := b.names[flow]; ok {
		delete(b.names, flow)
		kept := b.queue[:0]
		for _, f := range b.queue {
			if f.Name != flow {
				kept = append(kept, f)
			}
		}
		b.queue = kept
		resolved = true
	}
	return resolved
}

// Has reports whether flow is queued or awaiting confirmation.
func (s *Sequencer) Has(community, member, flow string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batches[guard.Key(community, member)]
	if b == nil {
		return false
	}
	_, queued := b.names[flow]
	return queued || b.active == flow
}

// Queued returns the names of flows still waiting to be sent, in order.
func (s *Sequencer) Queued(community, member string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batches[guard.Key(community, member)]
	if b == nil {
		return nil
	}
	out := make([]string, 0, len(b.queue))
	for _, f := range b.queue {
		out = append(out, f.Name)
	}
	return out
}

// Active returns the flow currently awaiting confirmation, if any.
func (s *Sequencer) Active(community, member string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.batches[guard.Key(community, member)]; b != nil {
		return b.active
	}
	return ""
}

// Close stops pending debounce timers and waits for runners to exit.
// Entries still queued are abandoned.
func (s *Sequencer) Close() {
	s.mu.Lock()
	s.closed = true
	for _, b := range s.batches {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
