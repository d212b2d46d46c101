// Package realtime fans finished turns out to per-conversation subscribers.
//
// Each subscription owns a goroutine that drains a private backlog into its
// channel, so a slow or stalled reader never holds up Publish. Delivery order
// per subscription equals publish order. There is no replay: a subscriber only
// sees turns published after it subscribed. Publishing the same turn twice
// delivers it twice.
package realtime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"lumenclean/internal/models"
	"lumenclean/pkg/logger"
)

const DefaultBacklog = 1024

var ErrPublisherClosed = errors.New("publisher is closed")

// Event is one delivery to a subscriber.
type Event struct {
	ConversationID string       `json:"conversation_id"`
	Turn           *models.Turn `json:"turn"`
	PublishedAt    time.Time    `json:"published_at"`
}

// Subscription receives events for one conversation on C until it is
// unsubscribed or the publisher closes, at which point C is closed.
type Subscription struct {
	ID             string
	ConversationID string
	C              <-chan Event

	out     chan Event
	done    chan struct{}
	wake    chan struct{}
	once    sync.Once
	backlog int

	mu      sync.Mutex
	queue   []Event
	dropped int
}

// Dropped reports how many events were discarded because the backlog was full.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if len(s.queue) >= s.backlog {
		s.queue = s.queue[1:]
		s.dropped++
		logger.Warn("Subscriber backlog full, dropping oldest event",
			"subscription_id", s.ID,
			"conversation_id", s.ConversationID)
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range pending {
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Publisher is the subscriber registry.
type Publisher struct {
	mu      sync.RWMutex
	subs    map[string]map[string]*Subscription
	backlog int
	closed  bool
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithBacklog caps the undelivered events held per subscription.
func WithBacklog(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.backlog = n
		}
	}
}

// NewPublisher creates an empty registry.
func NewPublisher(opts ...Option) *Publisher {
	p := &Publisher{
		subs:    make(map[string]map[string]*Subscription),
		backlog: DefaultBacklog,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe registers interest in a conversation's finished turns.
func (p *Publisher) Subscribe(conversationID string) (*Subscription, error) {
	if err := models.ValidateConversationID(conversationID); err != nil {
		return nil, err
	}

	out := make(chan Event)
	sub := &Subscription{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		C:              out,
		out:            out,
		done:           make(chan struct{}),
		wake:           make(chan struct{}, 1),
		backlog:        p.backlog,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPublisherClosed
	}
	group, ok := p.subs[conversationID]
	if !ok {
		group = make(map[string]*Subscription)
		p.subs[conversationID] = group
	}
	group[sub.ID] = sub
	p.mu.Unlock()

	go sub.pump()

	logger.Debug("Subscribed", "subscription_id", sub.ID, "conversation_id", conversationID)
	return sub, nil
}

// SubscribeFunc invokes handler for every event, one at a time, on a
// goroutine of its own. A panicking handler is logged and skipped.
func (p *Publisher) SubscribeFunc(conversationID string, handler func(Event)) (*Subscription, error) {
	sub, err := p.Subscribe(conversationID)
	if err != nil {
		return nil, err
	}
	go func() {
		for ev := range sub.C {
			invoke(sub, handler, ev)
		}
	}()
	return sub, nil
}

func invoke(sub *Subscription, handler func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Subscriber handler panicked",
				"subscription_id", sub.ID,
				"turn_id", ev.Turn.ID,
				"panic", fmt.Sprint(r))
		}
	}()
	handler(ev)
}

// Unsubscribe removes sub. Its channel is closed once the pump exits.
func (p *Publisher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	p.mu.Lock()
	if group, ok := p.subs[sub.ConversationID]; ok {
		delete(group, sub.ID)
		if len(group) == 0 {
			delete(p.subs, sub.ConversationID)
		}
	}
	p.mu.Unlock()
	sub.stop()
}

// Publish hands turn to every current subscriber of its conversation. It never blocks on readers.
func (p *Publisher) Publish(turn *models.Turn) {
	if turn == nil {
		return
	}
	now := time.Now().UTC()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	for _, sub := range p.subs[turn.ConversationID] {
		sub.push(Event{ConversationID: turn.ConversationID, Turn: turn.Clone(), PublishedAt: now})
	}
}

// SubscriberCount returns the number of live subscriptions for a conversation.
func (p *Publisher) SubscriberCount(conversationID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs[conversationID])
}

// Close ends every subscription and rejects new ones.
func (p *Publisher) Close() {
	p.mu.Lock()
	p.closed = true
	all := p.subs
	p.subs = make(map[string]map[string]*Subscription)
	p.mu.Unlock()

	for _, group := range all {
		for _, sub := range group {
			sub.stop()
		}
	}
}
