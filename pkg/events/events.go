// Package events implements the per-item result broker every controller
// publishes to: replaces a "catch Exception; log; continue" pattern with
// an explicit {ok|skipped|failed} result aggregated into a run report.
package events

import (
	"sync"
	"time"
)

// Outcome is the result of processing one item within a controller run.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// EventType names the kind of item a Result reports on.
type EventType string

const (
	EventRepositoryDemoted  EventType = "repository.demoted"
	EventRepositoryMounted  EventType = "repository.mounted"
	EventRepositoryThawed   EventType = "repository.thawed"
	EventPolicyVersioned    EventType = "policy.versioned"
	EventPolicyDeleted      EventType = "policy.deleted"
	EventTemplateRetargeted EventType = "template.retargeted"
	EventIndexDeleted       EventType = "index.deleted"
	EventThawRequestUpdated EventType = "thaw_request.updated"
	EventObjectRestored     EventType = "object.restored"
)

// Result is one controller-run item outcome.
type Result struct {
	ID        string
	Type      EventType
	Outcome   Outcome
	Reason    string // set when Outcome == OutcomeSkipped
	Err       error  // set when Outcome == OutcomeFailed
	Timestamp time.Time
}

// Subscriber is a channel that receives published results.
type Subscriber chan *Result

// Broker collects per-item results during a controller run and fans them
// out to subscribers (e.g. the CLI's porcelain/rich renderer).
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Result
	stopCh      chan struct{}
}

// NewBroker creates a new result broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Result, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 256)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes a result to all subscribers.
func (b *Broker) Publish(result *Result) {
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- result:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case result := <-b.eventCh:
			b.broadcast(result)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(result *Result) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- result:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Report accumulates Results in-process for a single controller run,
// without requiring a subscriber — used by controllers that just need to
// return a summary to their caller rather than stream live updates.
type Report struct {
	mu      sync.Mutex
	Results []Result
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{}
}

// Add appends a result to the report. Safe for concurrent use.
func (r *Report) Add(result Result) {
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Results = append(r.Results, result)
}

// Counts summarizes the report by outcome.
func (r *Report) Counts() (ok, skipped, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.Results {
		switch res.Outcome {
		case OutcomeOK:
			ok++
		case OutcomeSkipped:
			skipped++
		case OutcomeFailed:
			failed++
		}
	}
	return
}
