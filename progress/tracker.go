// Package progress tracks per-upload pipeline state and fans updates out
// to subscribers. Jobs are retained for a grace period after reaching a
// terminal state so late subscribers can still observe the outcome.
package progress

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Status is an upload's pipeline stage.
type Status string

const (
	StatusReceived   Status = "received"
	StatusExtracting Status = "extracting"
	StatusChunking   Status = "chunking"
	StatusEnriching  Status = "enriching"
	StatusIndexing   Status = "indexing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further events can follow.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Event is one progress update, also the WebSocket wire frame.
type Event struct {
	UploadID        string         `json:"upload_id"`
	Status          Status         `json:"status"`
	ProgressPercent float64        `json:"progress_percent"`
	CurrentChunk    int            `json:"current_chunk"`
	TotalChunks     int            `json:"total_chunks"`
	Message         string         `json:"message"`
	Timestamp       time.Time      `json:"timestamp"`
	Result          map[string]any `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// Update is the mutable portion of an Event. Percent never regresses;
// a lower value than the job's current percent is clamped up.
type Update struct {
	Status       Status
	Percent      float64
	CurrentChunk int
	TotalChunks  int
	Message      string
}

var (
	ErrUnknown = errors.New("unknown upload id")
	ErrExists  = errors.New("upload id already tracked")
	ErrDone    = errors.New("upload already terminal")
)

// CloseReason says why a subscription ended.
type CloseReason int

const (
	ReasonDone CloseReason = iota // Terminal event delivered or unsubscribed.
	ReasonSlow                    // Subscriber fell behind and was dropped.
)

// subscriberBuffer bounds how far a subscriber may lag.
const subscriberBuffer = 16

// Subscription is one subscriber's ordered view of a job's events,
// beginning with a snapshot of the current state.
type Subscription struct {
	// C carries events until the subscription ends, then closes.
	C <-chan Event

	tracker *Tracker
	id      string
	ch      chan Event

	mu     sync.Mutex
	closed bool
	reason CloseReason
}

// Reason is valid once C has closed.
func (s *Subscription) Reason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscription) Close() {
	s.tracker.unsubscribe(s.id, s)
	s.finish(ReasonDone)
}

func (s *Subscription) finish(reason CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.reason = reason
	close(s.ch)
}

// offer delivers without blocking; a full buffer drops the subscriber.
func (s *Subscription) offer(ev Event) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}

	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

type job struct {
	last time.Time
	snap Event
	subs map[*Subscription]struct{}
}

// DefaultTTL is how long terminal jobs linger before eviction.
const DefaultTTL = 5 * time.Minute

// Tracker is a thread-safe registry of upload jobs.
type Tracker struct {
	ttl time.Duration

	mu   sync.Mutex
	jobs map[string]*job
	now  func() time.Time
}

func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		ttl:  ttl,
		jobs: make(map[string]*job),
		now:  time.Now,
	}
}

// Create registers a new upload in the received state.
func (t *Tracker) Create(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.jobs[id]; ok {
		return ErrExists
	}
	var now = t.now()
	t.jobs[id] = &job{
		last: now,
		snap: Event{
			UploadID:  id,
			Status:    StatusReceived,
			Message:   "upload received",
			Timestamp: now,
		},
		subs: make(map[*Subscription]struct{}),
	}
	return nil
}

// Update advances a job and fans the event out.
func (t *Tracker) Update(id string, u Update) error {
	return t.emit(id, u, nil, "")
}

// Finish records a terminal state, delivers the final event, ends all
// subscriptions, and schedules eviction after the TTL.
func (t *Tracker) Finish(id string, status Status, result map[string]any, errMsg string) error {
	if !status.Terminal() {
		return errors.New("finish requires a terminal status")
	}
	var percent = 100.0
	if status == StatusFailed {
		percent = 0 // Clamped up to the last reported percent.
	}
	return t.emit(id, Update{Status: status, Percent: percent}, result, errMsg)
}

func (t *Tracker) emit(id string, u Update, result map[string]any, errMsg string) error {
	t.mu.Lock()

	var j, ok = t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return ErrUnknown
	}
	if j.snap.Status.Terminal() {
		t.mu.Unlock()
		return ErrDone
	}

	var ev = j.snap
	ev.Status = u.Status
	ev.ProgressPercent = max(u.Percent, j.snap.ProgressPercent)
	if u.CurrentChunk > 0 {
		ev.CurrentChunk = u.CurrentChunk
	}
	if u.TotalChunks > 0 {
		ev.TotalChunks = u.TotalChunks
	}
	if u.Message != "" {
		ev.Message = u.Message
	}
	ev.Timestamp = t.now()
	ev.Result = result
	ev.Error = errMsg
	if u.Status == StatusCompleted {
		ev.ProgressPercent = 100
	}

	j.snap = ev
	j.last = ev.Timestamp

	var subs = make([]*Subscription, 0, len(j.subs))
	for s := range j.subs {
		subs = append(subs, s)
	}
	var terminal = ev.Status.Terminal()
	if terminal {
		j.subs = make(map[*Subscription]struct{})
	}
	t.mu.Unlock()

	for _, s := range subs {
		if !s.offer(ev) {
			log.WithFields(log.Fields{"uploadId": id}).
				Warn("dropping slow progress subscriber")
			t.unsubscribe(id, s)
			s.finish(ReasonSlow)
			continue
		}
		if terminal {
			s.finish(ReasonDone)
		}
	}

	if terminal {
		time.AfterFunc(t.ttl, func() { t.evict(id) })
	}
	return nil
}

// Subscribe attaches to a job. The first event is a snapshot of the
// current state; if the job is already terminal the channel closes
// right after it.
func (t *Tracker) Subscribe(id string) (*Subscription, error) {
	t.mu.Lock()

	var j, ok = t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return nil, ErrUnknown
	}

	var ch = make(chan Event, subscriberBuffer)
	var s = &Subscription{C: ch, tracker: t, id: id, ch: ch}

	var snap = j.snap
	var terminal = snap.Status.Terminal()
	if !terminal {
		j.subs[s] = struct{}{}
	}
	// The snapshot goes into the (fresh, buffered) channel while the
	// lock is still held, so a racing emit cannot enqueue ahead of it.
	ch <- snap
	t.mu.Unlock()

	if terminal {
		s.finish(ReasonDone)
	}
	return s, nil
}

// Get returns the current snapshot of a job.
func (t *Tracker) Get(id string) (Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var j, ok = t.jobs[id]
	if !ok {
		return Event{}, ErrUnknown
	}
	return j.snap, nil
}

// Active counts non-terminal jobs.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var n = 0
	for _, j := range t.jobs {
		if !j.snap.Status.Terminal() {
			n++
		}
	}
	return n
}

func (t *Tracker) unsubscribe(id string, s *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[id]; ok {
		delete(j.subs, s)
	}
}

func (t *Tracker) evict(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[id]; ok && j.snap.Status.Terminal() {
		delete(t.jobs, id)
	}
}
