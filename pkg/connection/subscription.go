package connection

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/vbat-sim/vbat-go/pkg/param"
	"github.com/vbat-sim/vbat-go/pkg/schema"
)

// ParamValueMessage is the inbound parameter update message.
const ParamValueMessage = "PARAM_VALUE"

// Subscription forwards parameter updates from one link to the store.
// After Cancel, deliveries are dropped.
type Subscription struct {
	linkID string
	params param.Writer
	logger *slog.Logger

	mu     sync.Mutex
	active bool

	cancelCh   chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

func newSubscription(linkID string, params param.Writer, logger *slog.Logger) *Subscription {
	return &Subscription{
		linkID:   linkID,
		params:   params,
		logger:   logger,
		active:   true,
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// subscribe creates a subscription and starts draining msgs.
func subscribe(linkID string, msgs <-chan *schema.Message, params param.Writer, logger *slog.Logger) *Subscription {
	s := newSubscription(linkID, params, logger)
	go s.run(msgs)
	return s
}

// OnParameterMessage applies one update. It returns false when the
// subscription is cancelled or the identifier is unknown.
func (s *Subscription) OnParameterMessage(id string, value float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		s.logger.Debug("dropping stale parameter update", "link", s.linkID, "param", id)
		return false
	}
	return s.params.Write(id, value)
}

// Active reports whether deliveries are still applied.
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Cancel stops delivery. Once it returns no further write reaches the store.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

// Done is closed when the draining goroutine exits.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) run(msgs <-chan *schema.Message) {
	defer close(s.done)

	for {
		select {
		case <-s.cancelCh:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			s.handle(msg)
		}
	}
}

func (s *Subscription) handle(msg *schema.Message) {
	if msg.Name() != ParamValueMessage {
		return
	}

	id, err := msg.Text("param_id")
	if err != nil {
		s.logger.Debug("malformed parameter message", "error", err)
		return
	}
	value, err := msg.Float("param_value")
	if err != nil {
		s.logger.Debug("malformed parameter message", "param", id, "error", err)
		return
	}

	s.OnParameterMessage(strings.TrimRight(id, "\x00"), value)
}
