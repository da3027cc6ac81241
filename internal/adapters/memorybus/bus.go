package memorybus

import (
	"strings"
	"sync"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/ports"
)

const subscriberBuffer = 64

type subscriber struct {
	ch       chan ports.Event
	prefixes []string
}

func (s *subscriber) wants(topic string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(topic, p) {
			return true
		}
	}
	return false
}

// Bus est un pub/sub en mémoire. Publish ne bloque jamais: un abonné trop lent perd des events.
type Bus struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

func (b *Bus) Publish(evt ports.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		if !s.wants(evt.Topic) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			// drop si le client est trop lent
		}
	}
}

func (b *Bus) Subscribe(prefixes ...string) (<-chan ports.Event, func()) {
	s := &subscriber{ch: make(chan ports.Event, subscriberBuffer), prefixes: prefixes}
	b.mu.Lock()
	if b.closed {
		close(s.ch)
		b.mu.Unlock()
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[s]; ok {
			delete(b.subs, s)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	return s.ch, cancel
}

// Close ferme tous les abonnements; les Publish suivants sont ignorés.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}
