// Package eventbus implements an in-process topic/subscriber registry used
// by the plugin lifecycle scheduler and for cross-component notification.
package eventbus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var publishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "satop_eventbus_publish_total",
	Help: "Number of Publish calls per topic.",
}, []string{"topic"})

func init() {
	prometheus.MustRegister(publishTotal)
}

// Callback is invoked synchronously, in subscription order, by Publish.
type Callback func(msg any)

type subscription struct {
	id int64
	cb Callback
}

// Bus is a topic -> ordered subscriber list registry. The zero value is not
// usable; construct with New.
type Bus struct {
	log *logrus.Entry

	mu     sync.Mutex
	nextID int64
	topics map[string][]subscription
}

// New creates an empty Bus.
func New(log *logrus.Entry) *Bus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bus{
		log:    log.WithField("component", "eventbus"),
		topics: make(map[string][]subscription),
	}
}

// Subscribe registers cb against topic and returns a monotonically
// increasing subscription id usable with Unsubscribe.
func (b *Bus) Subscribe(topic string, cb Callback) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, cb: cb})
	return id
}

// Unsubscribe removes the subscription with id from topic. It is idempotent:
// removing an id that is not present (or already removed) is a no-op.
func (b *Bus) Unsubscribe(topic string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	for i, s := range subs {
		if s.id == id {
			b.topics[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish invokes every subscriber of topic, in subscription order,
// synchronously on the caller's goroutine. A panic or recovered error from
// one callback is logged and does not prevent the remaining callbacks from
// running.
func (b *Bus) Publish(topic string, msg any) {
	b.mu.Lock()
	// Copy under lock so a callback that subscribes/unsubscribes mid-publish
	// cannot mutate the slice we're iterating.
	subs := make([]subscription, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.Unlock()

	publishTotal.WithLabelValues(topic).Inc()

	for _, s := range subs {
		b.invoke(topic, s, msg)
	}
}

func (b *Bus) invoke(topic string, s subscription, msg any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithFields(logrus.Fields{
				"topic":          topic,
				"subscription":   s.id,
				"recovered_from": r,
			}).Error("event subscriber panicked")
		}
	}()
	s.cb(msg)
}

// Stats reports the current topic and subscriber counts, for introspection.
func (b *Bus) Stats() (topics int, subscribers int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	topics = len(b.topics)
	for _, subs := range b.topics {
		subscribers += len(subs)
	}
	return topics, subscribers
}
