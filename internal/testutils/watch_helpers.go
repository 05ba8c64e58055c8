package testutils

import (
	"time"

	. "github.com/onsi/gomega"

	"github.com/l7mp/livequery/pkg/collection"
)

// Watch subscribes to a live collection and forwards its change events to a buffered channel.
func Watch[T comparable](q collection.Observable[T]) (chan collection.ChangeEvent[T], *collection.Subscription[T]) {
	ch := make(chan collection.ChangeEvent[T], 128)
	_, sub, err := q.Observe(func(ev collection.ChangeEvent[T]) error {
		ch <- ev
		return nil
	})
	Expect(err).NotTo(HaveOccurred())
	return ch, sub
}

// TryWatchEvent attempts to receive a change event from a channel within the specified timeout.
// Returns the event and true if successful, or an empty event and false if timeout occurs.
func TryWatchEvent[T comparable](watcher chan collection.ChangeEvent[T], timeout time.Duration) (collection.ChangeEvent[T], bool) {
	select {
	case ev := <-watcher:
		return ev, true
	case <-time.After(timeout):
		return collection.ChangeEvent[T]{}, false
	}
}

// MatchEvent validates the type, item and position of a change event.
func MatchEvent[T comparable](ev collection.ChangeEvent[T], typ collection.EventType, item T, index int) {
	Expect(ev.Type).To(Equal(typ))
	Expect(ev.Item).To(Equal(item))
	Expect(ev.Index).To(Equal(index))
}
