package collection

import (
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type item struct{ name string }

// recorder collects the events delivered to a subscriber.
type recorder[T comparable] struct {
	mu     sync.Mutex
	events []ChangeEvent[T]
}

func (r *recorder[T]) handle(ev ChangeEvent[T]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder[T]) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := []EventType{}
	for _, ev := range r.events {
		ret = append(ret, ev.Type)
	}
	return ret
}

// replay applies events to a plain slice, used to check that the event stream reproduces the
// collection contents.
func replay[T comparable](items []T, evs []ChangeEvent[T]) []T {
	ret := append([]T{}, items...)
	for _, ev := range evs {
		switch ev.Type {
		case Added:
			ret = append(ret[:ev.Index], append([]T{ev.Item}, ret[ev.Index:]...)...)
		case Removed:
			ret = append(ret[:ev.Index], ret[ev.Index+1:]...)
		case Moved:
			ret = append(ret[:ev.OldIndex], ret[ev.OldIndex+1:]...)
			ret = append(ret[:ev.Index], append([]T{ev.Item}, ret[ev.Index:]...)...)
		case Replaced:
			ret[ev.Index] = ev.Item
		case Reset:
			ret = append([]T{}, ev.Items...)
		}
	}
	return ret
}

var _ = Describe("Collection", func() {
	var (
		c          *Collection[*item]
		rec        *recorder[*item]
		a, b, d, e *item
	)

	BeforeEach(func() {
		c = New[*item](Options{Name: "test", Logger: logger})
		rec = &recorder[*item]{}
		_, err := c.Subscribe(rec.handle)
		Expect(err).NotTo(HaveOccurred())
		a, b, d, e = &item{"a"}, &item{"b"}, &item{"d"}, &item{"e"}
	})

	It("should emit one event per immediate mutation", func() {
		Expect(c.Add(a)).To(Succeed())
		Expect(c.Add(b)).To(Succeed())
		Expect(c.Insert(1, d)).To(Succeed())
		Expect(c.Replace(0, e)).To(Succeed())
		Expect(c.Move(0, 2)).To(Succeed())
		found, err := c.Remove(d)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())

		Expect(rec.types()).To(Equal([]EventType{Added, Added, Added, Replaced, Moved, Removed}))
		Expect(rec.events[2]).To(Equal(ChangeEvent[*item]{Type: Added, Item: d, Index: 1}))
		Expect(rec.events[3]).To(Equal(ChangeEvent[*item]{Type: Replaced, Item: e, OldItem: a, Index: 0}))
		Expect(rec.events[4]).To(Equal(ChangeEvent[*item]{Type: Moved, Item: e, OldIndex: 0, Index: 2}))

		snap, err := c.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(snap).To(Equal([]*item{b, e}))
		Expect(replay(nil, rec.events)).To(Equal(snap))
	})

	It("should report index errors without emitting events", func() {
		Expect(c.Insert(1, a)).To(MatchError(ErrIndexOutOfRange))
		Expect(c.RemoveAt(0)).To(MatchError(ErrIndexOutOfRange))
		Expect(c.Replace(-1, a)).To(MatchError(ErrIndexOutOfRange))
		_, err := c.At(3)
		Expect(err).To(MatchError(ErrIndexOutOfRange))
		Expect(rec.events).To(BeEmpty())
	})

	It("should degrade a move beyond the end to an append", func() {
		for _, x := range []*item{a, b, d} {
			Expect(c.Add(x)).To(Succeed())
		}
		Expect(c.Move(0, 10)).To(Succeed())
		snap, _ := c.Snapshot()
		Expect(snap).To(Equal([]*item{b, d, a}))
		Expect(rec.events[3]).To(Equal(ChangeEvent[*item]{Type: Moved, Item: a, OldIndex: 0, Index: 2}))
	})

	It("should not emit an event for a move onto the same position", func() {
		Expect(c.Add(a)).To(Succeed())
		Expect(c.Move(0, 0)).To(Succeed())
		Expect(rec.types()).To(Equal([]EventType{Added}))
	})

	It("should emit a reset carrying the new contents", func() {
		Expect(c.Add(a)).To(Succeed())
		Expect(c.ResetTo([]*item{b, d})).To(Succeed())
		Expect(rec.events[1].Type).To(Equal(Reset))
		Expect(rec.events[1].Items).To(Equal([]*item{b, d}))

		Expect(c.Clear()).To(Succeed())
		Expect(rec.events[2].Type).To(Equal(Reset))
		Expect(rec.events[2].Items).To(BeEmpty())

		// clearing an empty collection is silent
		Expect(c.Clear()).To(Succeed())
		Expect(rec.events).To(HaveLen(3))
	})

	Describe("Snapshots", func() {
		It("should keep an obtained snapshot stable under mutation", func() {
			Expect(c.Add(a)).To(Succeed())
			Expect(c.Add(b)).To(Succeed())
			snap, err := c.Snapshot()
			Expect(err).NotTo(HaveOccurred())

			Expect(c.RemoveAt(0)).To(Succeed())
			Expect(c.Add(d)).To(Succeed())
			Expect(snap).To(Equal([]*item{a, b}))

			snap2, _ := c.Snapshot()
			Expect(snap2).To(Equal([]*item{b, d}))
		})

		It("should share the snapshot between readers until the next mutation", func() {
			Expect(c.Add(a)).To(Succeed())
			s1, _ := c.Snapshot()
			s2, _ := c.Snapshot()
			Expect(&s1[0]).To(BeIdenticalTo(&s2[0]))

			Expect(c.Add(b)).To(Succeed())
			s3, _ := c.Snapshot()
			Expect(&s3[0]).NotTo(BeIdenticalTo(&s1[0]))
		})

		It("should iterate a snapshot", func() {
			Expect(c.Add(a)).To(Succeed())
			Expect(c.Add(b)).To(Succeed())
			ret := []*item{}
			for _, x := range c.All() {
				// mutation during iteration does not affect the iterator
				Expect(c.Add(d)).To(Succeed())
				ret = append(ret, x)
			}
			Expect(ret).To(Equal([]*item{a, b}))
		})
	})

	Describe("Transactions", func() {
		It("should deliver the events only on commit", func() {
			tx, err := c.Begin()
			Expect(err).NotTo(HaveOccurred())
			Expect(tx.Add(a)).To(Succeed())
			Expect(tx.Add(b)).To(Succeed())
			Expect(tx.Len()).To(Equal(2))
			Expect(rec.events).To(BeEmpty())

			Expect(tx.Commit()).To(Succeed())
			Expect(rec.types()).To(Equal([]EventType{Added, Added}))
			Expect(tx.Commit()).To(MatchError(ErrTransactionDone))
		})

		It("should only publish on the outermost commit of nested scopes", func() {
			tx, err := c.Begin()
			Expect(err).NotTo(HaveOccurred())
			Expect(tx.Add(a)).To(Succeed())

			inner, err := tx.Begin()
			Expect(err).NotTo(HaveOccurred())
			Expect(inner.Add(b)).To(Succeed())
			Expect(inner.Commit()).To(Succeed())
			Expect(rec.events).To(BeEmpty())

			Expect(tx.Commit()).To(Succeed())
			Expect(rec.types()).To(Equal([]EventType{Added, Added}))
		})

		It("should roll back every mutation", func() {
			Expect(c.Add(a)).To(Succeed())
			Expect(c.Add(b)).To(Succeed())

			tx, err := c.Begin()
			Expect(err).NotTo(HaveOccurred())
			Expect(tx.Insert(1, d)).To(Succeed())
			Expect(tx.Replace(0, e)).To(Succeed())
			Expect(tx.Move(0, 2)).To(Succeed())
			Expect(tx.RemoveAt(0)).To(Succeed())
			Expect(tx.ResetTo([]*item{e})).To(Succeed())
			Expect(tx.Add(a)).To(Succeed())
			tx.Rollback()

			snap, _ := c.Snapshot()
			Expect(snap).To(Equal([]*item{a, b}))
			Expect(rec.events).To(HaveLen(2))

			// the lock is released
			Expect(c.Add(d)).To(Succeed())
		})

		It("should never call a handler with the lock held", func() {
			locked := []bool{}
			_, err := c.Subscribe(func(ev ChangeEvent[*item]) error {
				ok := c.mu.TryLock()
				if ok {
					c.mu.Unlock()
				}
				locked = append(locked, !ok)
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			tx, _ := c.Begin()
			Expect(tx.Add(a)).To(Succeed())
			Expect(tx.Add(b)).To(Succeed())
			Expect(tx.Commit()).To(Succeed())
			Expect(locked).To(Equal([]bool{false, false}))
		})

		It("should present the fully applied batch to handlers", func() {
			seen := [][]*item{}
			_, err := c.Subscribe(func(ev ChangeEvent[*item]) error {
				snap, err := c.Snapshot()
				Expect(err).NotTo(HaveOccurred())
				seen = append(seen, snap)
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			tx, _ := c.Begin()
			Expect(tx.Add(a)).To(Succeed())
			Expect(tx.Add(b)).To(Succeed())
			Expect(tx.Add(d)).To(Succeed())
			Expect(tx.Commit()).To(Succeed())

			Expect(seen).To(HaveLen(3))
			for _, s := range seen {
				Expect(s).To(Equal([]*item{a, b, d}))
			}
		})
	})

	Describe("Subscriptions", func() {
		It("should allow a handler to mutate the collection", func() {
			_, err := c.Subscribe(func(ev ChangeEvent[*item]) error {
				if ev.Type == Added && ev.Item == a {
					return c.Add(b)
				}
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(c.Add(a)).To(Succeed())
			snap, _ := c.Snapshot()
			Expect(snap).To(Equal([]*item{a, b}))
			Expect(rec.events).To(HaveLen(2))
			Expect(rec.events[1].Item).To(Equal(b))
		})

		It("should not redeliver events contained in the observed snapshot", func() {
			var sub2 *Subscription[*item]
			rec2 := &recorder[*item]{}
			var snap2 []*item
			_, err := c.Subscribe(func(ev ChangeEvent[*item]) error {
				// subscribe from a handler while later events are still queued
				if sub2 == nil {
					var err error
					snap2, sub2, err = c.Observe(rec2.handle)
					return err
				}
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			tx, _ := c.Begin()
			Expect(tx.Add(a)).To(Succeed())
			Expect(tx.Add(b)).To(Succeed())
			Expect(tx.Commit()).To(Succeed())
			Expect(c.Add(d)).To(Succeed())

			Expect(snap2).To(Equal([]*item{a, b}))
			Expect(rec2.events).To(HaveLen(1))
			Expect(rec2.events[0].Item).To(Equal(d))
			Expect(replay(snap2, rec2.events)).To(Equal([]*item{a, b, d}))
		})

		It("should stop delivery after cancel", func() {
			sub, err := c.Subscribe(func(ev ChangeEvent[*item]) error { return nil })
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Subscribers()).To(Equal(2))
			sub.Cancel()
			sub.Cancel()
			Expect(sub.Active()).To(BeFalse())
			Expect(c.Subscribers()).To(Equal(1))
		})

		It("should report the handler errors of a batch to its own committer", func() {
			gate, entered := make(chan struct{}), make(chan struct{})
			bad := &item{"bad"}
			_, err := c.Subscribe(func(ev ChangeEvent[*item]) error {
				switch ev.Item {
				case a:
					close(entered)
					<-gate
				case bad:
					return errors.New("rejected")
				}
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			errA, errB := make(chan error, 1), make(chan error, 1)
			go func() { errA <- c.Add(a) }()
			Eventually(entered).Should(BeClosed())
			go func() { errB <- c.Add(bad) }()

			// the second writer waits for the delivery of its own batch
			Consistently(errB, 50*time.Millisecond).ShouldNot(Receive())
			close(gate)

			Eventually(errB).Should(Receive(MatchError("rejected")))
			Eventually(errA).Should(Receive(BeNil()))
			rec.mu.Lock()
			defer rec.mu.Unlock()
			Expect(rec.events).To(HaveLen(2))
		})

		It("should report errors of mutations made by handlers to the outer committer", func() {
			_, err := c.Subscribe(func(ev ChangeEvent[*item]) error {
				switch {
				case ev.Type == Added && ev.Item == a:
					return c.Add(b)
				case ev.Type == Added && ev.Item == b:
					return errors.New("nested")
				}
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(c.Add(a)).To(MatchError(ContainSubstring("nested")))
			snap, _ := c.Snapshot()
			Expect(snap).To(Equal([]*item{a, b}))
		})

		It("should release waiting writers when disposed", func() {
			gate, entered := make(chan struct{}), make(chan struct{})
			_, err := c.Subscribe(func(ev ChangeEvent[*item]) error {
				if ev.Item == a {
					close(entered)
					<-gate
				}
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			errA, errB := make(chan error, 1), make(chan error, 1)
			go func() { errA <- c.Add(a) }()
			Eventually(entered).Should(BeClosed())
			go func() { errB <- c.Add(b) }()
			Consistently(errB, 50*time.Millisecond).ShouldNot(Receive())

			c.Dispose()
			Eventually(errB).Should(Receive(BeNil()))
			close(gate)
			Eventually(errA).Should(Receive(BeNil()))
		})

		It("should aggregate handler errors", func() {
			_, err := c.Subscribe(func(ev ChangeEvent[*item]) error { return errors.New("boom") })
			Expect(err).NotTo(HaveOccurred())
			err = c.Add(a)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("boom"))
			// the mutation itself is committed
			Expect(c.Count()).To(Equal(1))
		})
	})

	It("should fail on a disposed collection", func() {
		Expect(c.Add(a)).To(Succeed())
		c.Dispose()
		Expect(c.IsDisposed()).To(BeTrue())
		Expect(c.Add(b)).To(MatchError(ErrDisposed))
		_, err := c.Snapshot()
		Expect(err).To(MatchError(ErrDisposed))
		_, err = c.Begin()
		Expect(err).To(MatchError(ErrDisposed))
		Expect(c.Subscribers()).To(Equal(0))
	})

	It("should keep a consistent event stream under concurrent writers", func() {
		const writers, perWriter = 8, 100
		var wg sync.WaitGroup
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					x := &item{"x"}
					Expect(c.Add(x)).To(Succeed())
					if i%3 == 0 {
						_, err := c.Remove(x)
						Expect(err).NotTo(HaveOccurred())
					}
					// concurrent reader
					snap, err := c.Snapshot()
					Expect(err).NotTo(HaveOccurred())
					Expect(len(snap)).To(BeNumerically("<=", writers*perWriter))
				}
			}()
		}
		wg.Wait()

		snap, _ := c.Snapshot()
		rec.mu.Lock()
		defer rec.mu.Unlock()
		Expect(replay(nil, rec.events)).To(Equal(snap))
	})
})
