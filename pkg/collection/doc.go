// Package collection implements the mutable observable collection at the bottom of the live query
// engine.
//
// A Collection is an ordered list of elements that reports every structural change (add, remove,
// move, replace, reset) to its subscribers. Mutations are serialized by an exclusive lock and may
// be grouped into a Transaction, in which case the events are buffered and delivered in commit
// order once the lock has been released. Readers never hold the lock while iterating: they obtain
// an immutable snapshot, rebuilt lazily after each mutation, and enumerate that.
//
// Subscribers are never called with the collection lock held, so a handler may safely read or
// mutate the collection it is subscribed to. Events are delivered by a per-collection ordered
// queue; a handler that mutates the collection sees its own events delivered after it returns.
//
// A mutation returns only after its events have reached every subscriber, even when another
// goroutine is delivering at the time, and it returns exactly the errors raised by the handlers of
// its own events and of the mutations those handlers made in turn.
//
// Example usage:
//
//	c := collection.New[*Item](collection.Options{Name: "items"})
//	sub, _ := c.Subscribe(func(ev collection.ChangeEvent[*Item]) error {
//		fmt.Println(ev)
//		return nil
//	})
//	defer sub.Cancel()
//
//	tx, _ := c.Begin()
//	tx.Add(a)
//	tx.Add(b)
//	tx.Commit() // subscribers see two Added events, never a half-applied batch
package collection
