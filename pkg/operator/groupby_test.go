package operator

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/livequery/pkg/collection"
	"github.com/l7mp/livequery/pkg/property"
)

var _ = Describe("GroupBy", func() {
	var (
		a, b, c *property.Object
		src     *collection.Collection[*property.Object]
		opts    GroupOptions[int]
	)

	BeforeEach(func() {
		a, b, c = obj("A", 1), obj("B", 2), obj("C", 1)
		src = collection.NewFrom([]*property.Object{a, b, c}, collection.Options{Logger: logger})
		opts = GroupOptions[int]{Options: Options{Logger: logger, DependsOn: []string{"x"}}}
	})

	keys := func(q collection.Observable[*Grouping[int, *property.Object]]) []int {
		groups, err := q.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		ret := []int{}
		for _, g := range groups {
			ret = append(ret, g.Key)
		}
		return ret
	}

	It("should group by key in order of first appearance", func() {
		g, err := GroupBy(src, getX, opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(keys(g)).To(Equal([]int{1, 2}))

		g1, err := g.At(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(snapshotNames(g1)).To(Equal([]string{"A", "C"}))
		g2, err := g.At(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(snapshotNames(g2)).To(Equal([]string{"B"}))

		Expect(src.Insert(0, obj("D", 3))).To(Succeed())
		Expect(keys(g)).To(Equal([]int{3, 1, 2}))
		Expect(snapshotNames(g1)).To(Equal([]string{"A", "C"}))
	})

	It("should keep grouping identity and drop empty groups", func() {
		g, err := GroupBy(src, getX, opts)
		Expect(err).NotTo(HaveOccurred())
		g1, _ := g.At(0)
		g2, _ := g.At(1)
		Expect(snapshotNames(g2)).To(Equal([]string{"B"}))
		rec := observe[*Grouping[int, *property.Object]](g)

		// moving B into group 1 empties group 2
		Expect(b.Set("x", 1)).To(Succeed())
		Expect(keys(g)).To(Equal([]int{1}))
		again, _ := g.At(0)
		Expect(again).To(BeIdenticalTo(g1))
		Expect(snapshotNames(g1)).To(Equal([]string{"A", "B", "C"}))
		_, err = g2.Snapshot()
		Expect(err).To(MatchError(collection.ErrDisposed))

		// moving A out creates a new group after group 1
		Expect(a.Set("x", 5)).To(Succeed())
		Expect(keys(g)).To(Equal([]int{5, 1}))
		Expect(snapshotNames(g1)).To(Equal([]string{"B", "C"}))

		final, _ := g.Snapshot()
		Expect(rec.replay()).To(Equal(final))
	})

	It("should reorder groups when the first occurrence moves", func() {
		g, err := GroupBy(src, getX, opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(keys(g)).To(Equal([]int{1, 2}))

		Expect(src.Move(1, 0)).To(Succeed()) // B first
		Expect(keys(g)).To(Equal([]int{2, 1}))

		_, err = src.Remove(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(keys(g)).To(Equal([]int{1}))
	})

	It("should reposition only the groups a change touches", func() {
		g, err := GroupBy(src, getX, opts)
		Expect(err).NotTo(HaveOccurred())
		g1, _ := g.At(0)
		g2, _ := g.At(1)
		rec := observe[*Grouping[int, *property.Object]](g)

		// D takes the first position of group 2, group 1 now starts at C
		Expect(src.Replace(0, obj("D", 2))).To(Succeed())
		Expect(keys(g)).To(Equal([]int{2, 1}))
		Expect(rec.types()).To(Equal([]collection.EventType{collection.Moved}))
		Expect(g.At(0)).To(BeIdenticalTo(g2))
		Expect(g.At(1)).To(BeIdenticalTo(g1))

		Expect(src.Insert(1, obj("E", 7))).To(Succeed())
		Expect(keys(g)).To(Equal([]int{2, 7, 1}))
		Expect(rec.types()).To(Equal([]collection.EventType{collection.Moved, collection.Added}))

		final, _ := g.Snapshot()
		Expect(rec.replay()).To(Equal(final))
	})

	It("should use a custom key equality", func() {
		opts.Equal = func(x, y int) bool { return x%2 == y%2 }
		g, err := GroupBy(src, getX, opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(keys(g)).To(Equal([]int{1, 2}))

		Expect(src.Add(obj("D", 3))).To(Succeed())
		Expect(keys(g)).To(Equal([]int{1, 2}))
		g1, _ := g.At(0)
		Expect(snapshotNames(g1)).To(Equal([]string{"A", "C", "D"}))
	})

	It("should dispose the groupings", func() {
		g, err := GroupBy(src, getX, opts)
		Expect(err).NotTo(HaveOccurred())
		g1, _ := g.At(0)
		Expect(snapshotNames(g1)).To(Equal([]string{"A", "C"}))
		Expect(src.Subscribers()).To(Equal(2))

		g.Dispose()
		Expect(src.Subscribers()).To(Equal(0))
		_, err = g1.Snapshot()
		Expect(err).To(MatchError(collection.ErrDisposed))
	})
})
