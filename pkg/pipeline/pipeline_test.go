package pipeline

import (
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/livequery/internal/testutils"
	"github.com/l7mp/livequery/pkg/collection"
	"github.com/l7mp/livequery/pkg/property"
)

var _ = Describe("Pipeline", func() {
	var (
		a, b, c, d *property.Object
		src        *collection.Collection[Object]
		vars       *property.Object
		opts       Options
	)

	BeforeEach(func() {
		a, b, c, d = obj("A", 1), obj("B", 3), obj("C", 5), obj("D", 3)
		src = collection.NewFrom([]Object{a, b, c, d}, collection.Options{Name: "src", Logger: logger})
		vars = property.NewObject(map[string]any{"min": 1})
		opts = Options{Name: "q", Logger: logger, Vars: vars}
	})

	It("should filter and sort", func() {
		p, err := NewFromYAML(src, []byte(`
- "@where": {"@gt": ["$.x", {"@var": "min"}]}
- "@orderBy": [{"@desc": "$.x"}, "$.name"]
`), opts)
		Expect(err).NotTo(HaveOccurred())
		defer p.Dispose()

		Expect(p.Stages()).To(Equal(2))
		Expect(names(p)).To(Equal([]string{"C", "B", "D"}))

		By("changing a variable")
		Expect(vars.Set("min", 3)).To(Succeed())
		Expect(names(p)).To(Equal([]string{"C"}))

		By("changing a tracked property")
		Expect(a.Set("x", 10)).To(Succeed())
		Expect(names(p)).To(Equal([]string{"A", "C"}))

		By("changing the source")
		Expect(src.Add(obj("E", 7))).To(Succeed())
		Expect(names(p)).To(Equal([]string{"A", "E", "C"}))

		_, err = src.Remove(c)
		Expect(err).NotTo(HaveOccurred())
		Expect(names(p)).To(Equal([]string{"A", "E"}))
	})

	It("should sort ascending by default", func() {
		p, err := NewFromYAML(src, []byte(`[{"@orderBy": "$.name"}]`), opts)
		Expect(err).NotTo(HaveOccurred())
		defer p.Dispose()

		Expect(src.Move(0, 3)).To(Succeed())
		Expect(names(p)).To(Equal([]string{"A", "B", "C", "D"}))

		Expect(b.Set("name", "Z")).To(Succeed())
		Expect(names(p)).To(Equal([]string{"A", "C", "D", "Z"}))
	})

	It("should project elements", func() {
		p, err := NewFromYAML(src, []byte(`
- "@select": {"name": "$.name", "double": {"@mul": ["$.x", 2]}}
- "@where": {"@gte": ["$.double", 6]}
`), opts)
		Expect(err).NotTo(HaveOccurred())
		defer p.Dispose()

		Expect(names(p)).To(Equal([]string{"B", "C", "D"}))
		v, err := p.At(1)
		Expect(err).NotTo(HaveOccurred())
		dbl, _ := v.Get("double")
		Expect(dbl).To(Equal(int64(10)))

		Expect(a.Set("x", 4)).To(Succeed())
		Expect(names(p)).To(Equal([]string{"A", "B", "C", "D"}))
		v, err = p.At(0)
		Expect(err).NotTo(HaveOccurred())
		dbl, _ = v.Get("double")
		Expect(dbl).To(Equal(int64(8)))
	})

	It("should remove duplicates", func() {
		p, err := NewFromYAML(src, []byte(`[{"@distinct": true}]`), opts)
		Expect(err).NotTo(HaveOccurred())
		defer p.Dispose()

		Expect(src.Add(a)).To(Succeed())
		Expect(names(p)).To(Equal([]string{"A", "B", "C", "D"}))

		_, err = src.Remove(a)
		Expect(err).NotTo(HaveOccurred())
		Expect(names(p)).To(Equal([]string{"B", "C", "D", "A"}))
	})

	It("should group elements", func() {
		p, err := NewFromYAML(src, []byte(`
- "@groupBy": ["$.x", "$.name"]
- "@where": {"@gt": [{"@len": "$.items"}, 1]}
`), opts)
		Expect(err).NotTo(HaveOccurred())
		defer p.Dispose()

		groups := func(q collection.Observable[Object]) []string {
			items, err := q.Snapshot()
			Expect(err).NotTo(HaveOccurred())
			ret := []string{}
			for _, o := range items {
				k, _ := o.Get("key")
				vs, _ := o.Get("items")
				ret = append(ret, fmt.Sprint(k, vs))
			}
			return ret
		}
		all := p.nodes[0]
		Expect(groups(all)).To(Equal([]string{"1 [A]", "3 [B D]", "5 [C]"}))
		Expect(groups(p)).To(Equal([]string{"3 [B D]"}))
		g3, err := all.At(1)
		Expect(err).NotTo(HaveOccurred())

		By("moving an element to another group")
		Expect(b.Set("x", 5)).To(Succeed())
		Expect(groups(all)).To(Equal([]string{"1 [A]", "5 [B C]", "3 [D]"}))
		Expect(groups(p)).To(Equal([]string{"5 [B C]"}))
		again, err := all.At(2)
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(BeIdenticalTo(g3))

		By("changing a grouped value")
		Expect(c.Set("name", "Z")).To(Succeed())
		Expect(groups(p)).To(Equal([]string{"5 [B Z]"}))

		By("changing the source")
		Expect(src.Add(obj("E", 1))).To(Succeed())
		Expect(groups(p)).To(Equal([]string{"1 [A E]", "5 [B Z]"}))
		_, err = src.Remove(a)
		Expect(err).NotTo(HaveOccurred())
		Expect(groups(all)).To(Equal([]string{"5 [B Z]", "3 [D]", "1 [E]"}))
	})

	It("should unwind lists", func() {
		svc := property.NewObject(map[string]any{"name": "svc", "ports": []any{80, 443}})
		src := collection.NewFrom([]Object{svc, obj("A", 1)}, collection.Options{Logger: logger})
		p, err := NewFromYAML(src, []byte(`[{"@unwind": "$.ports"}]`), opts)
		Expect(err).NotTo(HaveOccurred())
		defer p.Dispose()

		ports := func() []any {
			items, err := p.Snapshot()
			Expect(err).NotTo(HaveOccurred())
			ret := []any{}
			for _, o := range items {
				v, _ := o.Get("ports")
				ret = append(ret, v)
			}
			return ret
		}
		Expect(names(p)).To(Equal([]string{"svc", "svc"}))
		Expect(ports()).To(Equal([]any{80, 443}))

		Expect(svc.Set("ports", []any{8080})).To(Succeed())
		Expect(ports()).To(Equal([]any{8080}))

		Expect(src.Insert(0, property.NewObject(map[string]any{"name": "db", "ports": []any{5432}}))).To(Succeed())
		Expect(names(p)).To(Equal([]string{"db", "svc"}))
	})

	It("should name its operators", func() {
		p, err := NewFromYAML(src, []byte(`[{"@where": true}, {"@distinct": true}]`), opts)
		Expect(err).NotTo(HaveOccurred())
		defer p.Dispose()

		info := p.Info()
		Expect(info.Kind).To(Equal("distinct"))
		Expect(info.Name).To(Equal("q[1]:distinct"))
		Expect(info.Inputs).To(HaveLen(1))
		Expect(info.Inputs[0].Info().Name).To(Equal("q[0]:where"))
		Expect(p.String()).To(Equal(`[{"@where":true},{"@distinct":true}]`))
	})

	It("should refresh", func() {
		p, err := NewFromYAML(src, []byte(`[{"@where": {"@lt": ["$.x", 4]}}]`), Options{Logger: logger})
		Expect(err).NotTo(HaveOccurred())
		defer p.Dispose()

		Expect(names(p)).To(Equal([]string{"A", "B", "D"}))
		Expect(p.Refresh()).To(Succeed())
		Expect(names(p)).To(Equal([]string{"A", "B", "D"}))
	})

	It("should fail when the selector does not produce an object", func() {
		p, err := NewFromYAML(src, []byte(`[{"@select": "$.x"}]`), opts)
		Expect(err).NotTo(HaveOccurred())
		defer p.Dispose()

		_, err = p.Snapshot()
		Expect(err).To(HaveOccurred())
	})

	DescribeTable("should reject invalid pipelines",
		func(doc string, o Options) {
			_, err := NewFromYAML(src, []byte(doc), o)
			Expect(err).To(HaveOccurred())
		},
		Entry("empty pipeline", `[]`, Options{}),
		Entry("unknown stage", `[{"@frobnicate": 1}]`, Options{}),
		Entry("stage that is not a single-key map", `["$.x"]`, Options{}),
		Entry("unbound variable", `[{"@where": {"@eq": ["$.x", {"@var": "min"}]}}]`, Options{}),
		Entry("no sort keys", `[{"@orderBy": []}]`, Options{}),
		Entry("group key list of the wrong size", `[{"@groupBy": ["$.x", "$.y", "$.z"]}]`, Options{}),
		Entry("unwind argument that is not a path", `[{"@unwind": {"@len": "$.x"}}]`, Options{}),
		Entry("unwind of the element itself", `[{"@unwind": "$"}]`, Options{}),
		Entry("malformed document", `{"@where": true`, Options{}),
	)

	It("should reject a nil source", func() {
		_, err := New(nil, nil, Options{})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Pipeline events", func() {
	It("should emit incremental events", func() {
		web, db, cache := testutils.Service("web", "default", 3), testutils.Service("db", "default", 1),
			testutils.Service("cache", "default", 2)
		src := collection.NewFrom([]Object{web, db}, collection.Options{Logger: logger})
		p, err := NewFromYAML(src, []byte(`
- "@where": {"@gte": ["$.spec.replicas", 2]}
- "@orderBy": "$.metadata.name"
`), Options{Logger: logger})
		Expect(err).NotTo(HaveOccurred())
		defer p.Dispose()

		ch, sub := testutils.Watch[Object](p)
		defer sub.Cancel()

		Expect(src.Add(cache)).To(Succeed())
		ev, ok := testutils.TryWatchEvent(ch, time.Second)
		Expect(ok).To(BeTrue())
		testutils.MatchEvent(ev, collection.Added, cache, 0)

		Expect(property.SetPath(db, "spec.replicas", 5)).To(Succeed())
		ev, ok = testutils.TryWatchEvent(ch, time.Second)
		Expect(ok).To(BeTrue())
		testutils.MatchEvent(ev, collection.Added, db, 1)

		Expect(property.SetPath(web, "spec.ports", []any{})).To(Succeed())
		_, ok = testutils.TryWatchEvent(ch, 50*time.Millisecond)
		Expect(ok).To(BeFalse())

		items, err := p.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(testutils.Names(items)).To(Equal([]string{"cache", "db", "web"}))
	})
})
