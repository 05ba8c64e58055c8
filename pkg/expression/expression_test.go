package expression

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/livequery/pkg/property"
)

var _ = Describe("Expressions", func() {
	var obj, vars *property.Object

	BeforeEach(func() {
		obj = property.NewObject(map[string]any{
			"name": "web",
			"x":    3,
			"spec": property.NewObject(map[string]any{"replicas": 2, "ports": []any{80, 443}}),
			"meta": map[string]any{"zone": "a"},
		})
		vars = property.NewObject(map[string]any{
			"limits": property.NewObject(map[string]any{"min": 1, "max": 5}),
			"prefix": "srv-",
		})
	})

	Describe("literals", func() {
		It("should parse and evaluate an int", func() {
			e, err := Parse("3")
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Op).To(Equal("@int"))
			v, err := e.Evaluate(EvalCtx{})
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(int64(3)))
		})

		It("should parse and evaluate a float", func() {
			v, err := eval("1.5", nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(1.5))
		})

		It("should parse and evaluate a bool", func() {
			v, err := eval("true", nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(BeTrue())
		})

		It("should parse and evaluate null", func() {
			v, err := eval("null", nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(BeNil())
		})

		It("should return plain strings verbatim", func() {
			v, err := eval(`"hello"`, obj, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("hello"))
		})

		It("should evaluate a literal list", func() {
			v, err := eval(`[1, "a", true]`, obj, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal([]any{int64(1), "a", true}))
		})

		It("should evaluate a literal map", func() {
			v, err := eval(`{"n": "$.name", "r": "$.spec.replicas"}`, obj, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(map[string]any{"n": "web", "r": 2}))
		})
	})

	Describe("element references", func() {
		It("should resolve a top-level property", func() {
			v, err := eval(`"$.name"`, obj, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("web"))
		})

		It("should resolve a property of a nested object", func() {
			v, err := eval(`"$.spec.replicas"`, obj, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(2))
		})

		It("should resolve a property of a nested map", func() {
			v, err := eval(`"$.meta.zone"`, obj, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("a"))
		})

		It("should return the element itself for the root path", func() {
			v, err := eval(`"$"`, obj, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(BeIdenticalTo(obj))
		})

		It("should return nil for a missing property", func() {
			v, err := eval(`"$.missing.x"`, obj, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(BeNil())
		})

		It("should evaluate a complex JSONPath", func() {
			v, err := eval(`"$.spec.ports[1]"`, obj, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(443))
		})

		It("should resolve external variables", func() {
			v, err := eval(`{"@var": "limits.max"}`, obj, vars)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(5))
		})
	})

	Describe("operators", func() {
		DescribeTable("should evaluate",
			func(s string, expected any) {
				v, err := eval(s, obj, vars)
				Expect(err).NotTo(HaveOccurred())
				Expect(v).To(Equal(expected))
			},
			Entry("@eq on ints", `{"@eq": ["$.x", 3]}`, true),
			Entry("@eq int and float", `{"@eq": [2, 2.0]}`, true),
			Entry("@neq on strings", `{"@neq": ["$.name", "db"]}`, true),
			Entry("@lt on strings", `{"@lt": ["a", "b"]}`, true),
			Entry("@gt", `{"@gt": ["$.x", 2]}`, true),
			Entry("@gte", `{"@gte": ["$.spec.replicas", 2]}`, true),
			Entry("@lte with a float", `{"@lte": ["$.x", 2.5]}`, false),
			Entry("@and", `{"@and": [true, {"@gt": ["$.x", 1]}]}`, true),
			Entry("@or", `{"@or": [false, {"@lt": ["$.x", 1]}]}`, false),
			Entry("@not", `{"@not": {"@eq": ["$.name", "web"]}}`, false),
			Entry("@add on ints", `{"@add": ["$.x", 1, 2]}`, int64(6)),
			Entry("@sub", `{"@sub": [10, "$.x"]}`, int64(7)),
			Entry("@mul on floats", `{"@mul": [1.5, 2]}`, 3.0),
			Entry("@div on ints", `{"@div": [7, 2]}`, int64(3)),
			Entry("@abs", `{"@abs": -4}`, int64(4)),
			Entry("@len on a list", `{"@len": "$.spec.ports"}`, int64(2)),
			Entry("@len on a string", `{"@len": "$.name"}`, int64(3)),
			Entry("@in", `{"@in": [443, "$.spec.ports"]}`, true),
			Entry("@concat", `{"@concat": [{"@var": "prefix"}, "$.name"]}`, "srv-web"),
			Entry("@exists", `{"@exists": "$.missing"}`, false),
			Entry("@isnil", `{"@isnil": "$.missing"}`, true),
			Entry("@cond", `{"@cond": [{"@gt": ["$.x", 5]}, "big", "small"]}`, "small"),
			Entry("@gt on a variable", `{"@gt": ["$.x", {"@var": "limits.min"}]}`, true),
			Entry("@string conversion", `{"@string": "$.x"}`, "3"),
			Entry("@int conversion", `{"@int": "42"}`, int64(42)),
		)

		It("should fail on division by zero", func() {
			_, err := eval(`{"@div": [1, 0]}`, obj, nil)
			Expect(err).To(HaveOccurred())
		})

		It("should fail on an unknown op", func() {
			_, err := eval(`{"@frobnicate": 1}`, obj, nil)
			Expect(err).To(HaveOccurred())
		})

		It("should fail on a type mismatch", func() {
			_, err := eval(`{"@and": [true, "x"]}`, obj, nil)
			Expect(err).To(HaveOccurred())
		})

		It("should evaluate only the selected @cond branch", func() {
			v, err := eval(`{"@cond": [true, 1, {"@div": [1, 0]}]}`, obj, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(int64(1)))
		})
	})

	Describe("marshaling", func() {
		It("should round-trip an operator expression", func() {
			e, err := Parse(`{"@eq": ["$.a", 1]}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.String()).To(Equal(`{"@eq":["$.a",1]}`))
		})

		It("should round-trip a dict", func() {
			e, err := Parse(`{"a": 1, "b": "x"}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Op).To(Equal("@dict"))
			Expect(e.String()).To(Equal(`{"a":1,"b":"x"}`))
		})

		It("should parse YAML", func() {
			e, err := Parse("'@gt':\n- $.x\n- 1\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Op).To(Equal("@gt"))
			v, err := e.Evaluate(EvalCtx{Object: obj})
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(BeTrue())
		})

		It("should deep copy", func() {
			e, err := Parse(`{"@eq": ["$.a", 1]}`)
			Expect(err).NotTo(HaveOccurred())
			out := &Expression{}
			e.DeepCopyInto(out)
			Expect(out.String()).To(Equal(e.String()))
			Expect(out.Arg).NotTo(BeIdenticalTo(e.Arg))
		})
	})

	Describe("dependencies", func() {
		It("should collect element paths and variables", func() {
			e, err := Parse(`{"@and": [{"@gt": ["$.spec.replicas", {"@var": "limits.min"}]}, {"@eq": ["$.name", "x"]}]}`)
			Expect(err).NotTo(HaveOccurred())
			deps := e.Dependencies()
			Expect(deps.Paths).To(Equal([]string{"name", "spec.replicas"}))
			Expect(deps.Vars).To(Equal([]string{"limits.min"}))
		})

		It("should report a whole-element dependency for complex JSONPaths", func() {
			e, err := Parse(`{"@len": "$.spec.ports[*]"}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Dependencies().Paths).To(Equal([]string{""}))
		})

		It("should report a whole-element dependency for the root", func() {
			e, err := Parse(`{"@exists": "$"}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Dependencies().Paths).To(Equal([]string{""}))
		})

		It("should walk dicts and conditionals", func() {
			e, err := Parse(`{"k": {"@cond": ["$.a", "$.b", "$.c.d"]}}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Dependencies().Paths).To(Equal([]string{"a", "b", "c.d"}))
		})

		It("should ignore literals", func() {
			e, err := Parse(`{"@eq": ["a", 1]}`)
			Expect(err).NotTo(HaveOccurred())
			deps := e.Dependencies()
			Expect(deps.Paths).To(BeEmpty())
			Expect(deps.Vars).To(BeEmpty())
		})
	})

	Describe("compiled functions", func() {
		It("should build a predicate", func() {
			e, err := Parse(`{"@gt": ["$.x", 2]}`)
			Expect(err).NotTo(HaveOccurred())
			pred := Predicate[*property.Object](e, nil, logger)
			ok, err := pred(obj)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("should treat a nil predicate result as false", func() {
			e, err := Parse(`"$.missing"`)
			Expect(err).NotTo(HaveOccurred())
			ok, err := Predicate[*property.Object](e, nil, logger)(obj)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("should reject a non-boolean predicate result", func() {
			e, err := Parse(`"$.name"`)
			Expect(err).NotTo(HaveOccurred())
			_, err = Predicate[*property.Object](e, nil, logger)(obj)
			Expect(err).To(HaveOccurred())
		})

		It("should build a selector", func() {
			e, err := Parse(`{"@concat": [{"@var": "prefix"}, "$.name"]}`)
			Expect(err).NotTo(HaveOccurred())
			v, err := Selector[*property.Object](e, vars, logger)(obj)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("srv-web"))
		})

		It("should normalize keys", func() {
			e, err := Parse(`"$.x"`)
			Expect(err).NotTo(HaveOccurred())
			v, err := Key[*property.Object](e, nil, logger)(obj)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(3.0))
		})

		It("should order keys across types", func() {
			Expect(CompareKeys(nil, false)).To(Equal(-1))
			Expect(CompareKeys(true, 1.0)).To(Equal(-1))
			Expect(CompareKeys(2.0, 1.0)).To(Equal(1))
			Expect(CompareKeys(1.0, "a")).To(Equal(-1))
			Expect(CompareKeys("b", "a")).To(Equal(1))
			Expect(CompareKeys("a", "a")).To(Equal(0))
		})
	})
})
