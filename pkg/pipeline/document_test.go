package pipeline

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/livequery/pkg/collection"
)

const doc = `
objects:
  - {name: a, spec: {replicas: 1}}
  - {name: b, spec: {replicas: 4}}
  - {name: c, spec: {replicas: 2}}
vars:
  limits: {min: 1}
pipeline:
  - "@where": {"@gt": ["$.spec.replicas", {"@var": "limits.min"}]}
  - "@orderBy": "$.spec.replicas"
mutations:
  - set: {index: 0, property: spec.replicas, value: 3}
  - setVar: {property: limits.min, value: 2}
  - add: {name: d, spec: {replicas: 5}}
  - remove: 1
  - move: {from: 0, to: 2}
`

var _ = Describe("Document", func() {
	It("should run a scripted scenario", func() {
		d, err := ParseDocument([]byte(doc))
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Objects).To(HaveLen(3))
		Expect(d.Pipeline).To(HaveLen(2))
		Expect(d.Mutations).To(HaveLen(5))

		src := d.Source(collection.Options{Name: "objects", Logger: logger})
		vars := d.Variables()
		p, err := New(src, d.Pipeline, Options{Logger: logger, Vars: vars})
		Expect(err).NotTo(HaveOccurred())
		defer p.Dispose()

		Expect(names(p)).To(Equal([]string{"c", "b"}))

		expected := [][]string{
			{"c", "a", "b"},
			{"a", "b"},
			{"a", "b", "d"},
			{"a", "d"},
			{"a", "d"},
		}
		for i, m := range d.Mutations {
			By(m.String())
			Expect(m.Apply(src, vars)).To(Succeed())
			Expect(names(p)).To(Equal(expected[i]))
		}
	})

	It("should describe mutations", func() {
		i := 2
		Expect(Mutation{Remove: &i}.String()).To(Equal("remove [2]"))
		Expect(Mutation{Move: &MoveStep{From: 0, To: 1}}.String()).To(Equal("move [0]->[1]"))
		Expect(Mutation{}.String()).To(Equal("noop"))
	})

	It("should reject an empty mutation", func() {
		src := collection.New[Object](collection.Options{})
		Expect(Mutation{}.Apply(src, nil)).NotTo(Succeed())
	})

	It("should reject a document without a pipeline", func() {
		_, err := ParseDocument([]byte("objects: []\n"))
		Expect(err).To(HaveOccurred())
	})
})
