package operator

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/livequery/pkg/collection"
)

var _ = Describe("Unsupported operators", func() {
	It("should fail fast", func() {
		a := collection.New[int](collection.Options{})
		b := collection.New[string](collection.Options{})

		_, err := Join[int, string, int](a, b, Options{})
		Expect(err).To(MatchError(ErrNotSupported))
		_, err = Intersect[int](a, a, Options{})
		Expect(err).To(MatchError(ErrNotSupported))
		_, err = Except[int](a, a, Options{})
		Expect(err).To(MatchError(ErrNotSupported))
		_, err = Zip[int, string, string](a, b, Options{})
		Expect(err).To(MatchError(ErrNotSupported))
	})
})
