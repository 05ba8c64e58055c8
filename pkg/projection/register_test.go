package projection

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type src struct{ n int }
type dst struct{ s string }

var _ = Describe("Register", func() {
	var (
		calls int
		fail  bool
		reg   *Register[*src, *dst]
	)

	BeforeEach(func() {
		calls, fail = 0, false
		reg = New(func(s *src) (*dst, error) {
			calls++
			if fail {
				return nil, errors.New("projector failed")
			}
			return &dst{fmt.Sprintf("%d", s.n)}, nil
		})
	})

	It("should return the same instance for the same element", func() {
		a := &src{1}
		p1, err := reg.CreateOrGetProjection(a)
		Expect(err).NotTo(HaveOccurred())
		p2, err := reg.CreateOrGetProjection(a)
		Expect(err).NotTo(HaveOccurred())
		Expect(p2).To(BeIdenticalTo(p1))
		Expect(calls).To(Equal(1))

		p3, err := reg.CreateOrGetProjection(&src{1})
		Expect(err).NotTo(HaveOccurred())
		Expect(p3).NotTo(BeIdenticalTo(p1))
		Expect(calls).To(Equal(2))
	})

	It("should keep the entry until the last reference is removed", func() {
		a := &src{1}
		_, _ = reg.CreateOrGetProjection(a)
		_, _ = reg.CreateOrGetProjection(a)
		Expect(reg.Remove(a)).To(BeFalse())
		Expect(reg.Len()).To(Equal(1))
		Expect(reg.Remove(a)).To(BeTrue())
		Expect(reg.Len()).To(Equal(0))
		Expect(reg.Remove(a)).To(BeFalse())
	})

	It("should reproject in place", func() {
		a := &src{1}
		p1, _ := reg.CreateOrGetProjection(a)
		a.n = 2
		old, cur, err := reg.Reproject(a)
		Expect(err).NotTo(HaveOccurred())
		Expect(old).To(BeIdenticalTo(p1))
		Expect(cur.s).To(Equal("2"))

		p, _ := reg.CreateOrGetProjection(a)
		Expect(p).To(BeIdenticalTo(cur))
		Expect(calls).To(Equal(2))

		_, _, err = reg.Reproject(&src{3})
		Expect(IsNotRegistered(err)).To(BeTrue())
	})

	It("should leave the register intact when the projector fails", func() {
		a := &src{1}
		p1, _ := reg.CreateOrGetProjection(a)
		fail = true
		_, _, err := reg.Reproject(a)
		Expect(err).To(HaveOccurred())
		fail = false
		p, _ := reg.CreateOrGetProjection(a)
		Expect(p).To(BeIdenticalTo(p1))

		fail = true
		_, err = reg.CreateOrGetProjection(&src{2})
		Expect(err).To(HaveOccurred())
		Expect(reg.Len()).To(Equal(1))
	})

	It("should drop every entry on clear", func() {
		a := &src{1}
		p1, _ := reg.CreateOrGetProjection(a)
		_, _ = reg.CreateOrGetProjection(&src{2})
		Expect(reg.Len()).To(Equal(2))

		reg.Clear()
		Expect(reg.Len()).To(Equal(0))
		p2, _ := reg.CreateOrGetProjection(a)
		Expect(p2).NotTo(BeIdenticalTo(p1))
	})
})
