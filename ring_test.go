package flexihash

import (
	"fmt"
	"math"
	"strconv"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/bitleak/go-flexihash/hashkit"
)

// mockHasher returns the same value for every key until it is changed.
type mockHasher struct {
	value uint32
}

func (h *mockHasher) Hash(string) uint32 {
	return h.value
}

func newRing(cfg *Config) *Ring {
	r, err := New(cfg)
	Expect(err).NotTo(HaveOccurred())
	return r
}

func numberedTargets(n int) []string {
	targets := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		targets = append(targets, fmt.Sprintf("target%d", i))
	}
	return targets
}

func lookupAll(r *Ring, lookups int) []string {
	results := make([]string, 0, lookups)
	for i := 1; i <= lookups; i++ {
		target, err := r.Lookup("t" + strconv.Itoa(i))
		Expect(err).NotTo(HaveOccurred())
		results = append(results, target)
	}
	return results
}

var _ = Describe("Ring", func() {
	var ring *Ring

	BeforeEach(func() {
		ring = newRing(nil)
	})

	Describe("New", func() {
		It("uses the defaults", func() {
			Expect(ring.Replicas()).To(Equal(DefaultReplicas))
			Expect(ring.Len()).To(Equal(0))
		})

		It("rejects negative replicas", func() {
			_, err := New(&Config{Replicas: -1})
			Expect(err).To(Equal(ErrInvalidReplicas))
		})

		It("does not modify the passed config", func() {
			cfg := &Config{}
			newRing(cfg)
			Expect(cfg.Replicas).To(Equal(0))
			Expect(cfg.Hasher).To(BeNil())
		})
	})

	Describe("targets", func() {
		It("is empty by default", func() {
			Expect(ring.Targets()).To(BeEmpty())
		})

		It("keeps insertion order", func() {
			Expect(ring.AddTarget("t-a")).To(Succeed())
			Expect(ring.AddTarget("t-b")).To(Succeed())
			Expect(ring.AddTarget("t-c")).To(Succeed())
			Expect(ring.Targets()).To(Equal([]string{"t-a", "t-b", "t-c"}))
			Expect(ring.Len()).To(Equal(3))
		})

		It("adds a list of targets", func() {
			targets := []string{"t-a", "t-b", "t-c"}
			Expect(ring.AddTargets(targets)).To(Succeed())
			Expect(ring.Targets()).To(Equal(targets))
		})

		It("fails on duplicate target without changing the ring", func() {
			Expect(ring.AddTarget("t-a")).To(Succeed())
			before := ring.LookupList("resource", 1)
			err := ring.AddTarget("t-a")
			Expect(err).To(MatchError(ErrDuplicateTarget))
			Expect(ring.Targets()).To(Equal([]string{"t-a"}))
			Expect(ring.LookupList("resource", 1)).To(Equal(before))
		})

		It("stops adding a list at the first duplicate", func() {
			err := ring.AddTargets([]string{"t-a", "t-b", "t-a", "t-c"})
			Expect(err).To(MatchError(ErrDuplicateTarget))
			Expect(ring.Targets()).To(Equal([]string{"t-a", "t-b"}))
		})

		It("rejects an invalid weight", func() {
			for _, weight := range []float64{-1, math.NaN(), math.Inf(1), math.Inf(-1), 1e300, 1 << 27} {
				Expect(ring.AddWeightedTarget("t-a", weight)).To(MatchError(ErrInvalidWeight))
				Expect(ring.Targets()).To(BeEmpty())
				Expect(ring.positionToTarget).To(BeEmpty())
			}
		})

		It("removes a target", func() {
			Expect(ring.AddTargets([]string{"t-a", "t-b", "t-c"})).To(Succeed())
			Expect(ring.RemoveTarget("t-b")).To(Succeed())
			Expect(ring.Targets()).To(Equal([]string{"t-a", "t-c"}))
			Expect(ring.Len()).To(Equal(2))
		})

		It("fails to remove a missing target", func() {
			Expect(ring.AddTarget("t-a")).To(Succeed())
			Expect(ring.RemoveTarget("not-there")).To(MatchError(ErrUnknownTarget))
			Expect(ring.Targets()).To(Equal([]string{"t-a"}))
		})

		It("returns a copy of the targets", func() {
			Expect(ring.AddTargets([]string{"t-a", "t-b"})).To(Succeed())
			targets := ring.Targets()
			targets[0] = "changed"
			Expect(ring.Targets()).To(Equal([]string{"t-a", "t-b"}))
		})
	})

	Describe("positions", func() {
		It("hashes each target replicas times", func() {
			ring = newRing(&Config{Replicas: 8})
			Expect(ring.AddTarget("t-a")).To(Succeed())
			Expect(ring.targetToPositions["t-a"]).To(HaveLen(8))
			for i, position := range ring.targetToPositions["t-a"] {
				Expect(position).To(Equal(hashkit.Crc32([]byte("t-a" + strconv.Itoa(i)))))
				Expect(ring.positionToTarget[position]).To(Equal("t-a"))
			}
		})

		It("scales positions by weight", func() {
			ring = newRing(&Config{Replicas: 10})
			Expect(ring.AddWeightedTarget("heavy", 2.5)).To(Succeed())
			Expect(ring.AddWeightedTarget("light", 0.26)).To(Succeed())
			Expect(ring.targetToPositions["heavy"]).To(HaveLen(25))
			Expect(ring.targetToPositions["light"]).To(HaveLen(3))
		})

		It("drops every position of a removed target", func() {
			Expect(ring.AddTargets([]string{"t-a", "t-b"})).To(Succeed())
			Expect(ring.RemoveTarget("t-a")).To(Succeed())
			Expect(ring.targetToPositions).NotTo(HaveKey("t-a"))
			Expect(ring.positionToTarget).To(HaveLen(len(ring.targetToPositions["t-b"])))
			for _, target := range ring.positionToTarget {
				Expect(target).To(Equal("t-b"))
			}
		})

		It("rebuilds the sorted index after a mutation", func() {
			Expect(ring.AddTargets([]string{"t-a", "t-b"})).To(Succeed())
			ring.LookupList("resource", 1)
			Expect(ring.sorted).To(BeTrue())
			Expect(ring.sortedPositions).To(HaveLen(len(ring.positionToTarget)))

			Expect(ring.AddTarget("t-c")).To(Succeed())
			Expect(ring.sorted).To(BeFalse())
			ring.LookupList("resource", 1)
			Expect(ring.sortedPositions).To(HaveLen(len(ring.positionToTarget)))
			for i := 1; i < len(ring.sortedPositions); i++ {
				Expect(ring.sortedPositions[i-1]).To(BeNumerically("<", ring.sortedPositions[i]))
			}
		})

		It("lets a later target take over a colliding position", func() {
			hasher := &mockHasher{value: 10}
			ring = newRing(&Config{Hasher: hasher, Replicas: 1})
			Expect(ring.AddTarget("t1")).To(Succeed())
			Expect(ring.AddTarget("t2")).To(Succeed())
			Expect(ring.positionToTarget).To(Equal(map[uint32]string{10: "t2"}))

			Expect(ring.RemoveTarget("t1")).To(Succeed())
			Expect(ring.positionToTarget).To(Equal(map[uint32]string{10: "t2"}))
			Expect(ring.Lookup("resource")).To(Equal("t2"))
		})
	})

	Describe("Lookup", func() {
		It("fails on an empty ring", func() {
			_, err := ring.Lookup("t1")
			Expect(err).To(Equal(ErrEmptyRing))
		})

		It("returns an empty list on an empty ring", func() {
			Expect(ring.LookupList("t1", 2)).To(BeEmpty())
		})

		It("handles a huge count", func() {
			Expect(ring.AddTargets([]string{"t-a", "t-b"})).To(Succeed())
			Expect(ring.LookupList("x", math.MaxInt)).To(ConsistOf("t-a", "t-b"))
		})

		It("returns an empty list for a non-positive count", func() {
			Expect(ring.AddTargets(numberedTargets(3))).To(Succeed())
			Expect(ring.LookupList("t1", 0)).To(BeEmpty())
		})

		It("is repeatable", func() {
			Expect(ring.AddTargets(numberedTargets(10))).To(Succeed())
			Expect(ring.Lookup("t1")).To(Equal(lookupAll(ring, 1)[0]))
			Expect(lookupAll(ring, 100)).To(Equal(lookupAll(ring, 100)))
		})

		It("returns valid targets", func() {
			targets := numberedTargets(10)
			Expect(ring.AddTargets(targets)).To(Succeed())
			for i := 1; i <= 10; i++ {
				Expect(ring.Lookup("r" + strconv.Itoa(i))).To(BeElementOf(targets))
			}
		})

		It("is consistent after adding and removing a target", func() {
			Expect(ring.AddTargets(numberedTargets(10))).To(Succeed())
			results1 := lookupAll(ring, 100)

			Expect(ring.AddTarget("new-target")).To(Succeed())
			Expect(ring.RemoveTarget("new-target")).To(Succeed())
			Expect(ring.AddTarget("new-target")).To(Succeed())
			Expect(ring.RemoveTarget("new-target")).To(Succeed())

			Expect(lookupAll(ring, 100)).To(Equal(results1))
		})

		It("is consistent across instances", func() {
			Expect(ring.AddTargets(numberedTargets(10))).To(Succeed())
			other := newRing(nil)
			Expect(other.AddTargets(numberedTargets(10))).To(Succeed())
			Expect(lookupAll(other, 100)).To(Equal(lookupAll(ring, 100)))
		})

		It("is consistent across instances with the md5 hasher", func() {
			cfg := &Config{Hasher: hashkit.HashFunc(hashkit.Md5), Replicas: 32}
			ring = newRing(cfg)
			other := newRing(cfg)
			Expect(ring.AddTargets(numberedTargets(5))).To(Succeed())
			Expect(other.AddTargets(numberedTargets(5))).To(Succeed())
			Expect(lookupAll(other, 100)).To(Equal(lookupAll(ring, 100)))
		})

		It("hashes only the tag when hash tags are enabled", func() {
			ring = newRing(&Config{HashTags: true})
			Expect(ring.AddTargets(numberedTargets(10))).To(Succeed())
			for i := 0; i < 20; i++ {
				tag := "user" + strconv.Itoa(i)
				expected := ring.LookupList(tag, 3)
				Expect(ring.LookupList("profile{"+tag+"}", 3)).To(Equal(expected))
				Expect(ring.LookupList("{"+tag+"}:cart", 3)).To(Equal(expected))
			}
		})
	})

	Describe("LookupList", func() {
		It("returns distinct targets", func() {
			Expect(ring.AddTargets(numberedTargets(10))).To(Succeed())
			targets := ring.LookupList("resource", 2)
			Expect(targets).To(HaveLen(2))
			Expect(targets[0]).NotTo(Equal(targets[1]))
		})

		It("returns the only target", func() {
			Expect(ring.AddTarget("single-target")).To(Succeed())
			for _, n := range []int{1, 2, 10} {
				Expect(ring.LookupList("resource", n)).To(Equal([]string{"single-target"}))
			}
		})

		It("returns no more targets than exist", func() {
			Expect(ring.AddTargets([]string{"target1", "target2"})).To(Succeed())
			targets := ring.LookupList("resource", 4)
			Expect(targets).To(HaveLen(2))
			Expect(targets[0]).NotTo(Equal(targets[1]))
		})

		It("returns between 1 and min(n, k) targets from the ring", func() {
			all := numberedTargets(7)
			Expect(ring.AddTargets(all)).To(Succeed())
			for n := 1; n <= 12; n++ {
				for i := 0; i < 20; i++ {
					targets := ring.LookupList("r"+strconv.Itoa(i), n)
					Expect(len(targets)).To(BeNumerically(">=", 1))
					Expect(len(targets)).To(BeNumerically("<=", min(n, len(all))))
					Expect(all).To(ContainElements(targets))
				}
			}
		})

		It("starts with the Lookup result", func() {
			Expect(ring.AddTargets(numberedTargets(10))).To(Succeed())
			for i := 0; i < 50; i++ {
				resource := "r" + strconv.Itoa(i)
				target, err := ring.Lookup(resource)
				Expect(err).NotTo(HaveOccurred())
				Expect(ring.LookupList(resource, 3)[0]).To(Equal(target))
			}
		})
	})

	Describe("precedence", func() {
		var hasher *mockHasher

		BeforeEach(func() {
			hasher = &mockHasher{}
			ring = newRing(&Config{Hasher: hasher, Replicas: 1})
			for i, target := range []string{"t1", "t2", "t3"} {
				hasher.value = uint32(10 * (i + 1))
				Expect(ring.AddTarget(target)).To(Succeed())
			}
		})

		It("loops to the start", func() {
			hasher.value = 40
			Expect(ring.AddTarget("t4")).To(Succeed())
			hasher.value = 50
			Expect(ring.AddTarget("t5")).To(Succeed())

			hasher.value = 35
			Expect(ring.LookupList("resource", 4)).To(Equal([]string{"t4", "t5", "t1", "t2"}))
		})

		It("wraps without any target before the start", func() {
			hasher.value = 100
			Expect(ring.LookupList("resource", 2)).To(Equal([]string{"t1", "t2"}))
		})

		It("does not wrap when not needed", func() {
			hasher.value = 15
			Expect(ring.LookupList("resource", 2)).To(Equal([]string{"t2", "t3"}))
		})

		It("wraps on an exact hit of the last position", func() {
			hasher.value = 30
			Expect(ring.LookupList("resource", 2)).To(Equal([]string{"t1", "t2"}))
		})

		It("falls back in order when a target is removed", func() {
			hasher.value = 15
			Expect(ring.Lookup("resource")).To(Equal("t2"))
			Expect(ring.LookupList("resource", 3)).To(Equal([]string{"t2", "t3", "t1"}))

			Expect(ring.RemoveTarget("t2")).To(Succeed())
			Expect(ring.Lookup("resource")).To(Equal("t3"))
			Expect(ring.LookupList("resource", 3)).To(Equal([]string{"t3", "t1"}))

			Expect(ring.RemoveTarget("t3")).To(Succeed())
			Expect(ring.Lookup("resource")).To(Equal("t1"))
			Expect(ring.LookupList("resource", 3)).To(Equal([]string{"t1"}))
		})
	})

	Describe("redistribution", func() {
		const lookups = 1000

		changed := func(before, after []string) int {
			n := 0
			for i := range before {
				if before[i] != after[i] {
					n++
				}
			}
			return n
		}

		It("moves few resources when a target is added", func() {
			Expect(ring.AddTargets(numberedTargets(10))).To(Succeed())
			before := lookupAll(ring, lookups)
			Expect(ring.AddTarget("target-new")).To(Succeed())
			after := lookupAll(ring, lookups)

			Expect(changed(before, after)).To(BeNumerically("<", lookups/3))
			for i := range before {
				if before[i] != after[i] {
					Expect(after[i]).To(Equal("target-new"))
				}
			}
		})

		It("moves only the removed target's resources", func() {
			Expect(ring.AddTargets(numberedTargets(10))).To(Succeed())
			before := lookupAll(ring, lookups)
			Expect(ring.RemoveTarget("target1")).To(Succeed())
			after := lookupAll(ring, lookups)

			Expect(changed(before, after)).To(BeNumerically("<", lookups/3))
			for i := range before {
				if before[i] != after[i] {
					Expect(before[i]).To(Equal("target1"))
				}
			}
		})

		It("moves most resources with modulo hashing", func() {
			before := make([]string, lookups)
			after := make([]string, lookups)
			for i := 0; i < lookups; i++ {
				h := hashkit.Crc32([]byte("t" + strconv.Itoa(i+1)))
				before[i] = strconv.Itoa(int(h % 10))
				after[i] = strconv.Itoa(int(h % 11))
			}
			Expect(changed(before, after)).To(BeNumerically(">", lookups/2))
		})
	})
})

var _ = Describe("BisectLeft", func() {
	sorted := []uint32{10, 20, 30, 40, 50}

	It("returns 0 below the first position", func() {
		Expect(BisectLeft(sorted, 0)).To(Equal(0))
		Expect(BisectLeft(sorted, 9)).To(Equal(0))
	})

	It("returns the size at or above the last position", func() {
		Expect(BisectLeft(sorted, 50)).To(Equal(5))
		Expect(BisectLeft(sorted, 1<<32-1)).To(Equal(5))
	})

	It("returns the first position not below the value", func() {
		Expect(BisectLeft(sorted, 10)).To(Equal(0))
		Expect(BisectLeft(sorted, 11)).To(Equal(1))
		Expect(BisectLeft(sorted, 20)).To(Equal(1))
		Expect(BisectLeft(sorted, 35)).To(Equal(3))
		Expect(BisectLeft(sorted, 49)).To(Equal(4))
	})

	It("handles a single position", func() {
		Expect(BisectLeft([]uint32{10}, 5)).To(Equal(0))
		Expect(BisectLeft([]uint32{10}, 10)).To(Equal(1))
	})

	It("handles an empty slice", func() {
		Expect(BisectLeft(nil, 10)).To(Equal(0))
	})
})
