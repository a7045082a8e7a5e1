package main

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/bitleak/go-flexihash"
	"github.com/bitleak/go-flexihash/hashkit"
)

type distribution struct {
	Min, Max, Median, Avg int
}

func lookupKeys(ring *flexihash.Ring, lookups int) ([]string, error) {
	results := make([]string, lookups)
	for i := range results {
		target, err := ring.Lookup("t" + strconv.Itoa(i+1))
		if err != nil {
			return nil, err
		}
		results[i] = target
	}
	return results, nil
}

func changedPercent(before, after []string) int {
	changed := 0
	for i := range before {
		if before[i] != after[i] {
			changed++
		}
	}
	return int(math.Round(float64(changed) / float64(len(before)) * 100))
}

// moduloChangedPercent is the share of keys that move when hash(key) % from
// becomes hash(key) % to.
func moduloChangedPercent(lookups, from, to int) int {
	changed := 0
	for i := 1; i <= lookups; i++ {
		h := hashkit.Crc32([]byte("t" + strconv.Itoa(i)))
		if h%uint32(from) != h%uint32(to) {
			changed++
		}
	}
	return int(math.Round(float64(changed) / float64(lookups) * 100))
}

// ringChangedPercent is the share of keys that move when mutate is applied to ring.
func ringChangedPercent(ring *flexihash.Ring, lookups int, mutate func(*flexihash.Ring) error) (int, error) {
	before, err := lookupKeys(ring, lookups)
	if err != nil {
		return 0, err
	}
	if err := mutate(ring); err != nil {
		return 0, err
	}
	after, err := lookupKeys(ring, lookups)
	if err != nil {
		return 0, err
	}
	return changedPercent(before, after), nil
}

func distributionOf(ring *flexihash.Ring, lookups int) (distribution, error) {
	results, err := lookupKeys(ring, lookups)
	if err != nil {
		return distribution{}, err
	}
	counts := make(map[string]int)
	for _, target := range results {
		counts[target]++
	}
	values := make([]int, 0, ring.Len())
	for _, target := range ring.Targets() {
		values = append(values, counts[target])
	}
	sort.Ints(values)

	d := distribution{Min: values[0], Max: values[len(values)-1]}
	if mid := len(values) / 2; len(values)%2 == 1 {
		d.Median = values[mid]
	} else {
		d.Median = (values[mid-1] + values[mid]) / 2
	}
	d.Avg = lookups / len(values)
	return d, nil
}

// newTargetName returns a target name that isn't in targets.
func newTargetName(targets []string) string {
	taken := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		taken[target] = struct{}{}
	}
	name := "target-new"
	for i := 1; ; i++ {
		if _, ok := taken[name]; !ok {
			return name
		}
		name = "target-new-" + strconv.Itoa(i)
	}
}

// report prints how keys move when the ring built by newRing changes,
// compared with modulo hashing over the same number of targets.
func report(w io.Writer, newRing func() (*flexihash.Ring, error), lookups int) error {
	if lookups < 1 {
		return fmt.Errorf("report needs at least 1 lookup, got %d", lookups)
	}
	ring, err := newRing()
	if err != nil {
		return err
	}
	targets := ring.Targets()
	if len(targets) < 2 {
		return fmt.Errorf("report needs at least 2 targets, got %d", len(targets))
	}
	n := len(targets)
	newTarget := newTargetName(targets)

	fmt.Fprintf(w, "NonConsistentHash: %d%% of lookups changed after adding a target to the existing %d\n",
		moduloChangedPercent(lookups, n, n+1), n)
	fmt.Fprintf(w, "NonConsistentHash: %d%% of lookups changed after removing 1 of %d targets\n",
		moduloChangedPercent(lookups, n, n-1), n)

	percent, err := ringChangedPercent(ring, lookups, func(r *flexihash.Ring) error {
		return r.AddTarget(newTarget)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "ConsistentHash: %d%% of lookups changed after adding a target to the existing %d\n", percent, n)

	if ring, err = newRing(); err != nil {
		return err
	}
	percent, err = ringChangedPercent(ring, lookups, func(r *flexihash.Ring) error {
		return r.RemoveTarget(targets[0])
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "ConsistentHash: %d%% of lookups changed after removing 1 of %d targets\n", percent, n)

	if ring, err = newRing(); err != nil {
		return err
	}
	d, err := distributionOf(ring, lookups)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Distribution of %d lookups per target (min/max/median/avg): %d/%d/%d/%d\n",
		lookups/n, d.Min, d.Max, d.Median, d.Avg)
	return nil
}

func hasherSpeed(w io.Writer, hashCount int) {
	for _, name := range []string{"md5", "crc32", "fnv1a64", "xxh3", "xxhash"} {
		hasher, _ := hashkit.ByName(name)
		start := time.Now()
		for i := 0; i < hashCount; i++ {
			hasher.Hash("test" + strconv.Itoa(i))
		}
		fmt.Fprintf(w, "%-8s %d hashes in %s\n", name, hashCount, time.Since(start))
	}
}
