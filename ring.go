// Package flexihash implements a consistent hashing ring with pluggable hash
// functions.
//
// Each target is hashed onto the ring at Replicas positions. A resource is
// looked up by hashing it and walking the ring clockwise from that point, so
// adding or removing a target only remaps the resources next to its
// positions.
//
// A Ring is not safe for concurrent use. Lookups rebuild the sorted position
// index after mutations, so callers sharing a Ring between goroutines must
// guard every call, lookups included, with a mutex.
package flexihash

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/bitleak/go-flexihash/hashkit"
)

// DefaultReplicas is the number of positions each target is hashed to when
// Config.Replicas is zero.
const DefaultReplicas = 64

const maxPartitions = 1 << 32

type Config struct {
	Hasher   hashkit.Hasher // defaults to hashkit.Crc32
	Replicas int            // positions per target with weight 1, defaults to DefaultReplicas
	HashTags bool           // hash only the {tag} part of a resource when present
}

func (cfg *Config) init() error {
	if cfg.Replicas < 0 {
		return ErrInvalidReplicas
	}
	if cfg.Replicas == 0 {
		cfg.Replicas = DefaultReplicas
	}
	if cfg.Hasher == nil {
		cfg.Hasher = hashkit.HashFunc(hashkit.Crc32)
	}
	return nil
}

type Ring struct {
	hasher   hashkit.Hasher
	replicas int
	hashTags bool

	targets           []string
	targetToPositions map[string][]uint32
	positionToTarget  map[uint32]string

	// sortedPositions mirrors the keys of positionToTarget while sorted is true
	sortedPositions []uint32
	sorted          bool
}

// New creates an empty ring. A nil cfg uses the defaults.
func New(cfg *Config) (*Ring, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if err := c.init(); err != nil {
		return nil, err
	}
	return &Ring{
		hasher:            c.Hasher,
		replicas:          c.Replicas,
		hashTags:          c.HashTags,
		targetToPositions: make(map[string][]uint32),
		positionToTarget:  make(map[uint32]string),
	}, nil
}

func (r *Ring) Replicas() int {
	return r.replicas
}

// Len returns the number of targets on the ring.
func (r *Ring) Len() int {
	return len(r.targets)
}

func (r *Ring) AddTarget(target string) error {
	return r.AddWeightedTarget(target, 1)
}

// AddWeightedTarget hashes target onto round(replicas*weight) positions. A
// position already owned by another target is taken over by this one.
func (r *Ring) AddWeightedTarget(target string, weight float64) error {
	if _, exists := r.targetToPositions[target]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTarget, target)
	}
	// a target can't hold more positions than the ring has points
	partitions := math.Round(float64(r.replicas) * weight)
	if math.IsNaN(weight) || weight < 0 || partitions > maxPartitions {
		return fmt.Errorf("%w: %v", ErrInvalidWeight, weight)
	}

	partitionCount := int(partitions)
	positions := make([]uint32, 0, partitionCount)
	for i := 0; i < partitionCount; i++ {
		position := r.hasher.Hash(target + strconv.Itoa(i))
		r.positionToTarget[position] = target
		positions = append(positions, position)
	}
	r.targetToPositions[target] = positions
	r.targets = append(r.targets, target)
	r.sorted = false
	return nil
}

// AddTargets adds each target in order and stops at the first failure.
// Targets added before the failure stay on the ring.
func (r *Ring) AddTargets(targets []string) error {
	return r.AddWeightedTargets(targets, 1)
}

func (r *Ring) AddWeightedTargets(targets []string, weight float64) error {
	for _, target := range targets {
		if err := r.AddWeightedTarget(target, weight); err != nil {
			return err
		}
	}
	return nil
}

func (r *Ring) RemoveTarget(target string) error {
	positions, exists := r.targetToPositions[target]
	if !exists {
		return fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	for _, position := range positions {
		// leave positions that a later target took over
		if r.positionToTarget[position] == target {
			delete(r.positionToTarget, position)
		}
	}
	delete(r.targetToPositions, target)
	for i, t := range r.targets {
		if t == target {
			r.targets = append(r.targets[:i], r.targets[i+1:]...)
			break
		}
	}
	r.sorted = false
	return nil
}

// Targets returns all targets in the order they were added.
func (r *Ring) Targets() []string {
	targets := make([]string, len(r.targets))
	copy(targets, r.targets)
	return targets
}

// Lookup returns the target with the highest precedence for resource.
func (r *Ring) Lookup(resource string) (string, error) {
	targets := r.LookupList(resource, 1)
	if len(targets) == 0 {
		return "", ErrEmptyRing
	}
	return targets[0], nil
}

// LookupList returns up to count distinct targets for resource in order of
// precedence. It reads exactly count positions clockwise from the resource's
// hash and collapses repeated targets, so the result may hold fewer than
// count targets even when more exist. An empty ring yields an empty list.
func (r *Ring) LookupList(resource string, count int) []string {
	if len(r.positionToTarget) == 0 || count < 1 {
		return []string{}
	}
	if len(r.targets) == 1 {
		return []string{r.targets[0]}
	}

	r.sortPositions()
	if r.hashTags {
		resource = extractHashTag(resource)
	}
	positionCount := len(r.sortedPositions)
	offset := BisectLeft(r.sortedPositions, r.hasher.Hash(resource))

	size := min(count, len(r.targets))
	results := make([]string, 0, size)
	seen := make(map[string]struct{}, size)
	// reads past a full turn revisit the same targets
	reads := min(count, positionCount)
	for i := 0; i < reads; i++ {
		offset %= positionCount
		target := r.positionToTarget[r.sortedPositions[offset]]
		offset++
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		results = append(results, target)
	}
	return results
}

func (r *Ring) sortPositions() {
	if r.sorted {
		return
	}
	positions := r.sortedPositions[:0]
	for position := range r.positionToTarget {
		positions = append(positions, position)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	r.sortedPositions = positions
	r.sorted = true
}

// BisectLeft returns the index of the first element in sorted that is >= value.
// Values at or above the last element return len(sorted), which callers treat
// as wrapping around to index 0.
func BisectLeft(sorted []uint32, value uint32) int {
	size := len(sorted)
	if size == 0 || value < sorted[0] {
		return 0
	}
	if value >= sorted[size-1] {
		return size
	}

	low, high := 0, size-1
	for low < high {
		middle := int(uint(low+high) >> 1)
		if sorted[middle] < value {
			low = middle + 1
		} else {
			high = middle
		}
	}
	return high
}
