package hashkit

import (
	"fmt"
	"strings"
)

// Hasher maps a key onto the 32bit ring address space. Implementations must
// be deterministic, and the results are ordered by plain uint32 comparison.
type Hasher interface {
	Hash(key string) uint32
}

// HashFunc adapts a plain hash function to the Hasher interface.
type HashFunc func(key []byte) uint32

func (fn HashFunc) Hash(key string) uint32 {
	return fn([]byte(key))
}

var hashers = map[string]HashFunc{
	"crc32":   Crc32,
	"md5":     Md5,
	"fnv1a64": Fnv1a64,
	"xxh3":    Xxh3,
	"xxhash":  XXHash,
}

// ByName returns the hasher registered under name, e.g. "crc32" or "md5".
func ByName(name string) (Hasher, error) {
	fn, ok := hashers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown hasher %q", name)
	}
	return fn, nil
}
