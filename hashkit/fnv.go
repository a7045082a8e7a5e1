package hashkit

import "hash/fnv"

// Fnv1a64 keeps the low 32 bits of the 64bit FNV-1a sum.
func Fnv1a64(key []byte) uint32 {
	h := fnv.New64a()
	h.Write(key)
	return uint32(h.Sum64())
}
