package hashkit

import "github.com/cespare/xxhash/v2"

func XXHash(key []byte) uint32 {
	return uint32(xxhash.Sum64(key))
}
