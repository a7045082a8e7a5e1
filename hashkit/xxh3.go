package hashkit

import "github.com/zeebo/xxh3"

// Xxh3 keeps the low 32 bits of the 64bit XXH3 sum. The low bits are well
// distributed: https://github.com/rurban/smhasher/blob/master/doc/xxh3low.txt
func Xxh3(key []byte) uint32 {
	return uint32(xxh3.Hash(key))
}
