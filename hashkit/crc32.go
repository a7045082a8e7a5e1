package hashkit

import "hash/crc32"

// Crc32 is the default ring hasher.
func Crc32(key []byte) uint32 {
	return crc32.ChecksumIEEE(key)
}
