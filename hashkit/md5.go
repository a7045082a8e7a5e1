package hashkit

import (
	"crypto/md5"
	"encoding/binary"
)

// Md5 takes the first 32 bits of the MD5 digest, which is the same value as
// parsing the first 8 hex digits of the hex digest.
func Md5(key []byte) uint32 {
	digest := md5Digest(key)
	return binary.BigEndian.Uint32(digest[:4])
}

func md5Digest(in []byte) []byte {
	h := md5.New()
	h.Write(in)
	return h.Sum(nil)
}
