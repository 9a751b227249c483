package robinhood

import "github.com/minio/highwayhash"

// scrambleSeed is the fixed highwayhash key used to scramble table keys,
// following fusion/postprocess.go's zeroSeed convention (teacher): a
// constant all-zero key, since this scramble only needs to be a second,
// independent hash family from package minimizer's farm.Hash64WithSeed, not
// a secret.
var scrambleSeed [highwayhash.Size]byte

func scrambleKey(k uint64) uint64 {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(k >> (8 * uint(i)))
	}
	return highwayhash.Sum64(buf[:], scrambleSeed[:])
}
