package testing

import "math/rand"

// RandUserID returns a random positive user id, large enough to avoid clashes with seeded users
func RandUserID() int64 {
	return rand.Int63n(1<<40) + 1<<20
}

// RandUserPair returns two distinct random user ids
func RandUserPair() (int64, int64) {
	a := RandUserID()
	b := RandUserID()
	for b == a {
		b = RandUserID()
	}
	return a, b
}
