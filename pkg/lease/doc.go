// Package lease provides a Redis-backed lease lock taken around each billing
// iteration so that concurrently deployed instances never drive the loop at
// the same time. Unlike a rate limiter this fails closed: if the lease cannot
// be acquired, the iteration is skipped.
package lease
