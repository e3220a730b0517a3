package shared

import "hash/fnv"

// StockLockKey derives the advisory lock key serialising stock mutations for
// one (part, location) pair. Every transaction-engine unit of work takes this
// lock before reading the aggregate so two writers can never both pass the
// stock precondition check.
func StockLockKey(partID, locationID int64) int64 {
	h := fnv.New64a()
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(partID >> (8 * i))
		buf[8+i] = byte(locationID >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return int64(h.Sum64())
}
