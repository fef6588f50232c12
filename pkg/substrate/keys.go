package substrate

import "encoding/binary"

// Collection names a namespace within the store. Every database starts
// with the Main collection; the zero value is reserved for the
// collection registry.
type Collection uint32

// Main is the default collection handle.
const Main Collection = 1

// metaCol is reserved for the collection registry; user collections
// start after it so data keys and registry keys never interleave.
const metaCol Collection = 0

// Physical key layout: 4-byte big-endian collection id followed by the
// 8-byte order-preserving encoding of the signed key. Flipping the sign
// bit makes the unsigned byte order match signed integer order, so
// substrate scans walk keys in ascending numeric order.

const keyLen = 12

func encodeKey(col Collection, key int64) []byte {
	var b [keyLen]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(col))
	binary.BigEndian.PutUint64(b[4:12], uint64(key)^(1<<63))
	return b[:]
}

func decodeKey(b []byte) (Collection, int64) {
	col := Collection(binary.BigEndian.Uint32(b[0:4]))
	key := int64(binary.BigEndian.Uint64(b[4:12]) ^ (1 << 63))
	return col, key
}

// colPrefix returns the 4-byte prefix shared by every key of col.
func colPrefix(col Collection) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(col))
	return b[:]
}

// colEnd returns the exclusive upper bound of a collection's keyspace.
func colEnd(col Collection) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(col)+1)
	return b[:]
}

// EncodeKey exposes the physical encoding for debug tooling.
func EncodeKey(col Collection, key int64) []byte { return encodeKey(col, key) }

// DecodeKey exposes the physical decoding for debug tooling.
func DecodeKey(b []byte) (Collection, int64) { return decodeKey(b) }
