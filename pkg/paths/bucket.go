package paths

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// A bucket is the substrate value at a hashed key: concatenated
// (path_len: u32, payload_len: u32, path, payload) records for every
// path whose hash collided there. Buckets are tiny; reads scan
// linearly, writes rewrite the whole value.

type record struct {
	path    []byte
	payload []byte
}

func encodeBucket(recs []record) []byte {
	size := 0
	for _, r := range recs {
		size += 8 + len(r.path) + len(r.payload)
	}
	out := make([]byte, 0, size)
	var hdr [8]byte
	for _, r := range recs {
		binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(r.path)))
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(r.payload)))
		out = append(out, hdr[:]...)
		out = append(out, r.path...)
		out = append(out, r.payload...)
	}
	return out
}

func decodeBucket(b []byte) ([]record, error) {
	var recs []record
	for len(b) > 0 {
		if len(b) < 8 {
			return nil, errors.New("truncated bucket header")
		}
		pathLen := binary.LittleEndian.Uint32(b[0:4])
		payloadLen := binary.LittleEndian.Uint32(b[4:8])
		b = b[8:]
		if uint32(len(b)) < pathLen+payloadLen {
			return nil, errors.New("truncated bucket record")
		}
		recs = append(recs, record{
			path:    b[:pathLen],
			payload: b[pathLen : pathLen+payloadLen],
		})
		b = b[pathLen+payloadLen:]
	}
	return recs, nil
}

// findRecord returns the index of the record for path, or -1.
func findRecord(recs []record, path []byte) int {
	for i, r := range recs {
		if bytes.Equal(r.path, path) {
			return i
		}
	}
	return -1
}

// upsertRecord replaces the matching record or appends a new one. A
// nil payload removes the record, compacting the bucket.
func upsertRecord(recs []record, path, payload []byte) []record {
	i := findRecord(recs, path)
	if payload == nil {
		if i < 0 {
			return recs
		}
		return append(recs[:i], recs[i+1:]...)
	}
	if i < 0 {
		return append(recs, record{path: path, payload: payload})
	}
	recs[i].payload = payload
	return recs
}
