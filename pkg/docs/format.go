package docs

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/jmank88/ubjson"
	"github.com/vmihailenco/msgpack/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/harisbotic/ustore/pkg/status"
)

// Format selects the wire encoding of document values crossing the API
// boundary. On disk every document is stored in exactly one canonical
// binary form regardless of the format it arrived in.
type Format int

const (
	JSON Format = iota
	// JSONPatch is input-only; a value in this format is a mutation,
	// not a document.
	JSONPatch
	MsgPack
	BSON
	CBOR
	UBJSON
)

// Canonical is the internal storage format.
const Canonical = MsgPack

func (f Format) String() string {
	switch f {
	case JSON:
		return "json"
	case JSONPatch:
		return "json-patch"
	case MsgPack:
		return "msgpack"
	case BSON:
		return "bson"
	case CBOR:
		return "cbor"
	case UBJSON:
		return "ubjson"
	}
	return "unknown"
}

// ParseFormat maps a wire-format name to its selector.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json", "":
		return JSON, nil
	case "json-patch", "jsonpatch":
		return JSONPatch, nil
	case "msgpack":
		return MsgPack, nil
	case "bson":
		return BSON, nil
	case "cbor":
		return CBOR, nil
	case "ubjson":
		return UBJSON, nil
	}
	return 0, status.Newf(status.InvalidArgument, "unknown format %q", s)
}

var cborDec cbor.DecMode
var cborEnc cbor.EncMode

func init() {
	var err error
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	cborEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// parseAny decodes bytes in the given wire format into the normalized
// in-memory tree: nil, bool, int64, uint64, float64, string, []byte,
// []interface{} and map[string]interface{}.
func parseAny(b []byte, f Format) (interface{}, error) {
	switch f {
	case JSON, JSONPatch:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return nil, status.Wrap(status.ParseFailed, err, "json")
		}
		return normalize(v), nil
	case MsgPack:
		dec := msgpack.NewDecoder(bytes.NewReader(b))
		v, err := dec.DecodeInterfaceLoose()
		if err != nil {
			return nil, status.Wrap(status.ParseFailed, err, "msgpack")
		}
		return normalize(v), nil
	case BSON:
		var m bson.M
		if err := bson.Unmarshal(b, &m); err != nil {
			return nil, status.Wrap(status.ParseFailed, err, "bson")
		}
		return normalize(m), nil
	case CBOR:
		var v interface{}
		if err := cborDec.Unmarshal(b, &v); err != nil {
			return nil, status.Wrap(status.ParseFailed, err, "cbor")
		}
		return normalize(v), nil
	case UBJSON:
		var v interface{}
		if err := ubjson.Unmarshal(b, &v); err != nil {
			return nil, status.Wrap(status.ParseFailed, err, "ubjson")
		}
		return normalize(v), nil
	}
	return nil, status.Newf(status.InvalidArgument, "unsupported input format %d", f)
}

// dumpAny encodes a normalized tree into the given wire format.
// Map keys are emitted sorted in every format so batch outputs are
// byte-identical across runs.
func dumpAny(v interface{}, f Format) ([]byte, error) {
	switch f {
	case JSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, status.Wrap(status.ParseFailed, err, "json dump")
		}
		return b, nil
	case MsgPack:
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetSortMapKeys(true)
		if err := enc.Encode(v); err != nil {
			return nil, status.Wrap(status.ParseFailed, err, "msgpack dump")
		}
		return buf.Bytes(), nil
	case BSON:
		doc, ok := toBSON(v).(bson.D)
		if !ok {
			return nil, status.New(status.Unsupported, "bson requires a document at the top level")
		}
		b, err := bson.Marshal(doc)
		if err != nil {
			return nil, status.Wrap(status.ParseFailed, err, "bson dump")
		}
		return b, nil
	case CBOR:
		b, err := cborEnc.Marshal(v)
		if err != nil {
			return nil, status.Wrap(status.ParseFailed, err, "cbor dump")
		}
		return b, nil
	case UBJSON:
		b, err := ubjson.Marshal(v)
		if err != nil {
			return nil, status.Wrap(status.ParseFailed, err, "ubjson dump")
		}
		return b, nil
	case JSONPatch:
		return nil, status.New(status.Unsupported, "json-patch is an input-only format")
	}
	return nil, status.Newf(status.InvalidArgument, "unsupported output format %d", f)
}

// normalize rewrites decoder-specific types into the shared tree shape.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return normalize(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		if t <= math.MaxInt64 {
			return int64(t)
		}
		return t
	case float32:
		return float64(t)
	case primitive.DateTime:
		return int64(t)
	case primitive.A:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case bson.M:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			if ks, ok := k.(string); ok {
				out[ks] = normalize(e)
			}
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

// toBSON rewrites a normalized tree into ordered bson documents so the
// output bytes do not depend on Go map iteration order.
func toBSON(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		doc := make(bson.D, 0, len(keys))
		for _, k := range keys {
			doc = append(doc, bson.E{Key: k, Value: toBSON(t[k])})
		}
		return doc
	case []interface{}:
		arr := make(bson.A, len(t))
		for i, e := range t {
			arr[i] = toBSON(e)
		}
		return arr
	default:
		return v
	}
}
