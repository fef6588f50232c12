package docs

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/harisbotic/ustore/pkg/arena"
	"github.com/harisbotic/ustore/pkg/status"
	"github.com/harisbotic/ustore/pkg/strided"
	"github.com/harisbotic/ustore/pkg/substrate"
	"github.com/harisbotic/ustore/pkg/telemetry"
)

// FieldType selects the scalar type a gather column coerces into.
type FieldType int

const (
	TypeI8 FieldType = iota
	TypeI16
	TypeI32
	TypeI64
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeF32
	TypeF64
	TypeBool
	TypeStr
	TypeBin
	TypeJSON
)

// width returns the scalar byte width, or 0 for variable-width types.
func (t FieldType) width() int {
	switch t {
	case TypeI8, TypeU8, TypeBool:
		return 1
	case TypeI16, TypeU16:
		return 2
	case TypeI32, TypeU32, TypeF32:
		return 4
	case TypeI64, TypeU64, TypeF64:
		return 8
	}
	return 0
}

// ColumnSpec names a document field and the type its cells coerce to.
type ColumnSpec struct {
	Field string
	Type  FieldType
}

// GatherRequest projects a batch of documents into typed columns.
type GatherRequest struct {
	Collection substrate.Collection
	Count      int
	Keys       strided.Col[int64]
	Columns    []ColumnSpec
	Txn        *substrate.Txn
}

// Column is one typed output column. Fixed-width cells live in Scalars
// (little-endian, width bytes per row); variable-width cells reference
// the shared joined-strings tape via Offsets/Lengths. A cleared
// validity bit means the field was absent or failed coercion.
type Column struct {
	Spec     ColumnSpec
	Validity strided.Bitmap
	Scalars  []byte
	Offsets  []uint32
	Lengths  []uint32
}

// GatherResult holds all columns; variable-width cells index the arena.
type GatherResult struct {
	Columns []Column
	ar      *arena.Arena
}

// BytesAt returns the variable-width cell (col, row), or nil when the
// cell is invalid.
func (r GatherResult) BytesAt(col, row int) []byte {
	c := r.Columns[col]
	if !c.Validity.Get(row) {
		return nil
	}
	return r.ar.Slice(c.Offsets[row], c.Lengths[row])
}

// Int64At returns the signed scalar at (col, row).
func (c Column) Int64At(row int) int64 {
	w := c.Spec.Type.width()
	b := c.Scalars[row*w : row*w+w]
	switch w {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	default:
		return int64(binary.LittleEndian.Uint64(b))
	}
}

// Uint64At returns the unsigned scalar at (col, row).
func (c Column) Uint64At(row int) uint64 {
	w := c.Spec.Type.width()
	b := c.Scalars[row*w : row*w+w]
	switch w {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

// Float64At returns the floating scalar at (col, row).
func (c Column) Float64At(row int) float64 {
	w := c.Spec.Type.width()
	b := c.Scalars[row*w : row*w+w]
	if w == 4 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// BoolAt returns the boolean cell at row.
func (c Column) BoolAt(row int) bool { return c.Scalars[row] != 0 }

// Gather loads each requested document once and projects every column
// in row-major order. Coercion failures clear the validity bit and
// never fail the batch.
func (d *Docs) Gather(req GatherRequest, a *arena.Arena) (GatherResult, error) {
	n := req.Count
	telemetry.BatchSize.WithLabelValues("docs", "gather").Observe(float64(n))
	keys := make([]int64, n)
	for i := 0; i < n; i++ {
		keys[i] = req.Keys.Get(i)
	}
	distinct := dedupeSorted(keys)
	sub, err := d.db.Read(req.Txn, req.Collection, distinct, a)
	if err != nil {
		return GatherResult{}, status.Wrap(status.SubstrateError, err, "gather read")
	}
	parsed := make([]interface{}, len(distinct))
	for i := range distinct {
		if !sub.Presences.Get(i) {
			continue
		}
		tree, err := parseAny(sub.Get(i), Canonical)
		if err != nil {
			return GatherResult{}, status.Wrap(status.ParseFailed, err, "stored document")
		}
		parsed[i] = tree
	}

	res := GatherResult{Columns: make([]Column, len(req.Columns)), ar: a}
	tokensPerCol := make([][]string, len(req.Columns))
	for j, spec := range req.Columns {
		tokens, err := fieldTokens(spec.Field)
		if err != nil {
			return GatherResult{}, err
		}
		tokensPerCol[j] = tokens
		col := Column{Spec: spec, Validity: strided.NewBitmap(n)}
		if w := spec.Type.width(); w > 0 {
			col.Scalars = make([]byte, w*n)
		} else {
			col.Offsets = make([]uint32, n)
			col.Lengths = make([]uint32, n)
		}
		res.Columns[j] = col
	}

	for i := 0; i < n; i++ {
		pos := searchSorted(distinct, keys[i])
		if !sub.Presences.Get(pos) {
			continue
		}
		doc := parsed[pos]
		for j := range req.Columns {
			cell, ok := getField(doc, tokensPerCol[j])
			if !ok {
				continue
			}
			res.Columns[j].fill(i, cell, a)
		}
	}
	return res, nil
}

// fill coerces one cell into the column, setting validity on success.
func (c *Column) fill(row int, cell interface{}, a *arena.Arena) {
	switch c.Spec.Type {
	case TypeI8, TypeI16, TypeI32, TypeI64:
		v, ok := asInt64(cell)
		if !ok || !fitsSigned(v, c.Spec.Type) {
			return
		}
		c.putBits(row, uint64(v))
	case TypeU8, TypeU16, TypeU32, TypeU64:
		v, ok := asUint64(cell)
		if !ok || !fitsUnsigned(v, c.Spec.Type) {
			return
		}
		c.putBits(row, v)
	case TypeF32:
		v, ok := asFloat64(cell)
		if !ok || math.Abs(v) > math.MaxFloat32 {
			return
		}
		c.putBits(row, uint64(math.Float32bits(float32(v))))
	case TypeF64:
		v, ok := asFloat64(cell)
		if !ok {
			return
		}
		c.putBits(row, math.Float64bits(v))
	case TypeBool:
		v, ok := cell.(bool)
		if !ok {
			return
		}
		if v {
			c.Scalars[row] = 1
		}
	case TypeStr:
		s, ok := cell.(string)
		if !ok {
			return
		}
		c.Offsets[row] = a.Append([]byte(s))
		c.Lengths[row] = uint32(len(s))
	case TypeBin:
		var b []byte
		switch t := cell.(type) {
		case []byte:
			b = t
		case string:
			b = []byte(t)
		default:
			return
		}
		c.Offsets[row] = a.Append(b)
		c.Lengths[row] = uint32(len(b))
	case TypeJSON:
		b, err := dumpAny(cell, JSON)
		if err != nil {
			return
		}
		c.Offsets[row] = a.Append(b)
		c.Lengths[row] = uint32(len(b))
	default:
		return
	}
	c.Validity.Set(row)
}

func (c *Column) putBits(row int, bits uint64) {
	w := c.Spec.Type.width()
	b := c.Scalars[row*w : row*w+w]
	switch w {
	case 1:
		b[0] = byte(bits)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(bits))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(bits))
	default:
		binary.LittleEndian.PutUint64(b, bits)
	}
}

func fitsSigned(v int64, t FieldType) bool {
	switch t {
	case TypeI8:
		return v >= math.MinInt8 && v <= math.MaxInt8
	case TypeI16:
		return v >= math.MinInt16 && v <= math.MaxInt16
	case TypeI32:
		return v >= math.MinInt32 && v <= math.MaxInt32
	}
	return true
}

func fitsUnsigned(v uint64, t FieldType) bool {
	switch t {
	case TypeU8:
		return v <= math.MaxUint8
	case TypeU16:
		return v <= math.MaxUint16
	case TypeU32:
		return v <= math.MaxUint32
	}
	return true
}

// asInt64 coerces a tree node to a signed integer. Floats must be
// exactly integral; strings must parse fully.
func asInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case uint64:
		if t > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case float64:
		if math.Trunc(t) != t || t < math.MinInt64 || t >= math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// asUint64 coerces a tree node to an unsigned integer.
func asUint64(v interface{}) (uint64, bool) {
	switch t := v.(type) {
	case int64:
		if t < 0 {
			return 0, false
		}
		return uint64(t), true
	case uint64:
		return t, true
	case float64:
		if math.Trunc(t) != t || t < 0 || t >= math.MaxUint64 {
			return 0, false
		}
		return uint64(t), true
	case string:
		u, err := strconv.ParseUint(t, 10, 64)
		return u, err == nil
	}
	return 0, false
}

// asFloat64 coerces a tree node to a float.
func asFloat64(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
