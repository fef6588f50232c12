package docs

import (
	"testing"

	"github.com/harisbotic/ustore/pkg/arena"
	"github.com/harisbotic/ustore/pkg/strided"
	"github.com/harisbotic/ustore/pkg/substrate"
)

func TestGatherScalarColumns(t *testing.T) {
	d, _ := newTestDocs(t)
	writeJSON(t, d, 1, `{"i":42,"f":3.5,"b":true,"s":"7"}`)
	writeJSON(t, d, 2, `{"i":-1,"f":0.25,"b":false,"s":"oops"}`)

	a := arena.New(1 << 10)
	res, err := d.Gather(GatherRequest{
		Collection: substrate.Main,
		Count:      2,
		Keys:       strided.Of([]int64{1, 2}),
		Columns: []ColumnSpec{
			{Field: "i", Type: TypeI32},
			{Field: "f", Type: TypeF64},
			{Field: "b", Type: TypeBool},
			{Field: "s", Type: TypeI64}, // lexical parse
		},
	}, a)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	ci := res.Columns[0]
	if !ci.Validity.Get(0) || !ci.Validity.Get(1) {
		t.Fatalf("i column validity wrong")
	}
	if ci.Int64At(0) != 42 || ci.Int64At(1) != -1 {
		t.Fatalf("i column values: %d %d", ci.Int64At(0), ci.Int64At(1))
	}

	cf := res.Columns[1]
	if cf.Float64At(0) != 3.5 || cf.Float64At(1) != 0.25 {
		t.Fatalf("f column values: %v %v", cf.Float64At(0), cf.Float64At(1))
	}

	cb := res.Columns[2]
	if !cb.BoolAt(0) || cb.BoolAt(1) {
		t.Fatalf("b column values wrong")
	}

	cs := res.Columns[3]
	if !cs.Validity.Get(0) || cs.Int64At(0) != 7 {
		t.Fatalf("lexical parse of \"7\" failed")
	}
	if cs.Validity.Get(1) {
		t.Fatalf("\"oops\" coerced to integer")
	}
}

func TestGatherRangeAndExactnessChecks(t *testing.T) {
	d, _ := newTestDocs(t)
	writeJSON(t, d, 1, `{"big":300,"neg":-1,"frac":1.5,"exact":2.0}`)

	a := arena.New(1 << 10)
	res, err := d.Gather(GatherRequest{
		Collection: substrate.Main,
		Count:      1,
		Keys:       strided.Broadcast(int64(1)),
		Columns: []ColumnSpec{
			{Field: "big", Type: TypeU8},   // out of range
			{Field: "neg", Type: TypeU32},  // negative into unsigned
			{Field: "frac", Type: TypeI64}, // non-integral float
			{Field: "exact", Type: TypeI64},
			{Field: "big", Type: TypeI16},
		},
	}, a)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if res.Columns[0].Validity.Get(0) {
		t.Fatalf("300 fit into u8")
	}
	if res.Columns[1].Validity.Get(0) {
		t.Fatalf("-1 fit into u32")
	}
	if res.Columns[2].Validity.Get(0) {
		t.Fatalf("1.5 coerced to integer")
	}
	if !res.Columns[3].Validity.Get(0) || res.Columns[3].Int64At(0) != 2 {
		t.Fatalf("2.0 should coerce to integer 2")
	}
	if !res.Columns[4].Validity.Get(0) || res.Columns[4].Int64At(0) != 300 {
		t.Fatalf("300 should fit into i16")
	}
}

func TestGatherVariableWidthColumns(t *testing.T) {
	d, _ := newTestDocs(t)
	writeJSON(t, d, 1, `{"name":"alice","sub":{"x":1}}`)
	writeJSON(t, d, 2, `{"sub":[1,2]}`)

	a := arena.New(1 << 10)
	res, err := d.Gather(GatherRequest{
		Collection: substrate.Main,
		Count:      2,
		Keys:       strided.Of([]int64{1, 2}),
		Columns: []ColumnSpec{
			{Field: "name", Type: TypeStr},
			{Field: "sub", Type: TypeJSON},
			{Field: "/sub/x", Type: TypeI64},
		},
	}, a)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	if string(res.BytesAt(0, 0)) != "alice" {
		t.Fatalf("str cell = %q", res.BytesAt(0, 0))
	}
	if res.Columns[0].Validity.Get(1) {
		t.Fatalf("missing name valid")
	}
	if string(res.BytesAt(1, 0)) != `{"x":1}` {
		t.Fatalf("json cell doc1 = %q", res.BytesAt(1, 0))
	}
	if string(res.BytesAt(1, 1)) != `[1,2]` {
		t.Fatalf("json cell doc2 = %q", res.BytesAt(1, 1))
	}
	if !res.Columns[2].Validity.Get(0) || res.Columns[2].Int64At(0) != 1 {
		t.Fatalf("pointer field column wrong")
	}
	if res.Columns[2].Validity.Get(1) {
		t.Fatalf("/sub/x valid on array doc")
	}
}
