package docs

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/harisbotic/ustore/pkg/arena"
	"github.com/harisbotic/ustore/pkg/strided"
	"github.com/harisbotic/ustore/pkg/substrate"
	"github.com/harisbotic/ustore/pkg/telemetry"
)

func newTestDocs(t *testing.T) (*Docs, *substrate.DB) {
	t.Helper()
	db, err := substrate.Open(filepath.Join(t.TempDir(), "db"), substrate.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), db
}

// bytesCol packs per-task byte strings into one variable-width column.
func bytesCol(vals ...[]byte) strided.Bytes {
	var blob []byte
	offs := make([]uint32, len(vals))
	lens := make([]uint32, len(vals))
	for i, v := range vals {
		offs[i] = uint32(len(blob))
		lens[i] = uint32(len(v))
		blob = append(blob, v...)
	}
	return strided.Bytes{
		Blob:    blob,
		Offsets: strided.Of(offs),
		Lengths: strided.Of(lens),
		Count:   len(vals),
	}
}

func writeJSON(t *testing.T, d *Docs, key int64, doc string) {
	t.Helper()
	a := arena.New(1 << 10)
	res, err := d.Write(WriteRequest{
		Collection: substrate.Main,
		Count:      1,
		Keys:       strided.Broadcast(key),
		Values:     bytesCol([]byte(doc)),
		Format:     JSON,
	}, a)
	if err != nil {
		t.Fatalf("Write(%d): %v", key, err)
	}
	if !res.Presences.Get(0) {
		t.Fatalf("Write(%d): row rejected", key)
	}
}

func readJSON(t *testing.T, d *Docs, key int64, field string) (string, bool) {
	t.Helper()
	a := arena.New(1 << 10)
	req := ReadRequest{
		Collection: substrate.Main,
		Count:      1,
		Keys:       strided.Broadcast(key),
		Format:     JSON,
	}
	if field != "" {
		req.Fields = bytesCol([]byte(field))
	}
	res, err := d.Read(req, a)
	if err != nil {
		t.Fatalf("Read(%d): %v", key, err)
	}
	if !res.Presences.Get(0) {
		return "", false
	}
	return string(res.Get(0)), true
}

func sameJSON(t *testing.T, got, want string) {
	t.Helper()
	var g, w interface{}
	if err := json.Unmarshal([]byte(got), &g); err != nil {
		t.Fatalf("bad output JSON %q: %v", got, err)
	}
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("bad expected JSON %q: %v", want, err)
	}
	if !reflect.DeepEqual(g, w) {
		t.Fatalf("JSON mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestSingleDocRoundTrip(t *testing.T) {
	d, _ := newTestDocs(t)
	writeJSON(t, d, 7, `{"_id":7,"doc":"abcdefghijklmnop"}`)
	got, ok := readJSON(t, d, 7, "")
	if !ok {
		t.Fatalf("key 7 absent after write")
	}
	sameJSON(t, got, `{"_id":7,"doc":"abcdefghijklmnop"}`)
}

func TestReadMissingKey(t *testing.T) {
	d, _ := newTestDocs(t)
	if _, ok := readJSON(t, d, 404, ""); ok {
		t.Fatalf("missing key reported present")
	}
}

func TestFieldProjection(t *testing.T) {
	d, _ := newTestDocs(t)
	writeJSON(t, d, 1, `{"a":{"b":42},"c":[10,20]}`)

	got, _ := readJSON(t, d, 1, "/a/b")
	sameJSON(t, got, `42`)

	// simple top-level key form
	got, _ = readJSON(t, d, 1, "a")
	sameJSON(t, got, `{"b":42}`)

	// array index
	got, _ = readJSON(t, d, 1, "/c/1")
	sameJSON(t, got, `20`)

	// missing field projects to null
	got, _ = readJSON(t, d, 1, "/nope")
	sameJSON(t, got, `null`)
}

func TestJSONOutputIsNulTerminated(t *testing.T) {
	d, _ := newTestDocs(t)
	writeJSON(t, d, 1, `{"a":1}`)
	a := arena.New(1 << 10)
	res, err := d.Read(ReadRequest{
		Collection: substrate.Main,
		Count:      1,
		Keys:       strided.Broadcast(int64(1)),
		Format:     JSON,
	}, a)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	end := res.Offsets[0] + res.Lengths[0]
	if a.Tape()[end] != 0 {
		t.Fatalf("JSON output not NUL-terminated")
	}
}

func TestDedupedBatchRead(t *testing.T) {
	d, _ := newTestDocs(t)
	writeJSON(t, d, 1, `{"a":1,"b":2,"c":3}`)

	before := testutil.ToFloat64(telemetry.DocsCoalesced.WithLabelValues("distinct"))
	a := arena.New(1 << 10)
	res, err := d.Read(ReadRequest{
		Collection: substrate.Main,
		Count:      3,
		Keys:       strided.Broadcast(int64(1)),
		Fields:     bytesCol([]byte("a"), []byte("b"), []byte("c")),
		Format:     JSON,
	}, a)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, want := range []string{"1", "2", "3"} {
		if string(res.Get(i)) != want {
			t.Fatalf("task %d = %q, want %q", i, res.Get(i), want)
		}
	}
	after := testutil.ToFloat64(telemetry.DocsCoalesced.WithLabelValues("distinct"))
	if after-before != 1 {
		t.Fatalf("expected one distinct substrate read, counter moved by %v", after-before)
	}
}

func TestCanonicalPassThrough(t *testing.T) {
	d, _ := newTestDocs(t)
	canonical, err := dumpAny(map[string]interface{}{"k": int64(1)}, Canonical)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	a := arena.New(1 << 10)
	if _, err := d.Write(WriteRequest{
		Collection: substrate.Main,
		Count:      1,
		Keys:       strided.Broadcast(int64(9)),
		Values:     bytesCol(canonical),
		Format:     MsgPack,
	}, a); err != nil {
		t.Fatalf("Write: %v", err)
	}
	res, err := d.Read(ReadRequest{
		Collection: substrate.Main,
		Count:      1,
		Keys:       strided.Broadcast(int64(9)),
		Format:     MsgPack,
	}, a)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !reflect.DeepEqual(res.Get(0), canonical) {
		t.Fatalf("pass-through bytes differ")
	}
}

func TestInsertAndUpdateModes(t *testing.T) {
	d, _ := newTestDocs(t)
	writeJSON(t, d, 1, `{"v":1}`)

	a := arena.New(1 << 10)
	// insert on present and missing keys in one batch
	res, err := d.Write(WriteRequest{
		Collection: substrate.Main,
		Count:      2,
		Keys:       strided.Of([]int64{1, 2}),
		Values:     bytesCol([]byte(`{"v":10}`), []byte(`{"v":20}`)),
		Format:     JSON,
		Modify:     Insert,
	}, a)
	if err != nil {
		t.Fatalf("insert batch: %v", err)
	}
	if res.Presences.Get(0) {
		t.Fatalf("insert over present key applied")
	}
	if !res.Presences.Get(1) {
		t.Fatalf("insert of new key rejected")
	}
	got, _ := readJSON(t, d, 1, "/v")
	sameJSON(t, got, `1`)
	got, _ = readJSON(t, d, 2, "/v")
	sameJSON(t, got, `20`)

	// update on missing key fails per-row, batch succeeds
	res, err = d.Write(WriteRequest{
		Collection: substrate.Main,
		Count:      2,
		Keys:       strided.Of([]int64{1, 404}),
		Values:     bytesCol([]byte(`{"v":11}`), []byte(`{"v":0}`)),
		Format:     JSON,
		Modify:     Update,
	}, a)
	if err != nil {
		t.Fatalf("update batch: %v", err)
	}
	if !res.Presences.Get(0) || res.Presences.Get(1) {
		t.Fatalf("update presences wrong")
	}
	if _, ok := readJSON(t, d, 404, ""); ok {
		t.Fatalf("update created a missing key")
	}
}

func TestFieldAddressedWrite(t *testing.T) {
	d, _ := newTestDocs(t)
	writeJSON(t, d, 1, `{"a":{"b":1},"keep":true}`)

	a := arena.New(1 << 10)
	if _, err := d.Write(WriteRequest{
		Collection: substrate.Main,
		Count:      1,
		Keys:       strided.Broadcast(int64(1)),
		Values:     bytesCol([]byte(`42`)),
		Fields:     bytesCol([]byte("/a/b")),
		Format:     JSON,
	}, a); err != nil {
		t.Fatalf("field write: %v", err)
	}
	got, _ := readJSON(t, d, 1, "")
	sameJSON(t, got, `{"a":{"b":42},"keep":true}`)

	// upsert through a field on a missing document creates the spine
	if _, err := d.Write(WriteRequest{
		Collection: substrate.Main,
		Count:      1,
		Keys:       strided.Broadcast(int64(2)),
		Values:     bytesCol([]byte(`"deep"`)),
		Fields:     bytesCol([]byte("/x/y")),
		Format:     JSON,
	}, a); err != nil {
		t.Fatalf("field write on missing doc: %v", err)
	}
	got, _ = readJSON(t, d, 2, "")
	sameJSON(t, got, `{"x":{"y":"deep"}}`)
}

func TestPatchMode(t *testing.T) {
	d, _ := newTestDocs(t)
	writeJSON(t, d, 1, `{"a":1,"b":[1,2]}`)

	a := arena.New(1 << 10)
	patch := `[{"op":"replace","path":"/a","value":2},{"op":"add","path":"/b/-","value":3}]`
	if _, err := d.Write(WriteRequest{
		Collection: substrate.Main,
		Count:      1,
		Keys:       strided.Broadcast(int64(1)),
		Values:     bytesCol([]byte(patch)),
		Format:     JSONPatch,
	}, a); err != nil {
		t.Fatalf("patch: %v", err)
	}
	got, _ := readJSON(t, d, 1, "")
	sameJSON(t, got, `{"a":2,"b":[1,2,3]}`)
}

func TestMergeMode(t *testing.T) {
	d, _ := newTestDocs(t)
	writeJSON(t, d, 1, `{"a":{"x":1,"y":2},"b":1}`)

	a := arena.New(1 << 10)
	if _, err := d.Write(WriteRequest{
		Collection: substrate.Main,
		Count:      1,
		Keys:       strided.Broadcast(int64(1)),
		Values:     bytesCol([]byte(`{"a":{"y":20,"z":30},"c":3}`)),
		Format:     JSON,
		Modify:     Merge,
	}, a); err != nil {
		t.Fatalf("merge: %v", err)
	}
	got, _ := readJSON(t, d, 1, "")
	sameJSON(t, got, `{"a":{"x":1,"y":20,"z":30},"b":1,"c":3}`)
}

func TestIDFieldDerivesKeys(t *testing.T) {
	d, _ := newTestDocs(t)
	a := arena.New(1 << 10)
	if _, err := d.Write(WriteRequest{
		Collection: substrate.Main,
		Count:      2,
		Values:     bytesCol([]byte(`{"id":100,"v":"x"}`), []byte(`{"id":200,"v":"y"}`)),
		Format:     JSON,
		IDField:    "id",
	}, a); err != nil {
		t.Fatalf("id-field write: %v", err)
	}
	got, _ := readJSON(t, d, 100, "/v")
	sameJSON(t, got, `"x"`)
	got, _ = readJSON(t, d, 200, "/v")
	sameJSON(t, got, `"y"`)
}

func TestDeleteThroughWrite(t *testing.T) {
	d, _ := newTestDocs(t)
	writeJSON(t, d, 1, `{"v":1}`)
	a := arena.New(1 << 10)
	if _, err := d.Write(WriteRequest{
		Collection: substrate.Main,
		Count:      1,
		Keys:       strided.Broadcast(int64(1)),
		Values:     bytesCol(nil),
		Format:     JSON,
	}, a); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := readJSON(t, d, 1, ""); ok {
		t.Fatalf("document survived delete")
	}
}

func TestLaterWinsWithinBatch(t *testing.T) {
	d, _ := newTestDocs(t)
	a := arena.New(1 << 10)
	if _, err := d.Write(WriteRequest{
		Collection: substrate.Main,
		Count:      2,
		Keys:       strided.Of([]int64{1, 1}),
		Values:     bytesCol([]byte(`{"v":"first"}`), []byte(`{"v":"second"}`)),
		Fields:     bytesCol([]byte("/v"), []byte("/v")),
		Format:     JSON,
	}, a); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, _ := readJSON(t, d, 1, "/v")
	sameJSON(t, got, `"second"`)
}

func TestMalformedInputAbortsBeforeWrites(t *testing.T) {
	d, _ := newTestDocs(t)
	a := arena.New(1 << 10)
	_, err := d.Write(WriteRequest{
		Collection: substrate.Main,
		Count:      2,
		Keys:       strided.Of([]int64{1, 2}),
		Values:     bytesCol([]byte(`{"ok":true}`), []byte(`{broken`)),
		Format:     JSON,
		Modify:     Merge,
	}, a)
	if err == nil {
		t.Fatalf("malformed batch succeeded")
	}
	if _, ok := readJSON(t, d, 1, ""); ok {
		t.Fatalf("partial batch landed before parse failure")
	}
}
