package arena

import "testing"

func TestAppendAndSlice(t *testing.T) {
	a := New(16)
	off1 := a.Append([]byte("hello"))
	a.AppendByte(0)
	off2 := a.Append([]byte("world"))
	if string(a.Slice(off1, 5)) != "hello" {
		t.Fatalf("first slice wrong")
	}
	if string(a.Slice(off2, 5)) != "world" {
		t.Fatalf("second slice wrong")
	}
	if a.Tape()[5] != 0 {
		t.Fatalf("terminator missing")
	}
	if a.Len() != 11 {
		t.Fatalf("len = %d", a.Len())
	}
}

func TestResetKeepsCapacity(t *testing.T) {
	a := New(4)
	a.Append([]byte("0123456789"))
	a.Reset()
	if a.Len() != 0 {
		t.Fatalf("len after reset = %d", a.Len())
	}
	if cap(a.Tape()) < 10 {
		t.Fatalf("cap after reset = %d", cap(a.Tape()))
	}
	off := a.Append([]byte("x"))
	if off != 0 {
		t.Fatalf("offset after reset = %d", off)
	}
}
