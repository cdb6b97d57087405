package transport

import (
	"context"
	"testing"
)

func TestFakeReadSplitsChunksAcrossReadSize(t *testing.T) {
	f := NewFake(ConnectionHeader{Type: ConnTypeWriter}, []byte("hello world"))
	ctx := context.Background()

	first, err := f.Read(ctx, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(first) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", first)
	}

	second, err := f.Read(ctx, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(second) != " world" {
		t.Fatalf("expected %q, got %q", " world", second)
	}

	third, err := f.Read(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third != nil {
		t.Fatalf("expected EOF (nil, nil), got %q", third)
	}
}

func TestFakeWriteRecordsChunksAndClose(t *testing.T) {
	f := NewFake(ConnectionHeader{Type: ConnTypeReader})
	ctx := context.Background()

	if err := f.Write(ctx, []byte("abc")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.Write(ctx, []byte("def")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writes := f.Writes()
	if len(writes) != 2 || string(writes[0]) != "abc" || string(writes[1]) != "def" {
		t.Fatalf("unexpected writes recorded: %v", writes)
	}

	if f.Closed() {
		t.Fatal("expected not closed before Close()")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Closed() {
		t.Fatal("expected closed after Close()")
	}
}

func TestConnTypeString(t *testing.T) {
	cases := map[ConnType]string{
		ConnTypeWriter:  "writer",
		ConnTypeReader:  "reader",
		ConnTypeUnknown: "unknown",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("ConnType(%d).String() = %q, want %q", typ, got, want)
		}
	}
}
