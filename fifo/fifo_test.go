package fifo

import "testing"

func TestBufferBasic(t *testing.T) {
	buf := New(10)

	if !buf.IsEmpty() {
		t.Error("new buffer should be empty")
	}
	if buf.Available() != 0 {
		t.Errorf("empty buffer should have 0 available, got %d", buf.Available())
	}

	data := []byte{1, 2, 3, 4, 5}
	written := buf.Write(data)
	if written != 5 {
		t.Errorf("expected to write 5 bytes, wrote %d", written)
	}
	if buf.Available() != 5 {
		t.Errorf("expected 5 bytes available, got %d", buf.Available())
	}

	readBuf := make([]byte, 3)
	read := buf.Read(readBuf)
	if read != 3 || readBuf[0] != 1 || readBuf[1] != 2 || readBuf[2] != 3 {
		t.Errorf("read mismatch: n=%d data=%v", read, readBuf)
	}
	if buf.Available() != 2 {
		t.Errorf("after reading 3, expected 2 available, got %d", buf.Available())
	}

	buf.Pop(1)
	if buf.Available() != 1 {
		t.Errorf("after popping 1, expected 1 available, got %d", buf.Available())
	}

	buf.Reset()
	big := make([]byte, 12)
	for i := range big {
		big[i] = byte(i)
	}
	written = buf.Write(big)
	if written != 9 { // one slot reserved to disambiguate full/empty
		t.Errorf("expected to write 9 bytes into a size-10 buffer, wrote %d", written)
	}
}

func TestBufferWrapAround(t *testing.T) {
	buf := New(5)

	buf.Write([]byte{1, 2, 3, 4})
	readBuf := make([]byte, 2)
	buf.Read(readBuf)

	written := buf.Write([]byte{5, 6})
	if written != 2 {
		t.Errorf("expected to write 2 bytes, wrote %d", written)
	}

	all := make([]byte, 4)
	n := buf.Read(all)
	if n != 4 {
		t.Errorf("expected to read 4 bytes, read %d", n)
	}
	want := []byte{3, 4, 5, 6}
	for i, b := range want {
		if all[i] != b {
			t.Errorf("wrap-around mismatch at %d: got %v want %v", i, all, want)
		}
	}
}

func TestBufferDataContiguousAfterWrap(t *testing.T) {
	buf := New(6)
	buf.Write([]byte{1, 2, 3, 4})
	popped := make([]byte, 3)
	buf.Read(popped)
	buf.Write([]byte{5, 6, 7})

	data := buf.Data()
	want := []byte{4, 5, 6, 7}
	if len(data) != len(want) {
		t.Fatalf("expected %d bytes, got %d (%v)", len(want), len(data), data)
	}
	for i, b := range want {
		if data[i] != b {
			t.Errorf("Data() mismatch at %d: got %v want %v", i, data, want)
		}
	}
}
