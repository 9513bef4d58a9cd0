package bytestream

import (
	"testing"
	"time"

	"code.hybscloud.com/iox"

	"github.com/coprocbridge/mtnpi/mtmsg"
)

func TestPipeStream_WriteThenBlockingRead(t *testing.T) {
	t.Parallel()
	a, b := NewPipePair()
	defer a.Close()
	defer b.Close()

	want := []byte("ping")
	go func() {
		_, _ = a.Write(want, time.Time{})
	}()

	got := make([]byte, len(want))
	n, err := b.Read(got, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got[:n]) != string(want) {
		t.Fatalf("Read = %q, want %q", got[:n], want)
	}
}

func TestPipeStream_FullDuplex(t *testing.T) {
	t.Parallel()
	a, b := NewPipePair()
	defer a.Close()
	defer b.Close()

	go func() { _, _ = a.Write([]byte("from-a"), time.Time{}) }()
	go func() { _, _ = b.Write([]byte("from-b"), time.Time{}) }()

	bufA := make([]byte, 6)
	if _, err := b.Read(bufA, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("b.Read: %v", err)
	}
	if string(bufA) != "from-a" {
		t.Fatalf("b read = %q, want %q", bufA, "from-a")
	}

	bufB := make([]byte, 6)
	if _, err := a.Read(bufB, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("a.Read: %v", err)
	}
	if string(bufB) != "from-b" {
		t.Fatalf("a read = %q, want %q", bufB, "from-b")
	}
}

func TestPipeStream_ReadDeadlineExpires(t *testing.T) {
	t.Parallel()
	a, b := NewPipePair()
	defer a.Close()
	defer b.Close()

	start := time.Now()
	_, err := b.Read(make([]byte, 4), time.Now().Add(30*time.Millisecond))
	if err != mtmsg.ErrTimeout {
		t.Fatalf("err = %v, want mtmsg.ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("returned too early: %v", elapsed)
	}
}

func TestPipeStream_TryReadWouldBlock(t *testing.T) {
	t.Parallel()
	a, b := NewPipePair()
	defer a.Close()
	defer b.Close()

	_, err := b.TryRead(make([]byte, 4))
	if err != iox.ErrWouldBlock {
		t.Fatalf("err = %v, want iox.ErrWouldBlock", err)
	}

	go func() { _, _ = a.Write([]byte("data"), time.Time{}) }()
	time.Sleep(20 * time.Millisecond)

	buf := make([]byte, 4)
	n, err := b.TryRead(buf)
	if err != nil {
		t.Fatalf("TryRead after write: %v", err)
	}
	if string(buf[:n]) != "data" {
		t.Fatalf("TryRead = %q, want %q", buf[:n], "data")
	}
}

func TestPipeStream_ShortReadLeavesPendingBytes(t *testing.T) {
	t.Parallel()
	a, b := NewPipePair()
	defer a.Close()
	defer b.Close()

	go func() { _, _ = a.Write([]byte("abcdef"), time.Time{}) }()

	first := make([]byte, 3)
	if _, err := b.Read(first, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("first Read: %v", err)
	}
	if string(first) != "abc" {
		t.Fatalf("first Read = %q, want %q", first, "abc")
	}

	second := make([]byte, 3)
	if _, err := b.Read(second, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("second Read: %v", err)
	}
	if string(second) != "def" {
		t.Fatalf("second Read = %q, want %q", second, "def")
	}
}

func TestPipeStream_CloseUnblocksRead(t *testing.T) {
	t.Parallel()
	a, b := NewPipePair()
	defer a.Close()

	done := make(chan error, 1)
	go func() {
		_, err := b.Read(make([]byte, 4), time.Time{})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected an error from Read after Close")
		}
	case <-time.After(time.Second):
		t.Fatalf("Read did not unblock after Close")
	}
}
