package sender

import (
	"bytes"
	"testing"
)

func TestDropOldestQueue(t *testing.T) {
	t.Parallel()
	q := newDropOldestQueue(4)
	for i := byte(1); i <= 6; i++ {
		q.push([]byte{i})
	}

	if got := q.dropped.Load(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}

	var survivors []byte
	for i := 0; i < 4; i++ {
		pkt := <-q.ch
		survivors = append(survivors, pkt[0])
	}
	if !bytes.Equal(survivors, []byte{3, 4, 5, 6}) {
		t.Errorf("queue kept %v, want the freshest packets [3 4 5 6]", survivors)
	}

	select {
	case pkt := <-q.ch:
		t.Errorf("unexpected extra packet %v", pkt)
	default:
	}
}

func TestLockedWriterPassthrough(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewLockedWriter(&buf)

	n, err := w.Write([]byte("abc"))
	if err != nil || n != 3 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if buf.String() != "abc" {
		t.Errorf("buffer = %q", buf.String())
	}
}
