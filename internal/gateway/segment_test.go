package gateway

import (
	"bytes"
	"testing"
)

func TestMaxChunkSizeRespectsFrameBudget(t *testing.T) {
	got := MaxChunkSize(64)
	want := 64 - frameOverhead
	if got != want {
		t.Fatalf("MaxChunkSize(64) = %d, want %d", got, want)
	}
}

func TestFragmentSingleChunkNoMoreBit(t *testing.T) {
	cleartext := []byte("hello")
	frags := fragment(cleartext, 64)
	if len(frags) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(frags))
	}
	if frags[0][0]&fragmentMoreBit != 0 {
		t.Fatalf("a lone fragment must not set the more-bit")
	}
	if !bytes.Equal(frags[0][1:], cleartext) {
		t.Fatalf("fragment payload mismatch")
	}
}

func TestFragmentMultiChunkSequencing(t *testing.T) {
	cleartext := bytes.Repeat([]byte{0x01}, 150)
	frags := fragment(cleartext, 58)
	if len(frags) != 3 {
		t.Fatalf("expected 3 fragments for 150 bytes at maxPayload=58, got %d", len(frags))
	}
	for i, f := range frags {
		wantSeq := byte(i)
		if f[0]&0x7F != wantSeq {
			t.Fatalf("fragment %d: seq = %d, want %d", i, f[0]&0x7F, wantSeq)
		}
		wantMore := i != len(frags)-1
		gotMore := f[0]&fragmentMoreBit != 0
		if gotMore != wantMore {
			t.Fatalf("fragment %d: more-bit = %v, want %v", i, gotMore, wantMore)
		}
	}
}

func TestReassemblerSingleFragment(t *testing.T) {
	var r reassembler
	complete, ok, err := r.accept([]byte{0x00, 'h', 'i'})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !ok {
		t.Fatalf("expected completion on a lone seq==0, more-bit-clear fragment")
	}
	if string(complete) != "hi" {
		t.Fatalf("complete = %q, want %q", complete, "hi")
	}
}

func TestReassemblerMultiFragment(t *testing.T) {
	cleartext := bytes.Repeat([]byte{0x02}, 150)
	frags := fragment(cleartext, 58)

	var r reassembler
	var got []byte
	for i, f := range frags {
		complete, ok, err := r.accept(f)
		if err != nil {
			t.Fatalf("fragment %d: accept: %v", i, err)
		}
		if i == len(frags)-1 {
			if !ok {
				t.Fatalf("expected completion on the final fragment")
			}
			got = complete
		} else if ok {
			t.Fatalf("fragment %d: unexpected early completion", i)
		}
	}
	if !bytes.Equal(got, cleartext) {
		t.Fatalf("reassembled datagram mismatch")
	}
}

func TestReassemblerOutOfOrderSequenceRejected(t *testing.T) {
	var r reassembler
	if _, _, err := r.accept([]byte{0x80, 'a'}); err != nil { // seq 0, more-bit set
		t.Fatalf("accept seq0: %v", err)
	}
	if _, _, err := r.accept([]byte{0x02, 'c'}); err == nil { // skips seq 1
		t.Fatalf("expected error for an out-of-order fragment sequence")
	}
}

func TestReassemblerSeqZeroPreemptsIncompleteReassembly(t *testing.T) {
	var r reassembler
	if _, ok, err := r.accept([]byte{0x80, 'a'}); err != nil || ok {
		t.Fatalf("accept first seq0/more: ok=%v err=%v", ok, err)
	}
	complete, ok, err := r.accept([]byte{0x00, 'z'})
	if err != nil {
		t.Fatalf("accept preempting seq0: %v", err)
	}
	if !ok || string(complete) != "z" {
		t.Fatalf("expected the preempting fragment to complete with %q, got ok=%v complete=%q", "z", ok, complete)
	}
}

func TestReassemblerEmptyPayloadRejected(t *testing.T) {
	var r reassembler
	if _, _, err := r.accept(nil); err == nil {
		t.Fatalf("expected error for an empty fragment payload")
	}
}
