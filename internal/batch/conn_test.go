package batch

import (
	"encoding/binary"
	"net"
	"testing"
)

func pipeConns(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	return &Conn{nc: a}, &Conn{nc: b}
}

func TestSendRecvMsgRoundTrip(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	want := []byte("hostname-under-test")
	done := make(chan error, 1)
	go func() { done <- client.SendMsg(want) }()

	length, err := server.RecvUint32()
	if err != nil {
		t.Fatalf("RecvUint32 (length prefix): %v", err)
	}
	got, err := server.RecvMsgN(int(length))
	if err != nil {
		t.Fatalf("RecvMsgN: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSendUint32RecvUint32(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- client.SendUint32(0xcafef00d) }()

	// SendUint32 is a SendMsg of 4 bytes: a u32 length prefix, then the value.
	length, err := server.RecvUint32()
	if err != nil {
		t.Fatalf("RecvUint32 (length prefix): %v", err)
	}
	if length != 4 {
		t.Fatalf("length prefix = %d, want 4", length)
	}
	got, err := server.RecvUint32()
	if err != nil {
		t.Fatalf("RecvUint32: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendUint32: %v", err)
	}
	if got != 0xcafef00d {
		t.Fatalf("RecvUint32 = %#x, want %#x", got, 0xcafef00d)
	}
}

func TestSendRecvCompressedRoundTrip(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	want := make([]byte, 4096)
	for i := range want {
		want[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() { done <- client.SendCompressed(want) }()

	got, err := server.RecvCompressed()
	if err != nil {
		t.Fatalf("RecvCompressed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendCompressed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("RecvCompressed returned %d bytes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRecvCompressedRejectsOversizeLen(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	// A raw u32 compressed_len header, not SendUint32 (which would prefix
	// it with its own length of 4).
	go func() {
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], maxMessageBytes+1)
		_, err := client.nc.Write(hdr[:])
		done <- err
	}()

	_, err := server.RecvCompressed()
	if err == nil {
		t.Fatalf("expected an error for compressed_len exceeding the cap")
	}
	<-done
}
