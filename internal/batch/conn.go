// Package batch implements the network-facing Batch Loop (C8): the TCP
// handshake with the coordinator, and the repeated receive-decode-run-
// pack-send cycle §4.8 describes.
//
// Grounded on original_source/client/src/lib/connection.c for the
// length-prefixed message framing and gzip compression wrapper, and on
// IntuitionAmiga-IntuitionEngine's runtime_ipc.go for this program's own
// net.Conn idiom (explicit deadlines, fmt.Errorf-wrapped I/O errors, a
// small typed request/reply shape per round trip).
package batch

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// socketBufferBytes is the 1 MiB send/receive buffer size §6 specifies;
// both sides must tolerate the kernel granting less, so SetSocketBuffers
// never treats a shortfall as fatal.
const socketBufferBytes = 1 << 20

// dialTimeout bounds a single connection attempt; DialWithRetry retries
// with this timeout until its attempt count is used up, mirroring
// connect_with_retry's "keep trying until the coordinator is up" behavior.
const dialTimeout = 5 * time.Second

// Conn wraps a TCP connection to the coordinator with the framing §4.8
// and §6 require: length-prefixed plain messages for handshake fields,
// and gzip-wrapped length-prefixed messages for batch input/output.
type Conn struct {
	nc net.Conn
}

// DialWithRetry connects to addr, retrying every retryEvery until attempts
// is exhausted, the way connect_with_retry loops on ECONNREFUSED while a
// coordinator is still starting up.
func DialWithRetry(addr string, attempts int, retryEvery time.Duration) (*Conn, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		nc, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			if err := setSocketBuffers(nc); err != nil {
				return nil, err
			}
			return &Conn{nc: nc}, nil
		}
		lastErr = err
		time.Sleep(retryEvery)
	}
	return nil, fmt.Errorf("batch: dial %s after %d attempts: %w", addr, attempts, lastErr)
}

// setSocketBuffers requests the 1 MiB each-way buffer §6 calls for. A
// kernel granting less is tolerated, not fatal, per §6's own wording.
func setSocketBuffers(nc net.Conn) error {
	type bufSetter interface {
		SetReadBuffer(bytes int) error
		SetWriteBuffer(bytes int) error
	}
	bs, ok := nc.(bufSetter)
	if !ok {
		return nil
	}
	_ = bs.SetReadBuffer(socketBufferBytes)
	_ = bs.SetWriteBuffer(socketBufferBytes)
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// SendString writes a length-prefixed (u32 length) string, uncompressed —
// used only for handshake fields, per §6.
func (c *Conn) SendString(s string) error {
	return c.SendMsg([]byte(s))
}

// SendMsg writes a length-prefixed (u32 length) byte message, uncompressed.
func (c *Conn) SendMsg(b []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := c.nc.Write(hdr[:]); err != nil {
		return fmt.Errorf("batch: write length prefix: %w", err)
	}
	if _, err := c.nc.Write(b); err != nil {
		return fmt.Errorf("batch: write message (%d bytes): %w", len(b), err)
	}
	return nil
}

// SendUint32 writes one length-prefixed u32, the wire shape handshake
// fields like num_cpus/core/vec_size use.
func (c *Conn) SendUint32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return c.SendMsg(b[:])
}

// RecvMsgN reads exactly n bytes, uncompressed, with no length prefix of
// its own — used for fixed-size handshake-reply fields (max_batch_n, seed)
// whose size is known in advance.
func (c *Conn) RecvMsgN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.nc, buf); err != nil {
		return nil, fmt.Errorf("batch: read %d bytes: %w", n, err)
	}
	return buf, nil
}

// RecvUint32 reads a fixed 4-byte little-endian unsigned integer.
func (c *Conn) RecvUint32() (uint32, error) {
	b, err := c.RecvMsgN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// RecvUint64 reads a fixed 8-byte little-endian unsigned integer.
func (c *Conn) RecvUint64() (uint64, error) {
	b, err := c.RecvMsgN(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// maxMessageBytes bounds any single length-prefixed or gzip-wrapped
// message this client will allocate for, so a corrupt or hostile peer
// cannot force an unbounded allocation — an over-sized message is a
// Transport fatal condition per §7.
const maxMessageBytes = 256 << 20

// SendCompressed gzip-compresses b and writes it framed as
// `u32 compressed_len` followed by that many bytes, the framing §6 uses
// for the client's packed-results batch.
func (c *Conn) SendCompressed(b []byte) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(b); err != nil {
		return fmt.Errorf("batch: gzip compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("batch: gzip close: %w", err)
	}
	if buf.Len() > maxMessageBytes {
		return fmt.Errorf("batch: compressed output %d bytes exceeds %d byte cap", buf.Len(), maxMessageBytes)
	}

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(buf.Len()))
	if _, err := c.nc.Write(hdr[:]); err != nil {
		return fmt.Errorf("batch: write compressed_len: %w", err)
	}
	if _, err := c.nc.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("batch: write compressed payload: %w", err)
	}
	return nil
}

// RecvCompressed reads a `u32 compressed_len`-framed gzip payload and
// returns its inflated bytes, rejecting anything beyond maxMessageBytes
// either compressed or inflated — a Transport fatal condition (oversized
// message or decompression error) per §7.
func (c *Conn) RecvCompressed() ([]byte, error) {
	compLen, err := c.RecvUint32()
	if err != nil {
		return nil, fmt.Errorf("batch: read compressed_len: %w", err)
	}
	if compLen > maxMessageBytes {
		return nil, fmt.Errorf("batch: compressed_len %d exceeds %d byte cap", compLen, maxMessageBytes)
	}
	compressed, err := c.RecvMsgN(int(compLen))
	if err != nil {
		return nil, fmt.Errorf("batch: read compressed payload: %w", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("batch: open gzip reader: %w", err)
	}
	defer gz.Close()

	out, err := io.ReadAll(io.LimitReader(gz, maxMessageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("batch: gzip inflate: %w", err)
	}
	if len(out) > maxMessageBytes {
		return nil, fmt.Errorf("batch: inflated payload exceeds %d byte cap", maxMessageBytes)
	}
	return out, nil
}
