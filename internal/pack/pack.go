// Package pack implements the Record Packer (C7): serializing one run's
// result, or an ordered run_full_seq of results, into the compact
// little-endian wire format §4.7 defines.
//
// Grounded directly on spec.md §4.7 for the frame/tag/count shape, and on
// original_source/client/src/diffuzz-client.c's pack_inner_result for the
// field order within one inner result and the getabiindex convention this
// package's arch files (pack_arm64.go, pack_riscv64.go) follow: every
// register class is assigned a disjoint slice of the abi_index space, so
// one flat {u8 abi_index, N bytes value} list can encode GP, flag, scalar
// FP, and vector diffs without a separate class tag per entry.
package pack

import (
	"encoding/binary"
	"fmt"

	"github.com/intuitionamiga/riscover-client/internal/engine"
	"github.com/intuitionamiga/riscover-client/internal/regs"
)

const (
	tagSingle uint8 = 0
	tagMulti  uint8 = 1
)

// Options controls which optional sections an inner result carries,
// mirroring the feature flags negotiated at handshake (§6).
type Options struct {
	Meta     bool // include the performance-counter sample
	RISCV64  bool // this client is RISC-V64: meta's instret field is RISC-V-only
	CheckMem bool // include memory-diff ranges
}

// Result packs one run's outcome as a SINGLE-tagged record.
func Result(before *regs.Snapshot, r *engine.Result, opt Options) ([]byte, error) {
	payload, err := innerResult(before, r, opt)
	if err != nil {
		return nil, err
	}
	return frame(tagSingle, payload)
}

// Sequence packs run_full_seq's ordered results as a MULTI-tagged record.
func Sequence(before *regs.Snapshot, rs []*engine.Result, opt Options) ([]byte, error) {
	if len(rs) > 255 {
		return nil, fmt.Errorf("pack: %d results exceeds the u8 count field", len(rs))
	}
	payload := []byte{uint8(len(rs))}
	for _, r := range rs {
		inner, err := innerResult(before, r, opt)
		if err != nil {
			return nil, err
		}
		payload = append(payload, inner...)
	}
	return frame(tagMulti, payload)
}

// frame prepends the u16 body_size (tag + payload, excluding itself) and
// the tag byte, asserting the §4.7 size bound.
func frame(tag uint8, payload []byte) ([]byte, error) {
	bodySize := 1 + len(payload)
	if bodySize > 65535 {
		return nil, fmt.Errorf("pack: body_size %d exceeds u16 (§4.7)", bodySize)
	}
	out := make([]byte, 0, 2+bodySize)
	out = binary.LittleEndian.AppendUint16(out, uint16(bodySize))
	out = append(out, tag)
	out = append(out, payload...)
	return out, nil
}

// innerResult packs one Result per §4.7's inner-result layout. The
// register-diff list itself is architecture-specific (see regDiffs in
// pack_arm64.go / pack_riscv64.go).
func innerResult(before *regs.Snapshot, r *engine.Result, opt Options) ([]byte, error) {
	out := []byte{uint8(r.Signum)}

	if opt.Meta {
		out = binary.LittleEndian.AppendUint16(out, saturateU16(r.Meta.Cycle))
		if opt.RISCV64 {
			out = binary.LittleEndian.AppendUint16(out, saturateU16(r.Meta.Instret))
		}
	}

	diffs := regDiffs(before, r.RegsAfter)
	if len(diffs) > 255 {
		return nil, fmt.Errorf("pack: %d register diffs exceeds the u8 count field", len(diffs))
	}
	out = append(out, uint8(len(diffs)))
	for _, d := range diffs {
		out = append(out, d.abiIndex)
		out = append(out, d.value...)
	}

	if r.Signum != 0 {
		out = binary.LittleEndian.AppendUint64(out, r.SIAddr)
		out = binary.LittleEndian.AppendUint64(out, r.SIPC)
		out = binary.LittleEndian.AppendUint32(out, uint32(r.SICode))
	}

	if opt.CheckMem {
		if len(r.MemChanges) > 255 {
			return nil, fmt.Errorf("pack: %d memory changes exceeds the u8 count field", len(r.MemChanges))
		}
		out = append(out, uint8(len(r.MemChanges)))
		for _, c := range r.MemChanges {
			out = binary.LittleEndian.AppendUint64(out, c.Start)
			out = binary.LittleEndian.AppendUint32(out, c.Length)
			out = append(out, c.First...)
			out = binary.LittleEndian.AppendUint32(out, c.Hash)
		}
	}

	return out, nil
}

// saturateU16 clamps a 64-bit counter sample into the wire format's u16
// field rather than silently wrapping; §4.7 is silent on overflow, and a
// saturated maximum is a less misleading signal than a wrapped-small value
// to whatever downstream statistics the server computes over this field.
func saturateU16(v uint64) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

// regWire is one packed register-diff entry: a wire-level abi_index
// (disjoint across register classes, unlike regs.GPDiff/FPDiff/VecDiff's
// per-class ABIIndex) and its little-endian value bytes.
type regWire struct {
	abiIndex uint8
	value    []byte
}
