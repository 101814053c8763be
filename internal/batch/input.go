package batch

import (
	"fmt"

	"github.com/intuitionamiga/riscover-client/internal/fuzzval"
	"github.com/intuitionamiga/riscover-client/internal/prng"
	"github.com/intuitionamiga/riscover-client/internal/regs"
	"github.com/intuitionamiga/riscover-client/internal/runner"
)

// Shape selects which of the three BatchInput wire layouts §3/§4.8
// negotiate, fixed for the lifetime of a connection (chosen at the same
// point the coordinator and client agree on max_batch_n).
type Shape int

const (
	ShapeSeqNum Shape = iota
	ShapeRegSelect
	ShapeFullRegs
)

// Decoded is one decoded BatchInput: the registers to load before running,
// the instruction sequence, and whether to use run_full_seq.
type Decoded struct {
	Regs     *regs.Snapshot
	Instrs   []uint32
	FullSeq  bool
}

// Codec decodes a fixed-size input record into a Decoded run request. Each
// Shape has its own Codec; Config.Codec constructs the right one from the
// negotiated build configuration.
type Codec interface {
	// Size is max_input_size: the fixed number of bytes one input record
	// occupies in the batch payload.
	Size() int
	// Decode parses one fixed-size record into a run request. base is a
	// template snapshot (Cfg and, for shapes that don't specify every
	// register, zero-valued fields) cloned per call.
	Decode(rec []byte, base *regs.Snapshot) (Decoded, error)
}

// seqNumRecord mirrors diffuzz-client.c's JUST_SEQ_NUM struct input: a
// packed { u64 seq_num, u16 n, u8 seq_len, u8 full_seq }. Unlike the other
// two shapes, one wire record here expands to n generated runs (the seed
// advances by one per run, seq_num+a), so Decode returns only the first;
// Expand returns all n.
type seqNumRecord struct {
	seed uint64 // the handshake-negotiated global seed, XORed with seq_num per §3
}

func NewSeqNumCodec(seed uint64) Codec { return &seqNumRecord{seed: seed} }

func (c *seqNumRecord) Size() int { return 8 + 2 + 1 + 1 }

func (c *seqNumRecord) Decode(rec []byte, base *regs.Snapshot) (Decoded, error) {
	seqs, err := c.Expand(rec, base)
	if err != nil {
		return Decoded{}, err
	}
	if len(seqs) == 0 {
		return Decoded{}, fmt.Errorf("batch: seq-num record with n == 0")
	}
	return seqs[0], nil
}

// Expand generates every run the record's `n` field calls for: n
// independent draws at seq_num, seq_num+1, ..., seq_num+n-1, each with its
// own freshly seeded register fill and instruction sequence, exactly as
// diffuzz-client.c's batch loop does inside its `for (a = 0; a < input->n;
// a++)` loop.
func (c *seqNumRecord) Expand(rec []byte, base *regs.Snapshot) ([]Decoded, error) {
	if len(rec) != c.Size() {
		return nil, fmt.Errorf("batch: seq-num record is %d bytes, want %d", len(rec), c.Size())
	}
	seqNum := leUint64(rec[0:8])
	n := leUint16(rec[8:10])
	seqLen := rec[10]
	fullSeq := rec[11] != 0

	if int(seqLen) > runner.MaxSeqLen {
		return nil, fmt.Errorf("batch: seq-num seq_len %d exceeds MaxSeqLen %d", seqLen, runner.MaxSeqLen)
	}

	out := make([]Decoded, 0, n)
	for a := uint64(0); a < uint64(n); a++ {
		r := prng.New(prng.SeqSeed(c.seed, seqNum+a))
		snap := base.Clone()
		fillRegsFromFuzzingTable(snap, r)

		instrs := make([]uint32, seqLen)
		for i := range instrs {
			instrs[i] = uint32(r.NextUint64())
		}

		out = append(out, Decoded{Regs: snap, Instrs: instrs, FullSeq: fullSeq})
	}
	return out, nil
}

// fillRegsFromFuzzingTable draws a random table index per register and
// writes fuzzval.Table[index] into it, the seq-num shape's register-fill
// step (fill_regs_with_fuzzing_value_map); the per-architecture GP/FP/
// vector field layout comes from fill_arm64.go / fill_riscv64.go.
func fillRegsFromFuzzingTable(snap *regs.Snapshot, r *prng.MT19937) {
	fillGP(snap, r)
	fillFP(snap, r)
	fillVec(snap, r)
}

func randomTableValue(r *prng.MT19937) uint64 {
	idx := r.RandInt(0, int64(len(fuzzval.Table)-1))
	return fuzzval.Table[idx]
}

// regSelectCodec decodes the WITH_REGS shape: one byte per GP/FP/vector
// lane selecting a fuzzval.Table index, then n_instrs/full_seq/instr_seq.
type regSelectCodec struct {
	numGP, numFP, numVecLanes int
	maxInstrs                 int
}

// NewRegSelectCodec builds the register-select codec for the negotiated
// register geometry. numVecLanes is the number of 8-byte table draws per
// vector register (Cfg.VectorBytes/8), 0 when vector is disabled.
func NewRegSelectCodec(numGP, numFP, numVecLanes, maxInstrs int) Codec {
	return &regSelectCodec{numGP: numGP, numFP: numFP, numVecLanes: numVecLanes, maxInstrs: maxInstrs}
}

func (c *regSelectCodec) Size() int {
	return c.numGP + c.numFP + 32*c.numVecLanes + 1 + 1 + 4*c.maxInstrs
}

func (c *regSelectCodec) Decode(rec []byte, base *regs.Snapshot) (Decoded, error) {
	if len(rec) != c.Size() {
		return Decoded{}, fmt.Errorf("batch: reg-select record is %d bytes, want %d", len(rec), c.Size())
	}
	snap := base.Clone()
	off := 0

	for i := 0; i < c.numGP; i++ {
		setGPByIndex(snap, i, fuzzval.Table[rec[off]])
		off++
	}
	for i := 0; i < c.numFP; i++ {
		setFPByIndex(snap, i, fuzzval.Table[rec[off]])
		off++
	}
	if c.numVecLanes > 0 {
		for v := 0; v < 32; v++ {
			lanes := make([]uint64, c.numVecLanes)
			for l := 0; l < c.numVecLanes; l++ {
				lanes[l] = fuzzval.Table[rec[off]]
				off++
			}
			setVecByIndex(snap, v, lanes)
		}
	}

	nInstrs := int(rec[off])
	off++
	fullSeq := rec[off] != 0
	off++
	if nInstrs > c.maxInstrs {
		return Decoded{}, fmt.Errorf("batch: reg-select n_instrs %d exceeds negotiated maximum %d", nInstrs, c.maxInstrs)
	}
	instrs := make([]uint32, nInstrs)
	for i := range instrs {
		instrs[i] = leUint32(rec[off : off+4])
		off += 4
	}

	return Decoded{Regs: snap, Instrs: instrs, FullSeq: fullSeq}, nil
}

// fullRegsCodec decodes the WITH_FULL_REGS shape: the entire snapshot
// inline (Bytes()-width), then n_instrs/full_seq/instr_seq.
type fullRegsCodec struct {
	snapBytes int
	maxInstrs int
}

func NewFullRegsCodec(snapBytes, maxInstrs int) Codec {
	return &fullRegsCodec{snapBytes: snapBytes, maxInstrs: maxInstrs}
}

func (c *fullRegsCodec) Size() int {
	return c.snapBytes + 1 + 1 + 4*c.maxInstrs
}

func (c *fullRegsCodec) Decode(rec []byte, base *regs.Snapshot) (Decoded, error) {
	if len(rec) != c.Size() {
		return Decoded{}, fmt.Errorf("batch: full-regs record is %d bytes, want %d", len(rec), c.Size())
	}
	snap := base.Clone()
	snap.SetBytes(rec[:c.snapBytes])
	off := c.snapBytes

	nInstrs := int(rec[off])
	off++
	fullSeq := rec[off] != 0
	off++
	if nInstrs > c.maxInstrs {
		return Decoded{}, fmt.Errorf("batch: full-regs n_instrs %d exceeds negotiated maximum %d", nInstrs, c.maxInstrs)
	}
	instrs := make([]uint32, nInstrs)
	for i := range instrs {
		instrs[i] = leUint32(rec[off : off+4])
		off += 4
	}

	return Decoded{Regs: snap, Instrs: instrs, FullSeq: fullSeq}, nil
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
