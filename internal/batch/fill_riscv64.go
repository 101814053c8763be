//go:build riscv64

package batch

import (
	"encoding/binary"

	"github.com/intuitionamiga/riscover-client/internal/prng"
	"github.com/intuitionamiga/riscover-client/internal/regs"
)

func fillGP(s *regs.Snapshot, r *prng.MT19937) {
	for i := range s.GP {
		s.GP[i] = randomTableValue(r)
	}
}

func fillFP(s *regs.Snapshot, r *prng.MT19937) {
	if !s.Cfg.Floats {
		return
	}
	for i := range s.F {
		s.F[i] = randomTableValue(r)
	}
}

func fillVec(s *regs.Snapshot, r *prng.MT19937) {
	if !s.Cfg.Vector {
		return
	}
	for i := range s.V {
		for off := 0; off < len(s.V[i]); off += 8 {
			binary.LittleEndian.PutUint64(s.V[i][off:off+8], randomTableValue(r))
		}
	}
}

func setGPByIndex(s *regs.Snapshot, i int, v uint64) { s.GP[i] = v }

func setFPByIndex(s *regs.Snapshot, i int, v uint64) { s.F[i] = v }

func setVecByIndex(s *regs.Snapshot, i int, lanes []uint64) {
	for l, v := range lanes {
		binary.LittleEndian.PutUint64(s.V[i][l*8:l*8+8], v)
	}
}
