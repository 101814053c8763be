//go:build arm64

package cpuinfo

import (
	"golang.org/x/sys/unix"
)

// VectorGeometry probes SVE/SME vector-length support via prctl(2), the
// way diffuzz-client.c's main() does at startup with set_and_get_sve/
// set_and_get_sme: request the largest possible length (2048 bits = 256
// bytes, the architectural maximum), then read back whatever the kernel
// actually granted. sveMax/smeMax are both 0 when the feature is absent.
//
// vecSize is the fixed width this client actually runs with — it is
// internal/regs's own Cfg.VectorBytes, not necessarily sveMax, since the
// engine may be built for a narrower, more portable vector width than the
// host's maximum.
func VectorGeometry(vecSize int) (vec, sveMax, smeMax uint32, err error) {
	vec = uint32(vecSize)

	if v, ok := probeVL(unix.PR_SVE_SET_VL, unix.PR_SVE_GET_VL, 256); ok {
		sveMax = v
	}
	if v, ok := probeVL(unix.PR_SME_SET_VL, unix.PR_SME_GET_VL, 256); ok {
		smeMax = v
	}
	return vec, sveMax, smeMax, nil
}

// probeVL asks the kernel for the widest vector length it supports (in
// bytes) for one prctl-controlled vector extension, returning false if the
// extension isn't available on this host at all.
func probeVL(setOp, getOp, requestBytes int) (uint32, bool) {
	if err := unix.Prctl(setOp, uintptr(requestBytes), 0, 0, 0); err != nil {
		return 0, false
	}
	got, err := unix.PrctlRetInt(getOp, 0, 0, 0, 0)
	if err != nil || got <= 0 {
		return 0, false
	}
	return uint32(got) & unix.PR_SVE_VL_LEN_MASK, true
}
