// Package cpuinfo collects the raw host-identification text a client
// sends during the handshake (§6): hostname, lscpu output, /proc/cpuinfo,
// and /sys/devices/system/cpu/possible, plus vector geometry and a
// build-identity hash. It forwards this text as-is; it does not parse a
// MIDR database or classify microarchitectures (that lookup, present in
// original_source/client/src/lib/cpuinfo.c, is explicitly out of scope —
// the coordinator side owns classification, not this client).
package cpuinfo

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Info is everything this client reports about its host during the
// handshake, in the field order §6 and diffuzz-client.c's start_client
// send it in.
type Info struct {
	Hostname      string
	NumCPUs       uint32
	Core          uint32
	Lscpu         string
	ProcCPUInfo   string
	SysPossible   string
	VecSize       uint32
	SVEMax        uint32 // ARM64 only; 0 on RISC-V64
	SMEMax        uint32 // ARM64 only; 0 on RISC-V64
	Tags          map[string]string
	BuildIdentity string // 32-char ASCII hex, per §6's fixed-width field
}

// Collect gathers every field of Info for the given core and vector
// width, in one call, tolerating a missing lscpu binary but failing on
// anything that indicates a broken host environment (unreadable
// /proc/cpuinfo, unresolvable hostname).
func Collect(hostnameOverride string, numCPUs, core uint32, vecSize int, tags map[string]string) (Info, error) {
	host, err := Hostname(hostnameOverride)
	if err != nil {
		return Info{}, err
	}
	lscpu, err := Lscpu()
	if err != nil {
		return Info{}, err
	}
	cpuinfo, err := ProcCPUInfo()
	if err != nil {
		return Info{}, err
	}
	possible, err := SysPossible()
	if err != nil {
		return Info{}, err
	}
	vec, sveMax, smeMax, err := VectorGeometry(vecSize)
	if err != nil {
		return Info{}, err
	}
	identity, err := BuildIdentity()
	if err != nil {
		return Info{}, err
	}

	return Info{
		Hostname:      host,
		NumCPUs:       numCPUs,
		Core:          core,
		Lscpu:         lscpu,
		ProcCPUInfo:   cpuinfo,
		SysPossible:   possible,
		VecSize:       vec,
		SVEMax:        sveMax,
		SMEMax:        smeMax,
		Tags:          tags,
		BuildIdentity: identity,
	}, nil
}

// Hostname resolves the name this client reports, following
// detect_preferred_hostname's precedence: an explicit non-empty override
// first, then the HOST environment variable, then os.Hostname(). A
// "localhost" result from any of these is still reported as-is — the
// Android device-property fallback the original falls back to for that
// case has no counterpart on the server hardware this client targets.
func Hostname(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if h := os.Getenv("HOST"); h != "" {
		return h, nil
	}
	h, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("cpuinfo: hostname: %w", err)
	}
	return h, nil
}

// Lscpu runs `lscpu` and returns its stdout with trailing newlines
// trimmed. A missing binary is
// tolerated: Collect still produces a usable Info with an empty Lscpu
// field rather than failing the whole handshake over one optional field.
func Lscpu() (string, error) {
	out, err := exec.Command("lscpu").Output()
	if err != nil {
		if _, ok := err.(*exec.Error); ok {
			return "", nil
		}
		return "", fmt.Errorf("cpuinfo: lscpu: %w", err)
	}
	return strings.TrimRight(string(out), "\r\n"), nil
}

// ProcCPUInfo returns the verbatim contents of /proc/cpuinfo.
func ProcCPUInfo() (string, error) {
	b, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return "", fmt.Errorf("cpuinfo: read /proc/cpuinfo: %w", err)
	}
	return string(b), nil
}

// SysPossible returns the contents of /sys/devices/system/cpu/possible
// with trailing newlines trimmed (e.g. "0-7").
func SysPossible() (string, error) {
	b, err := os.ReadFile("/sys/devices/system/cpu/possible")
	if err != nil {
		return "", fmt.Errorf("cpuinfo: read /sys/devices/system/cpu/possible: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// NumPossibleCPUs parses the range-list syntax SysPossible returns (e.g.
// "0-3,8,10-11") into a count, mirroring parse_cpu_possible.
func NumPossibleCPUs(sysPossible string) (uint32, error) {
	var total uint32
	for _, tok := range strings.Split(strings.TrimSpace(sysPossible), ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if dash := strings.IndexByte(tok, '-'); dash >= 0 {
			var start, end int
			if _, err := fmt.Sscanf(tok, "%d-%d", &start, &end); err != nil {
				return 0, fmt.Errorf("cpuinfo: parse range %q: %w", tok, err)
			}
			total += uint32(end - start + 1)
		} else {
			total++
		}
	}
	return total, nil
}

// BuildIdentity derives the 32-character ASCII hex hash §6's handshake
// carries as a build-identity fingerprint (the original embeds a hash the
// build system injects into an .elfhash section; a running Go binary has
// no equivalent section, so this hashes the executable's own file
// contents instead — two clients report the same identity if and only if
// they are running byte-identical binaries, the same property the
// original's embedded hash tests for).
func BuildIdentity() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("cpuinfo: resolve executable: %w", err)
	}
	f, err := os.Open(exe)
	if err != nil {
		return "", fmt.Errorf("cpuinfo: open executable: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("cpuinfo: hash executable: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil))[:32], nil
}
