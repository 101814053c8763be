// Command riscover-client is the per-core fuzzing worker: it disables
// address-space randomization, spawns one pinned-core child per possible
// CPU, and each child connects to a coordinator and repeatedly executes
// batches of fuzzed instruction sequences until the connection closes.
//
// Usage: riscover-client <coordinator_ip> <coordinator_port> [hostname]
//
// Environment: COLOR forces color on/off for diag output; HOST, when set,
// replaces the reported hostname whatever name the system reports, not
// only "localhost" (a [hostname] argument takes precedence over HOST);
// RISCOVER_INPUT_SHAPE selects the negotiated BatchInput wire shape
// (seqnum, regselect, fullregs — default seqnum); RISCOVER_COMPRESS turns
// off gzip framing when set to one of COLOR's "off" synonyms.
package main

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/intuitionamiga/riscover-client/internal/archcfg"
	"github.com/intuitionamiga/riscover-client/internal/batch"
	"github.com/intuitionamiga/riscover-client/internal/cpuinfo"
	"github.com/intuitionamiga/riscover-client/internal/diag"
	"github.com/intuitionamiga/riscover-client/internal/engine"
	"github.com/intuitionamiga/riscover-client/internal/fuzzval"
	"github.com/intuitionamiga/riscover-client/internal/memmap"
	"github.com/intuitionamiga/riscover-client/internal/pack"
	"github.com/intuitionamiga/riscover-client/internal/regs"
	"github.com/intuitionamiga/riscover-client/internal/runner"
	"github.com/intuitionamiga/riscover-client/internal/scrub"
)

const (
	dialAttempts  = 30
	dialRetryWait = 2 * time.Second
)

func main() {
	if len(os.Args) < 3 {
		diag.Fatal(diag.FatalContext{Reason: "usage: riscover-client <coordinator_ip> <coordinator_port> [hostname]"})
	}
	addr := net.JoinHostPort(os.Args[1], os.Args[2])
	hostnameOverride := os.Getenv("HOST")
	if len(os.Args) >= 4 {
		hostnameOverride = os.Args[3]
	}

	if core, isWorker := scrub.CoreFromEnv(); isWorker {
		runWorker(addr, core, hostnameOverride)
		return
	}
	runParent(addr)
}

// runParent implements the process-wide half of §4.9: disable ASLR
// (re-execing this same binary if the flag wasn't already effective),
// detach the controlling session, then spawn one worker child per
// possible CPU core. The parent process never itself connects to the
// coordinator — each spawned child does, pinned to its own core.
func runParent(addr string) {
	if err := scrub.DisableASLR(); err != nil {
		diag.Fatal(diag.FatalContext{Reason: fmt.Sprintf("disable ASLR: %v", err), DumpMaps: true})
	}
	if err := scrub.DetachSession(); err != nil {
		diag.Fatal(diag.FatalContext{Reason: fmt.Sprintf("detach session: %v", err)})
	}

	numCores := selectedCoreCount()
	diag.Info("spawning %d worker(s) for %s", numCores, addr)
	if err := scrub.SpawnWorkers(numCores, os.Args[1:]); err != nil {
		diag.Fatal(diag.FatalContext{Reason: fmt.Sprintf("worker fleet: %v", err)})
	}
}

// runWorker is one pinned-core client connection: register/engine setup,
// the handshake, then the batch loop, per §4.8/§4.9. A worker's only exit
// paths are a clean coordinator disconnect (RunLoop returns nil) or a
// Transport/Configuration fatal error (§7).
func runWorker(addr string, core int, hostnameOverride string) {
	if err := scrub.PinToCore(core); err != nil {
		diag.Fatal(diag.FatalContext{Reason: fmt.Sprintf("pin to core %d: %v", core, err)})
	}

	cfg := archcfg.DefaultRegsConfig()

	prober := memmap.New()
	if bad, ok := fuzzval.CheckPointersSafe(prober, uint64(prober.PageSize())); !ok {
		diag.Fatal(diag.FatalContext{
			Reason:   fmt.Sprintf("fuzzing-value table pointer collides with a mapped page at 0x%x", bad),
			DumpMaps: true,
		})
	}

	eng, err := engine.New(cfg, true)
	if err != nil {
		diag.Fatal(diag.FatalContext{Reason: fmt.Sprintf("engine init: %v", err), DumpMaps: true})
	}
	defer eng.Close()

	numCPUs := selectedCoreCount()
	info, err := cpuinfo.Collect(hostnameOverride, uint32(numCPUs), uint32(core), cfg.VectorBytes, buildTags())
	if err != nil {
		diag.Fatal(diag.FatalContext{Reason: fmt.Sprintf("collect cpuinfo: %v", err)})
	}

	conn, err := batch.DialWithRetry(addr, dialAttempts, dialRetryWait)
	if err != nil {
		diag.Error("connect to %s: %v", addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	reply, err := batch.Handshake(conn, info)
	if err != nil {
		diag.Error("handshake: %v", err)
		os.Exit(1)
	}
	diag.Info("handshake complete: core=%d max_batch_n=%d seed=%#x", core, reply.MaxBatchN, reply.Seed)

	template := regs.New(cfg)
	loopCfg := batch.Config{
		MaxBatchN: reply.MaxBatchN,
		Codec:     inputCodec(reply.Seed, cfg, template),
		Template:  template,
		PackOpts: pack.Options{
			Meta:     true,
			RISCV64:  runtime.GOARCH == "riscv64",
			CheckMem: true,
		},
		Compress: compressEnabled(),
	}

	if err := batch.RunLoop(conn, eng, loopCfg); err != nil {
		diag.Error("batch loop: %v", err)
		os.Exit(1)
	}
}

// selectedCoreCount is the number of workers runParent spawns and the
// num_cpus the handshake reports, both read from the same source so they
// never disagree.
func selectedCoreCount() int {
	possible, err := cpuinfo.SysPossible()
	if err == nil {
		if n, err := cpuinfo.NumPossibleCPUs(possible); err == nil && n > 0 {
			return int(n)
		}
	}
	return runtime.NumCPU()
}

// buildTags supplies the handshake's free-form tag list (§6); right now
// that's just the running architecture, since the MIDR/microarchitecture
// database itself is out of scope (§1, supplemented in SPEC_FULL.md §12).
func buildTags() map[string]string {
	return map[string]string{"arch": runtime.GOARCH}
}

// compressEnabled mirrors diag's COLOR-synonym parsing for the one other
// environment-controlled on/off switch this binary exposes.
func compressEnabled() bool {
	switch strings.ToLower(os.Getenv("RISCOVER_COMPRESS")) {
	case "0", "off", "false", "no":
		return false
	default:
		return true
	}
}

// numFPRegs and numVecLanes describe the register-select shape's index
// arrays: numFPRegs is the 32 scalar-FP registers both architectures
// expose, numVecLanes the 8-byte draws per vector register
// (Cfg.VectorBytes/8), each 0 when the corresponding Cfg flag is off.
func numFPRegs(cfg regs.Config) int {
	if !cfg.Floats {
		return 0
	}
	return 32
}

func numVecLanes(cfg regs.Config) int {
	if !cfg.Vector {
		return 0
	}
	return cfg.VectorBytes / 8
}

// inputCodec builds the Codec for the negotiated Shape. The shape itself
// is chosen out of band from the wire protocol (§3 calls it fixed "at
// build/negotiation time"); this client exposes that choice as an
// environment variable rather than a second compile-time build variant,
// the same reasoning internal/batch.Config.Compress already documents for
// gzip negotiation (see DESIGN.md).
func inputCodec(seed uint64, cfg regs.Config, template *regs.Snapshot) batch.Codec {
	switch shapeFromEnv() {
	case batch.ShapeRegSelect:
		return batch.NewRegSelectCodec(len(template.GP), numFPRegs(cfg), numVecLanes(cfg), runner.MaxSeqLen)
	case batch.ShapeFullRegs:
		return batch.NewFullRegsCodec(len(template.Bytes()), runner.MaxSeqLen)
	default:
		return batch.NewSeqNumCodec(seed)
	}
}

func shapeFromEnv() batch.Shape {
	switch os.Getenv("RISCOVER_INPUT_SHAPE") {
	case "regselect":
		return batch.ShapeRegSelect
	case "fullregs":
		return batch.ShapeFullRegs
	default:
		return batch.ShapeSeqNum
	}
}
