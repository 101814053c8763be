package batch

import (
	"errors"
	"fmt"
	"io"

	"github.com/intuitionamiga/riscover-client/internal/engine"
	"github.com/intuitionamiga/riscover-client/internal/pack"
	"github.com/intuitionamiga/riscover-client/internal/regs"
)

// Config binds everything RunLoop needs for one connection's lifetime:
// the negotiated max_batch_n, the codec for the agreed input Shape, the
// register-template snapshot new inputs clone from, and the packer
// options matching the negotiated build flags (Meta/CheckMem/RISCV64).
type Config struct {
	MaxBatchN uint32
	Codec     Codec
	Template  *regs.Snapshot
	PackOpts  pack.Options
	// Compress selects gzip framing for both directions, per §6; the
	// coordinator negotiates this out of band (a build-time flag on the
	// original), so it's a plain bool here rather than something RunLoop
	// discovers per message.
	Compress bool
}

// RunLoop drives the repeated receive-decode-run-pack-send cycle §4.8
// describes, until the connection is closed or a Transport fatal error
// occurs. It returns nil only if the coordinator closes the connection
// cleanly between batches (io.EOF surfaces from reading the batch size in
// that case); any other error is Transport fatal per §7 and the caller
// should abort the worker.
func RunLoop(c *Conn, eng *engine.Engine, cfg Config) error {
	for {
		n, err := c.RecvUint32()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("batch: read batch size: %w", err)
		}
		if n > cfg.MaxBatchN {
			return fmt.Errorf("batch: n %d exceeds negotiated max_batch_n %d", n, cfg.MaxBatchN)
		}

		payload, err := recvInputs(c, cfg.Compress, int(n)*cfg.Codec.Size())
		if err != nil {
			return err
		}

		out, err := runBatch(eng, cfg, payload, int(n))
		if err != nil {
			return err
		}

		if err := sendOutputs(c, cfg.Compress, out); err != nil {
			return err
		}
	}
}

func recvInputs(c *Conn, compress bool, wantBytes int) ([]byte, error) {
	var payload []byte
	var err error
	if compress {
		payload, err = c.RecvCompressed()
	} else {
		payload, err = c.RecvMsgN(wantBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("batch: read input payload: %w", err)
	}
	if len(payload) != wantBytes {
		return nil, fmt.Errorf("batch: input payload is %d bytes, want %d", len(payload), wantBytes)
	}
	return payload, nil
}

func sendOutputs(c *Conn, compress bool, out []byte) error {
	if compress {
		return c.SendCompressed(out)
	}
	return c.SendMsg(out)
}

// expander is implemented by codecs (only the seq-num shape, currently)
// whose wire record can expand into more than one run — seq-num's `n`
// field asks for n independently-seeded draws from one 12-byte record.
type expander interface {
	Expand(rec []byte, base *regs.Snapshot) ([]Decoded, error)
}

// runBatch decodes and runs every input record in order, appending each
// packed result to a single output buffer — step 3 of §4.8.
func runBatch(eng *engine.Engine, cfg Config, payload []byte, n int) ([]byte, error) {
	recSize := cfg.Codec.Size()
	var out []byte

	for b := 0; b < n; b++ {
		rec := payload[b*recSize : (b+1)*recSize]

		var draws []Decoded
		if exp, ok := cfg.Codec.(expander); ok {
			var err error
			draws, err = exp.Expand(rec, cfg.Template)
			if err != nil {
				return nil, fmt.Errorf("batch: decode input %d: %w", b, err)
			}
		} else {
			decoded, err := cfg.Codec.Decode(rec, cfg.Template)
			if err != nil {
				return nil, fmt.Errorf("batch: decode input %d: %w", b, err)
			}
			draws = []Decoded{decoded}
		}

		for _, d := range draws {
			packed, err := runOne(eng, cfg, d)
			if err != nil {
				return nil, fmt.Errorf("batch: run input %d: %w", b, err)
			}
			out = append(out, packed...)
		}
	}
	return out, nil
}

func runOne(eng *engine.Engine, cfg Config, d Decoded) ([]byte, error) {
	if d.FullSeq {
		results, err := eng.RunFullSeq(d.Instrs, d.Regs)
		if err != nil {
			return nil, fmt.Errorf("RunFullSeq: %w", err)
		}
		return pack.Sequence(d.Regs, results, cfg.PackOpts)
	}

	result, err := eng.Run(d.Instrs, d.Regs)
	if err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}
	return pack.Result(d.Regs, result, cfg.PackOpts)
}
