package batch

import (
	"fmt"
	"runtime"

	"github.com/intuitionamiga/riscover-client/internal/cpuinfo"
)

// HandshakeReply is what the coordinator sends back after receiving a
// client's identification: the per-batch size cap and a seed the client
// uses when generating seq-num inputs.
type HandshakeReply struct {
	MaxBatchN uint32
	Seed      uint64
}

// Handshake sends the client identification sequence in exactly the field
// order diffuzz-client.c's start_client uses, then reads the coordinator's
// reply. Tags are sent in map iteration order; §6 explicitly allows
// reverse-of-insertion order, so any order is acceptable to the
// coordinator.
func Handshake(c *Conn, info cpuinfo.Info) (HandshakeReply, error) {
	if err := c.SendString(info.Hostname); err != nil {
		return HandshakeReply{}, err
	}
	if err := c.SendUint32(info.NumCPUs); err != nil {
		return HandshakeReply{}, err
	}
	if err := c.SendUint32(info.Core); err != nil {
		return HandshakeReply{}, err
	}
	if err := c.SendString(info.Lscpu); err != nil {
		return HandshakeReply{}, err
	}
	if err := c.SendString(info.ProcCPUInfo); err != nil {
		return HandshakeReply{}, err
	}
	if err := c.SendString(info.SysPossible); err != nil {
		return HandshakeReply{}, err
	}
	if err := c.SendUint32(info.VecSize); err != nil {
		return HandshakeReply{}, err
	}
	if runtime.GOARCH == "arm64" {
		if err := c.SendUint32(info.SVEMax); err != nil {
			return HandshakeReply{}, err
		}
		if err := c.SendUint32(info.SMEMax); err != nil {
			return HandshakeReply{}, err
		}
	}

	if err := c.SendUint32(uint32(len(info.Tags))); err != nil {
		return HandshakeReply{}, err
	}
	for k, v := range info.Tags {
		if err := c.SendString(k); err != nil {
			return HandshakeReply{}, err
		}
		if err := c.SendString(v); err != nil {
			return HandshakeReply{}, err
		}
	}

	if len(info.BuildIdentity) != 32 {
		return HandshakeReply{}, fmt.Errorf("batch: build identity %q is not 32 ASCII characters", info.BuildIdentity)
	}
	if err := c.SendMsg([]byte(info.BuildIdentity)); err != nil {
		return HandshakeReply{}, err
	}

	maxBatchN, err := c.RecvUint32()
	if err != nil {
		return HandshakeReply{}, fmt.Errorf("batch: read max_batch_n: %w", err)
	}
	seed, err := c.RecvUint64()
	if err != nil {
		return HandshakeReply{}, fmt.Errorf("batch: read seed: %w", err)
	}

	return HandshakeReply{MaxBatchN: maxBatchN, Seed: seed}, nil
}
