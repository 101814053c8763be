// Package reproducer implements the human-readable YAML reproducer file
// format §6 defines: a way to capture one interesting input/result pair
// on disk so a human (or cmd/riscover-replay) can re-run it later without
// a coordinator connection.
//
// Grounded directly on §6's field list for the document shape; no teacher
// or pack repo defines a YAML document of its own to follow structurally,
// so this package's struct tags are built straight from gopkg.in/yaml.v3's
// own documented API rather than an example's usage pattern.
package reproducer

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Input is the `input:` block: the instruction sequence that produced
// Results, its disassembly (purely for human readability; never parsed
// back), and the register snapshot it ran against.
type Input struct {
	InstrSeq   []string          `yaml:"instr_seq"` // each a "0x..." hex-encoded 32-bit word
	DisOpcodes []string          `yaml:"dis_opcodes,omitempty"`
	Regs       map[string]string `yaml:"regs"` // ABI name -> hex value
}

// Mapping is one entry of the `mappings:` list: a memory region's address,
// size (in pages), protection, and pre-run content.
type Mapping struct {
	Start uint64 `yaml:"start"`
	N     int    `yaml:"n"`    // page count
	Prot  string `yaml:"prot"` // e.g. "rw", "rx", "rwx"
	Val   string `yaml:"val"`  // hex string, little-endian memory words
}

// Result is one entry of the `results:` list: the outcome one client
// observed running Input, plus which client(s) reported it.
type Result struct {
	Signum        int               `yaml:"signum"`
	SICode        *int32            `yaml:"si_code,omitempty"`
	SIAddr        *uint64           `yaml:"si_addr,omitempty"`
	SIPC          *uint64           `yaml:"si_pc,omitempty"`
	RegsAfter     map[string]string `yaml:"regs_after"` // only registers that differ from Input.Regs
	MemDiffs      []MemDiff         `yaml:"mem_diffs,omitempty"`
	MemDiffsCapAt *int              `yaml:"mem_diffs_capped_at,omitempty"`
	Meta          *Meta             `yaml:"meta,omitempty"`
	Clients       []string          `yaml:"clients"`
}

// MemDiff is one entry of a Result's `mem_diffs:` list.
type MemDiff struct {
	Start  uint64 `yaml:"start"`
	Length uint32 `yaml:"length"`
	Hash   uint32 `yaml:"hash"`
}

// Meta is a Result's optional `meta:` block.
type Meta struct {
	Cycle   *uint64 `yaml:"cycle,omitempty"`
	Instret *uint64 `yaml:"instret,omitempty"`
}

// Document is one reproducer file: an Input, the memory regions it
// requires, every Result observed for it across clients, and the build
// context (Flags, Arch, GitCommit) that input was captured under.
type Document struct {
	Input     Input     `yaml:"input"`
	Mappings  []Mapping `yaml:"mappings,omitempty"`
	Results   []Result  `yaml:"results"`
	Flags     []string  `yaml:"flags"`
	Arch      string    `yaml:"arch"`
	GitCommit string    `yaml:"git_commit"`
}

// Load parses a reproducer document from r. YAML's own comment syntax
// already treats `#`-prefixed lines as comments, so no separate
// preprocessing step is needed for that part of §6's loader contract; the
// build-flag compatibility check is a separate step, Validate, since it
// needs the caller's own running configuration to compare against.
func Load(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("reproducer: decode: %w", err)
	}
	return &doc, nil
}

// LoadFile opens path and parses it as a reproducer document.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reproducer: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Save writes doc to w in the same YAML shape Load reads.
func Save(w io.Writer, doc *Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("reproducer: encode: %w", err)
	}
	return nil
}

// SaveFile writes doc to path, creating or truncating it.
func SaveFile(path string, doc *Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reproducer: create %s: %w", path, err)
	}
	defer f.Close()
	return Save(f, doc)
}

// Validate rejects a document whose build flags or architecture differ
// from the running client's, per §6's loader contract ("rejects the
// document if the build flags differ from the running binary"). Flag
// order is not significant; the flag sets must match exactly.
func Validate(doc *Document, runningArch string, runningFlags []string) error {
	if doc.Arch != runningArch {
		return fmt.Errorf("reproducer: document arch %q does not match running arch %q", doc.Arch, runningArch)
	}
	want := make(map[string]bool, len(runningFlags))
	for _, f := range runningFlags {
		want[f] = true
	}
	have := make(map[string]bool, len(doc.Flags))
	for _, f := range doc.Flags {
		have[f] = true
	}
	if len(want) != len(have) {
		return fmt.Errorf("reproducer: document flags %v do not match running flags %v", doc.Flags, runningFlags)
	}
	for f := range want {
		if !have[f] {
			return fmt.Errorf("reproducer: document flags %v do not match running flags %v", doc.Flags, runningFlags)
		}
	}
	return nil
}
