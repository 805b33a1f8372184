package schema

// This file implements the persisted side of discovery. A Configuration is
// written once per run: as JSON in the Arrow schema metadata, as the fields
// table of a SQL sink, and as text by -print-config. Readers (flatten, the
// Arrow reader) rebuild field slots from it instead of rediscovering.

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/zeebo/xxh3"
)

// Match declares a record-level cross reference between two branches.
type Match struct {
	Name string `json:"name"`
	// From and To are branch names; a match entry holds a record ID of each.
	From string `json:"from"`
	To   string `json:"to"`
}

// Configuration is the persisted description of a merged output.
type Configuration struct {
	// RunID identifies the run; it keys every row of a SQL sink.
	RunID string `json:"run_id"`
	// Branches are in a fixed order: Events, Candidates, Simulated,
	// Generated, each only when enabled.
	Branches []*Branch `json:"branches"`
	Matches  []Match   `json:"matches,omitempty"`
	// GeneratedPlacement records where Generated records are written:
	// "first_event" or "partition". Empty when there is no Generated branch.
	GeneratedPlacement string `json:"generated_placement,omitempty"`
}

// Branch looks a branch up by name.
func (c *Configuration) Branch(name string) (*Branch, bool) {
	for _, b := range c.Branches {
		if b.Name == name {
			return b, true
		}
	}
	return nil, false
}

// Fingerprint hashes the branch and match layout. Two runs over inputs with
// the same columns and options share a fingerprint; the run id is excluded.
func (c *Configuration) Fingerprint() uint64 {
	h := xxh3.New()
	for _, b := range c.Branches {
		_, _ = h.WriteString("branch\x00" + b.Name + "\x00")
		for _, f := range b.Fields {
			_, _ = h.WriteString(f.Name + "\x00" + f.Type.String() + "\x00")
		}
	}
	for _, m := range c.Matches {
		_, _ = h.WriteString("match\x00" + m.Name + "\x00" + m.From + "\x00" + m.To + "\x00")
	}
	if c.GeneratedPlacement != "" {
		_, _ = h.WriteString("generated\x00" + c.GeneratedPlacement)
	}
	return h.Sum64()
}

// FingerprintHex is Fingerprint as a fixed-width hex string.
func (c *Configuration) FingerprintHex() string {
	return fmt.Sprintf("%016x", c.Fingerprint())
}

// Print writes a human-readable summary of the layout.
func (c *Configuration) Print(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Configuration run_id=%s fingerprint=%s\n", c.RunID, c.FingerprintHex()); err != nil {
		return err
	}
	for _, b := range c.Branches {
		if _, err := fmt.Fprintf(w, "  Branch %s (%d fields)\n", b.Name, len(b.Fields)); err != nil {
			return err
		}
		for i, f := range b.Fields {
			if _, err := fmt.Fprintf(w, "    %s %s %s\n", strconv.Itoa(i), f.Name, f.Type); err != nil {
				return err
			}
		}
	}
	for _, m := range c.Matches {
		if _, err := fmt.Fprintf(w, "  Matching %s: %s -> %s\n", m.Name, m.From, m.To); err != nil {
			return err
		}
	}
	if c.GeneratedPlacement != "" {
		if _, err := fmt.Fprintf(w, "  Generated placement: %s\n", c.GeneratedPlacement); err != nil {
			return err
		}
	}
	return nil
}

// ParseConfiguration decodes a Configuration previously written as JSON.
func ParseConfiguration(data []byte) (*Configuration, error) {
	var c Configuration
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("schema: parse configuration: %w", err)
	}
	return &c, nil
}
