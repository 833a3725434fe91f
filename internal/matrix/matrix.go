// Package matrix loads and validates authorization matrix fixtures.
//
// A matrix fixture is a YAML document declaring test identities and the
// tool calls to check against each of them, with the expected outcome
// (allow or deny) per identity. The runner executes every expectation
// and compares observed outcomes against the fixture.
package matrix

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Expectation is the outcome a check expects for one identity.
type Expectation string

const (
	// ExpectAllow means the tool call must succeed for the identity.
	ExpectAllow Expectation = "allow"
	// ExpectDeny means the tool call must be rejected for the identity.
	ExpectDeny Expectation = "deny"
)

// Identity declares a test identity the harness authenticates as.
type Identity struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// Check is one tool invocation with per-identity expectations.
type Check struct {
	Tool   string                 `yaml:"tool"`
	Args   map[string]interface{} `yaml:"args,omitempty"`
	Expect map[string]Expectation `yaml:"expect"`
}

// IdentityExpectation pairs an identity with its expected outcome for a
// check, in the deterministic order produced by Expectations.
type IdentityExpectation struct {
	Identity string
	Expect   Expectation
}

// Matrix is a parsed authorization matrix fixture.
type Matrix struct {
	Name       string     `yaml:"name,omitempty"`
	Identities []Identity `yaml:"identities"`
	Checks     []Check    `yaml:"checks"`
}

// Load reads and parses a matrix fixture from disk and validates it.
func Load(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read matrix file: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse matrix file %s: %w", path, err)
	}
	return m, nil
}

// Parse unmarshals a matrix fixture and validates it.
func Parse(data []byte) (*Matrix, error) {
	var m Matrix
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the fixture for structural errors: missing identities
// or checks, duplicate identity names, expectations that reference
// undeclared identities, and expectation values other than allow/deny.
func (m *Matrix) Validate() error {
	if len(m.Identities) == 0 {
		return fmt.Errorf("matrix declares no identities")
	}
	if len(m.Checks) == 0 {
		return fmt.Errorf("matrix declares no checks")
	}

	known := make(map[string]bool, len(m.Identities))
	for i, id := range m.Identities {
		if id.Name == "" {
			return fmt.Errorf("identity %d has no name", i)
		}
		if known[id.Name] {
			return fmt.Errorf("duplicate identity %q", id.Name)
		}
		known[id.Name] = true
	}

	for i, c := range m.Checks {
		if c.Tool == "" {
			return fmt.Errorf("check %d has no tool", i)
		}
		if len(c.Expect) == 0 {
			return fmt.Errorf("check %d (%s) has no expectations", i, c.Tool)
		}
		for name, expect := range c.Expect {
			if !known[name] {
				return fmt.Errorf("check %d (%s): expectation for undeclared identity %q", i, c.Tool, name)
			}
			if expect != ExpectAllow && expect != ExpectDeny {
				return fmt.Errorf("check %d (%s): expectation for %q must be %q or %q, got %q",
					i, c.Tool, name, ExpectAllow, ExpectDeny, expect)
			}
		}
	}

	return nil
}

// IdentityNames returns the declared identity names in fixture order.
func (m *Matrix) IdentityNames() []string {
	names := make([]string, 0, len(m.Identities))
	for _, id := range m.Identities {
		names = append(names, id.Name)
	}
	return names
}

// Expectations returns the check's expectations ordered by the fixture's
// identity declarations. YAML mappings carry no order, so iterating the
// Expect map directly would make run output nondeterministic.
func (m *Matrix) Expectations(c Check) []IdentityExpectation {
	out := make([]IdentityExpectation, 0, len(c.Expect))
	for _, id := range m.Identities {
		if expect, ok := c.Expect[id.Name]; ok {
			out = append(out, IdentityExpectation{Identity: id.Name, Expect: expect})
		}
	}
	return out
}

// CheckCount returns the total number of identity expectations across
// all checks, which is the number of tool calls a full run performs.
func (m *Matrix) CheckCount() int {
	n := 0
	for _, c := range m.Checks {
		n += len(c.Expect)
	}
	return n
}
