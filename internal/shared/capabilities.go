package shared

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Capability names a permission key such as "crm.write".
type Capability string

const (
	CapCRMRead   Capability = "crm.read"
	CapCRMWrite  Capability = "crm.write"
	CapCRMDelete Capability = "crm.delete"
)

var knownCapabilities = map[Capability]struct{}{
	CapCRMRead:   {},
	CapCRMWrite:  {},
	CapCRMDelete: {},
}

// Capabilities maps capability keys to grants. Missing keys are denied.
type Capabilities map[Capability]bool

// Has reports whether the capability is granted.
func (c Capabilities) Has(capability Capability) bool {
	return c[capability]
}

// Granted lists the granted keys in lexical order.
func (c Capabilities) Granted() []Capability {
	out := make([]Capability, 0, len(c))
	for k, v := range c {
		if v {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseCapabilities validates a raw capability document. Every key must be a
// known capability and every value a JSON boolean.
func ParseCapabilities(raw map[string]json.RawMessage) (Capabilities, error) {
	caps := make(Capabilities, len(raw))
	for key, value := range raw {
		capability := Capability(key)
		if _, ok := knownCapabilities[capability]; !ok {
			return nil, fmt.Errorf("%w: unknown capability %q", ErrValidation, key)
		}
		var granted bool
		if err := json.Unmarshal(value, &granted); err != nil {
			return nil, fmt.Errorf("%w: capability %q must be a boolean", ErrValidation, key)
		}
		caps[capability] = granted
	}
	return caps, nil
}
