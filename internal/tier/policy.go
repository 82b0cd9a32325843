// Package tier maps inbound callers to a subscription tier.
//
// Resolution is fail-open: whatever goes wrong while talking to the
// identity provider, the caller is served under the default tier.
package tier

import (
	"fmt"
	"sort"

	"github.com/vyrodovalexey/tiergate/internal/config"
)

// Policy is a named subscription level with its request quotas.
type Policy struct {
	Name              string `json:"name"`
	RequestsPerMinute int    `json:"requestsPerMinute"`
	RequestsPerHour   int    `json:"requestsPerHour"`
	RequestsPerDay    int    `json:"requestsPerDay"`
	Unlimited         bool   `json:"unlimited"`
}

// Table is the fixed set of tiers configured at startup.
type Table struct {
	tiers       map[string]Policy
	defaultTier Policy
}

// NewTable builds a tier table. defaultName must be one of the tiers.
func NewTable(tiers []config.TierConfig, defaultName string) (*Table, error) {
	t := &Table{tiers: make(map[string]Policy, len(tiers))}
	for _, tc := range tiers {
		t.tiers[tc.Name] = Policy{
			Name:              tc.Name,
			RequestsPerMinute: tc.RequestsPerMinute,
			RequestsPerHour:   tc.RequestsPerHour,
			RequestsPerDay:    tc.RequestsPerDay,
			Unlimited:         tc.Unlimited,
		}
	}

	def, ok := t.tiers[defaultName]
	if !ok {
		return nil, fmt.Errorf("default tier %q is not defined", defaultName)
	}
	t.defaultTier = def
	return t, nil
}

// Get returns the named tier.
func (t *Table) Get(name string) (Policy, bool) {
	p, ok := t.tiers[name]
	return p, ok
}

// Default returns the tier assigned when resolution fails.
func (t *Table) Default() Policy {
	return t.defaultTier
}

// All returns the tiers ordered by name.
func (t *Table) All() []Policy {
	out := make([]Policy, 0, len(t.tiers))
	for _, p := range t.tiers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
