package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DenyRule drops one {source, action_type} class of events before they reach
// the store. An empty source matches every source.
type DenyRule struct {
	Source string `yaml:"source,omitempty"`
	Type   string `yaml:"action_type"`
}

// Denylist is the set of event classes the normalizer drops as noise.
// Dropped is different from rejected: denied events are well-formed, they
// just carry no signal worth a row.
type Denylist struct {
	rules map[string]struct{}
}

// DefaultDenylist drops the high-frequency noise classes that would
// otherwise dominate write volume: raw DOM mutation samples and
// pointer-movement events.
func DefaultDenylist() Denylist {
	return NewDenylist([]DenyRule{
		{Type: "dom_change"},
		{Type: "mouse_move"},
		{Type: "mouse_enter"},
		{Type: "mouse_leave"},
	})
}

// NewDenylist builds a denylist from rules.
func NewDenylist(rules []DenyRule) Denylist {
	d := Denylist{rules: make(map[string]struct{}, len(rules))}
	for _, r := range rules {
		d.rules[denyKey(r.Source, r.Type)] = struct{}{}
	}
	return d
}

// Blocked reports whether events of this source and type are dropped.
func (d Denylist) Blocked(source, actionType string) bool {
	if len(d.rules) == 0 {
		return false
	}
	if _, ok := d.rules[denyKey(source, actionType)]; ok {
		return true
	}
	_, ok := d.rules[denyKey("", actionType)]
	return ok
}

// Len returns the number of rules.
func (d Denylist) Len() int {
	return len(d.rules)
}

func denyKey(source, actionType string) string {
	return source + "\x00" + actionType
}

type denylistFile struct {
	Denylist []DenyRule `yaml:"denylist"`
}

// LoadDenylist reads rules from a YAML file:
//
//	denylist:
//	  - action_type: mouse_move
//	  - source: browser
//	    action_type: dom_change
func LoadDenylist(path string) (Denylist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Denylist{}, fmt.Errorf("failed to read denylist: %w", err)
	}

	var file denylistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Denylist{}, fmt.Errorf("failed to parse denylist: %w", err)
	}
	for i, r := range file.Denylist {
		if r.Type == "" {
			return Denylist{}, fmt.Errorf("denylist rule %d: action_type is required", i)
		}
	}
	return NewDenylist(file.Denylist), nil
}
