// Package inventory loads the host inventory a rollout operates on.
package inventory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fleetroll/fleetroll/internal/model"
)

// file is the on-disk inventory layout. Hosts are a list, not a map, so
// the file's ordering carries through to batch planning.
type file struct {
	Hosts  []hostEntry           `yaml:"hosts"`
	Groups map[string]groupEntry `yaml:"groups"`
}

type hostEntry struct {
	ID     string            `yaml:"id"`
	Groups []string          `yaml:"groups"`
	Conn   map[string]string `yaml:"conn"`
}

type groupEntry struct {
	Conn map[string]string `yaml:"conn"`
}

// Load reads and parses an inventory file.
func Load(path string) ([]*model.Host, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML inventory data into hosts in file order. Group-level
// connection variables act as defaults: a host inherits them from each of
// its groups in listed order, with its own variables taking precedence.
func Parse(data []byte) ([]*model.Host, error) {
	var inv file
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}

	if len(inv.Hosts) == 0 {
		return nil, &model.ConfigError{Field: "hosts", Reason: "inventory defines no hosts"}
	}

	seen := make(map[string]bool, len(inv.Hosts))
	hosts := make([]*model.Host, 0, len(inv.Hosts))
	for i, entry := range inv.Hosts {
		if entry.ID == "" {
			return nil, &model.ConfigError{
				Field:  fmt.Sprintf("hosts[%d].id", i),
				Reason: "must not be empty",
			}
		}
		if seen[entry.ID] {
			return nil, &model.ConfigError{
				Field:  fmt.Sprintf("hosts[%d].id", i),
				Reason: fmt.Sprintf("duplicate host %q", entry.ID),
			}
		}
		seen[entry.ID] = true

		conn := make(map[string]string)
		for _, group := range entry.Groups {
			for k, v := range inv.Groups[group].Conn {
				conn[k] = v
			}
		}
		for k, v := range entry.Conn {
			conn[k] = v
		}
		if len(conn) == 0 {
			conn = nil
		}

		hosts = append(hosts, &model.Host{
			ID:     entry.ID,
			Groups: append([]string(nil), entry.Groups...),
			Conn:   conn,
		})
	}

	return hosts, nil
}

// FilterGroups keeps the hosts carrying at least one of the given group
// tags, preserving order. An empty filter keeps everything.
func FilterGroups(hosts []*model.Host, groups []string) []*model.Host {
	if len(groups) == 0 {
		return hosts
	}

	want := make(map[string]bool, len(groups))
	for _, g := range groups {
		want[g] = true
	}

	var filtered []*model.Host
	for _, h := range hosts {
		for _, g := range h.Groups {
			if want[g] {
				filtered = append(filtered, h)
				break
			}
		}
	}
	return filtered
}
