// Package planner turns a host set into the fixed batch sequence a rollout
// executes. Planning is a pure function of its inputs so rollout shapes can
// be asserted in tests without touching any transport.
package planner

import (
	"github.com/fleetroll/fleetroll/internal/model"
)

// Plan partitions hosts by group, preserving input order within each group,
// and chunks every group into batches of at most policy.BatchSize. Groups
// are ordered by first appearance in the input and a group's batches are
// emitted back to back, so a whole service group is validated before the
// rollout crosses into the next one. Interleaving groups would be a
// different planner; this one never mixes groups in a batch.
func Plan(hosts []*model.Host, policy model.RolloutPolicy) ([]model.Batch, error) {
	if len(hosts) == 0 {
		return nil, &model.ConfigError{Field: "hosts", Reason: "must not be empty"}
	}
	if policy.BatchSize < 1 {
		return nil, &model.ConfigError{Field: "batch_size", Reason: "must be at least 1"}
	}

	var order []string
	byGroup := make(map[string][]*model.Host)
	for _, h := range hosts {
		g := h.Group()
		if _, seen := byGroup[g]; !seen {
			order = append(order, g)
		}
		byGroup[g] = append(byGroup[g], h)
	}

	var batches []model.Batch
	for _, g := range order {
		members := byGroup[g]
		for start := 0; start < len(members); start += policy.BatchSize {
			end := start + policy.BatchSize
			if end > len(members) {
				end = len(members)
			}
			batches = append(batches, model.Batch{
				Index: len(batches),
				Group: g,
				Hosts: members[start:end],
			})
		}
	}
	return batches, nil
}
