package validator

import (
	"fmt"

	"github.com/raymondclowe/ttslo-sub000/internal/models"
)

// checkChains validates the linked_order_id graph over the whole batch and
// returns diagnostics keyed by config id, so the caller can emit them at
// each config's position in the output.
//
// Rules: self-reference is an ERROR; any cycle is an ERROR on every edge
// in the cycle; a dangling reference is an ERROR; a chain longer than
// longChainHops edges is a WARNING on the chain's head.
func checkChains(configs []models.Configuration) map[string][]models.Diagnostic {
	diags := make(map[string][]models.Diagnostic)
	add := func(id, field string, sev models.Severity, format string, args ...any) {
		diags[id] = append(diags[id], models.Diagnostic{
			ConfigID: id, Field: field, Severity: sev, Message: fmt.Sprintf(format, args...),
		})
	}

	byID := make(map[string]*models.Configuration, len(configs))
	for i := range configs {
		c := &configs[i]
		if c.ID != "" {
			if _, dup := byID[c.ID]; !dup {
				byID[c.ID] = c
			}
		}
	}

	// next holds the usable edges: self-references and dangling links are
	// reported here and excluded from traversal.
	next := make(map[string]string)
	hasParent := make(map[string]bool)
	for i := range configs {
		c := &configs[i]
		if c.LinkedOrderID == "" {
			continue
		}
		if c.LinkedOrderID == c.ID {
			add(c.ID, "linked_order_id", models.SeverityError,
				"linked_order_id refers to the configuration itself")
			continue
		}
		if _, ok := byID[c.LinkedOrderID]; !ok {
			add(c.ID, "linked_order_id", models.SeverityError,
				"linked_order_id refers to unknown configuration %q", c.LinkedOrderID)
			continue
		}
		next[c.ID] = c.LinkedOrderID
		hasParent[c.LinkedOrderID] = true
	}

	// Cycle detection: DFS with a visited set and an in-progress path.
	// A node revisited while on the current path closes a cycle.
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make(map[string]int)
	inCycle := make(map[string]bool)

	var walk func(id string, path []string)
	walk = func(id string, path []string) {
		color[id] = grey
		path = append(path, id)
		if child, ok := next[id]; ok {
			switch color[child] {
			case white:
				walk(child, path)
			case grey:
				// Every edge from the child's position on the path back
				// around is part of the cycle.
				start := 0
				for i, p := range path {
					if p == child {
						start = i
						break
					}
				}
				for _, member := range path[start:] {
					if !inCycle[member] {
						inCycle[member] = true
						add(member, "linked_order_id", models.SeverityError,
							"circular reference in linked order chain")
					}
				}
			}
		}
		color[id] = black
	}
	for id := range next {
		if color[id] == white {
			walk(id, nil)
		}
	}

	// Chain length: measured from each head (a node with no parent),
	// counting edges. Cycles are already reported, so walks are bounded by
	// a visited set.
	for id := range next {
		if hasParent[id] {
			continue
		}
		hops := 0
		seen := map[string]bool{id: true}
		for cur := id; ; {
			child, ok := next[cur]
			if !ok || seen[child] {
				break
			}
			seen[child] = true
			hops++
			cur = child
		}
		if hops > longChainHops {
			add(id, "linked_order_id", models.SeverityWarning,
				"linked order chain is %d hops long; chains beyond %d are hard to reason about", hops, longChainHops)
		}
	}

	return diags
}
