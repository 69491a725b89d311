// Package artifact defines the serialized trained-model format and the
// storage backends that load it. An artifact pins the feature schema its
// constituent models were trained against and the reference feature
// distributions used by drift monitoring.
package artifact

import (
	"errors"
	"fmt"
)

// Constituent model keys within an artifact. A and B are gradient-boosted
// tree ensembles, C is a random forest.
const (
	ModelGBTA = "gbt_a"
	ModelGBTB = "gbt_b"
	ModelRFC  = "rf_c"
)

const (
	KindGBT = "gbt"
	KindRF  = "rf"
)

// Histogram is a binned reference distribution for one feature, captured at
// training time. Proportions sum to 1 over len(Edges)-1 bins.
type Histogram struct {
	Edges       []float64 `json:"edges"`
	Proportions []float64 `json:"proportions"`
}

// TreeNode is one node of a regression tree in a flat node array. Leaf
// nodes carry Value; internal nodes route on Feature vs Threshold, with
// DefaultLeft deciding the branch for missing feature values.
type TreeNode struct {
	Leaf        bool    `json:"leaf"`
	Value       float64 `json:"value,omitempty"`
	Feature     int     `json:"feature,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
	Left        int     `json:"left,omitempty"`
	Right       int     `json:"right,omitempty"`
	DefaultLeft bool    `json:"default_left,omitempty"`
}

type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// Score walks the tree for one feature vector. Missing features follow the
// node's default branch.
func (t Tree) Score(values []float64, missing []bool) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if missing[n.Feature] {
			if n.DefaultLeft {
				i = n.Left
			} else {
				i = n.Right
			}
			continue
		}
		if values[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// validate checks node references so Score always terminates: internal
// nodes must point forward within the node array, and feature indices must
// fit the schema.
func (t Tree) validate(featureCount int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Leaf {
			continue
		}
		if n.Feature < 0 || n.Feature >= featureCount {
			return fmt.Errorf("node %d: feature index %d out of range", i, n.Feature)
		}
		if n.Left <= i || n.Left >= len(t.Nodes) {
			return fmt.Errorf("node %d: left child %d out of range", i, n.Left)
		}
		if n.Right <= i || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d: right child %d out of range", i, n.Right)
		}
	}
	return nil
}

// TargetModel is the tree ensemble for one predicted target.
type TargetModel struct {
	Base      float64 `json:"base"`
	Shrinkage float64 `json:"shrinkage,omitempty"`
	Trees     []Tree  `json:"trees"`
}

// Model is one constituent of the serving ensemble.
type Model struct {
	Kind    string                 `json:"kind"`
	Targets map[string]TargetModel `json:"targets"`
}

// Predict scores one target for one feature vector. GBT models sum tree
// outputs scaled by shrinkage on top of the base score; RF models average
// tree outputs.
func (m Model) Predict(target string, values []float64, missing []bool) (float64, error) {
	tm, ok := m.Targets[target]
	if !ok {
		return 0, fmt.Errorf("model has no target %q", target)
	}
	var sum float64
	for _, tree := range tm.Trees {
		sum += tree.Score(values, missing)
	}
	switch m.Kind {
	case KindRF:
		if len(tm.Trees) == 0 {
			return tm.Base, nil
		}
		return sum / float64(len(tm.Trees)), nil
	case KindGBT:
		shrink := tm.Shrinkage
		if shrink == 0 {
			shrink = 1
		}
		return tm.Base + shrink*sum, nil
	default:
		return 0, fmt.Errorf("unknown model kind %q", m.Kind)
	}
}

// Artifact is one trained model version's full serving payload.
type Artifact struct {
	RunID     string               `json:"run_id"`
	Schema    []string             `json:"schema"`
	Reference map[string]Histogram `json:"reference"`
	Models    map[string]Model     `json:"models"`
}

// Validate checks the artifact has all three constituents, a non-empty
// schema, and well-formed trees before it is allowed to serve.
func (a *Artifact) Validate() error {
	if len(a.Schema) == 0 {
		return fmt.Errorf("artifact %s: empty feature schema", a.RunID)
	}
	for _, key := range []string{ModelGBTA, ModelGBTB, ModelRFC} {
		m, ok := a.Models[key]
		if !ok {
			return fmt.Errorf("artifact %s: missing constituent %s", a.RunID, key)
		}
		if len(m.Targets) == 0 {
			return fmt.Errorf("artifact %s: constituent %s has no targets", a.RunID, key)
		}
		for target, tm := range m.Targets {
			for i, tree := range tm.Trees {
				if err := tree.validate(len(a.Schema)); err != nil {
					return fmt.Errorf("artifact %s: %s/%s tree %d: %w", a.RunID, key, target, i, err)
				}
			}
		}
	}
	return nil
}
