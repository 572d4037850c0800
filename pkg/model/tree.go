// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"math"
	"math/rand"
	"sort"
)

// node is one entry of a flattened decision tree. Leaves have Left == -1
// and carry the class distribution of the samples that reached them.
type node struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t"`
	Left      int       `json:"l"`
	Right     int       `json:"r"`
	Value     []float64 `json:"v,omitempty"`
}

// Tree is a CART classification tree grown with Gini impurity.
type Tree struct {
	Nodes []node `json:"nodes"`
}

type treeBuilder struct {
	data        Dataset
	maxDepth    int
	maxFeatures int
	nClasses    int
	rng         *rand.Rand
	nodes       []node
}

func growTree(data Dataset, idx []int, maxDepth, maxFeatures, nClasses int, rng *rand.Rand) Tree {
	b := &treeBuilder{
		data:        data,
		maxDepth:    maxDepth,
		maxFeatures: maxFeatures,
		nClasses:    nClasses,
		rng:         rng,
	}
	b.build(idx, 0)
	return Tree{Nodes: b.nodes}
}

func (b *treeBuilder) build(idx []int, depth int) int {
	id := len(b.nodes)
	counts := b.classCounts(idx)
	b.nodes = append(b.nodes, node{Left: -1, Right: -1})

	if len(idx) < 2 || isPure(counts) || (b.maxDepth > 0 && depth >= b.maxDepth) {
		b.nodes[id].Value = distribution(counts)
		return id
	}

	feature, threshold, ok := b.bestSplit(idx, counts)
	if !ok {
		b.nodes[id].Value = distribution(counts)
		return id
	}

	var left, right []int
	for _, i := range idx {
		if b.data.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[id] = node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return id
}

// bestSplit draws maxFeatures candidate features and keeps drawing past
// that budget only while no valid split has been found.
func (b *treeBuilder) bestSplit(idx []int, parent []int) (int, float64, bool) {
	nFeatures := len(b.data.X[idx[0]])
	order := b.rng.Perm(nFeatures)

	bestFeature, bestThreshold := -1, 0.0
	bestScore := gini(parent, len(idx))
	for visited, f := range order {
		if visited >= b.maxFeatures && bestFeature >= 0 {
			break
		}
		threshold, score, ok := b.splitOn(idx, f)
		if ok && score < bestScore-1e-12 {
			bestFeature, bestThreshold, bestScore = f, threshold, score
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

// splitOn returns the threshold on feature f minimising the weighted Gini
// impurity of the two children.
func (b *treeBuilder) splitOn(idx []int, f int) (float64, float64, bool) {
	sorted := append([]int(nil), idx...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return b.data.X[sorted[i]][f] < b.data.X[sorted[j]][f]
	})

	left := make([]int, b.nClasses)
	right := b.classCounts(sorted)
	n := len(sorted)

	bestThreshold, bestScore, found := 0.0, math.Inf(1), false
	for i := 0; i < n-1; i++ {
		y := b.data.Y[sorted[i]]
		left[y]++
		right[y]--

		lo, hi := b.data.X[sorted[i]][f], b.data.X[sorted[i+1]][f]
		if lo == hi {
			continue
		}
		nl, nr := i+1, n-i-1
		score := (float64(nl)*gini(left, nl) + float64(nr)*gini(right, nr)) / float64(n)
		if score < bestScore {
			bestThreshold, bestScore, found = (lo+hi)/2, score, true
		}
	}
	return bestThreshold, bestScore, found
}

func (b *treeBuilder) classCounts(idx []int) []int {
	counts := make([]int, b.nClasses)
	for _, i := range idx {
		counts[b.data.Y[i]]++
	}
	return counts
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		impurity -= p * p
	}
	return impurity
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func distribution(counts []int) []float64 {
	total := 0
	for _, c := range counts {
		total += c
	}
	dist := make([]float64, len(counts))
	if total == 0 {
		return dist
	}
	for i, c := range counts {
		dist[i] = float64(c) / float64(total)
	}
	return dist
}

// leaf walks x down the tree and returns the reached class distribution.
func (t Tree) leaf(x []float64) []float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}
