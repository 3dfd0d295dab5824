package grammar

import (
	"sync"

	"github.com/covfuzz/covfuzz/internal/mutate"
	"github.com/covfuzz/covfuzz/internal/rng"
	"github.com/covfuzz/covfuzz/internal/sample"
	"github.com/covfuzz/covfuzz/internal/xlog"
)

// mutatorRepeatProb is the chance, after a successful mutation step, that
// the mutator applies another step to the same sample before returning.
// Distinct from RepeatProbability, which governs how many children a
// <repeat_X> chain grows by in a single insertion.
const mutatorRepeatProb = 0.5

// regenerateProbability is the chance Mutate discards the input sample
// entirely and generates a fresh tree from "root" instead of mutating.
const regenerateProbability = 0.1

type mutationCandidate struct {
	node  *TreeNode
	depth int
	p     float64
}

// Mutator implements mutate.Mutator over a Grammar: instead of touching
// raw bytes, it edits the parsed rule-expansion tree and re-flattens it.
// It keeps a running pool of previously-accepted trees to splice
// fragments from, mirroring the trie's role for the byte mutators.
type Mutator struct {
	mutate.Base
	Grammar *Grammar

	mu               sync.Mutex
	interestingTrees []*TreeNode
}

// NewMutator returns a Mutator over g.
func NewMutator(g *Grammar) *Mutator {
	return &Mutator{Grammar: g}
}

type sampleContext struct {
	tree *TreeNode
}

// CreateSampleContext decodes s into a tree and registers it as a splice
// donor for future mutations, matching the original engine's comment that
// CreateSampleContext is only ever invoked for samples the scheduler has
// already judged interesting enough to keep.
func (m *Mutator) CreateSampleContext(s *sample.Sample) mutate.Context {
	tree, err := DecodeSample(m.Grammar, s)
	if err != nil {
		xlog.Fatalf("grammar: decoding accepted sample: %v", err)
	}
	m.mu.Lock()
	m.interestingTrees = append(m.interestingTrees, tree)
	m.mu.Unlock()
	return &sampleContext{tree: tree}
}

// CanGenerate reports that this mutator can synthesize fresh samples from
// the grammar alone.
func (m *Mutator) CanGenerate() bool { return true }

// Generate expands "root" into a fresh sample, retrying past any
// MaxDepth failures.
func (m *Mutator) Generate(out *sample.Sample, prng rng.Source) bool {
	tree := m.generateTreeNoFail("root", prng)
	EncodeSample(tree, out)
	return true
}

func (m *Mutator) generateTreeNoFail(symbolName string, prng rng.Source) *TreeNode {
	for i := 0; ; i++ {
		if i > 0 && i%100 == 0 {
			xlog.Logf(0, "grammar: repeatedly failing to generate sample from grammar")
		}
		if tree := m.Grammar.GenerateTree(symbolName, prng); tree != nil {
			return tree
		}
	}
}

// Mutate writes a mutated sample into inoutSample and leaves ctx's tree
// unchanged: with small probability it regenerates the whole sample from
// scratch, otherwise it works on a clone of the
// tree through up to 100 rounds of node-replace/splice/repeat mutations,
// stopping early once a round succeeds and a coin flip says not to
// continue.
func (m *Mutator) Mutate(inoutSample *sample.Sample, prng rng.Source, _ []*sample.Sample, ctx mutate.Context) bool {
	sc := ctx.(*sampleContext)

	if prng.Real() < regenerateProbability {
		if generated := m.Grammar.GenerateTree("root", prng); generated != nil {
			EncodeSample(generated, inoutSample)
			return true
		}
	}

	newSample := sc.tree.Clone()

	success := false
	for i := 0; i < 100; i++ {
		candidates := getMutationCandidates(newSample, nil, 0, MaxDepth, 1, false)
		repeatCandidates := getMutationCandidates(newSample, nil, 0, MaxDepth, 1, true)

		var ok bool
		switch r := prng.Real(); {
		case r < 0.3:
			ok = m.replaceNode(candidates, prng)
		case r < 0.5:
			ok = m.splice(candidates, prng)
		case r < 0.8:
			ok = m.repeatMutator(repeatCandidates, prng)
		default:
			ok = m.repeatSplice(repeatCandidates, prng)
		}
		if ok {
			success = true
			if prng.Real() > mutatorRepeatProb {
				break
			}
		}
	}

	if !success {
		xlog.Logf(0, "grammar: repeatedly failing to mutate a sample, check grammar")
	}

	EncodeSample(newSample, inoutSample)
	return true
}

func getMutationCandidates(node *TreeNode, filter *Symbol, depth, maxDepth int, p float64, justRepeat bool) []mutationCandidate {
	var candidates []mutationCandidate
	var walk func(n *TreeNode, depth int, p float64)
	walk = func(n *TreeNode, depth int, p float64) {
		if depth > maxDepth || n.Type == StringType {
			return
		}
		if filter == nil || n.Symbol == filter {
			if !justRepeat || n.Symbol.Repeat {
				candidates = append(candidates, mutationCandidate{node: n, depth: depth, p: p})
			}
		}
		for _, c := range n.Children {
			if c.Type == StringType {
				continue
			}
			walk(c, depth+1, p/1.4)
		}
	}
	walk(node, depth, p)
	return candidates
}

func getNodeToMutate(candidates []mutationCandidate, prng rng.Source) *mutationCandidate {
	if len(candidates) == 0 {
		return nil
	}
	var total float64
	for _, c := range candidates {
		total += c.p
	}
	if total == 0 {
		return nil
	}
	target := prng.Real() * total
	var sum float64
	for i := range candidates {
		sum += candidates[i].p
		if target < sum || i == len(candidates)-1 {
			return &candidates[i]
		}
	}
	return nil
}

func (m *Mutator) replaceNode(candidates []mutationCandidate, prng rng.Source) bool {
	cand := getNodeToMutate(candidates, prng)
	if cand == nil {
		return false
	}
	replacement := m.Grammar.generateTree(cand.node.Symbol, prng, cand.depth)
	if replacement == nil {
		return false
	}
	cand.node.Replace(replacement)
	return true
}

// randomInterestingTree returns a splice donor tree, or nil if none have
// been registered yet.
func (m *Mutator) randomInterestingTree(prng rng.Source) *TreeNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.interestingTrees) == 0 {
		return nil
	}
	return m.interestingTrees[prng.Range(0, int64(len(m.interestingTrees)-1))]
}

func (m *Mutator) splice(candidates []mutationCandidate, prng rng.Source) bool {
	cand := getNodeToMutate(candidates, prng)
	if cand == nil {
		return false
	}
	other := m.randomInterestingTree(prng)
	if other == nil {
		return false
	}
	spliceCandidates := getMutationCandidates(other, cand.node.Symbol, 0, cand.depth, 1, false)
	otherCand := getNodeToMutate(spliceCandidates, prng)
	if otherCand == nil {
		return false
	}
	// The original aliases the donor subtree directly and transfers
	// ownership; here we clone it so the splice can't retroactively
	// mutate a tree still held in interestingTrees.
	cand.node.Replace(otherCand.node.Clone())
	return true
}

func (m *Mutator) repeatMutator(candidates []mutationCandidate, prng rng.Source) bool {
	cand := getNodeToMutate(candidates, prng)
	if cand == nil {
		return false
	}
	node := cand.node

	pos := 0
	if len(node.Children) > 0 {
		pos = int(prng.Range(0, int64(len(node.Children)-1)))
	}

	doDelete, doInsert := false, false
	switch r := prng.Real(); {
	case r < 0.2:
		doDelete = true
	case r < 0.4:
		doDelete, doInsert = true, true
	default:
		doInsert = true
	}

	var newChildren []*TreeNode
	if doInsert {
		for {
			if child := m.Grammar.generateTree(node.Symbol.RepeatSymbol, prng, cand.depth+1); child != nil {
				newChildren = append(newChildren, child)
			}
			if prng.Real() > RepeatProbability {
				break
			}
		}
		if len(newChildren) == 0 {
			return false
		}
	}

	if doDelete {
		for pos < len(node.Children) {
			node.Children = append(node.Children[:pos], node.Children[pos+1:]...)
			if prng.Real() > RepeatProbability {
				break
			}
		}
	}

	if doInsert {
		insertAt := pos
		if insertAt < len(node.Children) {
			insertAt++
		}
		tail := append([]*TreeNode{}, node.Children[insertAt:]...)
		node.Children = append(node.Children[:insertAt], append(newChildren, tail...)...)
	}

	return true
}

func (m *Mutator) repeatSplice(candidates []mutationCandidate, prng rng.Source) bool {
	cand := getNodeToMutate(candidates, prng)
	if cand == nil {
		return false
	}
	node := cand.node

	other := m.randomInterestingTree(prng)
	if other == nil {
		return false
	}
	spliceCandidates := getMutationCandidates(other, node.Symbol, 0, cand.depth, 1, true)
	otherCand := getNodeToMutate(spliceCandidates, prng)
	if otherCand == nil {
		return false
	}
	otherNode := otherCand.node

	pos := 0
	if len(node.Children) > 0 {
		pos = int(prng.Range(0, int64(len(node.Children)-1)))
	}
	otherPos := 0
	if len(otherNode.Children) > 0 {
		otherPos = int(prng.Range(0, int64(len(otherNode.Children)-1)))
	}

	if prng.Real() < 0.4 {
		for pos < len(node.Children) {
			node.Children = append(node.Children[:pos], node.Children[pos+1:]...)
			if prng.Real() > RepeatProbability {
				break
			}
		}
	}

	insertAt := pos
	if insertAt < len(node.Children) {
		insertAt++
	}
	var toInsert []*TreeNode
	for i := otherPos; i < len(otherNode.Children); i++ {
		toInsert = append(toInsert, otherNode.Children[i].Clone())
		if prng.Real() > RepeatProbability {
			break
		}
	}
	if len(toInsert) == 0 {
		return true
	}
	tail := append([]*TreeNode{}, node.Children[insertAt:]...)
	node.Children = append(node.Children[:insertAt], append(toInsert, tail...)...)
	return true
}
