package minimize

import (
	"github.com/covfuzz/covfuzz/internal/grammar"
	"github.com/covfuzz/covfuzz/internal/sample"
	"github.com/covfuzz/covfuzz/internal/xlog"
)

// GrammarMinimizer shrinks a grammar-encoded sample structurally: it
// drops one repetition at a time from <repeat_X> nodes, or empties an
// optional (can-be-empty) node's children in one step, walking candidates
// bottom-up so the smallest, most local shrink is always tried first.
type GrammarMinimizer struct {
	Grammar *grammar.Grammar
	// MinimizationLimit stops shrinking once the tree has this many nodes
	// left, so minimization never collapses a sample to nothing.
	MinimizationLimit int
}

type grammarMinimizerContext struct {
	tree                    *grammar.TreeNode
	minimizationCandidates  []*grammar.TreeNode
	currentCandidate        int
	currentCandidatePos     int
	removedChildren         []*grammar.TreeNode
	numNodesInitial         int
	numNodesRemoved         int
}

func (m GrammarMinimizer) CreateContext(s *sample.Sample) Context {
	tree, err := grammar.DecodeSample(m.Grammar, s)
	if err != nil {
		xlog.Fatalf("grammar minimizer: decoding sample: %v", err)
	}

	ctx := &grammarMinimizerContext{tree: tree, currentCandidate: -1}
	collectMinimizationCandidates(tree, ctx)
	ctx.currentCandidate = len(ctx.minimizationCandidates) - 1
	if ctx.currentCandidate >= 0 {
		ctx.currentCandidatePos = len(ctx.minimizationCandidates[ctx.currentCandidate].Children)
	}
	ctx.numNodesInitial = tree.NumNodes()
	return ctx
}

func collectMinimizationCandidates(tree *grammar.TreeNode, ctx *grammarMinimizerContext) {
	if tree.Type == grammar.StringType {
		return
	}
	symbol := tree.Symbol
	if (symbol.CanBeEmpty || symbol.Repeat) && len(tree.Children) > 0 {
		ctx.minimizationCandidates = append(ctx.minimizationCandidates, tree)
	}
	for _, c := range tree.Children {
		collectMinimizationCandidates(c, ctx)
	}
}

func (m GrammarMinimizer) MinimizeStep(s *sample.Sample, ctx Context) bool {
	c := ctx.(*grammarMinimizerContext)
	if c.numNodesInitial-c.numNodesRemoved <= m.MinimizationLimit {
		return false
	}
	if c.currentCandidate < 0 {
		return false
	}

	currentNode := c.minimizationCandidates[c.currentCandidate]
	for c.currentCandidatePos == 0 {
		c.currentCandidate--
		if c.currentCandidate < 0 {
			return false
		}
		currentNode = c.minimizationCandidates[c.currentCandidate]
		c.currentCandidatePos = len(currentNode.Children)
	}

	c.removedChildren = nil

	switch {
	case currentNode.Symbol.Repeat:
		c.currentCandidatePos--
		idx := c.currentCandidatePos
		c.removedChildren = append(c.removedChildren, currentNode.Children[idx])
		currentNode.Children = append(currentNode.Children[:idx:idx], currentNode.Children[idx+1:]...)
	case currentNode.Symbol.CanBeEmpty:
		c.removedChildren = append(c.removedChildren, currentNode.Children...)
		currentNode.Children = nil
		c.currentCandidatePos = 0
	}

	grammar.EncodeSample(c.tree, s)
	return true
}

func (GrammarMinimizer) ReportSuccess(_ *sample.Sample, ctx Context) {
	c := ctx.(*grammarMinimizerContext)
	for _, child := range c.removedChildren {
		c.numNodesRemoved += child.NumNodes()
	}
	c.removedChildren = nil
}

func (GrammarMinimizer) ReportFail(_ *sample.Sample, ctx Context) {
	c := ctx.(*grammarMinimizerContext)
	currentNode := c.minimizationCandidates[c.currentCandidate]
	pos := c.currentCandidatePos
	rebuilt := make([]*grammar.TreeNode, 0, len(currentNode.Children)+len(c.removedChildren))
	rebuilt = append(rebuilt, currentNode.Children[:pos]...)
	rebuilt = append(rebuilt, c.removedChildren...)
	rebuilt = append(rebuilt, currentNode.Children[pos:]...)
	currentNode.Children = rebuilt
	c.removedChildren = nil
}
