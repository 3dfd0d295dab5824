package minimize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covfuzz/covfuzz/internal/grammar"
	"github.com/covfuzz/covfuzz/internal/rng"
	"github.com/covfuzz/covfuzz/internal/sample"
)

func TestTrimmerShrinksToOneByte(t *testing.T) {
	s := sample.New(make([]byte, 100))
	tr := Trimmer{}
	ctx := tr.CreateContext(s)

	steps := 0
	for tr.MinimizeStep(s, ctx) {
		tr.ReportSuccess(s, ctx)
		steps++
		if steps > 100 {
			t.Fatal("trimmer did not converge")
		}
	}
	assert.Equal(t, 1, s.Size())
}

func TestTrimmerReportFailHalvesStep(t *testing.T) {
	s := sample.New(make([]byte, 20))
	tr := Trimmer{}
	ctx := tr.CreateContext(s).(*trimmerContext)
	assert.True(t, tr.MinimizeStep(s, ctx))
	assert.Equal(t, 4, s.Size()) // 20 - 16
	tr.ReportFail(s, ctx)
	assert.Equal(t, 8, ctx.trimStep)
}

const grammarSrc = `
<root> = <repeat_item>
<item> = x
`

func TestGrammarMinimizerRemovesRepeatItems(t *testing.T) {
	g := grammar.New()
	require.NoError(t, g.Parse(strings.NewReader(grammarSrc)))
	prng := rng.NewSeeded(1)

	var tree *grammar.TreeNode
	for {
		tree = g.GenerateTree("root", prng)
		if tree != nil && len(tree.Children) == 1 && len(tree.Children[0].Children) >= 3 {
			break
		}
	}

	s := sample.New(nil)
	grammar.EncodeSample(tree, s)

	m := GrammarMinimizer{Grammar: g, MinimizationLimit: 1}
	ctx := m.CreateContext(s)

	initialSize := s.Size()
	didStep := false
	for i := 0; i < 50; i++ {
		if !m.MinimizeStep(s, ctx) {
			break
		}
		didStep = true
		m.ReportSuccess(s, ctx)
	}
	assert.True(t, didStep)
	assert.Less(t, s.Size(), initialSize)
}

func TestGrammarMinimizerReportFailRestoresChildren(t *testing.T) {
	g := grammar.New()
	require.NoError(t, g.Parse(strings.NewReader(grammarSrc)))
	prng := rng.NewSeeded(2)

	var tree *grammar.TreeNode
	for {
		tree = g.GenerateTree("root", prng)
		if tree != nil && len(tree.Children) == 1 && len(tree.Children[0].Children) >= 2 {
			break
		}
	}
	before := tree.NumNodes()

	s := sample.New(nil)
	grammar.EncodeSample(tree, s)

	m := GrammarMinimizer{Grammar: g, MinimizationLimit: 0}
	ctx := m.CreateContext(s)
	require.True(t, m.MinimizeStep(s, ctx))
	m.ReportFail(s, ctx)

	gctx := ctx.(*grammarMinimizerContext)
	assert.Equal(t, before, gctx.tree.NumNodes())
}
