package grammar

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covfuzz/covfuzz/internal/rng"
	"github.com/covfuzz/covfuzz/internal/sample"
)

const testGrammarSrc = `
<root> = <greeting><space><name>
<greeting> = Hello
<greeting> = Hi
<name> = World
<name> = <repeat_letter>
<letter> = a
<letter> = b
`

func mustParse(t *testing.T) *Grammar {
	t.Helper()
	g := New()
	require.NoError(t, g.Parse(strings.NewReader(testGrammarSrc)))
	return g
}

func TestParseBuildsSymbolTable(t *testing.T) {
	g := mustParse(t)
	assert.NotNil(t, g.GetSymbol("root"))
	assert.NotNil(t, g.GetSymbol("greeting"))
	letter := g.GetSymbol("letter")
	require.NotNil(t, letter)
	assert.True(t, letter.Used)

	repeatLetter := g.GetSymbol("repeat_letter")
	require.NotNil(t, repeatLetter)
	assert.True(t, repeatLetter.Repeat)
	assert.Same(t, letter, repeatLetter.RepeatSymbol)
}

func TestGenerateTreeProducesValidString(t *testing.T) {
	g := mustParse(t)
	prng := rng.NewSeeded(1)
	for i := 0; i < 20; i++ {
		tree := g.GenerateTree("root", prng)
		require.NotNil(t, tree)
		rendered := ToString(tree)
		assert.True(t, strings.HasPrefix(rendered, "Hello ") || strings.HasPrefix(rendered, "Hi "))
	}
}

func TestEncodeDecodeSampleRoundTrip(t *testing.T) {
	g := mustParse(t)
	prng := rng.NewSeeded(2)
	tree := g.GenerateTree("root", prng)
	require.NotNil(t, tree)

	s := sample.New(nil)
	EncodeSample(tree, s)

	decoded, err := DecodeSample(g, s)
	require.NoError(t, err)
	assert.Equal(t, ToString(tree), ToString(decoded))
	assert.Equal(t, tree.NumNodes(), decoded.NumNodes())
}

func TestConstantAndHexLiterals(t *testing.T) {
	g := New()
	src := "<root> = <lt>abc<gt><0x0a>\n"
	require.NoError(t, g.Parse(strings.NewReader(src)))
	prng := rng.NewSeeded(3)
	tree := g.GenerateTree("root", prng)
	require.NotNil(t, tree)
	assert.Equal(t, "<abc>\n", ToString(tree))
}

func TestMutatorGenerateAndMutate(t *testing.T) {
	g := mustParse(t)
	m := NewMutator(g)
	prng := rng.NewSeeded(4)

	assert.True(t, m.CanGenerate())
	out := sample.New(nil)
	assert.True(t, m.Generate(out, prng))
	assert.NotZero(t, out.Size())

	ctx := m.CreateSampleContext(out)
	mutated := sample.New(nil)
	assert.True(t, m.Mutate(mutated, prng, nil, ctx))
	assert.NotZero(t, mutated.Size())
}
