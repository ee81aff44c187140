package challenge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func TestSliderCheck(t *testing.T) {
	c := Challenge{Kind: KindSlider, Slider: &SliderChallenge{Target: 50, Tolerance: SliderTolerance}}

	assert.True(t, c.Check(Response{Value: intPtr(50)}))
	assert.True(t, c.Check(Response{Value: intPtr(44)}))
	assert.True(t, c.Check(Response{Value: intPtr(55)}))
	assert.False(t, c.Check(Response{Value: intPtr(43)}))
	assert.False(t, c.Check(Response{Value: intPtr(56)}))
	assert.False(t, c.Check(Response{}))
}

func TestMathCheck(t *testing.T) {
	c := Challenge{Kind: KindMath, Math: &MathChallenge{Question: "7 × 8 = ?", Answer: 56}}

	assert.True(t, c.Check(Response{Answer: floatPtr(56)}))
	assert.False(t, c.Check(Response{Answer: floatPtr(55)}))
	assert.False(t, c.Check(Response{Answer: floatPtr(56.5)}))
	assert.False(t, c.Check(Response{Value: intPtr(56)}))
}

func TestImageSetCheck(t *testing.T) {
	c := Challenge{Kind: KindImageSet, ImageSet: &ImageSetChallenge{
		Instruction:    "Select all the animals",
		Options:        []string{"a", "b", "c", "d"},
		CorrectIndices: []int{0, 2},
	}}

	assert.True(t, c.Check(Response{Selected: []int{0, 2}}))
	assert.True(t, c.Check(Response{Selected: []int{2, 0}}), "order is irrelevant")
	assert.False(t, c.Check(Response{Selected: []int{0}}), "no partial credit")
	assert.False(t, c.Check(Response{Selected: []int{0, 1, 2}}))
	assert.False(t, c.Check(Response{}))
}

func TestUnknownKindNeverVerifies(t *testing.T) {
	assert.False(t, Challenge{Kind: "riddle"}.Check(Response{Value: intPtr(1)}))
	assert.False(t, Challenge{Kind: KindSlider}.Check(Response{Value: intPtr(1)}))
}

func TestPublicViewHidesAnswers(t *testing.T) {
	m := Challenge{Kind: KindMath, Math: &MathChallenge{Question: "3 + 4 = ?", Answer: 7}}
	pv := m.PublicView()
	assert.Equal(t, "3 + 4 = ?", pv.Question)
	assert.Nil(t, pv.Target)

	img := Challenge{Kind: KindImageSet, ImageSet: &ImageSetChallenge{
		Instruction: "Pick", Options: []string{"x", "y"}, CorrectIndices: []int{1},
	}}
	ipv := img.PublicView()
	assert.Equal(t, []string{"x", "y"}, ipv.Options)
	assert.Equal(t, "Pick", ipv.Instruction)

	s := Challenge{Kind: KindSlider, Slider: &SliderChallenge{Target: 30, Tolerance: 5}}
	spv := s.PublicView()
	require.NotNil(t, spv.Target)
	assert.Equal(t, 30, *spv.Target)
	assert.Equal(t, 5, spv.Tolerance)
}

func TestGenerator_MathRanges(t *testing.T) {
	g := NewGenerator(1)
	for i := 0; i < 500; i++ {
		c := g.NewMath()
		require.Equal(t, KindMath, c.Kind)
		var a, b int
		var op string
		_, err := fmt.Sscanf(c.Math.Question, "%d %s %d = ?", &a, &op, &b)
		require.NoError(t, err, c.Math.Question)
		switch op {
		case "+":
			assert.True(t, a >= 1 && a <= 20 && b >= 1 && b <= 20, c.Math.Question)
			assert.Equal(t, a+b, c.Math.Answer)
		case "-":
			assert.True(t, a >= 10 && a <= 39, c.Math.Question)
			assert.True(t, b >= 1 && b < a, c.Math.Question)
			assert.Equal(t, a-b, c.Math.Answer)
		case "×":
			assert.True(t, a >= 1 && a <= 12 && b >= 1 && b <= 12, c.Math.Question)
			assert.Equal(t, a*b, c.Math.Answer)
		default:
			t.Fatalf("unexpected operator %q", op)
		}
	}
}

func TestGenerator_SliderRange(t *testing.T) {
	g := NewGenerator(2)
	for i := 0; i < 500; i++ {
		c := g.NewSlider()
		assert.GreaterOrEqual(t, c.Slider.Target, 10)
		assert.LessOrEqual(t, c.Slider.Target, 90)
		assert.Equal(t, SliderTolerance, c.Slider.Tolerance)
	}
}

func TestGenerator_ImageSetShuffleKeepsAnswers(t *testing.T) {
	g := NewGenerator(3)
	for i := 0; i < 100; i++ {
		c := g.NewImageSet()
		var tpl *imageTemplate
		for j := range imageTemplates {
			if imageTemplates[j].instruction == c.ImageSet.Instruction {
				tpl = &imageTemplates[j]
			}
		}
		require.NotNil(t, tpl)
		want := map[string]bool{}
		for _, idx := range tpl.correct {
			want[tpl.options[idx]] = true
		}
		got := map[string]bool{}
		for _, idx := range c.ImageSet.CorrectIndices {
			got[c.ImageSet.Options[idx]] = true
		}
		assert.Equal(t, want, got)
		assert.ElementsMatch(t, tpl.options, c.ImageSet.Options)
	}
}

func TestGenerator_ProducesEveryKind(t *testing.T) {
	g := NewGenerator(4)
	seen := map[Kind]bool{}
	for i := 0; i < 100; i++ {
		seen[g.New().Kind] = true
	}
	assert.True(t, seen[KindMath])
	assert.True(t, seen[KindImageSet])
	assert.True(t, seen[KindSlider])
}

func TestGenerator_SeedIsDeterministic(t *testing.T) {
	a, b := NewGenerator(42), NewGenerator(42)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.New(), b.New())
	}
}
