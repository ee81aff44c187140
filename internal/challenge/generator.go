package challenge

import (
	"fmt"
	"math/rand"
	"sync"
)

type imageTemplate struct {
	instruction string
	options     []string
	correct     []int
}

// imageTemplates are the curated image-set puzzles. Options are shuffled per
// challenge so the correct positions vary.
var imageTemplates = []imageTemplate{
	{
		instruction: "Select all the animals",
		options:     []string{"🐶", "🚗", "🐱", "🏠", "🐦", "🌳"},
		correct:     []int{0, 2, 4},
	},
	{
		instruction: "Select all the fruits",
		options:     []string{"🍎", "⚽", "🍌", "📱", "🍇", "🔑"},
		correct:     []int{0, 2, 4},
	},
	{
		instruction: "Select all the vehicles",
		options:     []string{"🚲", "🌻", "🚌", "✈️", "🍕", "📚"},
		correct:     []int{0, 2, 3},
	},
	{
		instruction: "Select all the flags",
		options:     []string{"🇧🇷", "🎸", "🏳️", "🧢", "🏁", "☕"},
		correct:     []int{0, 2, 4},
	},
	{
		instruction: "Select the weather symbols",
		options:     []string{"☀️", "🎈", "🌧️", "❄️", "🧸", "🎁"},
		correct:     []int{0, 2, 3},
	},
}

// Generator produces random challenges. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a generator seeded with seed. Tests pass a fixed seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// New returns a challenge of a randomly chosen kind.
func (g *Generator) New() Challenge {
	g.mu.Lock()
	kind := g.rng.Intn(3)
	g.mu.Unlock()

	switch kind {
	case 0:
		return g.NewMath()
	case 1:
		return g.NewImageSet()
	default:
		return g.NewSlider()
	}
}

// NewMath returns an addition (1-20 + 1-20), subtraction (10-39 minus a
// smaller positive number) or multiplication (1-12 × 1-12) question.
func (g *Generator) NewMath() Challenge {
	g.mu.Lock()
	defer g.mu.Unlock()

	var a, b, answer int
	var op string
	switch g.rng.Intn(3) {
	case 0:
		a, b = g.rng.Intn(20)+1, g.rng.Intn(20)+1
		op, answer = "+", a+b
	case 1:
		a = g.rng.Intn(30) + 10
		b = g.rng.Intn(a-1) + 1
		op, answer = "-", a-b
	default:
		a, b = g.rng.Intn(12)+1, g.rng.Intn(12)+1
		op, answer = "×", a*b
	}
	return Challenge{
		Kind: KindMath,
		Math: &MathChallenge{Question: fmt.Sprintf("%d %s %d = ?", a, op, b), Answer: answer},
	}
}

// NewImageSet picks a curated template and shuffles its options.
func (g *Generator) NewImageSet() Challenge {
	g.mu.Lock()
	defer g.mu.Unlock()

	tpl := imageTemplates[g.rng.Intn(len(imageTemplates))]
	perm := g.rng.Perm(len(tpl.options))

	options := make([]string, len(tpl.options))
	position := make([]int, len(tpl.options))
	for newIdx, oldIdx := range perm {
		options[newIdx] = tpl.options[oldIdx]
		position[oldIdx] = newIdx
	}
	correct := make([]int, len(tpl.correct))
	for i, idx := range tpl.correct {
		correct[i] = position[idx]
	}
	return Challenge{
		Kind: KindImageSet,
		ImageSet: &ImageSetChallenge{
			Instruction:    tpl.instruction,
			Options:        options,
			CorrectIndices: dedupe(correct),
		},
	}
}

// NewSlider returns a slider with a target in [10, 90].
func (g *Generator) NewSlider() Challenge {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Challenge{
		Kind:   KindSlider,
		Slider: &SliderChallenge{Target: g.rng.Intn(81) + 10, Tolerance: SliderTolerance},
	}
}
