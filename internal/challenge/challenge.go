// Package challenge issues and verifies human-interaction challenges.
//
// A challenge is one of three variants: a small arithmetic question, an
// image-set selection or a slider position. Sessions track attempts so a
// single challenge cannot be brute forced: after MaxAttempts failures the
// session receives a brand new challenge.
package challenge

import "sort"

// Kind names a challenge variant.
type Kind string

const (
	KindMath     Kind = "math"
	KindImageSet Kind = "image_set"
	KindSlider   Kind = "slider"
)

// SliderTolerance is how far a slider value may be from the target.
const SliderTolerance = 5

// MathChallenge asks for the result of "a op b".
type MathChallenge struct {
	Question string `json:"question"`
	Answer   int    `json:"answer"`
}

// ImageSetChallenge asks the user to pick every option matching the instruction.
type ImageSetChallenge struct {
	Instruction    string   `json:"instruction"`
	Options        []string `json:"options"`
	CorrectIndices []int    `json:"correct_indices"`
}

// SliderChallenge asks the user to move a slider to Target.
type SliderChallenge struct {
	Target    int `json:"target"`
	Tolerance int `json:"tolerance"`
}

// Challenge is a tagged union: exactly the field matching Kind is set.
type Challenge struct {
	Kind     Kind               `json:"kind"`
	Math     *MathChallenge     `json:"math,omitempty"`
	ImageSet *ImageSetChallenge `json:"image_set,omitempty"`
	Slider   *SliderChallenge   `json:"slider,omitempty"`
}

// Response is a user's answer. Only the field for the challenge's kind is read.
type Response struct {
	Answer   *float64 `json:"answer,omitempty"`
	Selected []int    `json:"selected,omitempty"`
	Value    *int     `json:"value,omitempty"`
}

// Check reports whether r solves c.
func (c Challenge) Check(r Response) bool {
	switch c.Kind {
	case KindMath:
		return c.Math != nil && r.Answer != nil && *r.Answer == float64(c.Math.Answer)
	case KindImageSet:
		return c.ImageSet != nil && sameSet(r.Selected, c.ImageSet.CorrectIndices)
	case KindSlider:
		if c.Slider == nil || r.Value == nil {
			return false
		}
		diff := *r.Value - c.Slider.Target
		if diff < 0 {
			diff = -diff
		}
		return diff <= c.Slider.Tolerance
	default:
		return false
	}
}

// sameSet compares index lists as sets. Order and duplicates are ignored;
// any missing or extra index fails.
func sameSet(got, want []int) bool {
	a := dedupe(got)
	b := dedupe(want)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func dedupe(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	n := 0
	for i, v := range out {
		if i == 0 || v != out[n-1] {
			out[n] = v
			n++
		}
	}
	return out[:n]
}

// PublicChallenge is what clients see: everything except the answer. The
// slider target is shown because the user has to drag to it.
type PublicChallenge struct {
	Kind        Kind     `json:"kind"`
	Question    string   `json:"question,omitempty"`
	Instruction string   `json:"instruction,omitempty"`
	Options     []string `json:"options,omitempty"`
	Target      *int     `json:"target,omitempty"`
	Tolerance   int      `json:"tolerance,omitempty"`
}

// PublicView strips the answer from c.
func (c Challenge) PublicView() PublicChallenge {
	pc := PublicChallenge{Kind: c.Kind}
	switch c.Kind {
	case KindMath:
		if c.Math != nil {
			pc.Question = c.Math.Question
		}
	case KindImageSet:
		if c.ImageSet != nil {
			pc.Instruction = c.ImageSet.Instruction
			pc.Options = append([]string(nil), c.ImageSet.Options...)
		}
	case KindSlider:
		if c.Slider != nil {
			target := c.Slider.Target
			pc.Target = &target
			pc.Tolerance = c.Slider.Tolerance
		}
	}
	return pc
}
