package nn

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
)

// NMS performs per-class non-maximum suppression.
// Of any two boxes of the same class with IoU >= minIoU, only the more confident one survives.
// The result is sorted by descending confidence.
func NMS(input []Detection, minIoU float32) []Detection {
	if len(input) < 2 {
		return append([]Detection(nil), input...)
	}

	order := make([]int, len(input))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return input[order[a]].Confidence > input[order[b]].Confidence
	})

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(input))
	for _, d := range input {
		fb.Add(d.Box.X, d.Box.Y, d.Box.X2(), d.Box.Y2())
	}
	fb.Finish()

	suppressed := make([]bool, len(input))
	retain := make([]Detection, 0, len(input))
	for _, i := range order {
		if suppressed[i] {
			continue
		}
		in := input[i]
		retain = append(retain, in)
		for _, j := range fb.Search(in.Box.X, in.Box.Y, in.Box.X2(), in.Box.Y2()) {
			if j == i || suppressed[j] || input[j].Class != in.Class {
				continue
			}
			if in.Box.IOU(input[j].Box) >= minIoU {
				suppressed[j] = true
			}
		}
	}
	return retain
}
