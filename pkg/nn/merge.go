package nn

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
)

// SuppressOverlaps removes people boxes that overlap a more confident box by at least minIoU.
// Sliding window detectors tend to return a cluster of near-identical boxes around each person.
// Returns the indices of the detections that should be retained, in their original order.
func SuppressOverlaps(input []PersonDetection, minIoU float32) []int {
	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(input))
	for _, d := range input {
		fb.Add(int32(d.Box.X), int32(d.Box.Y), int32(d.Box.X2()), int32(d.Box.Y2()))
	}
	fb.Finish()

	// Visit the most confident boxes first, so that they win
	order := make([]int, len(input))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return input[order[a]].Confidence > input[order[b]].Confidence
	})

	deleted := make([]bool, len(input))
	for _, i := range order {
		if deleted[i] {
			continue
		}
		box := input[i].Box
		for _, j := range fb.Search(int32(box.X), int32(box.Y), int32(box.X2()), int32(box.Y2())) {
			if i == j || deleted[j] {
				continue
			}
			if box.IOU(input[j].Box) >= minIoU {
				deleted[j] = true
			}
		}
	}

	retain := make([]int, 0, len(input))
	for i := range input {
		if !deleted[i] {
			retain = append(retain, i)
		}
	}
	return retain
}
