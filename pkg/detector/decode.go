package detector

import "image"

type candidate struct {
	box     image.Rectangle
	score   float32
	classID int
}

// decodeYOLOv8 reads a channel-major YOLOv8 head: for each of n anchors,
// rows 0-3 hold cx, cy, w, h in model-input pixels and the remaining rows
// hold class scores. Boxes are scaled by sx, sy and clipped to a frame of
// width x height.
func decodeYOLOv8(data []float32, channels, n int, sx, sy, thresh float32, width, height int) []candidate {
	if channels < 5 || n <= 0 || len(data) < channels*n {
		return nil
	}

	var out []candidate
	for i := 0; i < n; i++ {
		best, bestID := float32(0), 0
		for c := 4; c < channels; c++ {
			if s := data[c*n+i]; s > best {
				best, bestID = s, c-4
			}
		}
		if best < thresh {
			continue
		}

		cx, cy := data[i], data[n+i]
		w, h := data[2*n+i], data[3*n+i]
		x1 := int((cx - w/2) * sx)
		y1 := int((cy - h/2) * sy)
		x2 := int((cx + w/2) * sx)
		y2 := int((cy + h/2) * sy)
		if x1 < 0 {
			x1 = 0
		}
		if y1 < 0 {
			y1 = 0
		}
		if x2 > width {
			x2 = width
		}
		if y2 > height {
			y2 = height
		}
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		out = append(out, candidate{box: image.Rect(x1, y1, x2, y2), score: best, classID: bestID})
	}
	return out
}
