package nn

// Rect is an axis aligned box in pixel coordinates
type Rect struct {
	X      int32 `json:"x"`
	Y      int32 `json:"y"`
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

// Create a Rect from two corners (x1,y1) and (x2,y2)
func RectFromCorners(x1, y1, x2, y2 int32) Rect {
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}

func (r Rect) X2() int32 {
	return r.X + r.Width
}

func (r Rect) Y2() int32 {
	return r.Y + r.Height
}

func (r Rect) Area() int32 {
	return r.Width * r.Height
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X, b.X)
	y1 := max(r.Y, b.Y)
	x2 := min(r.X2(), b.X2())
	y2 := min(r.Y2(), b.Y2())
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}
}

// Intersection over Union
func (r Rect) IOU(b Rect) float32 {
	union := r.Area() + b.Area() - r.Intersection(b).Area()
	if union <= 0 {
		return 0
	}
	return float32(r.Intersection(b).Area()) / float32(union)
}

// Clip the rectangle so that it lies inside a width x height image
func (r Rect) Clip(width, height int32) Rect {
	x1 := max(0, min(r.X, width))
	y1 := max(0, min(r.Y, height))
	x2 := max(0, min(r.X2(), width))
	y2 := max(0, min(r.Y2(), height))
	return RectFromCorners(x1, y1, x2, y2)
}
