// Package ensemble merges OCR output from multiple engines into a single
// best-estimate block set per page.
//
// Each engine produces text regions with bounding boxes and confidences in
// its own native format. This package normalizes those into a unified Block
// schema, groups blocks from different engines that cover the same physical
// region (intersection-over-union graph, connected components), elects one
// text per group by majority vote with a priority fallback, and annotates
// each merged block with an aggregated confidence score.
//
// The merge is a pure, synchronous, single-pass batch transform over one
// page's blocks. Pages are independent; callers may reconcile pages
// concurrently without coordination.
package ensemble

import (
	"encoding/json"
	"fmt"
)

// Rect is an axis-aligned rectangle in page-pixel coordinates with
// x0 <= x1 and y0 <= y1. It marshals as the 4-element JSON array
// [x0, y0, x1, y1] used by the engine services.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

// Point is a single polygon vertex. It marshals as the JSON array [x, y].
type Point struct {
	X, Y float64
}

// Width returns the horizontal extent of the rectangle.
func (r Rect) Width() float64 { return r.X1 - r.X0 }

// Height returns the vertical extent of the rectangle.
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// Area returns the rectangle area, or 0 for degenerate rectangles.
func (r Rect) Area() float64 {
	if r.X1 <= r.X0 || r.Y1 <= r.Y0 {
		return 0
	}
	return (r.X1 - r.X0) * (r.Y1 - r.Y0)
}

// Canon returns the rectangle with coordinates reordered so that
// x0 <= x1 and y0 <= y1.
func (r Rect) Canon() Rect {
	if r.X0 > r.X1 {
		r.X0, r.X1 = r.X1, r.X0
	}
	if r.Y0 > r.Y1 {
		r.Y0, r.Y1 = r.Y1, r.Y0
	}
	return r
}

// Intersect returns the area of the intersection of two rectangles.
func (r Rect) Intersect(o Rect) float64 {
	x0 := max(r.X0, o.X0)
	y0 := max(r.Y0, o.Y0)
	x1 := min(r.X1, o.X1)
	y1 := min(r.Y1, o.Y1)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	return (x1 - x0) * (y1 - y0)
}

// IoU returns the intersection-over-union of two rectangles in [0, 1].
func (r Rect) IoU(o Rect) float64 {
	inter := r.Intersect(o)
	if inter == 0 {
		return 0
	}
	union := r.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// MarshalJSON encodes the rectangle as [x0, y0, x1, y1].
func (r Rect) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{r.X0, r.Y0, r.X1, r.Y1})
}

// UnmarshalJSON decodes a [x0, y0, x1, y1] array.
func (r *Rect) UnmarshalJSON(data []byte) error {
	var coords []float64
	if err := json.Unmarshal(data, &coords); err != nil {
		return err
	}
	if len(coords) != 4 {
		return fmt.Errorf("bbox must have 4 coordinates, got %d", len(coords))
	}
	r.X0, r.Y0, r.X1, r.Y1 = coords[0], coords[1], coords[2], coords[3]
	return nil
}

// MarshalJSON encodes the point as [x, y].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON decodes an [x, y] array.
func (p *Point) UnmarshalJSON(data []byte) error {
	var coords []float64
	if err := json.Unmarshal(data, &coords); err != nil {
		return err
	}
	if len(coords) != 2 {
		return fmt.Errorf("point must have 2 coordinates, got %d", len(coords))
	}
	p.X, p.Y = coords[0], coords[1]
	return nil
}

// PolygonBounds returns the axis-aligned bounding box of a polygon.
// An empty polygon yields the zero rectangle.
func PolygonBounds(polygon []Point) Rect {
	if len(polygon) == 0 {
		return Rect{}
	}
	r := Rect{X0: polygon[0].X, Y0: polygon[0].Y, X1: polygon[0].X, Y1: polygon[0].Y}
	for _, p := range polygon[1:] {
		r.X0 = min(r.X0, p.X)
		r.Y0 = min(r.Y0, p.Y)
		r.X1 = max(r.X1, p.X)
		r.Y1 = max(r.Y1, p.Y)
	}
	return r
}

// Block is one recognized text region from a single engine, after
// normalization. Blocks are immutable once produced: the reconciler
// only reads them.
type Block struct {
	// ID is unique within one engine's output for one page.
	ID string `json:"id,omitempty"`

	// Engine identifies the producing engine.
	Engine string `json:"engine"`

	// Page is the 1-based page number.
	Page int `json:"page,omitempty"`

	// Text is the recognized string. May be empty.
	Text string `json:"text"`

	// Confidence is in [0, 1]. Engines lacking confidence report the
	// configured default.
	Confidence float64 `json:"confidence"`

	// BBox is the axis-aligned bounding box in page-pixel coordinates.
	BBox Rect `json:"bbox"`

	// Polygon optionally outlines non-rectangular regions. When absent
	// it is derived from BBox.
	Polygon []Point `json:"polygon,omitempty"`
}

// EngineResult is one engine's normalized output for one page.
type EngineResult struct {
	Engine string  `json:"engine"`
	Page   int     `json:"page"`
	Blocks []Block `json:"blocks"`
}

// MergedBlock is the reconciled result of one or more Blocks believed to
// denote the same document region. Members are ordered by engine priority,
// ties broken by descending confidence.
type MergedBlock struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	BBox       Rect    `json:"bbox"`
	Members    []Block `json:"members"`
}

// PageResult is the merged output for one page, the unit handed to
// downstream cleanup and extraction.
type PageResult struct {
	Page         int           `json:"page"`
	MergedBlocks []MergedBlock `json:"merged_blocks"`
}
