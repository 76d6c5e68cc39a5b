package calibration

import (
	"image"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestTarget(t *testing.T) {
	target, err := NewTarget(6, 7, 10)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, target.Size(), test.ShouldEqual, 42)
	test.That(t, target.PatternSize(), test.ShouldResemble, image.Point{X: 7, Y: 6})

	pts := target.Points()
	test.That(t, pts, test.ShouldHaveLength, 42)
	test.That(t, pts[0], test.ShouldResemble, r3.Vector{})
	test.That(t, pts[1], test.ShouldResemble, r3.Vector{X: 10})
	test.That(t, pts[target.Index(1, 0)], test.ShouldResemble, r3.Vector{Y: 10})
	test.That(t, pts[41], test.ShouldResemble, r3.Vector{X: 60, Y: 50})

	_, err = NewTarget(1, 7, 10)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewTarget(6, 7, 0)
	test.That(t, err.Error(), test.ShouldContainSubstring, "spacing must be positive")
}

func TestGrid(t *testing.T) {
	target := Target{Rows: 2, Cols: 3, Spacing: 1}
	corners := []r2.Point{{X: 0}, {X: 1}, {X: 2}, {Y: 1}, {X: 1, Y: 1}, {X: 2, Y: 1}}
	g, err := NewGrid(3, target, corners)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.At(1, 2), test.ShouldResemble, r2.Point{X: 2, Y: 1})
	test.That(t, g.Row(1), test.ShouldHaveLength, 3)

	_, err = NewGrid(4, target, corners[:5])
	test.That(t, err.Error(), test.ShouldContainSubstring, "have 5 corners")

	valid := ValidGrids([]*Grid{nil, g, nil})
	test.That(t, valid, test.ShouldHaveLength, 1)
	test.That(t, valid[0].Frame, test.ShouldEqual, 3)
}
