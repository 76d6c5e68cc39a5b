package opencv

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"go.viam.com/test"
)

func TestReadImages(t *testing.T) {
	dir := t.TempDir()
	for i := 3; i >= 0; i-- {
		img := image.NewGray(image.Rect(0, 0, 8+i, 4))
		img.SetGray(0, 0, color.Gray{Y: uint8(10 * i)})
		test.That(t, imaging.Save(img, filepath.Join(dir, fmt.Sprintf("frame%04d.png", i))), test.ShouldBeNil)
	}

	paths, err := Glob(filepath.Join(dir, "frame*.png"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, paths, test.ShouldHaveLength, 4)
	test.That(t, filepath.Base(paths[0]), test.ShouldEqual, "frame0000.png")

	images, err := ReadImages(context.Background(), paths)
	test.That(t, err, test.ShouldBeNil)
	for i, img := range images {
		test.That(t, img.Bounds().Dx(), test.ShouldEqual, 8+i)
	}

	_, err = Glob(filepath.Join(dir, "*.jpg"))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ReadImages(context.Background(), []string{filepath.Join(dir, "missing.png")})
	test.That(t, err, test.ShouldNotBeNil)
}
