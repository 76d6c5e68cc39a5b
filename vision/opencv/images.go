// Package opencv provides the image collaborators of the calibration pipeline: reading frames,
// finding chessboard corners and the OpenCV camera calibration solver. The OpenCV parts need cgo;
// builds with the no_cgo tag get stand-ins that report ErrNoCgo.
package opencv

import (
	"context"
	"image"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/etnalab/triangulation/utils"
)

// ErrNoCgo is returned by the OpenCV collaborators in builds without cgo.
var ErrNoCgo = errors.New("opencv support requires cgo")

// Glob returns the files matching pattern in lexical order, which is frame order for zero-padded
// names such as frame0007.png.
func Glob(pattern string) ([]string, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no files match %q", pattern)
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadImages decodes the files at paths concurrently, keeping their order.
func ReadImages(ctx context.Context, paths []string) ([]image.Image, error) {
	return utils.ParallelMap(ctx, paths, func(_ context.Context, _ int, path string) (image.Image, error) {
		img, err := imaging.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading image %s", path)
		}
		return img, nil
	})
}
