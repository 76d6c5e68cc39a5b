package utils

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestErrorTaxonomy(t *testing.T) {
	var err error = NewInsufficientDataError("plane fit", 2, 3)
	test.That(t, err.Error(), test.ShouldEqual, "plane fit: insufficient data: have 2, need at least 3")
	test.That(t, errors.Is(errors.Wrap(err, "light plane"), ErrInsufficientData), test.ShouldBeTrue)
	test.That(t, errors.Is(err, ErrRankDeficient), test.ShouldBeFalse)

	var insufficient *InsufficientDataError
	test.That(t, errors.As(errors.Wrap(err, "outer"), &insufficient), test.ShouldBeTrue)
	test.That(t, insufficient.Have, test.ShouldEqual, 2)

	err = NewRankDeficientError("hand-eye rotation", 2, 3)
	test.That(t, err.Error(), test.ShouldContainSubstring, "rank 2, want 3")
	test.That(t, errors.Is(err, ErrRankDeficient), test.ShouldBeTrue)

	err = NewDetectionFailure(4, "found %d of %d corners", 12, 42)
	test.That(t, err.Error(), test.ShouldEqual, "frame 4: calibration target not detected: found 12 of 42 corners")
	test.That(t, errors.Is(err, ErrDetectionFailed), test.ShouldBeTrue)
}
