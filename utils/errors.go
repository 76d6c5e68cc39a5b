// Package utils contains the error taxonomy and small helpers shared by the calibration stages.
package utils

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDetectionFailed matches any DetectionFailure.
	ErrDetectionFailed = errors.New("calibration target not detected")
	// ErrInsufficientData matches any InsufficientDataError.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrRankDeficient matches any RankDeficientError.
	ErrRankDeficient = errors.New("rank deficient system")
	// ErrDegenerateSample is returned by a model family when a minimal sample cannot define a
	// model (coincident, vertical or collinear points). Samplers redraw on it.
	ErrDegenerateSample = errors.New("degenerate sample")
)

// DetectionFailure reports that the calibration target was not found in one frame.
// The frame is skipped; the error is never fatal on its own.
type DetectionFailure struct {
	Frame  int
	Reason string
}

// NewDetectionFailure returns a DetectionFailure for the given frame.
func NewDetectionFailure(frame int, format string, args ...interface{}) *DetectionFailure {
	return &DetectionFailure{Frame: frame, Reason: fmt.Sprintf(format, args...)}
}

func (e *DetectionFailure) Error() string {
	return fmt.Sprintf("frame %d: %s: %s", e.Frame, ErrDetectionFailed, e.Reason)
}

// Is lets errors.Is match ErrDetectionFailed.
func (e *DetectionFailure) Is(target error) bool {
	return target == ErrDetectionFailed
}

// InsufficientDataError is returned when a stage has too few valid observations or points.
type InsufficientDataError struct {
	Stage string
	Have  int
	Need  int
}

// NewInsufficientDataError returns an InsufficientDataError for stage.
func NewInsufficientDataError(stage string, have, need int) *InsufficientDataError {
	return &InsufficientDataError{Stage: stage, Have: have, Need: need}
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: %s: have %d, need at least %d", e.Stage, ErrInsufficientData, e.Have, e.Need)
}

// Is lets errors.Is match ErrInsufficientData.
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// RankDeficientError is returned when a stacked linear system does not have full column rank.
type RankDeficientError struct {
	Stage string
	Rank  int
	Want  int
}

// NewRankDeficientError returns a RankDeficientError for stage.
func NewRankDeficientError(stage string, rank, want int) *RankDeficientError {
	return &RankDeficientError{Stage: stage, Rank: rank, Want: want}
}

func (e *RankDeficientError) Error() string {
	return fmt.Sprintf("%s: %s: rank %d, want %d", e.Stage, ErrRankDeficient, e.Rank, e.Want)
}

// Is lets errors.Is match ErrRankDeficient.
func (e *RankDeficientError) Is(target error) bool {
	return target == ErrRankDeficient
}
