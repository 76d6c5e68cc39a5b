// Package params persists calibration results as YAML parameter files and reads robot pose logs.
package params

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"gopkg.in/yaml.v3"
	"gonum.org/v1/gonum/mat"
)

// matrix is a row-major matrix as stored in parameter files.
type matrix [][]float64

func newMatrix(m mat.Matrix) matrix {
	r, c := m.Dims()
	out := make(matrix, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := range out[i] {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

// dense checks that m is rows x cols and converts it.
func (m matrix) dense(name string, rows, cols int) (*mat.Dense, error) {
	if len(m) != rows {
		return nil, errors.Errorf("%s must have %d rows, got %d", name, rows, len(m))
	}
	out := mat.NewDense(rows, cols, nil)
	for i, row := range m {
		if len(row) != cols {
			return nil, errors.Errorf("%s row %d must have %d columns, got %d", name, i, cols, len(row))
		}
		out.SetRow(i, row)
	}
	return out, nil
}

func encode(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "encoding parameters")
	}
	return enc.Close()
}

func decode(r io.Reader, v interface{}) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("parameter file is empty")
		}
		return errors.Wrap(err, "decoding parameters")
	}
	return nil
}

func saveFile(path string, write func(io.Writer) error) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return errors.Wrapf(write(f), "writing %s", path)
}

func loadFile(path string, read func(io.Reader) error) error {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return errors.Wrapf(read(f), "reading %s", path)
}
