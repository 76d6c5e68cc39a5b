package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	err := NewApp(out, out).Run(append([]string{"calibrate"}, args...))
	return out.String(), err
}

func TestAppConfigErrors(t *testing.T) {
	_, err := runApp(t, "camera")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "config")

	dir := t.TempDir()
	path := filepath.Join(dir, "calibrate.json")
	test.That(t, os.WriteFile(path, []byte(`{"camera": {"images": "*.png", "lense": 3}}`), 0o600), test.ShouldBeNil)
	_, err = runApp(t, "--config", path, "camera")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot decode config")

	test.That(t, os.WriteFile(path, []byte(`{"camera": {"images": "frames/*.png"}}`), 0o600), test.ShouldBeNil)
	_, err = runApp(t, "--config", path, "camera")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no files match")

	_, err = runApp(t, "--config", path, "handeye")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "pose_dir is not configured")
}
