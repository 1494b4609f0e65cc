// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dump

import (
	"archive/zip"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/gomlx/stagecheck/pkg/core/tensors"
	"github.com/gomlx/stagecheck/pkg/harness/compcache"
	"github.com/gomlx/stagecheck/pkg/harness/fixture"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var reUnsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// FileName returns the .npz file name used for the fixture with the given key.
func FileName(key compcache.Key) string {
	return strings.Trim(reUnsafeChars.ReplaceAllString(key.String(), "_"), "_") + ".npz"
}

// WriteNpz writes the named tensors as a .npz archive, with entries in sorted name order.
func WriteNpz(w io.Writer, named map[string]*tensors.Tensor) error {
	zipWriter := zip.NewWriter(w)
	for _, name := range slices.Sorted(maps.Keys(named)) {
		entry, err := zipWriter.Create(name + ".npy")
		if err != nil {
			return errors.Wrapf(err, "creating %q in .npz archive", name)
		}
		if err := WriteNpy(entry, named[name]); err != nil {
			return errors.WithMessagef(err, "tensor %q", name)
		}
	}
	return errors.Wrap(zipWriter.Close(), "closing .npz archive")
}

// ReadNpzFile reads all tensors of a .npz archive, keyed by their names without the .npy suffix.
func ReadNpzFile(path string) (map[string]*tensors.Tensor, error) {
	zipReader, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening .npz file %q", path)
	}
	defer func() { _ = zipReader.Close() }()
	named := make(map[string]*tensors.Tensor, len(zipReader.File))
	for _, f := range zipReader.File {
		if !strings.HasSuffix(f.Name, ".npy") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "opening %q in %q", f.Name, path)
		}
		t, err := ReadNpy(rc)
		_ = rc.Close()
		if err != nil {
			return nil, errors.WithMessagef(err, "reading %q in %q", f.Name, path)
		}
		named[strings.TrimSuffix(f.Name, ".npy")] = t
	}
	return named, nil
}

// Fixture writes the inputs and the reference and candidate outputs of a fixture into dir, as
// "input_<i>", "reference_<i>" and "candidate_<i>" entries of a .npz file.
// Outputs not yet produced are omitted.
//
// It returns the path of the written file.
func Fixture(dir string, f *fixture.Fixture) (string, error) {
	named := make(map[string]*tensors.Tensor)
	add := func(prefix string, values []*tensors.Tensor) {
		for ii, t := range values {
			if t != nil {
				named[fmt.Sprintf("%s_%d", prefix, ii)] = t
			}
		}
	}
	reference, candidate := f.Outputs()
	add("input", f.Inputs())
	add("reference", reference)
	add("candidate", candidate)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating dump directory %q", dir)
	}
	path := filepath.Join(dir, FileName(f.Key()))
	file, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "creating %q", path)
	}
	if err := WriteNpz(file, named); err != nil {
		_ = file.Close()
		return "", errors.WithMessagef(err, "writing %q", path)
	}
	if err := file.Close(); err != nil {
		return "", errors.Wrapf(err, "closing %q", path)
	}
	klog.V(1).Infof("dump: %d tensors of %s written to %s", len(named), f.Key(), path)
	return path, nil
}
