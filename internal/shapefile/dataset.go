// Package shapefile implements the bulk ingestion pipeline: a staged
// shapefile dataset (geometry + attributes + optional projection) is
// validated, streamed feature by feature, transformed into plot records
// and persisted as one unit by a background job.
package shapefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	shp "github.com/jonas-p/go-shp"
)

// ErrInvalidDataset marks a file set that does not open as a
// geometry/attribute dataset pair. The wrapped message names the
// offending file.
var ErrInvalidDataset = errors.New("invalid shapefile dataset")

// FileSet is the staged upload: geometry (.shp) and attribute (.dbf)
// files are required, the projection (.prj) file is optional.
type FileSet struct {
	SHP string `json:"shp"`
	DBF string `json:"dbf"`
	PRJ string `json:"prj,omitempty"`
}

// DatasetInfo is the metadata extracted during validation.
type DatasetInfo struct {
	FeatureCount   int      `json:"featureCount"`
	GeometryType   string   `json:"geometryType,omitempty"`
	AttributeNames []string `json:"attributeNames,omitempty"`
}

// ValidateSet checks that the required files exist and open as a
// dataset pair, and returns feature count and schema metadata. It is
// called synchronously before job creation and again inside the worker.
func ValidateSet(fs FileSet) (*DatasetInfo, error) {
	if fs.SHP == "" {
		return nil, fmt.Errorf("%w: geometry file (.shp) not provided", ErrInvalidDataset)
	}
	if fs.DBF == "" {
		return nil, fmt.Errorf("%w: attribute file (.dbf) not provided", ErrInvalidDataset)
	}
	if _, err := os.Stat(fs.SHP); err != nil {
		return nil, fmt.Errorf("%w: geometry file %s not readable", ErrInvalidDataset, filepath.Base(fs.SHP))
	}
	if _, err := os.Stat(fs.DBF); err != nil {
		return nil, fmt.Errorf("%w: attribute file %s not readable", ErrInvalidDataset, filepath.Base(fs.DBF))
	}

	reader, err := shp.Open(fs.SHP)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed geometry file %s: %v", ErrInvalidDataset, filepath.Base(fs.SHP), err)
	}
	defer reader.Close()

	info := &DatasetInfo{}
	for _, field := range reader.Fields() {
		info.AttributeNames = append(info.AttributeNames, field.String())
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("%w: malformed attribute file %s: %v", ErrInvalidDataset, filepath.Base(fs.DBF), err)
	}

	for reader.Next() {
		if info.FeatureCount == 0 {
			_, shape := reader.Shape()
			info.GeometryType = fmt.Sprintf("%T", shape)
		}
		info.FeatureCount++
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("%w: malformed geometry file %s: %v", ErrInvalidDataset, filepath.Base(fs.SHP), err)
	}

	return info, nil
}

// Cleanup removes every staged file and, when they share a staging
// directory, the directory itself. Missing files are ignored; staged
// files must never outlive job completion.
func (fs FileSet) Cleanup() {
	var dir string
	for _, path := range []string{fs.SHP, fs.DBF, fs.PRJ} {
		if path == "" {
			continue
		}
		_ = os.Remove(path)
		// go-shp derives sidecar paths from the .shp name.
		if strings.HasSuffix(path, ".shp") {
			_ = os.Remove(strings.TrimSuffix(path, ".shp") + ".shx")
		}
		if dir == "" {
			dir = filepath.Dir(path)
		}
	}
	if dir != "" {
		_ = os.Remove(dir)
	}
}
