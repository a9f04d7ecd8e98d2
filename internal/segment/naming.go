// Package segment manages the append-only files that hold queue records.
//
// A segment file is named after its id, zero padded to 20 digits so that
// lexical order equals numeric order (00000000000000000007.seg). It starts
// with a 64-byte format.SegmentHeader followed by records back to back.
// The Manager owns every open segment of a queue and resolves sequences to
// the segment holding them.
package segment

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const (
	// SegmentFileExtension is the suffix of every segment file
	SegmentFileExtension = ".seg"

	// SegmentNameWidth is the number of digits in a segment file name
	SegmentNameWidth = 20
)

// FormatSegmentName returns the file name of segment id.
func FormatSegmentName(id uint64) string {
	return fmt.Sprintf("%0*d%s", SegmentNameWidth, id, SegmentFileExtension)
}

// ParseSegmentName returns the id encoded in a segment file name.
func ParseSegmentName(name string) (uint64, error) {
	digits, ok := strings.CutSuffix(name, SegmentFileExtension)
	if !ok || len(digits) != SegmentNameWidth {
		return 0, fmt.Errorf("not a segment file name: %q", name)
	}
	id, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a segment file name: %q", name)
	}
	return id, nil
}

// SegmentInfo describes a segment file found on disk.
type SegmentInfo struct {
	ID   uint64
	Path string
	Size int64
}

// DiscoverSegments lists the segment files in dir in id order. Entries
// whose names do not parse, and directories, are skipped.
func DiscoverSegments(dir string) ([]*SegmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	found := make([]*SegmentInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, err := ParseSegmentName(e.Name())
		if err != nil {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		found = append(found, &SegmentInfo{ID: id, Path: filepath.Join(dir, e.Name()), Size: fi.Size()})
	}

	slices.SortFunc(found, func(a, b *SegmentInfo) int { return cmp.Compare(a.ID, b.ID) })
	return found, nil
}
