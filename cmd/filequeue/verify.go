package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vnykmshr/filequeue/internal/format"
	"github.com/vnykmshr/filequeue/internal/segment"
)

// segmentReport is the result of scanning one segment file.
type segmentReport struct {
	ID           uint64 `json:"id"`
	File         string `json:"file"`
	BaseSequence uint64 `json:"base_sequence"`
	Records      uint64 `json:"records"`
	End          uint64 `json:"end"`
	FileSize     uint64 `json:"file_size"`
	Problem      string `json:"problem,omitempty"`
}

// verifyReport describes a queue directory without modifying it.
type verifyReport struct {
	Directory string           `json:"directory"`
	QueueID   string           `json:"queue_id,omitempty"`
	Committed *format.Position `json:"committed,omitempty"`
	Metadata  string           `json:"metadata_problem,omitempty"`
	Segments  []segmentReport  `json:"segments"`
}

// Damaged reports whether any segment except the newest has a problem.
// A torn tail on the newest segment is expected after a crash and is
// repaired by the next Open.
func (r *verifyReport) Damaged() bool {
	for i, s := range r.Segments {
		if s.Problem != "" && i != len(r.Segments)-1 {
			return true
		}
	}
	return false
}

// verifyQueue scans every segment in dir. Files are only read, so it can
// run against a queue another process holds open.
func verifyQueue(dir string) (*verifyReport, error) {
	infos, err := segment.DiscoverSegments(dir)
	if err != nil {
		return nil, err
	}

	report := &verifyReport{Directory: dir}

	meta, err := format.ReadMetadata(filepath.Join(dir, format.MetadataFileName))
	switch {
	case err == nil:
		report.QueueID = meta.QueueID
		report.Committed = &meta.Committed
	case errors.Is(err, os.ErrNotExist):
		report.Metadata = "missing"
	default:
		report.Metadata = err.Error()
	}

	var nextBase uint64
	for i, info := range infos {
		sr := segmentReport{ID: info.ID, File: filepath.Base(info.Path)}

		seg, err := segment.Open(info.Path)
		if err != nil {
			sr.Problem = err.Error()
			report.Segments = append(report.Segments, sr)
			continue
		}

		res, err := seg.Scan(nil)
		_ = seg.Close()
		if err != nil {
			return nil, err
		}

		sr.BaseSequence = seg.BaseSequence()
		sr.Records = res.Records
		sr.End = res.End
		sr.FileSize = res.FileSize
		if res.Torn() {
			sr.Problem = fmt.Sprintf("%v at offset %d", res.Err, res.End)
		} else if i > 0 && sr.BaseSequence != nextBase {
			sr.Problem = fmt.Sprintf("base sequence %d, want %d", sr.BaseSequence, nextBase)
		}
		nextBase = sr.BaseSequence + sr.Records

		report.Segments = append(report.Segments, sr)
	}

	return report, nil
}
