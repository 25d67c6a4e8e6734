package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"askarc/internal/domain"
)

// Skip describes a source record that did not become a corpus entry.
type Skip struct {
	Ordinal int    `json:"ordinal"`
	Reason  string `json:"reason"`
}

// Source is the decoded corpus source. Records keep their source ordinal;
// a record that failed to decode is left blank at its position and listed
// in Malformed.
type Source struct {
	Path      string
	Records   []domain.Record
	Malformed []Skip
}

// LoadRecords reads question/answer records from a JSON array file or, when
// the first non-space byte is not '[', from JSON lines.
func LoadRecords(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("read corpus source: %w", err)
	}
	src, err := ParseRecords(data)
	if err != nil {
		return Source{}, fmt.Errorf("parse corpus source %s: %w", path, err)
	}
	src.Path = path
	return src, nil
}

// ParseRecords decodes records from raw bytes. Only a broken top-level
// structure is an error; individual undecodable records are skipped.
func ParseRecords(data []byte) (Source, error) {
	trimmed := bytes.TrimSpace(data)
	var raws []json.RawMessage
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return Source{}, err
		}
	} else {
		sc := bufio.NewScanner(bytes.NewReader(trimmed))
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			raws = append(raws, append(json.RawMessage(nil), line...))
		}
		if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
			return Source{}, err
		}
	}

	src := Source{Records: make([]domain.Record, len(raws))}
	for i, raw := range raws {
		var rec domain.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			src.Malformed = append(src.Malformed, Skip{Ordinal: i, Reason: "malformed record: " + err.Error()})
			continue
		}
		src.Records[i] = rec
	}
	return src, nil
}

// validRecord reports whether a record can become an entry.
func validRecord(r domain.Record) error {
	switch {
	case strings.TrimSpace(r.Question) == "":
		return fmt.Errorf("%w: missing question", domain.ErrInvalidRecord)
	case strings.TrimSpace(r.Answer) == "":
		return fmt.Errorf("%w: missing answer", domain.ErrInvalidRecord)
	}
	return nil
}
