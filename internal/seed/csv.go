// Package seed loads labelled example texts into the emotions reference
// namespace.
package seed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/silverstream/sentiment-checker/pkg/models"
)

// referenceNamespace scopes reference IDs so reseeding the same row yields
// the same vector ID.
var referenceNamespace = uuid.MustParse("5c1f0a0e-6b8e-4a52-9d8e-2f4a6c0d7e31")

// Reference is one labelled example text.
type Reference struct {
	ID     string
	Text   string
	Labels []models.EmotionLabel
}

// Metadata returns the stored metadata: the text plus one true flag per label.
func (r Reference) Metadata() map[string]any {
	meta := make(map[string]any, len(r.Labels)+1)
	meta["text"] = r.Text
	for _, l := range r.Labels {
		meta[string(l)] = true
	}
	return meta
}

// ReferenceID derives a stable ID from the text and its sorted labels.
func ReferenceID(text string, labels []models.EmotionLabel) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = string(l)
	}
	sort.Strings(parts)
	return uuid.NewSHA1(referenceNamespace, []byte(text+"\x00"+strings.Join(parts, ","))).String()
}

// ReadStats counts what ReadCSV skipped.
type ReadStats struct {
	Rows       int
	Empty      int
	Unlabelled int
	Duplicates int
}

// ReadCSV parses a GoEmotions style CSV: a "text" column and one 0/1 column
// per emotion label. Columns that are not taxonomy labels are ignored.
// Rows with blank text or no label set are skipped, as are exact repeats.
func ReadCSV(r io.Reader, taxonomy *models.Taxonomy) ([]Reference, ReadStats, error) {
	var stats ReadStats

	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, stats, fmt.Errorf("read header: empty input")
		}
		return nil, stats, fmt.Errorf("read header: %w", err)
	}

	textCol := -1
	labelCols := make(map[int]models.EmotionLabel)
	for i, name := range header {
		name = strings.TrimPrefix(name, "\ufeff")
		if strings.EqualFold(strings.TrimSpace(name), "text") {
			textCol = i
			continue
		}
		if taxonomy.Contains(name) {
			labelCols[i] = models.NormalizeLabel(name)
		}
	}
	if textCol < 0 {
		return nil, stats, fmt.Errorf("missing text column")
	}
	if len(labelCols) == 0 {
		return nil, stats, fmt.Errorf("no emotion label columns")
	}

	cols := make([]int, 0, len(labelCols))
	for i := range labelCols {
		cols = append(cols, i)
	}
	sort.Ints(cols)

	seen := make(map[string]struct{})
	var refs []Reference
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read row %d: %w", stats.Rows+1, err)
		}
		stats.Rows++

		text := strings.TrimSpace(row[textCol])
		if text == "" {
			stats.Empty++
			continue
		}
		var labels []models.EmotionLabel
		for _, i := range cols {
			if i < len(row) && strings.TrimSpace(row[i]) == "1" {
				labels = append(labels, labelCols[i])
			}
		}
		if len(labels) == 0 {
			stats.Unlabelled++
			continue
		}

		id := ReferenceID(text, labels)
		if _, dup := seen[id]; dup {
			stats.Duplicates++
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, Reference{ID: id, Text: text, Labels: labels})
	}

	log.Debug().
		Int("rows", stats.Rows).
		Int("references", len(refs)).
		Int("empty", stats.Empty).
		Int("unlabelled", stats.Unlabelled).
		Int("duplicates", stats.Duplicates).
		Msg("Parsed reference CSV")
	return refs, stats, nil
}
