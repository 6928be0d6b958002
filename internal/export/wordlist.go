package export

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"

	"github.com/conorfennell/ankibridge/internal/domain"
)

// wordlistHeader is the first line of every wordlist CSV.
const wordlistHeader = "dictForm,secondary,hasCard"

// WriteWordlists writes the wordlist archive: one CSV per known-status
// bucket plus one for tracked words. Entries with an unrecognized
// status fall into no bucket but still count as tracked when flagged.
func (e *Exporter) WriteWordlists(w io.Writer, lang string) error {
	entries := e.src.ListVocab(lang)

	buckets := map[string][]domain.VocabEntry{}
	for _, v := range entries {
		if v.Deleted {
			continue
		}
		switch v.KnownStatus {
		case domain.StatusUnknown:
			buckets["unknown"] = append(buckets["unknown"], v)
		case domain.StatusIgnored:
			buckets["ignored"] = append(buckets["ignored"], v)
		case domain.StatusLearning:
			buckets["learning"] = append(buckets["learning"], v)
		case domain.StatusKnown:
			buckets["known"] = append(buckets["known"], v)
		}
		if v.Tracked {
			buckets["tracked"] = append(buckets["tracked"], v)
		}
	}

	zw := zip.NewWriter(w)
	for _, name := range []string{"unknown", "ignored", "learning", "known", "tracked"} {
		entry, err := zw.Create(name + ".csv")
		if err != nil {
			return fmt.Errorf("failed to create %s.csv: %w", name, err)
		}
		if _, err := io.WriteString(entry, wordlistCSV(buckets[name])); err != nil {
			return fmt.Errorf("failed to write %s.csv: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize wordlist archive: %w", err)
	}
	return nil
}

// csvQuote wraps a value in double quotes, doubling any embedded ones.
func csvQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// wordlistCSV renders one bucket. The word columns are always quoted;
// hasCard is a bare 0/1 like the source database stores it.
func wordlistCSV(entries []domain.VocabEntry) string {
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, wordlistHeader)
	for _, v := range entries {
		hasCard := "0"
		if v.HasCard {
			hasCard = "1"
		}
		lines = append(lines, fmt.Sprintf("%s,%s,%s",
			csvQuote(v.DictForm), csvQuote(v.Secondary), hasCard))
	}
	return strings.Join(lines, "\n")
}
