package ankipkg

import (
	"archive/zip"
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/conorfennell/ankibridge/internal/domain"
	_ "modernc.org/sqlite"
)

var testTypes = []domain.CardType{
	{ID: 1, Name: "Vocab A", Fields: []domain.FieldDef{
		{Name: "Word", Kind: domain.FieldText},
		{Name: "Sentence", Kind: domain.FieldText},
	}},
	{ID: 2, Name: "Vocab B", Fields: []domain.FieldDef{
		{Name: "Word", Kind: domain.FieldText},
	}},
}

// buildPackage assembles the three-card no-media example package and
// returns the bytes of the resulting archive.
func buildPackage(t *testing.T) []byte {
	t.Helper()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)

	b, err := NewBuilder(now)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	defer b.Close()

	modelIDs, err := b.InsertCollectionMetadata(testTypes,
		[]string{"Word", "Sentence"}, true)
	if err != nil {
		t.Fatalf("InsertCollectionMetadata failed: %v", err)
	}
	if len(modelIDs) != 2 || modelIDs[1] == modelIDs[2] {
		t.Fatalf("Expected 2 distinct model ids, got %v", modelIDs)
	}

	cardsByType := map[int64][]domain.Card{
		1: {
			{ID: 100, CardTypeID: 1, Mod: 1111, PrimaryField: "cat", SecondaryField: "the cat sat"},
			{ID: 101, CardTypeID: 1, Mod: 2222, PrimaryField: "dog", SecondaryField: "the dog ran"},
		},
		2: {
			{ID: 102, CardTypeID: 2, Mod: 3333, PrimaryField: "bird"},
		},
	}
	buildFields := func(card domain.Card, ct domain.CardType) []string {
		return []string{card.PrimaryField, card.SecondaryField}
	}

	var progressed int
	err = b.FillNotesAndCards(testTypes, cardsByType, modelIDs, buildFields,
		func(done, total int) {
			progressed++
			if total != 3 {
				t.Errorf("Expected total 3, got %d", total)
			}
		})
	if err != nil {
		t.Fatalf("FillNotesAndCards failed: %v", err)
	}
	if progressed != 3 {
		t.Errorf("Expected 3 progress reports, got %d", progressed)
	}

	var out bytes.Buffer
	if err := b.WritePackage(&out); err != nil {
		t.Fatalf("WritePackage failed: %v", err)
	}
	return out.Bytes()
}

// openArchive reads one file out of an .apkg archive.
func readArchiveFile(t *testing.T, archive []byte, name string) []byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatalf("Archive did not open: %v", err)
	}
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Failed to open %s: %v", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("Failed to read %s: %v", name, err)
		}
		return data
	}
	t.Fatalf("Archive is missing %s", name)
	return nil
}

func TestPackageEndToEnd(t *testing.T) {
	archive := buildPackage(t)

	dbBytes := readArchiveFile(t, archive, "collection.anki2")
	dbPath := filepath.Join(t.TempDir(), "collection.anki2")
	if err := os.WriteFile(dbPath, dbBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Exported database did not open: %v", err)
	}
	defer conn.Close()

	t.Run("notes and cards tables have one row per card", func(t *testing.T) {
		var notes, cards int
		if err := conn.QueryRow("SELECT count(*) FROM notes").Scan(&notes); err != nil {
			t.Fatal(err)
		}
		if err := conn.QueryRow("SELECT count(*) FROM cards").Scan(&cards); err != nil {
			t.Fatal(err)
		}
		if notes != 3 || cards != 3 {
			t.Errorf("Expected 3 notes and 3 cards, got %d and %d", notes, cards)
		}
	})

	t.Run("collection carries two models", func(t *testing.T) {
		var modelsJSON string
		if err := conn.QueryRow("SELECT models FROM col").Scan(&modelsJSON); err != nil {
			t.Fatal(err)
		}
		var models map[string]json.RawMessage
		if err := json.Unmarshal([]byte(modelsJSON), &models); err != nil {
			t.Fatalf("models column is not valid JSON: %v", err)
		}
		if len(models) != 2 {
			t.Errorf("Expected 2 models, got %d", len(models))
		}
	})

	t.Run("note fields join with the unit separator", func(t *testing.T) {
		var flds string
		if err := conn.QueryRow("SELECT flds FROM notes WHERE id=100").Scan(&flds); err != nil {
			t.Fatal(err)
		}
		if flds != "cat"+domain.FieldSeparator+"the cat sat" {
			t.Errorf("Unexpected flds %q", flds)
		}
	})

	t.Run("media manifest is empty without media", func(t *testing.T) {
		manifest := readArchiveFile(t, archive, "media")
		if string(manifest) != "{}" {
			t.Errorf("Expected empty manifest, got %s", manifest)
		}
	})
}

func TestFillNotesAndCardsSkipsFailedInserts(t *testing.T) {
	b, err := NewBuilder(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	modelIDs, err := b.InsertCollectionMetadata(testTypes[:1], []string{"Word"}, false)
	if err != nil {
		t.Fatal(err)
	}

	// The second card's note insert collides on the primary key and is
	// skipped; progress must still advance to the end of the batch.
	cardsByType := map[int64][]domain.Card{
		1: {
			{ID: 100, CardTypeID: 1, Mod: 1111, PrimaryField: "cat"},
			{ID: 100, CardTypeID: 1, Mod: 2222, PrimaryField: "dog"},
		},
	}
	buildFields := func(card domain.Card, ct domain.CardType) []string {
		return []string{card.PrimaryField}
	}

	var lastDone, lastTotal int
	err = b.FillNotesAndCards(testTypes[:1], cardsByType, modelIDs, buildFields,
		func(done, total int) { lastDone, lastTotal = done, total })
	if err != nil {
		t.Fatalf("FillNotesAndCards failed: %v", err)
	}
	if lastDone != 2 || lastTotal != 2 {
		t.Errorf("Expected final progress 2/2, got %d/%d", lastDone, lastTotal)
	}

	var notes int
	if err := b.conn.QueryRow("SELECT count(*) FROM notes").Scan(&notes); err != nil {
		t.Fatal(err)
	}
	if notes != 1 {
		t.Errorf("Expected the colliding card to be skipped, got %d notes", notes)
	}
}

func TestAddMedia(t *testing.T) {
	b, err := NewBuilder(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	b.AddMedia("aaa.jpg", []byte("one"))
	b.AddMedia("bbb.mp3", []byte("two"))
	b.AddMedia("aaa.jpg", []byte("changed")) // re-register is a no-op

	if _, err := b.InsertCollectionMetadata(testTypes[:1], []string{"Word"}, false); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := b.WritePackage(&out); err != nil {
		t.Fatalf("WritePackage failed: %v", err)
	}
	archive := out.Bytes()

	manifest := readArchiveFile(t, archive, "media")
	var index map[string]string
	if err := json.Unmarshal(manifest, &index); err != nil {
		t.Fatalf("Manifest is not valid JSON: %v", err)
	}
	if len(index) != 2 || index["0"] != "aaa.jpg" || index["1"] != "bbb.mp3" {
		t.Errorf("Unexpected manifest %v", index)
	}
	if got := readArchiveFile(t, archive, "0"); string(got) != "one" {
		t.Errorf("Expected first payload kept, got %q", got)
	}
}

func TestSynthesizeTemplate(t *testing.T) {
	fields := newModelFields([]string{"Word", "Sentence", "Definitions", "Notes", "Images", "Audio"})

	t.Run("sentence types get a two-field question", func(t *testing.T) {
		tpl := synthesizeTemplate("Japanese Sentence Cards", fields, true)
		if !strings.Contains(tpl.QFmt, "{{Word}}") || !strings.Contains(tpl.QFmt, "{{Sentence}}") {
			t.Errorf("Expected two-field question, got %q", tpl.QFmt)
		}
		if strings.Contains(tpl.AFmt, "{{Audio}}") {
			t.Errorf("Expected answer capped at five fields, got %q", tpl.AFmt)
		}
	})

	t.Run("other types get first-field question and full answer", func(t *testing.T) {
		tpl := synthesizeTemplate("Vocab", fields, true)
		if tpl.QFmt != "{{Word}}" {
			t.Errorf("Expected single-field question, got %q", tpl.QFmt)
		}
		if !strings.Contains(tpl.AFmt, "{{Audio}}") {
			t.Errorf("Expected all remaining fields in the answer, got %q", tpl.AFmt)
		}
	})

	t.Run("templates disabled uses the generic shape", func(t *testing.T) {
		tpl := synthesizeTemplate("Anything Sentence", fields, false)
		if tpl.QFmt != "{{Word}}" {
			t.Errorf("Expected generic question, got %q", tpl.QFmt)
		}
	})

	t.Run("degenerate field lists fall back to a minimal template", func(t *testing.T) {
		tpl := synthesizeTemplate("Sentence", newModelFields([]string{"Only"}), true)
		if tpl.QFmt != "{{Only}}" {
			t.Errorf("Expected positional fallback, got %q", tpl.QFmt)
		}
		tpl = synthesizeTemplate("Sentence", nil, true)
		if tpl.QFmt != "{{Word}}" || !strings.Contains(tpl.AFmt, "{{Sentence}}") {
			t.Errorf("Expected Word/Sentence fallback, got %+v", tpl)
		}
	})
}
