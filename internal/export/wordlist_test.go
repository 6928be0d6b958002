package export

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"
)

func readWordlists(t *testing.T, e *Exporter, lang string) map[string]string {
	t.Helper()
	var buf bytes.Buffer
	if err := e.WriteWordlists(&buf, lang); err != nil {
		t.Fatalf("WriteWordlists failed: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("Wordlist archive did not open: %v", err)
	}
	files := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		files[f.Name] = string(data)
	}
	return files
}

func TestWriteWordlists(t *testing.T) {
	src := newSourceDB(t, []string{
		`INSERT INTO WordList VALUES ('食べる', 'たべる', 'verb', 'ja', 1, 1, 0, 'KNOWN', 1, 1)`,
		`INSERT INTO WordList VALUES ('飲む', 'のむ', 'verb', 'ja', 1, 1, 0, 'LEARNING', 0, 0)`,
		`INSERT INTO WordList VALUES ('ator "quote"', '', 'noun', 'ja', 1, 1, 0, 'UNKNOWN', 0, 0)`,
		`INSERT INTO WordList VALUES ('無視', 'むし', 'noun', 'ja', 1, 1, 0, 'IGNORED', 0, 0)`,
		`INSERT INTO WordList VALUES ('消えた', '', 'verb', 'ja', 1, 1, 1, 'KNOWN', 0, 0)`,
		`INSERT INTO WordList VALUES ('trinken', '', 'verb', 'de', 1, 1, 0, 'KNOWN', 0, 0)`,
	})
	e, _, _ := newTestExporter(t, src, Options{}, nil)

	files := readWordlists(t, e, "ja")

	for _, name := range []string{"unknown.csv", "ignored.csv", "learning.csv", "known.csv", "tracked.csv"} {
		body, ok := files[name]
		if !ok {
			t.Fatalf("Archive is missing %s", name)
		}
		if !strings.HasPrefix(body, wordlistHeader) {
			t.Errorf("%s does not start with the header: %q", name, body)
		}
	}

	t.Run("rows land in their status bucket", func(t *testing.T) {
		if got := files["known.csv"]; got != wordlistHeader+"\n"+`"食べる","たべる",1` {
			t.Errorf("Unexpected known.csv: %q", got)
		}
		if got := files["learning.csv"]; got != wordlistHeader+"\n"+`"飲む","のむ",0` {
			t.Errorf("Unexpected learning.csv: %q", got)
		}
		if got := files["ignored.csv"]; got != wordlistHeader+"\n"+`"無視","むし",0` {
			t.Errorf("Unexpected ignored.csv: %q", got)
		}
	})

	t.Run("embedded quotes are doubled", func(t *testing.T) {
		if got := files["unknown.csv"]; got != wordlistHeader+"\n"+`"ator ""quote""","",0` {
			t.Errorf("Unexpected unknown.csv: %q", got)
		}
	})

	t.Run("tracked words appear in tracked.csv as well", func(t *testing.T) {
		if got := files["tracked.csv"]; !strings.Contains(got, `"食べる"`) {
			t.Errorf("Expected the tracked word in tracked.csv, got %q", got)
		}
	})

	t.Run("deleted and other-language rows are excluded", func(t *testing.T) {
		all := strings.Join([]string{files["unknown.csv"], files["ignored.csv"],
			files["learning.csv"], files["known.csv"], files["tracked.csv"]}, "\n")
		if strings.Contains(all, "消えた") || strings.Contains(all, "trinken") {
			t.Errorf("Expected deleted and filtered rows to be absent:\n%s", all)
		}
	})
}
