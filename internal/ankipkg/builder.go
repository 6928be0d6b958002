// Package ankipkg assembles Anki .apkg packages: a collection database
// with translated rows, a media manifest, and the media payloads,
// bundled into a single zip archive.
package ankipkg

import (
	"archive/zip"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Registers the sqlite driver

	"github.com/conorfennell/ankibridge/internal/domain"
	"github.com/conorfennell/ankibridge/internal/sched"
)

// Builder accumulates one export unit: a fresh collection database plus
// the media referenced by its notes. A Builder is single-use; after
// WritePackage it cannot be filled further.
type Builder struct {
	conn *sql.DB
	path string
	now  time.Time

	// Media registered so far: key -> sequential archive filename
	// index, plus the payloads in index order.
	mediaIndex map[string]int
	mediaData  [][]byte
}

// NewBuilder creates an empty collection database in a temporary file.
func NewBuilder(now time.Time) (*Builder, error) {
	tmp, err := os.CreateTemp("", "ankibridge-pkg-*.anki2")
	if err != nil {
		return nil, fmt.Errorf("failed to create package database: %w", err)
	}
	path := tmp.Name()
	tmp.Close()

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to open package database: %w", err)
	}
	// Keep everything in the single database file so exporting it is a
	// plain file read.
	if _, err := conn.Exec("PRAGMA journal_mode=OFF"); err != nil {
		conn.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to configure package database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to apply package schema: %w", err)
	}

	return &Builder{
		conn:       conn,
		path:       path,
		now:        now,
		mediaIndex: make(map[string]int),
	}, nil
}

// Close releases the builder's database and temporary file.
func (b *Builder) Close() error {
	var err error
	if b.conn != nil {
		err = b.conn.Close()
		b.conn = nil
	}
	if b.path != "" {
		os.Remove(b.path)
		b.path = ""
	}
	return err
}

// AddMedia registers a media payload under its cache key, assigning the
// next sequential archive filename. Re-adding a key is a no-op, so the
// same payload is never written twice.
func (b *Builder) AddMedia(key string, data []byte) {
	if _, ok := b.mediaIndex[key]; ok {
		return
	}
	b.mediaIndex[key] = len(b.mediaData)
	b.mediaData = append(b.mediaData, data)
}

// modelID derives a collision-resistant model id from the export
// timestamp and the source card-type id: the first ten digits of the
// unix-millisecond clock prefix the type id.
func (b *Builder) modelID(cardTypeID int64) int64 {
	prefix := strconv.FormatInt(b.now.UnixMilli(), 10)[:10]
	id, _ := strconv.ParseInt(prefix+strconv.FormatInt(cardTypeID, 10), 10, 64)
	return id
}

// InsertCollectionMetadata writes the col row: collection config, one
// model per used card type (all sharing the mapped destination field
// list), the default deck and deck config. It returns the card-type to
// model id mapping used for note rows.
func (b *Builder) InsertCollectionMetadata(usedTypes []domain.CardType, fieldNames []string, useTemplates bool) (map[int64]int64, error) {
	if len(usedTypes) == 0 {
		return nil, fmt.Errorf("no card types to export")
	}

	modelIDs := make(map[int64]int64, len(usedTypes))
	for _, ct := range usedTypes {
		modelIDs[ct.ID] = b.modelID(ct.ID)
	}

	models := make(map[string]model, len(usedTypes))
	for _, ct := range usedTypes {
		fields := newModelFields(fieldNames)
		name := ct.Name
		if name == "" {
			name = "base"
		}
		id := modelIDs[ct.ID]
		models[strconv.FormatInt(id, 10)] = model{
			DID:       1,
			Fields:    fields,
			ID:        id,
			Mod:       b.now.Unix(),
			Name:      name,
			Req:       []any{},
			Tags:      []string{},
			Templates: []cardTemplate{synthesizeTemplate(ct.Name, fields, useTemplates)},
			USN:       -1,
			Vers:      []any{},
		}
	}

	conf := map[string]any{
		"curDeck":  1,
		"curModel": strconv.FormatInt(modelIDs[usedTypes[0].ID], 10),
	}
	decks := map[string]any{
		"1": map[string]any{
			"name": "Default", "extendRev": 10, "usn": -1,
			"collapsed": false, "browserCollapsed": false,
			"newToday": []int{0, 0}, "revToday": []int{0, 0},
			"lrnToday": []int{0, 0}, "timeToday": []int{0, 0},
			"dyn": 0, "extendNew": 10, "conf": 1, "id": 1,
			"mod": b.now.UnixMilli(), "desc": "",
		},
	}
	dconf := map[string]any{
		"1": map[string]any{
			"autoplay": false, "id": 1,
			"lapse": map[string]any{
				"delays": []int{10}, "leechAction": 0, "leechFails": 8,
				"minInt": 1, "mult": 0,
			},
			"maxTaken": 60, "mod": 0, "name": "Default",
			"new": map[string]any{
				"bury": true, "delays": []int{1, 10}, "initialFactor": 2500,
				"ints": []int{1, 4, 7}, "order": 1, "perDay": 20, "separate": true,
			},
			"replayq": true,
			"rev": map[string]any{
				"bury": true, "ease4": 1.3, "fuzz": 0.05, "ivlFct": 1,
				"maxIvl": 36500, "minSpace": 1, "perDay": 100,
			},
			"timer": 0, "usn": -1,
		},
	}

	confJSON, err := json.Marshal(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to encode collection config: %w", err)
	}
	modelsJSON, err := json.Marshal(models)
	if err != nil {
		return nil, fmt.Errorf("failed to encode models: %w", err)
	}
	decksJSON, err := json.Marshal(decks)
	if err != nil {
		return nil, fmt.Errorf("failed to encode decks: %w", err)
	}
	dconfJSON, err := json.Marshal(dconf)
	if err != nil {
		return nil, fmt.Errorf("failed to encode deck config: %w", err)
	}

	_, err = b.conn.Exec("INSERT INTO col VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		1, b.now.Unix(), b.now.UnixMilli(), b.now.UnixMilli(), 11, 0, 0,
		b.now.UnixMilli(), string(confJSON), string(modelsJSON),
		string(decksJSON), string(dconfJSON), "{}")
	if err != nil {
		return nil, fmt.Errorf("failed to insert collection metadata: %w", err)
	}
	return modelIDs, nil
}

// FillRevlog inserts translated review-log rows in one transaction.
func (b *Builder) FillRevlog(rows []sched.RevlogRow) error {
	tx, err := b.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin revlog transaction: %w", err)
	}
	for _, r := range rows {
		if _, err := tx.Exec("INSERT INTO revlog VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			r.ID, r.CardID, r.USN, r.Ease, r.Interval, r.LastInterval,
			r.Factor, r.TimeMs, r.Type); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert revlog row %d: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit revlog: %w", err)
	}
	return nil
}

// fieldChecksum is the first 8 hex digits of the SHA-1 of the joined
// field string, read as a 32-bit integer. Anki uses it to spot
// duplicate notes on import.
func fieldChecksum(fields string) int64 {
	sum := sha1.Sum([]byte(fields))
	n, _ := strconv.ParseUint(hex.EncodeToString(sum[:])[:8], 16, 32)
	return int64(n)
}

// BuildFields produces the ordered destination field values for a card
// of the given type.
type BuildFields func(card domain.Card, ct domain.CardType) []string

// FillNotesAndCards writes one note and one card row per source card,
// grouped by card type, inside a single transaction. buildFields is
// invoked per card and may register media via AddMedia. A failed note
// insert skips that card and continues; progress fires per card.
func (b *Builder) FillNotesAndCards(usedTypes []domain.CardType, cardsByType map[int64][]domain.Card, modelIDs map[int64]int64, buildFields BuildFields, progress func(done, total int)) error {
	total := 0
	for _, cards := range cardsByType {
		total += len(cards)
	}

	tx, err := b.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin notes transaction: %w", err)
	}

	done := 0
	for _, ct := range usedTypes {
		modelID := modelIDs[ct.ID]
		for _, card := range cardsByType[ct.ID] {
			fields := strings.Join(buildFields(card, ct), domain.FieldSeparator)

			_, err := tx.Exec("INSERT INTO notes VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
				card.ID, uuid.NewString(), modelID, card.Mod, -1, "",
				fields, 0, fieldChecksum(fields), 0, "")
			if err != nil {
				slog.Error("note insert failed, skipping card", "card", card.ID, "error", err)
				done++
				if progress != nil {
					progress(done, total)
				}
				continue
			}

			s := sched.Translate(card, b.now)
			_, err = tx.Exec("INSERT INTO cards VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
				card.ID, card.ID, 1, 0, card.Mod, -1, s.Type, s.Queue, s.Due,
				s.Interval, s.Factor, card.ReviewCount, card.FailCount,
				0, 0, 0, 0, "")
			if err != nil {
				slog.Error("card insert failed, skipping card", "card", card.ID, "error", err)
			}

			done++
			if progress != nil {
				progress(done, total)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit notes: %w", err)
	}
	return nil
}

// exportDB closes the collection database and returns its serialized
// bytes. The builder's connection is consumed.
func (b *Builder) exportDB() ([]byte, error) {
	if b.conn == nil {
		return nil, fmt.Errorf("package database already exported")
	}
	if err := b.conn.Close(); err != nil {
		b.conn = nil
		return nil, fmt.Errorf("failed to close package database: %w", err)
	}
	b.conn = nil

	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read package database: %w", err)
	}
	return data, nil
}

// WritePackage serializes the collection database and writes the full
// .apkg archive: the database, the media manifest, and one numbered
// file per registered media payload.
func (b *Builder) WritePackage(w io.Writer) error {
	dbBytes, err := b.exportDB()
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)

	entry, err := zw.Create(dbFilename)
	if err != nil {
		return fmt.Errorf("failed to create %s in archive: %w", dbFilename, err)
	}
	if _, err := entry.Write(dbBytes); err != nil {
		return fmt.Errorf("failed to write %s: %w", dbFilename, err)
	}

	manifest := make(map[string]string, len(b.mediaIndex))
	for key, idx := range b.mediaIndex {
		manifest[strconv.Itoa(idx)] = key
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to encode media manifest: %w", err)
	}
	entry, err = zw.Create(manifestFilename)
	if err != nil {
		return fmt.Errorf("failed to create media manifest: %w", err)
	}
	if _, err := entry.Write(manifestJSON); err != nil {
		return fmt.Errorf("failed to write media manifest: %w", err)
	}

	for idx, data := range b.mediaData {
		entry, err := zw.Create(strconv.Itoa(idx))
		if err != nil {
			return fmt.Errorf("failed to create media file %d: %w", idx, err)
		}
		if _, err := entry.Write(data); err != nil {
			return fmt.Errorf("failed to write media file %d: %w", idx, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}
