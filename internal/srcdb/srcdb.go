// Package srcdb reads a Migaku SRS database. All accessors are
// read-only and tolerate schema drift between app versions: a failed
// query returns an empty result instead of an error, so an export can
// proceed with whatever tables are present.
package srcdb

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/conorfennell/ankibridge/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// DB wraps a read-only connection to the source database.
type DB struct {
	conn *sql.DB
	// tmp is the path of the decompressed copy, when the source file
	// was gzip-compressed. Removed on Close.
	tmp string
}

// Open opens the source database at path. The source app persists its
// database as a gzip-compressed SQLite file, so a gzip stream is
// transparently decompressed into a temporary file first.
func Open(path string) (*DB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source database: %w", err)
	}
	defer f.Close()

	var magic [2]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, fmt.Errorf("failed to read source database header: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind source database: %w", err)
	}

	dbPath := path
	tmp := ""
	if magic[0] == 0x1f && magic[1] == 0x8b {
		tmp, err = decompressToTemp(f)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress source database: %w", err)
		}
		dbPath = tmp
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		removeIfSet(tmp)
		return nil, fmt.Errorf("failed to open source database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		removeIfSet(tmp)
		return nil, fmt.Errorf("failed to connect to source database: %w", err)
	}

	return &DB{conn: conn, tmp: tmp}, nil
}

func decompressToTemp(r io.Reader) (string, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	out, err := os.CreateTemp("", "ankibridge-src-*.db")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

func removeIfSet(path string) {
	if path != "" {
		os.Remove(path)
	}
}

// Close closes the connection and removes the decompressed copy, if any.
func (db *DB) Close() error {
	err := db.conn.Close()
	removeIfSet(db.tmp)
	return err
}

// query runs a read-only query and hands each row to scan. Any failure
// is logged and swallowed; the rows scanned so far are kept.
func (db *DB) query(q string, scan func(*sql.Rows) error, args ...any) {
	rows, err := db.conn.Query(q, args...)
	if err != nil {
		slog.Debug("source query failed", "query", q, "error", err)
		return
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			slog.Debug("source row scan failed", "query", q, "error", err)
			return
		}
	}
}

// ListDecks returns all non-deleted decks.
func (db *DB) ListDecks() []domain.Deck {
	var decks []domain.Deck
	db.query("SELECT id, lang, name, del FROM deck", func(rows *sql.Rows) error {
		var d domain.Deck
		if err := rows.Scan(&d.ID, &d.Lang, &d.Name, &d.Deleted); err != nil {
			return err
		}
		if !d.Deleted {
			decks = append(decks, d)
		}
		return nil
	})
	return decks
}

// ListCardsForDeck returns all non-deleted cards belonging to a deck.
func (db *DB) ListCardsForDeck(deckID int64) []domain.Card {
	var cards []domain.Card
	db.query(`SELECT id, mod, del, cardTypeId, created, primaryField, secondaryField,
		fields, words, due, interval, factor, lastReview, reviewCount, passCount,
		failCount, suspended FROM card WHERE deckId=?`,
		func(rows *sql.Rows) error {
			c := domain.Card{DeckID: deckID}
			if err := rows.Scan(&c.ID, &c.Mod, &c.Deleted, &c.CardTypeID, &c.Created,
				&c.PrimaryField, &c.SecondaryField, &c.Fields, &c.Words, &c.Due,
				&c.Interval, &c.Factor, &c.LastReview, &c.ReviewCount, &c.PassCount,
				&c.FailCount, &c.Suspended); err != nil {
				return err
			}
			if !c.Deleted {
				cards = append(cards, c)
			}
			return nil
		}, deckID)
	return cards
}

// ListReviews returns every row of the review history, including
// deleted ones; callers filter as needed.
func (db *DB) ListReviews() []domain.ReviewEvent {
	var reviews []domain.ReviewEvent
	db.query(`SELECT id, mod, del, day, interval, factor, cardId, duration, type,
		lapseIndex FROM review`,
		func(rows *sql.Rows) error {
			var r domain.ReviewEvent
			var typ int64
			if err := rows.Scan(&r.ID, &r.Mod, &r.Deleted, &r.Day, &r.Interval,
				&r.Factor, &r.CardID, &r.Duration, &typ, &r.LapseIndex); err != nil {
				return err
			}
			r.Type = domain.ReviewType(typ)
			reviews = append(reviews, r)
			return nil
		})
	return reviews
}

// ReviewHistoryDays returns the set of non-deleted day offsets present
// in the reviewHistory day-index table. An empty map means the table is
// absent or empty; callers then skip day filtering.
func (db *DB) ReviewHistoryDays() map[int64]bool {
	days := make(map[int64]bool)
	db.query("SELECT day FROM reviewHistory WHERE del = 0", func(rows *sql.Rows) error {
		var day int64
		if err := rows.Scan(&day); err != nil {
			return err
		}
		days[day] = true
		return nil
	})
	return days
}

// ListVocab returns the word list for one language, or for all
// languages when lang is empty.
func (db *DB) ListVocab(lang string) []domain.VocabEntry {
	const cols = `SELECT dictForm, secondary, partOfSpeech, language, mod, serverMod,
		del, knownStatus, hasCard, tracked FROM WordList`
	scan := func(entries *[]domain.VocabEntry) func(*sql.Rows) error {
		return func(rows *sql.Rows) error {
			var v domain.VocabEntry
			var status string
			if err := rows.Scan(&v.DictForm, &v.Secondary, &v.PartOfSpeech,
				&v.Language, &v.Mod, &v.ServerMod, &v.Deleted, &status,
				&v.HasCard, &v.Tracked); err != nil {
				return err
			}
			v.KnownStatus = domain.KnownStatus(status)
			*entries = append(*entries, v)
			return nil
		}
	}

	var entries []domain.VocabEntry
	if lang == "" {
		db.query(cols, scan(&entries))
	} else {
		db.query(cols+" WHERE language=?", scan(&entries), lang)
	}
	return entries
}

// cardTypeConfig is the JSON blob stored in card_type.config.
type cardTypeConfig struct {
	Fields []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"fields"`
}

// ListCardTypes returns every card type keyed by id, with its field
// list normalized: a missing or malformed definition becomes a single
// placeholder text field, and blank names/kinds are defaulted.
func (db *DB) ListCardTypes() map[int64]domain.CardType {
	types := make(map[int64]domain.CardType)
	db.query("SELECT id, del, lang, name, config FROM card_type", func(rows *sql.Rows) error {
		var ct domain.CardType
		var config string
		if err := rows.Scan(&ct.ID, &ct.Deleted, &ct.Lang, &ct.Name, &config); err != nil {
			return err
		}
		ct.Fields = normalizeFields(config)
		types[ct.ID] = ct
		return nil
	})
	return types
}

func normalizeFields(config string) []domain.FieldDef {
	var cfg cardTypeConfig
	if err := json.Unmarshal([]byte(config), &cfg); err != nil || len(cfg.Fields) == 0 {
		return []domain.FieldDef{{Name: "Field1", Kind: domain.FieldText}}
	}
	defs := make([]domain.FieldDef, 0, len(cfg.Fields))
	for i, f := range cfg.Fields {
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("Field%d", i+1)
		}
		kind := domain.FieldKind(f.Type)
		if kind == "" {
			kind = domain.FieldText
		}
		defs = append(defs, domain.FieldDef{Name: name, Kind: kind})
	}
	return defs
}
