// Package export drives a full export run: gathering cards, the policy
// gate, the media phase, row translation and packaging, per deck or as
// one merged package.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/conorfennell/ankibridge/internal/ankipkg"
	"github.com/conorfennell/ankibridge/internal/domain"
	"github.com/conorfennell/ankibridge/internal/fieldmap"
	"github.com/conorfennell/ankibridge/internal/media"
	"github.com/conorfennell/ankibridge/internal/sched"
	"github.com/conorfennell/ankibridge/internal/srcdb"
)

// Phase identifies where in the pipeline an export run currently is.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseGathering
	PhasePolicyCheck
	PhaseMedia
	PhaseTranslating
	PhasePackaging
	PhaseDone
	PhaseFailed
)

var phaseNames = map[Phase]string{
	PhaseIdle:        "idle",
	PhaseGathering:   "gathering cards",
	PhasePolicyCheck: "policy check",
	PhaseMedia:       "downloading media",
	PhaseTranslating: "converting cards",
	PhasePackaging:   "packaging",
	PhaseDone:        "done",
	PhaseFailed:      "failed",
}

func (p Phase) String() string { return phaseNames[p] }

// ErrPolicyViolation marks an export aborted by the content policy
// before any output was written.
var ErrPolicyViolation = errors.New(
	"Migaku Academy/Fundamentals course content is not allowed to be exported")

// forbiddenContent matches card-type names of protected course content.
var forbiddenContent = regexp.MustCompile(`(?i)\b(migaku|academy|fundamentals|course|lesson)\b`)

// CheckForbidden reports whether any card type's name matches the
// protected-content denylist.
func CheckForbidden(types []domain.CardType) bool {
	for _, ct := range types {
		if forbiddenContent.MatchString(ct.Name) {
			return true
		}
	}
	return false
}

// Options holds the per-run settings an Exporter honors.
type Options struct {
	Fields        fieldmap.Options
	MergeSelected bool
	UseTemplates  bool
	Product       string // archive filename prefix
}

// ProgressFunc receives phase transitions and fine-grained progress.
// done/total are zero at phase boundaries.
type ProgressFunc func(phase Phase, done, total int)

// Exporter wires the source database, the media cache and resolver, and
// the field mapping store into export runs. One Exporter serves one
// source database; runs execute sequentially.
type Exporter struct {
	src      *srcdb.DB
	cache    *media.Cache
	resolver *media.Resolver
	fields   *fieldmap.Store
	opts     Options
	outDir   string
	progress ProgressFunc
}

// New returns an exporter writing archives into outDir. progress may be
// nil. resolver may be nil when media is excluded entirely.
func New(src *srcdb.DB, cache *media.Cache, resolver *media.Resolver, fields *fieldmap.Store, opts Options, outDir string, progress ProgressFunc) *Exporter {
	if opts.Product == "" {
		opts.Product = "Migaku"
	}
	return &Exporter{
		src:      src,
		cache:    cache,
		resolver: resolver,
		fields:   fields,
		opts:     opts,
		outDir:   outDir,
		progress: progress,
	}
}

func (e *Exporter) report(phase Phase, done, total int) {
	if e.progress != nil {
		e.progress(phase, done, total)
	}
}

// Run exports the selected decks: one merged package when
// MergeSelected is set, otherwise one package per deck, sequentially.
// In per-deck mode a failed deck does not stop the remaining ones; the
// collected errors are returned together.
func (e *Exporter) Run(ctx context.Context, deckIDs []int64) error {
	e.report(PhaseGathering, 0, 0)
	decks := e.src.ListDecks()
	names := make(map[int64]string, len(decks))
	for _, d := range decks {
		names[d.ID] = d.Name
	}
	deckName := func(id int64) string {
		if name, ok := names[id]; ok {
			return name
		}
		return fmt.Sprintf("deck-%d", id)
	}

	if e.opts.MergeSelected {
		var cards []domain.Card
		parts := make([]string, 0, len(deckIDs))
		for _, id := range deckIDs {
			cards = append(cards, e.src.ListCardsForDeck(id)...)
			parts = append(parts, deckName(id))
		}
		name := "Merged - " + strings.Join(parts, " + ")
		if err := e.exportUnit(ctx, name, cards); err != nil {
			e.report(PhaseFailed, 0, 0)
			return err
		}
		e.report(PhaseDone, 0, 0)
		return nil
	}

	var errs []error
	for i, id := range deckIDs {
		name := deckName(id)
		slog.Info("exporting deck", "deck", name, "index", i+1, "count", len(deckIDs))
		if err := e.exportUnit(ctx, name, e.src.ListCardsForDeck(id)); err != nil {
			slog.Error("deck export failed", "deck", name, "error", err)
			errs = append(errs, fmt.Errorf("deck %q: %w", name, err))
		}
	}
	if len(errs) > 0 {
		e.report(PhaseFailed, 0, 0)
		return errors.Join(errs...)
	}
	e.report(PhaseDone, 0, 0)
	return nil
}

// exportUnit builds and writes a single archive for the given cards.
// Nothing is written before the policy gate passes.
func (e *Exporter) exportUnit(ctx context.Context, name string, cards []domain.Card) error {
	types := e.src.ListCardTypes()

	// Group by card type, keeping first-appearance order so model ids
	// and the current-model choice are stable for a given input. A card
	// referencing a card type the source no longer has gets a
	// placeholder type so it still exports, matching how the reader
	// normalizes a malformed definition.
	cardsByType := make(map[int64][]domain.Card)
	var used []domain.CardType
	for _, c := range cards {
		if _, ok := cardsByType[c.CardTypeID]; !ok {
			ct, ok := types[c.CardTypeID]
			if !ok {
				slog.Warn("card references a missing card type", "card", c.ID, "type", c.CardTypeID)
				ct = domain.CardType{
					ID:     c.CardTypeID,
					Fields: []domain.FieldDef{{Name: "Field1", Kind: domain.FieldText}},
				}
			}
			used = append(used, ct)
		}
		cardsByType[c.CardTypeID] = append(cardsByType[c.CardTypeID], c)
	}

	e.report(PhasePolicyCheck, 0, 0)
	if CheckForbidden(used) {
		return ErrPolicyViolation
	}

	fieldNames := e.fields.FieldNames()

	if e.resolver != nil && (e.opts.Fields.IncludeImages || e.opts.Fields.IncludeAudio) {
		e.report(PhaseMedia, 0, 0)
		paths := e.collectMediaPaths(cardsByType, types)
		e.resolver.ResolveAll(ctx, paths, func(done, total int) {
			e.report(PhaseMedia, done, total)
		})
	}

	builder, err := ankipkg.NewBuilder(time.Now())
	if err != nil {
		return fmt.Errorf("packaging failed: %w", err)
	}
	defer builder.Close()

	e.report(PhaseTranslating, 0, 0)
	if err := builder.FillRevlog(sched.BuildRevlog(e.filterReviews(cards))); err != nil {
		return fmt.Errorf("packaging failed: %w", err)
	}

	modelIDs, err := builder.InsertCollectionMetadata(used, fieldNames, e.opts.UseTemplates)
	if err != nil {
		return fmt.Errorf("packaging failed: %w", err)
	}

	resolve := func(raw string) string {
		key := media.Key(media.CleanPath(raw))
		data, err := e.cache.Get(key)
		if err != nil || data == nil {
			return ""
		}
		builder.AddMedia(key, data)
		return key
	}
	buildFields := func(card domain.Card, ct domain.CardType) []string {
		return fieldmap.BuildFieldValues(card, fieldNames, e.opts.Fields, resolve)
	}

	err = builder.FillNotesAndCards(used, cardsByType, modelIDs, buildFields,
		func(done, total int) { e.report(PhaseTranslating, done, total) })
	if err != nil {
		return fmt.Errorf("packaging failed: %w", err)
	}

	e.report(PhasePackaging, 0, 0)
	filename := fmt.Sprintf("%s - %s.apkg", e.opts.Product, sanitizeFilename(name))
	out, err := os.Create(filepath.Join(e.outDir, filename))
	if err != nil {
		return fmt.Errorf("packaging failed: %w", err)
	}
	if err := builder.WritePackage(out); err != nil {
		out.Close()
		os.Remove(out.Name())
		return fmt.Errorf("packaging failed: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("packaging failed: %w", err)
	}
	slog.Info("export complete", "archive", filename, "cards", len(cards))
	return nil
}

// filterReviews restricts the review history to the exported cards,
// and further to day offsets present in the review-history day index
// when that table has any rows.
func (e *Exporter) filterReviews(cards []domain.Card) []domain.ReviewEvent {
	cardIDs := make(map[int64]bool, len(cards))
	for _, c := range cards {
		cardIDs[c.ID] = true
	}
	days := e.src.ReviewHistoryDays()

	var filtered []domain.ReviewEvent
	for _, r := range e.src.ListReviews() {
		if r.Deleted || !cardIDs[r.CardID] {
			continue
		}
		if len(days) > 0 && !days[r.Day] {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// collectMediaPaths walks every card's raw field values against its
// type's declared field kinds and returns the distinct media paths to
// download, in first-appearance order.
func (e *Exporter) collectMediaPaths(cardsByType map[int64][]domain.Card, types map[int64]domain.CardType) []string {
	seen := make(map[string]bool)
	var paths []string

	for typeID, cards := range cardsByType {
		defs := types[typeID].Fields
		if len(defs) == 0 {
			defs = []domain.FieldDef{{Name: "Field1", Kind: domain.FieldText}}
		}
		for _, card := range cards {
			raw := []string{card.PrimaryField, card.SecondaryField}
			if card.Fields != "" {
				raw = append(raw, strings.Split(card.Fields, domain.FieldSeparator)...)
			}
			for i, value := range raw {
				if i >= len(defs) || strings.TrimSpace(value) == "" {
					continue
				}
				kind := defs[i].Kind
				wanted := (kind == domain.FieldImage && e.opts.Fields.IncludeImages) ||
					((kind == domain.FieldAudio || kind == domain.FieldAudioLong) && e.opts.Fields.IncludeAudio)
				if !wanted {
					continue
				}
				path := media.CleanPath(value)
				if !seen[path] {
					seen[path] = true
					paths = append(paths, path)
				}
			}
		}
	}
	return paths
}

// sanitizeFilename makes a deck name safe to use as a file name.
func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
