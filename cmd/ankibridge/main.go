package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/conorfennell/ankibridge/internal/config"
	"github.com/conorfennell/ankibridge/internal/export"
	"github.com/conorfennell/ankibridge/internal/fieldmap"
	"github.com/conorfennell/ankibridge/internal/media"
	"github.com/conorfennell/ankibridge/internal/srcdb"
)

func main() {
	flags := config.Flags()
	decksFlag := flags.String("decks", "", "Comma-separated deck ids to export (default: all)")
	listFlag := flags.Bool("list", false, "List decks and exit")
	wordlistsFlag := flags.Bool("wordlists", false, "Export wordlist CSVs instead of packages")
	langFlag := flags.String("lang", "", "Language filter for wordlist export")

	if err := flags.Parse(os.Args[1:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}
	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	src, err := srcdb.Open(cfg.Source)
	if err != nil {
		log.Fatalf("Failed to open source database: %v", err)
	}
	defer src.Close()

	if *listFlag {
		for _, d := range src.ListDecks() {
			fmt.Printf("%d\t%s\t%s\n", d.ID, d.Lang, d.Name)
		}
		return
	}

	if *wordlistsFlag {
		if err := exportWordlists(src, cfg, *langFlag); err != nil {
			log.Fatalf("Wordlist export failed: %v", err)
		}
		return
	}

	deckIDs, err := selectDecks(src, *decksFlag)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if len(deckIDs) == 0 {
		log.Fatal("No decks to export")
	}

	cache, err := media.OpenCache(cfg.CacheDir)
	if err != nil {
		log.Fatalf("Failed to open media cache: %v", err)
	}

	var tokens *media.TokenSource
	if cfg.TokenURL != "" && cfg.RefreshToken != "" {
		tokens = media.NewTokenSource(http.DefaultClient, cfg.TokenURL, cfg.RefreshToken)
	}
	fetcher := media.NewFetcher(http.DefaultClient, cfg.MediaBaseURL, tokens)
	resolver := media.NewResolver(cache, fetcher, media.Options{
		Convert:       cfg.ConvertMedia,
		ConvertImages: cfg.EnableImageConversion,
		MaxDimension:  cfg.ImageMaxDimension,
		Quality:       cfg.ImageQuality,
		MaxBytes:      cfg.MaxMediaSizeBytes(),
		Workers:       cfg.MediaWorkerCount,
	})

	exporter := export.New(src, cache, resolver, fieldmap.NewStore(cfg.Mappings),
		export.Options{
			Fields: fieldmap.Options{
				IncludeImages: cfg.IncludeImages,
				IncludeAudio:  cfg.IncludeAudio,
				KeepSyntax:    cfg.KeepSyntax,
			},
			MergeSelected: cfg.MergeSelected,
			UseTemplates:  cfg.UseTemplates,
		},
		cfg.Output, logProgress())

	if err := exporter.Run(context.Background(), deckIDs); err != nil {
		log.Fatalf("Export failed: %v", err)
	}
}

// selectDecks parses the --decks flag, defaulting to every deck.
func selectDecks(src *srcdb.DB, spec string) ([]int64, error) {
	if spec == "" {
		var ids []int64
		for _, d := range src.ListDecks() {
			ids = append(ids, d.ID)
		}
		return ids, nil
	}
	var ids []int64
	for _, part := range strings.Split(spec, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid deck id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func exportWordlists(src *srcdb.DB, cfg *config.Config, lang string) error {
	exporter := export.New(src, nil, nil, fieldmap.NewStore(cfg.Mappings),
		export.Options{}, cfg.Output, nil)

	out, err := os.Create(filepath.Join(cfg.Output, "wordlists.zip"))
	if err != nil {
		return err
	}
	if err := exporter.WriteWordlists(out, lang); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// logProgress reports phase changes and coarse in-phase progress.
func logProgress() export.ProgressFunc {
	var lastPhase export.Phase = -1
	return func(phase export.Phase, done, total int) {
		if phase != lastPhase {
			lastPhase = phase
			slog.Info("export phase", "phase", phase.String())
		}
		if total > 0 && (done == total || done%50 == 0) {
			slog.Info("progress", "phase", phase.String(), "done", done, "total", total)
		}
	}
}
