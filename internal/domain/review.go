package domain

// ReviewType classifies a single review event.
type ReviewType int

const (
	ReviewNew  ReviewType = 0
	ReviewFail ReviewType = 1
	ReviewPass ReviewType = 2
)

// ReviewEvent is one row of the source review history. Day is a day
// offset from the source epoch. Two events with the same
// (CardID, Day, Type) are counted once by the source app's statistics,
// so they must be collapsed before translation.
type ReviewEvent struct {
	ID         int64
	Mod        int64
	Day        int64
	Interval   float64
	Factor     float64
	CardID     int64
	Duration   float64
	Type       ReviewType
	LapseIndex int64
	Deleted    bool
}

// KnownStatus is a vocabulary entry's acquisition stage.
type KnownStatus string

const (
	StatusUnknown  KnownStatus = "UNKNOWN"
	StatusIgnored  KnownStatus = "IGNORED"
	StatusLearning KnownStatus = "LEARNING"
	StatusKnown    KnownStatus = "KNOWN"
)

// VocabEntry is one tracked word from the source word list.
type VocabEntry struct {
	DictForm     string
	Secondary    string
	PartOfSpeech string
	Language     string
	Mod          int64
	ServerMod    int64
	Deleted      bool
	KnownStatus  KnownStatus
	HasCard      bool
	Tracked      bool
}
