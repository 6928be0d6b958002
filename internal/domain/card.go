package domain

// FieldSeparator joins the variable-length additional field values of a
// card into a single packed string. Anki uses the same control character
// between note fields, which keeps the split/join symmetric.
const FieldSeparator = "\x1f"

// FieldKind is the semantic type of a card-type field.
type FieldKind string

const (
	FieldText      FieldKind = "TEXT"
	FieldImage     FieldKind = "IMAGE"
	FieldAudio     FieldKind = "AUDIO"
	FieldAudioLong FieldKind = "AUDIO_LONG"
)

// IsMedia reports whether the field kind references a downloadable blob.
func (k FieldKind) IsMedia() bool {
	return k == FieldImage || k == FieldAudio || k == FieldAudioLong
}

// FieldDef declares a single named, typed field of a card type.
type FieldDef struct {
	Name string
	Kind FieldKind
}

// Deck is a named group of cards in the source database.
type Deck struct {
	ID      int64
	Lang    string
	Name    string
	Deleted bool
}

// Card represents a single flashcard row as stored by the source app.
// Due and LastReview are day offsets from the source epoch; their exact
// meaning depends on ReviewCount (see the sched package).
type Card struct {
	ID             int64
	DeckID         int64
	CardTypeID     int64
	Mod            int64
	Created        int64
	PrimaryField   string
	SecondaryField string
	// Fields holds the third and later field values, joined with
	// FieldSeparator, ordered to match the card type's field list.
	Fields      string
	Words       string
	Due         int64
	Interval    float64
	Factor      float64
	LastReview  int64
	ReviewCount int64
	PassCount   int64
	FailCount   int64
	Suspended   bool
	Deleted     bool
}

// CardType is a template definition shared by a group of cards.
// Fields is never empty: malformed definitions are normalized to a
// single placeholder text field at the read boundary.
type CardType struct {
	ID      int64
	Lang    string
	Name    string
	Deleted bool
	Fields  []FieldDef
}
