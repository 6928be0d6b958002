package ankipkg

import (
	"fmt"
	"strings"
)

// modelField is one field declaration inside a note-type model.
type modelField struct {
	Font   string   `json:"font"`
	Media  []string `json:"media"`
	Name   string   `json:"name"`
	Ord    int      `json:"ord"`
	RTL    bool     `json:"rtl"`
	Size   int      `json:"size"`
	Sticky bool     `json:"sticky"`
}

// cardTemplate is a question/answer template of a model.
type cardTemplate struct {
	Name  string `json:"name"`
	QFmt  string `json:"qfmt"`
	DID   *int64 `json:"did"`
	BAFmt string `json:"bafmt"`
	AFmt  string `json:"afmt"`
	Ord   int    `json:"ord"`
	BQFmt string `json:"bqfmt"`
}

// model is one entry of the col.models JSON object.
type model struct {
	CSS       string         `json:"css"`
	DID       int64          `json:"did"`
	Fields    []modelField   `json:"flds"`
	ID        int64          `json:"id"`
	LatexPost string         `json:"latexPost"`
	LatexPre  string         `json:"latexPre"`
	Mod       int64          `json:"mod"`
	Name      string         `json:"name"`
	Req       []any          `json:"req"`
	SortF     int            `json:"sortf"`
	Tags      []string       `json:"tags"`
	Templates []cardTemplate `json:"tmpls"`
	Type      int            `json:"type"`
	USN       int            `json:"usn"`
	Vers      []any          `json:"vers"`
}

func newModelFields(names []string) []modelField {
	fields := make([]modelField, 0, len(names))
	for i, name := range names {
		fields = append(fields, modelField{
			Font:  "Arial",
			Media: []string{},
			Name:  name,
			Ord:   i,
			Size:  20,
		})
	}
	return fields
}

func ref(name string) string { return "{{" + name + "}}" }

// synthesizeTemplate builds a question/answer template for a card type.
// With useTemplates set, a type whose name suggests sentence cards gets
// a two-field question side and a fuller answer; everything else gets a
// first-field question and remaining-fields answer. Any shape the field
// list can take degrades to minimalTemplate rather than failing.
func synthesizeTemplate(typeName string, fields []modelField, useTemplates bool) cardTemplate {
	if len(fields) < 2 {
		return minimalTemplate(fields)
	}

	if useTemplates && strings.Contains(strings.ToLower(typeName), "sentence") {
		answerFields := fields
		if len(answerFields) > 5 {
			answerFields = answerFields[:5]
		}
		var answer strings.Builder
		answer.WriteString(`{{FrontSide}}<hr id="answer"><br>`)
		for _, f := range answerFields {
			answer.WriteString(ref(f.Name) + "<br>")
		}
		return cardTemplate{
			Name: "Basic",
			QFmt: ref(fields[0].Name) + "<br>" + ref(fields[1].Name),
			AFmt: answer.String(),
		}
	}

	backs := make([]string, 0, len(fields)-1)
	for _, f := range fields[1:] {
		backs = append(backs, ref(f.Name))
	}
	return cardTemplate{
		Name: "Basic",
		QFmt: ref(fields[0].Name),
		AFmt: `{{FrontSide}}<hr id="answer"><br>` + strings.Join(backs, "<br>"),
	}
}

// minimalTemplate is the two-field fallback using positional names.
func minimalTemplate(fields []modelField) cardTemplate {
	front, back := "Word", "Sentence"
	if len(fields) > 0 {
		front = fields[0].Name
	}
	if len(fields) > 1 {
		back = fields[1].Name
	}
	return cardTemplate{
		Name: "Basic",
		QFmt: ref(front),
		AFmt: fmt.Sprintf(`{{FrontSide}}<hr id='answer'><br>{{%s}}`, back),
	}
}
