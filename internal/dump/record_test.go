package dump

import (
	"testing"
)

func TestRecordAccessors(t *testing.T) {
	rec := Record{
		"Id":    int64(42),
		"Title": "hello",
		"Score": "not-coerced",
	}

	if got := rec.Int("Id"); got != 42 {
		t.Errorf("Int(Id) = %d, want 42", got)
	}
	if got := rec.Int("Score"); got != NotANumber {
		t.Errorf("Int(Score) on string value = %d, want NotANumber", got)
	}
	if got := rec.Int("Missing"); got != NotANumber {
		t.Errorf("Int(Missing) = %d, want NotANumber", got)
	}
	if got := rec.Str("Title"); got != "hello" {
		t.Errorf("Str(Title) = %q, want %q", got, "hello")
	}
	if got := rec.Str("Id"); got != "" {
		t.Errorf("Str(Id) on int value = %q, want empty", got)
	}
}

func TestHasValidID(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want bool
	}{
		{"positive", Record{"Id": int64(7)}, true},
		{"zero", Record{"Id": int64(0)}, true},
		{"negative", Record{"Id": int64(-1)}, false},
		{"not a number", Record{"Id": NotANumber}, false},
		{"absent", Record{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.HasValidID(); got != tt.want {
				t.Errorf("HasValidID() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	rec := Record{
		"Id":           "6",
		"PostTypeId":   "2",
		"ParentId":     "bogus",
		"Body":         "Anything about cooking.",
		"LastEditDate": "2014-01-02T12:00:00.000",
	}
	Normalize(rec, KindPost)

	if got := rec.ID(); got != 6 {
		t.Errorf("Id = %d, want 6", got)
	}
	if got := rec.Int("PostTypeId"); got != 2 {
		t.Errorf("PostTypeId = %d, want 2", got)
	}
	if got := rec.Int("ParentId"); got != NotANumber {
		t.Errorf("ParentId on non-numeric input = %d, want NotANumber", got)
	}
	if got := rec.Str("Body"); got != "Anything about cooking." {
		t.Errorf("Body = %q", got)
	}
	if _, ok := rec["LastEditDate"]; ok {
		t.Error("undeclared field LastEditDate survived normalization")
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	rec := Record{"Id": "9", "ViewCount": "44"}
	Normalize(rec, KindPost)
	Normalize(rec, KindPost)

	if got := rec.ID(); got != 9 {
		t.Errorf("Id after double normalize = %d, want 9", got)
	}
	if got := rec.Int("ViewCount"); got != 44 {
		t.Errorf("ViewCount after double normalize = %d, want 44", got)
	}
}

func TestNormalizeKeepsOnlySchemaFields(t *testing.T) {
	rec := Record{
		"Id":       "1",
		"PostId":   "3",
		"UserId":   "13",
		"Text":     "Related discussion.",
		"Score":    "4",
		"Whatever": "x",
	}
	Normalize(rec, KindComment)

	schema := SchemaFor(KindComment)
	for field := range rec {
		if _, ok := schema[field]; !ok {
			t.Errorf("field %q not in comment schema survived", field)
		}
	}
	if got := rec.Int("UserId"); got != 13 {
		t.Errorf("UserId = %d, want 13", got)
	}
}

func TestParseKindRoundTrip(t *testing.T) {
	for _, kind := range []RecordKind{KindPost, KindComment, KindUser, KindPostLink, KindVote} {
		got, err := ParseKind(kind.String())
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", kind.String(), err)
		}
		if got != kind {
			t.Errorf("ParseKind(%q) = %v, want %v", kind.String(), got, kind)
		}
	}
	if _, err := ParseKind("sebogus"); err == nil {
		t.Error("ParseKind accepted an unknown name")
	}
}
