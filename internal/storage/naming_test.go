package storage

import (
	"errors"
	"testing"

	"github.com/starford/raido/internal/apperr"
)

func TestFileNameReversible(t *testing.T) {
	for i := 0; i < 100; i++ {
		ref := NewRef()
		for _, entity := range []string{"Note", "JournalEntry", "A1"} {
			name := FileName(entity, ref, DefaultExtension)
			gotEntity, gotRef, err := SplitFileName(name, DefaultExtension)
			if err != nil {
				t.Fatalf("SplitFileName(%q): %v", name, err)
			}
			if gotEntity != entity || gotRef != ref {
				t.Fatalf("SplitFileName(%q) = %q, %q", name, gotEntity, gotRef)
			}
		}
	}
}

func TestSplitFileNameAcceptsHexRef(t *testing.T) {
	entity, ref, err := SplitFileName("JournalEntry_0123456789abcdef0123456789abcdef.rec", ".rec")
	if err != nil {
		t.Fatalf("SplitFileName: %v", err)
	}
	if entity != "JournalEntry" || ref != "0123456789abcdef0123456789abcdef" {
		t.Errorf("got %q, %q", entity, ref)
	}
}

func TestSplitFileNameInvalid(t *testing.T) {
	cases := []string{
		"Note.rec",
		"_0190a4b2-7c1e-7d3a-9f00-000000000001.rec",
		"Note_.rec",
		"Note_not-a-uuid.rec",
		"Journal_Entry_0190a4b2-7c1e-7d3a-9f00-000000000001.rec",
		"1Note_0190a4b2-7c1e-7d3a-9f00-000000000001.rec",
		"Note_0190a4b2-7c1e-7d3a-9f00-000000000001.txt",
	}
	for _, name := range cases {
		if _, _, err := SplitFileName(name, ".rec"); !errors.Is(err, apperr.ErrInvalidFileName) {
			t.Errorf("SplitFileName(%q) err = %v, want ErrInvalidFileName", name, err)
		}
	}
}

func TestNewRefUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 10000; i++ {
		r := NewRef()
		if _, dup := seen[r]; dup {
			t.Fatalf("duplicate ref %s", r)
		}
		seen[r] = struct{}{}
	}
}

func TestValidateRef(t *testing.T) {
	if err := ValidateRef(NewRef()); err != nil {
		t.Errorf("fresh ref rejected: %v", err)
	}
	for _, ref := range []string{"", "../../etc/passwd", "not-a-uuid", "a_b"} {
		if err := ValidateRef(ref); !errors.Is(err, apperr.ErrInvalidFileName) {
			t.Errorf("ValidateRef(%q) = %v, want ErrInvalidFileName", ref, err)
		}
	}
}
