package logger

import "testing"

func TestRedactEmail(t *testing.T) {
	cases := map[string]string{
		"john.doe@example.com": "jo***@example.com",
		"ab@example.com":       "***@example.com",
		"a@example.com":        "***@example.com",
		"not-an-email":         "***@***",
	}
	for in, want := range cases {
		if got := RedactEmail(in); got != want {
			t.Errorf("RedactEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWithMergesBoundFields(t *testing.T) {
	base := New()
	child := base.With("sender", "alice@example.com")
	grandchild := child.With("label", "@ToImbox")

	if len(child.fields) != 2 {
		t.Fatalf("expected 2 bound fields on child, got %d", len(child.fields))
	}
	if len(grandchild.fields) != 4 {
		t.Fatalf("expected 4 bound fields on grandchild, got %d", len(grandchild.fields))
	}
	// base is unmodified by child's With call
	if len(base.fields) != 0 {
		t.Fatalf("expected base fields untouched, got %d", len(base.fields))
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != DEBUG {
		t.Error("expected debug to parse to DEBUG")
	}
	if ParseLevel("bogus") != INFO {
		t.Error("expected unrecognized level to default to INFO")
	}
}
