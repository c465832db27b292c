package patch

import "testing"

type fakeFileIO struct {
	files map[string]string
}

func newFakeFileIO(files map[string]string) *fakeFileIO {
	return &fakeFileIO{files: files}
}

func (f *fakeFileIO) ReadFile(path string) (string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", errNotFound(path)
	}
	return content, nil
}

func (f *fakeFileIO) WriteFile(path string, content string) error {
	f.files[path] = content
	return nil
}

type notFoundErr string

func (e notFoundErr) Error() string { return "not found: " + string(e) }
func errNotFound(path string) error { return notFoundErr(path) }

// A matching operation replaces the first occurrence and counts as one
// applied operation.
func TestApplyReplacesFirstOccurrence(t *testing.T) {
	io := newFakeFileIO(map[string]string{"f.txt": "foo\nbar\nbaz\n"})
	p, err := Parse("*** Begin Patch\n*** Update File: f.txt\n@@\n-bar\n+BAR\n@@\n*** End Patch")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res := Apply(p, io)
	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if res.OperationsApplied != 1 {
		t.Fatalf("expected 1 operation applied, got %d", res.OperationsApplied)
	}
	if io.files["f.txt"] != "foo\nBAR\nbaz\n" {
		t.Fatalf("unexpected file content: %q", io.files["f.txt"])
	}
}

// A non-matching operation fails the patch, names the file, and leaves
// it untouched.
func TestApplyFailsWhenOldContentMissing(t *testing.T) {
	io := newFakeFileIO(map[string]string{"f.txt": "foo\nbar\nbaz\n"})
	p, err := Parse("*** Begin Patch\n*** Update File: f.txt\n@@\n-qux\n+QUX\n@@\n*** End Patch")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res := Apply(p, io)
	if res.Error == "" {
		t.Fatal("expected an error naming the file")
	}
	if !contains(res.Error, "f.txt") {
		t.Fatalf("expected error to name the file, got %q", res.Error)
	}
	if io.files["f.txt"] != "foo\nbar\nbaz\n" {
		t.Fatalf("expected file unchanged, got %q", io.files["f.txt"])
	}
}

func TestParseRequiresMarkers(t *testing.T) {
	if _, err := Parse("no markers here"); err == nil {
		t.Fatal("expected error for missing markers")
	}
	if _, err := Parse("*** Begin Patch\n*** End Patch"); err == nil {
		t.Fatal("expected error for zero Update File operations")
	}
}

func TestApplyMultiFileNoRollbackOnMidPatchFailure(t *testing.T) {
	io := newFakeFileIO(map[string]string{
		"a.txt": "alpha\n",
		"b.txt": "beta\n",
	})
	p, err := Parse(
		"*** Begin Patch\n" +
			"*** Update File: a.txt\n@@\n-alpha\n+ALPHA\n@@\n" +
			"*** Update File: b.txt\n@@\n-missing\n+BETA\n@@\n" +
			"*** End Patch")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res := Apply(p, io)
	if res.OperationsApplied != 1 {
		t.Fatalf("expected exactly 1 operation applied before failure, got %d", res.OperationsApplied)
	}
	if io.files["a.txt"] != "ALPHA\n" {
		t.Fatalf("expected a.txt to keep its earlier edit, got %q", io.files["a.txt"])
	}
	if io.files["b.txt"] != "beta\n" {
		t.Fatalf("expected b.txt unchanged, got %q", io.files["b.txt"])
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
