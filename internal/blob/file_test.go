package blob

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func docxFixture() []byte {
	payload := append([]byte("PK\x03\x04"), make([]byte, 64)...)
	payload = append(payload, []byte("[Content_Types].xml word/document.xml")...)
	return payload
}

func TestWriteThenRead(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	want := docxFixture()
	if err := store.Write("current.docx", want); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := store.Read("current.docx")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch: %d bytes vs %d", len(got), len(want))
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := store.Write("current.docx", docxFixture()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "current.docx" {
			t.Fatalf("unexpected file left behind: %s", e.Name())
		}
	}
}

func TestWriteReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := store.Write("current.docx", []byte("PK old")); err != nil {
		t.Fatalf("first Write failed: %v", err)
	}
	if err := store.Write("current.docx", docxFixture()); err != nil {
		t.Fatalf("second Write failed: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "current.docx"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, docxFixture()) {
		t.Fatalf("blob was not replaced")
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	for _, name := range []string{"", "../escape.docx", "a/b.docx", `a\b.docx`} {
		if err := store.Write(name, []byte("PK")); err == nil {
			t.Fatalf("Write(%q) should have been rejected", name)
		}
	}
}

func TestValidateDOCX(t *testing.T) {
	if err := ValidateDOCX(docxFixture()); err != nil {
		t.Fatalf("valid fixture rejected: %v", err)
	}

	cases := map[string][]byte{
		"empty":           nil,
		"not zip":         []byte("hello world [Content_Types].xml word/document.xml"),
		"missing entries": append([]byte("PK\x03\x04"), make([]byte, 32)...),
	}
	for name, data := range cases {
		if err := ValidateDOCX(data); err == nil {
			t.Fatalf("%s: expected rejection", name)
		}
	}
}
