package stages

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blazemigrate/blazemigrate/internal/pipeline"
)

func TestBuildLoadCommand(t *testing.T) {
	fmtSpec := pipeline.RowFormat{FieldTerminator: ",", FieldWrapper: "\"", LineTerminator: "\n"}
	got := buildLoadCommand("stream 'xyz'", "db.orders", fmtSpec)
	want := "load data stream 'xyz' into table db.orders fields terminated by ',' enclosed by '\"' lines terminated by '\n'"
	if got != want {
		t.Fatalf("buildLoadCommand mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestFileImportStageShouldRaiseWarning(t *testing.T) {
	fmtSpec := pipeline.RowFormat{FieldTerminator: ",", LineTerminator: "\n"}
	s := &FileImportStage{}

	trailing := filepath.Join(t.TempDir(), "trailing.dat")
	if err := os.WriteFile(trailing, []byte("1,2,\n3,4,\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	raise, err := s.shouldRaiseWarning(trailing, fmtSpec)
	if err != nil {
		t.Fatal(err)
	}
	if raise {
		t.Fatalf("expected trailing terminator on first line to suppress the warning")
	}

	clean := filepath.Join(t.TempDir(), "clean.dat")
	if err := os.WriteFile(clean, []byte("1,2\n3,4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	raise, err = s.shouldRaiseWarning(clean, fmtSpec)
	if err != nil {
		t.Fatal(err)
	}
	if !raise {
		t.Fatalf("expected missing trailing terminator to raise the warning")
	}
}

func TestFileOutputStageFilePath(t *testing.T) {
	s := &FileOutputStage{UploadFolder: "/data/user1", UserFolder: "batch1", FileExt: "dat"}
	got := s.filePath("orders", 3)
	want := "/data/user1/batch1/orders_3.dat"
	if got != want {
		t.Fatalf("filePath mismatch:\ngot:  %q\nwant: %q", got, want)
	}

	noFolder := &FileOutputStage{UploadFolder: "/data/user1", FileExt: "dat"}
	got = noFolder.filePath("orders", 3)
	want = "/data/user1/orders_3.dat"
	if got != want {
		t.Fatalf("filePath mismatch without UserFolder:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestFileImportStageImportPathRejectsEscape(t *testing.T) {
	s := &FileImportStage{UploadFolder: "/data/user1"}

	rel, err := s.importPath("/data/user1/orders_0.dat")
	if err != nil {
		t.Fatal(err)
	}
	if rel != "orders_0.dat" {
		t.Fatalf("expected relative path, got %q", rel)
	}

	if _, err := s.importPath("/data/other/orders_0.dat"); err == nil {
		t.Fatalf("expected error for path escaping upload folder")
	}
}
