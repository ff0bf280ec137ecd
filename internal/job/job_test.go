package job

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempGcode(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "job.gcode")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLocalFileJobSkipsCommentsAndBlanks(t *testing.T) {
	path := writeTempGcode(t, "G28 ; home\n\n; full comment\nG1 X10\nM105\n")
	j, err := NewLocalFileJob("test", path)
	if err != nil {
		t.Fatal(err)
	}
	if j.ActualLines() != 3 {
		t.Fatalf("ActualLines() = %d, want 3", j.ActualLines())
	}
	var got []string
	for {
		line, ok := j.GetNext()
		if !ok {
			break
		}
		got = append(got, line)
	}
	want := []string{"G28", "G1 X10", "M105"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
	if j.Active() {
		t.Fatalf("expected job inactive after exhaustion")
	}
}

func TestLocalStreamJobExhaustion(t *testing.T) {
	j := NewLocalStreamJob("test", strings.NewReader("G28\nG1 X1\n"))
	var count int
	for {
		_, ok := j.GetNext()
		if !ok {
			break
		}
		count++
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if j.ActualLines() != 2 {
		t.Fatalf("ActualLines() = %d, want 2", j.ActualLines())
	}
}

func TestSDFileJobNeverYieldsLines(t *testing.T) {
	j := NewSDFileJob("print.gco")
	if _, ok := j.GetNext(); ok {
		t.Fatalf("expected SDFileJob.GetNext to never yield a line")
	}
	j.SetProgress(50, 100)
	if j.Pos() != 50 || j.ActualLines() != 100 {
		t.Fatalf("pos/total = %d/%d, want 50/100", j.Pos(), j.ActualLines())
	}
	if !j.Active() {
		t.Fatalf("expected active while pos < total")
	}
	j.SetProgress(100, 100)
	if j.Active() {
		t.Fatalf("expected inactive once pos reaches total")
	}
}
