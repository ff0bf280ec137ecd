package command

import "testing"

func TestToCommandGcode(t *testing.T) {
	tests := []struct {
		line       string
		wantCode   byte
		wantNumber int
		wantZ      string
	}{
		{"G28 Z0 F150", 'G', 28, ""},
		{"G1 Z10.5 F150", 'G', 1, "10.5"},
		{"M104 S200", 'M', 104, ""},
	}
	for _, tt := range tests {
		cmd := ToCommand(tt.line, "", nil)
		if cmd.Kind() != KindGcode {
			t.Fatalf("%q: got kind %v, want gcode", tt.line, cmd.Kind())
		}
		if cmd.Code() != tt.wantCode || cmd.Number() != tt.wantNumber {
			t.Fatalf("%q: got %c%d, want %c%d", tt.line, cmd.Code(), cmd.Number(), tt.wantCode, tt.wantNumber)
		}
		if tt.wantZ != "" {
			z, ok := cmd.Param('Z')
			if !ok || z != tt.wantZ {
				t.Fatalf("%q: got Z=%q,%v, want %q", tt.line, z, ok, tt.wantZ)
			}
		}
	}
}

func TestToCommandStripsComments(t *testing.T) {
	cmd := ToCommand("G28 Z0 ; home the Z axis", "", nil)
	if cmd.Raw() != "G28 Z0" {
		t.Fatalf("got raw %q, want %q", cmd.Raw(), "G28 Z0")
	}
}

func TestToCommandAtCommand(t *testing.T) {
	cmd := ToCommand("@pause", "", nil)
	if cmd.Kind() != KindAtCommand {
		t.Fatalf("got kind %v, want atcommand", cmd.Kind())
	}
	if cmd.Name() != "pause" {
		t.Fatalf("got name %q, want pause", cmd.Name())
	}
}

func TestToCommandGeneric(t *testing.T) {
	cmd := ToCommand("not a gcode line", "", nil)
	if cmd.Kind() != KindGeneric {
		t.Fatalf("got kind %v, want generic", cmd.Kind())
	}
}

func TestCommandTags(t *testing.T) {
	cmd := ToCommand("G28", "", []string{"source:file", "filepos:12"})
	if !cmd.HasTag("source:file") || !cmd.HasTag("filepos:12") {
		t.Fatalf("tags not preserved: %v", cmd.Tags())
	}
	if cmd.HasTag("nope") {
		t.Fatalf("unexpected tag present")
	}
}

func TestWithTypeAndTags(t *testing.T) {
	cmd := ToCommand("M105", "", nil)
	typed := cmd.WithType("temperature")
	if typed.Type() != "temperature" {
		t.Fatalf("got type %q, want temperature", typed.Type())
	}
	if cmd.Type() != "" {
		t.Fatalf("original command mutated")
	}
	tagged := cmd.WithTags("a", "b")
	if !tagged.HasTag("a") || !tagged.HasTag("b") {
		t.Fatalf("tags not added: %v", tagged.Tags())
	}
	if cmd.HasTag("a") {
		t.Fatalf("original command mutated by WithTags")
	}
}
