package flavor

import "testing"

type fakeState struct {
	sdListing bool
}

func (s fakeState) SDListingActive() bool                { return s.sdListing }
func (s fakeState) ResendRequested() (uint64, bool)       { return 0, false }
func (s fakeState) CurrentLine() uint64                   { return 0 }

func findMessage(f *Flavor, name string) *Message {
	for i := range f.Messages {
		if f.Messages[i].Name == name {
			return &f.Messages[i]
		}
	}
	return nil
}

func TestGenericCommOk(t *testing.T) {
	f := NewGeneric()
	m := findMessage(f, "comm_ok")
	cases := []struct {
		line  string
		match bool
	}{
		{"ok", true},
		{"ok T:200", true},
		{"okay", false},
		{"wait", false},
	}
	for _, c := range cases {
		res := m.Match(c.line, c.line, fakeState{})
		if res.Matched != c.match {
			t.Errorf("comm_ok(%q) matched=%v, want %v", c.line, res.Matched, c.match)
		}
	}
}

func TestGenericResendParse(t *testing.T) {
	f := NewGeneric()
	m := findMessage(f, "comm_resend")
	res := m.Match("Resend:42", "resend:42", fakeState{})
	if !res.Matched {
		t.Fatalf("expected Resend:42 to match comm_resend")
	}
	values, ok := m.Parse("Resend:42", "resend:42", fakeState{})
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if values["line_number"] != uint64(42) {
		t.Fatalf("line_number = %v, want 42", values["line_number"])
	}
}

func TestGenericTemperatureParse(t *testing.T) {
	f := NewGeneric()
	m := findMessage(f, "message_temperature")
	line := "T:200.0 /210.0 B:60.0 /65.0"
	res := m.Match(line, line, fakeState{})
	if !res.Matched || !res.ContinueFurther {
		t.Fatalf("expected temperature line to match and continue further")
	}
	values, ok := m.Parse(line, line, fakeState{})
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if values["T"] != 200.0 || values["B"] != 60.0 {
		t.Fatalf("unexpected actual values: %+v", values)
	}
	if values["T_target"] != 210.0 || values["B_target"] != 65.0 {
		t.Fatalf("unexpected target values: %+v", values)
	}
}

func TestGenericTemperatureParseWithoutTarget(t *testing.T) {
	f := NewGeneric()
	m := findMessage(f, "message_temperature")
	line := "T:200.0"
	values, ok := m.Parse(line, line, fakeState{})
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if values["T"] != 200.0 {
		t.Fatalf("unexpected actual value: %+v", values)
	}
	if _, ok := values["T_target"]; ok {
		t.Fatalf("did not expect a target value when the line carries none: %+v", values)
	}
}

func TestGenericSDEntryRequiresListingActive(t *testing.T) {
	f := NewGeneric()
	m := findMessage(f, "message_sd_entry")
	if res := m.Match("print.gco 12345", "print.gco 12345", fakeState{sdListing: false}); res.Matched {
		t.Fatalf("sd_entry should not match outside a listing")
	}
	if res := m.Match("print.gco 12345", "print.gco 12345", fakeState{sdListing: true}); !res.Matched {
		t.Fatalf("sd_entry should match during a listing")
	}
}

func TestMarlinIdentifier(t *testing.T) {
	f := NewMarlin()
	if !f.Identifier("", map[string]string{"FIRMWARE_NAME": "Marlin 2.0.9.3"}) {
		t.Fatalf("expected Marlin firmware info to identify as marlin")
	}
	if f.Identifier("", map[string]string{"FIRMWARE_NAME": "Repetier"}) {
		t.Fatalf("did not expect Repetier to identify as marlin")
	}
}

func TestMarlinEmitters(t *testing.T) {
	f := NewMarlin()
	hello := f.Emit.Hello()
	if hello == nil || hello.Raw() != "M115" {
		t.Fatalf("expected Marlin hello to be M115, got %+v", hello)
	}
	auto := f.Emit.AutoreportTemperature(2)
	if auto.Raw() != "M155 S2" {
		t.Fatalf("autoreport temperature = %q, want M155 S2", auto.Raw())
	}
	if !f.RequiresChecksum("M110") {
		t.Fatalf("expected M110 to require checksum on Marlin")
	}
}

func TestRegistryIdentify(t *testing.T) {
	r := NewRegistry(NewGeneric(), NewMarlin())
	got := r.Identify("", map[string]string{"FIRMWARE_NAME": "Marlin"})
	if got == nil || got.Name != "marlin" {
		t.Fatalf("expected registry to identify marlin, got %+v", got)
	}
	if r.Identify("", map[string]string{"FIRMWARE_NAME": "Unknown"}) != nil {
		t.Fatalf("expected no match for unknown firmware")
	}
}
