package pff

import "testing"

const sampleDescriptor = "\ufeff[Run Information]\r\n" +
	"Version=CSPro 7.7\r\n" +
	"AppType=Entry\r\n" +
	"\r\n" +
	"; operator defaults\r\n" +
	"[DataEntryInit]\r\n" +
	"Interactive=Ask\r\n" +
	"\r\n" +
	"[Files]\r\n" +
	`Application=.\Census.ent` + "\r\n" +
	`InputData=.\Data\Census.dat` + "\r\n"

func TestParse_Sections(t *testing.T) {
	f := Parse(sampleDescriptor)

	tests := []struct {
		section string
		key     string
		want    string
	}{
		{"Run Information", "Version", "CSPro 7.7"},
		{"Run Information", "AppType", "Entry"},
		{"DataEntryInit", "Interactive", "Ask"},
		{"Files", "Application", `.\Census.ent`},
		{"Files", "InputData", `.\Data\Census.dat`},
	}

	for _, tc := range tests {
		got, ok := f.Get(tc.section, tc.key)
		if !ok {
			t.Errorf("Get(%q, %q) missing", tc.section, tc.key)
			continue
		}
		if got != tc.want {
			t.Errorf("Get(%q, %q) = %q, want %q", tc.section, tc.key, got, tc.want)
		}
	}
}

func TestParse_CaseInsensitive(t *testing.T) {
	f := Parse(sampleDescriptor)

	if got, ok := f.Get("files", "APPLICATION"); !ok || got != `.\Census.ent` {
		t.Errorf("case-insensitive Get = %q, %v", got, ok)
	}
}

func TestParse_Tolerant(t *testing.T) {
	f := Parse("garbage line\n=novalue\n[Files]\nApplication=a.ent\nApplication=b.ent\n")

	// Unknown lines are skipped, duplicate keys keep the last value.
	if got := f.Application(); got != "b.ent" {
		t.Errorf("Application = %q, want b.ent", got)
	}

	if _, ok := f.Get("Files", "novalue"); ok {
		t.Error("line without a key must be skipped")
	}
}

func TestParse_Empty(t *testing.T) {
	f := Parse("")

	if got := f.Application(); got != "" {
		t.Errorf("Application on empty descriptor = %q", got)
	}
	if _, ok := f.Get("Files", "Application"); ok {
		t.Error("empty descriptor should have no values")
	}
}

func TestAccessors(t *testing.T) {
	f := Parse(sampleDescriptor)

	if got := f.Application(); got != `.\Census.ent` {
		t.Errorf("Application = %q", got)
	}
	if got := f.InputData(); got != `.\Data\Census.dat` {
		t.Errorf("InputData = %q", got)
	}
	if got := f.AppType(); got != "Entry" {
		t.Errorf("AppType = %q", got)
	}
	if got := f.AppName(); got != "Census" {
		t.Errorf("AppName = %q", got)
	}
}

func TestStem(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`.\Census.ent`, "Census"},
		{"apps/Census.ent", "Census"},
		{`C:\work\My Survey.ent`, "My Survey"},
		{"noext", "noext"},
		{"", ""},
		{".", ""},
	}

	for _, tc := range tests {
		if got := Stem(tc.in); got != tc.want {
			t.Errorf("Stem(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
