// Package pff parses the loader-facing subset of entry application
// descriptors: INI-style sections of Key=Value pairs. Only the pairs the
// loader needs are interpreted; everything else passes through untouched
// for the engine to consume.
package pff

import (
	"path"
	"strings"
)

// Section and key names the loader reads. Lookups are case-insensitive,
// matching how descriptor files are written in the wild.
const (
	SectionRunInfo = "Run Information"
	SectionFiles   = "Files"

	KeyApplication = "Application"
	KeyInputData   = "InputData"
	KeyAppType     = "AppType"
	KeyVersion     = "Version"
)

// File is one parsed descriptor.
type File struct {
	sections map[string]map[string]string
}

// Parse reads descriptor content. The parser is tolerant: unknown lines,
// comments and duplicate keys (last wins) never fail. A UTF-8 BOM on the
// first line is stripped.
func Parse(content string) *File {
	f := &File{sections: make(map[string]map[string]string)}

	content = strings.TrimPrefix(content, "\uFEFF")
	section := ""

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			if _, ok := f.sections[section]; !ok {
				f.sections[section] = make(map[string]string)
			}
			continue
		}

		eq := strings.Index(line, "=")
		if eq < 1 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:eq]))
		value := strings.TrimSpace(line[eq+1:])

		if _, ok := f.sections[section]; !ok {
			f.sections[section] = make(map[string]string)
		}
		f.sections[section][key] = value
	}

	return f
}

// Get returns the value for a key inside a section, case-insensitively.
func (f *File) Get(section, key string) (string, bool) {
	s, ok := f.sections[strings.ToLower(section)]
	if !ok {
		return "", false
	}
	v, ok := s[strings.ToLower(key)]
	return v, ok
}

// Application returns the questionnaire definition path named by the
// descriptor, or "" if absent.
func (f *File) Application() string {
	v, _ := f.Get(SectionFiles, KeyApplication)
	return v
}

// InputData returns the input data file path named by the descriptor.
func (f *File) InputData() string {
	v, _ := f.Get(SectionFiles, KeyInputData)
	return v
}

// AppType returns the descriptor's application type, e.g. "Entry".
func (f *File) AppType() string {
	v, _ := f.Get(SectionRunInfo, KeyAppType)
	return v
}

// AppName derives a human-readable application name from the descriptor:
// the stem of the Application path. Returns "" when no application is named.
func (f *File) AppName() string {
	return Stem(f.Application())
}

// Stem returns the final path element without its extension. Descriptor
// paths use either slash flavor and often a leading ".\" prefix.
func Stem(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}
