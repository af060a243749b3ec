// Package report derives the final-report pointer from raw tool-call traffic
// and artifact listings.
package report

import (
	"strings"

	"github.com/tidwall/gjson"

	"drmirror/internal/protocol"
)

var reportNames = map[string]struct{}{
	"final_report.md":  {},
	"final_reports.md": {},
	"report.md":        {},
}

// Qualifies reports whether path names a final report. The trailing segment
// (after stripping a leading "./") must match one of the known report names
// case-insensitively, and the full path must not pass through a "reports/"
// directory, which holds per-subagent intermediates.
func Qualifies(path string) bool {
	path = strings.TrimSpace(path)
	if path == "" {
		return false
	}
	trimmed := strings.TrimPrefix(path, "./")
	base := trimmed
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		base = trimmed[idx+1:]
	}
	if _, ok := reportNames[strings.ToLower(base)]; !ok {
		return false
	}
	return !hasReportsDir(path)
}

func hasReportsDir(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if strings.EqualFold(seg, "reports") {
			return true
		}
	}
	return false
}

func isFileWriteTool(name string) bool {
	name = strings.ToLower(name)
	return strings.Contains(name, "write_file") || strings.Contains(name, "append_file")
}

// CandidateFromCall extracts a qualifying report path from a write/append-file
// tool call. Arguments may be a structured object or a string-encoded JSON
// payload; failing both, the result text is scanned for a known report name.
func CandidateFromCall(toolName string, arguments []byte, resultText string) (string, bool) {
	if !isFileWriteTool(toolName) {
		return "", false
	}
	if path := pathFromArguments(arguments); path != "" && Qualifies(path) {
		return path, true
	}
	if path := pathFromText(resultText); path != "" {
		return path, true
	}
	return "", false
}

func pathFromArguments(arguments []byte) string {
	if len(arguments) == 0 {
		return ""
	}
	doc := gjson.ParseBytes(arguments)
	// A string-encoded payload parses as a JSON string holding the real object.
	if doc.Type == gjson.String {
		doc = gjson.Parse(doc.String())
	}
	for _, key := range []string{"path", "file_path", "filename"} {
		if v := doc.Get(key); v.Exists() {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

func pathFromText(text string) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	for name := range reportNames {
		idx := strings.Index(lower, name)
		if idx < 0 {
			continue
		}
		end := idx + len(name)
		if end < len(text) && !isPathBoundary(text[end]) {
			continue
		}
		// Expand left to the start of the path token.
		start := idx
		for start > 0 && !isPathBoundary(text[start-1]) {
			start--
		}
		candidate := text[start:end]
		if Qualifies(candidate) {
			return candidate
		}
	}
	return ""
}

func isPathBoundary(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '"', '\'', '`', '(', ')', '[', ']', '{', '}', ',', ':', ';':
		return true
	}
	return false
}

// Pointer is the tracked final report. ReloadToken increments whenever the
// pointer changes, invalidating any cached preview.
type Pointer struct {
	Path         string
	RelativePath string
	ReloadToken  int64
}

// Tracker holds the derived pointer and applies the precedence rule: a path
// found in a replaced artifact listing overwrites a call-derived one.
type Tracker struct {
	ptr Pointer
}

func (t *Tracker) Pointer() Pointer {
	return t.ptr
}

// ObserveCall feeds one tool call (or its result) to the heuristic. Returns
// true when the pointer changed.
func (t *Tracker) ObserveCall(toolName string, arguments []byte, resultText string) bool {
	path, ok := CandidateFromCall(toolName, arguments, resultText)
	if !ok {
		return false
	}
	return t.set(path, path)
}

// ObserveListing re-derives the pointer from a full artifact listing. A
// qualifying listed file always wins over the call-derived pointer.
func (t *Tracker) ObserveListing(files []protocol.ArtifactFile) bool {
	for _, f := range files {
		path := f.Path
		if path == "" {
			path = f.RelativePath
		}
		if !Qualifies(path) {
			continue
		}
		rel := f.RelativePath
		if rel == "" {
			rel = path
		}
		return t.set(path, rel)
	}
	return false
}

func (t *Tracker) set(path, rel string) bool {
	if t.ptr.Path == path && t.ptr.RelativePath == rel {
		return false
	}
	t.ptr.Path = path
	t.ptr.RelativePath = rel
	t.ptr.ReloadToken++
	return true
}

// Reset clears the tracked pointer on session switch.
func (t *Tracker) Reset() {
	t.ptr = Pointer{}
}
