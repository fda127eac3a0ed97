package vanguard

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

// NormalizePath collapses volatile path segments so structurally identical
// failures share a fingerprint. Numeric ids and UUIDs become {id}; query
// strings are dropped.
func NormalizePath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if s == "" {
			continue
		}
		if isNumericSegment(s) || isUUIDSegment(s) {
			segs[i] = "{id}"
		}
	}
	return strings.Join(segs, "/")
}

func isNumericSegment(s string) bool {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return true
	}
	return false
}

func isUUIDSegment(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// Fingerprint derives the incident identity from the normalized path, the
// error type, and the top user frame. The three parts are NUL-joined so
// no two distinct triples collide by concatenation.
func Fingerprint(path, errType, topUserFrame string) string {
	h := sha256.New()
	h.Write([]byte(NormalizePath(path)))
	h.Write([]byte{0})
	h.Write([]byte(errType))
	h.Write([]byte{0})
	h.Write([]byte(topUserFrame))
	return hex.EncodeToString(h.Sum(nil))
}

// Failure is one observed request failure, as captured by the middleware
// or reported by a handler.
type Failure struct {
	Endpoint   string
	Method     string
	RequestID  string
	ErrorType  string
	Message    string
	StatusCode int
	Panic      bool
	Stack      []byte
	Category   model.Category
	RemoteIP   string
	Labels     map[string]string
}

// Error types treated as dependency connection/timeout failures.
var dependencyErrorTypes = map[string]bool{
	"ConnectionError":  true,
	"DeadlineExceeded": true,
	"Unavailable":      true,
	"ConnectionReset":  true,
}

func isDependencyFailure(errType, message string) bool {
	if dependencyErrorTypes[errType] {
		return true
	}
	m := strings.ToLower(message)
	for _, frag := range []string{"connection refused", "connection reset", "i/o timeout", "no such host", "context deadline exceeded", "timed out"} {
		if strings.Contains(m, frag) {
			return true
		}
	}
	return false
}

// severityFor bands a failure. Admin diagnostics are GREEN regardless of
// cause; dependency connection/timeout failures are AMBER; panics and 5xx
// are RED; validation failures surface as YELLOW. Anything unclassified
// is an uncaught internal and stays RED.
func severityFor(f Failure) model.Severity {
	switch {
	case f.Category == model.CategoryAdmin:
		return model.SeverityGreen
	case isDependencyFailure(f.ErrorType, f.Message):
		return model.SeverityAmber
	case f.Panic || f.StatusCode >= 500:
		return model.SeverityRed
	case f.StatusCode >= 400:
		return model.SeverityYellow
	default:
		return model.SeverityRed
	}
}

// Frame is one parsed stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Ref is the frame's file:line form used in fingerprints and fix plans.
func (f Frame) Ref() string {
	return f.File + ":" + strconv.Itoa(f.Line)
}

// parseStack parses runtime/debug.Stack output into frames, innermost
// first. The goroutine header line is skipped; each frame is a function
// line followed by a tab-indented "file:line +0x..." line.
func parseStack(stack []byte) []Frame {
	lines := strings.Split(string(stack), "\n")
	var frames []Frame
	for i := 0; i < len(lines)-1; i++ {
		fn := strings.TrimSpace(lines[i])
		loc := lines[i+1]
		if fn == "" || strings.HasPrefix(fn, "goroutine ") || !strings.HasPrefix(loc, "\t") {
			continue
		}
		loc = strings.TrimSpace(loc)
		if j := strings.LastIndexByte(loc, ' '); j >= 0 {
			loc = loc[:j] // drop the +0x offset
		}
		colon := strings.LastIndexByte(loc, ':')
		if colon <= 0 {
			continue
		}
		line, err := strconv.Atoi(loc[colon+1:])
		if err != nil {
			continue
		}
		frames = append(frames, Frame{Function: fn, File: loc[:colon], Line: line})
		i++
	}
	return frames
}

// isPanicFrame matches the runtime's panic dispatch frame, printed as
// "panic(...)" on current toolchains and "runtime.gopanic" on older ones.
func isPanicFrame(fr Frame) bool {
	return strings.HasPrefix(fr.Function, "panic(") ||
		strings.HasPrefix(fr.Function, "runtime.gopanic") ||
		strings.HasSuffix(fr.File, "/runtime/panic.go")
}

// UserFrames returns the frames whose files fall under the allowed-edit
// roots, innermost first, with files rewritten relative to the root. For
// recovered panics everything above the runtime's panic frame is the
// recover machinery and is discarded so the panicking frame, not the
// recover site, leads.
func UserFrames(stack []byte, roots []string) []Frame {
	frames := parseStack(stack)
	for i, fr := range frames {
		if isPanicFrame(fr) {
			frames = frames[i+1:]
			break
		}
	}
	var out []Frame
	for _, fr := range frames {
		rel, ok := relativeToRoot(fr.File, roots)
		if !ok {
			continue
		}
		fr.File = rel
		out = append(out, fr)
	}
	return out
}

// relativeToRoot locates the first allowed root inside an absolute build
// path and returns the path from the root onward.
func relativeToRoot(file string, roots []string) (string, bool) {
	for _, root := range roots {
		root = strings.TrimSuffix(root, "/")
		if root == "" {
			continue
		}
		marker := "/" + root + "/"
		if i := strings.Index(file, marker); i >= 0 {
			return file[i+1:], true
		}
		if strings.HasPrefix(file, root+"/") {
			return file, true
		}
	}
	return "", false
}

// topUserFrame picks the deepest allowed frame's file:line, or "" when
// the stack never touches the allowed roots.
func topUserFrame(stack []byte, roots []string) string {
	frames := UserFrames(stack, roots)
	if len(frames) == 0 {
		return ""
	}
	return frames[0].Ref()
}
