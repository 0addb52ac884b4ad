// Package section implements the section-addressable text protocol.
//
// A document is split on line boundaries into bounded chunks, each
// wrapped between a start marker carrying a unique id and a fixed end
// marker:
//
//	###SECTION:section1###
//	content lines
//	###ENDSECTION###
//
// Markers are recognized only when they occupy an entire line. The
// marked form is the update unit for every document mutation: an edit
// targets one section by id instead of resending the whole document.
package section

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/agentd-ai/agentd/internal/logging"
)

// EndMarker closes every section.
const EndMarker = "###ENDSECTION###"

// DefaultMaxChunkSize bounds section content so a single section fits
// comfortably in a completion context window.
const DefaultMaxChunkSize = 400

var (
	startPattern  = regexp.MustCompile(`^###SECTION:(\S+)###$`)
	markerPattern = regexp.MustCompile(`###SECTION:[^#]+###|###ENDSECTION###`)
)

// Section is one addressable region of a document.
type Section struct {
	ID      string
	Content string
}

// StartMarker renders the opening marker line for a section id.
func StartMarker(id string) string {
	return fmt.Sprintf("###SECTION:%s###", id)
}

// splitLines splits on newlines the way the rest of the protocol
// expects: a single trailing newline does not produce an empty final
// line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// splitIntoChunks splits text into chunks of at most maxChunkSize
// characters, preserving whole lines. A line longer than the limit
// becomes its own chunk, never split.
func splitIntoChunks(text string, maxChunkSize int) []string {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}

	var chunks []string
	current := ""
	started := false
	for _, line := range splitLines(text) {
		switch {
		case !started:
			current = line
			started = true
		case len(current)+len(line) <= maxChunkSize:
			current += "\n" + line
		default:
			chunks = append(chunks, strings.TrimRightFunc(current, unicode.IsSpace))
			current = line
		}
	}
	if started {
		chunks = append(chunks, strings.TrimRightFunc(current, unicode.IsSpace))
	}
	return chunks
}

// Wrap converts raw text into its marked form. Existing markers are
// stripped first so a marked document is never wrapped twice. Chunk
// ids are assigned sequentially: section1, section2, ...
func Wrap(text string, maxChunkSize int) string {
	if markerPattern.MatchString(text) {
		logging.Warn().Msg("text contains unexpected section markers; removing them")
		text = Unwrap(text)
	}

	var b strings.Builder
	for i, chunk := range splitIntoChunks(text, maxChunkSize) {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(StartMarker(fmt.Sprintf("section%d", i+1)))
		b.WriteString("\n")
		b.WriteString(chunk)
		b.WriteString("\n")
		b.WriteString(EndMarker)
	}
	b.WriteString("\n")
	return b.String()
}

// Unwrap removes every marker line, preserving all other lines and
// their order. Idempotent.
func Unwrap(text string) string {
	var kept []string
	for _, line := range splitLines(text) {
		trimmed := strings.TrimSpace(line)
		if startPattern.MatchString(trimmed) || trimmed == EndMarker {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// parsed is a section plus its marker line positions, used by Update
// and Reorder to splice content without touching surrounding lines.
type parsed struct {
	id      string
	content string
	start   int // index of the start-marker line
	end     int // index of the end-marker line
}

// splitKeepEnds splits text into lines that retain their trailing
// newline, mirroring what parse-and-splice operations need.
func splitKeepEnds(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func parseIndexed(text string) ([]parsed, []string) {
	lines := splitKeepEnds(text)
	var sections []parsed
	for i := 0; i < len(lines); i++ {
		m := startPattern.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		start := i
		var content []string
		i++
		for i < len(lines) && strings.TrimSpace(lines[i]) != EndMarker {
			content = append(content, lines[i])
			i++
		}
		if i >= len(lines) {
			// Unterminated section: malformed input, dropped.
			break
		}
		sections = append(sections, parsed{
			id:      m[1],
			content: strings.TrimRightFunc(strings.Join(content, ""), unicode.IsSpace),
			start:   start,
			end:     i,
		})
	}
	return sections, lines
}

// Parse scans a marked document and returns its sections in order,
// along with every line of the input (newlines preserved). Sections
// not closed before end-of-input are dropped.
func Parse(text string) ([]Section, []string) {
	indexed, lines := parseIndexed(text)
	sections := make([]Section, len(indexed))
	for i, s := range indexed {
		sections[i] = Section{ID: s.id, Content: s.content}
	}
	return sections, lines
}

// Update replaces the content of the section with targetID. If no such
// section exists the body is appended as a new section at the end:
// under targetID itself when it is non-empty and unused, otherwise
// under the next unused sectionN id. A miss is defined behavior, not
// an error. Reports whether an existing section was updated.
func Update(text, targetID, newBody string) (string, bool) {
	sections, lines := parseIndexed(text)
	for _, sec := range sections {
		if sec.id != targetID {
			continue
		}
		var b strings.Builder
		for _, line := range lines[:sec.start+1] {
			b.WriteString(line)
		}
		b.WriteString(newBody)
		b.WriteString("\n")
		for _, line := range lines[sec.end:] {
			b.WriteString(line)
		}
		return b.String(), true
	}

	existing := make(map[string]bool, len(sections))
	for _, sec := range sections {
		existing[sec.id] = true
	}
	id := targetID
	if id == "" || existing[id] {
		for n := 1; ; n++ {
			candidate := fmt.Sprintf("section%d", n)
			if !existing[candidate] {
				id = candidate
				break
			}
		}
	}
	return text + fmt.Sprintf("\n%s\n%s\n%s\n", StartMarker(id), newBody, EndMarker), false
}

// Index returns the ordered list of section ids as they currently
// appear in the document.
func Index(text string) []string {
	sections, _ := Parse(text)
	ids := make([]string, len(sections))
	for i, sec := range sections {
		ids[i] = sec.ID
	}
	return ids
}

// Reorder re-renders sections in newOrder. Ids present in the document
// but absent from newOrder keep their original relative order after
// the reordered ones. Content is never altered, only position.
func Reorder(text string, newOrder []string) string {
	sections, _ := Parse(text)
	byID := make(map[string]string, len(sections))
	for _, sec := range sections {
		byID[sec.ID] = sec.Content
	}
	requested := make(map[string]bool, len(newOrder))

	var b strings.Builder
	write := func(id string) {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(StartMarker(id))
		b.WriteString("\n")
		b.WriteString(byID[id])
		b.WriteString("\n")
		b.WriteString(EndMarker)
	}

	for _, id := range newOrder {
		requested[id] = true
		if _, ok := byID[id]; ok {
			write(id)
		}
	}
	for _, sec := range sections {
		if !requested[sec.ID] {
			write(sec.ID)
		}
	}
	b.WriteString("\n")
	return b.String()
}
