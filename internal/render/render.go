// Package render turns AI responses, which are markdown, into HTML and into
// a section outline.
package render

import (
	"bytes"
	"html/template"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Raw HTML in responses is not passed through; goldmark omits it unless
// html.WithUnsafe is set.
var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// HTML converts markdown to an HTML fragment. If conversion fails the
// escaped source is returned inside a <pre> block.
func HTML(src string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "<pre>" + template.HTMLEscapeString(src) + "</pre>"
	}
	return buf.String()
}

// Section is one heading of a response and the text under it.
type Section struct {
	Level int    `json:"level"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// headerPattern matches ATX headings at the start of a line.
var headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+([^\n]+?)[ \t]*#*[ \t]*$`)

// fencePattern matches fenced code delimiters with up to three spaces of indent.
var fencePattern = regexp.MustCompile("(?m)^[ ]{0,3}(`{3,}|~{3,})")

// fencedRanges returns [start, end) byte ranges of fenced code blocks. A
// closing fence must use the opening character and be at least as long.
func fencedRanges(text string) [][2]int {
	matches := fencePattern.FindAllStringSubmatchIndex(text, -1)
	var (
		ranges    [][2]int
		openChar  byte
		openLen   int
		openStart int
		inFence   bool
	)
	for _, m := range matches {
		fence := text[m[2]:m[3]]
		switch {
		case !inFence:
			openChar, openLen, openStart, inFence = fence[0], len(fence), m[0], true
		case fence[0] == openChar && len(fence) >= openLen:
			ranges = append(ranges, [2]int{openStart, m[1]})
			inFence = false
		}
	}
	if inFence {
		// An unclosed fence runs to the end of the text.
		ranges = append(ranges, [2]int{openStart, len(text)})
	}
	return ranges
}

func inside(pos int, ranges [][2]int) bool {
	for _, r := range ranges {
		if pos >= r[0] && pos < r[1] {
			return true
		}
	}
	return false
}

// Sections splits a response at its headings. Headings inside fenced code
// are ignored. Text before the first heading becomes a level-0 section with
// no title. Returns nil for empty input.
func Sections(text string) []Section {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	fences := fencedRanges(text)

	var heads [][]int
	for _, m := range headerPattern.FindAllStringSubmatchIndex(text, -1) {
		if !inside(m[0], fences) {
			heads = append(heads, m)
		}
	}

	var out []Section
	if len(heads) == 0 || strings.TrimSpace(text[:heads[0][0]]) != "" {
		end := len(text)
		if len(heads) > 0 {
			end = heads[0][0]
		}
		out = append(out, Section{Body: strings.TrimSpace(text[:end])})
	}
	for i, m := range heads {
		end := len(text)
		if i+1 < len(heads) {
			end = heads[i+1][0]
		}
		out = append(out, Section{
			Level: m[3] - m[2],
			Title: strings.TrimSpace(text[m[4]:m[5]]),
			Body:  strings.TrimSpace(text[m[1]:end]),
		})
	}
	return out
}

// Titles returns the titles of the headed sections.
func Titles(sections []Section) []string {
	var out []string
	for _, s := range sections {
		if s.Level > 0 {
			out = append(out, s.Title)
		}
	}
	return out
}
