package asm

import (
	"fmt"
	"strings"
	"unicode"
)

// Line is one normalized source line: either a label definition or an
// instruction, never both.
type Line struct {
	Num   int
	Label string
	Text  string
}

func (l Line) IsLabel() bool { return l.Label != "" }

// Preprocess strips comments, collapses whitespace and drops empty lines.
// "name: instr" is split into a label line followed by an instruction line.
func Preprocess(src string) ([]Line, error) {
	var out []Line
	for i, raw := range strings.Split(src, "\n") {
		num := i + 1
		text := strings.Join(strings.Fields(stripComments(raw)), " ")

		for text != "" {
			colon := strings.IndexByte(text, ':')
			if colon < 0 {
				break
			}
			name := strings.TrimSpace(text[:colon])
			if strings.ContainsAny(name, " [],") {
				break
			}
			if !isIdentifier(name) {
				return nil, fmt.Errorf("invalid label '%s' on line %d", name, num)
			}
			out = append(out, Line{Num: num, Label: name})
			text = strings.TrimSpace(text[colon+1:])
		}

		if text != "" {
			out = append(out, Line{Num: num, Text: text})
		}
	}
	return out, nil
}

func stripComments(line string) string {
	if cut := strings.IndexAny(line, ";#"); cut >= 0 {
		return line[:cut]
	}
	return line
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' && r != '.' {
				return false
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' {
			return false
		}
	}
	return true
}
