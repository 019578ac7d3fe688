package expression

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	refPrefix    = "__ref"
	durationCall = "DURATION"
	timeVariable = "TIME"
)

var durationUnits = map[string]float64{
	"ms": 0.001,
	"s":  1,
	"m":  60,
	"h":  3600,
	"d":  86400,
	"w":  7 * 86400,
}

// normalized is formula text rewritten into the dialect accepted by the expr parser.
type normalized struct {
	source string
	refs   []string
}

// normalize rewrites the rule dialect into expr syntax:
//   - [model;1] sensor references become __refN identifiers
//   - duration literals (15m, 1d) become DURATION(seconds)
//   - single = & | and <> become == && || !=
//   - AND/OR/NOT become keywords, TRUE/FALSE become literals
//   - identifiers used as calls are upper-cased
func normalize(text string) (normalized, error) {
	var (
		out  strings.Builder
		refs []string
		n    = len(text)
	)
	out.Grow(n + 16)

	for i := 0; i < n; {
		c := text[i]
		switch {
		case c == '\'' || c == '"':
			end, err := scanString(text, i)
			if err != nil {
				return normalized{}, err
			}
			out.WriteString(text[i:end])
			i = end
		case c == '[':
			end := strings.IndexByte(text[i+1:], ']')
			if end < 0 {
				return normalized{}, fmt.Errorf("%w: unterminated reference at %d", ErrSyntax, i)
			}
			ref := strings.TrimSpace(text[i+1 : i+1+end])
			if ref == "" {
				return normalized{}, fmt.Errorf("%w: empty reference at %d", ErrSyntax, i)
			}
			fmt.Fprintf(&out, "%s%d", refPrefix, len(refs))
			refs = append(refs, ref)
			i += end + 2
		case isDigit(c) || (c == '.' && i+1 < n && isDigit(text[i+1])):
			i = scanNumber(text, i, &out)
		case isIdentStart(c):
			i = scanIdentifier(text, i, &out)
		default:
			i = scanOperator(text, i, &out)
		}
	}
	return normalized{source: out.String(), refs: refs}, nil
}

func scanString(text string, start int) (int, error) {
	quote := text[start]
	for i := start + 1; i < len(text); i++ {
		switch text[i] {
		case '\\':
			i++
		case quote:
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: unterminated string at %d", ErrSyntax, start)
}

func scanNumber(text string, start int, out *strings.Builder) int {
	i := start
	n := len(text)
	for i < n && isDigit(text[i]) {
		i++
	}
	if i < n && text[i] == '.' {
		i++
		for i < n && isDigit(text[i]) {
			i++
		}
	}
	if i < n && (text[i] == 'e' || text[i] == 'E') {
		j := i + 1
		if j < n && (text[j] == '+' || text[j] == '-') {
			j++
		}
		if j < n && isDigit(text[j]) {
			i = j
			for i < n && isDigit(text[i]) {
				i++
			}
		}
	}
	number := text[start:i]

	unitEnd := i
	for unitEnd < n && isLetter(text[unitEnd]) {
		unitEnd++
	}
	if unitEnd > i && (unitEnd == n || !isIdentPart(text[unitEnd])) {
		if factor, ok := durationUnits[strings.ToLower(text[i:unitEnd])]; ok {
			value, err := strconv.ParseFloat(number, 64)
			if err == nil {
				fmt.Fprintf(out, "%s(%s)", durationCall, strconv.FormatFloat(value*factor, 'f', -1, 64))
				return unitEnd
			}
		}
	}
	out.WriteString(number)
	return i
}

func scanIdentifier(text string, start int, out *strings.Builder) int {
	i := start
	n := len(text)
	for i < n && isIdentPart(text[i]) {
		i++
	}
	word := text[start:i]
	member := start > 0 && text[start-1] == '.'
	if member {
		out.WriteString(word)
		return i
	}

	lower := strings.ToLower(word)
	switch lower {
	case "and", "or", "not", "true", "false":
		out.WriteString(lower)
		return i
	}

	j := i
	for j < n && (text[j] == ' ' || text[j] == '\t') {
		j++
	}
	if j < n && text[j] == '(' {
		out.WriteString(strings.ToUpper(word))
		return i
	}
	if strings.EqualFold(word, timeVariable) {
		out.WriteString(timeVariable)
		return i
	}
	out.WriteString(word)
	return i
}

func scanOperator(text string, i int, out *strings.Builder) int {
	c := text[i]
	var next byte
	if i+1 < len(text) {
		next = text[i+1]
	}
	switch {
	case c == '<' && next == '>':
		out.WriteString("!=")
		return i + 2
	case (c == '=' || c == '!' || c == '<' || c == '>') && next == '=':
		out.WriteByte(c)
		out.WriteByte('=')
		return i + 2
	case (c == '&' && next == '&') || (c == '|' && next == '|'):
		out.WriteByte(c)
		out.WriteByte(next)
		return i + 2
	case c == '=':
		out.WriteString("==")
	case c == '&':
		out.WriteString("&&")
	case c == '|':
		out.WriteString("||")
	default:
		out.WriteByte(c)
	}
	return i + 1
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isLetter(c byte) bool     { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentStart(c byte) bool { return isLetter(c) || c == '_' }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }
