package sequencer

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokLParen
	tokRParen
	tokLBrace
	tokRBrace
	tokComma
	tokSemi
	tokArrow
	tokAssign
	tokPlus
	tokMinus
)

var tokenNames = map[tokenKind]string{
	tokEOF:    "end of line",
	tokIdent:  "name",
	tokNumber: "number",
	tokString: "string",
	tokLParen: "'('",
	tokRParen: "')'",
	tokLBrace: "'{'",
	tokRBrace: "'}'",
	tokComma:  "','",
	tokSemi:   "';'",
	tokArrow:  "'->'",
	tokAssign: "'='",
	tokPlus:   "'+'",
	tokMinus:  "'-'",
}

func (k tokenKind) String() string {
	return tokenNames[k]
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits a macro line into tokens. String literals use single or
// double quotes; an r prefix disables escapes.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++

		case c == '#':
			i = len(src)

		case (c == 'r' || c == 'R') && i+1 < len(src) && (src[i+1] == '"' || src[i+1] == '\''):
			text, end, err := lexString(src, i+1, true)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: text, pos: i})
			i = end

		case c == '"' || c == '\'':
			text, end, err := lexString(src, i, false)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: text, pos: i})
			i = end

		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], pos: start})

		case c >= '0' && c <= '9' || c == '.' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9':
			start := i
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], pos: start})

		case c == '-' && i+1 < len(src) && src[i+1] == '>':
			toks = append(toks, token{kind: tokArrow, text: "->", pos: i})
			i += 2

		default:
			kind, ok := punctuation[c]
			if !ok {
				return nil, &ParseError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
			}
			toks = append(toks, token{kind: kind, text: string(c), pos: i})
			i++
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

var punctuation = map[byte]tokenKind{
	'(': tokLParen,
	')': tokRParen,
	'{': tokLBrace,
	'}': tokRBrace,
	',': tokComma,
	';': tokSemi,
	'=': tokAssign,
	'+': tokPlus,
	'-': tokMinus,
}

// lexString reads the literal whose opening quote is at src[start] and
// returns its value and the index after the closing quote.
func lexString(src string, start int, raw bool) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	for i := start + 1; i < len(src); i++ {
		c := src[i]
		if c == quote {
			return b.String(), i + 1, nil
		}
		if c != '\\' || i+1 == len(src) {
			b.WriteByte(c)
			continue
		}
		next := src[i+1]
		if raw {
			// A raw string still cannot end in an escaped quote.
			b.WriteByte(c)
			if next == quote {
				b.WriteByte(next)
				i++
			}
			continue
		}
		i++
		switch next {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\', '"', '\'':
			b.WriteByte(next)
		default:
			b.WriteByte('\\')
			b.WriteByte(next)
		}
	}
	return "", 0, &ParseError{Pos: start, Msg: "unterminated string"}
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

// quote renders s as a double-quoted literal the lexer reads back as s.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`, "\r", `\r`)
	return `"` + r.Replace(s) + `"`
}
