package expr

import (
	"fmt"
	"regexp"
	"strings"
)

// RefKind distinguishes step output and variable references.
type RefKind int

const (
	RefStep RefKind = iota
	RefVariable
)

// Reference is one reference found in an expression.
type Reference struct {
	Kind RefKind
	// UID is the referenced step for RefStep.
	UID string
	// Name is the output name for RefStep and the variable id for RefVariable.
	Name string
	// Text is the reference as written.
	Text string
}

var (
	stepRefPattern = regexp.MustCompile(
		`^steps\s*\[\s*(?:'([^']*)'|"([^"]*)")\s*\]\s*\[\s*(?:'outputs'|"outputs")\s*\]\s*\[\s*(?:'([^']*)'|"([^"]*)")\s*\]`)
	varRefPattern = regexp.MustCompile(
		`^variables\s*(?:\[\s*(?:'([^']*)'|"([^"]*)")\s*\]|\.([A-Za-z_$][A-Za-z0-9_$]*))`)
)

func matchReference(s string) (Reference, int, bool) {
	if m := stepRefPattern.FindStringSubmatch(s); m != nil {
		return Reference{Kind: RefStep, UID: m[1] + m[2], Name: m[3] + m[4], Text: m[0]}, len(m[0]), true
	}
	if m := varRefPattern.FindStringSubmatch(s); m != nil {
		return Reference{Kind: RefVariable, Name: m[1] + m[2] + m[3], Text: m[0]}, len(m[0]), true
	}
	return Reference{}, 0, false
}

// References lists the references in expression in order of appearance,
// including those inside {{ }} placeholders. References inside string
// literals are not references.
func References(expression string) []Reference {
	var out []Reference
	collect := func(ref Reference) string {
		out = append(out, ref)
		return ""
	}
	if !strings.Contains(expression, "{{") {
		_, _ = scan(expression, collect)
		return out
	}
	rest := expression
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			return out
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			return out
		}
		_, _ = scan(rest[start+2:start+end], collect)
		rest = rest[start+end+2:]
	}
}

// translate rewrites a JavaScript-flavoured literal expression into HCL
// syntax. Each distinct reference is replaced by a generated variable name.
func translate(s string) (string, map[string]Reference, error) {
	refs := make(map[string]Reference)
	byText := make(map[string]string)
	out, err := scan(s, func(ref Reference) string {
		if name, ok := byText[ref.Text]; ok {
			return name
		}
		name := fmt.Sprintf("xref%d", len(refs))
		refs[name] = ref
		byText[ref.Text] = name
		return name
	})
	return out, refs, err
}

func scan(s string, onRef func(Reference) string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			lit, n, err := readString(s[i:])
			if err != nil {
				return "", err
			}
			b.WriteString(hclQuote(lit))
			i += n
		case isIdentStart(c) && (i == 0 || !isIdentChar(s[i-1])):
			if ref, n, ok := matchReference(s[i:]); ok {
				b.WriteString(onRef(ref))
				i += n
				continue
			}
			j := i
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			if word := s[i:j]; word == "undefined" {
				b.WriteString("null")
			} else {
				b.WriteString(word)
			}
			i = j
		case strings.HasPrefix(s[i:], "==="):
			b.WriteString("==")
			i += 3
		case strings.HasPrefix(s[i:], "!=="):
			b.WriteString("!=")
			i += 3
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

// readString decodes the quoted literal at the start of s and returns it with
// the number of bytes consumed.
func readString(s string) (string, int, error) {
	quote := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == quote:
			return b.String(), i + 1, nil
		case c == '\\' && i+1 < len(s):
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(s[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("unterminated string literal")
}

// hclQuote renders lit as an HCL quoted string with template sequences
// escaped.
func hclQuote(lit string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(lit); i++ {
		c := lit[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '$', '%':
			if i+1 < len(lit) && lit[i+1] == '{' {
				b.WriteByte(c)
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
