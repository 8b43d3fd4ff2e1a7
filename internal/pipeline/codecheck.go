package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

var securityPatterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"fetch(", regexp.MustCompile(`\bfetch\s*\(`)},
	{"eval(", regexp.MustCompile(`\beval\s*\(`)},
	{"require(", regexp.MustCompile(`\brequire\s*\(`)},
	{"import(", regexp.MustCompile(`\bimport\s*\(`)},
	{"process.", regexp.MustCompile(`\bprocess\s*\.`)},
	{"fs.", regexp.MustCompile(`\bfs\s*\.`)},
	{"child_process", regexp.MustCompile(`child_process`)},
}

var (
	fencedBlock     = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\n(.*?)```")
	returnComponent = regexp.MustCompile(`return\s+[A-Z][A-Za-z0-9_]*\s*;?\s*$`)
)

// ExtractCode returns the first fenced block of a reply, or the whole reply
// when it has no fences.
func ExtractCode(raw string) string {
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

// SecurityViolations lists forbidden constructs found in code.
func SecurityViolations(code string) []string {
	var out []string
	for _, p := range securityPatterns {
		if p.re.MatchString(code) {
			out = append(out, "forbidden construct "+p.label)
		}
	}
	return out
}

// ValidateCode returns every problem found; an empty slice means the code
// can be handed to the renderer.
func ValidateCode(code string) []string {
	code = strings.TrimSpace(code)
	if code == "" {
		return []string{"code is empty"}
	}
	problems := SecurityViolations(code)
	if !returnComponent.MatchString(code) {
		problems = append(problems, "code must end by returning a component, e.g. `return MyVideo;`")
	}
	if msg := checkBalance(code); msg != "" {
		problems = append(problems, msg)
	}
	return problems
}

// checkBalance matches brackets outside double-quoted and template strings
// and comments. Single quotes are ignored since JSX text uses apostrophes.
func checkBalance(code string) string {
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}
	var stack []byte
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c == '/' && i+1 < len(code) && code[i+1] == '/':
			for i < len(code) && code[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(code) && code[i+1] == '*':
			end := strings.Index(code[i+2:], "*/")
			if end < 0 {
				return "unterminated block comment"
			}
			i += end + 3
		case c == '"' || c == '`':
			j := i + 1
			for j < len(code) && code[j] != c {
				if code[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(code) {
				return fmt.Sprintf("unterminated string starting at offset %d", i)
			}
			i = j
		case c == '(' || c == '[' || c == '{':
			stack = append(stack, c)
		case c == ')' || c == ']' || c == '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[c] {
				return fmt.Sprintf("unbalanced %q at offset %d", c, i)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return fmt.Sprintf("%d unclosed bracket(s)", len(stack))
	}
	return ""
}
