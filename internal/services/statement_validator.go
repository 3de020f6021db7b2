package services

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Verdict is the outcome of admission control for one SQL string.
type Verdict struct {
	Valid   bool
	Reason  string
	Keyword string
}

func reject(format string, args ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

type dangerousPattern struct {
	name string
	re   *regexp.Regexp
}

var dangerousPatterns = []dangerousPattern{
	{"statement chained after semicolon", regexp.MustCompile(`(?i);\s*(DROP|DELETE|TRUNCATE|ALTER|CREATE)`)},
	{"line comment", regexp.MustCompile(`--`)},
	{"block comment", regexp.MustCompile(`(?s)/\*.*?\*/`)},
	{"xp_cmdshell", regexp.MustCompile(`(?i)xp_cmdshell`)},
	{"OPENROWSET", regexp.MustCompile(`(?i)OPENROWSET`)},
	{"OPENDATASOURCE", regexp.MustCompile(`(?i)OPENDATASOURCE`)},
}

var allowedStatements = map[string]bool{
	"SELECT": true,
	"INSERT": true,
	"UPDATE": true,
}

// Whole words, except XP_ and SP_ which match as procedure-name prefixes.
var forbiddenKeywords = []struct {
	word string
	re   *regexp.Regexp
}{
	{"DROP", regexp.MustCompile(`\bDROP\b`)},
	{"DELETE", regexp.MustCompile(`\bDELETE\b`)},
	{"TRUNCATE", regexp.MustCompile(`\bTRUNCATE\b`)},
	{"ALTER", regexp.MustCompile(`\bALTER\b`)},
	{"CREATE", regexp.MustCompile(`\bCREATE\b`)},
	{"GRANT", regexp.MustCompile(`\bGRANT\b`)},
	{"REVOKE", regexp.MustCompile(`\bREVOKE\b`)},
	{"EXECUTE", regexp.MustCompile(`\bEXECUTE\b`)},
	{"EXEC", regexp.MustCompile(`\bEXEC\b`)},
	{"XP_", regexp.MustCompile(`\bXP_`)},
	{"SP_", regexp.MustCompile(`\bSP_`)},
	{"SHUTDOWN", regexp.MustCompile(`\bSHUTDOWN\b`)},
	{"BACKUP", regexp.MustCompile(`\bBACKUP\b`)},
	{"RESTORE", regexp.MustCompile(`\bRESTORE\b`)},
}

var selectIntoFile = regexp.MustCompile(`(?i)\bINTO\s+(OUTFILE|DUMPFILE)`)

// StatementValidator decides whether a SQL string may be executed. It holds
// no state and is safe for concurrent use.
type StatementValidator struct{}

func NewStatementValidator() *StatementValidator {
	return &StatementValidator{}
}

// Validate runs the admission checks in order and stops at the first failure.
func (v *StatementValidator) Validate(query string) Verdict {
	query = strings.TrimSpace(query)
	if query == "" {
		return reject("empty query")
	}

	// Raw-text patterns run before splitting since they can hide a second
	// statement from the tokenizer.
	for _, p := range dangerousPatterns {
		if p.re.MatchString(query) {
			return reject("dangerous pattern detected: %s", p.name)
		}
	}

	statements, err := splitStatements(query)
	if err != nil {
		return reject("SQL parsing error: %v", err)
	}
	if len(statements) == 0 {
		return reject("could not parse query")
	}
	if len(statements) > 1 {
		return reject("multiple statements not allowed")
	}

	statement := statements[0]
	keyword := strings.ToUpper(firstToken(statement))
	if !allowedStatements[keyword] {
		return reject("statement type '%s' not allowed", keyword)
	}

	upper := strings.ToUpper(statement)
	for _, f := range forbiddenKeywords {
		if f.re.MatchString(upper) {
			return reject("forbidden keyword detected: %s", f.word)
		}
	}

	if keyword == "SELECT" && selectIntoFile.MatchString(upper) {
		return reject("SELECT INTO OUTFILE not allowed")
	}

	return Verdict{Valid: true, Keyword: keyword}
}

// splitStatements breaks query on top-level semicolons. Text containing a
// backslash is split twice: with standard quoting and with MySQL-style
// backslash escapes inside '...' and "...". Every reading that parses must
// find the same number of statements.
func splitStatements(query string) ([]string, error) {
	standard, err := splitWith(query, false)
	if !strings.ContainsRune(query, '\\') {
		return standard, err
	}

	escaped, escErr := splitWith(query, true)
	switch {
	case err != nil && escErr != nil:
		return nil, err
	case err != nil:
		return escaped, nil
	case escErr != nil:
		return standard, nil
	case len(standard) != len(escaped):
		return nil, fmt.Errorf("statement boundaries depend on backslash escaping")
	default:
		return standard, nil
	}
}

// splitWith keeps quoted strings and identifiers ('...', "...", `...`,
// [...]) intact; an unterminated one is a parse error. Empty pieces are
// dropped.
func splitWith(query string, backslashEscapes bool) ([]string, error) {
	var (
		statements []string
		current    strings.Builder
	)

	runes := []rune(query)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch r {
		case '\'', '"', '`', '[':
			closer := r
			if r == '[' {
				closer = ']'
			}
			end, ok := scanQuoted(runes, i, closer, backslashEscapes && (r == '\'' || r == '"'))
			if !ok {
				return nil, fmt.Errorf("unterminated %s starting at offset %d", quotedKind(r), i)
			}
			current.WriteString(string(runes[i : end+1]))
			i = end
		case ';':
			if s := strings.TrimSpace(current.String()); s != "" {
				statements = append(statements, s)
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		statements = append(statements, s)
	}
	return statements, nil
}

// scanQuoted returns the index of the rune closing the quote opened at start.
// A doubled closer inside the quote is an escape, as is a backslash when
// backslash is set.
func scanQuoted(runes []rune, start int, closer rune, backslash bool) (int, bool) {
	for j := start + 1; j < len(runes); j++ {
		if backslash && runes[j] == '\\' {
			j++
			continue
		}
		if runes[j] != closer {
			continue
		}
		if j+1 < len(runes) && runes[j+1] == closer {
			j++
			continue
		}
		return j, true
	}
	return 0, false
}

func quotedKind(open rune) string {
	switch open {
	case '\'':
		return "string literal"
	default:
		return "quoted identifier"
	}
}

// firstToken returns the leading keyword of statement, or its first
// non-space character when it does not start with a word.
func firstToken(statement string) string {
	statement = strings.TrimSpace(statement)
	end := strings.IndexFunc(statement, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	switch end {
	case -1:
		return statement
	case 0:
		return statement[:1]
	default:
		return statement[:end]
	}
}
