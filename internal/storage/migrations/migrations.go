// Package migrations applies the embedded token and candle schema.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"unicode"

	"pumpfun-candles/internal/domain"
)

//go:embed postgres/*.sql clickhouse/*.sql
var schemaFS embed.FS

// Backend names a migration target; it is also the embedded directory name.
type Backend string

const (
	Postgres   Backend = "postgres"
	Clickhouse Backend = "clickhouse"
)

// Migration is one embedded SQL file split into executable statements.
type Migration struct {
	Name       string
	Statements []string
}

// Plan returns the migrations of a backend in apply order.
func Plan(b Backend) ([]Migration, error) {
	dir := string(b)
	entries, err := fs.ReadDir(schemaFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", b, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	plan := make([]Migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(schemaFS, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		stmts, err := Split(string(data))
		if err != nil {
			return nil, fmt.Errorf("split migration %s: %w", name, err)
		}
		if len(stmts) == 0 {
			continue
		}
		plan = append(plan, Migration{Name: name, Statements: stmts})
	}
	return plan, nil
}

// Split breaks SQL into statements on top-level semicolons. Single-quoted
// strings, dollar-quoted bodies and -- comments never end a statement;
// comments are dropped.
func Split(sql string) ([]string, error) {
	var (
		stmts []string
		cur   strings.Builder
		quote string // "'" or a dollar tag such as "$$"
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case quote == "'":
			cur.WriteByte(ch)
			if ch != '\'' {
				continue
			}
			if i+1 < len(sql) && sql[i+1] == '\'' {
				cur.WriteByte('\'')
				i++
				continue
			}
			quote = ""

		case quote != "":
			if strings.HasPrefix(sql[i:], quote) {
				cur.WriteString(quote)
				i += len(quote) - 1
				quote = ""
				continue
			}
			cur.WriteByte(ch)

		case strings.HasPrefix(sql[i:], "--"):
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				i = len(sql)
				continue
			}
			i += end
			cur.WriteByte('\n')

		case ch == '\'':
			quote = "'"
			cur.WriteByte(ch)

		case ch == '$':
			if tag, ok := dollarTag(sql[i:]); ok {
				quote = tag
				cur.WriteString(tag)
				i += len(tag) - 1
				continue
			}
			cur.WriteByte(ch)

		case ch == ';':
			flush()

		default:
			cur.WriteByte(ch)
		}
	}
	if quote != "" {
		return nil, fmt.Errorf("unterminated %s quote", quote)
	}
	flush()
	return stmts, nil
}

// dollarTag returns the $tag$ that opens s, if any.
func dollarTag(s string) (string, bool) {
	end := strings.IndexByte(s[1:], '$')
	if end < 0 {
		return "", false
	}
	tag := s[:end+2]
	for _, r := range tag[1 : len(tag)-1] {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return "", false
		}
	}
	return tag, true
}

// resolutionLabels are the enum labels the stores write, in order.
func resolutionLabels() []string {
	all := domain.AllResolutions()
	labels := make([]string, len(all))
	for i, r := range all {
		labels[i] = r.Label()
	}
	return labels
}
