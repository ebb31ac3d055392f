package schema

import (
	"os"
	"regexp"
	"strings"
)

func readFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

var uniqueCoalesceRE = regexp.MustCompile(
	`(?m)^\s*CONSTRAINT\s+(\S+)\s+UNIQUE\s*\(([^()]*COALESCE\([^)]*\)[^()]*)\)\s*,?\s*$`,
)

var trailingCommaRE = regexp.MustCompile(`,(\s*\))`)

// normalize rewrites the authoritative DDL so it is safe to execute
// as-is: UNIQUE constraints built over COALESCE expressions (which
// Postgres rejects as a table constraint) are hoisted out into
// trailing CREATE UNIQUE INDEX IF NOT EXISTS statements, and the
// dangling commas that removal leaves behind are stripped.
func normalize(ddl string) string {
	var indexStatements []string

	out := uniqueCoalesceRE.ReplaceAllStringFunc(ddl, func(match string) string {
		sub := uniqueCoalesceRE.FindStringSubmatch(match)
		constraintName := sub[1]
		exprs := sub[2]
		table := enclosingTableName(ddl, match)
		if table != "" {
			indexStatements = append(indexStatements, "CREATE UNIQUE INDEX IF NOT EXISTS "+constraintName+" ON "+table+"("+strings.TrimSpace(exprs)+");")
		}
		return ""
	})

	out = trailingCommaRE.ReplaceAllString(out, "$1")

	if len(indexStatements) > 0 {
		out = out + "\n" + strings.Join(indexStatements, "\n") + "\n"
	}
	return out
}

// enclosingTableName walks backward from the constraint match to find
// the nearest preceding CREATE TABLE IF NOT EXISTS statement's name.
func enclosingTableName(ddl, match string) string {
	idx := strings.Index(ddl, match)
	if idx < 0 {
		return ""
	}
	preceding := ddl[:idx]
	locs := createTableRE.FindAllStringSubmatchIndex(preceding, -1)
	if len(locs) == 0 {
		return ""
	}
	last := locs[len(locs)-1]
	name := preceding[last[2]:last[3]]
	return strings.TrimSuffix(name, "(")
}
