package scenario

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/pingcap/errors"
	yaml "gopkg.in/yaml.v3"
)

var indentedLineRe = regexp.MustCompile(`^\s+[^#].*`)

// Format re-encodes a scenario file with the indentation it already uses
// and a blank line between top-level blocks. Comments are kept.
func Format(src []byte) (string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return "", errors.Annotate(err, "read yaml")
	}
	if len(doc.Content) == 0 {
		return "", errors.New("empty scenario")
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(indentation(string(src)))
	if err := enc.Encode(doc.Content[0]); err != nil {
		return "", errors.Annotate(err, "write yaml")
	}
	if err := enc.Close(); err != nil {
		return "", errors.Trace(err)
	}
	return spaceBlocks(buf.String()), nil
}

// indentation returns the indent width of the first indented line that is
// not a comment, or 2.
func indentation(src string) int {
	for _, line := range strings.Split(src, "\n") {
		if indentedLineRe.MatchString(line) {
			return leadingSpaces(line)
		}
	}
	return 2
}

func leadingSpaces(line string) int {
	return len(line) - len(strings.TrimLeft(line, " "))
}

// spaceBlocks inserts an empty line where an indented line is followed by
// a top-level one, and where a top-level entry is followed by a comment.
func spaceBlocks(src string) string {
	lines := strings.Split(src, "\n")
	out := make([]string, 0, len(lines))
	indent := 0
	for i, line := range lines {
		out = append(out, line)
		if i+1 >= len(lines) {
			break
		}
		next := lines[i+1]
		nextIndent := leadingSpaces(next)
		nextIsComment := strings.HasPrefix(strings.TrimSpace(next), "#")
		isComment := strings.HasPrefix(strings.TrimSpace(line), "#")
		if indent > 0 && nextIndent == 0 || !isComment && indent == 0 && nextIsComment {
			out = append(out, "")
		}
		indent = nextIndent
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
