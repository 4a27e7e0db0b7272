package pipeline

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"

	"wqm/internal"
	"wqm/internal/util"
)

const maxLineBytes = 1 << 20

var logExtensions = map[string]bool{".csv": true, ".txt": true, ".log": true, ".dat": true}

var reSpaces = regexp.MustCompile(`\s+`)

// HasLogExtension reports whether name carries one of the delimited-text
// extensions instrument logs are saved with.
func HasLogExtension(name string) bool {
	return logExtensions[strings.ToLower(filepath.Ext(name))]
}

// ReadLines splits raw input into lines without interpreting its encoding.
func ReadLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputUnavailable, err)
	}
	return lines, nil
}

// ExtractHeaders collects every distinct cleaned line carrying marker, in
// order of first appearance.
func ExtractHeaders(lines []string, marker string) []string {
	if marker == "" {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, raw := range lines {
		if !strings.Contains(raw, marker) {
			continue
		}
		line := util.CleanLine(raw)
		if !strings.Contains(line, marker) {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}

// ExtractLogsFromEmailRaw pulls candidate instrument logs out of a raw mail
// message: delimited-text attachments as-is, and HTML tables in the body
// flattened to comma-separated lines.
func ExtractLogsFromEmailRaw(raw []byte) ([]internal.ExtractedLog, string, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, "", err
	}

	var out []internal.ExtractedLog
	for _, att := range env.Attachments {
		filename := strings.TrimSpace(att.FileName)
		if filename == "" {
			filename = "attachment.csv"
		}
		if !HasLogExtension(filename) {
			continue
		}
		out = append(out, internal.ExtractedLog{
			FileName: filepath.Base(filename),
			Source:   internal.SourceAttachment,
			Content:  att.Content,
		})
	}

	if env.HTML != "" {
		for i, table := range parseHTMLTables(env.HTML) {
			out = append(out, internal.ExtractedLog{
				FileName: fmt.Sprintf("mail_table_%d.csv", i+1),
				Source:   internal.SourceMailTable,
				Content:  []byte(strings.Join(table, "\n") + "\n"),
			})
		}
	}

	return out, env.GetHeader("Subject"), nil
}

func parseHTMLTables(html string) [][]string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var out [][]string
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		rows := table.Find("tr")
		if rows.Length() < 2 {
			return
		}
		var lines []string
		rows.Each(func(_ int, row *goquery.Selection) {
			cells := []string{}
			row.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, normalizeSpaces(cell.Text()))
			})
			if len(cells) == 0 {
				return
			}
			lines = append(lines, strings.Join(cells, ","))
		})
		if len(lines) > 1 {
			out = append(out, lines)
		}
	})
	return out
}

func normalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}
