// Package listing parses the catalog's search result table into new documents.
package listing

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/Lllllllleong/htareportflow/internal/models"
	"github.com/PuerkitoBio/goquery"
)

// TableSelector matches the listing table.
const TableSelector = "table.table-bordered.table-striped"

// Column names the document fields are read from.
const (
	ColumnTitle  = "title"
	ColumnPDF    = "pdf"
	ColumnYear   = "year"
	ColumnSource = "source"
)

// ErrNoTable is returned when the page has no listing table.
var ErrNoTable = errors.New("listing table not found")

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	bracketsRe   = regexp.MustCompile(`^\[(.*)\]$`)
)

// Cell is one table cell. Link cells carry the absolute link target.
type Cell struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

// IsLink reports whether the cell held a link.
func (c Cell) IsLink() bool { return c.URL != "" }

// Row maps column names to cells.
type Row map[string]Cell

// Parse reads every data row of the listing table. Column names are the header texts,
// lowercased with whitespace runs replaced by underscores.
func Parse(markup []byte, pageURL string) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing page: %w", err)
	}
	table := doc.Find(TableSelector).First()
	if table.Length() == 0 {
		return nil, ErrNoTable
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid listing URL %q: %w", pageURL, err)
	}

	rowSel := table.Find("tr")
	var columns []string
	rowSel.First().Find("th, td").Each(func(_ int, s *goquery.Selection) {
		columns = append(columns, columnName(s.Text()))
	})

	var rows []Row
	rowSel.Slice(1, goquery.ToEnd).Each(func(_ int, tr *goquery.Selection) {
		row := Row{}
		tr.Find("td").Each(func(i int, td *goquery.Selection) {
			name := fmt.Sprintf("column_%d", i)
			if i < len(columns) && columns[i] != "" {
				name = columns[i]
			}
			row[name] = readCell(td, base)
		})
		rows = append(rows, row)
	})
	return rows, nil
}

func readCell(td *goquery.Selection, base *url.URL) Cell {
	link := td.Find("a").First()
	if link.Length() == 0 {
		return Cell{Text: strings.TrimSpace(td.Text())}
	}
	cell := Cell{Text: strings.TrimSpace(link.Text())}
	if href, ok := link.Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			cell.URL = base.ResolveReference(ref).String()
		}
	}
	return cell
}

func columnName(header string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(header)), "_")
}

// DocumentID derives the id of a row: the last path segment of the PDF link, else of the
// title link. It returns "" when neither link yields a segment.
func DocumentID(row Row) string {
	for _, column := range []string{ColumnPDF, ColumnTitle} {
		if id := lastSegment(row[column].URL); id != "" {
			return id
		}
	}
	return ""
}

func lastSegment(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	seg := path.Base(u.Path)
	if seg == "/" || seg == "." {
		return ""
	}
	return seg
}

// RemoveBrackets unwraps a title written as "[...]".
func RemoveBrackets(s string) string {
	return bracketsRe.ReplaceAllString(s, "$1")
}

// Documents converts rows into new documents in listing order. Rows without an id are
// returned separately so the caller can report them.
func Documents(rows []Row) (docs []*models.Document, skipped []Row) {
	for _, row := range rows {
		id := DocumentID(row)
		if id == "" {
			skipped = append(skipped, row)
			continue
		}
		title := row[ColumnTitle]
		docs = append(docs, &models.Document{
			ID:     id,
			URL:    title.URL,
			Title:  RemoveBrackets(title.Text),
			Year:   row[ColumnYear].Text,
			Source: row[ColumnSource].Text,
			Status: models.StatusNew,
		})
	}
	return docs, skipped
}
