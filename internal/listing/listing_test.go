package listing

import (
	"testing"

	"github.com/Lllllllleong/htareportflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingURL = "https://database.inahta.org/?filter-country=Sweden&page=1"

const listingPage = `<html><body>
<table class="table table-bordered table-striped">
  <tr><th>Title</th><th>Year</th><th>Source</th><th>PDF</th><th>Publication  Type</th></tr>
  <tr>
    <td><a href="/article/32018000123">[Behandling av cancer]</a></td>
    <td>2024</td>
    <td> SBU </td>
    <td><a href="https://sbu.se/reports/32018000999">PDF</a></td>
    <td>Full HTA</td>
  </tr>
  <tr>
    <td><a href="/article/32018000124">Screening</a></td>
    <td>2023</td>
    <td>TLV</td>
    <td></td>
    <td>Mini-HTA</td>
    <td>extra</td>
  </tr>
  <tr>
    <td>No link at all</td>
    <td>2022</td>
    <td>SBU</td>
    <td></td>
    <td></td>
  </tr>
</table>
</body></html>`

func TestParse(t *testing.T) {
	rows, err := Parse([]byte(listingPage), listingURL)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, Cell{Text: "[Behandling av cancer]", URL: "https://database.inahta.org/article/32018000123"}, rows[0][ColumnTitle])
	assert.Equal(t, Cell{Text: "SBU"}, rows[0][ColumnSource])
	assert.Equal(t, "https://sbu.se/reports/32018000999", rows[0][ColumnPDF].URL)
	assert.Equal(t, Cell{Text: "Full HTA"}, rows[0]["publication_type"])

	assert.False(t, rows[1][ColumnPDF].IsLink())
	assert.Equal(t, Cell{Text: "extra"}, rows[1]["column_5"])
}

func TestParse_NoTable(t *testing.T) {
	_, err := Parse([]byte(`<html><body><table class="table"></table></body></html>`), listingURL)
	assert.ErrorIs(t, err, ErrNoTable)
}

func TestDocumentID(t *testing.T) {
	tests := []struct {
		name string
		row  Row
		want string
	}{
		{
			name: "pdf link wins",
			row: Row{
				ColumnTitle: {Text: "t", URL: "https://x.org/article/1"},
				ColumnPDF:   {Text: "PDF", URL: "https://x.org/files/2"},
			},
			want: "2",
		},
		{
			name: "title link fallback",
			row:  Row{ColumnTitle: {Text: "t", URL: "https://x.org/article/1?ref=list"}},
			want: "1",
		},
		{
			name: "no links",
			row:  Row{ColumnTitle: {Text: "t"}},
			want: "",
		},
		{
			name: "bare host",
			row:  Row{ColumnTitle: {Text: "t", URL: "https://x.org/"}},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DocumentID(tt.row))
		})
	}
}

func TestRemoveBrackets(t *testing.T) {
	assert.Equal(t, "Title", RemoveBrackets("[Title]"))
	assert.Equal(t, "A [b] c", RemoveBrackets("A [b] c"))
	assert.Equal(t, "", RemoveBrackets("[]"))
}

func TestDocuments(t *testing.T) {
	rows, err := Parse([]byte(listingPage), listingURL)
	require.NoError(t, err)

	docs, skipped := Documents(rows)
	require.Len(t, docs, 2)
	assert.Len(t, skipped, 1)

	assert.Equal(t, &models.Document{
		ID:     "32018000999",
		URL:    "https://database.inahta.org/article/32018000123",
		Title:  "Behandling av cancer",
		Year:   "2024",
		Source: "SBU",
		Status: models.StatusNew,
	}, docs[0])
	assert.Equal(t, "32018000124", docs[1].ID)
	assert.Equal(t, "Screening", docs[1].Title)
}
