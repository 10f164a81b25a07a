// Package extractor turns a catalog detail page into normalized detail data.
//
// Detail pages carry no machine-readable structure. Fields are recovered from the markup
// with a few positional and class-based heuristics:
//
//   - three or more ".title-red" markers carry the record id (2nd) and language (3rd);
//   - ".sub-title" blocks hold a bold label followed by the value;
//   - an "exerpt" element directly before a block or list names the section it opens;
//   - the bold label of the 5th child of the card body is a top-level field of its own.
//
// Anything the heuristics cannot place is dropped rather than guessed.
package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/Lllllllleong/htareportflow/internal/models"
	"github.com/PuerkitoBio/goquery"
)

// ErrNoContentBlock is returned when the page has no ".card-body" element.
var ErrNoContentBlock = errors.New("detail page has no content block")

const (
	contentSelector   = ".card-body"
	titleMarkerClass  = "title-red"
	labeledFieldClass = "sub-title"

	// topLevelPosition is the 1-based child index of the block holding the top-level subtitle.
	topLevelPosition = 5

	authorsPrefix = "Authors"
	authorsKey    = "Authors objectives"

	// RecordIDKey and LanguageKey are the detail data keys filled from the title markers.
	RecordIDKey = "recordID"
	LanguageKey = "language"
)

// The site spells the section marker "exerpt"; the corrected spelling is accepted too.
var excerptClasses = []string{"exerpt", "excerpt"}

var (
	trailingLabelRe = regexp.MustCompile(`[:\s\x{00A0}]+$`)
	nonDigitRe      = regexp.MustCompile(`\D+`)
)

// Extractor scrapes detail pages.
type Extractor struct {
	logger *slog.Logger
}

// New creates an Extractor. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// ExtractHTML parses raw markup and extracts its detail data.
func (e *Extractor) ExtractHTML(markup []byte, pageURL string) (models.DetailData, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse detail page: %w", err)
	}
	return e.Extract(doc, pageURL)
}

// Extract builds the detail data of a parsed detail page. pageURL is used to resolve
// relative links found in field values.
func (e *Extractor) Extract(doc *goquery.Document, pageURL string) (models.DetailData, error) {
	logCtx := e.logger.With("pageUrl", pageURL)

	cardBody := doc.Find(contentSelector).First()
	if cardBody.Length() == 0 {
		return nil, ErrNoContentBlock
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		logCtx.Warn("Page URL does not parse; links are kept as written.", "error", err)
		base = nil
	}

	output := models.DetailData{}

	markers := cardBody.Find("." + titleMarkerClass)
	if markers.Length() >= 3 {
		if id := nonDigitRe.ReplaceAllString(markers.Eq(1).Text(), ""); id == "" {
			logCtx.Warn("Record ID marker holds no digits.")
		} else if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			output[RecordIDKey] = models.Number(n)
		} else {
			logCtx.Warn("Record ID does not fit an integer; kept as text.", "recordId", id)
			output[RecordIDKey] = models.Scalar(id)
		}
		output[LanguageKey] = models.Scalar(strings.TrimSpace(markers.Eq(2).Text()))
	} else {
		logCtx.Warn("Fewer than three title markers; record ID and language omitted.", "markers", markers.Length())
	}

	topLevelBlock, topLevelKey := findTopLevel(cardBody)
	if topLevelKey != "" {
		output[topLevelKey] = models.Section(nil)
	}

	var blocks []fieldBlock
	cardBody.Find("." + labeledFieldClass).Each(func(_ int, s *goquery.Selection) {
		blocks = append(blocks, readBlock(s, topLevelBlock, base))
	})
	output = foldBlocks(output, topLevelKey, blocks)

	cardBody.Find("ul").Each(func(_ int, ul *goquery.Selection) {
		section, ok := excerptBefore(ul)
		if !ok {
			return
		}
		var items []string
		ul.Find("li").Each(func(_ int, li *goquery.Selection) {
			items = append(items, strings.TrimSpace(li.Text()))
		})
		output[section] = models.List(items...)
	})

	logCtx.Info("Detail page extracted.", "fields", len(output))
	return output, nil
}

// fieldBlock is a labeled-field block reduced to the facts the fold needs.
type fieldBlock struct {
	// Section is the name of the section a preceding excerpt sibling opens, if any.
	Section string
	// Key and Value are set when the block has a bold label.
	Key      string
	Value    string
	HasLabel bool
	// TopLevel marks the block holding the top-level subtitle.
	TopLevel bool
}

// foldState is the accumulator threaded through foldBlocks.
type foldState struct {
	currentSection string
	output         models.DetailData
}

// foldBlocks places every block's (key, value) pair into output, in document order.
func foldBlocks(output models.DetailData, topLevelKey string, blocks []fieldBlock) models.DetailData {
	state := foldState{output: output}
	for _, b := range blocks {
		state = foldBlock(state, topLevelKey, b)
	}
	return state.output
}

func foldBlock(state foldState, topLevelKey string, b fieldBlock) foldState {
	if b.Section != "" {
		state.currentSection = b.Section
		state.output[b.Section] = models.Section(nil)
	}
	if !b.HasLabel {
		return state
	}

	if state.currentSection != "" {
		if v, ok := state.output[state.currentSection]; ok && v.IsSection() {
			v.Section[b.Key] = b.Value
			return state
		}
	}
	if topLevelKey != "" && b.TopLevel {
		state.output[topLevelKey] = models.Scalar(b.Value)
		return state
	}
	if topLevelKey != "" {
		if v, ok := state.output[topLevelKey]; ok && v.IsSection() {
			v.Section[b.Key] = b.Value
			return state
		}
	}
	state.output[b.Key] = models.Scalar(b.Value)
	return state
}

func readBlock(s *goquery.Selection, topLevelBlock *goquery.Selection, base *url.URL) fieldBlock {
	var b fieldBlock
	if section, ok := excerptBefore(s); ok {
		b.Section = section
	}
	if topLevelBlock != nil && len(s.Nodes) > 0 && len(topLevelBlock.Nodes) > 0 && s.Nodes[0] == topLevelBlock.Nodes[0] {
		b.TopLevel = true
	}

	label := s.Find("b").First()
	if label.Length() == 0 {
		return b
	}
	b.HasLabel = true
	b.Key = normalizeKey(label.Text())
	b.Value = strings.TrimSpace(blockValue(s, label, base))
	return b
}

// blockValue concatenates every child of a block except its label. Links contribute their
// target rather than their text.
func blockValue(s, label *goquery.Selection, base *url.URL) string {
	var sb strings.Builder
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if len(c.Nodes) == 0 || c.Nodes[0] == label.Nodes[0] {
			return
		}
		switch goquery.NodeName(c) {
		case "#text":
			sb.WriteString(c.Nodes[0].Data)
		case "#comment":
		case "a":
			sb.WriteString(resolveHref(c, base))
		default:
			sb.WriteString(c.Text())
		}
	})
	return sb.String()
}

func resolveHref(a *goquery.Selection, base *url.URL) string {
	href, ok := a.Attr("href")
	if !ok {
		return ""
	}
	href = strings.TrimSpace(href)
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func findTopLevel(cardBody *goquery.Selection) (*goquery.Selection, string) {
	block := cardBody.Children().Eq(topLevelPosition - 1)
	if block.Length() == 0 || !block.Is("div") || !block.HasClass(labeledFieldClass) {
		return nil, ""
	}
	label := block.ChildrenFiltered("b").First()
	if label.Length() == 0 {
		return nil, ""
	}
	key := trimLabel(label.Text())
	if key == "" {
		return nil, ""
	}
	return block, key
}

// excerptBefore returns the section name announced by the element right before s.
func excerptBefore(s *goquery.Selection) (string, bool) {
	prev := s.Prev()
	if prev.Length() == 0 {
		return "", false
	}
	for _, class := range excerptClasses {
		if prev.HasClass(class) {
			name := strings.TrimSpace(prev.Text())
			return name, name != ""
		}
	}
	return "", false
}

func trimLabel(label string) string {
	return strings.TrimSpace(trailingLabelRe.ReplaceAllString(label, ""))
}

func normalizeKey(label string) string {
	key := trimLabel(label)
	if strings.HasPrefix(key, authorsPrefix) {
		return authorsKey
	}
	return key
}
