package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/huangang/kickoff/backend/pkg/logger"
	"google.golang.org/api/docs/v1"
)

// TablePhase is the progress of one table insertion. Each phase only runs
// from the phase before it, because the previous batch moved every index
// after the table.
type TablePhase int

const (
	PhaseEmpty TablePhase = iota
	PhaseInserted
	PhaseTextWritten
	PhaseStyled
)

func (p TablePhase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseInserted:
		return "inserted"
	case PhaseTextWritten:
		return "text_written"
	case PhaseStyled:
		return "styled"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

var ErrPhaseOrder = errors.New("table insertion phase out of order")

const dataFontSizePt = 10

var headerShading = &docs.OptionalColor{Color: &docs.Color{RgbColor: &docs.RgbColor{Red: 0.86, Green: 0.89, Blue: 0.94}}}

// TableInsertion replaces a placeholder with a table in three batches.
// Rows[0] is the header row.
type TableInsertion struct {
	editor      DocumentEditor
	documentID  string
	placeholder string
	rows        [][]string
	columns     int

	phase TablePhase
	// anchor is where the placeholder started; the table is the first one
	// at or after it.
	anchor int64
	// tableStart is the table's start index found while writing text. Text
	// inside the table does not move it.
	tableStart int64
}

func NewTableInsertion(editor DocumentEditor, documentID, placeholder string, header []string, rows [][]string) *TableInsertion {
	all := make([][]string, 0, len(rows)+1)
	all = append(all, header)
	all = append(all, rows...)
	return &TableInsertion{
		editor:      editor,
		documentID:  documentID,
		placeholder: placeholder,
		rows:        all,
		columns:     len(header),
	}
}

func (t *TableInsertion) Phase() TablePhase { return t.phase }

func (t *TableInsertion) expect(p TablePhase) error {
	if t.phase != p {
		return fmt.Errorf("%w: %s requires %s, table is %s", ErrPhaseOrder, t.placeholder, p, t.phase)
	}
	return nil
}

// Insert deletes the placeholder and inserts an empty table where it was.
func (t *TableInsertion) Insert(ctx context.Context) error {
	if err := t.expect(PhaseEmpty); err != nil {
		return err
	}
	doc, err := t.editor.GetDocument(ctx, t.documentID)
	if err != nil {
		return err
	}
	idx, ok := findText(bodyContent(doc), t.placeholder)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlaceholderNotFound, t.placeholder)
	}

	_, err = t.editor.BatchUpdateDocument(ctx, t.documentID, []*docs.Request{
		{DeleteContentRange: &docs.DeleteContentRangeRequest{
			Range: &docs.Range{StartIndex: idx, EndIndex: idx + utf16Len(t.placeholder)},
		}},
		{InsertTable: &docs.InsertTableRequest{
			Rows:     int64(len(t.rows)),
			Columns:  int64(t.columns),
			Location: &docs.Location{Index: idx},
		}},
	})
	if err != nil {
		return err
	}
	t.anchor = idx
	t.phase = PhaseInserted
	return nil
}

// WriteText fills every cell, re-reading the document to learn cell offsets.
func (t *TableInsertion) WriteText(ctx context.Context) error {
	if err := t.expect(PhaseInserted); err != nil {
		return err
	}
	table, start, err := t.locateTable(ctx, t.anchor)
	if err != nil {
		return err
	}

	type cellText struct {
		index int64
		text  string
	}
	var writes []cellText
	for r, row := range table.TableRows {
		if r >= len(t.rows) {
			break
		}
		for c, cell := range row.TableCells {
			if c >= len(t.rows[r]) || t.rows[r][c] == "" || len(cell.Content) == 0 {
				continue
			}
			writes = append(writes, cellText{index: cell.Content[0].StartIndex, text: t.rows[r][c]})
		}
	}
	// Later cells first so earlier offsets stay valid within the batch.
	sort.Slice(writes, func(i, j int) bool { return writes[i].index > writes[j].index })

	requests := make([]*docs.Request, 0, len(writes))
	for _, w := range writes {
		requests = append(requests, &docs.Request{InsertText: &docs.InsertTextRequest{
			Text:     w.text,
			Location: &docs.Location{Index: w.index},
		}})
	}
	if len(requests) > 0 {
		if _, err := t.editor.BatchUpdateDocument(ctx, t.documentID, requests); err != nil {
			return err
		}
	}
	t.tableStart = start
	t.phase = PhaseTextWritten
	return nil
}

// Style bolds and shades the header row and sets the data font size,
// using ranges from a fresh read.
func (t *TableInsertion) Style(ctx context.Context) error {
	if err := t.expect(PhaseTextWritten); err != nil {
		return err
	}
	table, start, err := t.locateTable(ctx, t.tableStart)
	if err != nil {
		return err
	}

	requests := []*docs.Request{{
		UpdateTableCellStyle: &docs.UpdateTableCellStyleRequest{
			TableRange: &docs.TableRange{
				TableCellLocation: &docs.TableCellLocation{
					TableStartLocation: &docs.Location{Index: start},
					RowIndex:           0,
					ColumnIndex:        0,
				},
				RowSpan:    1,
				ColumnSpan: int64(t.columns),
			},
			TableCellStyle: &docs.TableCellStyle{BackgroundColor: headerShading},
			Fields:         "backgroundColor",
		},
	}}
	for r, row := range table.TableRows {
		for _, cell := range row.TableCells {
			rng, ok := cellTextRange(cell)
			if !ok {
				continue
			}
			if r == 0 {
				requests = append(requests, &docs.Request{UpdateTextStyle: &docs.UpdateTextStyleRequest{
					Range:     rng,
					TextStyle: &docs.TextStyle{Bold: true},
					Fields:    "bold",
				}})
				continue
			}
			requests = append(requests, &docs.Request{UpdateTextStyle: &docs.UpdateTextStyleRequest{
				Range:     rng,
				TextStyle: &docs.TextStyle{FontSize: &docs.Dimension{Magnitude: dataFontSizePt, Unit: "PT"}},
				Fields:    "fontSize",
			}})
		}
	}
	if _, err := t.editor.BatchUpdateDocument(ctx, t.documentID, requests); err != nil {
		return err
	}
	t.phase = PhaseStyled
	return nil
}

// Run advances through every remaining phase.
func (t *TableInsertion) Run(ctx context.Context) error {
	for t.phase != PhaseStyled {
		var err error
		switch t.phase {
		case PhaseEmpty:
			err = t.Insert(ctx)
		case PhaseInserted:
			err = t.WriteText(ctx)
		case PhaseTextWritten:
			err = t.Style(ctx)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *TableInsertion) locateTable(ctx context.Context, from int64) (*docs.Table, int64, error) {
	doc, err := t.editor.GetDocument(ctx, t.documentID)
	if err != nil {
		return nil, 0, err
	}
	for _, el := range bodyContent(doc) {
		if el.Table != nil && el.StartIndex >= from {
			return el.Table, el.StartIndex, nil
		}
	}
	logger.Warnf("[Populator] Inserted table for %s not found after index %d in %s", t.placeholder, from, t.documentID)
	return nil, 0, fmt.Errorf("inserted table for %s not found after index %d", t.placeholder, from)
}

func bodyContent(doc *docs.Document) []*docs.StructuralElement {
	if doc == nil || doc.Body == nil {
		return nil
	}
	return doc.Body.Content
}

// cellTextRange spans a cell's text, excluding its trailing newline.
func cellTextRange(cell *docs.TableCell) (*docs.Range, bool) {
	if len(cell.Content) == 0 {
		return nil, false
	}
	start := cell.Content[0].StartIndex
	end := cell.Content[len(cell.Content)-1].EndIndex - 1
	if end <= start {
		return nil, false
	}
	return &docs.Range{StartIndex: start, EndIndex: end}, true
}

// findText returns the UTF-16 index of the first occurrence of needle,
// searching paragraphs in order and descending into tables. A match may span
// several text runs of one paragraph.
func findText(content []*docs.StructuralElement, needle string) (int64, bool) {
	for _, el := range content {
		switch {
		case el.Paragraph != nil:
			if idx, ok := findInParagraph(el.Paragraph, needle); ok {
				return idx, true
			}
		case el.Table != nil:
			for _, row := range el.Table.TableRows {
				for _, cell := range row.TableCells {
					if idx, ok := findText(cell.Content, needle); ok {
						return idx, true
					}
				}
			}
		}
	}
	return 0, false
}

func findInParagraph(p *docs.Paragraph, needle string) (int64, bool) {
	if len(p.Elements) == 0 {
		return 0, false
	}
	var sb strings.Builder
	for _, el := range p.Elements {
		if el.TextRun != nil {
			sb.WriteString(el.TextRun.Content)
			continue
		}
		// Non-text elements still occupy index space.
		sb.WriteString(strings.Repeat("\uFFFC", int(el.EndIndex-el.StartIndex)))
	}
	text := sb.String()
	pos := strings.Index(text, needle)
	if pos < 0 {
		return 0, false
	}
	return p.Elements[0].StartIndex + utf16Len(text[:pos]), true
}

func utf16Len(s string) int64 {
	return int64(len(utf16.Encode([]rune(s))))
}
