package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/huangang/kickoff/backend/pkg/logger"
	"github.com/samber/lo"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/slides/v1"
)

const (
	PlaceholderProjectName    = "{{PROJECT_NAME}}"
	PlaceholderAcronym        = "{{ACRONYM}}"
	PlaceholderStartDate      = "{{START_DATE}}"
	PlaceholderEndDate        = "{{END_DATE}}"
	PlaceholderDescription    = "{{DESCRIPTION}}"
	PlaceholderObjectives     = "{{OBJECTIVES}}"
	PlaceholderCoordinator    = "{{COORDINATOR}}"
	PlaceholderTaskProjectURL = "{{TASK_PROJECT_URL}}"
	PlaceholderFolderURL      = "{{FOLDER_URL}}"

	PlaceholderMilestonesTable = "{{MILESTONES_TABLE}}"
	PlaceholderStaffTable      = "{{STAFF_TABLE}}"

	// EmptyTableText replaces a table placeholder that has no rows.
	EmptyTableText = "None"
)

var (
	milestoneColumns = []string{"Milestone", "Due Date", "Description", "Assignee"}
	staffColumns     = []string{"Role", "Member", "FTE %"}
)

// ReplaceResult reports how many occurrences each token had.
type ReplaceResult struct {
	Replaced map[string]int64 `json:"replaced"`
	Skipped  []string         `json:"skipped"`
}

// TableSpec is a tabular placeholder and its data rows.
type TableSpec struct {
	Placeholder string
	Header      []string
	Rows        [][]string
}

// PlaceholderValues maps the plain placeholders of a submission.
func PlaceholderValues(sub *models.ProjectSubmission, rs *models.CreatedResourceSet) map[string]string {
	coordinator := ""
	if r, ok := sub.Role(models.RoleProjectCoordinator); ok {
		coordinator = r.MemberName
	}
	values := map[string]string{
		PlaceholderProjectName: sub.TrimmedName(),
		PlaceholderAcronym:     sub.Acronym,
		PlaceholderStartDate:   sub.StartDate,
		PlaceholderEndDate:     sub.EndDate,
		PlaceholderDescription: sub.Description,
		PlaceholderObjectives:  sub.Objectives,
		PlaceholderCoordinator: coordinator,
	}
	if rs != nil {
		values[PlaceholderTaskProjectURL] = rs.TaskProjectURL
		values[PlaceholderFolderURL] = rs.FolderURL
	}
	return values
}

// DocumentTables builds the milestone and staff tables of a submission.
// Outcomes without an assignee show the coordinator.
func DocumentTables(sub *models.ProjectSubmission) []TableSpec {
	coordinator := ""
	if r, ok := sub.Role(models.RoleProjectCoordinator); ok {
		coordinator = r.MemberName
	}
	milestones := lo.Map(sub.Outcomes, func(o models.Outcome, _ int) []string {
		assignee := o.AssigneeName
		if assignee == "" {
			assignee = coordinator
		}
		return []string{o.Name, o.DueDate, o.Description, assignee}
	})
	staff := lo.Map(sub.OrderedRoles(), func(r models.RoleAssignment, _ int) []string {
		return []string{r.RoleKey.Label(), r.MemberName, strconv.FormatFloat(r.FTE, 'f', -1, 64)}
	})
	return []TableSpec{
		{Placeholder: PlaceholderMilestonesTable, Header: milestoneColumns, Rows: milestones},
		{Placeholder: PlaceholderStaffTable, Header: staffColumns, Rows: staff},
	}
}

func sortedTokens(values map[string]string) []string {
	tokens := lo.Keys(values)
	sort.Strings(tokens)
	return tokens
}

// ReplacePlaceholders replaces every token in one batchUpdate. Tokens that
// do not occur are reported as skipped.
func ReplacePlaceholders(ctx context.Context, editor DocumentEditor, documentID string, values map[string]string) (*ReplaceResult, error) {
	tokens := sortedTokens(values)
	if len(tokens) == 0 {
		return &ReplaceResult{Replaced: map[string]int64{}}, nil
	}
	requests := make([]*docs.Request, 0, len(tokens))
	for _, tok := range tokens {
		requests = append(requests, &docs.Request{ReplaceAllText: &docs.ReplaceAllTextRequest{
			ContainsText:    &docs.SubstringMatchCriteria{Text: tok, MatchCase: true},
			ReplaceText:     values[tok],
			ForceSendFields: []string{"ReplaceText"},
		}})
	}
	resp, err := editor.BatchUpdateDocument(ctx, documentID, requests)
	if err != nil {
		return nil, err
	}

	counts := make([]int64, len(tokens))
	for i, reply := range resp.Replies {
		if i < len(counts) && reply != nil && reply.ReplaceAllText != nil {
			counts[i] = reply.ReplaceAllText.OccurrencesChanged
		}
	}
	return collectReplaceResult(documentID, tokens, counts), nil
}

// ReplaceDeckPlaceholders is ReplacePlaceholders for a Slides presentation.
func ReplaceDeckPlaceholders(ctx context.Context, editor PresentationEditor, deckID string, values map[string]string) (*ReplaceResult, error) {
	tokens := sortedTokens(values)
	if len(tokens) == 0 {
		return &ReplaceResult{Replaced: map[string]int64{}}, nil
	}
	requests := make([]*slides.Request, 0, len(tokens))
	for _, tok := range tokens {
		requests = append(requests, &slides.Request{ReplaceAllText: &slides.ReplaceAllTextRequest{
			ContainsText:    &slides.SubstringMatchCriteria{Text: tok, MatchCase: true},
			ReplaceText:     values[tok],
			ForceSendFields: []string{"ReplaceText"},
		}})
	}
	resp, err := editor.BatchUpdatePresentation(ctx, deckID, requests)
	if err != nil {
		return nil, err
	}

	counts := make([]int64, len(tokens))
	for i, reply := range resp.Replies {
		if i < len(counts) && reply != nil && reply.ReplaceAllText != nil {
			counts[i] = reply.ReplaceAllText.OccurrencesChanged
		}
	}
	return collectReplaceResult(deckID, tokens, counts), nil
}

func collectReplaceResult(fileID string, tokens []string, counts []int64) *ReplaceResult {
	result := &ReplaceResult{Replaced: make(map[string]int64, len(tokens))}
	for i, tok := range tokens {
		if counts[i] == 0 {
			result.Skipped = append(result.Skipped, tok)
			logger.Info().Str("file", fileID).Str("token", tok).Msg("[Populator] Placeholder not present, skipped")
			continue
		}
		result.Replaced[tok] = counts[i]
	}
	return result
}

// PopulateDocument fills the plain placeholders and both tables. Empty
// tables become EmptyTableText in the same batch as the plain tokens.
func PopulateDocument(ctx context.Context, editor DocumentEditor, documentID string, values map[string]string, tables []TableSpec) (*ReplaceResult, error) {
	all := make(map[string]string, len(values)+len(tables))
	for k, v := range values {
		all[k] = v
	}
	var pending []TableSpec
	for _, t := range tables {
		if len(t.Rows) == 0 {
			all[t.Placeholder] = EmptyTableText
			continue
		}
		pending = append(pending, t)
	}

	result, err := ReplacePlaceholders(ctx, editor, documentID, all)
	if err != nil {
		return nil, fmt.Errorf("replace placeholders: %w", err)
	}

	for _, t := range pending {
		ins := NewTableInsertion(editor, documentID, t.Placeholder, t.Header, t.Rows)
		err := ins.Run(ctx)
		if errors.Is(err, ErrPlaceholderNotFound) {
			result.Skipped = append(result.Skipped, t.Placeholder)
			logger.Info().Str("file", documentID).Str("token", t.Placeholder).Msg("[Populator] Table placeholder not present, skipped")
			continue
		}
		if err != nil {
			return result, fmt.Errorf("insert %s at phase %s: %w", t.Placeholder, ins.Phase(), err)
		}
		result.Replaced[t.Placeholder] = 1
	}
	return result, nil
}
