package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rongwang/sitetrack-server/internal/models"
	"github.com/rongwang/sitetrack-server/internal/sheets"
)

// RefreshSheetData re-reads the sheet into the row store. Concurrent calls
// share a single fetch.
func (s *DefaultService) RefreshSheetData(ctx context.Context) (int, error) {
	// Callers that leave early must not cancel the fetch the others wait on
	detached := context.WithoutCancel(ctx)

	v, err, shared := s.refreshGroup.Do("refresh", func() (interface{}, error) {
		raw, err := s.sheets.FetchRows(detached)
		if err != nil {
			return 0, upstream(describeUpstream(err), err)
		}

		rows := sheets.Transform(raw, s.columns, s.firstRow)
		if err := s.rows.ReplaceAll(detached, rows, s.now()); err != nil {
			return 0, fmt.Errorf("error storing sheet rows: %w", err)
		}

		s.log.Info("sheet data refreshed", "rows", len(rows), "raw_rows", len(raw))
		return len(rows), nil
	})
	if err != nil {
		return 0, err
	}
	if shared {
		s.log.Debug("sheet refresh shared with concurrent caller")
	}
	return v.(int), nil
}

// GetSheetData returns the canonical rows, filtered. The sheet is fetched
// first when refresh is set or nothing has been loaded yet.
func (s *DefaultService) GetSheetData(
	ctx context.Context,
	filter sheets.Filter,
	refresh bool,
) (*models.SheetDataResponse, error) {
	rows, refreshedAt, err := s.rows.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading sheet rows: %w", err)
	}

	if refresh || refreshedAt.IsZero() {
		if _, err := s.RefreshSheetData(ctx); err != nil {
			return nil, err
		}
		rows, refreshedAt, err = s.rows.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("error loading sheet rows: %w", err)
		}
	}

	filtered := filter.Apply(rows)
	resp := &models.SheetDataResponse{
		Properties: filtered,
		Total:      len(filtered),
	}
	if !refreshedAt.IsZero() {
		resp.LastRefreshed = &refreshedAt
	}
	return resp, nil
}

// WriteCell writes one cell by address. Only admins may write directly.
func (s *DefaultService) WriteCell(ctx context.Context, caller models.Caller, req models.CellUpdateRequest) error {
	if !caller.IsAdmin() {
		return forbidden("only admins can edit the sheet directly; submit changes for approval instead")
	}

	letter := strings.ToUpper(strings.TrimSpace(req.ColumnLetter))
	field, ok := s.columns.Field(letter)
	if !ok {
		return invalidInput(CodeUnknownField, fmt.Sprintf("column %q is not mapped to a field", req.ColumnLetter))
	}
	if req.RowIndex < s.firstRow {
		return invalidInput(CodeInvalidInput, fmt.Sprintf("rowIndex must be at least %d", s.firstRow))
	}

	update := sheets.CellUpdate{RowIndex: req.RowIndex, ColumnLetter: letter, NewValue: req.NewValue}
	if err := s.sheets.UpdateCell(ctx, update); err != nil {
		return upstream(describeUpstream(err), err)
	}

	itemID := sheets.ItemID(req.RowIndex)
	if err := s.rows.SetCell(ctx, itemID, field, req.NewValue); err != nil && !errors.Is(err, sheets.ErrRowNotFound) {
		s.log.Warn("row store update failed", "item_id", itemID, "field", field, "error", err)
	}

	s.log.Info("cell written", "user_id", caller.UserID, "row", req.RowIndex, "column", letter)
	return nil
}

// RunRefresher refreshes the sheet immediately and then every interval
// until ctx is done.
func (s *DefaultService) RunRefresher(ctx context.Context, interval time.Duration) {
	if _, err := s.RefreshSheetData(ctx); err != nil {
		s.log.Warn("initial sheet refresh failed", "error", err)
	}
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RefreshSheetData(ctx); err != nil {
				s.log.Warn("periodic sheet refresh failed", "error", err)
			}
		}
	}
}

// writeItemCell writes newValue into the row identified by itemID and
// mirrors it into the row store.
func (s *DefaultService) writeItemCell(ctx context.Context, itemID, field, newValue string) error {
	letter, ok := s.columns.Letter(field)
	if !ok {
		return unknownField(field)
	}

	row, err := s.rows.Get(ctx, itemID)
	if err != nil {
		return fmt.Errorf("error loading row %s: %w", itemID, err)
	}
	if row == nil {
		return notFound(fmt.Sprintf("item %s is not in the sheet", itemID))
	}

	update := sheets.CellUpdate{RowIndex: row.RowIndex, ColumnLetter: letter, NewValue: newValue}
	if err := s.sheets.UpdateCell(ctx, update); err != nil {
		return upstream(describeUpstream(err), err)
	}

	if err := s.rows.SetCell(ctx, itemID, field, newValue); err != nil {
		s.log.Warn("row store update failed", "item_id", itemID, "field", field, "error", err)
	}
	return nil
}

func (s *DefaultService) ensureRowsLoaded(ctx context.Context) error {
	_, refreshedAt, err := s.rows.All(ctx)
	if err != nil {
		return err
	}
	if !refreshedAt.IsZero() {
		return nil
	}
	_, err = s.RefreshSheetData(ctx)
	return err
}

func describeUpstream(err error) string {
	var ue *sheets.UpstreamError
	if errors.As(err, &ue) {
		switch {
		case ue.Timeout():
			return fmt.Sprintf("spreadsheet %s timed out", ue.Op)
		case ue.StatusCode != 0:
			return fmt.Sprintf("spreadsheet %s failed with status %d", ue.Op, ue.StatusCode)
		}
		return fmt.Sprintf("spreadsheet %s failed", ue.Op)
	}
	return "spreadsheet request failed"
}
