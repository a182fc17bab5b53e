// Package report builds downloadable workbooks of a student's attempt
// history and course progress.
package report

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-course/internal/progress"
)

const (
	sheetAttempts = "Attempts"
	sheetProgress = "Progress"
)

// BuildWorkbook assembles one XLSX workbook with the student's attempts
// (oldest first) and per-course progress records.
func BuildWorkbook(studentID string, attempts []progress.Attempt, records []progress.Progress) (*excelize.File, error) {
	f := excelize.NewFile()
	f.SetSheetName(f.GetSheetName(0), sheetAttempts)
	if _, err := f.NewSheet(sheetProgress); err != nil {
		return nil, fmt.Errorf("create progress sheet: %w", err)
	}

	if err := writeAttempts(f, attempts); err != nil {
		return nil, err
	}
	if err := writeProgress(f, records); err != nil {
		return nil, err
	}

	f.SetDefinedName(&excelize.DefinedName{
		Name:     "student",
		RefersTo: fmt.Sprintf("%q", studentID),
	})
	return f, nil
}

func writeAttempts(f *excelize.File, attempts []progress.Attempt) error {
	header := []any{"Quiz", "Attempt", "Score", "Passed", "Submitted At"}
	if err := f.SetSheetRow(sheetAttempts, "A1", &header); err != nil {
		return fmt.Errorf("write attempts header: %w", err)
	}

	for i, att := range attempts {
		row := []any{
			att.QuizID,
			att.AttemptNumber,
			att.Score,
			att.Passed,
			att.CreatedAt.Format(time.RFC3339),
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(sheetAttempts, cell, &row); err != nil {
			return fmt.Errorf("write attempt row %d: %w", i+1, err)
		}
	}
	return nil
}

func writeProgress(f *excelize.File, records []progress.Progress) error {
	header := []any{"Course", "Current Lesson", "Status", "Updated At"}
	if err := f.SetSheetRow(sheetProgress, "A1", &header); err != nil {
		return fmt.Errorf("write progress header: %w", err)
	}

	for i, rec := range records {
		row := []any{
			rec.CourseID,
			rec.CurrentLesson,
			string(rec.Status),
			rec.UpdatedAt.Format(time.RFC3339),
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(sheetProgress, cell, &row); err != nil {
			return fmt.Errorf("write progress row %d: %w", i+1, err)
		}
	}
	return nil
}
