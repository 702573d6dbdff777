// Package worklog books time entries on tickets, one worklog per entry,
// from single commands or semicolon-delimited import files.
package worklog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"jiractl/internal/apperrors"
	"jiractl/pkg/models"
)

// quarterEpsilon is the tolerance when checking that an hour figure lands
// on a quarter-hour step. Anything further off is rejected, not rounded.
const quarterEpsilon = 1e-6

// Invalid describes one row or entry rejected before submission.
type Invalid struct {
	// Line is the 1-based input line, zero for entries not read from a file
	Line int

	// TicketKey is the ticket column of the rejected row, when readable
	TicketKey string

	// Err says why the row was rejected
	Err error
}

// Parse reads an import file with fields ticket;date;hours;time;description
// and returns the readable entries plus one rejection per unreadable row.
// A first line whose ticket column is a known header name is skipped, as
// are blank lines. No network calls happen here; rejections carry their
// line numbers so a caller can show every problem before booking anything.
func Parse(r io.Reader) ([]models.WorklogEntry, []Invalid, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		entries  []models.WorklogEntry
		rejected []Invalid
		first    = true
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			rejected = append(rejected, Invalid{
				Line: parseErr.Line,
				Err:  fmt.Errorf("%w: %v", apperrors.ErrInvalidFormat, parseErr.Err),
			})
			continue
		}
		if err != nil {
			return entries, rejected, fmt.Errorf("failed to read import file: %v", err)
		}

		line, _ := cr.FieldPos(0)
		if first {
			rec[0] = strings.TrimPrefix(rec[0], "﻿")
			first = false
			if headerRow(rec) {
				continue
			}
		}
		if blankRow(rec) {
			continue
		}

		entry, err := parseRow(rec)
		if err != nil {
			rejected = append(rejected, Invalid{Line: line, TicketKey: strings.TrimSpace(rec[0]), Err: err})
			continue
		}
		entry.Line = line
		entries = append(entries, entry)
	}
	return entries, rejected, nil
}

func parseRow(rec []string) (models.WorklogEntry, error) {
	if len(rec) < 4 {
		return models.WorklogEntry{}, fmt.Errorf("%w: want ticket;date;hours;time;description, got %d fields", apperrors.ErrInvalidFormat, len(rec))
	}

	key := strings.TrimSpace(rec[0])
	if key == "" {
		return models.WorklogEntry{}, fmt.Errorf("%w: ticket number is empty", apperrors.ErrInvalidFormat)
	}

	minutes, err := MinutesFromHours(rec[2])
	if err != nil {
		return models.WorklogEntry{}, err
	}

	if strings.TrimSpace(rec[3]) == "" {
		return models.WorklogEntry{}, fmt.Errorf("%w: start time is empty", apperrors.ErrInvalidFormat)
	}
	started, err := ParseStart(rec[1], rec[3])
	if err != nil {
		return models.WorklogEntry{}, err
	}

	// Unquoted semicolons in the description split into extra fields;
	// stitch them back together.
	comment := ""
	if len(rec) > 4 {
		comment = strings.TrimSpace(strings.Join(rec[4:], ";"))
	}

	return models.WorklogEntry{
		TicketKey: key,
		Started:   started,
		Minutes:   minutes,
		Comment:   comment,
	}, nil
}

// headerRow reports whether rec looks like the optional header line.
func headerRow(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	first := strings.TrimSpace(rec[0])
	return strings.EqualFold(first, "Ticketnummer") || strings.EqualFold(first, "Ticket")
}

func blankRow(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// MinutesFromHours converts a decimal hour figure such as "1.25" or "1,25"
// to minutes. The figure must land on a quarter-hour step within
// quarterEpsilon and must be positive.
func MinutesFromHours(raw string) (int, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	hours, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: unreadable hours %q", apperrors.ErrInvalidFormat, strings.TrimSpace(raw))
	}

	quarters := hours.Mul(decimal.NewFromInt(4))
	nearest := quarters.Round(0)
	if quarters.Sub(nearest).Abs().GreaterThan(decimal.NewFromFloat(quarterEpsilon)) {
		return 0, fmt.Errorf("%w: %s hours is %s minutes, not a multiple of 15",
			apperrors.ErrInvalidFormat, s, hours.Mul(decimal.NewFromInt(60)).String())
	}

	minutes := int(nearest.IntPart()) * 15
	if minutes <= 0 {
		return 0, fmt.Errorf("%w: duration must be positive", apperrors.ErrInvalidFormat)
	}
	return minutes, nil
}

// ParseDate reads a calendar date. Dotted and slashed forms are day-first
// ("31.01.2024", "31/1/2024"), dashed forms are ISO ("2024-01-31").
func ParseDate(s string) (time.Time, error) {
	v := strings.TrimSpace(s)
	for _, layout := range []string{"2.1.2006", "2006-1-2", "2/1/2006"} {
		if d, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unreadable date %q", apperrors.ErrInvalidFormat, v)
}

// ParseStart combines a calendar date and a wall-clock time ("09:00",
// "9:00", "9.00") into the worklog start instant, in local time.
func ParseStart(date, clock string) (time.Time, error) {
	day, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}

	c := strings.ReplaceAll(strings.TrimSpace(clock), ".", ":")
	if len(c) > 1 && c[1] == ':' {
		c = "0" + c
	}
	var t time.Time
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err = time.Parse(layout, c); err == nil {
			return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, time.Local), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unreadable start time %q", apperrors.ErrInvalidFormat, strings.TrimSpace(clock))
}
