package worklog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jiractl/internal/apperrors"
)

func TestParseAcceptsQuarterHourRows(t *testing.T) {
	entries, rejected, err := Parse(strings.NewReader("ABC-1;2024-01-10;1.25;09:00;test\n"))
	require.NoError(t, err)
	require.Empty(t, rejected)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "ABC-1", e.TicketKey)
	assert.Equal(t, 75, e.Minutes)
	assert.Equal(t, time.Date(2024, time.January, 10, 9, 0, 0, 0, time.Local), e.Started)
	assert.Equal(t, "test", e.Comment)
	assert.Equal(t, 1, e.Line)
}

func TestParseRejectsNonQuarterHours(t *testing.T) {
	entries, rejected, err := Parse(strings.NewReader("ABC-1;2024-01-10;1.10;09:00;test\n"))
	require.NoError(t, err)
	assert.Empty(t, entries)
	require.Len(t, rejected, 1)

	assert.ErrorIs(t, rejected[0].Err, apperrors.ErrInvalidFormat)
	assert.Contains(t, rejected[0].Err.Error(), "66")
	assert.Equal(t, 1, rejected[0].Line)
	assert.Equal(t, "ABC-1", rejected[0].TicketKey)
}

func TestParseImportFile(t *testing.T) {
	input := strings.Join([]string{
		"Ticketnummer;Datum;benötigte Zeit in h;Uhrzeit;Beschreibung",
		"ABC-1;10.01.2024;0,75;8:30;Daily und Review",
		"",
		"ABC-2;2024-01-11;2;09:00;Implementierung; zweiter Teil",
		"ABC-3;2024-01-12;1.10;09:00;kaputt",
		";2024-01-12;1.25;09:00;ohne Ticket",
		"ABC-4;2024-01-13;1.25;;ohne Uhrzeit",
	}, "\n")

	entries, rejected, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Len(t, rejected, 3)

	assert.Equal(t, "ABC-1", entries[0].TicketKey)
	assert.Equal(t, 45, entries[0].Minutes)
	assert.Equal(t, time.Date(2024, time.January, 10, 8, 30, 0, 0, time.Local), entries[0].Started)
	assert.Equal(t, 2, entries[0].Line)

	// A semicolon inside the description splits into extra fields and is
	// stitched back together.
	assert.Equal(t, "ABC-2", entries[1].TicketKey)
	assert.Equal(t, 120, entries[1].Minutes)
	assert.Equal(t, "Implementierung;zweiter Teil", entries[1].Comment)
	assert.Equal(t, 4, entries[1].Line)

	assert.Equal(t, 5, rejected[0].Line)
	assert.ErrorIs(t, rejected[0].Err, apperrors.ErrInvalidFormat)
	assert.Equal(t, 6, rejected[1].Line)
	assert.Contains(t, rejected[1].Err.Error(), "ticket number is empty")
	assert.Equal(t, 7, rejected[2].Line)
	assert.Contains(t, rejected[2].Err.Error(), "start time is empty")
}

func TestParseSkipsHeaderAndByteOrderMark(t *testing.T) {
	input := "﻿Ticket;Date;Hours;Time;Description\nABC-9;2024-02-01;0.25;07:15;\n"
	entries, rejected, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, entries, 1)
	assert.Equal(t, "ABC-9", entries[0].TicketKey)
	assert.Equal(t, 15, entries[0].Minutes)
	assert.Empty(t, entries[0].Comment)
}

func TestParseRejectsShortRows(t *testing.T) {
	entries, rejected, err := Parse(strings.NewReader("ABC-1;2024-01-10;1.25\n"))
	require.NoError(t, err)
	assert.Empty(t, entries)
	require.Len(t, rejected, 1)
	assert.ErrorIs(t, rejected[0].Err, apperrors.ErrInvalidFormat)
}

func TestMinutesFromHours(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{name: "Quarter step", raw: "1.25", want: 75},
		{name: "Comma decimal", raw: "1,25", want: 75},
		{name: "Whole hours", raw: "8", want: 480},
		{name: "Smallest step", raw: "0.25", want: 15},
		{name: "Within epsilon of a step", raw: "2.0000001", want: 120},
		{name: "Not a quarter step", raw: "1.10", wantErr: true},
		{name: "Zero", raw: "0", wantErr: true},
		{name: "Negative", raw: "-0.25", wantErr: true},
		{name: "Not a number", raw: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MinutesFromHours(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrInvalidFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDateIsDayFirst(t *testing.T) {
	d, err := ParseDate("1.2.2024")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Day())
	assert.Equal(t, time.February, d.Month())

	d, err = ParseDate("2024-02-01")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Day())
	assert.Equal(t, time.February, d.Month())

	_, err = ParseDate("01-13-2024")
	assert.ErrorIs(t, err, apperrors.ErrInvalidFormat)
}

func TestParseStartClockForms(t *testing.T) {
	for _, clock := range []string{"09:00", "9:00", "9.00", "09:00:00"} {
		started, err := ParseStart("2024-01-10", clock)
		require.NoError(t, err, "clock %q", clock)
		assert.Equal(t, 9, started.Hour(), "clock %q", clock)
		assert.Equal(t, 0, started.Minute(), "clock %q", clock)
	}

	_, err := ParseStart("2024-01-10", "morgens")
	assert.ErrorIs(t, err, apperrors.ErrInvalidFormat)
}
