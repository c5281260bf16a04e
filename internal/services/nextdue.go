// Package services holds the tally business logic: the ledger operations,
// settlement, recurring-rule scheduling, and dashboard rollups.
//
// This file implements the Strategy Pattern for next-due-date computation.
// Each recurrence kind (daily, weekly, monthly, yearly) has its own strategy
// encapsulating both the first due date at rule creation and the advancement
// of an existing occurrence's due date.
package services

import (
	"fmt"
	"time"

	"tally/internal/core"
)

// NextDueComputer is the strategy interface for recurrence date math. All
// inputs and outputs are date-only (UTC midnight).
type NextDueComputer interface {
	// FirstDue returns the due date of the first occurrence for a rule
	// created on the given date. It is always strictly after created: a rule
	// is never due on the day it was set up.
	FirstDue(created time.Time, day int) time.Time

	// Advance returns the due date one recurrence unit after from. The day
	// parameter is the rule's anchor (weekday or day-of-month), so a monthly
	// rule anchored on the 31st returns to the 31st after a short month.
	Advance(from time.Time, day int) time.Time
}

// DailyComputer implements NextDueComputer for daily rules.
type DailyComputer struct{}

func (DailyComputer) FirstDue(created time.Time, _ int) time.Time {
	return core.DateOnly(created).AddDate(0, 0, 1)
}

func (DailyComputer) Advance(from time.Time, _ int) time.Time {
	return core.DateOnly(from).AddDate(0, 0, 1)
}

// WeeklyComputer implements NextDueComputer for weekly rules. day is a
// weekday index 0-6 with Sunday as 0.
type WeeklyComputer struct{}

func (WeeklyComputer) FirstDue(created time.Time, day int) time.Time {
	created = core.DateOnly(created)
	offset := (day - int(created.Weekday()) + 7) % 7
	if offset == 0 {
		// Creating a rule on its own weekday rolls a full cycle forward.
		offset = 7
	}
	return created.AddDate(0, 0, offset)
}

func (WeeklyComputer) Advance(from time.Time, _ int) time.Time {
	return core.DateOnly(from).AddDate(0, 0, 7)
}

// MonthlyComputer implements NextDueComputer for monthly rules. day is a
// day-of-month 1-31, clamped to the last day of short months.
type MonthlyComputer struct{}

func (MonthlyComputer) FirstDue(created time.Time, day int) time.Time {
	created = core.DateOnly(created)
	candidate := monthDay(created.Year(), created.Month(), day)
	if candidate.After(created) {
		return candidate
	}
	return monthDay(created.Year(), created.Month()+1, day)
}

func (MonthlyComputer) Advance(from time.Time, day int) time.Time {
	from = core.DateOnly(from)
	return monthDay(from.Year(), from.Month()+1, day)
}

// YearlyComputer implements NextDueComputer for yearly rules, anchored to the
// creation date.
type YearlyComputer struct{}

func (YearlyComputer) FirstDue(created time.Time, _ int) time.Time {
	return core.DateOnly(created).AddDate(1, 0, 0)
}

func (YearlyComputer) Advance(from time.Time, _ int) time.Time {
	return core.DateOnly(from).AddDate(1, 0, 0)
}

// monthDay builds the given day in year/month, clamping day to the month's
// length so an anchor of 31 lands on Feb 28/29, Apr 30, and so on.
func monthDay(year int, month time.Month, day int) time.Time {
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// nextDueStrategies maps recurrence kinds to their computers.
var nextDueStrategies = map[core.RecurrenceKind]NextDueComputer{
	core.Daily:   DailyComputer{},
	core.Weekly:  WeeklyComputer{},
	core.Monthly: MonthlyComputer{},
	core.Yearly:  YearlyComputer{},
}

// GetNextDueComputer returns the computer for a recurrence kind.
func GetNextDueComputer(kind core.RecurrenceKind) (NextDueComputer, error) {
	computer, ok := nextDueStrategies[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", core.ErrInvalidRecurrence, kind)
	}
	return computer, nil
}
