package queue

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

// TimestampFormat is the layout of the timestamp column
const TimestampFormat = "2006-01-02 15:04:05"

// line is one record of a queue file. Lines that do not parse keep their
// raw text so rewrites never drop foreign content.
type line struct {
	raw     string
	entry   types.QueueEntry
	outcome types.Outcome
	valid   bool
}

func formatEntry(e types.QueueEntry) string {
	return fmt.Sprintf("%d; %s; %s; %s;", e.PID, e.EnqueuedAt.Format(TimestampFormat), e.Target, e.Class)
}

func formatCompletion(r types.CompletionRecord) string {
	return fmt.Sprintf("%d; %s; %s; %s; %s;", r.PID, r.FinishedAt.Format(TimestampFormat), r.Target, r.Class, r.Outcome)
}

func parseLine(raw string, state types.QueueState) line {
	l := line{raw: raw}
	parts := strings.Split(raw, ";")
	if len(parts) < 4 {
		return l
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	pid, err := strconv.Atoi(parts[0])
	if err != nil {
		return l
	}
	ts, err := time.ParseInLocation(TimestampFormat, parts[1], time.Local)
	if err != nil {
		return l
	}

	l.entry = types.QueueEntry{
		PID:        pid,
		EnqueuedAt: ts,
		Target:     parts[2],
		Class:      types.JobClass(parts[3]),
		State:      state,
	}
	if len(parts) >= 5 {
		l.outcome = types.Outcome(parts[4])
	}
	l.valid = true
	return l
}

func readLines(r io.Reader, state types.QueueState) ([]line, error) {
	var lines []line
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		raw := scanner.Text()
		if strings.TrimSpace(raw) == "" {
			continue
		}
		lines = append(lines, parseLine(raw, state))
	}
	return lines, scanner.Err()
}

func (l line) String() string {
	return l.raw
}
