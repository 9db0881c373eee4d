package session

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	derrors "dirigent/internal/errors"
)

// The persisted record is a single markdown document with a fixed grammar:
//
//	# Session: <title>
//
//	## Status
//	- Phase: <n> of <total>
//	- Current Agent: <worker>
//	- State: <status>
//	- Reason: <reason>          (failed sessions only)
//
//	## User Request
//	<verbatim request>
//
//	## Phases
//	1. [x] <worker> - <description>
//
//	## Work Log
//	### Phase <n> (<worker>) - <RFC3339 timestamp>
//	<summary>
//	Files: <path>, <path>
//
// Phase numbers in the document are 1-based; the in-memory record is
// 0-based. Any deviation from the grammar is a format violation, except for
// individual malformed work-log entries, which are discarded and reported
// as warnings because discarding them cannot violate a state invariant.
//
// The request and work-log summaries are multi-line free text. A line in
// either that would read as grammar (a "#" heading, a "Files: " tail, or a
// leading backslash) is written with a backslash prefix and stripped of it
// on parse, so any request or summary survives the round trip byte for
// byte.

const emptyLogPlaceholder = "(no entries yet)"

var (
	titleRe      = regexp.MustCompile(`^# Session: (.+)$`)
	phaseLineRe  = regexp.MustCompile(`^(\d+)\. \[([x ])\] (\S+) - (.+)$`)
	statusLineRe = regexp.MustCompile(`^- Phase: (\d+) of (\d+)$`)
	agentLineRe  = regexp.MustCompile(`^- Current Agent: (\S+)$`)
	stateLineRe  = regexp.MustCompile(`^- State: (\S+)$`)
	reasonLineRe = regexp.MustCompile(`^- Reason: (.+)$`)
	logHeaderRe  = regexp.MustCompile(`^### Phase (\d+) \((\S+)\) - (\S+)$`)
)

// Format renders the record into its canonical markdown form.
func Format(r *Record) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# Session: %s\n\n", r.Title)

	total := len(r.Phases)
	current := r.FirstUndone() + 1
	if current > total {
		current = total
	}
	b.WriteString("## Status\n")
	fmt.Fprintf(&b, "- Phase: %d of %d\n", current, total)
	fmt.Fprintf(&b, "- Current Agent: %s\n", r.CurrentWorker())
	fmt.Fprintf(&b, "- State: %s\n", r.Status)
	if r.Status == StatusFailed {
		fmt.Fprintf(&b, "- Reason: %s\n", sanitizeLine(r.FailReason))
	}
	b.WriteString("\n")

	b.WriteString("## User Request\n")
	b.WriteString(escapeBody(strings.TrimRight(r.Request, "\n")))
	b.WriteString("\n\n")

	b.WriteString("## Phases\n")
	for _, p := range r.Phases {
		mark := " "
		if p.Done {
			mark = "x"
		}
		fmt.Fprintf(&b, "%d. [%s] %s - %s\n", p.Index+1, mark, p.Worker, sanitizeLine(p.Description))
	}
	b.WriteString("\n")

	b.WriteString("## Work Log\n")
	if len(r.Log) == 0 {
		b.WriteString(emptyLogPlaceholder + "\n")
	}
	for i, e := range r.Log {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "### Phase %d (%s) - %s\n", e.PhaseIndex+1, e.Worker, e.Timestamp.UTC().Format(time.RFC3339))
		summary := strings.TrimRight(e.Summary, "\n")
		if summary != "" {
			b.WriteString(escapeBody(summary))
			b.WriteString("\n")
		}
		if len(e.FilesTouched) > 0 {
			fmt.Fprintf(&b, "Files: %s\n", strings.Join(e.FilesTouched, ", "))
		}
	}

	return []byte(b.String())
}

// sanitizeLine flattens newlines so a free-text field cannot break the
// line-oriented grammar.
func sanitizeLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// escapeBody backslash-prefixes any line of a multi-line body that would
// otherwise parse as grammar. unescapeBody reverses it exactly.
func escapeBody(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "\\") || strings.HasPrefix(l, "#") || strings.HasPrefix(l, "Files: ") {
			lines[i] = "\\" + l
		}
	}
	return strings.Join(lines, "\n")
}

func unescapeBody(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "\\") {
			lines[i] = l[1:]
		}
	}
	return strings.Join(lines, "\n")
}

// Parse reads a markdown session record. It returns the record, warnings
// for discarded malformed work-log entries, and an error when the document
// cannot be accepted. Structural grammar deviations and invariant breaches
// fail closed; Parse never fabricates missing fields.
func Parse(data []byte) (*Record, []string, error) {
	lines := strings.Split(string(data), "\n")

	// Locate the title header and section boundaries.
	title := ""
	sections := map[string][]string{}
	order := []string{}
	cur := ""
	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if m := titleRe.FindStringSubmatch(line); m != nil && title == "" && cur == "" {
			title = strings.TrimSpace(m[1])
			continue
		}
		if strings.HasPrefix(line, "## ") {
			cur = strings.TrimSpace(strings.TrimPrefix(line, "## "))
			if _, dup := sections[cur]; dup {
				return nil, nil, derrors.ErrFormatViolation(fmt.Sprintf("duplicate section %q", cur))
			}
			sections[cur] = nil
			order = append(order, cur)
			continue
		}
		if cur != "" {
			sections[cur] = append(sections[cur], line)
		} else if strings.TrimSpace(line) != "" {
			return nil, nil, fmt.Errorf("unexpected content before session header: %q", line)
		}
	}

	if title == "" {
		return nil, nil, fmt.Errorf("no session header")
	}
	want := []string{"Status", "User Request", "Phases", "Work Log"}
	if len(order) != len(want) {
		return nil, nil, derrors.ErrFormatViolation(fmt.Sprintf("expected sections %v, found %v", want, order))
	}
	for i, name := range want {
		if order[i] != name {
			return nil, nil, derrors.ErrFormatViolation(fmt.Sprintf("section %d is %q, expected %q", i+1, order[i], name))
		}
	}

	rec := &Record{Title: title}

	// Status block.
	declaredPhase, declaredTotal := -1, -1
	declaredAgent := ""
	haveState := false
	for _, line := range sections["Status"] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		switch {
		case statusLineRe.MatchString(line):
			m := statusLineRe.FindStringSubmatch(line)
			declaredPhase, _ = strconv.Atoi(m[1])
			declaredTotal, _ = strconv.Atoi(m[2])
		case agentLineRe.MatchString(line):
			declaredAgent = agentLineRe.FindStringSubmatch(line)[1]
		case stateLineRe.MatchString(line):
			rec.Status = Status(stateLineRe.FindStringSubmatch(line)[1])
			haveState = true
		case reasonLineRe.MatchString(line):
			rec.FailReason = strings.TrimSpace(reasonLineRe.FindStringSubmatch(line)[1])
		default:
			return nil, nil, derrors.ErrFormatViolation(fmt.Sprintf("unrecognized status line %q", line))
		}
	}
	if declaredPhase < 0 || declaredAgent == "" || !haveState {
		return nil, nil, derrors.ErrFormatViolation("incomplete status block")
	}
	if !IsValidStatus(rec.Status) {
		return nil, nil, derrors.ErrFormatViolation(fmt.Sprintf("unknown state %q", rec.Status))
	}

	// User request: verbatim text, outer blank lines trimmed.
	rec.Request = unescapeBody(strings.Trim(strings.Join(sections["User Request"], "\n"), "\n"))

	// Phase list. Every non-blank line must match the phase grammar and
	// numbering must be dense and 1-based.
	for _, line := range sections["Phases"] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := phaseLineRe.FindStringSubmatch(line)
		if m == nil {
			return nil, nil, derrors.ErrFormatViolation(fmt.Sprintf("malformed phase line %q", line))
		}
		num, _ := strconv.Atoi(m[1])
		if num != len(rec.Phases)+1 {
			return nil, nil, derrors.ErrFormatViolation(fmt.Sprintf("phase line %d is numbered %d", len(rec.Phases)+1, num))
		}
		rec.Phases = append(rec.Phases, Phase{
			Index:       num - 1,
			Done:        m[2] == "x",
			Worker:      m[3],
			Description: strings.TrimSpace(m[4]),
		})
	}

	// Work log. Malformed entries are discarded with a warning; they carry
	// no execution state so discarding them cannot violate an invariant.
	log, warnings := parseWorkLog(sections["Work Log"], len(rec.Phases))
	rec.Log = log

	// Cross-check the declared status block against the phase list.
	if declaredTotal != len(rec.Phases) {
		return nil, nil, derrors.ErrFormatViolation(
			fmt.Sprintf("status declares %d phases, list has %d", declaredTotal, len(rec.Phases)))
	}
	expectedCurrent := rec.FirstUndone() + 1
	if expectedCurrent > len(rec.Phases) {
		expectedCurrent = len(rec.Phases)
	}
	if declaredPhase != expectedCurrent {
		return nil, nil, derrors.ErrFormatViolation(
			fmt.Sprintf("status declares phase %d, first incomplete phase is %d", declaredPhase, expectedCurrent))
	}
	if declaredAgent != rec.CurrentWorker() {
		return nil, nil, derrors.ErrFormatViolation(
			fmt.Sprintf("status declares agent %q, current phase is bound to %q", declaredAgent, rec.CurrentWorker()))
	}

	if err := rec.Validate(); err != nil {
		return nil, nil, derrors.ErrFormatViolation(err.Error())
	}

	return rec, warnings, nil
}

// parseWorkLog extracts log entries, discarding malformed ones.
func parseWorkLog(lines []string, phaseCount int) ([]LogEntry, []string) {
	var entries []LogEntry
	var warnings []string

	var cur *LogEntry
	var body []string

	flush := func() {
		if cur == nil {
			return
		}
		text := strings.Trim(strings.Join(body, "\n"), "\n")

		// A trailing "Files:" line carries the touched-path set.
		lastNL := strings.LastIndex(text, "\n")
		tail := text
		if lastNL >= 0 {
			tail = text[lastNL+1:]
		}
		if strings.HasPrefix(tail, "Files: ") {
			for _, f := range strings.Split(strings.TrimPrefix(tail, "Files: "), ",") {
				if f = strings.TrimSpace(f); f != "" {
					cur.FilesTouched = append(cur.FilesTouched, f)
				}
			}
			if lastNL >= 0 {
				text = strings.TrimRight(text[:lastNL], "\n")
			} else {
				text = ""
			}
		}
		cur.Summary = unescapeBody(text)
		entries = append(entries, *cur)
		cur = nil
		body = nil
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "### ") {
			flush()
			m := logHeaderRe.FindStringSubmatch(line)
			if m == nil {
				warnings = append(warnings, fmt.Sprintf("discarded malformed log header %q", line))
				continue
			}
			num, _ := strconv.Atoi(m[1])
			ts, err := time.Parse(time.RFC3339, m[3])
			if err != nil || num < 1 || num > phaseCount {
				warnings = append(warnings, fmt.Sprintf("discarded log entry with invalid header %q", line))
				continue
			}
			cur = &LogEntry{PhaseIndex: num - 1, Worker: m[2], Timestamp: ts.UTC()}
			continue
		}
		if cur != nil {
			body = append(body, line)
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && trimmed != emptyLogPlaceholder {
			warnings = append(warnings, fmt.Sprintf("discarded stray log line %q", line))
		}
	}
	flush()

	return entries, warnings
}
