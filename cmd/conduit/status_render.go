package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"

	"conduit/internal/mood"
	"conduit/internal/protocol"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 16
	statusIndent     = "  "
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	default:
		return ansiBlue
	}
}

func moodColor(m mood.Mood) string {
	switch m {
	case mood.Happy:
		return ansiGreen
	case mood.Hungry, mood.Waking:
		return ansiYellow
	case mood.Sleeping:
		return ansiBlue
	case mood.Lost, mood.Sad:
		return ansiRed
	default:
		return ""
	}
}

func renderMood(m mood.Mood, colorize bool) string {
	label := m.Label()
	if colorize {
		if color := moodColor(m); color != "" {
			return color + label + ansiReset
		}
	}
	return label
}

func componentRows(infos []protocol.ComponentInfo, colorize bool) [][]string {
	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		pid := "-"
		if info.PID > 0 {
			pid = strconv.Itoa(info.PID)
		}
		worker := info.Worker
		if worker == "" {
			worker = "-"
		}
		rows = append(rows, []string{
			info.Name,
			worker,
			info.Type,
			renderMood(info.Mood, colorize),
			yesNo(info.Started),
			pid,
			formatAge(info.LastHeartbeat),
			info.Message,
		})
	}
	return rows
}

func renderComponents(infos []protocol.ComponentInfo, colorize bool) string {
	cols := columnsOf("Name", "Worker", "Type", "Mood", "Started", "PID", "Heartbeat", "Message").alignRight("PID", "Heartbeat")
	return renderTable(cols, componentRows(infos, colorize))
}

// moodSummary counts components per mood in mood order, skipping empty moods.
func moodSummary(infos []protocol.ComponentInfo) []string {
	counts := make(map[mood.Mood]int)
	for _, info := range infos {
		counts[info.Mood]++
	}
	var out []string
	for _, m := range mood.All {
		if n := counts[m]; n > 0 {
			out = append(out, strconv.Itoa(n)+" "+m.String())
		}
	}
	return out
}

func formatAge(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	age := time.Since(ts)
	if age < time.Second {
		return "now"
	}
	return age.Truncate(time.Second).String() + " ago"
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
