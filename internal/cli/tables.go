package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/db"
)

// maxCellWidth keeps long responses from blowing up table layout.
const maxCellWidth = 60

// RenderProfiles prints profiles as a table. Passwords are masked.
func RenderProfiles(w io.Writer, profiles []config.Profile, defaultName string) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"", "Name", "Address", "Password", "Timeout"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, p := range profiles {
		marker := ""
		if p.Name == defaultName {
			marker = "*"
		}
		password := "-"
		if p.Password != "" {
			password = "********"
		}
		tw.Append([]string{
			marker,
			p.Name,
			p.SessionConfig().Address(),
			password,
			p.Timeout().String(),
		})
	}

	tw.Render()
}

// RenderHistory prints history entries, newest first, as a table.
func RenderHistory(w io.Writer, entries []db.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No commands recorded.")
		return
	}

	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Time", "Profile", "Source", "Command", "Result", "Duration"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, e := range entries {
		result := "ok"
		if e.ErrorKind != "" {
			result = e.ErrorKind
		} else if e.Response != "" {
			result = firstLine(e.Response)
		}
		tw.Append([]string{
			e.StartedAt.Local().Format(time.DateTime),
			e.Profile,
			e.Source,
			clip(e.Command),
			clip(result),
			strconv.FormatInt(e.Duration, 10) + "ms",
		})
	}

	tw.Render()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxCellWidth {
		return s
	}
	return string(r[:maxCellWidth-3]) + "..."
}
