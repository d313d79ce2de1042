package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/smallnest/kanban/gateway"
	"github.com/smallnest/kanban/tasks"
)

const displayLayout = "2006-01-02 15:04"

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(displayLayout)
}

func formatOptionalDuration(d *time.Duration) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

func printTable(out io.Writer, list []*tasks.Task) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tTYPE\tSTATUS\tNAME\tEPIC\tSTART\tDURATION\tEND\n")
	for _, t := range list {
		epic := "-"
		if t.Kind == tasks.KindSubtask {
			epic = strconv.Itoa(t.EpicID)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Kind,
			t.Status,
			t.Name,
			epic,
			formatOptionalTime(t.StartTime),
			formatOptionalDuration(t.Duration),
			formatOptionalTime(t.EndTime()),
		)
	}
	w.Flush()
}

func printDetail(out io.Writer, t *tasks.Task) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%d\n", t.ID)
	fmt.Fprintf(w, "Type:\t%s\n", t.Kind)
	fmt.Fprintf(w, "Name:\t%s\n", t.Name)
	fmt.Fprintf(w, "Description:\t%s\n", t.Description)
	fmt.Fprintf(w, "Status:\t%s\n", t.Status)
	switch t.Kind {
	case tasks.KindSubtask:
		fmt.Fprintf(w, "Epic:\t%d\n", t.EpicID)
	case tasks.KindEpic:
		fmt.Fprintf(w, "Subtasks:\t%v\n", t.SubtaskIDs)
	}
	fmt.Fprintf(w, "Start:\t%s\n", formatOptionalTime(t.StartTime))
	fmt.Fprintf(w, "Duration:\t%s\n", formatOptionalDuration(t.Duration))
	fmt.Fprintf(w, "End:\t%s\n", formatOptionalTime(t.EndTime()))
	w.Flush()
}

// printJSON prints in the same shape the HTTP gateway serves.
func printJSON(out io.Writer, list []*tasks.Task) error {
	data, err := json.MarshalIndent(gateway.NewTaskPayloads(list), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

// confirm asks a yes/no question on the terminal.
func confirm(label string) bool {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	_, err := prompt.Run()
	return err == nil
}
