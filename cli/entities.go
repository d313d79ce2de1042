package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smallnest/kanban/tasks"
	"github.com/spf13/cobra"
)

// StartLayout is the layout accepted by --start.
const StartLayout = "2006-01-02T15:04"

// entity binds the store operations of one kind to the CLI.
type entity struct {
	kind   tasks.Kind
	use    string
	plural string
	list   func(tasks.Manager) []*tasks.Task
	get    func(tasks.Manager, int) (*tasks.Task, error)
	add    func(tasks.Manager, *tasks.Task) (*tasks.Task, error)
	update func(tasks.Manager, *tasks.Task) (*tasks.Task, error)
	remove func(tasks.Manager, int) error
	clear  func(tasks.Manager) error
	// confirm destructive operations interactively
	confirm bool
}

var taskEntity = entity{
	kind: tasks.KindTask, use: "task", plural: "tasks",
	list: tasks.Manager.Tasks, get: tasks.Manager.Task,
	add: tasks.Manager.AddTask, update: tasks.Manager.UpdateTask,
	remove: tasks.Manager.DeleteTask, clear: tasks.Manager.DeleteAllTasks,
}

var epicEntity = entity{
	kind: tasks.KindEpic, use: "epic", plural: "epics",
	list: tasks.Manager.Epics, get: tasks.Manager.Epic,
	add: tasks.Manager.AddEpic, update: tasks.Manager.UpdateEpic,
	remove: tasks.Manager.DeleteEpic, clear: tasks.Manager.DeleteAllEpics,
	confirm: true,
}

var subtaskEntity = entity{
	kind: tasks.KindSubtask, use: "subtask", plural: "subtasks",
	list: tasks.Manager.Subtasks, get: tasks.Manager.Subtask,
	add: tasks.Manager.AddSubtask, update: tasks.Manager.UpdateSubtask,
	remove: tasks.Manager.DeleteSubtask, clear: tasks.Manager.DeleteAllSubtasks,
}

// itemFlags add/update 的字段参数
type itemFlags struct {
	name        string
	description string
	status      string
	start       string
	duration    time.Duration
	epic        int
}

func (f *itemFlags) register(cmd *cobra.Command, kind tasks.Kind) {
	cmd.Flags().StringVar(&f.name, "name", "", "Name")
	cmd.Flags().StringVar(&f.description, "description", "", "Description")
	if kind != tasks.KindEpic {
		// epic status and schedule are derived from subtasks
		cmd.Flags().StringVar(&f.status, "status", "", "Status (NEW, IN_PROGRESS, DONE)")
		cmd.Flags().StringVar(&f.start, "start", "", "Start time ("+StartLayout+"), empty to unschedule")
		cmd.Flags().DurationVar(&f.duration, "duration", 0, "Duration (e.g. 90m, 2h)")
	}
	if kind == tasks.KindSubtask {
		cmd.Flags().IntVar(&f.epic, "epic", 0, "Owning epic id")
	}
}

// apply copies the flags the user actually set onto t.
func (f *itemFlags) apply(cmd *cobra.Command, t *tasks.Task, loc *time.Location) error {
	flags := cmd.Flags()
	if flags.Changed("name") {
		t.Name = f.name
	}
	if flags.Changed("description") {
		t.Description = f.description
	}
	if flags.Changed("status") {
		t.Status = tasks.Status(strings.ToUpper(strings.TrimSpace(f.status)))
	}
	if flags.Changed("start") {
		if strings.TrimSpace(f.start) == "" {
			t.StartTime = nil
		} else {
			start, err := time.ParseInLocation(StartLayout, strings.TrimSpace(f.start), loc)
			if err != nil {
				return fmt.Errorf("invalid --start %q, want %s", f.start, StartLayout)
			}
			t.StartTime = &start
		}
	}
	if flags.Changed("duration") {
		d := f.duration
		t.Duration = &d
	}
	if flags.Changed("epic") {
		t.EpicID = f.epic
	}
	return nil
}

func parseID(arg string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

// newEntityCmd 生成 task/epic/subtask 子命令
func newEntityCmd(a *app, e entity) *cobra.Command {
	cmd := &cobra.Command{
		Use:   e.use,
		Short: fmt.Sprintf("Manage %s", e.plural),
	}

	cmd.AddCommand(
		newListCmd(a, e),
		newGetCmd(a, e),
		newAddCmd(a, e),
		newUpdateCmd(a, e),
		newDeleteCmd(a, e),
		newClearCmd(a, e),
	)
	if e.kind == tasks.KindEpic {
		cmd.AddCommand(newEpicSubtasksCmd(a))
	}
	return cmd
}

func newListCmd(a *app, e entity) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List all %s", e.plural),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *storeHandle) error {
				list := e.list(store.manager)
				if asJSON {
					return printJSON(cmd.OutOrStdout(), list)
				}
				if len(list) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No %s found.\n", e.plural)
					return nil
				}
				printTable(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func newGetCmd(a *app, e entity) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: fmt.Sprintf("Show one %s", e.use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withStore(func(store *storeHandle) error {
				t, err := e.get(store.manager, id)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), []*tasks.Task{t})
				}
				printDetail(cmd.OutOrStdout(), t)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func newAddCmd(a *app, e entity) *cobra.Command {
	var f itemFlags
	cmd := &cobra.Command{
		Use:     "add",
		Aliases: []string{"create"},
		Short:   fmt.Sprintf("Add a %s", e.use),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := a.cfg.Storage.TimeLocation()
			if err != nil {
				return err
			}
			t := &tasks.Task{Kind: e.kind, Status: tasks.StatusNew}
			if err := f.apply(cmd, t, loc); err != nil {
				return err
			}
			return a.withStore(func(store *storeHandle) error {
				added, err := e.add(store.manager, t)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s %d\n", e.use, added.ID)
				return nil
			})
		},
	}
	f.register(cmd, e.kind)
	_ = cmd.MarkFlagRequired("name")
	if e.kind == tasks.KindSubtask {
		_ = cmd.MarkFlagRequired("epic")
	}
	return cmd
}

func newUpdateCmd(a *app, e entity) *cobra.Command {
	var f itemFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: fmt.Sprintf("Update a %s; unset flags keep their value", e.use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			loc, err := a.cfg.Storage.TimeLocation()
			if err != nil {
				return err
			}
			return a.withStore(func(store *storeHandle) error {
				t, err := e.get(store.manager, id)
				if err != nil {
					return err
				}
				if err := f.apply(cmd, t, loc); err != nil {
					return err
				}
				if _, err := e.update(store.manager, t); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s %d\n", e.use, id)
				return nil
			})
		},
	}
	f.register(cmd, e.kind)
	return cmd
}

func newDeleteCmd(a *app, e entity) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   fmt.Sprintf("Delete a %s", e.use),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if e.confirm && !yes {
				if !confirm(fmt.Sprintf("Delete %s %d and all its subtasks", e.use, id)) {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}
			return a.withStore(func(store *storeHandle) error {
				if err := e.remove(store.manager, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %d\n", e.use, id)
				return nil
			})
		},
	}
	if e.confirm {
		cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	}
	return cmd
}

func newClearCmd(a *app, e entity) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: fmt.Sprintf("Delete all %s", e.plural),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.confirm && !yes {
				if !confirm(fmt.Sprintf("Delete all %s and their subtasks", e.plural)) {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}
			return a.withStore(func(store *storeHandle) error {
				if err := e.clear(store.manager); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted all %s\n", e.plural)
				return nil
			})
		},
	}
	if e.confirm {
		cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	}
	return cmd
}

func newEpicSubtasksCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "subtasks <id>",
		Short: "List the subtasks of an epic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withStore(func(store *storeHandle) error {
				list, err := store.manager.EpicSubtasks(id)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), list)
				}
				if len(list) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Epic %d has no subtasks.\n", id)
					return nil
				}
				printTable(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func newPrioritizedCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "prioritized",
		Short: "List scheduled tasks and subtasks by start time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *storeHandle) error {
				list := store.manager.Prioritized()
				if asJSON {
					return printJSON(cmd.OutOrStdout(), list)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing scheduled.")
					return nil
				}
				printTable(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

// withStore opens the configured store for the duration of fn.
func (a *app) withStore(fn func(store *storeHandle) error) error {
	store, err := openStore(a.cfg)
	if err != nil {
		return err
	}
	defer store.close()
	return fn(store)
}
