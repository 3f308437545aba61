package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/branchline/internal/config"
	"github.com/kalambet/branchline/internal/render"
	"github.com/kalambet/branchline/internal/state"
	"github.com/kalambet/branchline/internal/storage"
)

// viewFlags registers the flags shared by layout, visible and render.
func viewFlags(cmd *cobra.Command) {
	cmd.Flags().String("project", "", "project id")
	cmd.Flags().Float64("scroll-top", 0, "viewport scroll offset")
	cmd.Flags().Float64("height", 0, "viewport height (default: viewport.height)")
	cmd.Flags().String("filter", "", "comma-separated filters (type:task, priority:high, phase:growth, status:open)")
	cmd.MarkFlagRequired("project")
}

func readView(cmd *cobra.Command) (string, viewOptions) {
	project, _ := cmd.Flags().GetString("project")
	top, _ := cmd.Flags().GetFloat64("scroll-top")
	height, _ := cmd.Flags().GetFloat64("height")
	filter, _ := cmd.Flags().GetString("filter")
	return project, viewOptions{ScrollTop: top, Height: height, Filters: splitList(filter)}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- layout ---

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Calculate positions for a project's feeds",
	Long: `Calculate positions for a project's feeds.

Examples:
  branchline layout --project roadmap
  branchline layout --project roadmap --filter type:task --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		projectID, view := readView(cmd)

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := computeOnce(cmd.Context(), cfg, store, projectID, view)
		if err != nil {
			return err
		}
		defer p.Close()

		snap := p.ctl.Snapshot()
		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, snap)
		}

		fmt.Fprintf(out, "%-36s  %-14s  %8s  %8s  %4s  %4s\n", "ID", "PHASE", "X", "Y", "ROW", "COL")
		for _, f := range snap.PositionedFeeds {
			fmt.Fprintf(out, "%-36s  %-14s  %8.1f  %8.1f  %4d  %4d\n",
				truncate(f.ID, 36), truncate(f.Phase, 14), f.X, f.Y, f.Row, f.Column)
		}
		m := snap.Metrics
		printStatus("Nodes", "%d positioned, %d adjusted, %d stacked", m.TotalNodes, m.AdjustedNodes, m.StackedNodes)
		printStatus("Time", "%s", m.CalculationTime)
		return nil
	},
}

func init() {
	viewFlags(layoutCmd)
	layoutCmd.Flags().Bool("json", false, "print the full snapshot as JSON")
}

// --- visible ---

var visibleCmd = &cobra.Command{
	Use:   "visible",
	Short: "List the feeds inside a viewport window",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, view := readView(cmd)

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("buffer") {
			cfg.Viewport.Buffer, _ = cmd.Flags().GetFloat64("buffer")
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := computeOnce(cmd.Context(), cfg, store, projectID, view)
		if err != nil {
			return err
		}
		defer p.Close()

		snap := p.ctl.Snapshot()
		out := cmd.OutOrStdout()
		for _, f := range snap.VisibleFeeds {
			fmt.Fprintf(out, "%s\t%.1f\n", f.ID, f.Y)
		}
		printStatus("Visible", "%d of %d (scroll %.0f, height %.0f)",
			len(snap.VisibleFeeds), len(snap.PositionedFeeds), snap.Viewport.ScrollTop, snap.Viewport.Height)
		return nil
	},
}

func init() {
	viewFlags(visibleCmd)
	visibleCmd.Flags().Float64("buffer", 0, "window buffer (default: viewport.buffer)")
}

// --- render ---

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the visible part of a timeline as SVG",
	Long: `Render the visible part of a timeline as SVG.

Examples:
  branchline render --project roadmap --output roadmap.svg
  branchline render --project roadmap --view-mode detailed --expand f1,f2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, view := readView(cmd)
		mode, _ := cmd.Flags().GetString("view-mode")
		view.Mode = state.ViewMode(mode)
		output, _ := cmd.Flags().GetString("output")
		width, _ := cmd.Flags().GetFloat64("width")
		title, _ := cmd.Flags().GetString("title")
		hover, _ := cmd.Flags().GetString("hover")
		selected, _ := cmd.Flags().GetString("select")
		expand, _ := cmd.Flags().GetString("expand")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := computeOnce(cmd.Context(), cfg, store, projectID, view)
		if err != nil {
			return err
		}
		defer p.Close()

		if hover != "" {
			p.actions.Hover(hover)
		}
		if selected != "" {
			p.actions.Select(selected)
		}
		for _, id := range splitList(expand) {
			p.actions.Expand(id)
		}

		var w io.Writer = cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		if err := render.SVG(w, p.ui.State(), render.Options{Width: width, Title: title}); err != nil {
			return fmt.Errorf("rendering: %w", err)
		}
		if output != "" {
			printSuccess("Rendered %d feeds to %s", len(p.ui.State().VisibleFeeds), output)
		}
		return nil
	},
}

func init() {
	viewFlags(renderCmd)
	renderCmd.Flags().String("view-mode", string(state.ViewNormal), "normal, compact or detailed")
	renderCmd.Flags().String("output", "", "output file path (default: stdout)")
	renderCmd.Flags().Float64("width", 0, "document width")
	renderCmd.Flags().String("title", "", "document title")
	renderCmd.Flags().String("hover", "", "feed id to draw hovered")
	renderCmd.Flags().String("select", "", "feed id to draw selected")
	renderCmd.Flags().String("expand", "", "comma-separated feed ids to expand")
}

// --- projects ---

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage projects",
}

var projectsAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Create or rename a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = args[0]
		}
		return withStore(func(store *storage.Store) error {
			if err := store.SaveProject(storage.Project{ID: args[0], Name: name}); err != nil {
				return err
			}
			printSuccess("Saved project %s", args[0])
			return nil
		})
	},
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *storage.Store) error {
			projects, err := store.ListProjects()
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects found.")
				return nil
			}
			for _, p := range projects {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n",
					colorize(colorCyan, p.ID), p.Name, p.CreatedAt.Format(time.RFC3339))
			}
			return nil
		})
	},
}

var projectsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a project with its phases and feeds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *storage.Store) error {
			if err := store.DeleteProject(args[0]); err != nil {
				return err
			}
			printSuccess("Deleted project %s", args[0])
			return nil
		})
	},
}

func init() {
	projectsAddCmd.Flags().String("name", "", "display name (default: id)")
	projectsCmd.AddCommand(projectsAddCmd)
	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsDeleteCmd)
}

// --- phases ---

var phasesCmd = &cobra.Command{
	Use:   "phases",
	Short: "Manage project phases",
}

var phasesAddCmd = &cobra.Command{
	Use:   "add <project> <id>",
	Short: "Create or update a phase",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		order, _ := cmd.Flags().GetInt("order")
		return withStore(func(store *storage.Store) error {
			ph := storage.Phase{ID: args[1], ProjectID: args[0], Name: name, Order: order}
			if err := store.SavePhase(ph); err != nil {
				return err
			}
			printSuccess("Saved phase %s/%s", args[0], args[1])
			return nil
		})
	},
}

var phasesListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List a project's phases in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *storage.Store) error {
			phases, err := store.ListPhases(args[0])
			if err != nil {
				return err
			}
			for _, ph := range phases {
				fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s  %s\n", ph.Order, colorize(colorCyan, ph.ID), ph.Name)
			}
			return nil
		})
	},
}

func init() {
	phasesAddCmd.Flags().String("name", "", "display name (default: id)")
	phasesAddCmd.Flags().Int("order", 0, "sort order within the project")
	phasesCmd.AddCommand(phasesAddCmd)
	phasesCmd.AddCommand(phasesListCmd)
}

// --- feeds ---

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "Manage feed items",
}

var feedsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create or update a feed item",
	Long: `Create or update a feed item.

Examples:
  branchline feeds add --project roadmap --phase ideation --type task --priority high --title "Draft plan"
  branchline feeds add --project roadmap --phase growth --meta owner=ana --meta sprint=4`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := feedFromFlags(cmd)
		if err != nil {
			return err
		}
		return withStore(func(store *storage.Store) error {
			if err := store.SaveFeedItem(f); err != nil {
				return err
			}
			printSuccess("Saved feed %s", f.ID)
			fmt.Fprintln(cmd.OutOrStdout(), f.ID)
			return nil
		})
	},
}

func feedFromFlags(cmd *cobra.Command) (storage.FeedItem, error) {
	id, _ := cmd.Flags().GetString("id")
	project, _ := cmd.Flags().GetString("project")
	phase, _ := cmd.Flags().GetString("phase")
	typ, _ := cmd.Flags().GetString("type")
	priority, _ := cmd.Flags().GetString("priority")
	status, _ := cmd.Flags().GetString("status")
	title, _ := cmd.Flags().GetString("title")
	created, _ := cmd.Flags().GetString("created")
	meta, _ := cmd.Flags().GetStringArray("meta")

	if project == "" || phase == "" {
		return storage.FeedItem{}, fmt.Errorf("--project and --phase are required")
	}
	if id == "" {
		id = uuid.New().String()
	}

	metadata := make(map[string]string)
	for _, kv := range meta {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return storage.FeedItem{}, fmt.Errorf("invalid --meta %q, want key=value", kv)
		}
		metadata[k] = v
	}
	if title != "" {
		metadata["title"] = title
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return storage.FeedItem{}, fmt.Errorf("marshalling metadata: %w", err)
	}

	var createdAt time.Time
	if created != "" {
		createdAt, err = time.Parse(time.RFC3339, created)
		if err != nil {
			return storage.FeedItem{}, fmt.Errorf("invalid --created: %w", err)
		}
	}

	return storage.FeedItem{
		ID:        id,
		ProjectID: project,
		Phase:     phase,
		Type:      typ,
		Priority:  priority,
		Status:    status,
		Metadata:  string(b),
		CreatedAt: createdAt,
	}, nil
}

var feedsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's feed items",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		return withStore(func(store *storage.Store) error {
			feeds, err := store.ListFeedItems(project)
			if err != nil {
				return err
			}
			if len(feeds) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No feeds found.")
				return nil
			}
			for _, f := range feeds {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s  %-8s  %-8s  %-8s  %s\n",
					colorize(colorCyan, f.ID), f.Phase, f.Type, f.Priority, f.Status, f.CreatedAt.Format(time.RFC3339))
			}
			return nil
		})
	},
}

var feedsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a feed item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *storage.Store) error {
			if err := store.DeleteFeedItem(args[0]); err != nil {
				return fmt.Errorf("deleting feed %s: %w", args[0], err)
			}
			printSuccess("Deleted feed %s", args[0])
			return nil
		})
	},
}

func init() {
	feedsAddCmd.Flags().String("id", "", "feed id (default: random UUID)")
	feedsAddCmd.Flags().String("project", "", "project id")
	feedsAddCmd.Flags().String("phase", "", "phase id")
	feedsAddCmd.Flags().String("type", "note", "feed type")
	feedsAddCmd.Flags().String("priority", "medium", "priority (low, medium, high, critical)")
	feedsAddCmd.Flags().String("status", "open", "status (open, in_progress, done)")
	feedsAddCmd.Flags().String("title", "", "title stored in metadata")
	feedsAddCmd.Flags().String("created", "", "creation time, RFC 3339 (default: now)")
	feedsAddCmd.Flags().StringArray("meta", nil, "metadata key=value (repeatable)")

	feedsListCmd.Flags().String("project", "", "project id")
	feedsListCmd.MarkFlagRequired("project")

	feedsCmd.AddCommand(feedsAddCmd)
	feedsCmd.AddCommand(feedsListCmd)
	feedsCmd.AddCommand(feedsDeleteCmd)
}

// withStore opens the configured store for the duration of fn.
func withStore(fn func(store *storage.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			line := fmt.Sprintf("  %s = %s", colorize(colorBold, k.Key), k.Value)
			if !k.Default {
				line += colorize(colorYellow, " (changed)")
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
