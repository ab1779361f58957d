package main

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aretw0/humus/pkg/core"
	"github.com/aretw0/humus/pkg/graph"
)

type lsFlags struct {
	labels   []string
	match    string
	colors   []string
	title    string
	grep     string
	pinned   bool
	archived bool
	trashed  bool
	json     bool
}

var lsOpts lsFlags

var lsCmd = &cobra.Command{
	Use:   "ls FILE",
	Short: "List notes and lists in a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := load(args[0])
		if err != nil {
			return err
		}
		preds, err := lsOpts.predicates(r.graph)
		if err != nil {
			return err
		}
		nodes := r.graph.Find(preds...)
		if lsOpts.json {
			return writeJSON(cmd.OutOrStdout(), summarize(r, nodes))
		}
		return writeTable(cmd.OutOrStdout(), summarize(r, nodes))
	},
}

func init() {
	f := lsCmd.Flags()
	f.StringSliceVarP(&lsOpts.labels, "label", "l", nil, "Only nodes with this label (repeatable)")
	f.StringVar(&lsOpts.match, "label-match", "", "Only nodes with a label whose name matches this regexp")
	f.StringSliceVarP(&lsOpts.colors, "color", "c", nil, "Only nodes of this color (repeatable)")
	f.StringVar(&lsOpts.title, "title", "", "Only titles matching this glob")
	f.StringVar(&lsOpts.grep, "grep", "", "Only nodes whose title or text matches this regexp")
	f.BoolVar(&lsOpts.pinned, "pinned", false, "Only pinned nodes")
	f.BoolVar(&lsOpts.archived, "archived", false, "Only archived nodes")
	f.BoolVar(&lsOpts.trashed, "trashed", false, "Only trashed nodes")
	f.BoolVar(&lsOpts.json, "json", false, "Output JSON")
	rootCmd.AddCommand(lsCmd)
}

func (o lsFlags) predicates(g *graph.Graph) ([]graph.Predicate, error) {
	state := graph.StateFilter{Trashed: graph.Ptr(o.trashed)}
	if o.pinned {
		state.Pinned = graph.Ptr(true)
	}
	if o.archived {
		state.Archived = graph.Ptr(true)
	}
	preds := []graph.Predicate{state}

	if len(o.labels) > 0 {
		ids := make([]string, 0, len(o.labels))
		for _, name := range o.labels {
			l, ok := g.FindLabel(name)
			if !ok {
				return nil, fmt.Errorf("no label named %q", name)
			}
			ids = append(ids, l.ID)
		}
		preds = append(preds, graph.HasLabels(ids...))
	}
	if o.match != "" {
		re, err := regexp.Compile(o.match)
		if err != nil {
			return nil, fmt.Errorf("bad --label-match: %w", err)
		}
		var matched []graph.Predicate
		for _, l := range g.MatchLabels(re) {
			matched = append(matched, graph.HasLabels(l.ID))
		}
		if len(matched) == 0 {
			return nil, fmt.Errorf("no label matches %q", o.match)
		}
		preds = append(preds, graph.Or(matched...))
	}
	if len(o.colors) > 0 {
		colors := make([]core.Color, len(o.colors))
		for i, c := range o.colors {
			colors[i] = core.Color(strings.ToUpper(c))
		}
		preds = append(preds, graph.HasColors(colors...))
	}
	if o.title != "" {
		preds = append(preds, graph.TitleGlob(o.title))
	}
	if o.grep != "" {
		re, err := regexp.Compile(o.grep)
		if err != nil {
			return nil, fmt.Errorf("bad --grep: %w", err)
		}
		preds = append(preds, graph.Regexp(re))
	}
	return preds, nil
}

type summary struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Title    string   `json:"title"`
	Color    string   `json:"color,omitempty"`
	Pinned   bool     `json:"pinned,omitempty"`
	Archived bool     `json:"archived,omitempty"`
	Trashed  bool     `json:"trashed,omitempty"`
	Labels   []string `json:"labels,omitempty"`
	Items    int      `json:"items,omitempty"`
	Dirty    bool     `json:"dirty,omitempty"`
}

func summarize(r *replica, nodes []*core.Node) []summary {
	out := make([]summary, 0, len(nodes))
	for _, n := range nodes {
		s := summary{
			ID:       n.ID,
			Kind:     string(n.Kind),
			Title:    n.Title,
			Pinned:   n.Pinned,
			Archived: n.Archived,
			Trashed:  n.Trashed(),
			Labels:   r.labelNames(n.LabelIDs()),
			Dirty:    r.graph.IsDirty(n.ID),
		}
		if n.Color != core.ColorWhite {
			s.Color = string(n.Color)
		}
		if n.Kind == core.KindList {
			s.Items = len(r.graph.Items(n.ID))
		}
		out = append(out, s)
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, rows []summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tTITLE\tLABELS\tFLAGS")
	for _, s := range rows {
		var flags []string
		if s.Pinned {
			flags = append(flags, "pinned")
		}
		if s.Archived {
			flags = append(flags, "archived")
		}
		if s.Trashed {
			flags = append(flags, "trashed")
		}
		if s.Dirty {
			flags = append(flags, "unsynced")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Kind, s.Title, strings.Join(s.Labels, ","), strings.Join(flags, ","))
	}
	return tw.Flush()
}
