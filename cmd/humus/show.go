package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/humus/pkg/codec"
	"github.com/aretw0/humus/pkg/core"
	"github.com/aretw0/humus/pkg/graph"
)

var showWire bool

var showCmd = &cobra.Command{
	Use:   "show FILE ID",
	Short: "Print one node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := load(args[0])
		if err != nil {
			return err
		}
		n, ok := r.graph.Get(args[1])
		if !ok {
			return fmt.Errorf("%w: %s", core.ErrNotFound, args[1])
		}
		out := cmd.OutOrStdout()
		if showWire {
			raw, err := codec.New().Encode(n, nil, true)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, string(raw))
			return err
		}
		printNode(out, r, n)
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showWire, "wire", false, "Print the node in wire format")
	rootCmd.AddCommand(showCmd)
}

func printNode(w io.Writer, r *replica, n *core.Node) {
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(w, "%-14s %s\n", name+":", value)
		}
	}
	stamp := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	}

	field("id", n.ID)
	field("kind", string(n.Kind))
	field("title", n.Title)
	field("color", string(n.Color))
	field("labels", strings.Join(r.labelNames(n.LabelIDs()), ", "))
	var people []string
	for _, email := range slices.Sorted(maps.Keys(n.Collaborators)) {
		people = append(people, fmt.Sprintf("%s (%s)", email, n.Collaborators[email]))
	}
	field("collaborators", strings.Join(people, ", "))
	field("created", stamp(n.Timestamps.Created))
	field("updated", stamp(n.Timestamps.Updated))
	field("trashed", stamp(n.Timestamps.Trashed))
	if n.Version != 0 {
		field("version", fmt.Sprint(n.Version))
	}
	if r.graph.IsDirty(n.ID) {
		field("state", "unsynced changes")
	}
	for _, a := range n.Annotations {
		switch {
		case a.WebLink != nil:
			field("link", a.WebLink.URL)
		case a.Category != "":
			field("category", a.Category)
		}
	}

	fmt.Fprintln(w)
	if n.Kind == core.KindList {
		fmt.Fprintln(w, graph.RenderItems(r.graph.Items(n.ID)))
	} else if n.Text != "" {
		fmt.Fprintln(w, n.Text)
	}
	for _, c := range r.graph.Children(n.ID) {
		if c.Kind == core.KindBlob && c.Blob != nil {
			fmt.Fprintf(w, "[%s %s %s]\n", strings.ToLower(string(c.Blob.Type)), c.ID, c.Blob.Mimetype)
		}
	}
}
