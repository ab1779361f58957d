package humus_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/aretw0/humus"
	"github.com/aretw0/humus/pkg/adapters/memory"
	"github.com/aretw0/humus/pkg/graph"
)

// Example_basic builds a checklist offline and syncs it to a service.
func Example_basic() {
	srv := memory.New()

	replica, err := humus.New(srv)
	if err != nil {
		log.Fatal(err)
	}
	g := replica.Graph

	list, err := g.CreateNode(humus.KindList, "")
	if err != nil {
		log.Fatal(err)
	}
	if err := g.Mutate(list, humus.FieldTitle, "Groceries"); err != nil {
		log.Fatal(err)
	}
	for _, text := range []string{"Milk", "Eggs"} {
		if _, err := g.AddItem(list, text, false, humus.PlacementBottom); err != nil {
			log.Fatal(err)
		}
	}
	fmt.Println("dirty before sync:", len(g.CollectDirty()))

	if _, err := replica.Sync(context.Background()); err != nil {
		log.Fatal(err)
	}
	fmt.Println("dirty after sync:", len(g.CollectDirty()))

	for _, n := range g.Find(graph.TitleGlob("Groc*")) {
		fmt.Printf("%s (%s)\n", n.Title, n.ID)
		fmt.Println(graph.RenderItems(g.Items(n.ID)))
	}

	// Output:
	// dirty before sync: 3
	// dirty after sync: 0
	// Groceries (srv-1)
	// ☐ Milk
	// ☐ Eggs
}

// Example_snapshot persists a replica and reopens it.
func Example_snapshot() {
	dir, err := os.MkdirTemp("", "humus-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "replica.humus")
	srv := memory.New()

	first, err := humus.New(srv, humus.WithSnapshot(path))
	if err != nil {
		log.Fatal(err)
	}
	id, _ := first.Graph.CreateNode(humus.KindNote, "")
	_ = first.Graph.Mutate(id, humus.FieldTitle, "Draft")
	if err := first.Save(); err != nil {
		log.Fatal(err)
	}

	second, err := humus.New(srv, humus.WithSnapshot(path))
	if err != nil {
		log.Fatal(err)
	}
	n, _ := second.Graph.Get(id)
	fmt.Println(n.Title, second.Graph.IsDirty(id))

	// Output:
	// Draft true
}
