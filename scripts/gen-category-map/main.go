// gen-category-map emits a YAML category mapping skeleton for the
// backfill-annotations command.
//
// It lists every distinct category label in the desktop-log mirror
// with its row count, prefills the category tree id when the label's
// last path segment matches a tree node by name, and leaves 0 where no
// match exists. Edit the zeros before feeding the file to
// backfill-annotations --mapping.
//
// Usage: go run ./scripts/gen-category-map [-out category-map.yaml]
//
// Database connection: Uses standard PG* environment variables
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
)

func main() {
	out := flag.String("out", "", "Write the mapping to this file instead of stdout")
	flag.Parse()

	ctx := context.Background()

	conn, err := pgx.Connect(ctx, buildConnString())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close(ctx)

	labels, err := loadLabels(ctx, conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list desktop categories: %v\n", err)
		os.Exit(1)
	}
	if len(labels) == 0 {
		fmt.Fprintln(os.Stderr, "No desktop categories found; ingest sporttracks first")
		os.Exit(1)
	}

	tree, err := loadCategoryTree(ctx, conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list category tree: %v\n", err)
		os.Exit(1)
	}

	var sb strings.Builder
	sb.WriteString("# Category mapping for backfill-annotations.\n")
	sb.WriteString("# Replace every 0 with an id from the category tree:\n")
	for _, node := range tree {
		sb.WriteString(fmt.Sprintf("#   %d: %s\n", node.id, node.path))
	}
	sb.WriteString("categories:\n")
	for _, label := range labels {
		id := matchTree(tree, label.name)
		sb.WriteString(fmt.Sprintf("  %q: %d # %d rows\n", label.name, id, label.count))
	}

	if *out == "" {
		fmt.Print(sb.String())
		return
	}
	if err := os.WriteFile(*out, []byte(sb.String()), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d categories to %s\n", len(labels), *out)
}

type categoryLabel struct {
	name  string
	count int64
}

func loadLabels(ctx context.Context, conn *pgx.Conn) ([]categoryLabel, error) {
	rows, err := conn.Query(ctx, `
		SELECT category, COUNT(*)
		FROM sporttracks_activities
		WHERE category IS NOT NULL AND category <> ''
		GROUP BY category
		ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labels []categoryLabel
	for rows.Next() {
		var l categoryLabel
		if err := rows.Scan(&l.name, &l.count); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

type treeNode struct {
	id   int
	name string
	path string
}

// loadCategoryTree returns the category tree ordered by id, each node
// carrying its full "Parent > Child" path for the header comment.
func loadCategoryTree(ctx context.Context, conn *pgx.Conn) ([]treeNode, error) {
	rows, err := conn.Query(ctx, `
		SELECT id, parent_id, name
		FROM engine_categories
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type rawNode struct {
		id     int
		parent *int
		name   string
	}
	var raw []rawNode
	for rows.Next() {
		var n rawNode
		if err := rows.Scan(&n.id, &n.parent, &n.name); err != nil {
			return nil, err
		}
		raw = append(raw, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	names := make(map[int]rawNode, len(raw))
	for _, n := range raw {
		names[n.id] = n
	}

	nodes := make([]treeNode, 0, len(raw))
	for _, n := range raw {
		path := n.name
		for p := n.parent; p != nil; {
			parent, ok := names[*p]
			if !ok {
				break
			}
			path = parent.name + " > " + path
			p = parent.parent
		}
		nodes = append(nodes, treeNode{id: n.id, name: n.name, path: path})
	}
	return nodes, nil
}

// matchTree prefills a tree id when the label's last path segment
// matches a node name, so only genuinely new categories need hand
// mapping.
func matchTree(tree []treeNode, label string) int {
	segment := label
	if i := strings.LastIndex(segment, ":"); i >= 0 {
		segment = segment[i+1:]
	}
	segment = strings.TrimSpace(segment)

	for _, node := range tree {
		if strings.EqualFold(node.name, segment) || strings.EqualFold(node.name, label) {
			return node.id
		}
	}
	return 0
}

func buildConnString() string {
	host := getEnvOrDefault("PGHOST", "localhost")
	port := getEnvOrDefault("PGPORT", "5432")
	user := getEnvOrDefault("PGUSER", "supertl")
	password := os.Getenv("PGPASSWORD")
	dbname := getEnvOrDefault("PGDATABASE", "canonical_engine")

	connStr := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		host, port, user, dbname)
	if password != "" {
		connStr += fmt.Sprintf(" password=%s", password)
	}
	return connStr
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
