package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type dbQuery struct {
	Name   string
	Limit  int
	Recipe string
	Since  uint64
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	recipe := fs.String("recipe", "", "recipe_id filter (batches)")
	since := fs.Uint64("since_tick", 0, "first tick (inclusive)")
	_ = fs.Parse(args)

	q := dbQuery{Name: "snapshots", Limit: *limit, Recipe: strings.TrimSpace(*recipe), Since: *since}
	if fs.NArg() > 0 {
		q.Name = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	rows, err := runQuery(db, q)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-limit N] [-recipe ID] [-since_tick T] snapshots|ticks|batches|exports|recipes")
			os.Exit(2)
		}
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

type snapshotRow struct {
	Tick       int64   `json:"tick"`
	Path       string  `json:"path"`
	WorldID    string  `json:"world_id"`
	Machines   int     `json:"machines"`
	Containers int     `json:"containers"`
	GridEnergy float64 `json:"grid_energy"`
}

type tickRow struct {
	Tick        int64   `json:"tick"`
	Digest      string  `json:"digest"`
	Commands    int     `json:"commands"`
	Devices     int     `json:"devices"`
	Completed   int     `json:"completed"`
	EnergyDrawn float64 `json:"energy_drawn"`
}

type batchRow struct {
	Tick    int64  `json:"tick"`
	Chamber string `json:"chamber"`
	Recipe  string `json:"recipe"`
	Item    string `json:"item"`
	Count   int    `json:"count"`
	Lost    bool   `json:"lost"`
}

type exportRow struct {
	Tick    int64  `json:"tick"`
	Chamber string `json:"chamber"`
	Item    string `json:"item"`
	Count   int    `json:"count"`
	Target  [3]int `json:"target"`
}

type recipeRow struct {
	Recipe    string `json:"recipe"`
	Completed int    `json:"completed"`
	Lost      int    `json:"lost"`
	Items     int    `json:"items"`
}

// runQuery executes one named read-model query against the index db.
func runQuery(db *sql.DB, q dbQuery) ([]any, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	var out []any
	switch q.Name {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,world_id,machines,containers,grid_energy FROM snapshots WHERE tick >= ? ORDER BY tick DESC LIMIT ?`, q.Since, q.Limit)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r snapshotRow
			if err := rows.Scan(&r.Tick, &r.Path, &r.WorldID, &r.Machines, &r.Containers, &r.GridEnergy); err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			out = append(out, r)
		}
		return out, rows.Err()

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,commands,devices,completed,energy_drawn FROM ticks WHERE tick >= ? ORDER BY tick DESC LIMIT ?`, q.Since, q.Limit)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r tickRow
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Commands, &r.Devices, &r.Completed, &r.EnergyDrawn); err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			out = append(out, r)
		}
		return out, rows.Err()

	case "batches":
		rows, err := db.Query(`SELECT tick,chamber,recipe,item,count,lost FROM batches WHERE tick >= ? AND (? = '' OR recipe = ?) ORDER BY tick DESC, chamber LIMIT ?`, q.Since, q.Recipe, q.Recipe, q.Limit)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r batchRow
			var lost int
			if err := rows.Scan(&r.Tick, &r.Chamber, &r.Recipe, &r.Item, &r.Count, &lost); err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			r.Lost = lost != 0
			out = append(out, r)
		}
		return out, rows.Err()

	case "exports":
		rows, err := db.Query(`SELECT tick,chamber,item,count,tx,ty,tz FROM exports WHERE tick >= ? ORDER BY tick DESC, chamber LIMIT ?`, q.Since, q.Limit)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r exportRow
			if err := rows.Scan(&r.Tick, &r.Chamber, &r.Item, &r.Count, &r.Target[0], &r.Target[1], &r.Target[2]); err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			out = append(out, r)
		}
		return out, rows.Err()

	case "recipes":
		rows, err := db.Query(`SELECT recipe, SUM(CASE WHEN lost=0 THEN 1 ELSE 0 END), SUM(lost), SUM(CASE WHEN lost=0 THEN count ELSE 0 END) FROM batches WHERE tick >= ? GROUP BY recipe ORDER BY recipe`, q.Since)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r recipeRow
			if err := rows.Scan(&r.Recipe, &r.Completed, &r.Lost, &r.Items); err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			out = append(out, r)
		}
		return out, rows.Err()

	default:
		return nil, fmt.Errorf("unknown query: %s", q.Name)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
