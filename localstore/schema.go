// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ColumnInfo holds information about a table column
type ColumnInfo struct {
	Name         string
	DeclaredType string
	IsPrimaryKey bool
	NotNull      bool
	DefaultValue *string
}

type columnDef struct {
	name       string
	definition string
}

type tableDef struct {
	name   string
	create string
	// columns added after the first release; ensured on every startup
	columns []columnDef
}

var schemaTables = []tableDef{
	{
		name: "workouts",
		create: `CREATE TABLE IF NOT EXISTS workouts (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id   TEXT,
			server_id   INTEGER,
			user_id     TEXT,
			title       TEXT NOT NULL,
			status      TEXT NOT NULL,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL,
			deleted_at  INTEGER
		)`,
		columns: []columnDef{
			{"client_id", "TEXT"},
			{"server_id", "INTEGER"},
			{"user_id", "TEXT"},
			{"deleted_at", "INTEGER"},
		},
	},
	{
		name: "workout_exercises",
		create: `CREATE TABLE IF NOT EXISTS workout_exercises (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id    TEXT,
			server_id    INTEGER,
			workout_id   INTEGER NOT NULL,
			exercise_id  TEXT NOT NULL,
			order_index  INTEGER NOT NULL,
			planned_sets INTEGER,
			deleted_at   INTEGER,
			FOREIGN KEY(workout_id) REFERENCES workouts(id) ON DELETE CASCADE
		)`,
		columns: []columnDef{
			{"client_id", "TEXT"},
			{"server_id", "INTEGER"},
			{"deleted_at", "INTEGER"},
			{"planned_sets", "INTEGER"},
		},
	},
	{
		name: "workout_sets",
		create: `CREATE TABLE IF NOT EXISTS workout_sets (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id           TEXT,
			server_id           INTEGER,
			workout_exercise_id INTEGER NOT NULL,
			reps                INTEGER NOT NULL,
			weight              REAL,
			rpe                 REAL,
			done_at             INTEGER,
			deleted_at          INTEGER,
			FOREIGN KEY(workout_exercise_id) REFERENCES workout_exercises(id) ON DELETE CASCADE
		)`,
		columns: []columnDef{
			{"client_id", "TEXT"},
			{"server_id", "INTEGER"},
			{"deleted_at", "INTEGER"},
		},
	},
	{
		name: "mutation_queue",
		create: `CREATE TABLE IF NOT EXISTS mutation_queue (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			action      TEXT NOT NULL,
			payload     TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','completed','failed')),
			attempts    INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			last_error  TEXT
		)`,
	},
	{
		name: "sync_state",
		create: `CREATE TABLE IF NOT EXISTS sync_state (
			key    TEXT PRIMARY KEY,
			value  TEXT NOT NULL
		)`,
	},
	{
		name: "user_profile",
		create: `CREATE TABLE IF NOT EXISTS user_profile (
			id                       TEXT PRIMARY KEY,
			username                 TEXT NOT NULL,
			consent_to_public_share  INTEGER NOT NULL,
			created_at               INTEGER NOT NULL
		)`,
	},
}

var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_workouts_client_id ON workouts(client_id)`,
	`CREATE INDEX IF NOT EXISTS idx_workout_exercises_client_id ON workout_exercises(client_id)`,
	`CREATE INDEX IF NOT EXISTS idx_workout_exercises_workout ON workout_exercises(workout_id)`,
	`CREATE INDEX IF NOT EXISTS idx_workout_sets_client_id ON workout_sets(client_id)`,
	`CREATE INDEX IF NOT EXISTS idx_workout_sets_exercise ON workout_sets(workout_exercise_id)`,
	`CREATE INDEX IF NOT EXISTS idx_mutation_queue_status ON mutation_queue(status, id)`,
}

// initializeSchema creates all tables and appends columns missing from
// tables created by older releases.
func initializeSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range schemaTables {
		if _, err := tx.ExecContext(ctx, table.create); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table.name, err)
		}
		if err := ensureColumns(ctx, tx, table); err != nil {
			return err
		}
	}
	// Indexes reference migrated columns, so they come last.
	for _, stmt := range schemaIndexes {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

func ensureColumns(ctx context.Context, q querier, table tableDef) error {
	if len(table.columns) == 0 {
		return nil
	}
	existing, err := tableColumns(ctx, q, table.name)
	if err != nil {
		return err
	}
	for _, col := range table.columns {
		if _, ok := existing[col.name]; ok {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table.name, col.name, col.definition)
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", table.name, col.name, err)
		}
	}
	return nil
}

// tableColumns reads PRAGMA table_info and returns columns keyed by lower-case name
func tableColumns(ctx context.Context, q querier, tableName string) (map[string]ColumnInfo, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to get table info for %s: %w", tableName, err)
	}
	defer rows.Close()

	columns := make(map[string]ColumnInfo)
	for rows.Next() {
		var cid int
		var name, declaredType string
		var notNull, pk int
		var defaultValue sql.NullString

		if err := rows.Scan(&cid, &name, &declaredType, &notNull, &defaultValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}

		var defaultVal *string
		if defaultValue.Valid {
			defaultVal = &defaultValue.String
		}
		columns[strings.ToLower(name)] = ColumnInfo{
			Name:         name,
			DeclaredType: declaredType,
			IsPrimaryKey: pk == 1,
			NotNull:      notNull == 1,
			DefaultValue: defaultVal,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}
	return columns, nil
}
