// Package sqlitex provides the SQL tool set against SQLite database files.
package sqlitex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // database/sql driver

	"github.com/gosuda/loom/internal/tool"
)

const driverName = "sqlite"

// Store holds shared settings for the SQLite tools. Each invocation opens
// its own connection against the database file named in the call, so tools
// remain stateless across calls.
type Store struct {
	defaultTimeout time.Duration
	defaultLimit   int
}

// NewStore creates the SQLite tool store. defaultTimeout bounds query and
// command execution when the model does not pass an explicit timeout.
func NewStore(defaultTimeout time.Duration) *Store {
	return &Store{
		defaultTimeout: defaultTimeout,
		defaultLimit:   1000,
	}
}

// Tools returns the SQLite tool set for registration.
func (s *Store) Tools() []tool.Tool {
	return []tool.Tool{
		tool.NewFunc("sqlite_connect",
			"Connect to a SQLite database file and verify the connection",
			[]tool.Param{
				{Name: "database_path", Type: "string", Required: true, Description: "Path to the SQLite database file"},
			},
			"String - confirmation message with basic database info, or error message if connection fails",
			s.connect),
		tool.NewFunc("sqlite_execute_query",
			"Execute a SELECT query on SQLite database (read-only operations)",
			[]tool.Param{
				{Name: "database_path", Type: "string", Required: true, Description: "Path to the SQLite database file"},
				{Name: "query", Type: "string", Required: true, Description: "SQL SELECT query to execute"},
				{Name: "limit", Type: "integer", Required: false, Description: "Maximum number of rows to return (defaults to 1000)"},
				{Name: "timeout", Type: "integer", Required: false, Description: "Query timeout in seconds (defaults to 30)"},
			},
			"String - JSON formatted results with columns and rows, or error message if execution fails",
			s.executeQuery),
		tool.NewFunc("sqlite_execute_command",
			"Execute INSERT, UPDATE, DELETE, or DDL commands on SQLite database",
			[]tool.Param{
				{Name: "database_path", Type: "string", Required: true, Description: "Path to the SQLite database file"},
				{Name: "command", Type: "string", Required: true, Description: "SQL command to execute (INSERT, UPDATE, DELETE, CREATE, DROP, etc.)"},
				{Name: "timeout", Type: "integer", Required: false, Description: "Command timeout in seconds (defaults to 30)"},
			},
			"String - confirmation message with affected rows count, or error message if execution fails",
			s.executeCommand),
		tool.NewFunc("sqlite_get_schema",
			"Get the complete database schema including all tables, columns, and their types",
			[]tool.Param{
				{Name: "database_path", Type: "string", Required: true, Description: "Path to the SQLite database file"},
			},
			"String - JSON formatted schema information, or error message if retrieval fails",
			s.getSchema),
		tool.NewFunc("sqlite_list_tables",
			"List all tables and views in the SQLite database",
			[]tool.Param{
				{Name: "database_path", Type: "string", Required: true, Description: "Path to the SQLite database file"},
			},
			"String - JSON formatted list of tables and views, or error message if retrieval fails",
			s.listTables),
	}
}

// open opens the database file and applies the effective timeout to ctx.
func (s *Store) open(ctx context.Context, path string, timeoutSec int) (*sqlx.DB, context.Context, context.CancelFunc, error) {
	timeout := s.defaultTimeout
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)

	db, err := sqlx.Open(driverName, path)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return db, ctx, cancel, nil
}

// requireFile rejects paths that do not name an existing database file.
// Unlike connect, the query/command tools never create the file implicitly.
func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("database file not found: %s", path)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a database file", path)
	}
	return nil
}

func (s *Store) connect(ctx context.Context, args map[string]any) (string, error) {
	path, err := tool.StringArg(args, "database_path", true, "")
	if err != nil {
		return "", err
	}

	_, statErr := os.Stat(path)
	existed := statErr == nil

	db, ctx, cancel, err := s.open(ctx, path, 0)
	if err != nil {
		return "", err
	}
	defer cancel()
	defer db.Close()

	var version string
	if err := db.GetContext(ctx, &version, "SELECT sqlite_version()"); err != nil {
		return "", fmt.Errorf("verifying connection to %s: %w", path, err)
	}

	var tableCount int
	if err := db.GetContext(ctx, &tableCount, "SELECT COUNT(*) FROM sqlite_master WHERE type='table'"); err != nil {
		return "", fmt.Errorf("counting tables in %s: %w", path, err)
	}

	status := "Connected to existing database"
	if !existed {
		status = "Created new database"
	}
	return fmt.Sprintf("%s: %s\nSQLite version: %s\nTables found: %d", status, path, version, tableCount), nil
}

func (s *Store) executeQuery(ctx context.Context, args map[string]any) (string, error) {
	path, err := tool.StringArg(args, "database_path", true, "")
	if err != nil {
		return "", err
	}
	query, err := tool.StringArg(args, "query", true, "")
	if err != nil {
		return "", err
	}
	limit, err := tool.IntArg(args, "limit", false, s.defaultLimit)
	if err != nil {
		return "", err
	}
	timeoutSec, err := tool.IntArg(args, "timeout", false, 0)
	if err != nil {
		return "", err
	}

	if err := requireFile(path); err != nil {
		return "", err
	}

	upper := strings.ToUpper(strings.TrimSpace(query))
	if !strings.HasPrefix(upper, "SELECT") {
		return "", fmt.Errorf("only SELECT queries are allowed, use sqlite_execute_command for other operations")
	}
	if !strings.Contains(upper, "LIMIT") {
		query = fmt.Sprintf("%s LIMIT %d", strings.TrimRight(strings.TrimSpace(query), ";"), limit)
	}

	db, ctx, cancel, err := s.open(ctx, path, timeoutSec)
	if err != nil {
		return "", err
	}
	defer cancel()
	defer db.Close()

	rows, err := db.QueryxContext(ctx, query)
	if err != nil {
		return "", fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("reading columns: %w", err)
	}

	data := []map[string]any{}
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return "", fmt.Errorf("scanning row: %w", err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterating rows: %w", err)
	}

	return marshalJSON(map[string]any{
		"success":   true,
		"columns":   columns,
		"row_count": len(data),
		"data":      data,
	})
}

func (s *Store) executeCommand(ctx context.Context, args map[string]any) (string, error) {
	path, err := tool.StringArg(args, "database_path", true, "")
	if err != nil {
		return "", err
	}
	command, err := tool.StringArg(args, "command", true, "")
	if err != nil {
		return "", err
	}
	timeoutSec, err := tool.IntArg(args, "timeout", false, 0)
	if err != nil {
		return "", err
	}

	if err := requireFile(path); err != nil {
		return "", err
	}

	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(command)), "SELECT") {
		return "", fmt.Errorf("use sqlite_execute_query for SELECT statements")
	}

	db, ctx, cancel, err := s.open(ctx, path, timeoutSec)
	if err != nil {
		return "", err
	}
	defer cancel()
	defer db.Close()

	res, err := db.ExecContext(ctx, command)
	if err != nil {
		return "", fmt.Errorf("executing command: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return fmt.Sprintf("Command executed successfully. Rows affected: %d", affected), nil
}

type columnInfo struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	NotNull      bool    `json:"not_null"`
	DefaultValue *string `json:"default_value"`
	PrimaryKey   bool    `json:"primary_key"`
}

type objectInfo struct {
	Name      string       `json:"name"`
	Columns   []columnInfo `json:"columns"`
	CreateSQL string       `json:"create_sql"`
}

func (s *Store) getSchema(ctx context.Context, args map[string]any) (string, error) {
	path, err := tool.StringArg(args, "database_path", true, "")
	if err != nil {
		return "", err
	}
	if err := requireFile(path); err != nil {
		return "", err
	}

	db, ctx, cancel, err := s.open(ctx, path, 0)
	if err != nil {
		return "", err
	}
	defer cancel()
	defer db.Close()

	var objects []struct {
		Name string  `db:"name"`
		Type string  `db:"type"`
		SQL  *string `db:"sql"`
	}
	err = db.SelectContext(ctx, &objects,
		"SELECT name, type, sql FROM sqlite_master WHERE type IN ('table', 'view') ORDER BY type, name")
	if err != nil {
		return "", fmt.Errorf("reading schema: %w", err)
	}

	tables := []objectInfo{}
	views := []objectInfo{}
	for _, obj := range objects {
		var cols []struct {
			CID          int     `db:"cid"`
			Name         string  `db:"name"`
			Type         string  `db:"type"`
			NotNull      int     `db:"notnull"`
			DefaultValue *string `db:"dflt_value"`
			PK           int     `db:"pk"`
		}
		if err := db.SelectContext(ctx, &cols, fmt.Sprintf("PRAGMA table_info(%q)", obj.Name)); err != nil {
			return "", fmt.Errorf("reading columns of %s: %w", obj.Name, err)
		}

		columns := make([]columnInfo, 0, len(cols))
		for _, c := range cols {
			columns = append(columns, columnInfo{
				Name:         c.Name,
				Type:         c.Type,
				NotNull:      c.NotNull != 0,
				DefaultValue: c.DefaultValue,
				PrimaryKey:   c.PK != 0,
			})
		}

		createSQL := ""
		if obj.SQL != nil {
			createSQL = *obj.SQL
		}
		info := objectInfo{Name: obj.Name, Columns: columns, CreateSQL: createSQL}
		if obj.Type == "table" {
			tables = append(tables, info)
		} else {
			views = append(views, info)
		}
	}

	return marshalJSON(map[string]any{
		"database": path,
		"tables":   tables,
		"views":    views,
	})
}

func (s *Store) listTables(ctx context.Context, args map[string]any) (string, error) {
	path, err := tool.StringArg(args, "database_path", true, "")
	if err != nil {
		return "", err
	}
	if err := requireFile(path); err != nil {
		return "", err
	}

	db, ctx, cancel, err := s.open(ctx, path, 0)
	if err != nil {
		return "", err
	}
	defer cancel()
	defer db.Close()

	var objects []struct {
		Name string `db:"name"`
		Type string `db:"type"`
	}
	err = db.SelectContext(ctx, &objects,
		"SELECT name, type FROM sqlite_master WHERE type IN ('table', 'view') ORDER BY type, name")
	if err != nil {
		return "", fmt.Errorf("listing tables: %w", err)
	}

	tables := []string{}
	views := []string{}
	for _, obj := range objects {
		if obj.Type == "table" {
			tables = append(tables, obj.Name)
		} else {
			views = append(views, obj.Name)
		}
	}

	return marshalJSON(map[string]any{
		"database":     path,
		"tables":       tables,
		"views":        views,
		"total_tables": len(tables),
		"total_views":  len(views),
	})
}

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(data), nil
}
