package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/sijms/go-ora/v2"

	"github.com/flowprobe/flowprobe/internal/model"
)

var errNotSelect = errors.New("only SELECT queries are allowed")

// sqlDriver is the shared implementation behind the four relational
// connector types; only the driver name and DSN shape differ.
type sqlDriver struct {
	driverName string
	buildDSN   func(cfg map[string]string) string
}

type sqlResult struct {
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"rowCount"`
}

func (d *sqlDriver) Execute(ctx context.Context, cfg map[string]string, query string, timeout time.Duration) (string, error) {
	q := strings.TrimSpace(query)
	if !strings.HasPrefix(strings.ToUpper(q), "SELECT") {
		return "", errNotSelect
	}

	dsn := cfgValue(cfg, "dsn")
	if dsn == "" {
		dsn = d.buildDSN(cfg)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := sqlx.Open(d.driverName, dsn)
	if err != nil {
		return "", fmt.Errorf("failed to open %s connection: %w", d.driverName, err)
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.QueryxContext(ctx, q)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := sqlResult{Rows: []map[string]any{}}
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return "", fmt.Errorf("failed to scan row: %w", err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	result.RowCount = len(result.Rows)

	out, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func mysqlDSN(cfg map[string]string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s",
		cfgValue(cfg, "username", "user"),
		cfgValue(cfg, "password"),
		cfgValue(cfg, "host"),
		defaultStr(cfgValue(cfg, "port"), "3306"),
		cfgValue(cfg, "database"),
	)
}

func postgresDSN(cfg map[string]string) string {
	sslmode := defaultStr(cfgValue(cfg, "sslmode"), "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfgValue(cfg, "username", "user"),
		cfgValue(cfg, "password"),
		cfgValue(cfg, "host"),
		defaultStr(cfgValue(cfg, "port"), "5432"),
		cfgValue(cfg, "database"),
		sslmode,
	)
}

func oracleDSN(cfg map[string]string) string {
	return fmt.Sprintf("oracle://%s:%s@%s:%s/%s",
		cfgValue(cfg, "username", "user"),
		cfgValue(cfg, "password"),
		cfgValue(cfg, "host"),
		defaultStr(cfgValue(cfg, "port"), "1521"),
		cfgValue(cfg, "database", "service"),
	)
}

func sqlserverDSN(cfg map[string]string) string {
	return fmt.Sprintf("sqlserver://%s:%s@%s:%s?database=%s",
		cfgValue(cfg, "username", "user"),
		cfgValue(cfg, "password"),
		cfgValue(cfg, "host"),
		defaultStr(cfgValue(cfg, "port"), "1433"),
		cfgValue(cfg, "database"),
	)
}

func defaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func init() {
	Register(model.ConnectorMySQL, func() Driver {
		return &sqlDriver{driverName: "mysql", buildDSN: mysqlDSN}
	})
	Register(model.ConnectorPostgres, func() Driver {
		return &sqlDriver{driverName: "pgx", buildDSN: postgresDSN}
	})
	Register(model.ConnectorOracle, func() Driver {
		return &sqlDriver{driverName: "oracle", buildDSN: oracleDSN}
	})
	Register(model.ConnectorSQLServer, func() Driver {
		return &sqlDriver{driverName: "sqlserver", buildDSN: sqlserverDSN}
	})
}
