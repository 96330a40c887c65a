package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/ngrok/sqlmw"
	"github.com/prometheus/client_golang/prometheus"
)

const instrumentedDriverName = "pgx-instrumented"

var (
	dbOpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem: "proxmox_manager",
		Name:      "db_op_duration_milliseconds",
		Help:      "Time spent on a database operation",
		Buckets:   []float64{5, 25, 100, 300, 1000, 5000},
	}, []string{"op", "verb"})

	dbOpTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "proxmox_manager",
		Name:      "db_op_total",
		Help:      "Number of database operations",
	}, []string{"op", "outcome"})

	registerDriver sync.Once
)

func init() {
	prometheus.MustRegister(dbOpLatency, dbOpTotal)
}

// instrumentedDriver returns the name of the pgx driver wrapped with the
// metrics interceptor, registering it on first use.
func instrumentedDriver() string {
	registerDriver.Do(func() {
		sql.Register(instrumentedDriverName, sqlmw.Driver(stdlib.GetDefaultDriver(), &metricInterceptor{}))
	})
	return instrumentedDriverName
}

type metricInterceptor struct {
	sqlmw.NullInterceptor
}

// sqlVerb is the lowercased leading keyword of a statement, "other" when the
// statement does not start with one.
func sqlVerb(query string) string {
	query = strings.TrimSpace(query)
	end := strings.IndexFunc(query, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end < 0 {
		end = len(query)
	}
	if end == 0 {
		return "other"
	}
	return strings.ToLower(query[:end])
}

func observe(op, verb string, start time.Time, err error) {
	outcome := "ok"
	if err != nil && err != driver.ErrSkip {
		outcome = "error"
	}
	dbOpTotal.WithLabelValues(op, outcome).Inc()
	dbOpLatency.WithLabelValues(op, verb).Observe(float64(time.Since(start).Milliseconds()))
}

func (mi *metricInterceptor) ConnBeginTx(ctx context.Context, conn driver.ConnBeginTx, opts driver.TxOptions) (context.Context, driver.Tx, error) {
	start := time.Now()
	tx, err := conn.BeginTx(ctx, opts)
	observe("begin", "begin", start, err)
	return ctx, tx, err
}

func (mi *metricInterceptor) ConnExecContext(ctx context.Context, conn driver.ExecerContext, query string, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	res, err := conn.ExecContext(ctx, query, args)
	observe("exec", sqlVerb(query), start, err)
	return res, err
}

func (mi *metricInterceptor) ConnQueryContext(ctx context.Context, conn driver.QueryerContext, query string, args []driver.NamedValue) (context.Context, driver.Rows, error) {
	start := time.Now()
	rows, err := conn.QueryContext(ctx, query, args)
	observe("query", sqlVerb(query), start, err)
	return ctx, rows, err
}

func (mi *metricInterceptor) StmtExecContext(ctx context.Context, stmt driver.StmtExecContext, query string, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	res, err := stmt.ExecContext(ctx, args)
	observe("stmt_exec", sqlVerb(query), start, err)
	return res, err
}

func (mi *metricInterceptor) StmtQueryContext(ctx context.Context, stmt driver.StmtQueryContext, query string, args []driver.NamedValue) (context.Context, driver.Rows, error) {
	start := time.Now()
	rows, err := stmt.QueryContext(ctx, args)
	observe("stmt_query", sqlVerb(query), start, err)
	return ctx, rows, err
}

func (mi *metricInterceptor) TxCommit(ctx context.Context, tx driver.Tx) error {
	start := time.Now()
	err := tx.Commit()
	observe("commit", "commit", start, err)
	return err
}

func (mi *metricInterceptor) TxRollback(ctx context.Context, tx driver.Tx) error {
	start := time.Now()
	err := tx.Rollback()
	observe("rollback", "rollback", start, err)
	return err
}
