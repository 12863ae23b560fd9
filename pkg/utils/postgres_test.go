package utils

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
)

// txRecorder is a minimal driver that records transaction outcomes.
type txRecorder struct {
	conn *txRecorderConn
}

func (d *txRecorder) Open(name string) (driver.Conn, error) { return d.conn, nil }

type txRecorderConn struct {
	commits   int
	rollbacks int
}

func (c *txRecorderConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("txrecorder: statements not supported")
}
func (c *txRecorderConn) Close() error              { return nil }
func (c *txRecorderConn) Begin() (driver.Tx, error) { return &txRecorderTx{conn: c}, nil }

type txRecorderTx struct {
	conn *txRecorderConn
}

func (t *txRecorderTx) Commit() error   { t.conn.commits++; return nil }
func (t *txRecorderTx) Rollback() error { t.conn.rollbacks++; return nil }

func newRecordedDB(t *testing.T) (*sql.DB, *txRecorderConn) {
	t.Helper()
	conn := &txRecorderConn{}
	name := "txrecorder-" + t.Name()
	sql.Register(name, &txRecorder{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, conn
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db, conn := newRecordedDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if conn.commits != 1 || conn.rollbacks != 0 {
		t.Fatalf("commits/rollbacks = %d/%d, want 1/0", conn.commits, conn.rollbacks)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, conn := newRecordedDB(t)
	boom := errors.New("unit of work failed")

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the fn error", err)
	}
	if conn.commits != 0 || conn.rollbacks != 1 {
		t.Fatalf("commits/rollbacks = %d/%d, want 0/1", conn.commits, conn.rollbacks)
	}
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	db, conn := newRecordedDB(t)

	defer func() {
		if recover() == nil {
			t.Fatal("panic was swallowed")
		}
		if conn.commits != 0 || conn.rollbacks != 1 {
			t.Fatalf("commits/rollbacks = %d/%d, want 0/1", conn.commits, conn.rollbacks)
		}
	}()
	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		panic("mid-transaction failure")
	})
}
