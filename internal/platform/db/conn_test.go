package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// stubTx satisfies pgx.Tx; only its identity matters here.
type stubTx struct{ pgx.Tx }

func TestConn_FallsBackToPool(t *testing.T) {
	pool := &pgxpool.Pool{}
	q := Conn(context.Background(), pool)
	if got, ok := q.(*pgxpool.Pool); !ok || got != pool {
		t.Fatalf("expected the pool, got %T", q)
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if TxFromContext(context.Background()) != nil {
		t.Error("expected no transaction in an empty context")
	}
}

func TestConn_PrefersOpenTransaction(t *testing.T) {
	tx := &stubTx{}
	ctx := context.WithValue(context.Background(), TxKey, pgx.Tx(tx))
	if TxFromContext(ctx) != tx {
		t.Fatal("expected the stored transaction")
	}
	if got, ok := Conn(ctx, &pgxpool.Pool{}).(*stubTx); !ok || got != tx {
		t.Errorf("expected the transaction to win over the pool, got %T", got)
	}
}
