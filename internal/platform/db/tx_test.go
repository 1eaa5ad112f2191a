package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

// fakeTx satisfies pgx.Tx for the nested-transaction path; only identity matters.
type fakeTx struct{ pgx.Tx }

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if err == nil {
		t.Fatal("expected error when no connection in context")
	}
	if err.Error() != "no database connection in context" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}

func TestInTx_NoPool(t *testing.T) {
	tr := NewTransactor(nil)
	called := false
	err := tr.InTx(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error without pool or connection")
	}
	if called {
		t.Error("fn must not run without a transaction")
	}
}

func TestInTx_JoinsExistingTx(t *testing.T) {
	outer := &fakeTx{}
	ctx := context.WithValue(context.Background(), DBTxKey, pgx.Tx(outer))

	tr := NewTransactor(nil)
	var seen pgx.Tx
	err := tr.InTx(ctx, func(ctx context.Context) error {
		seen = TxFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != outer {
		t.Error("expected nested call to reuse the outer transaction")
	}
}

func TestInTx_JoinsExistingTx_PropagatesError(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, pgx.Tx(&fakeTx{}))
	want := errors.New("boom")

	err := NewTransactor(nil).InTx(ctx, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}
