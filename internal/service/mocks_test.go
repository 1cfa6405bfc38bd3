package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/tabwise-pos/api/internal/database"
)

// --- Mock implementations ---

// mockTx implements pgx.Tx with only the methods we need.
// The unused methods panic so we catch accidental calls.
type mockTx struct {
	commitErr   error
	rollbackErr error
	onCommit    func()
	onRollback  func()
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error {
	if m.onCommit != nil {
		m.onCommit()
	}
	return m.commitErr
}
func (m *mockTx) Rollback(ctx context.Context) error {
	if m.onRollback != nil {
		m.onRollback()
	}
	return m.rollbackErr
}
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

// mockTxBeginner implements TxBeginner.
type mockTxBeginner struct {
	tx  pgx.Tx
	err error
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.tx, m.err
}

// mockEvents records published events for assertions.
type mockEvents struct {
	events []publishedEvent
}

type publishedEvent struct {
	outletID uuid.UUID
	name     string
	payload  any
}

func (m *mockEvents) Publish(outletID uuid.UUID, event string, payload any) {
	m.events = append(m.events, publishedEvent{outletID: outletID, name: event, payload: payload})
}

func (m *mockEvents) names() []string {
	names := make([]string, len(m.events))
	for i, e := range m.events {
		names[i] = e.name
	}
	return names
}

// --- Test helpers ---

func makeNumeric(val string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(val)
	return n
}

func numericEquals(n pgtype.Numeric, expected string) bool {
	d := numericToDecimal(n)
	exp, _ := decimal.NewFromString(expected)
	return d.Equal(exp)
}

// openOrder builds a database.Order in OPEN state with the given totals.
func openOrder(outletID uuid.UUID, subtotal, discount, tax, total string) database.Order {
	return database.Order{
		ID:             uuid.New(),
		OutletID:       outletID,
		OrderNumber:    "TW-001",
		Status:         "OPEN",
		Subtotal:       makeNumeric(subtotal),
		DiscountAmount: makeNumeric(discount),
		TaxAmount:      makeNumeric(tax),
		Total:          makeNumeric(total),
		CreatedBy:      uuid.New(),
	}
}
