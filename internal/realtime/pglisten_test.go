package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification(t *testing.T) {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	ev, err := ParseNotification(`{"table":"notifications","op":"INSERT","row_id":"n-1","user_id":"u-1"}`, at)
	require.NoError(t, err)
	assert.Equal(t, ChangeEvent{Table: TableNotifications, Op: OpInsert, RowID: "n-1", UserID: "u-1", At: at}, ev)

	ev, err = ParseNotification(`{"table":"room_stays","row_id":"s-1"}`, at)
	require.NoError(t, err)
	assert.Equal(t, OpUpdate, ev.Op)

	_, err = ParseNotification(`{"op":"INSERT"}`, at)
	assert.Error(t, err)
	_, err = ParseNotification(`{"table":"rooms","op":"TRUNCATE"}`, at)
	assert.Error(t, err)
	_, err = ParseNotification(`not json`, at)
	assert.Error(t, err)
}

type execCall struct {
	sql  string
	args []any
}

// recordingConn captures pg_notify calls.
type recordingConn struct {
	calls []execCall
	err   error
}

func (c *recordingConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if c.err != nil {
		return pgconn.CommandTag{}, c.err
	}
	c.calls = append(c.calls, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func TestPGPublisher_RoundTripBetweenProcesses(t *testing.T) {
	at := time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)
	ctx := context.Background()

	hubA := NewHub()
	pub := NewPGPublisher("", "", "proc-a", hubA, nil)
	local := ChangeEvent{Table: TableRoomStays, Op: OpUpdate, RowID: "stay-101", At: at}
	hubA.Publish(local)
	hubA.Publish(ChangeEvent{Table: TableRooms, Op: OpUpdate, RowID: "101", At: at, Origin: "proc-b"})
	pub.Close()

	conn := &recordingConn{}
	require.NoError(t, pub.send(ctx, conn))
	require.Len(t, conn.calls, 1, "relayed events are not sent back")
	assert.Equal(t, "SELECT pg_notify($1, $2)", conn.calls[0].sql)
	assert.Equal(t, DefaultPGChannel, conn.calls[0].args[0])
	payload := conn.calls[0].args[1].(string)

	hubB := NewHub()
	var got []ChangeEvent
	hubB.Subscribe(Filter{Tables: []string{TableRoomStays}}, func(ev ChangeEvent) { got = append(got, ev) })
	listenerB := &PGListener{Hub: hubB, Origin: "proc-b"}
	assert.True(t, listenerB.forward(payload, at.Add(time.Second)))

	want := local
	want.Origin = "proc-a"
	assert.Equal(t, []ChangeEvent{want}, got)

	var echoes int
	hubA.Subscribe(Filter{}, func(ChangeEvent) { echoes++ })
	listenerA := &PGListener{Hub: hubA, Origin: "proc-a"}
	assert.False(t, listenerA.forward(payload, at), "own echo")
	assert.Zero(t, echoes)
}

func TestPGListener_TriggerPayloadIsNotRepublished(t *testing.T) {
	at := time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)
	hub := NewHub()
	pub := NewPGPublisher("", "valet_changes", "proc-b", hub, nil)
	var got []ChangeEvent
	hub.Subscribe(Filter{}, func(ev ChangeEvent) { got = append(got, ev) })

	l := &PGListener{Hub: hub, Origin: "proc-b"}
	assert.True(t, l.forward(`{"table":"payments","op":"INSERT","row_id":"pay-1"}`, at))
	assert.False(t, l.forward(`{"table":`, at))

	require.Len(t, got, 1)
	assert.Equal(t, OriginPostgres, got[0].Origin)
	pub.Close()
	conn := &recordingConn{}
	require.NoError(t, pub.send(context.Background(), conn))
	assert.Empty(t, conn.calls)
}

func TestPGPublisher_ExecErrorAndClose(t *testing.T) {
	hub := NewHub()
	pub := NewPGPublisher("", "", "proc-a", hub, nil)
	hub.Publish(ChangeEvent{Table: TableItems, Op: OpUpdate, RowID: "item-203-a"})

	err := pub.send(context.Background(), &recordingConn{err: errors.New("connection reset")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify sales_order_items")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.send(ctx, &recordingConn{}), context.Canceled)

	pub.Close()
	pub.Close()
	hub.Publish(ChangeEvent{Table: TableItems, Op: OpUpdate, RowID: "item-203-b"})
	assert.Zero(t, hub.Len(), "closing cancels the hub subscription")
}
