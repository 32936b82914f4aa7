package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tetherctl/internal/model"
	"tetherctl/internal/session"
)

type msg struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []msg
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.msgs = append(f.msgs, msg{subject, data})
	return f.err
}

func newTestPublisher(conn Conn) *Publisher {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewPublisher(conn, "tetherctl", clk, nil)
}

func TestStatus_PublishedOnChangeOnly(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	p := newTestPublisher(conn)

	p.OnPairingStatusChanged(model.Unpaired())
	p.OnPairingStatusChanged(model.Unpaired())
	p.OnPairingStatusChanged(model.Paired("Pixel"))
	p.OnPairingStatusChanged(model.Paired("Pixel"))

	require.Len(t, conn.msgs, 2)
	assert.Equal(t, "tetherctl.status", conn.msgs[1].subject)

	var ev StatusEvent
	require.NoError(t, json.Unmarshal(conn.msgs[1].data, &ev))
	assert.True(t, ev.Paired)
	assert.Equal(t, "Pixel", ev.PhoneName)
	assert.Equal(t, 2024, ev.At.Year())
}

func TestSessionClosed(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	p := newTestPublisher(conn)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	err := p.SessionClosed(model.Session{ID: "s1", PhoneName: "Pixel", StartedAt: start, EndedAt: start.Add(time.Minute), BytesTransferred: 70})
	require.NoError(t, err)
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "tetherctl.session.closed", conn.msgs[0].subject)
	assert.JSONEq(t, `{"id":"s1","phone_name":"Pixel","interface_name":"","started_at":"2024-05-01T10:00:00Z","ended_at":"2024-05-01T10:01:00Z","duration_sec":60,"bytes_transferred":70}`, string(conn.msgs[0].data))

	conn.err = errors.New("no responders")
	assert.Error(t, p.SessionClosed(model.Session{}))
}

func TestTransfer(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{err: errors.New("disconnected")}
	p := newTestPublisher(conn)
	p.OnTransferThreshold(session.Snapshot{Active: true, ID: "s1", BytesTransferred: 52428801})

	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "tetherctl.transfer", conn.msgs[0].subject)

	var ev TransferEvent
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &ev))
	assert.EqualValues(t, 52428801, ev.BytesTransferred)
}

func TestSubject(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "status", NewPublisher(&fakeConn{}, "", nil, nil).Subject("status"))
	assert.Equal(t, "a.b.status", NewPublisher(&fakeConn{}, "a.b", nil, nil).Subject("status"))
}
