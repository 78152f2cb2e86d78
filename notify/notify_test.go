package notify

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/leave-portal/directory"
	"github.com/warp/leave-portal/leave"
)

type sentMail struct {
	addr string
	auth sasl.Client
	from string
	to   []string
	body string
}

type fakeRelay struct {
	sent []sentMail
	err  error
}

func (f *fakeRelay) send(addr string, a sasl.Client, from string, to []string, r io.Reader) error {
	if f.err != nil {
		return f.err
	}
	b, _ := io.ReadAll(r)
	f.sent = append(f.sent, sentMail{addr: addr, auth: a, from: from, to: to, body: string(b)})
	return nil
}

func testDirectory() *directory.Static {
	return directory.NewStatic([]leave.Employee{
		{ID: "emp-1", Email: "ama@example.gov"},
		{ID: "mgr-1", Email: "kwame@example.gov", Roles: []leave.ApproverRole{leave.RoleManager}},
		{ID: "hr-1", Email: "kofi@example.gov", Roles: []leave.ApproverRole{leave.RoleHR}},
		{ID: "hr-2", Email: "efua@example.gov", Roles: []leave.ApproverRole{leave.RoleHR}},
		{ID: "hq-1", Roles: []leave.ApproverRole{leave.RoleHQ}},
	}, nil)
}

func newTestSMTP(cfg SMTPConfig, relay *fakeRelay) *SMTPNotifier {
	n := NewSMTPNotifier(cfg, testDirectory(), zap.NewNop())
	n.send = relay.send
	return n
}

func TestSMTP_ExpandsRolesAndDeduplicates(t *testing.T) {
	relay := &fakeRelay{}
	n := newTestSMTP(SMTPConfig{Host: "relay.example.gov", Port: 587, From: "leave@example.gov", Username: "svc", Password: "pw"}, relay)

	err := n.Notify(context.Background(), leave.Notification{
		Kind:       leave.NotifyHRReminder,
		Recipients: []string{"hr-1", leave.RoleRecipient(leave.RoleHR)},
		RequestID:  "r1",
		Subject:    "Request waiting",
		Body:       "Request r1 has been pending for 3 days.",
	})
	require.NoError(t, err)

	require.Len(t, relay.sent, 1)
	m := relay.sent[0]
	assert.Equal(t, "relay.example.gov:587", m.addr)
	assert.Equal(t, "leave@example.gov", m.from)
	assert.Equal(t, []string{"kofi@example.gov", "efua@example.gov"}, m.to)
	assert.NotNil(t, m.auth)
	assert.Contains(t, m.body, "Subject: Leave Portal - Request waiting\r\n")
	assert.Contains(t, m.body, "Request: r1")
}

func TestSMTP_UnknownAndAddresslessRecipientsAreSkipped(t *testing.T) {
	relay := &fakeRelay{}
	n := newTestSMTP(SMTPConfig{Host: "relay", Port: 25, From: "leave@example.gov"}, relay)

	err := n.Notify(context.Background(), leave.Notification{
		Kind:       leave.NotifyApprovalNeeded,
		Recipients: []string{"ghost", "hq-1"},
		Subject:    "Approval needed",
	})
	require.NoError(t, err)
	assert.Empty(t, relay.sent)
}

func TestSMTP_DisabledWithoutHost(t *testing.T) {
	relay := &fakeRelay{}
	n := newTestSMTP(SMTPConfig{}, relay)
	require.NoError(t, n.Notify(context.Background(), leave.Notification{Recipients: []string{"emp-1"}}))
	assert.Empty(t, relay.sent)
}

func TestSend_LogsAndSwallowsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	relay := &fakeRelay{err: errors.New("connection refused")}
	n := newTestSMTP(SMTPConfig{Host: "relay", Port: 25}, relay)

	Send(context.Background(), Multi{NewLogNotifier(zap.NewNop()), n}, zap.New(core), leave.Notification{
		Kind:       leave.NotifyDecision,
		Recipients: []string{"emp-1"},
		RequestID:  "r1",
		Subject:    "approved",
	})

	entries := logs.FilterMessage("notification failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "r1", entries[0].ContextMap()["request_id"])
}

func TestSend_NoRecipientsIsNoop(t *testing.T) {
	relay := &fakeRelay{}
	n := newTestSMTP(SMTPConfig{Host: "relay", Port: 25}, relay)
	Send(context.Background(), n, zap.NewNop(), leave.Notification{Kind: leave.NotifyDecision})
	assert.Empty(t, relay.sent)
}
