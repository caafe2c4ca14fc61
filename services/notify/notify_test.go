package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	gomail "gopkg.in/mail.v2"

	"stock_alerts_backend/config"
	"stock_alerts_backend/metrics"
	"stock_alerts_backend/models"
)

type staticRecipients struct {
	users []models.User
	err   error
}

func (s staticRecipients) RecipientsForTicker(context.Context, string) ([]models.User, error) {
	return s.users, s.err
}

// recordingDispatcher fails for the listed emails and records the rest
type recordingDispatcher struct {
	mu     sync.Mutex
	fail   map[string]bool
	sentTo []string
	calls  int
}

func (d *recordingDispatcher) Channel() string { return "test" }

func (d *recordingDispatcher) Send(_ context.Context, to Recipient, _ *RenderedMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fail[to.Email] {
		return errors.New("mailbox unavailable")
	}
	d.sentTo = append(d.sentTo, to.Email)
	return nil
}

func TestRendererTemplates(t *testing.T) {
	r := NewRenderer()
	tests := []struct {
		eventType   string
		wantSubject string
	}{
		{models.EventHedgeFundBuy, "Hedge Fund Alert: New position in NVDA"},
		{models.EventHedgeFundSell, "Hedge Fund Alert: Position reduced in NVDA"},
		{models.EventInvestorMention, "Investor Mention: NVDA"},
		{models.EventPoliticianBuy, "Politician Trade Alert: Purchase of NVDA"},
		{models.EventPoliticianSell, "Politician Trade Alert: Sale of NVDA"},
		{models.EventVolumeSurge, "Stock Alert: NVDA - Volume Surge"},
		{"", "Stock Alert: NVDA - Event"},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			msg, err := r.Render("NVDA", tt.eventType, map[string]interface{}{"fund_name": "Example Capital"})
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if msg.Subject != tt.wantSubject {
				t.Fatalf("subject = %q, want %q", msg.Subject, tt.wantSubject)
			}
			if !strings.Contains(msg.Text, "Fund Name: Example Capital") {
				t.Fatalf("text missing details:\n%s", msg.Text)
			}
			if !strings.Contains(msg.HTML, "Example Capital") {
				t.Fatal("html missing details")
			}
		})
	}
}

func TestRendererKeepsPercentInUnknownEventType(t *testing.T) {
	msg, err := NewRenderer().Render("AAPL", "rate_%d_spike", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if want := "Stock Alert: AAPL - Rate %d Spike"; msg.Subject != want {
		t.Fatalf("subject = %q, want %q", msg.Subject, want)
	}
	if !strings.Contains(msg.Text, "New rate %d spike event for AAPL.") || strings.Contains(msg.Text, "%!") {
		t.Fatalf("text = %q", msg.Text)
	}
}

func TestRendererIsDeterministic(t *testing.T) {
	r := NewRenderer()
	details := map[string]interface{}{"b": 2, "a": 1, "c": "<script>"}
	first, _ := r.Render("AAPL", models.EventPoliticianBuy, details)
	for i := 0; i < 10; i++ {
		again, _ := r.Render("AAPL", models.EventPoliticianBuy, details)
		if *again != *first {
			t.Fatal("render output changed between calls")
		}
	}
	if strings.Contains(first.HTML, "<script>") {
		t.Fatal("html details are not escaped")
	}
	if strings.Index(first.Text, "A: 1") > strings.Index(first.Text, "B: 2") {
		t.Fatal("details not sorted by key")
	}
}

func TestFanOutIsolatesRecipientFailures(t *testing.T) {
	users := []models.User{
		{ID: 1, Email: "a@example.com"},
		{ID: 2, Email: "b@example.com"},
		{ID: 3, Email: "c@example.com"},
	}
	d := &recordingDispatcher{fail: map[string]bool{"b@example.com": true}}
	log, hook := test.NewNullLogger()
	f := NewFanOut(staticRecipients{users: users}, NewRenderer(), d, log)

	res, err := f.Notify(context.Background(), "NVDA", models.EventHedgeFundBuy, nil)
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if res.Recipients != 3 || res.Sent != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 3/2/1", res)
	}
	if d.calls != 3 {
		t.Fatalf("dispatcher calls = %d, want 3 (no per-recipient retry)", d.calls)
	}
	warned := false
	for _, e := range hook.AllEntries() {
		if e.Message == "Failed to notify recipient" {
			warned = true
		}
	}
	if !warned {
		t.Fatal("recipient failure was not logged")
	}
}

func TestFanOutNoRecipients(t *testing.T) {
	d := &recordingDispatcher{}
	log, _ := test.NewNullLogger()
	f := NewFanOut(staticRecipients{}, NewRenderer(), d, log)

	res, err := f.Notify(context.Background(), "ZZZZ", models.EventInvestorMention, nil)
	if err != nil || res != (FanOutResult{}) {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
	if d.calls != 0 {
		t.Fatalf("dispatcher called %d times with no recipients", d.calls)
	}
}

func TestFanOutRecipientLookupError(t *testing.T) {
	log, _ := test.NewNullLogger()
	f := NewFanOut(staticRecipients{err: errors.New("db down")}, NewRenderer(), &recordingDispatcher{}, log)
	if _, err := f.Notify(context.Background(), "AAPL", models.EventHedgeFundSell, nil); err == nil {
		t.Fatal("expected lookup error")
	}
}

func TestMultiDispatcherJoinsErrors(t *testing.T) {
	ok := &recordingDispatcher{}
	bad := &recordingDispatcher{fail: map[string]bool{"a@example.com": true}}
	m := NewMultiDispatcher(ok, nil, bad)

	before := testutil.ToFloat64(metrics.NotificationsSentTotal.WithLabelValues("test", "error"))
	err := m.Send(context.Background(), Recipient{Email: "a@example.com"}, &RenderedMessage{})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if ok.calls != 1 || bad.calls != 1 {
		t.Fatalf("calls ok=%d bad=%d, want 1/1", ok.calls, bad.calls)
	}
	if got := testutil.ToFloat64(metrics.NotificationsSentTotal.WithLabelValues("test", "error")); got != before+1 {
		t.Fatalf("error counter = %v, want %v", got, before+1)
	}
	if m.Channel() != "test+test" {
		t.Fatalf("channel = %q", m.Channel())
	}
}

func TestEmailSenderDisabledIsNoop(t *testing.T) {
	log, hook := test.NewNullLogger()
	s := NewEmailSender(config.SMTPConfig{}, log)
	if err := s.Send(context.Background(), Recipient{Email: "a@example.com"}, &RenderedMessage{Subject: "x"}); err != nil {
		t.Fatalf("disabled sender returned %v", err)
	}
	if len(hook.Entries) != 1 {
		t.Fatalf("want a single warning at construction, got %d entries", len(hook.Entries))
	}
}

func TestEmailSenderBuildsMessage(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := NewEmailSender(config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "alerts@example.com"}, log)

	var got *gomail.Message
	s.send = func(m *gomail.Message) error {
		got = m
		return nil
	}
	msg := &RenderedMessage{Subject: "Hedge Fund Alert", Text: "plain", HTML: "<p>html</p>"}
	if err := s.Send(context.Background(), Recipient{Email: "ana@example.com", Name: "Ana"}, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got == nil {
		t.Fatal("message not handed to transport")
	}
	if subj := got.GetHeader("Subject"); len(subj) != 1 || subj[0] != "Hedge Fund Alert" {
		t.Fatalf("subject header = %v", subj)
	}
	if from := got.GetHeader("From"); len(from) != 1 || from[0] != "alerts@example.com" {
		t.Fatalf("from header = %v", from)
	}

	if err := s.Send(context.Background(), Recipient{}, msg); err == nil {
		t.Fatal("expected error for recipient without email")
	}
}
