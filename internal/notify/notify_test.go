package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testAlert(sev types.Severity) types.Alert {
	return types.Alert{
		ID:        "01HZX",
		Severity:  sev,
		RuleName:  "low_requisition",
		Message:   "Orks requisition at 20",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Context:   map[string]any{"turn": 5},
	}
}

type errSink struct{}

func (errSink) Send(context.Context, types.Alert) error { return errors.New("sink error") }
func (errSink) Name() string                            { return "error-sink" }

type panicSink struct{}

func (panicSink) Send(context.Context, types.Alert) error { panic("boom") }
func (panicSink) Name() string                            { return "panic-sink" }

type recordSink struct {
	alerts []types.Alert
}

func (s *recordSink) Send(_ context.Context, a types.Alert) error {
	s.alerts = append(s.alerts, a)
	return nil
}
func (s *recordSink) Name() string { return "record-sink" }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_SeverityFloor(t *testing.T) {
	all, errorsOnly := &recordSink{}, &recordSink{}
	d := New(quietLogger(),
		Channel{Sink: all, MinSeverity: types.SeverityInfo},
		Channel{Sink: errorsOnly, MinSeverity: types.SeverityError},
	)

	d.Dispatch(context.Background(), testAlert(types.SeverityWarning))
	d.Dispatch(context.Background(), testAlert(types.SeverityCritical))

	assert.Len(t, all.alerts, 2)
	require.Len(t, errorsOnly.alerts, 1)
	assert.Equal(t, types.SeverityCritical, errorsOnly.alerts[0].Severity)
}

func TestDispatcher_FailureIsolation(t *testing.T) {
	rec := &recordSink{}
	d := New(quietLogger(),
		Channel{Sink: errSink{}},
		Channel{Sink: panicSink{}},
		Channel{Sink: rec},
	)
	var called int
	d.OnAlert(func(types.Alert) { panic("callback") })
	d.OnAlert(func(types.Alert) { called++ })

	d.Dispatch(context.Background(), testAlert(types.SeverityError))
	assert.Len(t, rec.alerts, 1)
	assert.Equal(t, 1, called)
}

func TestNewDispatcher_FromConfig(t *testing.T) {
	var buf bytes.Buffer
	d, err := NewDispatcher([]types.ChannelConfig{
		{Type: types.ChannelConsole, MinSeverity: types.SeverityWarning},
		{Type: types.ChannelFile, Path: filepath.Join(t.TempDir(), "logs", "alerts.log")},
		{Type: types.ChannelSQS, QueueURL: "https://sqs.local/alerts"},
	}, WithConsoleWriter(&buf), WithSQS(&fakeSQS{}), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.Len(t, d.Channels(), 3)
	assert.Equal(t, "console", d.Channels()[0].Sink.Name())
	assert.Equal(t, types.SeverityWarning, d.Channels()[0].MinSeverity)

	_, err = NewDispatcher([]types.ChannelConfig{{Type: "pager"}})
	assert.ErrorContains(t, err, "unknown channel type")

	_, err = NewDispatcher([]types.ChannelConfig{{Type: types.ChannelWebhook}})
	assert.ErrorContains(t, err, "endpoint")
}

func TestConsoleSink(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)
	assert.Equal(t, "console", sink.Name())

	require.NoError(t, sink.Send(context.Background(), testAlert(types.SeverityCritical)))
	assert.Equal(t, "[ALERT] [CRITICAL] low_requisition: Orks requisition at 20\n", buf.String())
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "alerts.log")
	sink, err := NewFileSink(path)
	require.NoError(t, err)
	assert.Equal(t, "file", sink.Name())

	require.NoError(t, sink.Send(context.Background(), testAlert(types.SeverityInfo)))
	require.NoError(t, sink.Send(context.Background(), testAlert(types.SeverityError)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var got AlertLogRecord
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
	assert.Equal(t, "ERROR", got.Level)
	assert.Equal(t, "low_requisition", got.Rule)
	assert.Equal(t, "Orks requisition at 20", got.Message)
	assert.Equal(t, 5.0, got.Context["turn"])
	assert.True(t, got.Time.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	noContext := testAlert(types.SeverityWarning)
	noContext.Context = nil
	require.NoError(t, sink.Send(context.Background(), noContext))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), `"context":{}}`+"\n"))
}

func TestWebhookSink_Send(t *testing.T) {
	var got WebhookPayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewWebhookSink([]string{ts.URL}, 0, ts.Client())
	require.NoError(t, sink.Send(context.Background(), testAlert(types.SeverityWarning)))
	assert.Equal(t, "*[WARNING]* low_requisition\nOrks requisition at 20", got.Text)
	assert.Equal(t, "warning", got.Severity)
}

func TestWebhookSink_OneEndpointFails(t *testing.T) {
	var okHits atomic.Int32
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		okHits.Add(1)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	sink := NewWebhookSink([]string{bad.URL, good.URL}, time.Second, nil)
	err := sink.Send(context.Background(), testAlert(types.SeverityError))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.EqualValues(t, 1, okHits.Load())
	sink.client.CloseIdleConnections()
}

func TestWebhookSink_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	sink := NewWebhookSink([]string{bad.URL}, time.Second, bad.Client())
	for range breakerTripFailures + 2 {
		assert.Error(t, sink.Send(context.Background(), testAlert(types.SeverityError)))
	}
	assert.EqualValues(t, breakerTripFailures, hits.Load())
}

func TestEmailSink(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	mailer := func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}
	sink, err := NewEmailSink(types.ChannelConfig{
		SMTPHost: "mail.local", From: "sim@local", To: []string{"ops@local", "dev@local"},
	}, mailer)
	require.NoError(t, err)
	assert.Equal(t, "email", sink.Name())

	require.NoError(t, sink.Send(context.Background(), testAlert(types.SeverityError)))
	assert.Equal(t, "mail.local:25", gotAddr)
	assert.Equal(t, "sim@local", gotFrom)
	assert.Equal(t, []string{"ops@local", "dev@local"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: [ERROR] Simulation Alert: low_requisition")
	assert.Contains(t, string(gotMsg), "Message: Orks requisition at 20")

	_, err = NewEmailSink(types.ChannelConfig{SMTPHost: "mail.local"}, mailer)
	assert.Error(t, err)
}

type fakeSQS struct {
	sent []*sqs.SendMessageInput
	err  error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, f.err
}

func TestSQSSink(t *testing.T) {
	fake := &fakeSQS{}
	sink, err := NewSQSSink("https://sqs.local/alerts", WithSQSClient(fake))
	require.NoError(t, err)
	assert.Equal(t, "sqs", sink.Name())

	require.NoError(t, sink.Send(context.Background(), testAlert(types.SeverityCritical)))
	require.Len(t, fake.sent, 1)
	in := fake.sent[0]
	assert.Equal(t, "https://sqs.local/alerts", *in.QueueUrl)
	assert.Equal(t, "critical", *in.MessageAttributes["severity"].StringValue)

	var decoded types.Alert
	require.NoError(t, json.Unmarshal([]byte(*in.MessageBody), &decoded))
	assert.Equal(t, "low_requisition", decoded.RuleName)

	fake.err = errors.New("throttled")
	assert.ErrorContains(t, sink.Send(context.Background(), testAlert(types.SeverityInfo)), "throttled")

	_, err = NewSQSSink("")
	assert.ErrorContains(t, err, "queue URL required")
}
