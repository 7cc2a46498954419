package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/notify"
	"caseline/internal/repo/memrepo"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	bodies   [][]byte
	fail     error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.subjects = append(p.subjects, subject)
	p.bodies = append(p.bodies, data)
	return nil
}

func appendEvent(t *testing.T, store *memrepo.Store, typ string) domain.Event {
	t.Helper()
	evt, err := store.AppendEvent(context.Background(), domain.Event{
		TS: "2024-03-01T10:00:00Z", Type: typ, EntityKind: "case", EntityID: "c1", ActorID: "a1", Payload: `{"number":"2024000001"}`,
	})
	require.NoError(t, err)
	return evt
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestDispatcherStartsAtLatestAndFilters(t *testing.T) {
	store := memrepo.New()
	appendEvent(t, store, "case.filed")
	pub := &fakePublisher{}
	sink := notify.NewNATS(pub, "caseline.", []string{"case.status_changed"})
	d := notify.NewDispatcher(store, []notify.Sink{sink}, quietLog())
	ctx := context.Background()

	d.DispatchOnce(ctx)
	assert.Empty(t, pub.subjects, "history is not replayed")

	appendEvent(t, store, "case.filed")
	appendEvent(t, store, "case.status_changed")
	d.DispatchOnce(ctx)
	require.Equal(t, []string{"caseline.case.status_changed"}, pub.subjects)

	var msg notify.Message
	require.NoError(t, json.Unmarshal(pub.bodies[0], &msg))
	assert.Equal(t, "case.status_changed", msg.Type)
	assert.JSONEq(t, `{"number":"2024000001"}`, string(msg.Payload))
}

func TestDispatcherRetriesFailedDelivery(t *testing.T) {
	store := memrepo.New()
	pub := &fakePublisher{fail: assert.AnError}
	d := notify.NewDispatcher(store, []notify.Sink{notify.NewNATS(pub, "", nil)}, quietLog())
	ctx := context.Background()
	d.DispatchOnce(ctx)

	appendEvent(t, store, "actor.registered")
	d.DispatchOnce(ctx)
	assert.Empty(t, pub.subjects)

	pub.fail = nil
	d.DispatchOnce(ctx)
	assert.Equal(t, []string{"caseline.actor.registered"}, pub.subjects)
	d.DispatchOnce(ctx)
	assert.Len(t, pub.subjects, 1)
}

func TestWebhookDelivery(t *testing.T) {
	var (
		mu      sync.Mutex
		headers []http.Header
		status  = http.StatusOK
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		headers = append(headers, r.Header.Clone())
		w.WriteHeader(status)
	}))
	defer srv.Close()

	store := memrepo.New()
	hook := notify.NewWebhook(config.WebhookConfig{URL: srv.URL, Secret: "s3cret"})
	d := notify.NewDispatcher(store, []notify.Sink{hook}, quietLog())
	d.SetCursor(0, 0)
	evt := appendEvent(t, store, "case.assigned")

	d.DispatchOnce(context.Background())
	mu.Lock()
	require.Len(t, headers, 1)
	assert.Equal(t, "case.assigned", headers[0].Get("X-Caseline-Event"))
	assert.Equal(t, "s3cret", headers[0].Get("X-Caseline-Secret"))
	assert.Equal(t, "1", headers[0].Get("X-Caseline-Delivery"))
	status = http.StatusInternalServerError
	mu.Unlock()
	assert.Equal(t, int64(1), evt.ID)

	appendEvent(t, store, "case.status_changed")
	require.Error(t, hook.Deliver(context.Background(), domain.Event{ID: 2, Type: "case.status_changed"}))
}

func TestSinksFromConfigSkipsDisabled(t *testing.T) {
	off := false
	cfg := &config.Config{Webhooks: []config.WebhookConfig{
		{URL: "http://example.invalid/a"},
		{URL: "http://example.invalid/b", Enabled: &off},
		{URL: "  "},
	}}
	sinks, closeFn, err := notify.SinksFromConfig(cfg)
	require.NoError(t, err)
	defer closeFn()
	require.Len(t, sinks, 1)
	assert.Equal(t, "webhook http://example.invalid/a", sinks[0].Name())
}

func TestFilter(t *testing.T) {
	assert.True(t, notify.NewFilter(nil).Match("anything"))
	assert.True(t, notify.NewFilter([]string{" "}).Match("anything"))
	f := notify.NewFilter([]string{"case.filed"})
	assert.True(t, f.Match("case.filed"))
	assert.False(t, f.Match("case.assigned"))
}
