package core

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fronix-gateway/config"
	"fronix-gateway/core/adapter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newStatusPoller(t *testing.T, handler http.HandlerFunc) *ModelStatusPoller {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := newTestLogger()
	providers := map[string]config.ProviderConfig{
		config.ProviderGeneric: {Name: config.ProviderGeneric, Endpoint: server.URL, Keys: []string{"k1"}},
	}
	table := &config.RoutingTable{
		Direct: []config.DirectTier{{
			Name:     "test",
			Provider: config.ProviderGeneric,
			Models:   map[string]string{"ok-model": "", "bad-model": "", "m3": "", "m4": "", "m5": "", "m6": ""},
		}},
		Default: config.DefaultTier{Provider: config.ProviderGeneric},
	}
	registry := NewPoolRegistry(providers, logger)
	router := NewUpstreamRouter(table, registry, NewAffinityTracker(time.Minute), nil, logger)
	requester := NewResilientRequester(server.Client(), nil, logger)

	p := NewModelStatusPoller(router, requester, adapter.NewOpenAIAdapter(), logger)
	p.batchDelay = 0
	return p
}

func TestModelStatusPoller_RunOnce(t *testing.T) {
	p := newStatusPoller(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, int64(1), gjson.GetBytes(body, "max_tokens").Int())
		if gjson.GetBytes(body, "model").String() == "bad-model" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"choices":[]}`)
	})

	assert.Nil(t, p.Report().LastRun)
	p.RunOnce(context.Background())

	report := p.Report()
	require.NotNil(t, report.LastRun)
	require.Len(t, report.Models, 6)

	assert.True(t, report.Models["ok-model"].Available)
	assert.Equal(t, "ok", report.Models["ok-model"].Status)
	assert.False(t, report.Models["bad-model"].Available)
	assert.NotEqual(t, "ok", report.Models["bad-model"].Status)
}

func TestModelStatusPoller_StartWithoutSchedule(t *testing.T) {
	p := newStatusPoller(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no probe expected")
	})
	require.NoError(t, p.Start(context.Background(), ""))
	assert.Empty(t, p.Report().Models)
}

func TestModelStatusPoller_InvalidSchedule(t *testing.T) {
	p := newStatusPoller(t, func(w http.ResponseWriter, r *http.Request) {})
	assert.Error(t, p.Start(context.Background(), "not a schedule"))
}

func TestModelStatusPoller_ProbesEachProProvider(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(down.Close)
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	t.Cleanup(up.Close)

	logger := newTestLogger()
	providers := map[string]config.ProviderConfig{
		config.ProviderGeneric: {Name: config.ProviderGeneric, Endpoint: up.URL, Keys: []string{"g1"}},
		config.ProviderProA:    {Name: config.ProviderProA, Endpoint: down.URL, Keys: []string{"a1"}},
		config.ProviderProB:    {Name: config.ProviderProB, Endpoint: up.URL, Keys: []string{"b1"}},
	}
	table := &config.RoutingTable{
		Pro: config.ProTier{
			Primary:   config.ProviderProA,
			Secondary: config.ProviderProB,
			Models:    []string{"p1", "p2", "p3", "p4"},
			Pinned:    map[string]string{"pinned-a": config.ProviderProA},
		},
		Default: config.DefaultTier{Provider: config.ProviderGeneric},
	}
	affinity := NewAffinityTracker(time.Minute)
	router := NewUpstreamRouter(table, NewPoolRegistry(providers, logger), affinity, nil, logger)
	p := NewModelStatusPoller(router, NewResilientRequester(NewHTTPClient(5*time.Second), nil, logger), adapter.NewOpenAIAdapter(), logger)
	p.batchDelay = 0

	for round := 0; round < 2; round++ {
		p.RunOnce(context.Background())

		report := p.Report()
		for _, id := range []string{"p1", "p2", "p3", "p4"} {
			m := report.Models[id]
			assert.True(t, m.Available, id)
			assert.Equal(t, "degraded", m.Status, id)
			require.Len(t, m.Providers, 2, id)
			assert.False(t, m.Providers[config.ProviderProA].Available, id)
			assert.Equal(t, "502", m.Providers[config.ProviderProA].Status, id)
			assert.True(t, m.Providers[config.ProviderProB].Available, id)
		}

		pinned := report.Models["pinned-a"]
		assert.False(t, pinned.Available)
		assert.Equal(t, "502", pinned.Status)
		assert.Len(t, pinned.Providers, 1)
	}

	assert.Zero(t, affinity.Count(), "probes must not create affinity records")
}
