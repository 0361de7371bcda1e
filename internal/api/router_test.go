package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/montana/internal/cooldown"
	"github.com/eigerco/montana/internal/finality"
	"github.com/eigerco/montana/internal/forkchoice"
	"github.com/eigerco/montana/internal/ledger"
	"github.com/eigerco/montana/internal/metrics"
	"github.com/eigerco/montana/internal/node"
	"github.com/eigerco/montana/internal/presence"
	"github.com/eigerco/montana/internal/slice"
	"github.com/eigerco/montana/internal/store"
	"github.com/eigerco/montana/internal/testutils"
)

type statusFunc func() (node.Status, error)

func (f statusFunc) Status(context.Context) (node.Status, error) { return f() }

func newFixture(t *testing.T, status statusFunc) *httptest.Server {
	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	kp := testutils.SeededKeypair(t, 7)
	prev := testutils.RandomHash(t)
	proof := testutils.FullNodeProof(t, kp, 12, prev)
	require.NoError(t, st.PersistSlice(&slice.Slice{
		Header: slice.Header{PrevHash: prev, Period: 12, Producer: kp.PublicKey(), Slot: 2},
		Body:   slice.Body{Proofs: []presence.Envelope{presence.EnvelopeOf(proof)}},
	}))

	w := ledger.Weight{Periods: 3, Windows: 1}
	require.NoError(t, st.PersistLedgerSnapshot(12, &ledger.Snapshot{
		Period:       12,
		Participants: []ledger.Participant{{PublicKey: kp.PublicKey(), Class: presence.FullNode, Weight: w}},
		Cooldown:     cooldown.New().State(),
	}))
	require.NoError(t, st.PersistCheckpoint(finality.Checkpoint{
		Window: 3,
		Height: 40,
		Head:   forkchoice.Head{Boundary: 6048, ParticipantsCount: 5, Hash: prev},
		Status: finality.Final,
	}))

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	m.SlicesAccepted.Inc()

	srv := httptest.NewServer(NewRouter(status, st, reg))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestStatus(t *testing.T) {
	srv := newFixture(t, func() (node.Status, error) {
		return node.Status{HasClosed: true, ClosedPeriod: 12, Height: 9, FinalHeight: 3, Phase: "grace", Slot: 1}, nil
	})

	var body map[string]any
	require.Equal(t, http.StatusOK, get(t, srv, "/status", &body))
	assert.EqualValues(t, 12, body["closed_period"])
	assert.EqualValues(t, 9, body["height"])
	assert.EqualValues(t, 3, body["final_height"])
	assert.Equal(t, "grace", body["phase"])

	stopped := newFixture(t, func() (node.Status, error) { return node.Status{}, node.ErrStopped })
	require.Equal(t, http.StatusServiceUnavailable, get(t, stopped, "/status", &body))
	assert.Contains(t, body["error"], "stopped")
}

func TestLedgerEndpoints(t *testing.T) {
	srv := newFixture(t, func() (node.Status, error) { return node.Status{}, errors.New("unused") })
	pub := testutils.SeededKeypair(t, 7).PublicKey()

	var weight struct {
		Units  map[string]uint64 `json:"units"`
		Weight uint64            `json:"weight"`
	}
	require.Equal(t, http.StatusOK, get(t, srv, "/participants/"+pub.String()+"/weight", &weight))
	assert.Equal(t, uint64(3), weight.Units["period"])
	assert.Equal(t, uint64(1), weight.Units["window"])
	assert.Equal(t, (ledger.Weight{Periods: 3, Windows: 1}).Total(), weight.Weight)

	var cd map[string]uint64
	require.Equal(t, http.StatusOK, get(t, srv, "/cooldown/full_node", &cd))
	assert.Equal(t, cooldown.New().Cooldown(presence.FullNode), cd["cooldown_periods"])
	require.Equal(t, http.StatusBadRequest, get(t, srv, "/cooldown/nobody", nil))

	var slices []map[string]any
	require.Equal(t, http.StatusOK, get(t, srv, "/slices/12", &slices))
	require.Len(t, slices, 1)
	assert.EqualValues(t, 2, slices[0]["slot"])
	assert.EqualValues(t, 1, slices[0]["proofs"])
	require.Equal(t, http.StatusOK, get(t, srv, "/slices/13", &slices))
	assert.Empty(t, slices)

	var cp map[string]any
	require.Equal(t, http.StatusOK, get(t, srv, "/checkpoints/3", &cp))
	assert.Equal(t, "final", cp["status"])
	assert.EqualValues(t, 40, cp["height"])
	require.Equal(t, http.StatusNotFound, get(t, srv, "/checkpoints/4", nil))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newFixture(t, func() (node.Status, error) { return node.Status{}, nil })

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "montana_slices_accepted_total 1")
}
