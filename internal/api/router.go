// Package api serves the operator endpoints of a running node.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eigerco/montana/internal/config"
	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/finality"
	"github.com/eigerco/montana/internal/ledger"
	"github.com/eigerco/montana/internal/node"
	"github.com/eigerco/montana/internal/presence"
	"github.com/eigerco/montana/internal/slice"
	"github.com/eigerco/montana/internal/store"
	"github.com/eigerco/montana/pkg/log"
)

// StatusSource is implemented by *node.Engine.
type StatusSource interface {
	Status(ctx context.Context) (node.Status, error)
}

// Reader is the read side of *store.Store.
type Reader interface {
	SlicesAt(period uint64) ([]*slice.Slice, error)
	GetCheckpoint(window uint64) (finality.Checkpoint, error)
	Weight(pub crypto.PublicKey, tier ledger.Tier) (uint64, error)
	Cooldown(class presence.Class) (uint64, bool, error)
}

type handler struct {
	status StatusSource
	store  Reader
}

// NewRouter wires the endpoints. Metrics are served from gatherer.
func NewRouter(status StatusSource, st Reader, gatherer prometheus.Gatherer) *mux.Router {
	h := &handler{status: status, store: st}

	r := mux.NewRouter()
	r.HandleFunc("/status", h.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/slices/{period:[0-9]+}", h.getSlices).Methods(http.MethodGet)
	r.HandleFunc("/checkpoints/{window:[0-9]+}", h.getCheckpoint).Methods(http.MethodGet)
	r.HandleFunc("/participants/{pubkey:[0-9a-fA-F]+}/weight", h.getWeight).Methods(http.MethodGet)
	r.HandleFunc("/cooldown/{class}", h.getCooldown).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

type statusResponse struct {
	ClosedPeriod *uint64 `json:"closed_period,omitempty"`
	Height       uint64  `json:"height"`
	Tip          string  `json:"tip"`
	FinalHeight  uint64  `json:"final_height"`
	Leaves       int     `json:"leaves"`
	Phase        string  `json:"phase,omitempty"`
	Slot         uint8   `json:"slot"`
	Paused       bool    `json:"paused"`
	Participants int     `json:"participants"`
	TotalWeight  uint64  `json:"total_weight"`
	Flagged      int     `json:"flagged_producers"`
}

func (h *handler) getStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.status.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	resp := statusResponse{
		Height:       st.Height,
		Tip:          st.Tip.String(),
		FinalHeight:  st.FinalHeight,
		Leaves:       st.Leaves,
		Phase:        st.Phase,
		Slot:         st.Slot,
		Paused:       st.Paused,
		Participants: st.Participants,
		TotalWeight:  st.TotalWeight,
		Flagged:      st.Flagged,
	}
	if st.HasClosed {
		resp.ClosedPeriod = &st.ClosedPeriod
	}
	writeJSON(w, resp)
}

type sliceResponse struct {
	Hash      string `json:"hash"`
	PrevHash  string `json:"prev_hash"`
	Period    uint64 `json:"period"`
	Slot      uint32 `json:"slot"`
	Producer  string `json:"producer"`
	Timestamp uint64 `json:"timestamp"`
	Proofs    int    `json:"proofs"`
}

func (h *handler) getSlices(w http.ResponseWriter, r *http.Request) {
	period, _ := strconv.ParseUint(mux.Vars(r)["period"], 10, 64)
	slices, err := h.store.SlicesAt(period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]sliceResponse, 0, len(slices))
	for _, s := range slices {
		out = append(out, sliceResponse{
			Hash:      s.Hash().String(),
			PrevHash:  s.Header.PrevHash.String(),
			Period:    s.Header.Period,
			Slot:      s.Header.Slot,
			Producer:  s.Header.Producer.String(),
			Timestamp: s.Header.Timestamp,
			Proofs:    len(s.Body.Proofs),
		})
	}
	writeJSON(w, out)
}

type checkpointResponse struct {
	Window            uint64 `json:"window"`
	Height            uint64 `json:"height"`
	Hash              string `json:"hash"`
	Status            string `json:"status"`
	ParticipantsCount uint64 `json:"participants_count"`
	ProvenTimeUnits   uint64 `json:"proven_time_units"`
	AggregateScore    uint64 `json:"aggregate_score"`
	AttestationRoot   string `json:"attestation_root"`
}

func (h *handler) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	window, _ := strconv.ParseUint(mux.Vars(r)["window"], 10, 64)
	cp, err := h.store.GetCheckpoint(window)
	if errors.Is(err, store.ErrCheckpointNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, checkpointResponse{
		Window:            cp.Window,
		Height:            cp.Height,
		Hash:              cp.Head.Hash.String(),
		Status:            cp.Status.String(),
		ParticipantsCount: cp.Head.ParticipantsCount,
		ProvenTimeUnits:   cp.Head.ProvenTimeUnits,
		AggregateScore:    cp.Head.AggregateScore,
		AttestationRoot:   cp.AttestationRoot.String(),
	})
}

func (h *handler) getWeight(w http.ResponseWriter, r *http.Request) {
	b, err := hex.DecodeString(mux.Vars(r)["pubkey"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pub, err := crypto.PublicKeyFromBytes(b)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	units := make(map[string]uint64, len(ledger.Tiers))
	var total uint64
	for _, tier := range ledger.Tiers {
		n, err := h.store.Weight(pub, tier)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		units[tier.String()] = n
		total += n * tier.Weight()
	}
	writeJSON(w, map[string]any{"units": units, "weight": total})
}

func (h *handler) getCooldown(w http.ResponseWriter, r *http.Request) {
	class, err := config.ParseClass(mux.Vars(r)["class"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	periods, ok, err := h.store.Cooldown(class)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no ledger snapshot persisted yet"))
		return
	}
	writeJSON(w, map[string]uint64{"cooldown_periods": periods})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Network.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
