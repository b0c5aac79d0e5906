package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/qrmaster/internal/domain"
	"github.com/qrmaster/internal/game"
	"github.com/qrmaster/internal/websocket"
)

type stubDocStore struct {
	snaps chan domain.Snapshot
}

func (s *stubDocStore) Read(ctx context.Context) (domain.Snapshot, error) {
	return domain.Snapshot{
		Results:        []domain.ScanResult{},
		ScannedQRCodes: []string{},
		Status:         domain.StatusWaiting,
		TimeRemaining:  domain.DefaultTimeRemaining,
	}, nil
}

func (s *stubDocStore) MergeWrite(ctx context.Context, fields map[string]any) error {
	return nil
}

func (s *stubDocStore) Subscribe(ctx context.Context) (<-chan domain.Snapshot, error) {
	return s.snaps, nil
}

type stubLocalStore struct{}

func (stubLocalStore) Get(ctx context.Context, key string) ([]byte, error) { return nil, nil }
func (stubLocalStore) Set(ctx context.Context, key string, value []byte) error { return nil }
func (stubLocalStore) Delete(ctx context.Context, key string) error { return nil }

func newTestHandler(t *testing.T) (*Handler, *game.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	doc := &stubDocStore{snaps: make(chan domain.Snapshot)}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	manager := game.NewManager(doc, stubLocalStore{}, clock, logger)
	hub := websocket.NewHub(logger)
	return NewHandler(manager, nil, hub, logger), manager
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp
}

func TestRegisterPlayer(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.Router()

	rec := doRequest(t, router, http.MethodPost, "/api/v1/players", RegisterPlayerRequest{Name: "Ana", Team: "blue"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Errorf("success = false: %s", resp.Error)
	}
}

func TestRegisterPlayerRejectsBadInput(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.Router()

	tests := []struct {
		name string
		req  RegisterPlayerRequest
	}{
		{"empty name", RegisterPlayerRequest{Name: "", Team: "blue"}},
		{"long name", RegisterPlayerRequest{Name: "a player name far beyond the limit", Team: "blue"}},
		{"bad team", RegisterPlayerRequest{Name: "Ana", Team: "green"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/v1/players", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if resp := decodeResponse(t, rec); resp.Success {
				t.Error("success = true for invalid input")
			}
		})
	}
}

func TestRecordScan(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.Router()

	// Scanning before registering is a conflict.
	rec := doRequest(t, router, http.MethodPost, "/api/v1/scans",
		RecordScanRequest{Payload: "GameQrcodeFach:verde:11111111-1111-1111-1111-111111111111"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("unregistered scan status = %d, want 409", rec.Code)
	}

	if rec := doRequest(t, router, http.MethodPost, "/api/v1/players", RegisterPlayerRequest{Name: "Ana", Team: "blue"}); rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/v1/scans",
		RecordScanRequest{Payload: "GameQrcodeFach:verde:11111111-1111-1111-1111-111111111111"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("scan status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	// Same code again is a duplicate for this team.
	rec = doRequest(t, router, http.MethodPost, "/api/v1/scans",
		RecordScanRequest{Payload: "GameQrcodeFach:verde:11111111-1111-1111-1111-111111111111"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}

	// Malformed payloads are a bad request.
	rec = doRequest(t, router, http.MethodPost, "/api/v1/scans", RecordScanRequest{Payload: "not-a-code"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed status = %d, want 400", rec.Code)
	}
}

func TestGetState(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.Router()

	if rec := doRequest(t, router, http.MethodPost, "/api/v1/players", RegisterPlayerRequest{Name: "Ana", Team: "blue"}); rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rec.Code)
	}
	if rec := doRequest(t, router, http.MethodPost, "/api/v1/scans",
		RecordScanRequest{Payload: "GameQrcodeFach:vermelho:33333333-3333-3333-3333-333333333333"}); rec.Code != http.StatusCreated {
		t.Fatalf("scan status = %d", rec.Code)
	}

	rec := doRequest(t, router, http.MethodGet, "/api/v1/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state status = %d", rec.Code)
	}
	var resp struct {
		Success bool              `json:"success"`
		Data    GameStateResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if resp.Data.TotalScore != 5 {
		t.Errorf("totalScore = %d, want 5", resp.Data.TotalScore)
	}
	if resp.Data.Teams.Blue.Score != 5 {
		t.Errorf("blue score = %d, want 5", resp.Data.Teams.Blue.Score)
	}
}

func TestReset(t *testing.T) {
	h, m := newTestHandler(t)
	router := h.Router()

	if rec := doRequest(t, router, http.MethodPost, "/api/v1/players", RegisterPlayerRequest{Name: "Ana", Team: "blue"}); rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rec.Code)
	}
	if rec := doRequest(t, router, http.MethodPost, "/api/v1/reset", nil); rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}
	if m.Player() != nil {
		t.Error("player still set after reset")
	}
}

func TestReadyCheck(t *testing.T) {
	h, m := newTestHandler(t)
	router := h.Router()

	// An empty cache and no remote snapshot leaves the node unsynced.
	rec := doRequest(t, router, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unsynced ready status = %d, want 503", rec.Code)
	}

	m.ApplySnapshot(domain.Snapshot{
		Results:        []domain.ScanResult{},
		ScannedQRCodes: []string{},
		Status:         domain.StatusWaiting,
		TimeRemaining:  domain.DefaultTimeRemaining,
	})

	rec = doRequest(t, router, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("synced ready status = %d, want 200", rec.Code)
	}
}

func TestListScansWithoutArchive(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.Router()

	rec := doRequest(t, router, http.MethodGet, "/api/v1/scans?team=blue", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without archive", rec.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.Router()

	rec := doRequest(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
