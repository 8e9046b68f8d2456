package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"estate_harvester/config"
	"estate_harvester/models"
	"estate_harvester/resolver"
	"estate_harvester/storage"
)

const estateURL = "https://example.test/estate/kornhill-HAHTBPHXHJ"

const tableBody = `{"data":{"estateName":"Kornhill","buildingName":"Block A","floors":[
  {"yAxis":"2","units":[{"xAxis":"A","cuntcode":"K2A"},{"xAxis":"B","cuntcode":"K2B"}]},
  {"yAxis":"1","units":[{"xAxis":"A","cuntcode":"K1A"},{"xAxis":"B"}]}
]}}`

func newSite(t *testing.T, searches *int) *config.SiteConfig {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/Transaction/ConsumptionTable", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "HAHTBPHXHJ", r.URL.Query().Get("typeCode"))
		w.Write([]byte(tableBody))
	})
	mux.HandleFunc("/api/Transaction/Search", func(w http.ResponseWriter, r *http.Request) {
		*searches++
		var body struct {
			Cuntcodes []string `json:"cuntcodes"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{
			"estateName":       "Kornhill",
			"buildingName":     "Block A",
			"yAxis":            body.Cuntcodes[0][1:2],
			"xAxis":            body.Cuntcodes[0][2:],
			"transactionPrice": 6100000,
			"regDate":          "2024-05-01",
			"insDate":          "2024-04-12",
		}}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	site := config.DefaultSite()
	site.Endpoints[config.EndpointConsumptionTable] = srv.URL + "/api/Transaction/ConsumptionTable"
	site.Endpoints[config.EndpointTransactionSearch] = srv.URL + "/api/Transaction/Search"
	return site
}

func newTestOrchestrator(t *testing.T, backend string, searches *int) (*Orchestrator, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	estates := filepath.Join(dir, "estates.csv")
	require.NoError(t, os.WriteFile(estates, []byte("Development,Data Source\n,"+estateURL+"\n"), 0644))

	cfg := &config.Config{
		DataDir:     dir,
		EstatesPath: estates,
		Harvest: config.HarvestConfig{
			RetryDelay:        time.Millisecond,
			CheckpointBackend: backend,
		},
		Site: newSite(t, searches),
	}

	store, err := storage.NewSQLiteStore(filepath.Join(dir, "harvest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewOrchestrator(cfg, store, zap.NewNop()), cfg
}

func recordCapture(t *testing.T, dir string) {
	t.Helper()
	table := "https://example.test/api/Transaction/ConsumptionTable?typeCode=HAHTBPHXHJ&postType=SecondHand"
	require.NoError(t, resolver.SaveCapture(dir, &models.Capture{
		PageURL: estateURL,
		Title:   "Kornhill",
		Events: []models.NetworkEvent{
			{Method: models.EventRequestWillBeSent, RequestID: "1", URL: table, HTTPMethod: "GET"},
			{Method: models.EventResponseReceived, RequestID: "1", URL: table, Status: 200},
		},
	}))
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			searches := 0
			o, cfg := newTestOrchestrator(t, backend, &searches)
			captures := filepath.Join(cfg.DataDir, "captures")
			recordCapture(t, captures)

			res, err := o.Resolve(context.Background(), ResolveOptions{ReplayDir: captures})
			require.NoError(t, err)
			require.Len(t, res.Units, 3)
			require.Len(t, res.Missed, 1)

			units, err := storage.ReadUnits(cfg.UnitCodesPath())
			require.NoError(t, err)
			require.Equal(t, "K2A", units[0].Cuntcode)
			require.Equal(t, "Kornhill", units[0].Property)
			missed, err := storage.ReadUnits(cfg.ManualGatherPath())
			require.NoError(t, err)
			require.Equal(t, "1", missed[0].Floor)
			require.Equal(t, "B", missed[0].Unit)

			hres, err := o.Harvest(context.Background(), false)
			require.NoError(t, err)
			require.True(t, hres.Done)
			require.Equal(t, 3, searches)

			require.NoError(t, o.RunScheduled(context.Background()))
			require.Equal(t, 3, searches, "finished table is not searched again")

			summary, err := os.ReadFile(cfg.SummaryPath())
			require.NoError(t, err)
			require.Contains(t, string(summary), "Development,Block,Floor,Units,Price,regDate,insDate\n")
			require.Contains(t, string(summary), "Kornhill,Block A,2,A,6100000,2024-05-01,2024-04-12\n")

			st, err := o.Status(10)
			require.NoError(t, err)
			require.Equal(t, 3, st.Rows)
			require.True(t, st.HasCheckpoint)
			require.Equal(t, 2, st.Checkpoint)
			require.Equal(t, 1, st.Batches)
			require.NotEmpty(t, st.Runs)
			require.Equal(t, models.RunStatusCompleted, st.Runs[0].Status)

			logs, err := o.RunLogs(st.Runs[0].ID)
			require.NoError(t, err)
			require.NotEmpty(t, logs)
			require.Equal(t, st.Runs[0].ID, *logs[0].RunID)
		})
	}
}

func TestOrchestrator_ResolveReportsFailedEstates(t *testing.T) {
	searches := 0
	o, cfg := newTestOrchestrator(t, "file", &searches)

	_, err := o.Resolve(context.Background(), ResolveOptions{ReplayDir: filepath.Join(cfg.DataDir, "empty")})
	require.ErrorIs(t, err, ErrEstatesFailed)
	require.FileExists(t, cfg.UnitCodesPath())
}

func TestOrchestrator_UnknownCheckpointBackend(t *testing.T) {
	searches := 0
	o, _ := newTestOrchestrator(t, "redis", &searches)

	_, err := o.Checkpoint()
	require.Error(t, err)
}

func TestOrchestrator_StatusWithoutUnitTable(t *testing.T) {
	searches := 0
	o, _ := newTestOrchestrator(t, "file", &searches)

	st, err := o.Status(5)
	require.NoError(t, err)
	require.Zero(t, st.Rows)
	require.False(t, st.HasCheckpoint)
	require.Empty(t, st.Runs)
}

func TestOrchestrator_VPNStatusOnlyWhenRotating(t *testing.T) {
	searches := 0
	o, cfg := newTestOrchestrator(t, "file", &searches)

	_, ok := o.VPNStatus(context.Background())
	require.False(t, ok)

	cfg.VPN.Rotate = true
	cfg.VPN.Command = filepath.Join(t.TempDir(), "missing-vpn-cli")
	status, ok := o.VPNStatus(context.Background())
	require.True(t, ok)
	require.Contains(t, status, "unavailable")
}
