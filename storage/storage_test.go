package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"estate_harvester/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "harvest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	store := newTestStore(t)

	run := &models.HarvestRun{
		ID:         uuid.New().String(),
		Table:      "data/unit_codes.csv",
		StartIndex: 0,
		NextIndex:  0,
		Status:     models.RunStatusRunning,
		StartedAt:  time.Now(),
	}
	require.NoError(t, store.CreateRun(run))

	finished := time.Now()
	run.NextIndex = 4
	run.Records = 12
	run.Status = models.RunStatusRateLimited
	run.FinishedAt = &finished
	require.NoError(t, store.UpdateRun(run))

	last, err := store.LastRun("data/unit_codes.csv")
	require.NoError(t, err)
	require.NotNil(t, last)
	require.Equal(t, run.ID, last.ID)
	require.Equal(t, 4, last.NextIndex)
	require.Equal(t, 12, last.Records)
	require.Equal(t, models.RunStatusRateLimited, last.Status)
	require.NotNil(t, last.FinishedAt)

	none, err := store.LastRun("other.csv")
	require.NoError(t, err)
	require.Nil(t, none)

	require.NoError(t, store.Log(&run.ID, models.LogLevelWarn, "rate limited at row 4", "harvest"))
	logs, err := store.RunLogs(run.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, models.LogLevelWarn, logs[0].Level)
}

func TestSQLiteStore_RecentRunsNewestFirst(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateRun(&models.HarvestRun{
			ID:         uuid.New().String(),
			Table:      "t.csv",
			StartIndex: i * 10,
			Status:     models.RunStatusCompleted,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := store.RecentRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, 20, runs[0].StartIndex)
	require.Equal(t, 10, runs[1].StartIndex)
}

func TestCheckpoints(t *testing.T) {
	backends := map[string]interface {
		Load() (int, bool, error)
		Save(int) error
		Clear() error
	}{
		"file":   NewFileCheckpoint(filepath.Join(t.TempDir(), "data", "next_start.txt")),
		"sqlite": newTestStore(t).Checkpoint("unit_codes.csv"),
	}

	for name, cp := range backends {
		t.Run(name, func(t *testing.T) {
			_, ok, err := cp.Load()
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, cp.Save(7))
			require.NoError(t, cp.Save(9))
			idx, ok, err := cp.Load()
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, 9, idx)

			require.NoError(t, cp.Clear())
			_, ok, err = cp.Load()
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestFileCheckpoint_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "next_start.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	_, _, err := NewFileCheckpoint(path).Load()
	require.Error(t, err)
}

func TestWriteBatch_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	recs := []json.RawMessage{json.RawMessage(`{"a": 1}`), json.RawMessage(`{"a": 2}`)}

	first, err := WriteBatch(dir, 30, "run-one-abcdef", recs)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "record30.jsonl"), first)

	second, err := WriteBatch(dir, 30, "run-two-abcdef", recs[:1])
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "record30-run-two-.jsonl"), second)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	require.Equal(t, "{\"a\":1}\n{\"a\":2}\n", string(data))

	empty, err := WriteBatch(dir, 40, "r", nil)
	require.NoError(t, err)
	require.Empty(t, empty)
	_, err = os.Stat(filepath.Join(dir, "record40.jsonl"))
	require.True(t, os.IsNotExist(err))
}

func TestListBatches_OrdersByStartIndex(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"record100.jsonl", "record9.jsonl", "record0.jsonl", "notes.txt", "other.jsonl"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0644))
	}

	paths, err := ListBatches(dir)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "record0.jsonl"),
		filepath.Join(dir, "record9.jsonl"),
		filepath.Join(dir, "record100.jsonl"),
	}, paths)

	missing, err := ListBatches(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestReadBatch_KeepsNumbersAndSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record0.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"transactionPrice\": 12500000}\n\n{\"xAxis\":\"A\"}\n"), 0644))

	recs, err := ReadBatch(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, json.Number("12500000"), recs[0]["transactionPrice"])
	require.Equal(t, "A", recs[1]["xAxis"])
}

func TestUnitsRoundTripThroughCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unit_codes.csv")
	units := []models.Unit{
		{Property: "Kornhill", Block: "Block A", Floor: "12", Unit: "C", Cuntcode: "K12C", URL: "https://x/k"},
		{Property: "Kornhill, Phase 2", Block: "", Floor: "G", Unit: "1", Cuntcode: "K1", URL: "https://x/k"},
	}
	require.NoError(t, WriteUnits(path, units))

	got, err := ReadUnits(path)
	require.NoError(t, err)
	require.Equal(t, units, got)
}

func TestReadUnits_ToleratesIndexColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unit_codes.csv")
	content := ",property,block,floor,unit,cuntcode,url\n0,P,B,1,A,CODE1,u\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	got, err := ReadUnits(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "CODE1", got[0].Cuntcode)
	require.Equal(t, "A", got[0].Unit)
}

func TestReadEstates_FromWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "estates.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Development", "District", "Data Source"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"Taikoo Shing", "Quarry Bay", "https://example.test/estate/tks"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"No Link", "Central", ""}))
	require.NoError(t, f.SetSheetRow(sheet, "A4", &[]any{"", "", "https://example.test/estate/kh"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	estates, err := ReadEstates(path)
	require.NoError(t, err)
	require.Equal(t, []models.Estate{
		{Name: "Taikoo Shing", URL: "https://example.test/estate/tks"},
		{Name: "", URL: "https://example.test/estate/kh"},
	}, estates)
}

func TestReadEstates_CSVRequiresDataSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "estates.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,url\nA,https://x\n"), 0644))

	_, err := ReadEstates(path)
	require.Error(t, err)
}

func TestWriteCSV_RemovesTempFileOnFailure(t *testing.T) {
	// The target is a non-empty directory, so the final rename fails.
	path := filepath.Join(t.TempDir(), "units.csv")
	require.NoError(t, os.MkdirAll(filepath.Join(path, "occupied"), 0755))

	err := WriteCSV(path, []string{"a"}, [][]string{{"1"}})
	require.Error(t, err)

	_, statErr := os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(statErr))
}
