package store_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"khatma/internal/config"
	"khatma/internal/domain"
	"khatma/internal/store"
)

func sampleSnapshot() *domain.Snapshot {
	s := domain.NewSnapshot()
	beta := domain.NewGroup()
	beta.MissionCount = 2
	*beta.Task(3) = domain.Task{Status: domain.StatusReserved, HolderID: "11111", HolderName: "Sara"}
	s.Groups.Put("Beta", beta)
	alpha := domain.NewGroup()
	*alpha.Task(5) = domain.Task{Status: domain.StatusDone, HolderID: "12345", HolderName: "Ahmed"}
	s.Groups.Put("Alpha", alpha)
	s.Groups.Put("Gamma", domain.NewGroup())

	ahmed := domain.NewUser("Ahmed")
	ahmed.History["Alpha"] = []int{5, 1}
	s.Users["12345"] = ahmed
	s.Users["11111"] = domain.NewUser("Sara")
	return s
}

func openBackends(t *testing.T) map[string]store.Store {
	t.Helper()
	ctx := context.Background()
	out := map[string]store.Store{}
	for _, driver := range []string{config.DriverJSON, config.DriverSQLite, config.DriverMemory} {
		workspace := t.TempDir()
		cfg := config.Default()
		cfg.Storage.Driver = driver
		if driver == config.DriverSQLite {
			cfg.Storage.Path = "khatma.db"
		}
		s, err := store.Open(ctx, cfg, workspace)
		require.NoError(t, err, driver)
		t.Cleanup(func() { s.Close() })
		out[driver] = s
	}
	return out
}

func TestEmptyStoreLoadsEmptySnapshot(t *testing.T) {
	for driver, s := range openBackends(t) {
		snap, err := s.Load(context.Background())
		require.NoError(t, err, driver)
		require.Equal(t, 0, snap.Groups.Len(), driver)
		require.Empty(t, snap.Users, driver)
	}
}

func TestRoundTripPreservesState(t *testing.T) {
	ctx := context.Background()
	for driver, s := range openBackends(t) {
		require.NoError(t, s.Save(ctx, sampleSnapshot()), driver)
		got, err := s.Load(ctx)
		require.NoError(t, err, driver)

		require.Equal(t, []string{"Beta", "Alpha", "Gamma"}, got.Groups.Names(), driver)
		beta, ok := got.Groups.Get("Beta")
		require.True(t, ok, driver)
		require.Equal(t, 2, beta.MissionCount, driver)
		require.Len(t, beta.Tasks, domain.PartsPerGroup, driver)
		require.Equal(t, domain.Task{Status: domain.StatusReserved, HolderID: "11111", HolderName: "Sara"}, *beta.Task(3), driver)
		require.Equal(t, domain.Task{}, *beta.Task(4), driver)

		alpha, _ := got.Groups.Get("Alpha")
		require.Equal(t, domain.StatusDone, alpha.Task(5).Status, driver)

		require.Equal(t, "Ahmed", got.Users["12345"].Name, driver)
		require.Equal(t, []int{5, 1}, got.Users["12345"].Completed("Alpha"), driver)
		require.Empty(t, got.Users["11111"].Completed("Alpha"), driver)
	}
}

func TestSaveReplacesPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	for driver, s := range openBackends(t) {
		require.NoError(t, s.Save(ctx, sampleSnapshot()), driver)
		next := domain.NewSnapshot()
		next.Groups.Put("Delta", domain.NewGroup())
		require.NoError(t, s.Save(ctx, next), driver)

		got, err := s.Load(ctx)
		require.NoError(t, err, driver)
		require.Equal(t, []string{"Delta"}, got.Groups.Names(), driver)
		require.Empty(t, got.Users, driver)
	}
}

func TestMemoryIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	snap := sampleSnapshot()
	require.NoError(t, m.Save(ctx, snap))
	snap.Users["12345"].Name = "changed"

	got, err := m.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "Ahmed", got.Users["12345"].Name)
	got.Users["12345"].Name = "changed again"

	again, err := m.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "Ahmed", again.Users["12345"].Name)
	require.Equal(t, 1, m.SaveCount())
}

func TestFileWritesDocumentLayout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "data.json")
	f := store.NewFile(path)
	require.NoError(t, f.Save(ctx, sampleSnapshot()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc := string(data)
	require.Less(t, strings.Index(doc, `"Beta"`), strings.Index(doc, `"Alpha"`))
	require.Less(t, strings.Index(doc, `"1"`), strings.Index(doc, `"30"`))
	require.Contains(t, doc, `"missionCount": 2`)
	require.Contains(t, doc, `"holderId": "11111"`)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileBlankDocumentIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))
	snap, err := store.NewFile(path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, snap.Groups.Len())
}

func TestFileCorruptDocumentFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"groups": [`), 0o644))
	_, err := store.NewFile(path).Load(context.Background())
	require.Error(t, err)
}

func TestEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, store.Encode(&buf, sampleSnapshot()))
	got, err := store.Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, []string{"Beta", "Alpha", "Gamma"}, got.Groups.Names())
	require.Equal(t, "Sara", got.Users["11111"].Name)
	require.NotNil(t, got.Users["11111"].History)
}

const legacyDoc = `{
    "groups": {
        "Zeta": {
            "nombre_mission": 3,
            "tasks": {
                "1": {"status": 1, "user_id": "24085", "user_name": "Ahmed"},
                "2": {"status": 2, "user_id": "24085", "user_name": "Ahmed"},
                "3": {"status": 1, "user_id": "", "user_name": ""}
            }
        },
        "Alpha": {"nombre_mission": 0, "tasks": {}}
    },
    "users": {
        "24085": {"name": "Ahmed", "history": {"Zeta": [2, "2", "7"]}}
    }
}`

func TestDecodeLegacy(t *testing.T) {
	snap, err := store.DecodeLegacy(strings.NewReader(legacyDoc))
	require.NoError(t, err)
	require.Equal(t, []string{"Zeta", "Alpha"}, snap.Groups.Names())

	zeta, _ := snap.Groups.Get("Zeta")
	require.Equal(t, 3, zeta.MissionCount)
	require.Equal(t, domain.Task{Status: domain.StatusReserved, HolderID: "24085", HolderName: "Ahmed"}, *zeta.Task(1))
	require.Equal(t, domain.StatusDone, zeta.Task(2).Status)
	require.Equal(t, domain.Task{}, *zeta.Task(3), "holderless reservation is reset")
	require.Equal(t, []int{2, 7}, snap.Users["24085"].Completed("Zeta"))
}

func TestDecodeLegacyRejectsBadTaskKey(t *testing.T) {
	_, err := store.DecodeLegacy(strings.NewReader(`{"groups": {"A": {"tasks": {"31": {"status": 0}}}}, "users": {}}`))
	require.Error(t, err)
}
