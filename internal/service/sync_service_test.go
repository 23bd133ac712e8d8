package service_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/internal/config"
	"catalogsync/internal/etl"
	_ "catalogsync/internal/etl/sources"
	"catalogsync/internal/metrics"
	"catalogsync/internal/service"
	"catalogsync/internal/storage"
)

const erpJSON = `{"products": [
	{"ItemId": "123", "ItemName": "Laptop X1000", "ItemPrice": "999.99", "ItemSku": "LAPTOP-001", "ItemDescription": "15-inch", "ItemStock": "15"},
	{"ItemId": "456", "ItemName": "Wireless Mouse", "ItemPrice": "0", "ItemSku": "MOUSE-001", "ItemDescription": "Ergonomic", "ItemStock": "50"}
]}`

const eshopJSON = `{"products": [
	{"id": 1001, "sku": "LAPTOP-001", "name": "Laptop", "price": 899.0, "description": "old", "stock": 3},
	{"id": 1002, "sku": "MOUSE-001", "name": "Mouse", "price": 19.5, "description": "old", "stock": 9},
	{"id": 1003, "sku": "ORPHAN-001", "name": "Orphan", "price": 5.0, "description": "", "stock": 1}
]}`

type fixture struct {
	dir    string
	cfg    *config.Config
	store  *storage.RunStore
	reg    *metrics.Registry
	logs   *bytes.Buffer
	logger *log.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	write(t, filepath.Join(dir, "erp.json"), erpJSON)
	write(t, filepath.Join(dir, "eshop.json"), eshopJSON)

	cfg := config.Default()
	cfg.ERP.Config["filePath"] = filepath.Join(dir, "erp.json")
	cfg.Eshop.Config["filePath"] = filepath.Join(dir, "eshop.json")
	cfg.OutputFile = filepath.Join(dir, "out", "synced_from_erp.json")
	cfg.LogFile = filepath.Join(dir, "sync.log")

	db, err := storage.New(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var buf bytes.Buffer
	return &fixture{
		dir:    dir,
		cfg:    cfg,
		store:  storage.NewRunStore(db),
		reg:    metrics.NewRegistry(),
		logs:   &buf,
		logger: log.New(&buf, "", 0),
	}
}

func (f *fixture) service() *service.SyncService {
	return service.NewSyncService(f.cfg, f.store, f.reg, f.logger)
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestSyncService_RunOnce(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	emitter := &service.MockEmitter{}
	svc.SetEmitter(emitter)

	result, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Len(t, result.Accepted, 1)
	assert.Equal(t, 1, result.Rejected)
	assert.Equal(t, 1, result.Unmatched)

	out, err := os.ReadFile(f.cfg.OutputFile)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"name": "Laptop X1000"`)
	assert.Contains(t, string(out), `"price": 999.99`)
	assert.NotContains(t, string(out), "MOUSE-001")

	errLog, err := os.ReadFile(f.cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(errLog), "Product with Eshop ID 1002 could not be updated due to these errors:\n    - Invalid price: must be greater than 0\n\n")

	assert.Contains(t, f.logs.String(), "product with SKU ORPHAN-001 found in Eshop but missing in ERP")

	last, err := f.store.LastRunLog()
	require.NoError(t, err)
	assert.Equal(t, result.RunID, last.ID)
	assert.Equal(t, "manual", last.Trigger)
	assert.Equal(t, 1, last.Accepted)
	assert.Equal(t, 3, last.RowsRead)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.reg.Runs.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.reg.Rejected))

	events := emitter.Snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "sync:completed", events[0].Event)
}

func TestSyncService_FatalSourceError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.dir, "erp.json")))

	result, err := f.service().RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, etl.ErrSourceNotFound)
	assert.True(t, etl.IsFatal(err))
	assert.Equal(t, "error", result.Status)

	_, statErr := os.Stat(f.cfg.OutputFile)
	assert.True(t, os.IsNotExist(statErr), "no output on fatal error")

	last, err := f.store.LastRunLog()
	require.NoError(t, err)
	assert.Equal(t, "error", last.Status)
	assert.NotEmpty(t, last.Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.reg.Runs.WithLabelValues("error")))
}

func TestSyncService_SinkFailure(t *testing.T) {
	f := newFixture(t)
	// A directory where the output file should be makes the final rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(f.cfg.OutputFile, "taken"), 0755))

	result, err := f.service().RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrSinkFailed)
	assert.False(t, etl.IsFatal(err))
	assert.Equal(t, "sink_error", result.Status)
	assert.Contains(t, f.logs.String(), "sync: failed to save output")

	last, err := f.store.LastRunLog()
	require.NoError(t, err)
	assert.Equal(t, "sink_error", last.Status)
}

func TestSyncService_DryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	svc.SetDestination(etl.DiscardWriter{})
	errLog := &etl.MemoryErrorLog{}
	svc.SetErrorLog(errLog)

	result, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Accepted, 1)
	assert.Len(t, errLog.Blocks, 1)

	_, statErr := os.Stat(f.cfg.OutputFile)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(f.cfg.LogFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSyncService_NoHistoryStore(t *testing.T) {
	f := newFixture(t)
	svc := service.NewSyncService(f.cfg, nil, nil, f.logger)

	_, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	_, err = svc.ListRunLogs(10)
	assert.Error(t, err)
}

func TestSyncService_ListRunLogs(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	for i := 0; i < 3; i++ {
		_, err := svc.RunOnce(context.Background())
		require.NoError(t, err)
	}

	logs, err := svc.ListRunLogs(2)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestSyncService_PrunesHistory(t *testing.T) {
	f := newFixture(t)
	f.cfg.HistoryKeep = 2
	svc := f.service()
	var ids []string
	for i := 0; i < 4; i++ {
		result, err := svc.RunOnce(context.Background())
		require.NoError(t, err)
		ids = append(ids, result.RunID)
	}

	logs, err := svc.ListRunLogs(10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.NotEqual(t, ids[0], l.ID)
		assert.NotEqual(t, ids[1], l.ID)
	}
	assert.Contains(t, f.logs.String(), "sync: pruned 1 old run(s) from history")
}

func TestSyncService_HistoryKeepZeroKeepsAll(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	for i := 0; i < 3; i++ {
		_, err := svc.RunOnce(context.Background())
		require.NoError(t, err)
	}

	logs, err := svc.ListRunLogs(10)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
	assert.NotContains(t, f.logs.String(), "pruned")
}

// blockingDest holds Save until released.
type blockingDest struct {
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDest) Save(ctx context.Context, _ []etl.Record) error {
	close(d.entered)
	<-d.release
	return nil
}

func TestSyncService_RejectsOverlappingRuns(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	dest := &blockingDest{entered: make(chan struct{}), release: make(chan struct{})}
	svc.SetDestination(dest)

	done := make(chan error, 1)
	go func() {
		_, err := svc.RunOnce(context.Background())
		done <- err
	}()
	<-dest.entered

	_, err := svc.Run(context.Background(), "schedule")
	assert.True(t, errors.Is(err, service.ErrAlreadyRunning))

	close(dest.release)
	require.NoError(t, <-done)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	svc.WaitRunning(ctx)
	assert.NoError(t, ctx.Err())
}

func TestSyncService_InvalidSchedule(t *testing.T) {
	f := newFixture(t)
	f.cfg.Schedule = "every now and then"
	svc := f.service()
	defer svc.Stop()

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}

func TestSyncService_Stop_Idempotent(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	svc.Stop()
	svc.Stop()
}

func TestSyncService_WatchRerunsOnChange(t *testing.T) {
	f := newFixture(t)
	f.cfg.Watch = true
	svc := f.service()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	write(t, filepath.Join(f.dir, "erp.json"), strings.Replace(erpJSON, "Laptop X1000", "Laptop X2000", 1))

	assert.Eventually(t, func() bool {
		out, err := os.ReadFile(f.cfg.OutputFile)
		return err == nil && strings.Contains(string(out), "Laptop X2000")
	}, 5*time.Second, 50*time.Millisecond)

	svc.Stop()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	svc.WaitRunning(waitCtx)

	last, err := f.store.LastRunLog()
	require.NoError(t, err)
	assert.Equal(t, "watch", last.Trigger)
}
