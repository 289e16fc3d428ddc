package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/offer-pipeline/internal/testutil"
	"github.com/Sternrassler/offer-pipeline/pkg/auth"
	"github.com/Sternrassler/offer-pipeline/pkg/config"
	"github.com/Sternrassler/offer-pipeline/pkg/pipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a config file pointing every store into dir.
func writeConfig(t *testing.T, dir string, mock *testutil.MockAPI, extra string) string {
	t.Helper()

	codes := filepath.Join(dir, "codes.txt")
	require.NoError(t, os.WriteFile(codes, []byte("# test partitions\nA1234\nB5678\n"), 0o644))

	tokenURL, searchURL := "http://127.0.0.1:1/token", "http://127.0.0.1:1/search"
	if mock != nil {
		tokenURL, searchURL = mock.TokenURL(), mock.SearchURL()
	}

	cfg := fmt.Sprintf(`api:
  client_id: %s
  client_secret: %s
  token_url: %s
  base_url: %s
  request_timeout: 2s
fetch:
  partitions_file: %s
  min_interval: 1ms
  initial_backoff: 1ms
  max_backoff: 5ms
  max_retries: 2
  filter_by_date: false
bronze:
  dir: %s
silver:
  driver: csv
  dir: %s
audit:
  file: %s
log:
  level: error
%s`, testutil.ClientID, testutil.ClientSecret, tokenURL, searchURL, codes,
		filepath.Join(dir, "bronze"), filepath.Join(dir, "silver"), filepath.Join(dir, "audit.jsonl"), extra)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommand_EndToEnd(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetPartition("A1234", &testutil.Partition{Total: 160})
	mock.SetPartition("B5678", &testutil.Partition{Total: 5})

	dir := t.TempDir()
	cfg := writeConfig(t, dir, mock, "")

	out, err := execute("--config", cfg, "run", "2025-12-23")
	require.NoError(t, err)

	var got struct {
		Fetch     pipeline.RunSummary       `json:"fetch"`
		Transform pipeline.TransformSummary `json:"transform"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 2, got.Fetch.Succeeded)
	assert.Equal(t, 165, got.Fetch.Unique)
	assert.Equal(t, 165, got.Transform.Offers)

	assert.FileExists(t, filepath.Join(dir, "bronze", "offers_2025-12-23.json"))
	assert.FileExists(t, filepath.Join(dir, "silver", "2025-12-23", "offers.csv"))

	audit, err := os.ReadFile(filepath.Join(dir, "audit.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, len(mock.Searches()), strings.Count(string(audit), "\n"))
}

func TestFetchThenTransform(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetPartition("A1234", &testutil.Partition{Total: 3})

	dir := t.TempDir()
	cfg := writeConfig(t, dir, mock, "")

	_, err := execute("--config", cfg, "fetch", "2025-12-23")
	require.NoError(t, err)

	out, err := execute("--config", cfg, "transform", "2025-12-23")
	require.NoError(t, err)

	var summary pipeline.TransformSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 3, summary.Offers)
}

func TestTransform_MissingSnapshotHasHint(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, nil, "")

	_, err := execute("--config", cfg, "transform", "2025-12-23")
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrFatal)

	var buf bytes.Buffer
	printError(&buf, err)
	assert.Contains(t, buf.String(), "Hint: run fetch for this date first")
}

func TestFetch_GrantFailureHasHint(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetTokenStatus(http.StatusUnauthorized)

	dir := t.TempDir()
	cfg := writeConfig(t, dir, mock, "")

	_, err := execute("--config", cfg, "fetch", "2025-12-23")
	require.Error(t, err)
	assert.True(t, auth.IsGrantError(err))

	var buf bytes.Buffer
	printError(&buf, err)
	assert.Contains(t, buf.String(), "OFFERS_API_CLIENT_ID")
	assert.Equal(t, 0, len(mock.Searches()))
}

func TestFetch_MissingCredentials(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(fmt.Sprintf("bronze:\n  dir: %s\nlog:\n  level: error\n", dir)), 0o644))

	_, err := execute("--config", cfg, "fetch", "2025-12-23")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
}

func TestFetch_MissingPartitionsFileHasHint(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(fmt.Sprintf(
		"api:\n  client_id: id\n  client_secret: secret\nbronze:\n  dir: %s\nlog:\n  level: error\n", dir)), 0o644))

	_, err := execute("--config", cfg, "fetch", "2025-12-23")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrNoPartitionsFile)

	var buf bytes.Buffer
	printError(&buf, err)
	assert.Contains(t, buf.String(), "Hint: point fetch.partitions_file")
}

func TestInvalidDate(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, nil, "")

	_, err := execute("--config", cfg, "transform", "23/12/2025")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YYYY-MM-DD")
}

func TestInvalidConfigHasHint(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, nil, "timezone: Mars/Olympus\n")

	_, err := execute("--config", cfg, "transform", "2025-12-23")
	require.Error(t, err)

	var buf bytes.Buffer
	printError(&buf, err)
	assert.Contains(t, buf.String(), "OFFERS_*")
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute("--config", filepath.Join(t.TempDir(), "nope.yaml"), "transform")
	require.Error(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := httptest.NewServer(newMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type fakeRunner struct {
	dates   chan string
	release chan struct{}
	err     error
}

func (f *fakeRunner) Run(_ context.Context, date string) (*pipeline.RunSummary, *pipeline.TransformSummary, error) {
	f.dates <- date
	<-f.release
	if f.err != nil {
		return nil, nil, f.err
	}
	return &pipeline.RunSummary{RunID: "r", Date: date}, &pipeline.TransformSummary{Date: date}, nil
}

func TestDailyJob_RunsYesterdayAndSkipsOverlap(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	r := &fakeRunner{dates: make(chan string, 1), release: make(chan struct{})}
	job := newDailyJob(r, paris, zerolog.Nop())
	job.now = func() time.Time { return time.Date(2025, 12, 24, 2, 0, 0, 0, time.UTC) }

	done := make(chan bool)
	go func() { done <- job.run(context.Background()) }()

	assert.Equal(t, "2025-12-23", <-r.dates)
	assert.False(t, job.run(context.Background()), "overlapping tick should be skipped")

	close(r.release)
	assert.True(t, <-done)
}

func TestDailyJob_FailureDoesNotPanic(t *testing.T) {
	r := &fakeRunner{dates: make(chan string, 1), release: make(chan struct{}), err: errors.New("boom")}
	close(r.release)
	job := newDailyJob(r, time.UTC, zerolog.Nop())

	assert.True(t, job.run(context.Background()))
	<-r.dates
}

func TestDailyJob_WaitBlocksUntilStartedRunReturns(t *testing.T) {
	r := &fakeRunner{dates: make(chan string, 1), release: make(chan struct{})}
	job := newDailyJob(r, time.UTC, zerolog.Nop())

	job.start(context.Background())
	<-r.dates

	waited := make(chan struct{})
	go func() {
		job.wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("wait returned while the run was still in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(r.release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after the run finished")
	}
}

func TestWithHints_PassesOtherErrorsThrough(t *testing.T) {
	err := errors.New("plain")
	assert.Equal(t, err, withHints(err))
}
