package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scanbatch/internal/store"
	"github.com/roach88/scanbatch/internal/testutil"
)

// generateArgs returns a generate invocation writing into outdir with a
// fixed accounting user, followed by extra.
func generateArgs(outdir string, extra ...string) []string {
	args := []string{
		"generate",
		"--ifo", "L1",
		"--output-dir", outdir,
		"--condor-accounting-group-user", "albert.einstein",
	}
	return append(args, extra...)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func writeDefaults(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "defaults.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestGenerate_WritesArtifacts(t *testing.T) {
	outdir := filepath.Join(t.TempDir(), "scans")

	stdout, _, err := execute(t, generateArgs(outdir, "1187008882", "1187008883.5")...)
	require.NoError(t, err)

	assert.Contains(t, stdout, "Wrote 2 job(s) for scan-batch")

	dag := readFile(t, filepath.Join(outdir, "scan-batch.dag"))
	assert.Contains(t, dag, "JOB scan-batch_0 "+filepath.Join(outdir, "scan-batch.sub"))
	assert.Contains(t, dag, `VARS scan-batch_1 gpstime="1187008883.5"`)
	assert.NotContains(t, dag, "PARENT")

	sub := readFile(t, filepath.Join(outdir, "scan-batch.sub"))
	assert.Contains(t, sub, "--ifo L1 --output-directory "+outdir)
	assert.Contains(t, sub, "accounting_group = ligo.dev.o2.detchar.user_req.omegascan\n")
	assert.Contains(t, sub, "accounting_group_user = albert.einstein\n")
	assert.NotContains(t, sub, "periodic_remove")

	info, err := os.Stat(filepath.Join(outdir, "logs"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestGenerate_TimesFile(t *testing.T) {
	dir := t.TempDir()
	timesPath := filepath.Join(dir, "times.txt")
	require.NoError(t, os.WriteFile(timesPath, []byte("# gps snr\n1238166018 12.1\n1238166100 8.4\n"), 0644))
	outdir := filepath.Join(dir, "scans")

	_, _, err := execute(t, generateArgs(outdir, timesPath)...)
	require.NoError(t, err)

	dag := readFile(t, filepath.Join(outdir, "scan-batch.dag"))
	assert.Contains(t, dag, `VARS scan-batch_0 gpstime="1238166018"`)
	assert.Contains(t, dag, `VARS scan-batch_1 gpstime="1238166100"`)

	// The latest time falls in o3.
	sub := readFile(t, filepath.Join(outdir, "scan-batch.sub"))
	assert.Contains(t, sub, "accounting_group = ligo.dev.o3.detchar.user_req.omegascan\n")
}

func TestGenerate_JSONOutput(t *testing.T) {
	outdir := filepath.Join(t.TempDir(), "scans")

	stdout, _, err := execute(t, append(generateArgs(outdir, "1187008882", "1187008890"), "--format", "json")...)
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   GenerateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Data.Artifacts)
	assert.Equal(t, 2, resp.Data.Nodes)
	assert.Equal(t, "scan-batch", resp.Data.Tag)
	assert.Equal(t, filepath.Join(outdir, "scan-batch.dag"), resp.Data.DAGPath)
	assert.Equal(t, float64(1187008890), resp.Data.MaxGPS)
	assert.Len(t, resp.Data.DAGDigest, 64)
	assert.False(t, resp.Data.Outcome.Submitted)
}

func TestGenerate_Idempotent(t *testing.T) {
	outdir := filepath.Join(t.TempDir(), "scans")
	args := generateArgs(outdir, "--condor-timeout", "1.5", "1187008882", "1187008883")

	_, _, err := execute(t, args...)
	require.NoError(t, err)
	dag1 := readFile(t, filepath.Join(outdir, "scan-batch.dag"))
	sub1 := readFile(t, filepath.Join(outdir, "scan-batch.sub"))

	_, _, err = execute(t, args...)
	require.NoError(t, err)
	assert.Equal(t, dag1, readFile(t, filepath.Join(outdir, "scan-batch.dag")))
	assert.Equal(t, sub1, readFile(t, filepath.Join(outdir, "scan-batch.sub")))
}

func TestGenerate_DirectivesAndToggles(t *testing.T) {
	outdir := filepath.Join(t.TempDir(), "scans")

	_, _, err := execute(t, generateArgs(outdir,
		"--condor-timeout", "2",
		"--condor-command", "request_memory=4096",
		"--condor-command", "request_disk=1GB",
		"--condor-accounting-group", "ligo.prod.{epoch}.detchar",
		"--disable-correlation",
		"--ignore-state-flags",
		"--config-file", "/etc/omega/L1.ini",
		"-j", "4",
		"1187008882",
	)...)
	require.NoError(t, err)

	sub := readFile(t, filepath.Join(outdir, "scan-batch.sub"))
	assert.Contains(t, sub, "accounting_group = ligo.prod.o2.detchar\n")
	assert.Contains(t, sub, "periodic_remove = (CurrentTime - EnteredCurrentStatus) > 7200\n")
	assert.Contains(t, sub, "request_memory=4096\nrequest_disk=1GB\nqueue 1\n")
	assert.Contains(t, sub, "request_cpus = 4\n")
	assert.Contains(t, sub, "--config-file /etc/omega/L1.ini")
	assert.Contains(t, sub, "--disable-correlation --ignore-state-flags")
	assert.NotContains(t, sub, "--disable-checkpoint")
}

func TestGenerate_TagOverride(t *testing.T) {
	outdir := filepath.Join(t.TempDir(), "scans")

	_, _, err := execute(t, generateArgs(outdir, "--tag", "gw170817 followup", "1187008882")...)
	require.NoError(t, err)

	dag := readFile(t, filepath.Join(outdir, "gw170817_followup.dag"))
	assert.Contains(t, dag, "JOB gw170817_followup_0 ")
}

func TestGenerate_InputErrorsWriteNothing(t *testing.T) {
	tests := []struct {
		name     string
		args     func(outdir string) []string
		wantCode string
	}{
		{
			name:     "no times",
			args:     func(outdir string) []string { return generateArgs(outdir) },
			wantCode: ErrCodeTimes,
		},
		{
			name:     "non-numeric token among several",
			args:     func(outdir string) []string { return generateArgs(outdir, "1187008882", "abc") },
			wantCode: ErrCodeTimes,
		},
		{
			name:     "missing times file",
			args:     func(outdir string) []string { return generateArgs(outdir, "no-such-times.txt") },
			wantCode: ErrCodeTimes,
		},
		{
			name: "missing ifo",
			args: func(outdir string) []string {
				return []string{"generate", "-o", outdir, "1187008882"}
			},
			wantCode: ErrCodeOption,
		},
		{
			name:     "bad frequency scaling",
			args:     func(outdir string) []string { return generateArgs(outdir, "--frequency-scaling", "mel", "1187008882") },
			wantCode: ErrCodeOption,
		},
		{
			name:     "malformed directive",
			args:     func(outdir string) []string { return generateArgs(outdir, "--condor-command", "oops", "1187008882") },
			wantCode: ErrCodeOption,
		},
		{
			name:     "negative timeout",
			args:     func(outdir string) []string { return generateArgs(outdir, "--condor-timeout", "-1", "1187008882") },
			wantCode: ErrCodeOption,
		},
		{
			name:     "time before first epoch",
			args:     func(outdir string) []string { return generateArgs(outdir, "1000") },
			wantCode: ErrCodeEpoch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outdir := filepath.Join(t.TempDir(), "scans")

			stdout, _, err := execute(t, tt.args(outdir)...)
			require.Error(t, err)
			assert.Equal(t, ExitInputError, GetExitCode(err))
			assert.Contains(t, stdout, "Error ["+tt.wantCode+"]")

			_, statErr := os.Stat(outdir)
			assert.True(t, os.IsNotExist(statErr), "output directory must not be created")
		})
	}
}

func TestGenerate_NoTimesMessage(t *testing.T) {
	stdout, _, err := execute(t, append(generateArgs(t.TempDir()), "--format", "json")...)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTimes, resp.Error.Code)
	assert.Equal(t, "no times given", resp.Error.Message)
}

func TestGenerate_WriteFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "scans")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0644))

	stdout, _, err := execute(t, generateArgs(blocker, "1187008882")...)
	require.Error(t, err)
	assert.Equal(t, ExitWriteError, GetExitCode(err))
	assert.Contains(t, stdout, "Error ["+ErrCodeWriteFailed+"]")
}

func TestGenerate_DefaultsFile(t *testing.T) {
	dir := t.TempDir()
	defaults := writeDefaults(t, dir, `
colormap: jet
executable: /opt/omega/bin/omega-scan
accounting_group: ligo.sim.{epoch}.detchar
nproc: 2
`)
	outdir := filepath.Join(dir, "scans")

	// Flags given on the command line win over the file.
	_, _, err := execute(t, generateArgs(outdir, "--defaults", defaults, "--nproc", "16", "1187008882")...)
	require.NoError(t, err)

	sub := readFile(t, filepath.Join(outdir, "scan-batch.sub"))
	assert.Contains(t, sub, "executable = /opt/omega/bin/omega-scan\n")
	assert.Contains(t, sub, "--colormap jet")
	assert.Contains(t, sub, "--nproc 16")
	assert.Contains(t, sub, "accounting_group = ligo.sim.o2.detchar\n")
}

func TestGenerate_DefaultsFileUnknownKey(t *testing.T) {
	dir := t.TempDir()
	defaults := writeDefaults(t, dir, "colour_map: jet\n")
	outdir := filepath.Join(dir, "scans")

	stdout, _, err := execute(t, generateArgs(outdir, "--defaults", defaults, "1187008882")...)
	require.Error(t, err)
	assert.Equal(t, ExitInputError, GetExitCode(err))
	assert.Contains(t, stdout, "Error ["+ErrCodeDefaults+"]")

	_, statErr := os.Stat(outdir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestGenerate_EpochTableFile(t *testing.T) {
	dir := t.TempDir()
	table := filepath.Join(dir, "runs.cue")
	require.NoError(t, os.WriteFile(table, []byte(`epochs: [
	{label: "er10", start: 1000000000},
	{label: "er11", start: 1180000000},
]
`), 0644))
	outdir := filepath.Join(dir, "scans")

	_, _, err := execute(t, generateArgs(outdir, "--epoch-table", table, "1187008882")...)
	require.NoError(t, err)

	sub := readFile(t, filepath.Join(outdir, "scan-batch.sub"))
	assert.Contains(t, sub, "accounting_group = ligo.dev.er11.detchar.user_req.omegascan\n")
}

func TestGenerate_Submit(t *testing.T) {
	dir := t.TempDir()
	submit := testutil.NewFakeBinary(t, dir, "condor_submit_dag", 0, "1 job(s) submitted to cluster 42.", "")
	defaults := writeDefaults(t, dir, "submit_command: "+submit.Path+"\n")
	outdir := filepath.Join(dir, "scans")

	stdout, _, err := execute(t, generateArgs(outdir, "--defaults", defaults, "--submit", "1187008882")...)
	require.NoError(t, err)

	dagPath := filepath.Join(outdir, "scan-batch.dag")
	assert.Equal(t, [][]string{{"-force", dagPath}}, submit.Calls(t))
	assert.Contains(t, stdout, "submitted to cluster 42")
	assert.Contains(t, stdout, "Submitted "+dagPath)
}

func TestGenerate_SubmitFailureUsesSchedulerStatus(t *testing.T) {
	dir := t.TempDir()
	submit := testutil.NewFakeBinary(t, dir, "condor_submit_dag", 4, "", "ERROR: Can't find address of local schedd")
	defaults := writeDefaults(t, dir, "submit_command: "+submit.Path+"\n")
	outdir := filepath.Join(dir, "scans")
	ledgerPath := filepath.Join(dir, "ledger.db")

	stdout, _, err := execute(t, generateArgs(outdir, "--defaults", defaults, "--submit", "--ledger", ledgerPath, "1187008882")...)
	require.Error(t, err)
	assert.Equal(t, 4, GetExitCode(err))
	assert.Contains(t, stdout, "Error ["+ErrCodeScheduler+"]")
	assert.Contains(t, stdout, "local schedd")

	// Artifacts stay on disk for a later retry.
	_, statErr := os.Stat(filepath.Join(outdir, "scan-batch.dag"))
	assert.NoError(t, statErr)

	st, err := store.Open(ledgerPath)
	require.NoError(t, err)
	defer st.Close()
	gens, err := st.ListGenerations(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, store.StatusFailed, gens[0].SubmitStatus)
	require.NotNil(t, gens[0].ExitCode)
	assert.Equal(t, 4, *gens[0].ExitCode)
}

func TestGenerate_SubmitAndMonitor(t *testing.T) {
	dir := t.TempDir()
	submit := testutil.NewFakeBinary(t, dir, "condor_submit_dag", 0, "submitted", "")
	watch := testutil.NewFakeBinary(t, dir, "condor_watch_q", 0, "all jobs done", "")
	defaults := writeDefaults(t, dir, "submit_command: "+submit.Path+"\nwatch_command: "+watch.Path+"\n")
	outdir := filepath.Join(dir, "scans")

	stdout, _, err := execute(t, append(generateArgs(outdir, "--defaults", defaults, "--submit", "--monitor", "1187008882"), "--format", "json")...)
	require.NoError(t, err)

	logPath := filepath.Join(outdir, "logs", "scan-batch.log")
	assert.Equal(t, [][]string{{"-files", logPath, "-exit", "all,done,0"}}, watch.Calls(t))

	// Tool output goes to stderr in JSON mode, leaving one JSON document.
	var resp struct {
		Status string         `json:"status"`
		Data   GenerateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.True(t, resp.Data.Outcome.Submitted)
	assert.True(t, resp.Data.Outcome.Monitored)
}

func TestGenerate_MonitorWithoutSubmit(t *testing.T) {
	dir := t.TempDir()
	watch := testutil.NewFakeBinary(t, dir, "condor_watch_q", 0, "", "")
	defaults := writeDefaults(t, dir, "watch_command: "+watch.Path+"\n")
	outdir := filepath.Join(dir, "scans")

	_, stderr, err := execute(t, generateArgs(outdir, "--defaults", defaults, "--monitor", "1187008882")...)
	require.NoError(t, err)
	assert.Contains(t, stderr, "monitor requested without submit")
	assert.Empty(t, watch.Calls(t))
}

func TestGenerate_Ledger(t *testing.T) {
	dir := t.TempDir()
	outdir := filepath.Join(dir, "scans")
	ledgerPath := filepath.Join(dir, "ledger.db")
	args := append(generateArgs(outdir, "--ledger", ledgerPath, "1187008882", "1187008883"), "--format", "json")

	_, _, err := execute(t, args...)
	require.NoError(t, err)
	stdout, stderr, err := execute(t, args...)
	require.NoError(t, err)

	var resp struct {
		Data GenerateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.NotEmpty(t, resp.Data.GenerationID)
	assert.Equal(t, 1, resp.Data.Previous)
	assert.Contains(t, stderr, "identical workflow generated before")

	st, err := store.Open(ledgerPath)
	require.NoError(t, err)
	defer st.Close()
	gens, err := st.ListGenerations(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, gens, 2)
	assert.Equal(t, gens[0].DAGDigest, gens[1].DAGDigest)
	assert.Equal(t, store.StatusNotRequested, gens[0].SubmitStatus)
	assert.Equal(t, "ligo.dev.o2.detchar.user_req.omegascan", gens[0].AccountingGroup)
}

func TestGenerate_VerboseLogsToStderr(t *testing.T) {
	outdir := filepath.Join(t.TempDir(), "scans")

	stdout, stderr, err := execute(t, append(generateArgs(outdir, "1187008882"), "-v")...)
	require.NoError(t, err)
	assert.Contains(t, stderr, "level=DEBUG")
	assert.Contains(t, stderr, "workflow assembled")
	assert.Contains(t, stderr, "DAG digest:")
	assert.Contains(t, stdout, "Wrote 1 job(s)")
	assert.False(t, strings.Contains(stdout, "level="), "logs must not reach stdout")
}
