package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dharsanguruparan/finsights/internal/pipeline"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"migrate", "run", "discover", "download", "convert", "cleanup", "enqueue"} {
		assert.Contains(t, names, want)
	}
}

func TestWindowFlags(t *testing.T) {
	root := newRootCommand()
	run, _, err := root.Find([]string{"run"})
	assert.NoError(t, err)
	assert.NotNil(t, run.Flags().Lookup("from"))
	assert.NotNil(t, run.Flags().Lookup("to"))
}

func TestRunRejectsInvertedWindowBeforeConnecting(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"run", "--from", "2025-02-01", "--to", "2025-01-01"})
	err := root.Execute()
	assert.ErrorContains(t, err, "window ends before it starts")
}

func TestFormatReportIncludesEveryCount(t *testing.T) {
	got := formatReport(pipeline.Report{
		Discovered:       7,
		Registered:       6,
		Downloaded:       4,
		DownloadFailed:   1,
		DownloadSkipped:  1,
		Converted:        3,
		ConversionFailed: 1,
	})
	assert.Equal(t, "discovered=7 registered=6 downloaded=4 download_failed=1 download_skipped=1 converted=3 conversion_failed=1", got)
}
