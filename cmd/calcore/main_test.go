package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:cli@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240101T090000Z\r\n" +
	"DURATION:PT1H\r\n" +
	"RRULE:FREQ=DAILY;COUNT=3\r\n" +
	"SUMMARY:CLI\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestConvertFromStdin(t *testing.T) {
	out, _, err := run(t, sample, "convert", "--to", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"vcalendar"`)
	assert.Contains(t, out, `"cli@example.com"`)
}

func TestConvertFileToFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.ics")
	outPath := filepath.Join(dir, "out.xml")
	require.NoError(t, os.WriteFile(in, []byte(sample), 0o600))

	_, _, err := run(t, "", "convert", in, "--to", "xml", "-o", outPath, "--method", "publish")
	require.NoError(t, err)
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<method>")
	assert.Contains(t, string(data), "PUBLISH")
}

func TestConvertRejectsUnknownFormat(t *testing.T) {
	_, _, err := run(t, sample, "convert", "--to", "pdf")
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	out, _, err := run(t, sample, "expand", "--tz", "UTC")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "2024-01-01T09:00:00Z")
	assert.Contains(t, lines[2], "2024-01-03T09:00:00Z")
}

func TestExpandWindowAsJSON(t *testing.T) {
	out, _, err := run(t, sample, "expand", "--tz", "UTC", "--start", "2024-01-02", "--end", "2024-01-02T12:00:00Z", "--json")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, `"uid"`))
	assert.Contains(t, out, "2024-01-02T09:00:00Z")
}

func TestExpandCapReported(t *testing.T) {
	_, errOut, err := run(t, sample, "expand", "--tz", "UTC", "--max-instances", "2")
	require.NoError(t, err)
	assert.Contains(t, errOut, "truncated: cli@example.com")
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "calcore version dev\n", out)
}
