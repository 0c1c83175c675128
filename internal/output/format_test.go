package output_test

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/balancewatch/internal/output"
)

type named struct{ name string }

func (n named) String() string { return "provider " + n.name }

func TestFormatterPrint(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	f := output.NewFormatter(output.FormatJSON, &buf)
	require.NoError(t, f.Print(map[string]int{"providers": 2}))
	var out map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, 2, out["providers"])
	assert.True(t, f.IsJSON())
	assert.Equal(t, output.FormatJSON, f.Format())
	assert.Same(t, &buf, f.Writer())

	buf.Reset()
	f = output.NewFormatter(output.FormatText, &buf)
	require.NoError(t, f.Print("hello"))
	require.NoError(t, f.Print(named{"acme"}))
	require.NoError(t, f.Print(42))
	require.NoError(t, f.Printf("%d%%\n", 7))
	require.NoError(t, f.Println("a", "b"))
	assert.Equal(t, "hello\nprovider acme\n42\n7%\na b\n", buf.String())
	assert.False(t, f.IsJSON())
}

func TestFormatterColor(t *testing.T) {
	t.Parallel()

	plain := output.NewFormatter(output.FormatText, nil)
	assert.Equal(t, "LOW", plain.Danger("LOW"))

	colored := output.NewFormatter(output.FormatText, nil).WithColor(true)
	assert.Equal(t, "\x1b[31mLOW\x1b[0m", colored.Danger("LOW"))
	assert.Equal(t, "\x1b[33mstale\x1b[0m", colored.Caution("stale"))
	assert.Empty(t, colored.Danger(""))
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := map[string]output.Format{
		"json":   output.FormatJSON,
		" JSON ": output.FormatJSON,
		"text":   output.FormatText,
		"auto":   output.FormatAuto,
		"yaml":   output.FormatAuto,
		"":       output.FormatAuto,
	}
	for in, want := range tests {
		assert.Equal(t, want, output.ParseFormat(in), in)
	}
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	assert.Equal(t, output.FormatText, output.DetectFormat(&buf, output.FormatText))
	assert.Equal(t, output.FormatJSON, output.DetectFormat(&buf, output.FormatAuto))

	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	assert.Equal(t, output.FormatJSON, output.DetectFormat(f, output.FormatAuto), "regular files are not terminals")
}

//nolint:paralleltest // mutates NO_COLOR
func TestDetectColor(t *testing.T) {
	var buf bytes.Buffer
	assert.True(t, output.DetectColor(&buf, output.ColorAlways))
	assert.False(t, output.DetectColor(&buf, output.ColorNever))
	assert.False(t, output.DetectColor(&buf, output.ColorAuto))

	t.Setenv("NO_COLOR", "1")
	assert.False(t, output.DetectColor(&buf, output.ColorAlways))
}

func TestNotices(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	output.Info(&buf, "watching %d providers", 3)
	output.Warn(&buf, "%s is low", "acme")
	output.Success(&buf, "done")
	assert.Equal(t, "info: watching 3 providers\nwarning: acme is low\nok: done\n", buf.String())
}
