package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusIconAndMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("🔍", "indexing project")

	assert.Contains(t, buf.String(), "🔍")
	assert.Contains(t, buf.String(), "indexing project")
}

func TestStatusWithoutIconIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("", "detail line")

	assert.Equal(t, "   detail line\n", buf.String())
}

func TestSuccessWarningError(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Success("done")
	w.Warning("careful")
	w.Error("broken")

	out := buf.String()
	assert.Contains(t, out, "✅ done")
	assert.Contains(t, out, "careful")
	assert.Contains(t, out, "❌ broken")
}

func TestFormattedVariants(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Statusf("📂", "found %d files", 42)
	w.Successf("indexed %d chunks", 7)
	w.Warningf("%d failures", 2)
	w.Errorf("exit %d", 1)

	out := buf.String()
	assert.Contains(t, out, "found 42 files")
	assert.Contains(t, out, "indexed 7 chunks")
	assert.Contains(t, out, "2 failures")
	assert.Contains(t, out, "exit 1")
}

func TestCodeIndentsEveryLine(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Code("line one\nline two")

	assert.Contains(t, buf.String(), "  line one\n")
	assert.Contains(t, buf.String(), "  line two\n")
}

func TestNewline(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Newline()

	assert.Equal(t, "\n", buf.String())
}

func TestBufferIsNotTTY(t *testing.T) {
	w := New(&bytes.Buffer{})
	assert.False(t, w.IsTTY())
}

func TestProgressNonTTYPrintsPlainLines(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(50, 100, "embedding files")

	out := buf.String()
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "embedding files")
	assert.NotContains(t, out, "\r", "non-TTY output must not use carriage returns")
}

func TestProgressZeroTotalIsSilent(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(0, 0, "waiting")

	assert.Empty(t, buf.String())
}

func TestProgressDoneNonTTYIsSilent(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.ProgressDone()

	assert.Empty(t, buf.String())
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name       string
		current    int
		total      int
		width      int
		wantFilled int
	}{
		{"empty", 0, 100, 10, 0},
		{"half", 50, 100, 10, 5},
		{"full", 100, 100, 10, 10},
		{"quarter", 25, 100, 20, 5},
		{"overflow clamps", 150, 100, 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderProgressBar(tt.current, tt.total, tt.width)
			assert.Equal(t, tt.wantFilled, strings.Count(bar, "█"))
			assert.Equal(t, tt.width, len([]rune(bar)))
		})
	}
}
