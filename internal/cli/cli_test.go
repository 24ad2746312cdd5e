package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexAdvisor/config"
	"github.com/dyike/CortexAdvisor/consts"
	"github.com/dyike/CortexAdvisor/models"
)

func feed(items ...string) <-chan string {
	ch := make(chan string, len(items))
	for _, it := range items {
		ch <- it
	}
	close(ch)
	return ch
}

func TestStreamRendererSeparatesStatus(t *testing.T) {
	var buf bytes.Buffer
	r := newStreamRenderer(&buf, false)
	r.Drain(feed("STATUS: initializing", "Hello ", "world", "STATUS: complete"))

	assert.Equal(t, "· initializing\nHello world\n· complete\n", buf.String())
	assert.Equal(t, "Hello world", r.Content())
	assert.True(t, r.Completed())
}

func TestStreamRendererToolStatus(t *testing.T) {
	var buf bytes.Buffer
	r := newStreamRenderer(&buf, false)
	r.Drain(feed("STATUS: executing_plan", "STATUS: tool get_price", "done\n", "STATUS: complete"))

	assert.Equal(t, "· executing_plan\n· tool get_price\ndone\n· complete\n", buf.String())
}

type fakeStreamer struct{ items []string }

func (f fakeStreamer) Stream(context.Context, string, string) <-chan string {
	return feed(f.items...)
}

func TestStreamTurnReportsCancel(t *testing.T) {
	var buf bytes.Buffer
	err := streamTurn(context.Background(), fakeStreamer{items: []string{"STATUS: initializing", "STATUS: context_gathering"}}, "q", "s1", &buf, false)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(buf.String(), "cancelled\n"), buf.String())
}

type fakeEmbedder struct {
	got []string
	err error
}

func (f *fakeEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	f.got = texts
	if f.err != nil {
		return nil, f.err
	}
	return [][]float64{{0.1, 0.2, 0.3}}, nil
}

type docSink struct{ docs []*models.Document }

func (d *docSink) InsertDocument(_ context.Context, doc *models.Document) error {
	d.docs = append(d.docs, doc)
	return nil
}

func TestAddDocumentEmbedsSummary(t *testing.T) {
	emb := &fakeEmbedder{}
	sink := &docSink{}
	doc := &models.Document{Title: "Rates", Content: "<html><body><p>Fed holds rates.</p><script>x()</script></body></html>"}

	require.NoError(t, addDocument(context.Background(), emb, sink, doc))
	require.Len(t, sink.docs, 1)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, sink.docs[0].Embedding)
	require.Len(t, emb.got, 1)
	assert.Contains(t, emb.got[0], "Fed holds rates.")
	assert.NotContains(t, emb.got[0], "x()")
}

func TestAddDocumentErrors(t *testing.T) {
	sink := &docSink{}

	err := addDocument(context.Background(), &fakeEmbedder{}, sink, &models.Document{Title: "Empty", Content: "  "})
	assert.Error(t, err)

	boom := errors.New("quota")
	err = addDocument(context.Background(), &fakeEmbedder{err: boom}, sink, &models.Document{Title: "t", Content: "c"})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, sink.docs)
}

func TestReadDocumentFromStdin(t *testing.T) {
	got, err := readDocument("-", strings.NewReader("notes"))
	require.NoError(t, err)
	assert.Equal(t, "notes", got)

	_, err = readDocument(t.TempDir()+"/missing.md", nil)
	assert.Error(t, err)
}

func TestShowConfigMasksSecrets(t *testing.T) {
	cfg := config.DefaultConfigWithRoot(t.TempDir())
	cfg.DeepSeekAPIKey = "sk-1234567890abcd"
	cfg.LongportAppSecret = "short"

	var buf bytes.Buffer
	require.NoError(t, showConfig(&buf, *cfg))

	out := buf.String()
	assert.NotContains(t, out, "sk-1234567890abcd")
	assert.Contains(t, out, `"deepseek_api_key": "sk-1*********abcd"`)
	assert.Contains(t, out, `"longport_app_secret": "*****"`)
}

func TestFormatTrades(t *testing.T) {
	assert.Equal(t, "No trades recorded.", formatTrades(nil))

	at := time.Date(2026, 3, 2, 15, 4, 0, 0, time.Local)
	out := formatTrades([]models.Trade{
		{Symbol: "AAPL", Action: "BUY", Quantity: decimal.NewFromInt(10), Price: decimal.NewNullDecimal(decimal.RequireFromString("190.5")), ExecutedAt: at},
		{Symbol: "TSLA", Action: "SELL", Quantity: decimal.NewFromInt(2), ExecutedAt: at, Reasoning: "trim"},
	})
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "price=190.50")
	assert.Contains(t, lines[1], "price=n/a")
	assert.True(t, strings.HasSuffix(lines[1], "trim"))
}

func TestVersionCommand(t *testing.T) {
	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "CortexAdvisor "+consts.Version)
}

func TestConfigShowCommand(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--config-dir", t.TempDir(), "config", "show"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), `"history_window": 6`)
}

func TestBuildSnapshot(t *testing.T) {
	snap, err := buildSnapshot("s1", []string{"aapl=10@150", "$msft=4"}, "2500")
	require.NoError(t, err)

	require.Len(t, snap.Holdings, 2)
	assert.Equal(t, "AAPL", snap.Holdings[0].Symbol)
	assert.True(t, snap.Holdings[0].AvgCost.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, "MSFT", snap.Holdings[1].Symbol)
	assert.True(t, snap.Holdings[1].AvgCost.IsZero())
	assert.Equal(t, "4000", snap.TotalValue.String())
}

func TestBuildSnapshotRejectsBadInput(t *testing.T) {
	for _, raw := range []string{"AAPL", "=3", "AAPL=x", "AAPL=-1", "AAPL=1@y"} {
		_, err := buildSnapshot("s1", []string{raw}, "0")
		assert.Error(t, err, raw)
	}
	_, err := buildSnapshot("s1", nil, "lots")
	assert.Error(t, err)
}

func TestSessionProfileCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("LLM_PROVIDER", "")

	run := func(args ...string) string {
		cmd := NewRootCmd()
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		cmd.SetArgs(append([]string{"--config-dir", dir}, args...))
		require.NoError(t, cmd.Execute())
		return buf.String()
	}

	out := run("session", "profile", "--session", "alice", "--risk", "aggressive", "--value", "50000")
	assert.Contains(t, out, "aggressive")
	assert.Contains(t, out, "50000.00")

	out = run("session", "profile", "--session", "alice")
	assert.Contains(t, out, "aggressive")

	out = run("trades", "--session", "alice")
	assert.Contains(t, out, "No trades recorded.")
}
