package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

const sampleText = `<?xml version="1.0" encoding="utf-8" ?>
<quran>
	<sura index="1" name="al-Fatiha">
		<aya index="1" text="one-one" />
		<aya index="2" text="one-two" />
		<aya index="3" text="one-three" />
		<aya index="4" text="one-four" />
		<aya index="5" text="one-five" />
		<aya index="6" text="one-six" />
		<aya index="7" text="one-seven" />
	</sura>
	<sura index="2" name="al-Baqara">
		<aya index="1" text="two-one" />
		<aya index="2" text="two-two" />
		<aya index="3" text="two-three" />
	</sura>
</quran>`

const sampleMeta = `<?xml version="1.0" encoding="utf-8" ?>
<quran type="metadata">
	<hizbs alias="quarters">
		<quarter index="1" sura="1" aya="1" />
	</hizbs>
	<pages>
		<page index="1" sura="1" aya="1" />
		<page index="2" sura="2" aya="1" />
	</pages>
</quran>`

// Test helper functions

func createTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

// setup points every command at a fresh data directory and captures
// output.
func setup(t *testing.T) (*Globals, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TILAWA_DATA_DIR", dir)
	t.Setenv("TILAWA_SETTLE_DELAY", "1ms")
	t.Setenv("TILAWA_LOG_LEVEL", "error")

	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = old })

	return &Globals{EnvFile: filepath.Join(dir, "missing.env"), DataDir: dir, Offline: true}, &buf
}

func importSample(t *testing.T, g *Globals) {
	t.Helper()
	text := createTestFile(t, g.DataDir, "quran-simple.xml", sampleText)
	meta := createTestFile(t, g.DataDir, "quran-data.xml", sampleMeta)
	cmd := &ImportCmd{Text: text, Meta: meta, Partial: true}
	if err := cmd.Run(context.Background(), g); err != nil {
		t.Fatalf("import: %v", err)
	}
}

// audioServer serves a small clip for every request and counts them.
func audioServer(t *testing.T) *atomic.Int32 {
	t.Helper()
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3 clip " + r.URL.Path))
	}))
	t.Cleanup(ts.Close)
	t.Setenv("TILAWA_AUDIO_BASE_URL", ts.URL+"/")
	return &hits
}

func TestVersionCmd(t *testing.T) {
	_, out := setup(t)
	if err := (&VersionCmd{}).Run(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), version) {
		t.Errorf("expected version in output, got %q", out.String())
	}
}

func TestImportCmd(t *testing.T) {
	g, out := setup(t)
	importSample(t, g)
	if !strings.Contains(out.String(), "imported 10 verses with page layout") {
		t.Errorf("unexpected output %q", out.String())
	}

	text := createTestFile(t, g.DataDir, "partial.xml", sampleText)
	if err := (&ImportCmd{Text: text}).Run(context.Background(), g); err == nil {
		t.Error("expected incomplete corpus to be rejected without --partial")
	}
}

func TestIndexCmd(t *testing.T) {
	tests := []struct {
		name    string
		cmd     IndexCmd
		want    []string
		wantErr bool
	}{
		{"verse with preamble", IndexCmd{Ref: "112:1"}, []string{"112:1", "6222", "yes"}, false},
		{"range", IndexCmd{Ref: "2:255-256"}, []string{"2:255", "262", "2:256", "263"}, false},
		{"global", IndexCmd{Global: 262}, []string{"262", "2:255"}, false},
		{"page", IndexCmd{Ref: "p604"}, []string{"page 604", "part 30"}, false},
		{"missing ref", IndexCmd{}, nil, true},
		{"bad ref", IndexCmd{Ref: "2:300"}, nil, true},
		{"bad global", IndexCmd{Global: 7000}, nil, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g, out := setup(t)
			err := tc.cmd.Run(context.Background(), g)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tc.wantErr)
			}
			for _, w := range tc.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("output %q missing %q", out.String(), w)
				}
			}
		})
	}
}

func TestIndexCmdUsesImportedLayout(t *testing.T) {
	g, out := setup(t)
	importSample(t, g)
	out.Reset()

	if err := (&IndexCmd{Ref: "2:1"}).Run(context.Background(), g); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %q", out.String())
	}
	if fields := strings.Fields(lines[1]); len(fields) < 3 || fields[2] != "2" {
		t.Errorf("expected page 2 for 2:1, got %q", lines[1])
	}
}

func TestQueueCmd(t *testing.T) {
	g, out := setup(t)
	importSample(t, g)
	out.Reset()

	cmd := &QueueCmd{Selection: Selection{Refs: []string{"1:1-3"}}, Text: true}
	if err := cmd.Run(context.Background(), g); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"-1:1:1", "-1:1:3", "one-two", "bookmark queue: 3 verses, 0 skipped"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestQueueCmdReportsSkipped(t *testing.T) {
	g, out := setup(t)
	importSample(t, g)
	out.Reset()

	cmd := &QueueCmd{Selection: Selection{Refs: []string{"2:1-2", "2:200"}}}
	if err := cmd.Run(context.Background(), g); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "skipped ref2") {
		t.Errorf("expected skipped report, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "collection queue: 2 verses, 1 skipped") {
		t.Errorf("unexpected summary:\n%s", out.String())
	}
}

func TestQueueCmdPage(t *testing.T) {
	g, out := setup(t)
	importSample(t, g)
	out.Reset()

	if err := (&QueueCmd{Selection: Selection{Page: 2}}).Run(context.Background(), g); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "page queue: 3 verses") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestQueueCmdSelectionErrors(t *testing.T) {
	g, _ := setup(t)
	importSample(t, g)

	tests := []struct {
		name string
		sel  Selection
	}{
		{"nothing", Selection{}},
		{"two selectors", Selection{Refs: []string{"1:1"}, Page: 1}},
		{"bad page", Selection{Page: 605}},
		{"unknown collection", Selection{Collection: "nope"}},
		{"bad ref", Selection{Refs: []string{"x"}}},
		{"nothing found", Selection{Refs: []string{"3:1"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := (&QueueCmd{Selection: tc.sel}).Run(context.Background(), g); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestOfflineWithoutCorpus(t *testing.T) {
	g, _ := setup(t)
	err := (&QueueCmd{Selection: Selection{Refs: []string{"1:1"}}}).Run(context.Background(), g)
	if err == nil || !strings.Contains(err.Error(), "tilawa import") {
		t.Errorf("expected hint to import a corpus, got %v", err)
	}
}

func TestCollectionAndBookmarkCmds(t *testing.T) {
	g, out := setup(t)
	ctx := context.Background()

	if err := (&CollectionAddCmd{Name: "Evening", Reciter: "ar.husary"}).Run(ctx, g); err != nil {
		t.Fatal(err)
	}
	if err := (&BookmarkAddCmd{Collection: "Evening", Ref: "1:1-2", Note: "opening"}).Run(ctx, g); err != nil {
		t.Fatal(err)
	}
	if err := (&BookmarkAddCmd{Collection: "Evening", Ref: "p2"}).Run(ctx, g); err != nil {
		t.Fatal(err)
	}
	if err := (&BookmarkAddCmd{Collection: "Missing", Ref: "1:1"}).Run(ctx, g); err == nil {
		t.Error("expected error for unknown collection")
	}

	out.Reset()
	if err := (&CollectionShowCmd{Key: "Evening"}).Run(ctx, g); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Evening", "reciter: ar.husary", "Surah 1:1-2", "Page 2", "opening"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("show output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := (&CollectionListCmd{}).Run(ctx, g); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "ar.husary") {
		t.Errorf("list output missing reciter:\n%s", out.String())
	}

	importSample(t, g)
	out.Reset()
	if err := (&QueueCmd{Selection: Selection{Collection: "Evening"}}).Run(ctx, g); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "collection queue: 5 verses, 0 skipped") {
		t.Errorf("unexpected collection queue:\n%s", out.String())
	}

	if err := (&CollectionRmCmd{Key: "Evening"}).Run(ctx, g); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := (&CollectionListCmd{}).Run(ctx, g); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "no collections") {
		t.Errorf("expected empty list, got:\n%s", out.String())
	}
}

func TestActivityCmds(t *testing.T) {
	g, out := setup(t)
	ctx := context.Background()

	if err := (&ActivityToggleCmd{VerseID: "-1:2:255"}).Run(ctx, g); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "-1:2:255 marked read (1 today)") {
		t.Errorf("unexpected toggle output %q", out.String())
	}
	if err := (&ActivityToggleCmd{VerseID: "2:255"}).Run(ctx, g); err == nil {
		t.Error("expected malformed verse id to be rejected")
	}

	out.Reset()
	if err := (&ActivityTodayCmd{}).Run(ctx, g); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "1 verses read") || !strings.Contains(out.String(), "9 more") {
		t.Errorf("unexpected today output %q", out.String())
	}

	out.Reset()
	if err := (&ActivityStreaksCmd{Top: 3}).Run(ctx, g); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "overall: 0 days") {
		t.Errorf("one verse should not start a streak, got %q", out.String())
	}
	if err := (&ActivityStreaksCmd{End: "last week"}).Run(ctx, g); err == nil {
		t.Error("expected invalid --end to be rejected")
	}

	out.Reset()
	if err := (&ActivityHistoryCmd{Days: 7}).Run(ctx, g); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "DATE") {
		t.Errorf("expected history table, got %q", out.String())
	}
}

func TestPlayCmd(t *testing.T) {
	g, out := setup(t)
	audioServer(t)
	t.Setenv("TILAWA_PLAYER_COMMAND", "true")
	importSample(t, g)
	out.Reset()

	cmd := &PlayCmd{Selection: Selection{Refs: []string{"1:1-3"}}}
	if err := cmd.Run(context.Background(), g); err != nil {
		t.Fatalf("play: %v", err)
	}
	for _, want := range []string{"playing 3 verses", "read 1:1 (new today)", "read 1:3 (new today)"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := (&ActivityTodayCmd{}).Run(context.Background(), g); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "3 verses read") {
		t.Errorf("expected 3 verses read, got %q", out.String())
	}
}

func TestPlayCmdRejectsBadSpeed(t *testing.T) {
	g, _ := setup(t)
	importSample(t, g)

	cmd := &PlayCmd{Selection: Selection{Refs: []string{"1:1"}}, Speed: "3x"}
	if err := cmd.Run(context.Background(), g); err == nil {
		t.Error("expected invalid speed to be rejected")
	}
}

func TestCachePrefetchAndStats(t *testing.T) {
	g, out := setup(t)
	hits := audioServer(t)
	importSample(t, g)
	ctx := context.Background()

	out.Reset()
	if err := (&CachePrefetchCmd{Selection: Selection{Refs: []string{"2:1-2"}}, Workers: 2}).Run(ctx, g); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "cached 3 of 3 clips") {
		t.Errorf("expected two verses plus the preamble, got %q", out.String())
	}

	if err := (&CachePrefetchCmd{Selection: Selection{Refs: []string{"2:1-2"}}}).Run(ctx, g); err != nil {
		t.Fatal(err)
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("expected cached clips not to be downloaded again, got %d requests", n)
	}

	out.Reset()
	if err := (&CacheStatsCmd{}).Run(ctx, g); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "clips:    3 (1 reciters)") {
		t.Errorf("unexpected stats %q", out.String())
	}

	out.Reset()
	if err := (&CacheVerifyCmd{}).Run(ctx, g); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "0 corrupt clips evicted") {
		t.Errorf("unexpected verify output %q", out.String())
	}
}
