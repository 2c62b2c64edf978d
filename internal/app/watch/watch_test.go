package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linkpulse/linkpulse/internal/domain"
	"github.com/linkpulse/linkpulse/internal/infra/observability"
	"github.com/linkpulse/linkpulse/internal/infra/sqlite"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeSource struct {
	mu    sync.Mutex
	links map[string][]domain.Backlink
	err   error
	calls int
}

func (f *fakeSource) set(domainName string, links ...domain.Backlink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.links == nil {
		f.links = make(map[string][]domain.Backlink)
	}
	f.links[domainName] = links
}

func (f *fakeSource) Backlinks(ctx context.Context, domainName string) ([]domain.Backlink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.links[domainName], nil
}

type sentMessage struct {
	subscriber string
	text       string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, subscriber, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{subscriber, text})
	return nil
}

func (f *fakeNotifier) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func link(url string, day int) domain.Backlink {
	return domain.Backlink{
		SourceURL: url,
		FirstSeen: time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Anchor:    "anchor " + url,
	}
}

func testLogger() logrus.FieldLogger {
	return observability.NewLogger(observability.LogConfig{Level: "error"}, io.Discard)
}

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Monday 2024-03-04 07:15 UTC.
var mondayAtSeven = time.Date(2024, 3, 4, 7, 15, 0, 0, time.UTC)

// ─── Scanner ────────────────────────────────────────────────────────────────

func TestScan_ReportsOnlyUnseenLinks(t *testing.T) {
	db := newTestDB(t)
	src := &fakeSource{}
	sc := NewScanner(src, db, testLogger())
	ctx := context.Background()

	src.set("example.com", link("A", 1), link("B", 2))
	got, err := sc.Scan(ctx, "example.com")
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(got) != 2 || got[0].URL != "A" || got[1].URL != "B" {
		t.Fatalf("first scan = %+v, want [A B]", got)
	}
	if !got[0].FirstSeen.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) || got[1].Anchor != "anchor B" {
		t.Errorf("first scan fields = %+v", got)
	}

	src.set("example.com", link("A", 1), link("B", 2), link("C", 3))
	got, err = sc.Scan(ctx, "example.com")
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(got) != 1 || got[0].URL != "C" {
		t.Fatalf("second scan = %+v, want [C]", got)
	}

	got, _ = sc.Scan(ctx, "example.com")
	if len(got) != 0 {
		t.Errorf("unchanged rescan = %+v, want none", got)
	}
}

func TestScan_DomainsAreIndependent(t *testing.T) {
	db := newTestDB(t)
	src := &fakeSource{}
	sc := NewScanner(src, db, testLogger())

	src.set("a.test", link("https://shared.test/", 1))
	src.set("b.test", link("https://shared.test/", 1))
	for _, d := range []string{"a.test", "b.test"} {
		got, err := sc.Scan(context.Background(), d)
		if err != nil || len(got) != 1 {
			t.Errorf("Scan(%s) = %+v, %v; want one new link", d, got, err)
		}
	}
}

func TestScan_CollaboratorFailureDegrades(t *testing.T) {
	db := newTestDB(t)
	src := &fakeSource{err: fmt.Errorf("%w: 502", domain.ErrCollaboratorUnavailable)}
	sc := NewScanner(src, db, testLogger())

	got, err := sc.Scan(context.Background(), "example.com")
	if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
		t.Errorf("error = %v, want ErrCollaboratorUnavailable", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d links on failure", len(got))
	}
}

// ─── Due Window ─────────────────────────────────────────────────────────────

func TestDue(t *testing.T) {
	s := NewScheduler(DefaultConfig(), nil, nil, nil, testLogger())
	daily := domain.WatchJob{Frequency: domain.FrequencyDaily}
	weekly := domain.WatchJob{Frequency: domain.FrequencyWeekly}
	tuesday := mondayAtSeven.AddDate(0, 0, 1)
	ranToday := mondayAtSeven.Add(-10 * time.Minute)
	ranYesterday := mondayAtSeven.AddDate(0, 0, -1)

	cases := []struct {
		name string
		job  domain.WatchJob
		now  time.Time
		want bool
	}{
		{"daily at hour", daily, mondayAtSeven, true},
		{"daily other hour", daily, mondayAtSeven.Add(time.Hour), false},
		{"daily tuesday", daily, tuesday, true},
		{"weekly monday", weekly, mondayAtSeven, true},
		{"weekly tuesday", weekly, tuesday, false},
		{"weekly monday other hour", weekly, mondayAtSeven.Add(-time.Hour), false},
		{"already ran today", domain.WatchJob{Frequency: domain.FrequencyDaily, LastRunAt: &ranToday}, mondayAtSeven, false},
		{"ran yesterday", domain.WatchJob{Frequency: domain.FrequencyDaily, LastRunAt: &ranYesterday}, mondayAtSeven, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.Due(tc.job, tc.now); got != tc.want {
				t.Errorf("Due() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDue_Timezone(t *testing.T) {
	kyiv := time.FixedZone("EET", 2*60*60)
	cfg := DefaultConfig()
	cfg.Location = kyiv
	s := NewScheduler(cfg, nil, nil, nil, testLogger())

	job := domain.WatchJob{Frequency: domain.FrequencyDaily}
	if !s.Due(job, time.Date(2024, 3, 4, 5, 0, 0, 0, time.UTC)) {
		t.Error("05:00 UTC is 07:00 local and should be due")
	}
	if s.Due(job, mondayAtSeven) {
		t.Error("07:00 UTC is 09:00 local and should not be due")
	}
}

// ─── Tick ───────────────────────────────────────────────────────────────────

func newTestScheduler(t *testing.T) (*Scheduler, *sqlite.DB, *fakeSource, *fakeNotifier) {
	t.Helper()
	db := newTestDB(t)
	src := &fakeSource{}
	n := &fakeNotifier{}
	cfg := DefaultConfig()
	cfg.MaxLinks = 2
	s := NewScheduler(cfg, db, NewScanner(src, db, testLogger()), n, testLogger())
	return s, db, src, n
}

func TestTick_FiresOncePerDayAndNotifies(t *testing.T) {
	s, db, src, n := newTestScheduler(t)
	ctx := context.Background()
	if _, err := db.AddWatch("U1", "example.com", domain.FrequencyDaily); err != nil {
		t.Fatal(err)
	}
	src.set("example.com", link("A", 1), link("B", 2))

	r := s.Tick(ctx, mondayAtSeven)
	if r.Due != 1 || r.NewLinks != 2 || r.Notified != 1 {
		t.Fatalf("first tick = %+v", r)
	}
	msgs := n.messages()
	if len(msgs) != 1 || msgs[0].subscriber != "U1" {
		t.Fatalf("messages = %+v", msgs)
	}
	if !strings.Contains(msgs[0].text, "A (first seen 2024-01-01)") {
		t.Errorf("text = %q", msgs[0].text)
	}

	src.set("example.com", link("A", 1), link("B", 2), link("C", 3))
	if r := s.Tick(ctx, mondayAtSeven.Add(30*time.Minute)); r.Due != 0 {
		t.Errorf("second tick same day = %+v, want nothing due", r)
	}

	r = s.Tick(ctx, mondayAtSeven.AddDate(0, 0, 1))
	if r.Due != 1 || r.NewLinks != 1 {
		t.Fatalf("next day tick = %+v", r)
	}
	msgs = n.messages()
	if len(msgs) != 2 || !strings.Contains(msgs[1].text, "C (first seen 2024-01-03)") || strings.Contains(msgs[1].text, "A (") {
		t.Errorf("second message = %+v", msgs)
	}
}

func TestTick_NoNewLinksNoNotification(t *testing.T) {
	s, db, src, n := newTestScheduler(t)
	db.AddWatch("U1", "quiet.test", domain.FrequencyDaily)
	src.set("quiet.test")

	r := s.Tick(context.Background(), mondayAtSeven)
	if r.Due != 1 || r.Notified != 0 || len(n.messages()) != 0 {
		t.Errorf("report = %+v, messages = %d", r, len(n.messages()))
	}
}

func TestTick_SameDomainTwoSubscribers(t *testing.T) {
	s, db, src, n := newTestScheduler(t)
	db.AddWatch("U1", "example.com", domain.FrequencyDaily)
	db.AddWatch("U2", "example.com", domain.FrequencyDaily)
	src.set("example.com", link("A", 1))

	r := s.Tick(context.Background(), mondayAtSeven)
	if r.Due != 2 || r.NewLinks != 1 || r.Notified != 1 {
		t.Errorf("report = %+v, want one link reported once", r)
	}
	if len(n.messages()) != 1 {
		t.Errorf("messages = %+v", n.messages())
	}
}

func TestTick_FailuresDoNotStopOtherJobs(t *testing.T) {
	s, db, src, n := newTestScheduler(t)
	n.err = errors.New("telegram down")
	for i := 0; i < 5; i++ {
		d := fmt.Sprintf("site%d.test", i)
		db.AddWatch("U1", d, domain.FrequencyDaily)
		src.set(d, link("https://"+d+"/ref", 1))
	}

	r := s.Tick(context.Background(), mondayAtSeven)
	if r.Due != 5 || r.Scanned != 5 || r.Failed != 5 {
		t.Errorf("report = %+v", r)
	}
	jobs, _ := db.ListWatches("")
	for _, j := range jobs {
		if j.LastRunAt == nil {
			t.Errorf("job %d not marked as run", j.ID)
		}
	}
}

func TestTick_WeeklyOnlyOnWeekday(t *testing.T) {
	s, db, src, _ := newTestScheduler(t)
	db.AddWatch("U1", "weekly.test", domain.FrequencyWeekly)
	src.set("weekly.test", link("A", 1))

	if r := s.Tick(context.Background(), mondayAtSeven.AddDate(0, 0, 2)); r.Due != 0 {
		t.Errorf("wednesday tick = %+v", r)
	}
	if r := s.Tick(context.Background(), mondayAtSeven.AddDate(0, 0, 7)); r.Due != 1 {
		t.Errorf("next monday tick = %+v", r)
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	s.cfg.Interval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestNextTick_AlignsToLocalHour(t *testing.T) {
	india := time.FixedZone("IST", 5*3600+30*60)
	at := func(h, m, sec int, loc *time.Location) time.Time {
		return time.Date(2024, 3, 4, h, m, sec, 0, loc)
	}
	tests := []struct {
		name     string
		interval time.Duration
		loc      *time.Location
		now      time.Time
		want     time.Time
	}{
		{"hourly mid hour", time.Hour, time.UTC, at(6, 59, 59, time.UTC), at(7, 0, 0, time.UTC)},
		{"hourly on boundary", time.Hour, time.UTC, at(7, 0, 0, time.UTC), at(8, 0, 0, time.UTC)},
		{"drifted past boundary", time.Hour, time.UTC, at(7, 0, 3, time.UTC), at(8, 0, 0, time.UTC)},
		{"quarter hours", 15 * time.Minute, time.UTC, at(7, 16, 0, time.UTC), at(7, 30, 0, time.UTC)},
		{"uneven interval restarts each hour", 25 * time.Minute, time.UTC, at(7, 52, 0, time.UTC), at(8, 0, 0, time.UTC)},
		{"half-hour zone", time.Hour, india, at(6, 40, 0, india), at(7, 0, 0, india)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Interval = tt.interval
			cfg.Location = tt.loc
			s := NewScheduler(cfg, nil, nil, nil, testLogger())
			if got := s.nextTick(tt.now); !got.Equal(tt.want) {
				t.Errorf("nextTick(%s) = %s, want %s", tt.now, got, tt.want)
			}
		})
	}
}

func TestNewScheduler_CapsInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = 3 * time.Hour
	s := NewScheduler(cfg, nil, nil, nil, testLogger())
	if s.cfg.Interval != time.Hour {
		t.Errorf("Interval = %s, want 1h", s.cfg.Interval)
	}
}

func TestFormatNotification_Cap(t *testing.T) {
	links := []domain.NewLink{
		{URL: "https://a.test", FirstSeen: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{URL: "https://b.test"},
		{URL: "https://c.test"},
		{URL: "https://d.test"},
	}
	text := FormatNotification("example.com", links, 2)
	want := "New backlinks for example.com:\n" +
		"1. https://a.test (first seen 2024-01-01)\n" +
		"2. https://b.test (first seen unknown)\n" +
		"...and 2 more"
	if text != want {
		t.Errorf("text =\n%s\nwant\n%s", text, want)
	}
}

// ─── On-demand Check ────────────────────────────────────────────────────────

func TestCheck_DebitsAndScans(t *testing.T) {
	db := newTestDB(t)
	src := &fakeSource{}
	src.set("example.com", link("A", 1))
	c := NewChecker(db, NewScanner(src, db, testLogger()), 5, testLogger())
	db.Credit("U1", 10, "topup:test:U1-1")

	res, err := c.Check(context.Background(), "U1", "https://www.Example.com/page")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if res.Domain != "example.com" || len(res.NewLinks) != 1 || res.Charged != 5 || res.Balance != 5 {
		t.Errorf("result = %+v", res)
	}
	entries, _ := db.Entries("U1", 1)
	if len(entries) != 1 || entries[0].Reason != "debit:backlink_check" || entries[0].Delta != -5 {
		t.Errorf("last entry = %+v", entries)
	}
}

func TestCheck_LeavesLinksNewForWatchers(t *testing.T) {
	s, db, src, n := newTestScheduler(t)
	if _, err := db.AddWatch("U1", "example.com", domain.FrequencyDaily); err != nil {
		t.Fatal(err)
	}
	src.set("example.com", link("A", 1))
	db.Credit("U2", 3, "topup:test:U2-1")
	c := NewChecker(db, s.scanner, 1, testLogger())

	res, err := c.Check(context.Background(), "U2", "example.com")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if len(res.NewLinks) != 1 || res.Recorded != 0 {
		t.Fatalf("check result = %+v, want 1 unseen link and 0 recorded", res)
	}

	r := s.Tick(context.Background(), mondayAtSeven)
	if r.NewLinks != 1 || r.Notified != 1 {
		t.Fatalf("tick after check = %+v, want the link reported", r)
	}
	msgs := n.messages()
	if len(msgs) != 1 || msgs[0].subscriber != "U1" || !strings.Contains(msgs[0].text, "1. A") {
		t.Errorf("messages = %+v", msgs)
	}

	res, err = c.Check(context.Background(), "U2", "example.com")
	if err != nil {
		t.Fatalf("second Check() error: %v", err)
	}
	if len(res.NewLinks) != 0 || res.Recorded != 1 {
		t.Errorf("check after tick = %+v, want nothing unseen and 1 recorded", res)
	}
}

func TestPreview_DoesNotRecord(t *testing.T) {
	db := newTestDB(t)
	src := &fakeSource{}
	src.set("example.com", link("A", 1), link("B", 2))
	sc := NewScanner(src, db, testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		links, err := sc.Preview(ctx, "example.com")
		if err != nil || len(links) != 2 {
			t.Fatalf("Preview #%d = %v, %v; want 2 links", i+1, links, err)
		}
	}
	if n, _ := sc.Recorded("example.com"); n != 0 {
		t.Fatalf("Recorded = %d after preview, want 0", n)
	}

	if links, _ := sc.Scan(ctx, "example.com"); len(links) != 2 {
		t.Fatalf("Scan after preview = %v, want 2 links", links)
	}
	if links, _ := sc.Preview(ctx, "example.com"); len(links) != 0 {
		t.Errorf("Preview after scan = %v, want none", links)
	}
	if n, _ := sc.Recorded("example.com"); n != 2 {
		t.Errorf("Recorded = %d, want 2", n)
	}
}

func TestCheck_InsufficientFunds(t *testing.T) {
	db := newTestDB(t)
	src := &fakeSource{}
	c := NewChecker(db, NewScanner(src, db, testLogger()), 5, testLogger())

	_, err := c.Check(context.Background(), "U1", "example.com")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("error = %v, want ErrInsufficientFunds", err)
	}
	if src.calls != 0 {
		t.Error("scan ran without payment")
	}
}

func TestCheck_RefundsWhenProviderDown(t *testing.T) {
	db := newTestDB(t)
	src := &fakeSource{err: domain.ErrCollaboratorUnavailable}
	c := NewChecker(db, NewScanner(src, db, testLogger()), 5, testLogger())
	db.Credit("U1", 10, "topup:test:U1-1")

	res, err := c.Check(context.Background(), "U1", "example.com")
	if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
		t.Fatalf("error = %v", err)
	}
	if res.Charged != 0 || res.Balance != 10 {
		t.Errorf("result = %+v, want refunded", res)
	}
	if mismatches, _ := db.VerifyLedger(); len(mismatches) != 0 {
		t.Errorf("ledger mismatches: %+v", mismatches)
	}
}

func TestCheck_InvalidDomain(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, NewScanner(&fakeSource{}, db, testLogger()), 0, testLogger())
	if _, err := c.Check(context.Background(), "U1", "not a domain"); !errors.Is(err, domain.ErrInvalidDomain) {
		t.Errorf("error = %v, want ErrInvalidDomain", err)
	}
}
