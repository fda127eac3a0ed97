package geoip

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockReader is a test Reader that returns a fixed country.
type mockReader struct {
	country string
	closed  bool
	mu      sync.Mutex
}

func (m *mockReader) Country(_ netip.Addr) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.country
}

func (m *mockReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockReader) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func fixedOpen(country string) OpenFunc {
	return func(string) (Reader, error) {
		return &mockReader{country: country}, nil
	}
}

// --- lookups ---

func TestGeoIP_Lookup_NilReader(t *testing.T) {
	s := &Service{}
	if got := s.Lookup(netip.MustParseAddr("1.2.3.4")); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestGeoIP_CountryCode(t *testing.T) {
	s := &Service{reader: &mockReader{country: "AU"}}

	cc, ok := s.CountryCode("203.0.113.9")
	if !ok || cc != "AU" {
		t.Fatalf("CountryCode = %q, %v", cc, ok)
	}
	if _, ok := s.CountryCode("not-an-ip"); ok {
		t.Fatal("invalid address should miss")
	}
	empty := &Service{reader: &mockReader{}}
	if _, ok := empty.CountryCode("203.0.113.9"); ok {
		t.Fatal("empty lookup should miss")
	}
}

func TestNewService_Defaults(t *testing.T) {
	s := NewService(ServiceConfig{
		CacheDir:    t.TempDir(),
		DownloadURL: "https://example.com/country.mmdb",
		OpenDB:      fixedOpen(""),
	})
	defer s.Stop()

	if s.dbFilename != "country.mmdb" {
		t.Fatalf("dbFilename = %q, want %q", s.dbFilename, "country.mmdb")
	}

	entry := s.cron.Entry(s.cronEntryID)
	if entry.ID == 0 || entry.Schedule == nil {
		t.Fatal("default cron entry is not configured")
	}
	base := time.Date(2026, 1, 2, 6, 30, 0, 0, time.Local)
	next := entry.Schedule.Next(base)
	want := time.Date(2026, 1, 2, 7, 0, 0, 0, time.Local)
	if !next.Equal(want) {
		t.Fatalf("next schedule = %v, want %v", next, want)
	}
}

func TestNewService_Disabled(t *testing.T) {
	s := NewService(ServiceConfig{CacheDir: t.TempDir()})
	defer s.Stop()

	if s.Enabled() {
		t.Fatal("no path and no url should leave the service disabled")
	}
	if err := s.Start(); err != nil {
		t.Fatalf("disabled Start: %v", err)
	}
	if _, ok := s.CountryCode("1.2.3.4"); ok {
		t.Fatal("disabled service should never hit")
	}
}

// --- reloads ---

func TestGeoIP_ReloadReader(t *testing.T) {
	old := &mockReader{country: "US"}
	s := &Service{reader: old, openDB: fixedOpen("JP")}

	if err := s.reloadReader("/fake/path"); err != nil {
		t.Fatal(err)
	}
	if got := s.Lookup(netip.MustParseAddr("1.2.3.4")); got != "JP" {
		t.Fatalf("expected JP, got %q", got)
	}
	if !old.isClosed() {
		t.Fatal("old reader should be closed")
	}
}

func TestGeoIP_Stop_ClosesReader(t *testing.T) {
	r := &mockReader{country: "CN"}
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	s := &Service{
		reader:     r,
		cron:       nil, // no cron for this test
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}
	s.Stop()

	if !r.isClosed() {
		t.Fatal("reader should be closed after stop")
	}
	if got := s.Lookup(netip.MustParseAddr("1.2.3.4")); got != "" {
		t.Fatalf("expected empty after stop, got %q", got)
	}
}

func TestGeoIP_ConcurrentLookupDuringReload(t *testing.T) {
	s := &Service{reader: &mockReader{country: "US"}, openDB: fixedOpen("JP")}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := s.Lookup(netip.MustParseAddr("1.2.3.4"))
			if got != "US" && got != "JP" {
				t.Errorf("unexpected country: %q", got)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.reloadReader("/fake")
	}()
	wg.Wait()
}

// --- startup ---

func TestGeoIPStart_ExplicitPathSkipsLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "operator.mmdb")
	if err := os.WriteFile(path, []byte("db"), 0o644); err != nil {
		t.Fatal(err)
	}

	var opened string
	s := NewService(ServiceConfig{
		DBPath: path,
		OpenDB: func(p string) (Reader, error) {
			opened = p
			return &mockReader{country: "DE"}, nil
		},
	})
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if opened != path {
		t.Fatalf("opened %q, want %q", opened, path)
	}
	if cc, ok := s.CountryCode("1.2.3.4"); !ok || cc != "DE" {
		t.Fatalf("lookup after start: %q %v", cc, ok)
	}
	if s.managed() {
		t.Fatal("explicit path must not enter the managed lifecycle")
	}
}

func TestGeoIPStart_StatUnexpectedError(t *testing.T) {
	s := NewService(ServiceConfig{
		CacheDir:    t.TempDir(),
		DBFilename:  "bad\x00name",
		DownloadURL: "https://example.com/country.mmdb",
		OpenDB:      fixedOpen(""),
	})
	defer s.Stop()

	err := s.Start()
	if err == nil {
		t.Fatal("expected Start to fail on unexpected stat error")
	}
	if !strings.Contains(err.Error(), "stat db") {
		t.Fatalf("expected stat error context, got: %v", err)
	}
}

type notifyDownloader struct {
	called chan struct{}
}

func (d *notifyDownloader) Download(_ context.Context, _ string) ([]byte, error) {
	select {
	case d.called <- struct{}{}:
	default:
	}
	return nil, fmt.Errorf("mock download failure")
}

func TestGeoIPStart_MissingDBTriggersBackgroundUpdate(t *testing.T) {
	dl := &notifyDownloader{called: make(chan struct{}, 1)}
	s := NewService(ServiceConfig{
		CacheDir:    t.TempDir(),
		DownloadURL: "https://example.com/country.mmdb",
		OpenDB:      fixedOpen(""),
		Downloader:  dl,
	})
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case <-dl.called:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected background update attempt when db is missing")
	}
}

// --- updates ---

// mockDownloader records downloads and serves canned responses.
type mockDownloader struct {
	mu        sync.Mutex
	responses map[string][]byte
	calls     []string
}

func (d *mockDownloader) Download(_ context.Context, url string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, url)
	body, ok := d.responses[url]
	if !ok {
		return nil, fmt.Errorf("mock: not found: %s", url)
	}
	return body, nil
}

const testDBURL = "https://example.com/country.mmdb"

func sumLine(data []byte) []byte {
	h := sha256.Sum256(data)
	return []byte(hex.EncodeToString(h[:]) + "  country.mmdb\n")
}

func TestUpdateNow_DownloadVerifyReload(t *testing.T) {
	dir := t.TempDir()
	dbContent := []byte("fake-geoip-database-content")
	dl := &mockDownloader{
		responses: map[string][]byte{
			testDBURL:             dbContent,
			testDBURL + ".sha256": sumLine(dbContent),
		},
	}

	var reloaded bool
	s := &Service{
		cacheDir:    dir,
		dbFilename:  "country.mmdb",
		downloadURL: testDBURL,
		downloader:  dl,
		openDB: func(path string) (Reader, error) {
			reloaded = true
			return &mockReader{country: "US"}, nil
		},
	}

	if err := s.UpdateNow(); err != nil {
		t.Fatalf("UpdateNow: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "country.mmdb"))
	if err != nil {
		t.Fatalf("read db: %v", err)
	}
	if string(data) != string(dbContent) {
		t.Fatal("database content mismatch")
	}
	if !reloaded {
		t.Fatal("reader was not reloaded after download")
	}
	if got := s.Lookup(netip.MustParseAddr("1.2.3.4")); got != "US" {
		t.Fatalf("expected US, got %q", got)
	}
}

func TestUpdateNow_SHA256Mismatch_NoReplace(t *testing.T) {
	dir := t.TempDir()
	origContent := []byte("original-db")
	dbPath := filepath.Join(dir, "country.mmdb")
	if err := os.WriteFile(dbPath, origContent, 0o644); err != nil {
		t.Fatal(err)
	}

	dl := &mockDownloader{
		responses: map[string][]byte{
			testDBURL:             []byte("new-db-content"),
			testDBURL + ".sha256": []byte(strings.Repeat("0", 64) + "  country.mmdb"),
		},
	}
	s := &Service{
		cacheDir:    dir,
		dbFilename:  "country.mmdb",
		downloadURL: testDBURL,
		downloader:  dl,
		openDB: func(path string) (Reader, error) {
			t.Fatal("OpenDB should not be called on checksum mismatch")
			return nil, nil
		},
	}

	if err := s.UpdateNow(); err == nil {
		t.Fatal("expected error on checksum mismatch")
	}
	data, err := os.ReadFile(dbPath)
	if err != nil {
		t.Fatalf("read db: %v", err)
	}
	if string(data) != string(origContent) {
		t.Fatal("original database was replaced despite checksum mismatch")
	}
}

func TestUpdateNow_MissingChecksum_NoReplace(t *testing.T) {
	dir := t.TempDir()
	origContent := []byte("original-db")
	dbPath := filepath.Join(dir, "country.mmdb")
	if err := os.WriteFile(dbPath, origContent, 0o644); err != nil {
		t.Fatal(err)
	}

	// Only the database itself is served; the sidecar 404s.
	dl := &mockDownloader{
		responses: map[string][]byte{testDBURL: []byte("new-db-content")},
	}
	s := &Service{
		cacheDir:    dir,
		dbFilename:  "country.mmdb",
		downloadURL: testDBURL,
		downloader:  dl,
		openDB: func(path string) (Reader, error) {
			t.Fatal("OpenDB should not be called without a checksum")
			return nil, nil
		},
	}

	err := s.UpdateNow()
	if err == nil {
		t.Fatal("expected error when checksum is unavailable")
	}
	if !strings.Contains(err.Error(), "checksum") {
		t.Fatalf("expected checksum error, got: %v", err)
	}
	data, rErr := os.ReadFile(dbPath)
	if rErr != nil {
		t.Fatalf("read db: %v", rErr)
	}
	if string(data) != string(origContent) {
		t.Fatal("original database was replaced despite missing checksum")
	}
}

func TestUpdateNow_NoDownloader(t *testing.T) {
	s := &Service{
		cacheDir:    t.TempDir(),
		dbFilename:  "country.mmdb",
		downloadURL: testDBURL,
	}
	if err := s.UpdateNow(); err == nil {
		t.Fatal("expected error when no downloader configured")
	}
}

func TestUpdateNow_Unmanaged(t *testing.T) {
	s := &Service{cacheDir: t.TempDir(), dbFilename: "country.mmdb"}
	if err := s.UpdateNow(); err == nil {
		t.Fatal("expected error without a download url")
	}
}

type blockingDownloader struct {
	started chan struct{}
	release chan struct{}
}

func (d *blockingDownloader) Download(_ context.Context, _ string) ([]byte, error) {
	select {
	case d.started <- struct{}{}:
	default:
	}
	<-d.release
	return nil, fmt.Errorf("blocked download failure")
}

func TestGeoIPStop_WaitsInFlightUpdateAndClearsReader(t *testing.T) {
	old := &mockReader{country: "US"}
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	downloader := &blockingDownloader{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := &Service{
		reader:      old,
		cron:        nil,
		downloadURL: testDBURL,
		downloader:  downloader,
		lifeCtx:     lifeCtx,
		lifeCancel:  lifeCancel,
	}

	updateDone := make(chan error, 1)
	go func() {
		updateDone <- s.UpdateNow()
	}()

	select {
	case <-downloader.started:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("UpdateNow did not start download in time")
	}

	stopDone := make(chan struct{})
	go func() {
		s.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		t.Fatal("Stop returned before in-flight UpdateNow completed")
	case <-time.After(100 * time.Millisecond):
		// Stop is waiting on the update mutex.
	}

	close(downloader.release)
	if err := <-updateDone; err == nil {
		t.Fatal("expected UpdateNow to fail from blocked downloader")
	}

	select {
	case <-stopDone:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Stop did not return after in-flight UpdateNow finished")
	}

	if got := s.Lookup(netip.MustParseAddr("1.2.3.4")); got != "" {
		t.Fatalf("expected empty lookup after Stop, got %q", got)
	}
	if !old.isClosed() {
		t.Fatal("reader should be closed after Stop")
	}
}

func TestUpdateNow_AfterStopReturnsCanceled(t *testing.T) {
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	downloader := &notifyDownloader{called: make(chan struct{}, 1)}
	s := &Service{
		cacheDir:    t.TempDir(),
		dbFilename:  "country.mmdb",
		cron:        nil,
		downloadURL: testDBURL,
		downloader:  downloader,
		openDB:      fixedOpen(""),
		lifeCtx:     lifeCtx,
		lifeCancel:  lifeCancel,
	}

	s.Stop()

	err := s.UpdateNow()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	select {
	case <-downloader.called:
		t.Fatal("downloader should not be called after Stop")
	default:
	}
}

// --- checksum helpers ---

func TestVerifySHA256(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.dat")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	// SHA256("hello world")
	good := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if err := VerifySHA256(path, good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := VerifySHA256(path, strings.ToUpper(good)); err != nil {
		t.Fatalf("case-insensitive digest: %v", err)
	}
	if err := VerifySHA256(path, strings.Repeat("0", 64)); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestParseSHA256Sum(t *testing.T) {
	digest := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	tests := []struct {
		input string
		want  string
	}{
		{digest + "  country.mmdb\n", digest},
		{digest, digest},
		{strings.ToUpper(digest), digest},
		{"abc  country.mmdb", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := parseSHA256Sum(tt.input); got != tt.want {
			t.Errorf("parseSHA256Sum(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
