// Package geoip resolves client IPs to country codes for incident
// context enrichment. The MaxMind database is optional: with no path
// and no download URL configured the service stays disabled and every
// lookup misses.
package geoip

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"
	"github.com/robfig/cron/v3"

	"github.com/nexus-vanguard/vanguard/internal/netutil"
)

// Reader is the country-lookup surface of an mmdb database.
type Reader interface {
	Country(addr netip.Addr) string
	Close() error
}

// OpenFunc opens a database file. Production wiring uses MaxMindOpen;
// tests inject fakes.
type OpenFunc func(path string) (Reader, error)

// MaxMindOpen opens an mmdb file with the maxminddb reader.
func MaxMindOpen(path string) (Reader, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &mmdbReader{db: db}, nil
}

type mmdbReader struct {
	db *maxminddb.Reader
}

func (r *mmdbReader) Country(addr netip.Addr) string {
	var rec struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := r.db.Lookup(net.IP(addr.AsSlice()), &rec); err != nil {
		return ""
	}
	return rec.Country.ISOCode
}

func (r *mmdbReader) Close() error { return r.db.Close() }

// ServiceConfig configures the GeoIP service. DBPath points at an
// operator-managed file and disables downloads; DownloadURL enables the
// managed lifecycle (cached copy, checksum-verified refresh on a cron
// schedule). Both empty means the service is disabled.
type ServiceConfig struct {
	DBPath         string
	CacheDir       string
	DBFilename     string // default "country.mmdb"
	DownloadURL    string
	UpdateSchedule string // cron expression, default "0 7 * * *"
	OpenDB         OpenFunc
	Downloader     netutil.Downloader
}

// Service provides country lookups with a hot-swappable reader.
type Service struct {
	mu     sync.RWMutex
	reader Reader // nil until first load

	dbPath      string
	cacheDir    string
	dbFilename  string
	downloadURL string
	openDB      OpenFunc
	downloader  netutil.Downloader

	cron        *cron.Cron
	cronEntryID cron.EntryID
	updateMu    sync.Mutex // serializes UpdateNow
	lifeCtx     context.Context
	lifeCancel  context.CancelFunc
}

// NewService creates the service. Call Start to load and schedule.
func NewService(cfg ServiceConfig) *Service {
	if cfg.DBFilename == "" {
		cfg.DBFilename = "country.mmdb"
	}
	if cfg.UpdateSchedule == "" {
		cfg.UpdateSchedule = "0 7 * * *"
	}
	if cfg.OpenDB == nil {
		cfg.OpenDB = MaxMindOpen
	}
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	s := &Service{
		dbPath:      cfg.DBPath,
		cacheDir:    cfg.CacheDir,
		dbFilename:  cfg.DBFilename,
		downloadURL: cfg.DownloadURL,
		openDB:      cfg.OpenDB,
		downloader:  cfg.Downloader,
		cron:        cron.New(),
		lifeCtx:     lifeCtx,
		lifeCancel:  lifeCancel,
	}

	if s.managed() {
		entryID, err := s.cron.AddFunc(cfg.UpdateSchedule, func() {
			if err := s.UpdateNow(); err != nil {
				log.Printf("[geoip] scheduled update failed: %v", err)
			}
		})
		if err != nil {
			log.Printf("[geoip] invalid cron expression %q: %v", cfg.UpdateSchedule, err)
		} else {
			s.cronEntryID = entryID
		}
	}
	return s
}

// Enabled reports whether the service has any database source at all.
func (s *Service) Enabled() bool {
	return s.dbPath != "" || s.managed()
}

// managed reports whether the service owns the database lifecycle.
func (s *Service) managed() bool { return s.downloadURL != "" }

// Start loads the database and, for the managed lifecycle, starts the
// refresh schedule. A missing or unreadable database is not fatal:
// lookups miss until a refresh lands.
func (s *Service) Start() error {
	if !s.Enabled() {
		log.Println("[geoip] disabled (no database path or download url)")
		return nil
	}

	if s.dbPath != "" {
		if err := s.reloadReader(s.dbPath); err != nil {
			log.Printf("[geoip] load %s: %v", s.dbPath, err)
		}
		return nil
	}

	dbPath := s.cachedPath()
	info, err := os.Stat(dbPath)
	switch {
	case err == nil:
		if err := s.reloadReader(dbPath); err != nil {
			log.Printf("[geoip] load cached db: %v", err)
		}
		if s.isStale(info.ModTime()) {
			log.Println("[geoip] cached database is stale, refreshing in background")
			go func() {
				if err := s.UpdateNow(); err != nil {
					log.Printf("[geoip] startup refresh failed: %v", err)
				}
			}()
		}
	case os.IsNotExist(err):
		log.Println("[geoip] no cached database, downloading in background")
		go func() {
			if err := s.UpdateNow(); err != nil {
				log.Printf("[geoip] initial download failed: %v", err)
			}
		}()
	default:
		return fmt.Errorf("geoip: stat db %s: %w", dbPath, err)
	}
	s.cron.Start()
	return nil
}

// isStale reports whether the cached file is older than twice the gap
// between consecutive cron firings, falling back to 32 days when the
// schedule is unavailable.
func (s *Service) isStale(modTime time.Time) bool {
	entry := s.cron.Entry(s.cronEntryID)
	if entry.ID == 0 || entry.Schedule == nil {
		return time.Since(modTime) > 32*24*time.Hour
	}
	now := time.Now()
	next := entry.Schedule.Next(now)
	interval := entry.Schedule.Next(next).Sub(next)
	if interval <= 0 {
		interval = 32 * 24 * time.Hour
	}
	return time.Since(modTime) > 2*interval
}

// Stop halts the schedule, waits out any in-flight update, and closes
// the reader. Cancelling lifeCtx first makes the in-flight update fail
// fast rather than install a reader into a stopped service.
func (s *Service) Stop() {
	if s.lifeCancel != nil {
		s.lifeCancel()
	}
	if s.cron != nil {
		s.cron.Stop()
	}
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	s.mu.Lock()
	r := s.reader
	s.reader = nil
	s.mu.Unlock()
	if r != nil {
		r.Close()
	}
}

// Lookup returns the ISO country code for addr, or "" on any miss.
func (s *Service) Lookup(addr netip.Addr) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.reader == nil {
		return ""
	}
	return s.reader.Country(addr)
}

// CountryCode adapts Lookup to the incident-capture geo hook: it takes
// the textual remote IP and reports ok only on a real hit.
func (s *Service) CountryCode(ip string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "", false
	}
	cc := s.Lookup(addr)
	return cc, cc != ""
}

// UpdateNow downloads the database, verifies the sidecar checksum,
// atomically replaces the cached file, and hot-swaps the reader.
func (s *Service) UpdateNow() error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	if !s.managed() {
		return fmt.Errorf("geoip: no download url configured")
	}
	if s.downloader == nil {
		return fmt.Errorf("geoip: no downloader configured")
	}

	ctx := context.Background()
	if s.lifeCtx != nil {
		ctx = s.lifeCtx
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dbData, err := s.downloader.Download(ctx, s.downloadURL)
	if err != nil {
		return fmt.Errorf("geoip: download db: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.cacheDir, s.dbFilename+".tmp.*")
	if err != nil {
		return fmt.Errorf("geoip: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()
	if _, err := tmpFile.Write(dbData); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("geoip: write temp: %w", err)
	}
	tmpFile.Close()
	defer os.Remove(tmpPath) // no-op once renamed

	// Checksum verification is mandatory; an unverifiable download never
	// replaces the current database.
	sumBody, err := s.downloader.Download(ctx, s.downloadURL+".sha256")
	if err != nil {
		return fmt.Errorf("geoip: download checksum: %w", err)
	}
	expected := parseSHA256Sum(string(sumBody))
	if expected == "" {
		return fmt.Errorf("geoip: could not parse checksum from %q", string(sumBody))
	}
	if err := VerifySHA256(tmpPath, expected); err != nil {
		return err
	}

	dbPath := s.cachedPath()
	if err := os.Rename(tmpPath, dbPath); err != nil {
		return fmt.Errorf("geoip: atomic replace: %w", err)
	}
	return s.reloadReader(dbPath)
}

// reloadReader swaps in a reader for path. RLock holders drain before
// the old reader closes.
func (s *Service) reloadReader(path string) error {
	newReader, err := s.openDB(path)
	if err != nil {
		return fmt.Errorf("geoip: open %s: %w", path, err)
	}
	s.mu.Lock()
	old := s.reader
	s.reader = newReader
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// LastUpdated returns the active database file's modification time.
func (s *Service) LastUpdated() time.Time {
	path := s.dbPath
	if path == "" {
		path = s.cachedPath()
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (s *Service) cachedPath() string {
	return filepath.Join(s.cacheDir, s.dbFilename)
}

// VerifySHA256 checks the file at path against the expected hex digest.
func VerifySHA256(path, expectedHex string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	got := sha256.Sum256(data)
	gotHex := hex.EncodeToString(got[:])
	if gotHex != strings.ToLower(expectedHex) {
		return fmt.Errorf("geoip: sha256 mismatch: got %s, want %s", gotHex, expectedHex)
	}
	return nil
}

// parseSHA256Sum extracts the digest from "<hash>  <filename>" or a bare
// hash line.
func parseSHA256Sum(s string) string {
	parts := strings.Fields(strings.TrimSpace(s))
	if len(parts) >= 1 && len(parts[0]) == 64 {
		return strings.ToLower(parts[0])
	}
	return ""
}
