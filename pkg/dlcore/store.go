package dlcore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the single embedded relational store backing the daemon. It
// wraps database/sql over modernc.org/sqlite (pure Go, no cgo), the same
// driver used elsewhere in the retrieval pack for durable row storage.
type Store struct {
	db  *sql.DB
	log *log.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	final_url TEXT,
	filename TEXT,
	destination TEXT,
	size INTEGER,
	size_known INTEGER NOT NULL DEFAULT 0,
	downloaded INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	queue_id TEXT,
	category_id TEXT,
	priority INTEGER NOT NULL DEFAULT 0,
	segment_count INTEGER NOT NULL DEFAULT 0,
	speed_limit INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	referrer TEXT,
	cookies_json TEXT,
	headers_json TEXT,
	created_at TEXT NOT NULL,
	completed_at TEXT,
	etag TEXT,
	last_modified TEXT
);
CREATE TABLE IF NOT EXISTS segments (
	download_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	start INTEGER NOT NULL,
	end INTEGER,
	end_known INTEGER NOT NULL DEFAULT 0,
	downloaded INTEGER NOT NULL DEFAULT 0,
	complete INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (download_id, idx)
);
CREATE TABLE IF NOT EXISTS queues (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	color TEXT,
	icon TEXT,
	max_concurrent INTEGER NOT NULL DEFAULT 1,
	speed_limit INTEGER NOT NULL DEFAULT 0,
	schedule_json TEXT,
	post_action_json TEXT,
	created_at TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0,
	paused INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS categories (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	color TEXT,
	icon TEXT,
	extensions_csv TEXT,
	custom_path TEXT
);
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT
);
`

// Open opens (creating if necessary) the SQLite database at path, enables
// WAL mode for crash-safe concurrent-friendly writes, and applies the
// schema.
func Open(path string, logger *log.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoid SQLITE_BUSY churn
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, log: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveDownload upserts a download's row, including its segments, in one
// transaction, so a crash mid-write can never leave a download row
// pointing at a partial set of segments.
func (s *Store) SaveDownload(d *Download) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cookiesJSON, _ := json.Marshal(d.Cookies)
	headersJSON, _ := json.Marshal(d.Headers)
	var completedAt any
	if !d.CompletedAt.IsZero() {
		completedAt = d.CompletedAt.Format(time.RFC3339)
	}

	_, err = tx.Exec(`INSERT INTO downloads
		(id,url,final_url,filename,destination,size,size_known,downloaded,status,queue_id,category_id,priority,segment_count,speed_limit,error,referrer,cookies_json,headers_json,created_at,completed_at,etag,last_modified)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
		url=excluded.url, final_url=excluded.final_url, filename=excluded.filename,
		destination=excluded.destination, size=excluded.size, size_known=excluded.size_known,
		downloaded=excluded.downloaded, status=excluded.status, queue_id=excluded.queue_id,
		category_id=excluded.category_id, priority=excluded.priority, segment_count=excluded.segment_count,
		speed_limit=excluded.speed_limit, error=excluded.error,
		referrer=excluded.referrer, cookies_json=excluded.cookies_json, headers_json=excluded.headers_json,
		completed_at=excluded.completed_at, etag=excluded.etag, last_modified=excluded.last_modified`,
		d.ID, d.URL, d.FinalURL, d.Filename, d.Destination, d.Size.Bytes, boolInt(d.Size.Known),
		d.Downloaded, string(d.Status), d.QueueID, d.CategoryID, int(d.Priority), d.SegmentCount, d.SpeedLimit, d.Error, d.Referrer,
		string(cookiesJSON), string(headersJSON), d.CreatedAt.Format(time.RFC3339), completedAt, d.ETag, d.LastModified)
	if err != nil {
		return err
	}

	for _, seg := range d.Segments {
		if err := saveSegmentTx(tx, d.ID, seg); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveSegment persists one segment's checkpoint outside a download-wide
// transaction -- the single-row update path called for on every
// progress checkpoint.
func (s *Store) SaveSegment(downloadID string, seg Segment) error {
	_, err := s.db.Exec(`INSERT INTO segments (download_id,idx,start,end,end_known,downloaded,complete)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(download_id,idx) DO UPDATE SET
		start=excluded.start, end=excluded.end, end_known=excluded.end_known,
		downloaded=excluded.downloaded, complete=excluded.complete`,
		downloadID, seg.Index, seg.Start, seg.End.Bytes, boolInt(seg.End.Known), seg.Downloaded, boolInt(seg.Complete))
	return err
}

func saveSegmentTx(tx *sql.Tx, downloadID string, seg Segment) error {
	_, err := tx.Exec(`INSERT INTO segments (download_id,idx,start,end,end_known,downloaded,complete)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(download_id,idx) DO UPDATE SET
		start=excluded.start, end=excluded.end, end_known=excluded.end_known,
		downloaded=excluded.downloaded, complete=excluded.complete`,
		downloadID, seg.Index, seg.Start, seg.End.Bytes, boolInt(seg.End.Known), seg.Downloaded, boolInt(seg.Complete))
	return err
}

// LoadDownloads returns every persisted download with its segments
// attached, ordered by created_at (the FIFO order the scheduler needs).
func (s *Store) LoadDownloads() ([]*Download, error) {
	rows, err := s.db.Query(`SELECT id,url,final_url,filename,destination,size,size_known,downloaded,status,
		queue_id,category_id,priority,segment_count,speed_limit,error,referrer,cookies_json,headers_json,created_at,completed_at,etag,last_modified
		FROM downloads ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Download
	for rows.Next() {
		d := &Download{}
		var sizeKnown, sizeBytes, priority int
		var createdAt string
		var completedAt, cookiesJSON, headersJSON sql.NullString
		if err := rows.Scan(&d.ID, &d.URL, &d.FinalURL, &d.Filename, &d.Destination, &sizeBytes, &sizeKnown,
			&d.Downloaded, &d.Status, &d.QueueID, &d.CategoryID, &priority, &d.SegmentCount, &d.SpeedLimit, &d.Error, &d.Referrer,
			&cookiesJSON, &headersJSON, &createdAt, &completedAt, &d.ETag, &d.LastModified); err != nil {
			return nil, err
		}
		d.Priority = Priority(priority)
		d.Size = Size{Known: sizeKnown != 0, Bytes: int64(sizeBytes)}
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if completedAt.Valid && completedAt.String != "" {
			d.CompletedAt, _ = time.Parse(time.RFC3339, completedAt.String)
		}
		if cookiesJSON.Valid {
			json.Unmarshal([]byte(cookiesJSON.String), &d.Cookies)
		}
		if headersJSON.Valid {
			json.Unmarshal([]byte(headersJSON.String), &d.Headers)
		}
		out = append(out, d)
	}

	for _, d := range out {
		segs, err := s.loadSegments(d.ID)
		if err != nil {
			return nil, err
		}
		d.Segments = segs
	}
	return out, nil
}

func (s *Store) loadSegments(downloadID string) ([]Segment, error) {
	rows, err := s.db.Query(`SELECT idx,start,end,end_known,downloaded,complete FROM segments
		WHERE download_id = ? ORDER BY idx ASC`, downloadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var seg Segment
		var endBytes, endKnown, complete int
		if err := rows.Scan(&seg.Index, &seg.Start, &endBytes, &endKnown, &seg.Downloaded, &complete); err != nil {
			return nil, err
		}
		seg.End = Size{Known: endKnown != 0, Bytes: int64(endBytes)}
		seg.Complete = complete != 0
		out = append(out, seg)
	}
	return out, nil
}

func (s *Store) DeleteDownload(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM segments WHERE download_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM downloads WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Recover implements the startup recovery scan: downloading->paused,
// clamp over-reporting segments, leave completed downloads' bytes alone.
func (s *Store) Recover() ([]*Download, error) {
	downloads, err := s.LoadDownloads()
	if err != nil {
		return nil, err
	}
	for _, d := range downloads {
		if d.Status == StatusDownloading {
			d.Status = StatusPaused
			if err := s.SaveDownload(d); err != nil {
				return nil, err
			}
			if s.log != nil {
				s.log.Printf("recovery: %s was downloading, marked paused", d.ID)
			}
		}
		changed := false
		for i := range d.Segments {
			seg := &d.Segments[i]
			if seg.End.Known {
				span := seg.End.Bytes - seg.Start + 1
				if seg.Downloaded > span {
					seg.Downloaded = span
					changed = true
					if s.log != nil {
						s.log.Printf("recovery: %s segment %d downloaded clamped to %d", d.ID, seg.Index, span)
					}
				}
			}
		}
		if changed {
			d.RecomputeDownloaded()
			if err := s.SaveDownload(d); err != nil {
				return nil, err
			}
		}
	}
	return downloads, nil
}

// --- queues ---

func (s *Store) SaveQueue(q *Queue) error {
	scheduleJSON, _ := json.Marshal(q.Schedule)
	postJSON, _ := json.Marshal(q.PostAction)
	_, err := s.db.Exec(`INSERT INTO queues (id,name,color,icon,max_concurrent,speed_limit,schedule_json,post_action_json,created_at,is_default,paused)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
		name=excluded.name, color=excluded.color, icon=excluded.icon, max_concurrent=excluded.max_concurrent,
		speed_limit=excluded.speed_limit, schedule_json=excluded.schedule_json, post_action_json=excluded.post_action_json,
		is_default=excluded.is_default, paused=excluded.paused`,
		q.ID, q.Name, q.Color, q.Icon, q.MaxConcurrent, q.SpeedLimit, string(scheduleJSON), string(postJSON),
		q.CreatedAt.Format(time.RFC3339), boolInt(q.Default), boolInt(q.Paused))
	return err
}

func (s *Store) DeleteQueue(id string) error {
	_, err := s.db.Exec(`DELETE FROM queues WHERE id = ? AND is_default = 0`, id)
	return err
}

func (s *Store) LoadQueues() ([]*Queue, error) {
	rows, err := s.db.Query(`SELECT id,name,color,icon,max_concurrent,speed_limit,schedule_json,post_action_json,created_at,is_default,paused FROM queues`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Queue
	for rows.Next() {
		q := &Queue{}
		var scheduleJSON, postJSON sql.NullString
		var createdAt string
		var isDefault, paused int
		if err := rows.Scan(&q.ID, &q.Name, &q.Color, &q.Icon, &q.MaxConcurrent, &q.SpeedLimit,
			&scheduleJSON, &postJSON, &createdAt, &isDefault, &paused); err != nil {
			return nil, err
		}
		q.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		q.Default = isDefault != 0
		q.Paused = paused != 0
		if scheduleJSON.Valid && scheduleJSON.String != "null" && scheduleJSON.String != "" {
			var sch Schedule
			if json.Unmarshal([]byte(scheduleJSON.String), &sch) == nil {
				q.Schedule = &sch
			}
		}
		if postJSON.Valid {
			json.Unmarshal([]byte(postJSON.String), &q.PostAction)
		}
		out = append(out, q)
	}
	return out, nil
}

// --- categories ---

func (s *Store) SaveCategory(c *Category) error {
	_, err := s.db.Exec(`INSERT INTO categories (id,name,color,icon,extensions_csv,custom_path)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, color=excluded.color, icon=excluded.icon,
		extensions_csv=excluded.extensions_csv, custom_path=excluded.custom_path`,
		c.ID, c.Name, c.Color, c.Icon, joinCSV(c.Extensions), c.CustomPath)
	return err
}

func (s *Store) DeleteCategory(id string) error {
	_, err := s.db.Exec(`DELETE FROM categories WHERE id = ?`, id)
	return err
}

func (s *Store) LoadCategories() ([]*Category, error) {
	rows, err := s.db.Query(`SELECT id,name,color,icon,extensions_csv,custom_path FROM categories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Category
	for rows.Next() {
		c := &Category{}
		var extCSV string
		if err := rows.Scan(&c.ID, &c.Name, &c.Color, &c.Icon, &extCSV, &c.CustomPath); err != nil {
			return nil, err
		}
		c.Extensions = splitCSV(extCSV)
		out = append(out, c)
	}
	return out, nil
}

// --- settings ---

// SaveSettings writes st as the single logical settings document, one
// key/value row per field, matching the settings(key PK, value) table.
func (s *Store) SaveSettings(st Settings) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	kv := settingsToKV(st)
	for k, v := range kv {
		if _, err := tx.Exec(`INSERT INTO settings (key,value) VALUES (?,?)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) LoadSettings() (Settings, error) {
	st := DefaultSettings()
	rows, err := s.db.Query(`SELECT key,value FROM settings`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	kv := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return st, err
		}
		kv[k] = v
	}
	applyKVToSettings(kv, &st)
	return st, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinCSV(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func settingsToKV(st Settings) map[string]string {
	return map[string]string{
		"default_download_path":    st.DefaultDownloadPath,
		"max_concurrent_downloads": strconv.Itoa(st.MaxConcurrentDownloads),
		"default_segments":         strconv.Itoa(st.DefaultSegments),
		"global_speed_limit":       strconv.FormatInt(st.GlobalSpeedLimit, 10),
		"max_retries":              strconv.Itoa(st.MaxRetries),
		"retry_delay_seconds":      strconv.Itoa(st.RetryDelaySeconds),
		"proxy_mode":               string(st.Proxy.Mode),
		"proxy_http":               st.Proxy.HTTPProxy,
		"proxy_https":              st.Proxy.HTTPSProxy,
		"proxy_no_proxy":           st.Proxy.NoProxy,
		"proxy_username":           st.Proxy.Username,
		"notify_on_complete":       strconv.FormatBool(st.NotifyOnComplete),
		"notify_on_error":          strconv.FormatBool(st.NotifyOnError),
		"auto_check_updates":       strconv.FormatBool(st.AutoCheckUpdates),
		"dev_mode":                 strconv.FormatBool(st.DevMode),
		"minimize_to_tray":         strconv.FormatBool(st.MinimizeToTray),
		"start_on_boot":            strconv.FormatBool(st.StartOnBoot),
		"browser_integration_port": strconv.Itoa(st.BrowserIntegrationPort),
		"remember_last_path":       strconv.FormatBool(st.RememberLastPath),
		"auto_resume_on_startup":   strconv.FormatBool(st.AutoResumeOnStartup),
	}
}

func applyKVToSettings(kv map[string]string, st *Settings) {
	if v, ok := kv["default_download_path"]; ok {
		st.DefaultDownloadPath = v
	}
	if v, ok := kv["max_concurrent_downloads"]; ok {
		st.MaxConcurrentDownloads, _ = strconv.Atoi(v)
	}
	if v, ok := kv["default_segments"]; ok {
		st.DefaultSegments, _ = strconv.Atoi(v)
	}
	if v, ok := kv["global_speed_limit"]; ok {
		st.GlobalSpeedLimit, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := kv["max_retries"]; ok {
		st.MaxRetries, _ = strconv.Atoi(v)
	}
	if v, ok := kv["retry_delay_seconds"]; ok {
		st.RetryDelaySeconds, _ = strconv.Atoi(v)
	}
	if v, ok := kv["proxy_mode"]; ok {
		st.Proxy.Mode = ProxyMode(v)
	}
	if v, ok := kv["proxy_http"]; ok {
		st.Proxy.HTTPProxy = v
	}
	if v, ok := kv["proxy_https"]; ok {
		st.Proxy.HTTPSProxy = v
	}
	if v, ok := kv["proxy_no_proxy"]; ok {
		st.Proxy.NoProxy = v
	}
	if v, ok := kv["proxy_username"]; ok {
		st.Proxy.Username = v
	}
	if v, ok := kv["notify_on_complete"]; ok {
		st.NotifyOnComplete, _ = strconv.ParseBool(v)
	}
	if v, ok := kv["notify_on_error"]; ok {
		st.NotifyOnError, _ = strconv.ParseBool(v)
	}
	if v, ok := kv["auto_check_updates"]; ok {
		st.AutoCheckUpdates, _ = strconv.ParseBool(v)
	}
	if v, ok := kv["dev_mode"]; ok {
		st.DevMode, _ = strconv.ParseBool(v)
	}
	if v, ok := kv["minimize_to_tray"]; ok {
		st.MinimizeToTray, _ = strconv.ParseBool(v)
	}
	if v, ok := kv["start_on_boot"]; ok {
		st.StartOnBoot, _ = strconv.ParseBool(v)
	}
	if v, ok := kv["browser_integration_port"]; ok {
		st.BrowserIntegrationPort, _ = strconv.Atoi(v)
	}
	if v, ok := kv["remember_last_path"]; ok {
		st.RememberLastPath, _ = strconv.ParseBool(v)
	}
	if v, ok := kv["auto_resume_on_startup"]; ok {
		st.AutoResumeOnStartup, _ = strconv.ParseBool(v)
	}
}
