package dlcore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager is the top-level owner of every download's lifecycle: the
// persistence store, the event bus, the rate-limiter hierarchy, and the
// in-memory set of running supervisors. It is the one process, one owner
// of state that CLI commands and the control server both drive.
type Manager struct {
	Store *Store
	Bus   *EventBus

	mu          sync.Mutex
	settings    Settings
	global      *Bucket
	queueLimits map[string]*Bucket
	queues      map[string]*Queue
	categories  map[string]*Category
	downloads   map[string]*Download
	supervisors map[string]*Supervisor
}

// NewManager constructs a Manager from a freshly opened store, loading
// settings, queues, categories and downloads into memory. It always
// guarantees a default queue exists.
func NewManager(store *Store, bus *EventBus) (*Manager, error) {
	st, err := store.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	queues, err := store.LoadQueues()
	if err != nil {
		return nil, fmt.Errorf("load queues: %w", err)
	}
	cats, err := store.LoadCategories()
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	downloads, err := store.LoadDownloads()
	if err != nil {
		return nil, fmt.Errorf("load downloads: %w", err)
	}

	m := &Manager{
		Store:       store,
		Bus:         bus,
		settings:    st,
		global:      NewBucket(st.GlobalSpeedLimit),
		queueLimits: make(map[string]*Bucket),
		queues:      make(map[string]*Queue),
		categories:  make(map[string]*Category),
		downloads:   make(map[string]*Download),
		supervisors: make(map[string]*Supervisor),
	}

	haveDefault := false
	for _, q := range queues {
		m.queues[q.ID] = q
		qb := NewBucket(q.SpeedLimit)
		qb.Parent = m.global
		m.queueLimits[q.ID] = qb
		if q.ID == DefaultQueueID {
			haveDefault = true
		}
	}
	if !haveDefault {
		def := &Queue{ID: DefaultQueueID, Name: "Default", MaxConcurrent: st.MaxConcurrentDownloads, CreatedAt: time.Now(), Default: true}
		m.queues[def.ID] = def
		qb := NewBucket(0)
		qb.Parent = m.global
		m.queueLimits[def.ID] = qb
		if err := store.SaveQueue(def); err != nil {
			return nil, err
		}
	}
	for _, c := range cats {
		m.categories[c.ID] = c
	}
	for _, d := range downloads {
		m.downloads[d.ID] = d
	}

	if pw, err := LoadProxyPassword(); err == nil {
		m.settings.Proxy.Password = pw
	}

	return m, nil
}

// Settings returns a copy of the current settings document.
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// UpdateSettings persists st and re-tunes the global rate bucket; queue
// and download buckets keep their own rates. The proxy password, if
// present, is routed to the OS keyring instead of the settings row.
func (m *Manager) UpdateSettings(st Settings) error {
	if err := SaveProxyPassword(st.Proxy.Password); err != nil {
		return fmt.Errorf("save proxy password: %w", err)
	}

	m.mu.Lock()
	m.settings = st
	m.global.SetRate(st.GlobalSpeedLimit)
	m.mu.Unlock()
	if err := m.Store.SaveSettings(st); err != nil {
		return err
	}
	m.Bus.Publish(Event{Kind: EventSettingsUpdated})
	return nil
}

// AddDownload registers a new download in the pending state and persists
// it. It does not start the transfer; the scheduler (or an explicit
// Resume) does that once a queue slot is free.
func (m *Manager) AddDownload(url, destination string, opts Download) (*Download, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if destination == "" {
		destination = m.settings.DefaultDownloadPath
	}
	if opts.QueueID == "" {
		opts.QueueID = DefaultQueueID
	}
	if _, ok := m.queues[opts.QueueID]; !ok {
		return nil, ErrQueueNotFound
	}

	d := &Download{
		ID:           uuid.NewString(),
		URL:          url,
		Filename:     opts.Filename,
		Destination:  destination,
		Status:       StatusPending,
		QueueID:      opts.QueueID,
		CategoryID:   opts.CategoryID,
		Priority:     opts.Priority,
		SegmentCount: opts.SegmentCount,
		SpeedLimit:   opts.SpeedLimit,
		CreatedAt:    time.Now(),
		Referrer:     opts.Referrer,
		Cookies:      opts.Cookies,
		Headers:      opts.Headers,
	}
	if err := m.Store.SaveDownload(d); err != nil {
		return nil, err
	}
	m.downloads[d.ID] = d
	m.Bus.Publish(Event{Kind: EventDownloadAdded, Download: d})
	return d, nil
}

// Get returns the in-memory download record for id.
func (m *Manager) Get(id string) (*Download, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.downloads[id]
	if !ok {
		return nil, ErrDownloadNotFound
	}
	return d, nil
}

// List returns every known download.
func (m *Manager) List() []*Download {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Download, 0, len(m.downloads))
	for _, d := range m.downloads {
		out = append(out, d)
	}
	return out
}

// Start begins or resumes transferring id, chaining its rate bucket under
// its queue's bucket under the global bucket.
func (m *Manager) Start(ctx context.Context, id string) error {
	m.mu.Lock()
	d, ok := m.downloads[id]
	if !ok {
		m.mu.Unlock()
		return ErrDownloadNotFound
	}
	if prev := m.supervisors[id]; prev != nil {
		prev.mu.Lock()
		running := prev.running
		prev.mu.Unlock()
		if running {
			m.mu.Unlock()
			return nil
		}
	}
	if d.Status == StatusPaused {
		d.Status = StatusQueued // a resume puts a paused download back in line
	}
	if !CanTransition(d.Status, StatusDownloading) {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	queueBucket := m.queueLimits[d.QueueID]
	downloadBucket := Chain(m.global, queueBucket, NewBucket(d.SpeedLimit))
	segments := d.SegmentCount
	if segments <= 0 {
		segments = m.settings.DefaultSegments
	}
	sup := &Supervisor{
		Download: d,
		Store:    m.Store,
		Bus:      m.Bus,
		Retry:    retryPolicyFromSettings(m.settings),
		Segments: segments,
	}
	m.supervisors[id] = sup
	ps := m.settings.Proxy
	m.mu.Unlock()

	sup.Start(ctx, ps, downloadBucket)
	return nil
}

func retryPolicyFromSettings(st Settings) RetryPolicy {
	p := DefaultRetryPolicy()
	if st.MaxRetries > 0 {
		p.MaxRetries = st.MaxRetries
	}
	if st.RetryDelaySeconds > 0 {
		p.BaseDelay = time.Duration(st.RetryDelaySeconds) * time.Second
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Pause stops id's active transfer, leaving it resumable.
func (m *Manager) Pause(id string) error {
	sup, err := m.supervisorFor(id)
	if err != nil {
		return err
	}
	sup.Pause()
	return nil
}

// Cancel stops id's active transfer and marks it terminally cancelled.
func (m *Manager) Cancel(id string) error {
	sup, err := m.supervisorFor(id)
	if err != nil {
		return err
	}
	sup.Cancel()
	return nil
}

// Retry resets a failed/cancelled download back to queued so the
// scheduler picks it up again.
func (m *Manager) Retry(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.downloads[id]
	if !ok {
		return ErrDownloadNotFound
	}
	if !CanTransition(d.Status, StatusQueued) {
		return ErrInvalidTransition
	}
	d.Status = StatusQueued
	d.Error = ""
	if err := m.Store.SaveDownload(d); err != nil {
		return err
	}
	m.Bus.Publish(Event{Kind: EventStatusChanged, Download: d})
	return nil
}

// Remove deletes a download's bookkeeping and, if requested, its file on
// disk. A running transfer is cancelled first.
func (m *Manager) Remove(id string, deleteFile bool) error {
	m.mu.Lock()
	d, ok := m.downloads[id]
	sup := m.supervisors[id]
	m.mu.Unlock()
	if !ok {
		return ErrDownloadNotFound
	}
	if sup != nil {
		sup.Cancel()
	}
	if deleteFile && d.Filename != "" {
		Fs.Remove(filepath.Join(d.Destination, d.Filename))
	}
	m.mu.Lock()
	delete(m.downloads, id)
	delete(m.supervisors, id)
	m.mu.Unlock()
	if err := m.Store.DeleteDownload(id); err != nil {
		return err
	}
	m.Bus.Publish(Event{Kind: EventDownloadRemoved, DownloadID: id})
	return nil
}

func (m *Manager) supervisorFor(id string) (*Supervisor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sup, ok := m.supervisors[id]
	if !ok {
		return nil, ErrDownloadNotFound
	}
	return sup, nil
}

// Recover runs the store's startup recovery scan (downloading -> paused,
// clamp over-reported segments) and reloads the resulting downloads into
// memory. This always happens; §4.F never leaves a downloading row as-is
// across a restart. When settings.AutoResumeOnStartup is set, downloads
// the scan just paused are additionally requeued so the scheduler resumes
// them on the next tick instead of waiting for the user -- the recovered
// behavior described in spec.md §9's open question, off by default.
func (m *Manager) Recover() error {
	m.mu.Lock()
	wasDownloading := make(map[string]bool, len(m.downloads))
	for id, d := range m.downloads {
		if d.Status == StatusDownloading {
			wasDownloading[id] = true
		}
	}
	autoResume := m.settings.AutoResumeOnStartup
	m.mu.Unlock()

	downloads, err := m.Store.Recover()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range downloads {
		m.downloads[d.ID] = d
		if autoResume && wasDownloading[d.ID] && d.Status == StatusPaused {
			d.Status = StatusQueued
			if err := m.Store.SaveDownload(d); err != nil {
				return err
			}
			m.Bus.Publish(Event{Kind: EventStatusChanged, Download: d})
		}
	}
	return nil
}

// CreateQueue adds a new queue with its own rate bucket chained under the
// global one.
func (m *Manager) CreateQueue(q *Queue) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	q.CreatedAt = time.Now()
	if err := m.Store.SaveQueue(q); err != nil {
		return err
	}
	m.mu.Lock()
	m.queues[q.ID] = q
	qb := NewBucket(q.SpeedLimit)
	qb.Parent = m.global
	m.queueLimits[q.ID] = qb
	m.mu.Unlock()
	m.Bus.Publish(Event{Kind: EventQueueUpdated, Queue: q})
	return nil
}

// DeleteQueue removes a non-default queue. Downloads in it fall back to
// the default queue.
func (m *Manager) DeleteQueue(id string) error {
	if id == DefaultQueueID {
		return ErrDefaultQueueImmutable
	}
	m.mu.Lock()
	var moved []*Download
	for _, d := range m.downloads {
		if d.QueueID == id {
			d.QueueID = DefaultQueueID
			moved = append(moved, d)
		}
	}
	delete(m.queues, id)
	delete(m.queueLimits, id)
	m.mu.Unlock()
	for _, d := range moved {
		if err := m.Store.SaveDownload(d); err != nil {
			return err
		}
	}
	return m.Store.DeleteQueue(id)
}

// Queues returns every known queue.
func (m *Manager) Queues() []*Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		out = append(out, q)
	}
	return out
}

// UpdateQueue persists changes to an existing queue and re-tunes its rate
// bucket if SpeedLimit changed.
func (m *Manager) UpdateQueue(q *Queue) error {
	if err := m.Store.SaveQueue(q); err != nil {
		return err
	}
	m.mu.Lock()
	m.queues[q.ID] = q
	if b, ok := m.queueLimits[q.ID]; ok {
		b.SetRate(q.SpeedLimit)
	} else {
		nb := NewBucket(q.SpeedLimit)
		nb.Parent = m.global
		m.queueLimits[q.ID] = nb
	}
	m.mu.Unlock()
	m.Bus.Publish(Event{Kind: EventQueueUpdated, Queue: q})
	return nil
}

// Categories returns every known category.
func (m *Manager) Categories() []*Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	return out
}

// CreateCategory adds or updates a category.
func (m *Manager) CreateCategory(c *Category) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := m.Store.SaveCategory(c); err != nil {
		return err
	}
	m.mu.Lock()
	m.categories[c.ID] = c
	m.mu.Unlock()
	return nil
}

// DeleteCategory removes a category; downloads referencing it keep their
// CategoryID but it will no longer resolve to a record.
func (m *Manager) DeleteCategory(id string) error {
	m.mu.Lock()
	delete(m.categories, id)
	m.mu.Unlock()
	return m.Store.DeleteCategory(id)
}

// UpdateDownload applies a partial edit (destination, speed limit, queue)
// to a download; its status is not checked.
func (m *Manager) UpdateDownload(id string, destination *string, speedLimit *int64, queueID *string) (*Download, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.downloads[id]
	if !ok {
		return nil, ErrDownloadNotFound
	}
	if destination != nil {
		d.Destination = *destination
	}
	if speedLimit != nil {
		d.SpeedLimit = *speedLimit
	}
	if queueID != nil {
		if _, ok := m.queues[*queueID]; !ok {
			return nil, ErrQueueNotFound
		}
		d.QueueID = *queueID
	}
	if err := m.Store.SaveDownload(d); err != nil {
		return nil, err
	}
	m.Bus.Publish(Event{Kind: EventDownloadUpdated, Download: d})
	return d, nil
}
