package window

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/swn4894/elderly-dashboard/internal/models"
)

var (
	// ErrStale 操作携带的代次已过期（会话已重置），调用方应直接丢弃
	ErrStale = errors.New("window: stale generation")
	// ErrUnknownDevice 设备不在当前监控集合中
	ErrUnknownDevice = errors.New("window: unknown device")
)

// DefaultCapacity 每设备保留的最近读数条数
const DefaultCapacity = 5

// Observer 窗口变更回调，window 为变更后的完整快照
// version 在整个存储内单调递增（跨 Reset 不回退），回调可能乱序到达，观察者应丢弃旧版本
type Observer func(deviceID string, window []models.Reading, version uint64)

// LoadTicket 历史加载开始时领取的凭证
// ReplaceWindow 凭此区分加载开始之后才合并进来的实时读数
type LoadTicket struct {
	DeviceID   string
	Generation uint64
	Seq        uint64
}

type entry struct {
	reading models.Reading
	key     models.ReadingKey
	seq     uint64
}

type deviceWindow struct {
	mu      sync.Mutex
	entries []entry // 按时间戳严格降序
	seq     uint64
	version uint64
}

type observerEntry struct {
	deviceID string // 空字符串表示订阅全部设备
	fn       Observer
}

// Store 按设备维护有界、按时间降序的读数窗口
//
// 同一设备上的 ReplaceWindow / MergeReading / PatchReading 串行执行，
// 不同设备之间互不阻塞。所有写操作都携带代次，Reset 之后旧代次的写入返回 ErrStale。
type Store struct {
	capacity int
	versions atomic.Uint64

	mu         sync.RWMutex
	generation uint64
	windows    map[string]*deviceWindow

	obsMu     sync.RWMutex
	observers map[uint64]observerEntry
	nextObsID uint64
}

// New 创建窗口存储，capacity <= 0 时使用默认值
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity:  capacity,
		windows:   make(map[string]*deviceWindow),
		observers: make(map[uint64]observerEntry),
	}
}

// Capacity 窗口容量
func (s *Store) Capacity() int {
	return s.capacity
}

// Generation 当前代次
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Reset 清空全部窗口并进入新代次，返回新代次
func (s *Store) Reset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.windows = make(map[string]*deviceWindow)
	return s.generation
}

// Materialize 将监控集合设置为 deviceIDs：新设备创建空窗口，不再监控的设备移除
func (s *Store) Materialize(gen uint64, deviceIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return ErrStale
	}
	keep := make(map[string]struct{}, len(deviceIDs))
	for _, id := range deviceIDs {
		keep[id] = struct{}{}
		if _, ok := s.windows[id]; !ok {
			s.windows[id] = &deviceWindow{}
		}
	}
	for id := range s.windows {
		if _, ok := keep[id]; !ok {
			delete(s.windows, id)
		}
	}
	return nil
}

// withDevice 在代次校验通过后持有设备锁执行 fn
// 持有读锁期间 Reset 无法穿插，fn 返回 true 表示窗口有变更
func (s *Store) withDevice(gen uint64, deviceID string, fn func(w *deviceWindow) bool) (changed bool, snapshot []models.Reading, version uint64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if gen != s.generation {
		return false, nil, 0, ErrStale
	}
	w, ok := s.windows[deviceID]
	if !ok {
		return false, nil, 0, ErrUnknownDevice
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !fn(w) {
		return false, nil, w.version, nil
	}
	w.version = s.versions.Add(1)
	return true, w.snapshot(), w.version, nil
}

// BeginLoad 领取历史加载凭证
func (s *Store) BeginLoad(gen uint64, deviceID string) (LoadTicket, error) {
	ticket := LoadTicket{DeviceID: deviceID, Generation: gen}
	_, _, _, err := s.withDevice(gen, deviceID, func(w *deviceWindow) bool {
		ticket.Seq = w.seq
		return false
	})
	return ticket, err
}

// ReplaceWindow 用历史加载结果整体替换窗口
//
// 凭证领取之后合并进来的读数会与加载结果取并集，晚到的历史加载不会覆盖更新的实时读数。
// 返回值为此次替换中新进入窗口的读数（按时间降序）。
func (s *Store) ReplaceWindow(ticket LoadTicket, readings []models.Reading) ([]models.Reading, error) {
	var inserted []models.Reading
	changed, snap, ver, err := s.withDevice(ticket.Generation, ticket.DeviceID, func(w *deviceWindow) bool {
		previous := make(map[models.ReadingKey]struct{}, len(w.entries))
		for _, e := range w.entries {
			previous[e.key] = struct{}{}
		}

		w.seq++
		merged := make([]entry, 0, len(readings)+len(w.entries))
		seen := make(map[models.ReadingKey]struct{}, len(readings)+len(w.entries))
		// 实时读数优先，其次按加载顺序
		for _, e := range w.entries {
			if e.seq > ticket.Seq {
				merged = append(merged, e)
				seen[e.key] = struct{}{}
			}
		}
		for _, r := range readings {
			if r.DeviceID != ticket.DeviceID {
				continue
			}
			k := r.Key()
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			merged = append(merged, entry{reading: r, key: k, seq: w.seq})
		}

		sortEntries(merged)
		if len(merged) > s.capacity {
			merged = merged[:s.capacity]
		}

		for _, e := range merged {
			if _, existed := previous[e.key]; !existed {
				inserted = append(inserted, e.reading)
			}
		}
		if sameKeys(w.entries, merged) {
			return false
		}
		w.entries = merged
		return true
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notify(ticket.DeviceID, snap, ver)
	}
	return inserted, nil
}

// MergeReading 合并一条实时读数
// 返回 false 表示重复读数或读数早于已满窗口中最旧的一条，窗口不变
func (s *Store) MergeReading(gen uint64, r models.Reading) (bool, error) {
	key := r.Key()
	changed, snap, ver, err := s.withDevice(gen, r.DeviceID, func(w *deviceWindow) bool {
		pos := len(w.entries)
		for i, e := range w.entries {
			c := models.CompareTimestamps(r.Timestamp, e.reading.Timestamp)
			if c == 0 || e.key == key {
				return false
			}
			if c > 0 {
				pos = i
				break
			}
		}
		if pos >= s.capacity {
			return false
		}

		w.seq++
		entries := make([]entry, 0, len(w.entries)+1)
		entries = append(entries, w.entries[:pos]...)
		entries = append(entries, entry{reading: r, key: key, seq: w.seq})
		entries = append(entries, w.entries[pos:]...)
		if len(entries) > s.capacity {
			entries = entries[:s.capacity]
		}
		w.entries = entries
		return true
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.notify(r.DeviceID, snap, ver)
	}
	return changed, nil
}

// PatchReading 对窗口中已有的读数应用部分更新，读数不在窗口中时返回 false
func (s *Store) PatchReading(gen uint64, patch models.ReadingPatch) (models.Reading, bool, error) {
	key := patch.Key()
	var updated models.Reading
	changed, snap, ver, err := s.withDevice(gen, patch.DeviceID, func(w *deviceWindow) bool {
		for i := range w.entries {
			if w.entries[i].key != key {
				continue
			}
			next := patch.ApplyTo(w.entries[i].reading)
			updated = next
			if next == w.entries[i].reading {
				return false
			}
			entries := append([]entry(nil), w.entries...)
			entries[i].reading = next
			w.entries = entries
			return true
		}
		return false
	})
	if err != nil {
		return models.Reading{}, false, err
	}
	if changed {
		s.notify(patch.DeviceID, snap, ver)
	}
	return updated, updated.DeviceID != "", nil
}

// RemoveReading 从窗口中移除读数（远端删除后同步）
func (s *Store) RemoveReading(gen uint64, key models.ReadingKey) (bool, error) {
	key.Timestamp = models.NormalizeTimestamp(key.Timestamp)
	changed, snap, ver, err := s.withDevice(gen, key.DeviceID, func(w *deviceWindow) bool {
		for i, e := range w.entries {
			if e.key != key {
				continue
			}
			entries := make([]entry, 0, len(w.entries)-1)
			entries = append(entries, w.entries[:i]...)
			entries = append(entries, w.entries[i+1:]...)
			w.entries = entries
			return true
		}
		return false
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.notify(key.DeviceID, snap, ver)
	}
	return changed, nil
}

// Window 返回设备窗口快照（最多 capacity 条，时间降序），未监控设备返回 nil
func (s *Store) Window(deviceID string) []models.Reading {
	s.mu.RLock()
	w, ok := s.windows[deviceID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshot()
}

// Latest 返回设备最新一条读数
func (s *Store) Latest(deviceID string) (models.Reading, bool) {
	s.mu.RLock()
	w, ok := s.windows[deviceID]
	s.mu.RUnlock()
	if !ok {
		return models.Reading{}, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return models.Reading{}, false
	}
	return w.entries[0].reading, true
}

// Devices 当前监控的设备（排序后）
func (s *Store) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.windows))
	for id := range s.windows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has 设备是否在当前监控集合中
func (s *Store) Has(deviceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.windows[deviceID]
	return ok
}

// OnWindowChanged 注册窗口变更回调，deviceID 为空表示全部设备；返回取消函数
// 回调在锁外执行，可以安全地回读 Store
func (s *Store) OnWindowChanged(deviceID string, fn Observer) (cancel func()) {
	s.obsMu.Lock()
	s.nextObsID++
	id := s.nextObsID
	s.observers[id] = observerEntry{deviceID: deviceID, fn: fn}
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

func (s *Store) notify(deviceID string, snapshot []models.Reading, version uint64) {
	s.obsMu.RLock()
	fns := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		if o.deviceID == "" || o.deviceID == deviceID {
			fns = append(fns, o.fn)
		}
	}
	s.obsMu.RUnlock()

	for _, fn := range fns {
		// 每个回调拿到独立副本
		fn(deviceID, append([]models.Reading(nil), snapshot...), version)
	}
}

func (w *deviceWindow) snapshot() []models.Reading {
	out := make([]models.Reading, len(w.entries))
	for i, e := range w.entries {
		out[i] = e.reading
	}
	return out
}

// sortEntries 按时间戳降序稳定排序
func sortEntries(entries []entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return models.CompareTimestamps(entries[i].reading.Timestamp, entries[j].reading.Timestamp) > 0
	})
}

func sameKeys(a, b []entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].key != b[i].key || a[i].reading != b[i].reading {
			return false
		}
	}
	return true
}
