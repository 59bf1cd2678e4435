package fileshare

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"songshare/internal/logger"
)

type TransferStatus int

const (
	PENDING TransferStatus = iota
	TRANSFERRING
	COMPLETED
	FAILED
	CANCELLED
)

func (s TransferStatus) String() string {
	switch s {
	case PENDING:
		return "pending"
	case TRANSFERRING:
		return "transferring"
	case COMPLETED:
		return "completed"
	case FAILED:
		return "failed"
	case CANCELLED:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s TransferStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type TransferDirection int

const (
	SENDING TransferDirection = iota
	RECEIVING
)

func (d TransferDirection) String() string {
	if d == SENDING {
		return "sending"
	}
	return "receiving"
}

func (d TransferDirection) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

type FileInfo struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"` // In bytes
}

type FileTransfer struct {
	ID               string            `json:"id"`
	FileInfo         FileInfo          `json:"file"`
	Direction        TransferDirection `json:"direction"`
	Status           TransferStatus    `json:"status"`
	BytesTransferred int64             `json:"bytes_transferred"`
	Percent          int               `json:"percent"`
	Speed            float64           `json:"speed"` // bytes per second
	StartTime        time.Time         `json:"start_time"`
	LastUpdateTime   time.Time         `json:"last_update_time"`
	Error            string            `json:"error,omitempty"`

	seq uint64
}

// DefaultHistory is how many transfers a Tracker keeps once they finish.
const DefaultHistory = 100

// Tracker records the bundles sent or received by this process. Finished
// transfers beyond History are dropped oldest first; active ones are kept.
type Tracker struct {
	History int

	mu        sync.Mutex
	transfers map[string]*FileTransfer
	seq       uint64
	log       *slog.Logger
}

func NewTracker(log *slog.Logger) *Tracker {
	if log == nil {
		log = logger.Discard()
	}
	return &Tracker{History: DefaultHistory, transfers: make(map[string]*FileTransfer), log: log}
}

func (t *Tracker) CreateTransfer(info FileInfo, direction TransferDirection) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	id := uuid.NewString()
	t.seq++
	t.transfers[id] = &FileTransfer{
		seq:            t.seq,
		ID:             id,
		FileInfo:       info,
		Direction:      direction,
		Status:         PENDING,
		StartTime:      now,
		LastUpdateTime: now,
	}
	t.prune()
	return id
}

// UpdateTransferProgress records the running byte count and returns the
// whole percentage done, computed from the bytes still outstanding. advanced
// is true when that percentage grew.
func (t *Tracker) UpdateTransferProgress(id string, bytesTransferred int64) (percent int, advanced bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	transfer, exists := t.transfers[id]
	if !exists {
		return 0, false, fmt.Errorf("transfer not found %s", id)
	}

	now := time.Now()
	if elapsed := now.Sub(transfer.LastUpdateTime).Seconds(); elapsed > 0 {
		transfer.Speed = float64(bytesTransferred-transfer.BytesTransferred) / elapsed
	}
	transfer.LastUpdateTime = now
	transfer.BytesTransferred = bytesTransferred
	transfer.Status = TRANSFERRING

	percent = transfer.Percent
	if size := transfer.FileInfo.Size; size > 0 {
		remaining := size - bytesTransferred
		if remaining < 0 {
			remaining = 0
		}
		percent = int(100 - 100*remaining/size)
	}
	advanced = percent > transfer.Percent
	if advanced {
		transfer.Percent = percent
		t.log.Debug("transfer progress", "transfer", id, "percent", percent)
	}
	return percent, advanced, nil
}

func (t *Tracker) CompleteTransfer(id string) error {
	return t.finish(id, COMPLETED, nil)
}

func (t *Tracker) FailTransfer(id string, err error) error {
	return t.finish(id, FAILED, err)
}

func (t *Tracker) CancelTransfer(id string) error {
	return t.finish(id, CANCELLED, nil)
}

func (t *Tracker) finish(id string, status TransferStatus, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	transfer, exists := t.transfers[id]
	if !exists {
		return fmt.Errorf("transfer not found %s", id)
	}
	transfer.Status = status
	transfer.LastUpdateTime = time.Now()
	if status == COMPLETED {
		transfer.Percent = 100
	}
	if cause != nil {
		transfer.Error = cause.Error()
	}
	t.log.Info("transfer finished", "transfer", id, "file", transfer.FileInfo.Filename,
		"direction", transfer.Direction.String(), "status", status.String(), "size", transfer.BytesTransferred)
	t.prune()
	return nil
}

func (t *Tracker) prune() {
	limit := t.History
	if limit <= 0 {
		limit = DefaultHistory
	}
	for len(t.transfers) > limit {
		var oldest *FileTransfer
		for _, transfer := range t.transfers {
			if transfer.finished() && (oldest == nil || transfer.seq < oldest.seq) {
				oldest = transfer
			}
		}
		if oldest == nil {
			return
		}
		delete(t.transfers, oldest.ID)
	}
}

func (f *FileTransfer) finished() bool {
	switch f.Status {
	case COMPLETED, FAILED, CANCELLED:
		return true
	default:
		return false
	}
}

func (t *Tracker) Get(id string) (FileTransfer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	transfer, ok := t.transfers[id]
	if !ok {
		return FileTransfer{}, false
	}
	return *transfer, true
}

// Transfers lists all transfers, oldest first.
func (t *Tracker) Transfers() []FileTransfer {
	t.mu.Lock()
	out := make([]FileTransfer, 0, len(t.transfers))
	for _, transfer := range t.transfers {
		out = append(out, *transfer)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
