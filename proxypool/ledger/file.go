package ledger

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"proxyrotor/internal/shared/logger"
	"proxyrotor/proxypool/model"
)

const (
	delimiter         = "|"
	outcomeFields     = 10 // ID|ProxyKey|TimestampNs|Success|Severity|ResponseMs|SessionID|Country|AmountTier|Hour
	snapshotFields    = 7  // ProxyKey|TimestampNs|Score|Level|SuccessRate|CaptchaRate|TotalUses
	outcomesFileName  = "outcomes.log"
	snapshotsFileName = "snapshots.log"
)

// FileStore 实现了 Store 接口，使用两个仅追加的纯文本文件进行持久化。
// 两个追加句柄在 Purge 重开失败时可能单独为 nil。
type FileStore struct {
	dir       string
	mu        sync.RWMutex
	closed    bool
	outcomes  *os.File
	snapshots *os.File
}

// NewFileStore opens (creating if needed) the ledger files under dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	fs := &FileStore{dir: dir}
	if err := fs.openHandles(); err != nil {
		fs.closeHandles()
		return nil, err
	}
	return fs, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// openHandles opens each append handle independently; a handle that fails stays nil.
func (fs *FileStore) openHandles() error {
	var err1, err2 error
	if fs.outcomes, err1 = openAppend(fs.path(outcomesFileName)); err1 != nil {
		fs.outcomes = nil
	}
	if fs.snapshots, err2 = openAppend(fs.path(snapshotsFileName)); err2 != nil {
		fs.snapshots = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (fs *FileStore) closeHandles() error {
	var err error
	if fs.outcomes != nil {
		err = fs.outcomes.Close()
	}
	if fs.snapshots != nil {
		if serr := fs.snapshots.Close(); err == nil {
			err = serr
		}
	}
	fs.outcomes, fs.snapshots = nil, nil
	return err
}

func (fs *FileStore) path(name string) string {
	return filepath.Join(fs.dir, name)
}

func (fs *FileStore) Append(ctx context.Context, o model.SessionOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrClosed
	}
	if fs.outcomes == nil {
		return errHandleLost(outcomesFileName)
	}
	_, err := fs.outcomes.WriteString(formatOutcome(o) + "\n")
	return err
}

func (fs *FileStore) Query(ctx context.Context, since time.Time) ([]model.SessionOutcome, error) {
	return fs.QueryProxy(ctx, "", since)
}

func (fs *FileStore) QueryProxy(ctx context.Context, key string, since time.Time) ([]model.SessionOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.closed {
		return nil, ErrClosed
	}

	var out []model.SessionOutcome
	err := scanLines(fs.path(outcomesFileName), outcomeFields, func(fields []string) error {
		o, err := parseOutcome(fields)
		if err != nil {
			return err
		}
		if o.Timestamp.After(since) && (key == "" || o.ProxyKey == key) {
			out = append(out, o)
		}
		return nil
	})
	sortOutcomes(out)
	return out, err
}

func (fs *FileStore) AppendSnapshots(ctx context.Context, snaps []model.QualitySnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrClosed
	}
	if fs.snapshots == nil {
		return errHandleLost(snapshotsFileName)
	}
	var sb strings.Builder
	for _, sn := range snaps {
		sb.WriteString(formatSnapshot(sn))
		sb.WriteString("\n")
	}
	_, err := fs.snapshots.WriteString(sb.String())
	return err
}

func (fs *FileStore) QuerySnapshots(ctx context.Context, key string, since time.Time) ([]model.QualitySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.closed {
		return nil, ErrClosed
	}

	var out []model.QualitySnapshot
	err := scanLines(fs.path(snapshotsFileName), snapshotFields, func(fields []string) error {
		sn, err := parseSnapshot(fields)
		if err != nil {
			return err
		}
		if sn.Timestamp.After(since) && (key == "" || sn.ProxyKey == key) {
			out = append(out, sn)
		}
		return nil
	})
	return out, err
}

// Purge rewrites both files without the expired lines. Lines that cannot be parsed are kept.
func (fs *FileStore) Purge(ctx context.Context, cutoff time.Time) (removed int64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return 0, ErrClosed
	}

	removed, err = rewriteFile(fs.path(outcomesFileName), outcomeFields, func(fields []string) bool {
		ts, err := parseNanos(fields[2])
		return err == nil && ts.Before(cutoff)
	})
	if err != nil {
		return 0, err
	}

	// outcomes.log 已被替换，无论快照重写是否成功都必须重新打开追加句柄
	defer func() {
		fs.closeHandles()
		if rerr := fs.openHandles(); rerr != nil {
			l := logger.WithComponent("ProxyPool/Ledger")
			l.Error().Err(rerr).Msg("Failed to reopen ledger files after purge.")
			if err == nil {
				err = rerr
			}
		}
	}()

	if _, err = rewriteFile(fs.path(snapshotsFileName), snapshotFields, func(fields []string) bool {
		ts, err := parseNanos(fields[1])
		return err == nil && ts.Before(cutoff)
	}); err != nil {
		return removed, err
	}
	return removed, nil
}

func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil
	}
	fs.closed = true
	return fs.closeHandles()
}

func errHandleLost(name string) error {
	return fmt.Errorf("ledger file %s is not open", name)
}

// scanLines calls fn for every well-formed line. Malformed lines are logged and skipped.
func scanLines(path string, numFields int, fn func([]string) error) error {
	l := logger.WithComponent("ProxyPool/Ledger")

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, delimiter)
		if len(fields) != numFields {
			l.Warn().Str("file", filepath.Base(path)).Int("line", lineNum).Int("expected", numFields).Int("got", len(fields)).Msg("Skipping malformed ledger line.")
			continue
		}
		if err := fn(fields); err != nil {
			l.Warn().Str("file", filepath.Base(path)).Int("line", lineNum).Err(err).Msg("Failed to parse ledger line, skipping.")
		}
	}
	return scanner.Err()
}

// rewriteFile drops well-formed lines for which expired returns true and copies every
// other line through unchanged, then atomically replaces path.
func rewriteFile(path string, numFields int, expired func([]string) bool) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var sb strings.Builder
	var removed int64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if fields := strings.Split(line, delimiter); len(fields) == numFields && expired(fields) {
			removed++
			continue
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	file.Close()
	if err := scanner.Err(); err != nil {
		return 0, err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return removed, nil
}

// clean strips the delimiter from free-text fields.
func clean(s string) string {
	return strings.ReplaceAll(s, delimiter, " ")
}

func formatOutcome(o model.SessionOutcome) string {
	success := "0"
	if o.Success {
		success = "1"
	}
	return strings.Join([]string{
		clean(o.ID),
		clean(o.ProxyKey),
		strconv.FormatInt(o.Timestamp.UnixNano(), 10),
		success,
		clean(string(o.CaptchaSeverity)),
		strconv.FormatInt(o.ResponseTime.Milliseconds(), 10),
		clean(o.Context.SessionID),
		clean(o.Context.TargetCountry),
		clean(o.Context.AmountTier),
		strconv.Itoa(o.Context.Hour),
	}, delimiter)
}

func parseOutcome(fields []string) (model.SessionOutcome, error) {
	ts, err := parseNanos(fields[2])
	if err != nil {
		return model.SessionOutcome{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	rtMs, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return model.SessionOutcome{}, fmt.Errorf("invalid response_time: %w", err)
	}
	hour, err := strconv.Atoi(fields[9])
	if err != nil {
		return model.SessionOutcome{}, fmt.Errorf("invalid hour: %w", err)
	}

	return model.SessionOutcome{
		ID:              fields[0],
		ProxyKey:        fields[1],
		Timestamp:       ts,
		Success:         fields[3] == "1",
		CaptchaSeverity: model.ParseCaptchaSeverity(fields[4]),
		ResponseTime:    time.Duration(rtMs) * time.Millisecond,
		Context: model.SessionContext{
			SessionID:     fields[6],
			TargetCountry: fields[7],
			AmountTier:    fields[8],
			Hour:          hour,
		},
	}, nil
}

func formatSnapshot(sn model.QualitySnapshot) string {
	return strings.Join([]string{
		clean(sn.ProxyKey),
		strconv.FormatInt(sn.Timestamp.UnixNano(), 10),
		strconv.FormatFloat(sn.QualityScore, 'f', -1, 64),
		string(sn.QualityLevel),
		strconv.FormatFloat(sn.SuccessRate, 'f', -1, 64),
		strconv.FormatFloat(sn.CaptchaRate, 'f', -1, 64),
		strconv.FormatInt(sn.TotalUses, 10),
	}, delimiter)
}

func parseSnapshot(fields []string) (model.QualitySnapshot, error) {
	ts, err := parseNanos(fields[1])
	if err != nil {
		return model.QualitySnapshot{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	var floats [3]float64
	for i, idx := range []int{2, 4, 5} {
		if floats[i], err = strconv.ParseFloat(fields[idx], 64); err != nil {
			return model.QualitySnapshot{}, fmt.Errorf("invalid field %d: %w", idx, err)
		}
	}
	total, err := strconv.ParseInt(fields[6], 10, 64)
	if err != nil {
		return model.QualitySnapshot{}, fmt.Errorf("invalid total_uses: %w", err)
	}
	return model.QualitySnapshot{
		ProxyKey:     fields[0],
		Timestamp:    ts,
		QualityScore: floats[0],
		QualityLevel: model.QualityLevel(fields[3]),
		SuccessRate:  floats[1],
		CaptchaRate:  floats[2],
		TotalUses:    total,
	}, nil
}

func parseNanos(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}
