package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nhle/outreach/internal/model"
)

// csvLayout describes the on-disk columns of one ledger kind.
type csvLayout struct {
	header    []string
	timeCol   string
	detailCol string
}

var csvLayouts = map[model.LedgerKind]csvLayout{
	model.LedgerSent:       {header: []string{"email", "sent_at"}, timeCol: "sent_at"},
	model.LedgerReplied:    {header: []string{"email", "reply_date", "subject"}, timeCol: "reply_date", detailCol: "subject"},
	model.LedgerBounced:    {header: []string{"email", "bounce_type", "detected_on"}, timeCol: "detected_on", detailCol: "bounce_type"},
	model.LedgerFollowedUp: {header: []string{"email", "sent_at"}, timeCol: "sent_at"},
}

// csvState is the cached view of one ledger file.
type csvState struct {
	header      []string
	entries     []entry
	set         model.AddressSet
	needNewline bool
}

// CSVLedger stores each ledger kind in its own CSV file with a header
// row. Files are loaded lazily and cached; every append is a single
// write followed by fsync.
type CSVLedger struct {
	mu    sync.Mutex
	paths map[model.LedgerKind]string
	state map[model.LedgerKind]*csvState
}

// NewCSVLedger returns a ledger backed by the given file paths. Files
// need not exist yet.
func NewCSVLedger(paths map[model.LedgerKind]string) (*CSVLedger, error) {
	for _, kind := range model.LedgerKinds {
		if strings.TrimSpace(paths[kind]) == "" {
			return nil, fmt.Errorf("no file configured for the %s ledger", kind)
		}
	}
	return &CSVLedger{
		paths: paths,
		state: make(map[model.LedgerKind]*csvState, len(paths)),
	}, nil
}

// Path returns the file backing a ledger kind.
func (l *CSVLedger) Path(kind model.LedgerKind) string {
	return l.paths[kind]
}

// Exists reports whether the file backing kind is on disk.
func (l *CSVLedger) Exists(kind model.LedgerKind) (bool, error) {
	path, ok := l.paths[kind]
	if !ok {
		return false, fmt.Errorf("unknown ledger kind %q", kind)
	}
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking ledger %s: %w", path, err)
	}
	return true, nil
}

// Addresses implements Ledger.
func (l *CSVLedger) Addresses(ctx context.Context, kind model.LedgerKind) (model.AddressSet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx, kind)
	if err != nil {
		return nil, err
	}
	return st.set.Union(), nil
}

// Records implements Ledger.
func (l *CSVLedger) Records(ctx context.Context, kind model.LedgerKind) ([]model.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]model.Record, 0, len(st.entries))
	for _, e := range st.entries {
		out = append(out, e.record())
	}
	return out, nil
}

// Contains implements Ledger.
func (l *CSVLedger) Contains(ctx context.Context, kind model.LedgerKind, addr string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx, kind)
	if err != nil {
		return false, err
	}
	return st.set.Has(addr), nil
}

// Append implements Ledger.
func (l *CSVLedger) Append(ctx context.Context, rec model.Record) (bool, error) {
	e, err := toEntry(rec)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx, e.Kind)
	if err != nil {
		return false, err
	}
	if st.set.Has(e.Email) {
		return false, nil
	}

	// The cached state only changes once the bytes are on disk, so a
	// failed write leaves the next Append to emit the header again.
	path := l.paths[e.Kind]
	header := st.header
	writeHeader := len(header) == 0
	if writeHeader {
		header = csvLayouts[e.Kind].header
	}

	var buf bytes.Buffer
	if st.needNewline {
		buf.WriteByte('\n')
	}
	w := csv.NewWriter(&buf)
	if writeHeader {
		_ = w.Write(header)
	}
	_ = w.Write(encodeRow(e, header))
	w.Flush()
	if err := w.Error(); err != nil {
		return false, fmt.Errorf("encoding %s row: %w", e.Kind, err)
	}

	if err := appendFile(path, buf.Bytes()); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrLedgerWrite, path, err)
	}

	st.header = header
	st.needNewline = false
	st.entries = append(st.entries, e)
	st.set.Add(e.Email)
	return true, nil
}

// Invalidate drops the cached state so the next call re-reads the files.
// It is used after a backup restore replaces ledgers on disk.
func (l *CSVLedger) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = make(map[model.LedgerKind]*csvState, len(l.paths))
}

// Close implements Ledger.
func (l *CSVLedger) Close() error {
	return nil
}

func (l *CSVLedger) load(ctx context.Context, kind model.LedgerKind) (*csvState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if st, ok := l.state[kind]; ok {
		return st, nil
	}

	path, ok := l.paths[kind]
	if !ok {
		return nil, fmt.Errorf("unknown ledger kind %q", kind)
	}

	st, err := readLedgerFile(path, kind)
	if err != nil {
		return nil, err
	}
	l.state[kind] = st
	return st, nil
}

// readLedgerFile parses a ledger file. A missing or empty file is an
// empty ledger. Duplicate rows keep the first occurrence.
func readLedgerFile(path string, kind model.LedgerKind) (*csvState, error) {
	st := &csvState{set: model.NewAddressSet()}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return st, nil
	}
	st.needNewline = data[len(data)-1] != '\n'

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading ledger header %s: %w", path, err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	st.header = header

	cols := columnIndex(header)
	emailIdx, ok := cols["email"]
	if !ok {
		return nil, fmt.Errorf("ledger %s has no email column", path)
	}
	layout := csvLayouts[kind]

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing ledger %s: %w", path, err)
		}

		addr := model.NormalizeEmail(field(row, emailIdx))
		if addr == "" || st.set.Has(addr) {
			continue
		}
		e := entry{Kind: kind, Email: addr}
		if i, ok := cols[layout.timeCol]; ok {
			e.At = field(row, i)
		}
		if i, ok := cols[layout.detailCol]; ok && layout.detailCol != "" {
			e.Detail = field(row, i)
		}
		st.entries = append(st.entries, e)
		st.set.Add(addr)
	}

	return st, nil
}

// encodeRow lays out e according to header, which may be a legacy
// header that differs from the current layout.
func encodeRow(e entry, header []string) []string {
	layout := csvLayouts[e.Kind]
	row := make([]string, len(header))
	for i, col := range header {
		switch col {
		case "email":
			row[i] = e.Email
		case layout.timeCol:
			row[i] = e.At
		case layout.detailCol:
			if layout.detailCol != "" {
				row[i] = e.Detail
			}
		}
	}
	return row
}

func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	return cols
}

func field(row []string, i int) string {
	if i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

// appendFile writes data to the end of path in one call and syncs it to
// stable storage, creating the file and its directory if needed.
func appendFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
