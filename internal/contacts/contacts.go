// Package contacts reads the outreach contact list.
package contacts

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/nhle/outreach/internal/model"
)

// Load reads a CSV contact list with an "email" column and an optional
// "first_name" column. Rows are returned in file order; invalid and
// repeated addresses are skipped with a warning. A missing file is an
// error since every campaign depends on it.
func Load(path string, log *zap.Logger) ([]model.Recipient, error) {
	if log == nil {
		log = zap.NewNop()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("contact list %s does not exist: %w", path, err)
		}
		return nil, fmt.Errorf("reading contact list %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading contact header %s: %w", path, err)
	}

	emailIdx, nameIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "email":
			if emailIdx < 0 {
				emailIdx = i
			}
		case "first_name":
			if nameIdx < 0 {
				nameIdx = i
			}
		}
	}
	if emailIdx < 0 {
		return nil, fmt.Errorf("contact list %s has no email column", path)
	}

	var out []model.Recipient
	seen := model.NewAddressSet()
	line := 1
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing contact list %s: %w", path, err)
		}
		line++

		addr := model.NormalizeEmail(cell(row, emailIdx))
		if addr == "" {
			continue
		}
		if !model.ValidEmail(addr) {
			log.Warn("skipping invalid contact address", zap.String("email", addr), zap.Int("line", line))
			continue
		}
		if seen.Has(addr) {
			log.Debug("skipping repeated contact", zap.String("email", addr), zap.Int("line", line))
			continue
		}
		seen.Add(addr)

		out = append(out, model.Recipient{Email: addr, FirstName: cell(row, nameIdx)})
	}

	return out, nil
}

// Addresses returns the address set of recipients.
func Addresses(recipients []model.Recipient) model.AddressSet {
	set := make(model.AddressSet, len(recipients))
	for _, r := range recipients {
		set.Add(r.Email)
	}
	return set
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
