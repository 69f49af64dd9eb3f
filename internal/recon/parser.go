package recon

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apmoney/backend/internal/provider"
)

// ParseSettlement normalizes a settlement file into rows. Adapters that
// implement provider.SettlementParser own their format; everything else goes
// through the generic CSV parser.
func ParseSettlement(adapter provider.Adapter, content []byte) ([]provider.SettlementRow, error) {
	if custom, ok := adapter.(provider.SettlementParser); ok {
		return custom.ParseSettlementFile(content)
	}
	return parseCSV(content)
}

// parseCSV reads the common settlement layout: a header row naming at least
// a provider reference, an amount and a status. Amounts are decimal major
// units and converted exactly to minor units.
func parseCSV(content []byte) ([]provider.SettlementRow, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("settlement csv: missing header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	refIdx, ok := firstColumn(cols, "provider_txn_ref", "provider_txn_id", "reference")
	if !ok {
		return nil, fmt.Errorf("settlement csv: no provider reference column")
	}
	amountIdx, ok := firstColumn(cols, "amount", "txn_amount")
	if !ok {
		return nil, fmt.Errorf("settlement csv: no amount column")
	}
	statusIdx, ok := firstColumn(cols, "status", "txn_status")
	if !ok {
		return nil, fmt.Errorf("settlement csv: no status column")
	}
	requestIdx, hasRequest := firstColumn(cols, "request_ref", "txn_ref", "order_id")

	var rows []provider.SettlementRow
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("settlement csv: line %d: %w", line, err)
		}

		amount, err := parseMoney(record[amountIdx])
		if err != nil {
			return nil, fmt.Errorf("settlement csv: line %d: %w", line, err)
		}

		row := provider.SettlementRow{
			ProviderTxnRef: strings.TrimSpace(record[refIdx]),
			ProviderAmount: amount,
			ProviderStatus: provider.NormalizeStatus(record[statusIdx]),
		}
		if hasRequest {
			row.RequestRef = strings.TrimSpace(record[requestIdx])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func firstColumn(cols map[string]int, names ...string) (int, bool) {
	for _, name := range names {
		if idx, ok := cols[name]; ok {
			return idx, true
		}
	}
	return 0, false
}

// parseMoney converts a decimal major-unit string to minor units without
// going through floating point. Up to two decimal places are honored. The
// sign is tracked separately so values between -1 and 0 keep it.
func parseMoney(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	negative := false
	if s[0] == '-' || s[0] == '+' {
		negative = s[0] == '-'
		s = s[1:]
		if s == "" {
			return 0, fmt.Errorf("bad amount %q", raw)
		}
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}

	major, err := strconv.ParseUint(whole, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q", raw)
	}
	minor, err := strconv.ParseUint(frac, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q", raw)
	}

	total := int64(major)*100 + int64(minor)
	if negative {
		return -total, nil
	}
	return total, nil
}
