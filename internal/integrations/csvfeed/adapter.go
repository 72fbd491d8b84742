// Package csvfeed parses order feeds exported as CSV drops.
package csvfeed

import (
    "encoding/csv"
    "fmt"
    "io"
    "strconv"
    "strings"

    "waveopt/internal/integrations"
    "waveopt/internal/model"
)

// CsvFeedAdapter parses CSV order drops with the header
// externalRef,priority,deadline,items,weightKg,pickEstimateMin,packEstimateMin.
type CsvFeedAdapter struct{
    // Open returns the feed content for a cursor; wired to the file or
    // object store holding the drops.
    Open func(cursor string) (io.ReadCloser, error)
}

func (a CsvFeedAdapter) Name() string { return "csv-feed" }

func (a CsvFeedAdapter) Authenticate(cfg map[string]any) (integrations.AuthState, error) {
    return integrations.AuthState{Method: "none"}, nil
}

func (a CsvFeedAdapter) FetchOrders(since string, cursor string) (integrations.OrderBatch, error) {
    if a.Open == nil {
        return integrations.OrderBatch{}, fmt.Errorf("csvfeed: no source configured")
    }
    rc, err := a.Open(cursor)
    if err != nil {
        return integrations.OrderBatch{}, err
    }
    defer func() { _ = rc.Close() }()
    orders, err := ParseOrders(rc)
    if err != nil {
        return integrations.OrderBatch{}, err
    }
    return integrations.OrderBatch{Orders: orders}, nil
}

func (a CsvFeedAdapter) AckOrders(refs []string) error { return nil }

func (a CsvFeedAdapter) MapStatus(ext integrations.ExternalStatus) integrations.InternalEvent {
    typ := "created"
    if strings.EqualFold(ext.Code, "SHIPPED") {
        typ = "shipped"
    }
    return integrations.InternalEvent{Type: typ, Payload: map[string]any{"code": ext.Code}}
}

func (a CsvFeedAdapter) Webhooks() integrations.WebhookInfo {
    return integrations.WebhookInfo{Events: []string{}, Verify: func(sig string, body []byte) bool { return true }}
}

// ParseOrders reads a CSV order feed into OrderIn records. The first row must
// be the header; column order is fixed, trailing optional columns may be
// omitted per row.
func ParseOrders(r io.Reader) ([]model.OrderIn, error) {
    cr := csv.NewReader(r)
    cr.FieldsPerRecord = -1
    rows, err := cr.ReadAll()
    if err != nil {
        return nil, err
    }
    if len(rows) == 0 {
        return nil, nil
    }
    out := make([]model.OrderIn, 0, len(rows)-1)
    for i, row := range rows[1:] {
        if len(row) < 4 {
            return nil, fmt.Errorf("row %d: want at least 4 columns, got %d", i+2, len(row))
        }
        prio, err := strconv.Atoi(strings.TrimSpace(row[1]))
        if err != nil {
            return nil, fmt.Errorf("row %d: priority: %v", i+2, err)
        }
        items, err := strconv.Atoi(strings.TrimSpace(row[3]))
        if err != nil {
            return nil, fmt.Errorf("row %d: items: %v", i+2, err)
        }
        o := model.OrderIn{
            ExternalRef: strings.TrimSpace(row[0]),
            Priority:    prio,
            Deadline:    strings.TrimSpace(row[2]),
            Items:       items,
        }
        if len(row) > 4 && row[4] != "" {
            if o.WeightKg, err = strconv.ParseFloat(strings.TrimSpace(row[4]), 64); err != nil {
                return nil, fmt.Errorf("row %d: weightKg: %v", i+2, err)
            }
        }
        if len(row) > 5 && row[5] != "" {
            if o.PickEstimateMin, err = strconv.ParseFloat(strings.TrimSpace(row[5]), 64); err != nil {
                return nil, fmt.Errorf("row %d: pickEstimateMin: %v", i+2, err)
            }
        }
        if len(row) > 6 && row[6] != "" {
            if o.PackEstimateMin, err = strconv.ParseFloat(strings.TrimSpace(row[6]), 64); err != nil {
                return nil, fmt.Errorf("row %d: packEstimateMin: %v", i+2, err)
            }
        }
        out = append(out, o)
    }
    return out, nil
}
