package destination

import (
	"encoding/json"
	"fmt"
	"io"
)

type getResultsResponse struct {
	Status string          `json:"status"`
	Rows   [][]interface{} `json:"rows"`
}

// jsonRowStream adapts the destination's get-results JSON payload
// ({"status": ..., "rows": [[...], ...]}) to pipeline.RowStream.
type jsonRowStream struct {
	rows []interface{}
	idx  int
}

func newJSONRowStream(body string) (*jsonRowStream, error) {
	var resp getResultsResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("destination: could not parse get-results response: %w", err)
	}
	if resp.Status == "fail" {
		return nil, fmt.Errorf("destination: get-results returned failure status")
	}

	rows := make([]interface{}, len(resp.Rows))
	for i, r := range resp.Rows {
		rows[i] = r
	}
	return &jsonRowStream{rows: rows}, nil
}

func (s *jsonRowStream) Next() ([]any, error) {
	if s.idx >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.idx].([]interface{})
	s.idx++
	return row, nil
}

func (s *jsonRowStream) Close() error { return nil }
