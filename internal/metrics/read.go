package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"tetherctl/internal/model"
)

// ReadCSV loads sessions from a CSV file.
func ReadCSV(path string) ([]model.Session, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) ([]model.Session, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	start := 0
	if len(records[0]) > 0 && records[0][0] == header[0] {
		start = 1
	}

	items := make([]model.Session, 0, len(records)-start)
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < len(header) {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		started, err := time.Parse(time.RFC3339Nano, rec[3])
		if err != nil {
			return nil, fmt.Errorf("invalid started_at at line %d: %w", i+1, err)
		}
		ended, err := time.Parse(time.RFC3339Nano, rec[4])
		if err != nil {
			return nil, fmt.Errorf("invalid ended_at at line %d: %w", i+1, err)
		}
		bytes, err := strconv.ParseUint(rec[6], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bytes_transferred at line %d: %w", i+1, err)
		}
		items = append(items, model.Session{
			ID:               rec[0],
			PhoneName:        rec[1],
			InterfaceName:    rec[2],
			StartedAt:        started,
			EndedAt:          ended,
			BytesTransferred: bytes,
		})
	}

	return items, nil
}
