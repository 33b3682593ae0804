package tasks

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// JoinPredictions applies the transform output filter: for every input record
// the first column is dropped, the remaining columns are kept in order and
// the matching prediction is appended as the final column. When dropHeader is
// set the first input record is treated as a header row and skipped. The
// number of output rows always equals the number of consumed data rows.
func JoinPredictions(input io.Reader, predictions io.Reader, out io.Writer, dropHeader bool) (int, error) {
	reader := csv.NewReader(input)
	reader.FieldsPerRecord = -1
	writer := csv.NewWriter(out)

	predScanner := bufio.NewScanner(predictions)

	rows := 0
	first := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read input row: %w", err)
		}
		if first && dropHeader {
			first = false
			continue
		}
		first = false

		if len(record) < 2 {
			return rows, fmt.Errorf("input row %d has %d columns, need at least 2", rows+1, len(record))
		}
		if !predScanner.Scan() {
			if err := predScanner.Err(); err != nil {
				return rows, fmt.Errorf("read prediction: %w", err)
			}
			return rows, fmt.Errorf("prediction missing for input row %d", rows+1)
		}
		prediction := strings.TrimSpace(predScanner.Text())
		if prediction == "" {
			return rows, fmt.Errorf("prediction empty for input row %d", rows+1)
		}

		joined := make([]string, 0, len(record))
		joined = append(joined, record[1:]...)
		joined = append(joined, prediction)
		if err := writer.Write(joined); err != nil {
			return rows, fmt.Errorf("write output row: %w", err)
		}
		rows++
	}

	if predScanner.Scan() {
		return rows, errors.New("more predictions than input rows")
	}
	if err := predScanner.Err(); err != nil {
		return rows, fmt.Errorf("read prediction: %w", err)
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return rows, fmt.Errorf("flush output: %w", err)
	}
	return rows, nil
}
