package udp

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"ptzgate/internal/telemetry"
)

// writeToCSV дописывает в журнал по строке на каждый объект кадра.
func writeToCSV(filepath, source string, f *telemetry.Frame) error {
	fileExists := false
	if _, err := os.Stat(filepath); err == nil {
		fileExists = true
	}

	file, err := os.OpenFile(filepath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("cannot open telemetry log: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	writer.Comma = ';'

	if !fileExists {
		header := []string{
			"Time", "Source", "CRCValid",
			"TrackID", "Class", "ClassName", "X", "Y", "Z", "X1", "Y1",
		}
		if err := writer.Write(header); err != nil {
			return fmt.Errorf("csv header: %w", err)
		}
	}

	now := time.Now().Format(time.RFC3339Nano)
	for _, o := range f.Objects {
		record := []string{
			now,
			source,
			strconv.FormatBool(f.ChecksumValid),
			strconv.Itoa(int(o.TrackID)),
			strconv.Itoa(int(o.Classification)),
			o.ClassificationName,
			strconv.Itoa(int(o.X)),
			strconv.Itoa(int(o.Y)),
			strconv.Itoa(int(o.Z)),
			strconv.Itoa(int(o.X1)),
			strconv.Itoa(int(o.Y1)),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("csv record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
