package accesslog

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Read streams entries from r, invoking fn for each parsed line.
// Unparseable lines are skipped; the count of skipped lines is returned.
func Read(r io.Reader, fn func(*Entry)) (skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		e, ok := ParseLine(line)
		if !ok {
			skipped++
			continue
		}
		fn(e)
	}
	if err := scanner.Err(); err != nil {
		return skipped, fmt.Errorf("reading access log: %w", err)
	}
	return skipped, nil
}

// ReadFile streams entries from the log at path.
func ReadFile(path string, fn func(*Entry)) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening access log: %w", err)
	}
	defer f.Close()
	return Read(f, fn)
}

// AggregateFile is the one-shot path: parse the whole log and return its
// statistics snapshot.
func AggregateFile(path string) (*Stats, int, error) {
	agg := NewAggregator()
	skipped, err := ReadFile(path, agg.Add)
	if err != nil {
		return nil, 0, err
	}
	return agg.Snapshot(), skipped, nil
}
