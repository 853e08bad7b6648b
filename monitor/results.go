package monitor

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Results are the episodes of one or more monitor files, ordered by wall clock time
type Results struct {
	Headers  []Header
	Episodes []Episode
}

// Returns lists the episode returns in order
func (r *Results) Returns() []float64 {
	out := make([]float64, len(r.Episodes))
	for i, e := range r.Episodes {
		out[i] = e.Return
	}
	return out
}

// LoadResults reads a monitor file, or every *monitor.csv file of a directory
func LoadResults(path string) (*Results, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*monitor.csv"))
		if err != nil {
			return nil, err
		}
		sort.Strings(files)
	}

	type timed struct {
		ep  Episode
		abs float64
	}
	all := make([]timed, 0)
	results := &Results{Headers: make([]Header, 0)}
	for _, file := range files {
		headers, rows, err := readFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		results.Headers = append(results.Headers, headers...)
		for _, r := range rows {
			all = append(all, timed{ep: r.ep, abs: r.tStart + r.ep.Time})
		}
	}
	if len(all) == 0 {
		return nil, ErrNoEpisodes
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].abs < all[j].abs })
	results.Episodes = make([]Episode, len(all))
	for i, t := range all {
		results.Episodes[i] = t.ep
	}
	return results, nil
}

type row struct {
	ep Episode
	// start time of the run that wrote the row, each appended run has its own header
	tStart float64
}

func readFile(path string) ([]Header, []row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) ([]Header, []row, error) {
	headers := make([]Header, 0)
	rows := make([]row, 0)
	tStart := 0.0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || line == "r,l,t":
			continue
		case strings.HasPrefix(line, "#"):
			var h Header
			if err := json.Unmarshal([]byte(line[1:]), &h); err != nil {
				return nil, nil, fmt.Errorf("bad header %q: %w", line, err)
			}
			headers = append(headers, h)
			tStart = h.TStart
		default:
			fields, err := csv.NewReader(strings.NewReader(line)).Read()
			if err != nil {
				return nil, nil, err
			}
			ep, err := parseRow(fields)
			if err != nil {
				return nil, nil, fmt.Errorf("bad row %q: %w", line, err)
			}
			rows = append(rows, row{ep: ep, tStart: tStart})
		}
	}
	return headers, rows, scanner.Err()
}

func parseRow(fields []string) (Episode, error) {
	if len(fields) < 3 {
		return Episode{}, fmt.Errorf("expected 3 columns, got %d", len(fields))
	}
	ret, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Episode{}, err
	}
	length, err := strconv.Atoi(fields[1])
	if err != nil {
		return Episode{}, err
	}
	t, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Episode{}, err
	}
	return Episode{Return: ret, Length: length, Time: t}, nil
}
