package simulator

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

const (
	fitsBlock = 2880
	fitsCard  = 80
)

// writeFITS writes a header-only primary HDU.
func writeFITS(w io.Writer, cards map[string]string) error {
	var buf bytes.Buffer
	card := func(key, value string) {
		line := fmt.Sprintf("%-8s= %20s", key, value)
		if len(line) > fitsCard {
			line = line[:fitsCard]
		}
		buf.WriteString(line + strings.Repeat(" ", fitsCard-len(line)))
	}
	card("SIMPLE", "T")
	card("BITPIX", "8")
	card("NAXIS", "0")

	keys := make([]string, 0, len(cards))
	for k := range cards {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		card(strings.ToUpper(k), fitsValue(cards[k]))
	}
	buf.WriteString("END" + strings.Repeat(" ", fitsCard-3))
	if pad := buf.Len() % fitsBlock; pad != 0 {
		buf.WriteString(strings.Repeat(" ", fitsBlock-pad))
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func fitsValue(v string) string {
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v
	}
	if v == "T" || v == "F" {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// readFITSHeader returns the header cards of the primary HDU.
func readFITSHeader(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	out := make(map[string]string)
	r := bufio.NewReader(f)
	line := make([]byte, fitsCard)
	for {
		if _, err := io.ReadFull(r, line); err != nil {
			return nil, fmt.Errorf("read header %s: %w", path, err)
		}
		key := strings.TrimSpace(string(line[:8]))
		if key == "END" {
			return out, nil
		}
		if len(line) < 10 || string(line[8:10]) != "= " {
			continue
		}
		val := strings.TrimSpace(string(line[10:]))
		val = strings.TrimSuffix(strings.TrimPrefix(val, "'"), "'")
		out[key] = strings.ReplaceAll(val, "''", "'")
	}
}
