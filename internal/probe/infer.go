package probe

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sandahltim/RFID3-sub003/internal/schema"
)

// readDelimitedSample parses sample bytes into a header row and data
// rows. Best-effort by construction: records with the wrong field count
// are skipped, because a probe must survive dirty vendor exports.
func readDelimitedSample(data []byte, delimiter rune) ([]string, [][]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delimiter
	r.FieldsPerRecord = -1 // validated manually
	r.LazyQuotes = true

	headers, err := r.Read()
	if err != nil {
		return nil, nil, err
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	rows := make([][]string, 0, 1024)
	for {
		rec, err := r.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return headers, rows, err
		}
		if len(rec) != len(headers) {
			continue
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec)
	}
	return headers, rows, nil
}

// inferTypes infers a schema.FieldType per column. Empty cells carry no
// evidence; a column with no values at all stays text.
func inferTypes(headers []string, rows [][]string) []schema.FieldType {
	out := make([]schema.FieldType, len(headers))
	for i := range out {
		out[i] = schema.FieldText
	}

	for col := range headers {
		var seen bool
		allNum := true
		allMoney := true
		allBool := true
		allDate := true

		for _, r := range rows {
			v := r[col]
			if v == "" {
				continue
			}
			seen = true

			if allNum {
				if _, err := strconv.ParseFloat(v, 64); err != nil {
					allNum = false
				}
			}
			if allMoney && !looksMoney(v) {
				allMoney = false
			}
			if allBool && !looksBool(v) {
				allBool = false
			}
			if allDate && !looksDate(v) {
				allDate = false
			}
		}

		if !seen {
			continue
		}
		switch {
		case allBool:
			out[col] = schema.FieldBool
		case allDate:
			out[col] = schema.FieldDate
		case allMoney && !allNum:
			out[col] = schema.FieldMoney
		case allNum:
			out[col] = schema.FieldNumber
		}
	}
	return out
}

func looksBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "0", "t", "f", "true", "false", "yes", "no", "y", "n":
		return true
	}
	return false
}

func looksMoney(s string) bool {
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = s[1 : len(s)-1]
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

var probeDateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
	"2006-01-02 15:04:05",
	"1/2/2006 15:04",
}

func looksDate(s string) bool {
	for _, lay := range probeDateLayouts {
		if _, err := time.Parse(lay, s); err == nil {
			return true
		}
	}
	return false
}

const distinctCap = 10000

type uniqueness struct {
	distinct []int
	values   []int
	capped   []bool
}

// computeUniqueness counts bounded distinct values per column. The
// denominator is per-column (rows where the column had a value), not the
// global row count; a sparse column is not penalized for its gaps.
func computeUniqueness(headers []string, rows [][]string) uniqueness {
	u := uniqueness{
		distinct: make([]int, len(headers)),
		values:   make([]int, len(headers)),
		capped:   make([]bool, len(headers)),
	}

	sets := make([]map[string]struct{}, len(headers))
	for i := range sets {
		sets[i] = make(map[string]struct{})
	}

	for _, r := range rows {
		for i := range headers {
			v := r[i]
			if v == "" {
				continue
			}
			u.values[i]++
			if u.capped[i] {
				continue
			}
			sets[i][v] = struct{}{}
			if len(sets[i]) >= distinctCap {
				// Cap reached: drop the set to bound memory.
				u.capped[i] = true
				sets[i] = nil
			}
		}
	}

	for i := range headers {
		if u.capped[i] {
			u.distinct[i] = distinctCap
			continue
		}
		u.distinct[i] = len(sets[i])
	}
	return u
}

// suggestNaturalKey picks the column that most looks like an identity:
// fully populated, fully distinct in the sample, preferring numeric
// columns and earlier positions on ties.
func suggestNaturalKey(headers []string, types []schema.FieldType, u uniqueness) string {
	bestIdx := -1
	bestScore := 0.0
	for i := range headers {
		if u.values[i] == 0 {
			continue
		}
		score := float64(u.distinct[i]) / float64(u.values[i])
		if types[i] == schema.FieldNumber {
			score += 0.05
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return ""
	}
	return normalizeName(headers[bestIdx])
}
