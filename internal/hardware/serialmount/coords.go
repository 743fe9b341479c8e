package serialmount

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/msageha/observatory/internal/astro"
)

// formatRA encodes RA as milliseconds of time, eight digits.
func formatRA(raDeg float64) string {
	ms := math.Round(raDeg / 15 * 3600 * 1000)
	if ms >= 24*3600*1000 {
		ms = 0
	}
	return fmt.Sprintf("%08.0f", ms)
}

// formatDec encodes Dec as signed centi-arcseconds, eight digits.
func formatDec(decDeg float64) string {
	cas := math.Round(decDeg * 3600 * 100)
	sign := "+"
	if cas < 0 {
		sign = "-"
		cas = -cas
	}
	return fmt.Sprintf("%s%08.0f", sign, cas)
}

func formatDuration(ms int64) string {
	return fmt.Sprintf("%05d", ms)
}

func (t *CommandTable) parseCoordinates(raw string) (astro.Equatorial, error) {
	raw = strings.TrimSuffix(raw, t.CmdPost)
	m := t.coordRe.FindStringSubmatch(raw)
	if m == nil {
		return astro.Equatorial{}, fmt.Errorf("coordinates %q do not match %s", raw, t.Coordinates)
	}
	var (
		sign        = 1.0
		raMs, decCs float64
		err         error
	)
	for i, name := range t.coordRe.SubexpNames() {
		switch name {
		case "dec_sign":
			if m[i] == "-" {
				sign = -1
			}
		case "dec_cas":
			if decCs, err = strconv.ParseFloat(m[i], 64); err != nil {
				return astro.Equatorial{}, err
			}
		case "ra_ms":
			if raMs, err = strconv.ParseFloat(m[i], 64); err != nil {
				return astro.Equatorial{}, err
			}
		}
	}
	return astro.Equatorial{
		RA:    raMs / 1000 / 3600 * 15,
		Dec:   sign * decCs / 100 / 3600,
		Frame: "icrs",
	}, nil
}
