// Package tle decodes NORAD two-line element sets and retrieves them
// from CelesTrak with retry and caching.
package tle

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/debrisk/debrisk/internal/decay"
	"github.com/debrisk/debrisk/internal/metrics"
)

// lineLength is the fixed width of both element lines.
const lineLength = 69

// Checksum computes the modulo-10 checksum over the first 68 characters
// of an element line. Digits contribute their value, minus signs
// contribute one, everything else contributes zero.
func Checksum(line string) int {
	end := len(line)
	if end > lineLength-1 {
		end = lineLength - 1
	}
	sum := 0
	for i := 0; i < end; i++ {
		switch c := line[i]; {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// VerifyChecksum checks the final character of a 69-character element
// line against the computed checksum.
func VerifyChecksum(line string, lineNo int) error {
	if len(line) != lineLength {
		return &FormatError{Line: lineNo, Reason: fmt.Sprintf("expected %d characters, got %d", lineLength, len(line))}
	}
	last := line[lineLength-1]
	if last < '0' || last > '9' {
		return &FormatError{Line: lineNo, Field: "checksum", Reason: "checksum position is not a digit"}
	}
	want := Checksum(line)
	if got := int(last - '0'); got != want {
		return &FormatError{Line: lineNo, Field: "checksum", Reason: fmt.Sprintf("got %d, computed %d", got, want)}
	}
	return nil
}

// ParseRecord decodes a single element set. The name line may be empty.
// Both lines must be exactly 69 characters with valid checksums and
// matching catalog numbers; any violation returns a *FormatError.
// now is used to compute the age of the record.
func ParseRecord(name, line1, line2 string, now time.Time) (OrbitalElements, error) {
	var rec OrbitalElements

	line1 = strings.TrimRight(line1, "\r\n\t ")
	line2 = strings.TrimRight(line2, "\r\n\t ")

	if !strings.HasPrefix(line1, "1 ") {
		return rec, &FormatError{Line: 1, Reason: "line does not start with \"1 \""}
	}
	if !strings.HasPrefix(line2, "2 ") {
		return rec, &FormatError{Line: 2, Reason: "line does not start with \"2 \""}
	}
	if err := VerifyChecksum(line1, 1); err != nil {
		return rec, err
	}
	if err := VerifyChecksum(line2, 2); err != nil {
		return rec, err
	}

	catalog1, err := fieldInt(1, "catalog_number", line1[2:7])
	if err != nil {
		return rec, err
	}
	catalog2, err := fieldInt(2, "catalog_number", line2[2:7])
	if err != nil {
		return rec, err
	}
	if catalog1 != catalog2 {
		return rec, &FormatError{Reason: fmt.Sprintf("catalog number mismatch: line 1 has %d, line 2 has %d", catalog1, catalog2)}
	}

	epoch, epochYear, epochDay, err := parseEpoch(strings.TrimSpace(line1[18:32]))
	if err != nil {
		return rec, &FormatError{Line: 1, Field: "epoch", Reason: err.Error()}
	}

	meanMotionDot, err := fieldFloat(1, "mean_motion_derivative", line1[33:43])
	if err != nil {
		return rec, err
	}
	meanMotionDDot, err := decodeScientific(line1[44:52])
	if err != nil {
		return rec, &FormatError{Line: 1, Field: "mean_motion_second_derivative", Reason: err.Error()}
	}
	bstar, err := decodeScientific(line1[53:61])
	if err != nil {
		return rec, &FormatError{Line: 1, Field: "drag_term", Reason: err.Error()}
	}
	ephemType := 0
	if c := line1[62]; c != ' ' {
		if c < '0' || c > '9' {
			return rec, &FormatError{Line: 1, Field: "ephemeris_type", Reason: "not a digit"}
		}
		ephemType = int(c - '0')
	}
	elementSet, err := fieldInt(1, "element_set_number", line1[64:68])
	if err != nil {
		return rec, err
	}

	inclination, err := fieldFloat(2, "inclination", line2[8:16])
	if err != nil {
		return rec, err
	}
	raan, err := fieldFloat(2, "raan", line2[17:25])
	if err != nil {
		return rec, err
	}
	eccentricity, err := fieldFloat(2, "eccentricity", "0."+strings.TrimSpace(line2[26:33]))
	if err != nil {
		return rec, err
	}
	argPerigee, err := fieldFloat(2, "arg_perigee", line2[34:42])
	if err != nil {
		return rec, err
	}
	meanAnomaly, err := fieldFloat(2, "mean_anomaly", line2[43:51])
	if err != nil {
		return rec, err
	}
	meanMotion, err := fieldFloat(2, "mean_motion", line2[52:63])
	if err != nil {
		return rec, err
	}
	if meanMotion <= 0 {
		return rec, &FormatError{Line: 2, Field: "mean_motion", Reason: "must be positive"}
	}
	revolution, err := fieldInt(2, "revolution_number", line2[63:68])
	if err != nil {
		return rec, err
	}

	age := now.Sub(epoch).Hours() / 24

	rec = OrbitalElements{
		Name:           strings.TrimSpace(name),
		CatalogNumber:  catalog1,
		Classification: string(line1[7]),
		IntlDesignator: strings.TrimSpace(line1[9:17]),
		EphemerisType:  ephemType,
		ElementSet:     elementSet,

		Epoch:     epoch,
		EpochYear: epochYear,
		EpochDay:  epochDay,
		AgeDays:   age,

		InclinationDeg:   inclination,
		RAANDeg:          raan,
		Eccentricity:     eccentricity,
		ArgPerigeeDeg:    argPerigee,
		MeanAnomalyDeg:   meanAnomaly,
		MeanMotion:       meanMotion,
		RevolutionNumber: revolution,

		MeanMotionDot:  meanMotionDot,
		MeanMotionDDot: meanMotionDDot,
		BStar:          bstar,

		Derived:  derive(meanMotion, eccentricity),
		Warnings: ageWarnings(age),

		Line1: line1,
		Line2: line2,
	}
	return rec, nil
}

// ParseSet reads a stream of element sets in the format served by
// CelesTrak: records of two element lines, each optionally preceded by
// a name line. Failed records are collected and logged rather than
// aborting the whole set; the returned error covers read failures only.
func ParseSet(r io.Reader, now time.Time, logger *slog.Logger) ([]OrbitalElements, []RecordError, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n\t ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var (
		records []OrbitalElements
		failed  []RecordError
		name    string
		index   int
	)
	for i := 0; i < len(lines); {
		line := lines[i]
		if strings.HasPrefix(line, "1 ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "2 ") {
			rec, err := ParseRecord(name, line, lines[i+1], now)
			metrics.ObserveParse(err == nil)
			if err != nil {
				logger.Warn("skipping malformed TLE record", "index", index, "name", name, "error", err)
				failed = append(failed, RecordError{Index: index, Name: name, Err: err})
			} else {
				records = append(records, rec)
			}
			index++
			name = ""
			i += 2
			continue
		}
		if strings.HasPrefix(line, "1 ") || strings.HasPrefix(line, "2 ") {
			logger.Warn("skipping unpaired element line", "index", index, "name", name)
			metrics.ObserveParse(false)
			failed = append(failed, RecordError{Index: index, Name: name, Err: &FormatError{Reason: "unpaired element line"}})
			index++
			name = ""
			i++
			continue
		}
		name = line
		i++
	}
	return records, failed, nil
}

// decodeScientific converts the compact exponent fields on line 1
// ("sMMMMMsE" with an assumed leading "0." on the mantissa) into a
// float. The all-zero forms "00000-0" and "00000+0" decode to 0.
func decodeScientific(field string) (float64, error) {
	s := strings.TrimSpace(field)
	if s == "" {
		return 0, nil
	}
	sign := 1.0
	if s[0] == '+' || s[0] == '-' {
		if s[0] == '-' {
			sign = -1
		}
		s = s[1:]
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("value %q too short", field)
	}
	mantissaStr := s[:len(s)-2]
	expSign := s[len(s)-2]
	expDigit := s[len(s)-1]

	mantissa, err := strconv.ParseFloat(mantissaStr, 64)
	if err != nil {
		return 0, fmt.Errorf("bad mantissa in %q", field)
	}
	if expDigit < '0' || expDigit > '9' {
		return 0, fmt.Errorf("bad exponent in %q", field)
	}
	exp := int(expDigit - '0')
	switch expSign {
	case '-':
		exp = -exp
	case '+', ' ':
	default:
		return 0, fmt.Errorf("bad exponent sign in %q", field)
	}

	return sign * mantissa * math.Pow(10, float64(exp-len(mantissaStr))), nil
}

// parseEpoch converts a TLE epoch string in YYDDD.DDDDDDDD format to
// time.Time. Year 00-56 maps to the 2000s, 57-99 to the 1900s.
func parseEpoch(s string) (time.Time, int, float64, error) {
	if len(s) < 5 {
		return time.Time{}, 0, 0, fmt.Errorf("epoch %q too short", s)
	}
	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, 0, 0, fmt.Errorf("invalid year in epoch %q", s)
	}
	if year < 57 {
		year += 2000
	} else {
		year += 1900
	}
	day, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, 0, 0, fmt.Errorf("invalid day in epoch %q", s)
	}
	if day < 1 || day >= 367 {
		return time.Time{}, 0, 0, fmt.Errorf("epoch day %.8f out of range", day)
	}

	// Day of year is 1-based: day 1 = Jan 1.
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	t := start.Add(time.Duration((day - 1) * float64(24*time.Hour)))
	return t, year, day, nil
}

// derive computes the orbital quantities implied by the mean motion.
// The semi-major axis follows from Kepler's third law.
func derive(meanMotion, eccentricity float64) DerivedParameters {
	n := meanMotion * 2 * math.Pi / 86400
	a := math.Cbrt(decay.EarthMu / (n * n))
	apogee := a*(1+eccentricity) - decay.EarthRadiusKM
	perigee := a*(1-eccentricity) - decay.EarthRadiusKM
	period := 2 * math.Pi * math.Sqrt(a*a*a/decay.EarthMu) / 60

	return DerivedParameters{
		SemiMajorAxisKM:   a,
		ApogeeAltitudeKM:  apogee,
		PerigeeAltitudeKM: perigee,
		AvgAltitudeKM:     (apogee + perigee) / 2,
		PeriodMinutes:     period,
	}
}

func ageWarnings(ageDays float64) []string {
	switch {
	case ageDays > 30:
		return []string{fmt.Sprintf("TLE data is %.1f days old; predictions may be inaccurate", ageDays)}
	case ageDays > 14:
		return []string{fmt.Sprintf("TLE data is %.1f days old; consider refreshing", ageDays)}
	case ageDays > 7:
		return []string{fmt.Sprintf("TLE data is %.1f days old", ageDays)}
	}
	return nil
}

func fieldInt(lineNo int, name, s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &FormatError{Line: lineNo, Field: name, Reason: fmt.Sprintf("%q is not an integer", strings.TrimSpace(s))}
	}
	return v, nil
}

func fieldFloat(lineNo int, name, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, &FormatError{Line: lineNo, Field: name, Reason: fmt.Sprintf("%q is not a number", strings.TrimSpace(s))}
	}
	return v, nil
}
