// Package gps reads NMEA 0183 sentences from a GNSS receiver and fuses
// GGA and RMC sentences into position fixes.
//
// Only the two sentence kinds needed for geotagging are decoded:
//   - GGA for position, altitude, satellites and fix quality
//   - RMC for the validity flag and ground speed
package gps

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// KnotsToMS converts knots to metres per second.
const KnotsToMS = 0.514444

// Minimum comma-separated field counts, talker field included.
const (
	ggaMinFields = 15
	rmcMinFields = 12
)

var errMalformed = errors.New("malformed sentence")

// SentenceKind identifies a recognised NMEA sentence.
type SentenceKind int

const (
	SentenceUnknown SentenceKind = iota
	SentenceGGA
	SentenceRMC
)

func (k SentenceKind) String() string {
	switch k {
	case SentenceGGA:
		return "GGA"
	case SentenceRMC:
		return "RMC"
	default:
		return "unknown"
	}
}

// GGA is the decoded part of a fix-data sentence.
type GGA struct {
	Latitude   float64
	Longitude  float64
	Altitude   float64
	Satellites int
	FixQuality int
}

// RMC is the decoded part of a recommended-minimum sentence.
type RMC struct {
	Latitude  float64
	Longitude float64
	Speed     float64 // m/s
}

// Sentence is the result of Parse. For a recognised kind, a nil payload
// means the sentence was rejected (no fix, void status or malformed).
type Sentence struct {
	Kind SentenceKind
	GGA  *GGA
	RMC  *RMC
}

// Accepted reports whether the sentence carried a usable payload.
func (s Sentence) Accepted() bool {
	return s.GGA != nil || s.RMC != nil
}

// Parse decodes one NMEA line. Unrecognised sentences return
// SentenceUnknown; Parse never fails.
func Parse(line string) Sentence {
	line = strings.TrimSpace(line)

	var kind SentenceKind
	switch {
	case strings.HasPrefix(line, "$GPGGA,"), strings.HasPrefix(line, "$GNGGA,"):
		kind = SentenceGGA
	case strings.HasPrefix(line, "$GPRMC,"), strings.HasPrefix(line, "$GNRMC,"):
		kind = SentenceRMC
	default:
		return Sentence{Kind: SentenceUnknown}
	}

	body, err := verifyChecksum(line)
	if err != nil {
		return Sentence{Kind: kind}
	}
	fields := strings.Split(body, ",")

	s := Sentence{Kind: kind}
	switch kind {
	case SentenceGGA:
		if gga, err := parseGGA(fields); err == nil {
			s.GGA = &gga
		}
	case SentenceRMC:
		if rmc, err := parseRMC(fields); err == nil {
			s.RMC = &rmc
		}
	}
	return s
}

// verifyChecksum strips the leading '$' and an optional "*hh" suffix,
// checking the suffix against the XOR of the body when present.
func verifyChecksum(line string) (string, error) {
	body := line[1:]
	star := strings.IndexByte(body, '*')
	if star < 0 {
		return body, nil
	}

	want, err := strconv.ParseUint(body[star+1:], 16, 8)
	if err != nil || len(body[star+1:]) != 2 {
		return "", fmt.Errorf("%w: bad checksum field", errMalformed)
	}
	body = body[:star]
	if got := Checksum(body); got != byte(want) {
		return "", fmt.Errorf("%w: checksum %02X, want %02X", errMalformed, got, want)
	}
	return body, nil
}

// Checksum is the NMEA XOR checksum of a sentence body (between '$' and '*').
func Checksum(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return sum
}

func parseGGA(f []string) (GGA, error) {
	if len(f) < ggaMinFields {
		return GGA{}, fmt.Errorf("%w: GGA has %d fields", errMalformed, len(f))
	}

	quality, err := strconv.Atoi(f[6])
	if err != nil || quality <= 0 {
		return GGA{}, fmt.Errorf("%w: no fix", errMalformed)
	}

	lat, err := parseCoordinate(f[2], f[3], 2)
	if err != nil {
		return GGA{}, err
	}
	lon, err := parseCoordinate(f[4], f[5], 3)
	if err != nil {
		return GGA{}, err
	}

	sats := 0
	if f[7] != "" {
		if sats, err = strconv.Atoi(f[7]); err != nil {
			return GGA{}, fmt.Errorf("%w: satellites %q", errMalformed, f[7])
		}
	}

	alt := 0.0
	if f[9] != "" {
		if alt, err = parseFinite(f[9]); err != nil {
			return GGA{}, fmt.Errorf("%w: altitude %q", errMalformed, f[9])
		}
	}

	return GGA{
		Latitude:   lat,
		Longitude:  lon,
		Altitude:   alt,
		Satellites: sats,
		FixQuality: quality,
	}, nil
}

func parseRMC(f []string) (RMC, error) {
	if len(f) < rmcMinFields {
		return RMC{}, fmt.Errorf("%w: RMC has %d fields", errMalformed, len(f))
	}
	if f[2] != "A" {
		return RMC{}, fmt.Errorf("%w: status %q", errMalformed, f[2])
	}

	lat, err := parseCoordinate(f[3], f[4], 2)
	if err != nil {
		return RMC{}, err
	}
	lon, err := parseCoordinate(f[5], f[6], 3)
	if err != nil {
		return RMC{}, err
	}

	knots := 0.0
	if f[7] != "" {
		if knots, err = parseFinite(f[7]); err != nil || knots < 0 {
			return RMC{}, fmt.Errorf("%w: speed %q", errMalformed, f[7])
		}
	}

	return RMC{
		Latitude:  lat,
		Longitude: lon,
		Speed:     knots * KnotsToMS,
	}, nil
}

// parseCoordinate converts an NMEA (d)ddmm.mmmm value and hemisphere letter
// to signed decimal degrees. degDigits is 2 for latitude and 3 for longitude.
func parseCoordinate(value, hemi string, degDigits int) (float64, error) {
	if len(value) < degDigits+2 {
		return 0, fmt.Errorf("%w: coordinate %q", errMalformed, value)
	}

	deg, err := strconv.Atoi(value[:degDigits])
	if err != nil || deg < 0 {
		return 0, fmt.Errorf("%w: coordinate degrees %q", errMalformed, value)
	}
	minutes, err := parseFinite(value[degDigits:])
	if err != nil || minutes < 0 || minutes >= 60 {
		return 0, fmt.Errorf("%w: coordinate minutes %q", errMalformed, value)
	}

	dec := float64(deg) + minutes/60

	limit := 90.0
	pos, neg := "N", "S"
	if degDigits == 3 {
		limit = 180
		pos, neg = "E", "W"
	}
	switch hemi {
	case pos:
	case neg:
		dec = -dec
	default:
		return 0, fmt.Errorf("%w: hemisphere %q", errMalformed, hemi)
	}

	if dec > limit || dec < -limit {
		return 0, fmt.Errorf("%w: coordinate %v out of range", errMalformed, dec)
	}
	return dec, nil
}

// parseFinite parses a decimal field. NaN and Inf spellings are rejected.
func parseFinite(field string) (float64, error) {
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite value %q", errMalformed, field)
	}
	return v, nil
}
