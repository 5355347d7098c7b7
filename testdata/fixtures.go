package testdata

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"io"

	"gocv.io/x/gocv"
)

//go:embed nmea/*
var nmeaFS embed.FS

// LoadNMEA returns the sentences of a recorded NMEA log, one per element.
func LoadNMEA(name string) ([]string, error) {
	data, err := nmeaFS.ReadFile("nmea/" + name)
	if err != nil {
		return nil, fmt.Errorf("load nmea %s: %w", name, err)
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// OpenNMEA returns a recorded NMEA log as a stream, the way a serial
// device would deliver it.
func OpenNMEA(name string) (io.ReadCloser, error) {
	data, err := nmeaFS.ReadFile("nmea/" + name)
	if err != nil {
		return nil, fmt.Errorf("load nmea %s: %w", name, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// SolidFrame returns a BGR frame filled with one colour. The caller closes it.
func SolidFrame(width, height int, b, g, r float64) *gocv.Mat {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(b, g, r, 0), height, width, gocv.MatTypeCV8UC3)
	return &mat
}
