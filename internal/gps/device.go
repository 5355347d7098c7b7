package gps

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialDevice is an NMEA receiver on a serial port (8N1).
type SerialDevice struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
}

// Open opens the port with the configured baud rate and read timeout.
func (d SerialDevice) Open() (io.ReadCloser, error) {
	port, err := serial.Open(d.Port, &serial.Mode{
		BaudRate: d.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.Port, err)
	}

	if d.ReadTimeout > 0 {
		if err := port.SetReadTimeout(d.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
	}
	return port, nil
}

// Synthetic movement parameters: a north-south pass around a start point.
const (
	syntheticLat        = 50.1234
	syntheticLon        = 8.6789
	syntheticAlt        = 100.0
	syntheticStep       = 0.0001
	syntheticRange      = 0.01
	syntheticSpeed      = 3.0 // m/s
	syntheticSatellites = 12
)

// SyntheticDevice generates GGA and RMC sentences for a receiver moving back
// and forth along a short line. It is used for bench runs without hardware.
type SyntheticDevice struct {
	Rate time.Duration
}

// Open starts the generator. Closing the returned stream stops it.
func (d SyntheticDevice) Open() (io.ReadCloser, error) {
	rate := d.Rate
	if rate <= 0 {
		rate = time.Second
	}

	pr, pw := io.Pipe()
	s := &syntheticStream{PipeReader: pr, stop: make(chan struct{})}
	go s.generate(pw, rate)
	return s, nil
}

type syntheticStream struct {
	*io.PipeReader
	stop chan struct{}
	once sync.Once
}

func (s *syntheticStream) Close() error {
	s.once.Do(func() { close(s.stop) })
	return s.PipeReader.Close()
}

func (s *syntheticStream) generate(w *io.PipeWriter, rate time.Duration) {
	defer w.Close()

	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	lat, dir := syntheticLat, 1.0
	for {
		now := time.Now().UTC()
		fix := Fix{
			Latitude:   lat,
			Longitude:  syntheticLon,
			Altitude:   syntheticAlt,
			Speed:      syntheticSpeed,
			Satellites: syntheticSatellites,
			FixQuality: 1,
		}
		if _, err := io.WriteString(w, FormatGGA(fix, now)+"\r\n"+FormatRMC(fix, now)+"\r\n"); err != nil {
			return
		}

		lat += syntheticStep * dir
		if math.Abs(lat-syntheticLat) >= syntheticRange {
			dir = -dir
		}

		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

// FormatGGA renders fix as a checksummed $GPGGA sentence.
func FormatGGA(fix Fix, at time.Time) string {
	lat, ns := formatCoordinate(fix.Latitude, 2, "N", "S")
	lon, ew := formatCoordinate(fix.Longitude, 3, "E", "W")
	body := fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,%d,%02d,0.9,%.1f,M,47.0,M,,",
		at.Format("150405.00"), lat, ns, lon, ew, fix.FixQuality, fix.Satellites, fix.Altitude)
	return fmt.Sprintf("$%s*%02X", body, Checksum(body))
}

// FormatRMC renders fix as a checksummed $GPRMC sentence with status A.
func FormatRMC(fix Fix, at time.Time) string {
	lat, ns := formatCoordinate(fix.Latitude, 2, "N", "S")
	lon, ew := formatCoordinate(fix.Longitude, 3, "E", "W")
	body := fmt.Sprintf("GPRMC,%s,A,%s,%s,%s,%s,%.3f,0.0,%s,,",
		at.Format("150405.00"), lat, ns, lon, ew, fix.Speed/KnotsToMS, at.Format("020106"))
	return fmt.Sprintf("$%s*%02X", body, Checksum(body))
}

func formatCoordinate(v float64, degDigits int, pos, neg string) (string, string) {
	hemi := pos
	if v < 0 {
		hemi = neg
		v = -v
	}
	deg := math.Floor(v)
	minutes := (v - deg) * 60
	return fmt.Sprintf("%0*d%07.4f", degDigits, int(deg), minutes), hemi
}
