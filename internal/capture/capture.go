// Package capture turns 802.11 captures into detector frames. It replays
// pcap files recorded in monitor mode and synthesises deauthentication
// floods for exercising a sensor without a radio.
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/deauth.watch/internal/detector"
	"github.com/banshee-data/deauth.watch/internal/event"
)

// Source delivers frames to handle until it is exhausted or ctx is done.
// handle is always called from the goroutine running Run.
type Source interface {
	Run(ctx context.Context, handle func(detector.Frame)) error
}

// PcapSource replays a pcap stream with radiotap or bare 802.11 link type.
type PcapSource struct {
	r        *pcapgo.Reader
	linkType layers.LinkType

	// StartAt, when set, shifts timestamps so the first frame lands there.
	StartAt time.Time
	// Pace sleeps between frames to reproduce the captured timing.
	Pace bool
}

// NewPcapSource reads the pcap file header from r.
func NewPcapSource(r io.Reader) (*PcapSource, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	lt := pr.LinkType()
	if lt != layers.LinkTypeIEEE80211Radio && lt != layers.LinkTypeIEEE802_11 {
		return nil, fmt.Errorf("unsupported pcap link type %s: need 802.11 with or without radiotap", lt)
	}
	return &PcapSource{r: pr, linkType: lt}, nil
}

func (s *PcapSource) Run(ctx context.Context, handle func(detector.Frame)) error {
	var offset, prev int64
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, ci, err := s.r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read pcap packet: %w", err)
		}

		ts := ci.Timestamp.UnixMicro()
		if first {
			if !s.StartAt.IsZero() {
				offset = s.StartAt.UnixMicro() - ts
			}
			prev = ts
			first = false
		}
		if s.Pace && ts > prev {
			if err := sleepCtx(ctx, time.Duration(ts-prev)*time.Microsecond); err != nil {
				return err
			}
		}
		prev = ts

		frame, ok := s.decode(data)
		if !ok {
			continue
		}
		frame.Timestamp = ts + offset
		handle(frame)
	}
}

func (s *PcapSource) decode(data []byte) (detector.Frame, bool) {
	if s.linkType == layers.LinkTypeIEEE802_11 {
		return detector.Frame{Payload: data}, true
	}
	pkt := gopacket.NewPacket(data, layers.LayerTypeRadioTap, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	rt, ok := pkt.Layer(layers.LayerTypeRadioTap).(*layers.RadioTap)
	if !ok || int(rt.Length) > len(data) {
		return detector.Frame{}, false
	}
	return detector.Frame{
		Payload: data[rt.Length:],
		RSSI:    rt.DBMAntennaSignal,
	}, true
}

// DeauthFrame serialises a deauthentication frame sent by bssid to target.
func DeauthFrame(bssid, target event.MAC, reason layers.Dot11Reason) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	dot11 := &layers.Dot11{
		Type:     layers.Dot11TypeMgmtDeauthentication,
		Address1: net.HardwareAddr(target[:]),
		Address2: net.HardwareAddr(bssid[:]),
		Address3: net.HardwareAddr(bssid[:]),
	}
	deauth := &layers.Dot11MgmtDeauthentication{Reason: reason}
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, dot11, deauth); err != nil {
		return nil, fmt.Errorf("failed to serialise deauth frame: %w", err)
	}
	return buf.Bytes(), nil
}

const radiotapLen = 9

// radiotapHeader builds the smallest radiotap header carrying only the
// antenna signal field.
func radiotapHeader(rssi int8) []byte {
	h := make([]byte, radiotapLen)
	binary.LittleEndian.PutUint16(h[2:4], radiotapLen)
	binary.LittleEndian.PutUint32(h[4:8], uint32(layers.RadioTapPresentDBMAntennaSignal))
	h[8] = byte(rssi)
	return h
}

// Writer records frames as a radiotap pcap stream that PcapSource can replay.
type Writer struct {
	w *pcapgo.Writer
}

func NewWriter(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeIEEE80211Radio); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{w: pw}, nil
}

func (w *Writer) WriteFrame(f detector.Frame) error {
	data := append(radiotapHeader(f.RSSI), f.Payload...)
	ci := gopacket.CaptureInfo{
		Timestamp:     time.UnixMicro(f.Timestamp),
		CaptureLength: len(data),
		Length:        len(data),
	}
	return w.w.WritePacket(ci, data)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
