package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
	pnet "github.com/jinmuyano/procnet"
	"github.com/sirupsen/logrus"
)

const (
	defaultSnapshotLen = int32(65536)
	defaultBufferSize  = 4096
	defaultFilter      = "(tcp or udp) and not broadcast and not multicast"
)

// packetReader is what a capture goroutine reads from, a live pcap handle or
// a pcap file.
type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

type Config struct {
	Devices     []string
	Filter      string // appended to the default filter with "and"
	SnapshotLen int32
	Promisc     bool
	StorePcap   string // dump captured packets into this file
	BufferSize  int
}

// Source is a capture feed over one or more pcap handles. Frames() is closed
// once every handle stopped delivering.
type Source struct {
	frames chan pnet.Frame
	logger logrus.FieldLogger

	pcapWriter *pcapgo.Writer
	pcapMu     sync.Mutex

	closers []func()
	wg      sync.WaitGroup
}

func (s *Source) Frames() <-chan pnet.Frame {
	return s.frames
}

// Open starts live capture on cfg.Devices until ctx is done.
func Open(ctx context.Context, cfg Config, logger logrus.FieldLogger) (*Source, error) {
	if len(cfg.Devices) == 0 {
		devs, err := DefaultDevices()
		if err != nil {
			return nil, err
		}
		cfg.Devices = devs
	}
	if cfg.SnapshotLen <= 0 {
		cfg.SnapshotLen = defaultSnapshotLen
	}

	s := newSource(cfg, logger)

	var readers []packetReader
	for _, dev := range cfg.Devices {
		handler, err := buildPcapHandler(dev, cfg.SnapshotLen, cfg.Promisc, cfg.Filter)
		if err != nil {
			s.closeAll()
			return nil, fmt.Errorf("open device %s: %w", dev, err)
		}
		s.closers = append(s.closers, handler.Close)
		readers = append(readers, handler)
		s.logger.WithField("device", dev).Info("capture started")
	}

	if err := s.configurePersist(cfg.StorePcap, cfg.SnapshotLen, readers); err != nil {
		s.closeAll()
		return nil, err
	}

	s.start(ctx, readers, cfg.Devices)
	return s, nil
}

// OpenFile replays a pcap file. The feed is closed at the end of the file.
func OpenFile(ctx context.Context, path string, logger logrus.FieldLogger) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read pcap header of %s: %w", path, err)
	}

	s := newSource(Config{}, logger)
	s.closers = append(s.closers, func() { f.Close() })
	s.start(ctx, []packetReader{reader}, []string{path})
	return s, nil
}

func newSource(cfg Config, logger logrus.FieldLogger) *Source {
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Source{
		frames: make(chan pnet.Frame, size),
		logger: logger,
	}
}

func (s *Source) start(ctx context.Context, readers []packetReader, names []string) {
	for i, reader := range readers {
		s.wg.Add(1)
		go s.captureDevice(ctx, reader, names[i])
	}

	go func() {
		s.wg.Wait()
		s.closeAll()
		close(s.frames)
	}()
}

func (s *Source) captureDevice(ctx context.Context, reader packetReader, name string) {
	defer s.wg.Done()

	var (
		dec   = newDecoder(reader.LinkType())
		count int64
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.WithFields(logrus.Fields{"device": name, "packets": count}).Debug("capture stopped")
			return
		default:
		}

		data, ci, err := reader.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF), errors.Is(err, pcap.NextErrorNoMorePackets):
			s.logger.WithFields(logrus.Fields{"device": name, "packets": count}).Info("capture source exhausted")
			return
		default:
			s.logger.WithError(err).WithField("device", name).Error("capture failed")
			return
		}
		count++

		s.persist(ci, data)

		select {
		case s.frames <- dec.decode(data, ci):
		case <-ctx.Done():
			return
		}
	}
}

// configurePersist opens the dump file with the link type of the readers.
// One file holds one link type, so mixed readers are rejected.
func (s *Source) configurePersist(fpath string, snaplen int32, readers []packetReader) error {
	if len(fpath) == 0 {
		return nil
	}

	link, err := dumpLinkType(readers)
	if err != nil {
		return err
	}

	f, err := os.Create(fpath)
	if err != nil {
		return err
	}

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(uint32(snaplen), link); err != nil {
		f.Close()
		return err
	}

	s.pcapMu.Lock()
	s.pcapWriter = w
	s.closers = append(s.closers, func() { f.Close() })
	s.pcapMu.Unlock()
	return nil
}

func dumpLinkType(readers []packetReader) (layers.LinkType, error) {
	if len(readers) == 0 {
		return layers.LinkTypeEthernet, nil
	}

	link := readers[0].LinkType()
	for _, r := range readers[1:] {
		if r.LinkType() != link {
			return 0, fmt.Errorf("cannot store pcap: devices mix link types %s and %s", link, r.LinkType())
		}
	}
	return link, nil
}

func (s *Source) persist(ci gopacket.CaptureInfo, data []byte) {
	s.pcapMu.Lock()
	defer s.pcapMu.Unlock()

	if s.pcapWriter == nil {
		return
	}
	if err := s.pcapWriter.WritePacket(ci, data); err != nil {
		s.logger.WithError(err).Debug("write pcap file failed")
	}
}

func (s *Source) closeAll() {
	s.pcapMu.Lock()
	defer s.pcapMu.Unlock()

	for _, fn := range s.closers {
		fn()
	}
	s.closers = nil
	s.pcapWriter = nil
}

// buildPcapHandler opens device with a one second read timeout, so capture
// goroutines notice ctx cancellation without traffic.
func buildPcapHandler(device string, snaplen int32, promisc bool, pfilter string) (*pcap.Handle, error) {
	handler, err := pcap.OpenLive(device, snaplen, promisc, time.Second)
	if err != nil {
		return nil, err
	}

	err = handler.SetBPFFilter(buildFilter(pfilter))
	if err != nil {
		handler.Close()
		return nil, err
	}

	return handler, nil
}

func buildFilter(pfilter string) string {
	pfilter = strings.TrimSpace(pfilter)
	if len(pfilter) == 0 {
		return defaultFilter
	}
	return fmt.Sprintf("%s and (%s)", defaultFilter, pfilter)
}

// ValidateFilter rejects filters that cannot be appended with "and".
func ValidateFilter(filter string) error {
	st := strings.TrimSpace(filter)
	if strings.HasPrefix(st, "and") || strings.HasPrefix(st, "or") {
		return errors.New("invalid pcap filter")
	}
	return nil
}

// DefaultDevices lists every non-loopback device that has an address.
func DefaultDevices() ([]string, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, err
	}

	var names []string
	for _, dev := range devs {
		if len(dev.Addresses) == 0 || isLoopback(dev.Name) {
			continue
		}
		names = append(names, dev.Name)
	}
	if len(names) == 0 {
		return nil, pnet.ErrNoInterfaces
	}
	return names, nil
}

func isLoopback(name string) bool {
	return name == "lo" || strings.HasPrefix(name, "lo0") || strings.HasPrefix(name, "Loopback")
}
