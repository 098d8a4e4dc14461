// Package netsniff implements the agent's packet-source collaborator
// (spec.md §1, §4.3's traffic feed): a live pcap capture on the
// service's wired or wireless interface that emits (peerID, sizeBytes,
// direction) events for every TCP/UDP packet addressed to or from one of
// the service's discovered ports, grounded on the TCP-stream decoder in
// other_examples' netcap reference (gopacket layer decoding, no full
// stream reassembly — the traffic ledger only needs byte counts, not
// payload).
package netsniff

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/meshnet-project/meshagentd/internal/mesh"
)

// Recorder is the narrow callback surface Source reports observations
// to. mediator.Mediator satisfies this structurally.
type Recorder interface {
	NewServicePacket(peer mesh.NodeID, size uint64, inbound bool)
}

// Source is a live pcap capture filtered to the service's current ports.
// Ports start empty (no filter matches anything) until the first
// ServicePortsFound callback calls SetPorts, matching the ordering
// guarantee in §5: the packet source is given the filter set only after
// the service has started.
type Source struct {
	iface   string
	ownAddr string
	snaplen int32

	mu    sync.Mutex
	ports map[uint16]bool
}

// New constructs a Source bound to the named interface. ownAddr is this
// host's IPv4 address, used to tell inbound traffic from outbound.
func New(iface, ownAddr string) *Source {
	return &Source{iface: iface, ownAddr: ownAddr, snaplen: 65535, ports: make(map[uint16]bool)}
}

// SetPorts installs the current filter set, replacing whatever was
// configured before. An empty set matches nothing.
func (s *Source) SetPorts(ports []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports = make(map[uint16]bool, len(ports))
	for _, p := range ports {
		s.ports[p] = true
	}
}

func (s *Source) portsSnapshot() map[uint16]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint16]bool, len(s.ports))
	for p := range s.ports {
		out[p] = true
	}
	return out
}

// Run opens a live capture on the configured interface and streams
// decoded (peer, bytes, inbound) observations to rec until ctx is
// cancelled. A single malformed packet is logged and skipped (the
// Sniffer.Parse error kind in §7); it never aborts the capture.
func (s *Source) Run(ctx context.Context, rec Recorder) error {
	handle, err := pcap.OpenLive(s.iface, s.snaplen, true, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("netsniff: open %s: %w", s.iface, err)
	}
	defer handle.Close()

	go func() {
		<-ctx.Done()
		handle.Close()
	}()

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := packetSource.Packets()

	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-packets:
			if !ok {
				return nil
			}
			s.handlePacket(pkt, rec)
		}
	}
}

func (s *Source) handlePacket(pkt gopacket.Packet, rec Recorder) {
	if errLayer := pkt.ErrorLayer(); errLayer != nil {
		slog.Debug("netsniff: skipping malformed packet", "error", errLayer.Error())
		return
	}
	obs, ok := s.observe(pkt)
	if !ok {
		return
	}
	rec.NewServicePacket(obs.peer, obs.bytes, obs.inbound)
}

type observation struct {
	peer    mesh.NodeID
	bytes   uint64
	inbound bool
}

// observe decodes one packet's IPv4 and TCP/UDP layers and, if either
// port matches the current filter set, returns the peer/byte/direction
// triple the traffic ledger wants. A packet with no IPv4 layer, no
// transport layer, or an unfiltered port is reported as ok=false rather
// than erroring; packets gopacket could not decode at all are logged at
// debug level and skipped by handlePacket before observe runs.
func (s *Source) observe(pkt gopacket.Packet) (observation, bool) {
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return observation{}, false
	}
	ip, ok := ipLayer.(*layers.IPv4)
	if !ok {
		return observation{}, false
	}

	srcPort, dstPort, ok := transportPorts(pkt)
	if !ok {
		return observation{}, false
	}

	ports := s.portsSnapshot()
	if !ports[srcPort] && !ports[dstPort] {
		return observation{}, false
	}

	inbound := ip.DstIP.String() == s.ownAddr
	peerIP := ip.DstIP
	if inbound {
		peerIP = ip.SrcIP
	}

	peer, err := addrToNodeID(peerIP)
	if err != nil {
		slog.Warn("netsniff: dropping packet with non-mesh peer address", "addr", peerIP, "error", err)
		return observation{}, false
	}

	return observation{
		peer:    peer,
		bytes:   uint64(len(pkt.Data())),
		inbound: inbound,
	}, true
}

func transportPorts(pkt gopacket.Packet) (src, dst uint16, ok bool) {
	if tcpLayer := pkt.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		return uint16(tcp.SrcPort), uint16(tcp.DstPort), true
	}
	if udpLayer := pkt.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		return uint16(udp.SrcPort), uint16(udp.DstPort), true
	}
	return 0, 0, false
}

func addrToNodeID(ip net.IP) (mesh.NodeID, error) {
	return mesh.OwnIDFromAddress(ip.String())
}
