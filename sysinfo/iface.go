package sysinfo

import (
	stdnet "net"

	pnet "github.com/jinmuyano/procnet"
	"github.com/shirou/gopsutil/v3/net"
)

type Interface struct {
	Name  string
	MAC   stdnet.HardwareAddr
	Addrs []string
	Up    bool
}

// Interfaces lists every interface that has a hardware address.
func Interfaces() ([]Interface, error) {
	stats, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	return fromStats(stats), nil
}

func fromStats(stats net.InterfaceStatList) []Interface {
	var out []Interface
	for _, st := range stats {
		mac, err := stdnet.ParseMAC(st.HardwareAddr)
		if err != nil || isZero(mac) {
			continue
		}

		iface := Interface{Name: st.Name, MAC: mac}
		for _, addr := range st.Addrs {
			iface.Addrs = append(iface.Addrs, addr.Addr)
		}
		for _, flag := range st.Flags {
			if flag == "up" {
				iface.Up = true
			}
		}
		out = append(out, iface)
	}
	return out
}

// LocalMACs is the local-address set, computed once at startup.
func LocalMACs() ([]stdnet.HardwareAddr, error) {
	ifaces, err := Interfaces()
	if err != nil {
		return nil, err
	}

	var macs []stdnet.HardwareAddr
	for _, iface := range ifaces {
		macs = append(macs, iface.MAC)
	}
	if len(macs) == 0 {
		return nil, pnet.ErrNoInterfaces
	}
	return macs, nil
}

func isZero(mac stdnet.HardwareAddr) bool {
	for _, b := range mac {
		if b != 0 {
			return false
		}
	}
	return true
}
