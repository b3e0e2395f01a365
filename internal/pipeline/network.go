package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BadgerOps/liveinstall/internal/debconf"
	"github.com/BadgerOps/liveinstall/internal/safety"
)

// arphrdEther is the ARP hardware type of Ethernet interfaces.
const arphrdEther = 1

// NetInterface is a non-loopback network interface of the live system.
type NetInterface struct {
	Name string
	MAC  net.HardwareAddr
	// Type is the ARP hardware type, -1 when unknown.
	Type int
}

func (in *Installer) systemInterfaces() ([]NetInterface, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing network interfaces: %w", err)
	}
	var out []NetInterface
	for _, ifc := range ifs {
		if ifc.Flags&net.FlagLoopback != 0 || ifc.Name == "lo" {
			continue
		}
		typ := -1
		data, err := os.ReadFile(filepath.Join(in.cfg.Paths.SysClassNet, ifc.Name, "type"))
		if err == nil {
			if n, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
				typ = n
			}
		}
		out = append(out, NetInterface{Name: ifc.Name, MAC: ifc.HardwareAddr, Type: typ})
	}
	return out, nil
}

const hostsTail = `
# The following lines are desirable for IPv6 capable hosts
::1     ip6-localhost ip6-loopback
fe00::0 ip6-localnet
ff00::0 ip6-mcastprefix
ff02::1 ip6-allnodes
ff02::2 ip6-allrouters
ff02::3 ip6-allhosts
`

func hostsFile(hostname string) string {
	return fmt.Sprintf("127.0.0.1\tlocalhost\n127.0.1.1\t%s\n", hostname) + hostsTail
}

// iftab pins Ethernet interface names to their MAC addresses. Interfaces
// sharing a MAC with another Ethernet interface cannot be pinned.
func iftab(ifs []NetInterface) string {
	var b bytes.Buffer
	b.WriteString("# This file assigns persistent names to network interfaces.\n")
	b.WriteString("# See iftab(5) for syntax.\n\n")
	for i, ifc := range ifs {
		if ifc.Type != arphrdEther || len(ifc.MAC) == 0 {
			continue
		}
		dup := false
		for j, other := range ifs {
			if i != j && other.Type == arphrdEther && bytes.Equal(ifc.MAC, other.MAC) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		fmt.Fprintf(&b, "%s mac %s arp %d\n", ifc.Name, ifc.MAC, ifc.Type)
	}
	return b.String()
}

func (in *Installer) hostname() (string, error) {
	def := in.cfg.Install.DefaultHostname
	if def == "" {
		def = "ubuntu"
	}
	return debconf.Lookup(in.db, "netcfg/get_hostname", def)
}

func (in *Installer) networkStage(ctx context.Context) error {
	for _, path := range in.cfg.Paths.NetworkFiles {
		dst, err := safety.InTarget(in.Target(), path)
		if err != nil {
			return err
		}
		if err := copyPreserving(path, dst); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("copying %s: %w", path, err)
		}
	}

	hostname, err := in.hostname()
	if err != nil {
		return err
	}
	if err := writeFile(in.targetPath("/etc/hostname"), []byte(hostname+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing hostname: %w", err)
	}
	if err := writeFile(in.targetPath("/etc/hosts"), []byte(hostsFile(hostname)), 0o644); err != nil {
		return fmt.Errorf("writing hosts: %w", err)
	}

	ifs, err := in.Interfaces()
	if err != nil {
		in.logger.Warn("cannot list network interfaces, iftab will be empty", "error", err)
	}
	if err := writeFile(in.targetPath("/etc/iftab"), []byte(iftab(ifs)), 0o644); err != nil {
		return fmt.Errorf("writing iftab: %w", err)
	}
	return nil
}
