package udp

import (
	"encoding/binary"
	"net"
	"strconv"
	"strings"
)

// ParseAddrList 解析地址列表，条目为 host 或 host:port，缺省端口为 defaultPort
//
// 每个条目还可以包含以空白分隔的多个地址。
func ParseAddrList(list []string, defaultPort int) ([]*net.UDPAddr, error) {
	var out []*net.UDPAddr
	for _, entry := range list {
		for _, s := range strings.Fields(entry) {
			a, err := ParseAddr(s, defaultPort)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
	}
	return out, nil
}

// ParseAddr 解析单个地址
func ParseAddr(s string, defaultPort int) (*net.UDPAddr, error) {
	host, port := s, defaultPort
	if h, p, err := net.SplitHostPort(s); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 0xFFFF {
			return nil, &AddrError{Addr: s, Err: ErrInvalidAddress}
		}
		host, port = h, n
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil, &AddrError{Addr: s, Err: ErrInvalidAddress}
		}
		ip = ips[0]
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return &net.UDPAddr{IP: ip, Port: port}, nil
}

// BroadcastAddrs 枚举本机 IPv4 接口的广播地址
//
// 找不到任何广播地址时返回受限广播地址 255.255.255.255。
func BroadcastAddrs(port int) []*net.UDPAddr {
	var out []*net.UDPAddr
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
				continue
			}
			addrs, err := iface.Addrs()
			if err != nil {
				continue
			}
			for _, a := range addrs {
				ipnet, ok := a.(*net.IPNet)
				if !ok {
					continue
				}
				if bc := broadcastOf(ipnet); bc != nil {
					out = append(out, &net.UDPAddr{IP: bc, Port: port})
				}
			}
		}
	}
	if len(out) == 0 {
		out = append(out, &net.UDPAddr{IP: net.IPv4bcast.To4(), Port: port})
	}
	return out
}

func broadcastOf(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil || len(n.Mask) != net.IPv4len {
		return nil
	}
	bc := make(net.IP, net.IPv4len)
	for i := range ip {
		bc[i] = ip[i] | ^n.Mask[i]
	}
	return bc
}

// Merge 合并地址列表并去重，保持首次出现的顺序
func Merge(lists ...[]*net.UDPAddr) []*net.UDPAddr {
	seen := make(map[string]struct{})
	var out []*net.UDPAddr
	for _, l := range lists {
		for _, a := range l {
			k := a.String()
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

// TargetList 构建搜索或信标目标列表
func TargetList(explicit []string, auto bool, port int) ([]*net.UDPAddr, error) {
	addrs, err := ParseAddrList(explicit, port)
	if err != nil {
		return nil, err
	}
	if auto {
		addrs = Merge(addrs, BroadcastAddrs(port))
	}
	return Merge(addrs), nil
}

// IPv4ToUint32 将 IPv4 地址编码为网络序整数，非 IPv4 返回 0
func IPv4ToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}

// Uint32ToIPv4 解码网络序整数为 IPv4 地址
func Uint32ToIPv4(v uint32) net.IP {
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}

// IsLocal 判断 ip 是否为本机地址
func IsLocal(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.Equal(ip) {
			return true
		}
	}
	return false
}

// Contains 判断地址列表是否包含 ip（忽略端口）
func Contains(list []*net.UDPAddr, ip net.IP) bool {
	for _, a := range list {
		if a.IP.Equal(ip) {
			return true
		}
	}
	return false
}
