package fetcher

import "net"

// NetworkProbe 报告当前是否存在可用网络，仅用于诊断日志。
type NetworkProbe interface {
	IsConnected() bool
}

// InterfaceProbe 通过本机网卡状态判断连通性：存在已启用、非回环且配置了地址的网卡即视为在线。
type InterfaceProbe struct{}

// IsConnected 实现 NetworkProbe。
func (InterfaceProbe) IsConnected() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

// staticProbe 返回固定结果，便于测试与离线部署。
type staticProbe bool

func (p staticProbe) IsConnected() bool {
	return bool(p)
}

// StaticProbe 构造固定结果的 NetworkProbe。
func StaticProbe(connected bool) NetworkProbe {
	return staticProbe(connected)
}
