package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// 环境变量名
const (
	EnvAddrList          = "EPICS_CA_ADDR_LIST"
	EnvAutoAddrList      = "EPICS_CA_AUTO_ADDR_LIST"
	EnvConnTmo           = "EPICS_CA_CONN_TMO"
	EnvBeaconPeriod      = "EPICS_CA_BEACON_PERIOD"
	EnvRepeaterPort      = "EPICS_CA_REPEATER_PORT"
	EnvServerPort        = "EPICS_CA_SERVER_PORT"
	EnvMaxArrayBytes     = "EPICS_CA_MAX_ARRAY_BYTES"
	EnvCASIntfAddrList   = "EPICS_CAS_INTF_ADDR_LIST"
	EnvCASBeaconAddrList = "EPICS_CAS_BEACON_ADDR_LIST"
	EnvCASAutoBeacon     = "EPICS_CAS_AUTO_BEACON_ADDR_LIST"
	EnvCASBeaconPeriod   = "EPICS_CAS_BEACON_PERIOD"
	EnvCASServerPort     = "EPICS_CAS_SERVER_PORT"
	EnvCASIgnoreAddrList = "EPICS_CAS_IGNORE_ADDR_LIST"
)

// LookupFunc 环境变量查找函数
type LookupFunc func(key string) (string, bool)

// ApplyOSEnv 从进程环境变量覆盖配置
func (c *Config) ApplyOSEnv() error {
	return c.ApplyEnv(os.LookupEnv)
}

// ApplyEnv 使用 lookup 覆盖配置
//
// EPICS_CA_* 的端口、信标周期与数组上限同时作用于服务端，
// 随后由 EPICS_CAS_* 覆盖。
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	a := envApplier{lookup: lookup}

	a.list(EnvAddrList, &c.Client.AddrList)
	a.boolean(EnvAutoAddrList, &c.Client.AutoAddrList)
	a.duration(EnvConnTmo, &c.Client.ConnectionTimeout)
	a.integer(EnvRepeaterPort, &c.Client.RepeaterPort)
	a.duration(EnvBeaconPeriod, &c.Client.BeaconPeriod, &c.Server.BeaconPeriod)
	a.integer(EnvServerPort, &c.Client.ServerPort, &c.Server.Port)
	a.integer(EnvMaxArrayBytes, &c.Client.MaxArrayBytes, &c.Server.MaxArrayBytes)
	a.integer(EnvCASServerPort, &c.Server.Port)
	a.duration(EnvCASBeaconPeriod, &c.Server.BeaconPeriod)
	a.list(EnvCASBeaconAddrList, &c.Server.BeaconAddrList)
	a.boolean(EnvCASAutoBeacon, &c.Server.AutoBeaconAddrList)
	a.list(EnvCASIgnoreAddrList, &c.Server.IgnoreAddrList)
	var intf []string
	a.list(EnvCASIntfAddrList, &intf)
	if len(intf) > 0 {
		c.Server.InterfaceAddr = intf[0]
	}

	return a.err
}

type envApplier struct {
	lookup LookupFunc
	err    error
}

func (a *envApplier) get(key string) (string, bool) {
	v, ok := a.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (a *envApplier) fail(key, v string, err error) {
	if a.err == nil {
		a.err = fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
}

func (a *envApplier) list(key string, dst *[]string) {
	if v, ok := a.get(key); ok {
		*dst = strings.Fields(v)
	}
}

func (a *envApplier) boolean(key string, dst *bool) {
	if v, ok := a.get(key); ok {
		switch strings.ToUpper(v) {
		case "YES", "Y", "TRUE", "1":
			*dst = true
		case "NO", "N", "FALSE", "0":
			*dst = false
		default:
			a.fail(key, v, fmt.Errorf("expected YES or NO"))
		}
	}
}

func (a *envApplier) integer(key string, dsts ...*int) {
	if v, ok := a.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			a.fail(key, v, err)
			return
		}
		for _, dst := range dsts {
			*dst = n
		}
	}
}

func (a *envApplier) duration(key string, dsts ...*Duration) {
	if v, ok := a.get(key); ok {
		d, err := ParseSeconds(v)
		if err != nil {
			a.fail(key, v, err)
			return
		}
		for _, dst := range dsts {
			*dst = d
		}
	}
}
