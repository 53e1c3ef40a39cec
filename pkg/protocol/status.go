package protocol

import (
	"errors"
	"fmt"
)

// Severity 状态严重级别
type Severity uint8

// 严重级别
const (
	SeverityWarning Severity = 0
	SeveritySuccess Severity = 1
	SeverityError   Severity = 2
	SeverityInfo    Severity = 3
	SeveritySevere  Severity = 4
	SeverityFatal   Severity = 6
)

// String 返回严重级别名
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeveritySuccess:
		return "SUCCESS"
	case SeverityError:
		return "ERROR"
	case SeverityInfo:
		return "INFO"
	case SeveritySevere:
		return "SEVERE"
	case SeverityFatal:
		return "FATAL"
	default:
		return fmt.Sprintf("Severity(%d)", uint8(s))
	}
}

// Status 协议状态码
//
// *Status 实现 error，包级变量是唯一实例，可直接用 errors.Is 比较。
type Status struct {
	Value    uint16
	Severity Severity
	Name     string
	Message  string
}

// Code 线上编码：((value << 3) & 0xFFF8) | (severity & 7)
func (s *Status) Code() uint32 {
	return uint32((s.Value<<3)&0xFFF8) | uint32(s.Severity&0x07)
}

// Successful 是否为成功状态
func (s *Status) Successful() bool {
	return s.Severity == SeveritySuccess || s.Severity == SeverityInfo
}

// Error 实现 error 接口
func (s *Status) Error() string {
	return s.Name + ": " + s.Message
}

func newStatus(value uint16, sev Severity, name, msg string) *Status {
	st := &Status{Value: value, Severity: sev, Name: name, Message: msg}
	statusTable[value] = st
	return st
}

var statusTable = map[uint16]*Status{}

// 状态码定义
var (
	StatusNormal       = newStatus(0, SeveritySuccess, "NORMAL", "Normal successful completion")
	StatusMaxIOC       = newStatus(1, SeverityError, "MAXIOC", "Maximum simultaneous IOC connections exceeded")
	StatusUnknownHost  = newStatus(2, SeverityError, "UKNHOST", "Unknown internet host")
	StatusUnknownServ  = newStatus(3, SeverityError, "UKNSERV", "Unknown internet service")
	StatusSocket       = newStatus(4, SeverityError, "SOCK", "Unable to allocate a new socket")
	StatusConn         = newStatus(5, SeverityWarning, "CONN", "Unable to connect to internet host or service")
	StatusAllocMem     = newStatus(6, SeverityWarning, "ALLOCMEM", "Unable to allocate additional dynamic memory")
	StatusUnknownChan  = newStatus(7, SeverityWarning, "UKNCHAN", "Unknown IO channel")
	StatusUnknownField = newStatus(8, SeverityWarning, "UKNFIELD", "Record field specified inappropriate for channel specified")
	StatusTooLarge     = newStatus(9, SeverityWarning, "TOLARGE", "The requested transfer is greater than available memory or max array bytes")
	StatusTimeout      = newStatus(10, SeverityWarning, "TIMEOUT", "User specified timeout on IO operation expired")
	StatusNoSupport    = newStatus(11, SeverityWarning, "NOSUPPORT", "Sorry, that feature is planned but not supported at this time")
	StatusStrTooBig    = newStatus(12, SeverityWarning, "STRTOBIG", "The supplied string is unusually large")
	StatusDisconnChid  = newStatus(13, SeverityError, "DISCONNCHID", "The request was ignored because the specified channel is disconnected")
	StatusBadType      = newStatus(14, SeverityError, "BADTYPE", "The data type specifed is invalid")
	StatusChidNotFound = newStatus(15, SeverityInfo, "CHIDNOTFND", "Remote Channel not found")
	StatusChidRetry    = newStatus(16, SeverityInfo, "CHIDRETRY", "Unable to locate all user specified channels")
	StatusInternal     = newStatus(17, SeverityFatal, "INTERNAL", "Channel Access Internal Failure")
	StatusDBLocalFail  = newStatus(18, SeverityWarning, "DBLCLFAIL", "The requested local DB operation failed")
	StatusGetFail      = newStatus(19, SeverityWarning, "GETFAIL", "Could not perform a database value get for that channel")
	StatusPutFail      = newStatus(20, SeverityWarning, "PUTFAIL", "Could not perform a database value put for that channel")
	StatusAddFail      = newStatus(21, SeverityWarning, "ADDFAIL", "Could not perform a database monitor add for that channel")
	StatusBadCount     = newStatus(22, SeverityWarning, "BADCOUNT", "Count requested inappropriate for that channel")
	StatusBadStr       = newStatus(23, SeverityError, "BADSTR", "The supplied string has improper format")
	StatusDisconn      = newStatus(24, SeverityWarning, "DISCONN", "Virtual circuit disconnect")
	StatusDoubleChan   = newStatus(25, SeverityWarning, "DBLCHNL", "Identical process variable name on multiple servers")
	StatusEvDisallow   = newStatus(26, SeverityError, "EVDISALLOW", "The CA routine called is inappropriate for use within an event handler")
	StatusBuildGet     = newStatus(27, SeverityWarning, "BUILDGET", "Database value get for that channel failed during channel search")
	StatusNeedsFP      = newStatus(28, SeverityWarning, "NEEDSFP", "Unable to initialize without the vxWorks VX_FP_TASK task option set")
	StatusOvEvFail     = newStatus(29, SeverityWarning, "OVEVFAIL", "Event queue overflow has prevented first pass event after event add")
	StatusBadMonID     = newStatus(30, SeverityError, "BADMONID", "bad monitor subscription identifier")
	StatusNewAddr      = newStatus(31, SeverityWarning, "NEWADDR", "Remote channel has new network address")
	StatusNewConn      = newStatus(32, SeverityInfo, "NEWCONN", "New or resumed network connection")
	StatusNoCACtx      = newStatus(33, SeverityWarning, "NOCACTX", "Specified task isnt a member of a CA context")
	StatusDefunct      = newStatus(34, SeverityFatal, "DEFUNCT", "Attempt to use defunct CA feature failed")
	StatusEmptyStr     = newStatus(35, SeverityWarning, "EMPTYSTR", "The supplied string is empty")
	StatusNoRepeater   = newStatus(36, SeverityWarning, "NOREPEATER", "Unable to spawn the CA repeater thread- auto reconnect will fail")
	StatusNoChanMsg    = newStatus(37, SeverityWarning, "NOCHANMSG", "No channel id match for search reply- search reply ignored")
	StatusDlckRest     = newStatus(38, SeverityWarning, "DLCKREST", "Reseting dead connection- will try to reconnect")
	StatusServBehind   = newStatus(39, SeverityWarning, "SERVBEHIND", "Server (IOC) has fallen behind or is not responding- still waiting")
	StatusNoCast       = newStatus(40, SeverityWarning, "NOCAST", "No internet interface with broadcast available")
	StatusBadMask      = newStatus(41, SeverityError, "BADMASK", "The monitor selection mask supplied is empty or inappropriate")
	StatusIODone       = newStatus(42, SeverityInfo, "IODONE", "IO operations have completed")
	StatusIOInProgress = newStatus(43, SeverityInfo, "IOINPROGESS", "IO operations are in progress")
	StatusBadSyncGrp   = newStatus(44, SeverityError, "BADSYNCGRP", "Invalid synchronous group identifier")
	StatusPutCBInProg  = newStatus(45, SeverityError, "PUTCBINPROG", "Put callback timed out")
	StatusNoRdAccess   = newStatus(46, SeverityWarning, "NORDACCESS", "Read access denied")
	StatusNoWtAccess   = newStatus(47, SeverityWarning, "NOWTACCESS", "Write access denied")
	StatusAnachronism  = newStatus(48, SeverityError, "ANACHRONISM", "Sorry, that anachronistic feature of CA is no longer supported")
	StatusNoSearchAddr = newStatus(49, SeverityWarning, "NOSEARCHADDR", "The search/beacon request address list was empty after initialization")
	StatusNoConvert    = newStatus(50, SeverityWarning, "NOCONVERT", "Data conversion between client's type and the server's type failed")
	StatusBadChID      = newStatus(51, SeverityError, "BADCHID", "Invalid channel identifier")
	StatusBadFuncPtr   = newStatus(52, SeverityError, "BADFUNCPTR", "Invalid function pointer")
	StatusIsAttached   = newStatus(53, SeverityWarning, "ISATTACHED", "Thread is already attached to a client context")
	StatusUnavailInSrv = newStatus(54, SeverityWarning, "UNAVAILINSERV", "No support in service")
	StatusChanDestroy  = newStatus(55, SeverityWarning, "CHANDESTROY", "User destroyed channel")
	StatusBadPriority  = newStatus(56, SeverityError, "BADPRIORITY", "Priority out of range")
	StatusNotThreaded  = newStatus(57, SeverityError, "NOTTHREADED", "Preemptive callback not enabled - additional threads may not join")
	StatusArray16K     = newStatus(58, SeverityWarning, "ARRAY16KCLIENT", "Client's protocol revision does not support transfers exceeding 16k bytes")
	StatusConnSeqTmo   = newStatus(59, SeverityWarning, "CONNSEQTMO", "Virtual circuit connection sequence aborted")
	StatusUnrespTmo    = newStatus(60, SeverityWarning, "UNRESPTMO", "Virtual circuit connection unresponsive")
)

// StatusForValue 按状态值查找
func StatusForValue(value uint16) (*Status, bool) {
	st, ok := statusTable[value]
	return st, ok
}

// StatusForCode 按线上编码查找，未知编码返回合成状态
func StatusForCode(code uint32) *Status {
	value := uint16((code & 0xFFF8) >> 3)
	if st, ok := statusTable[value]; ok {
		return st
	}
	return &Status{
		Value:    value,
		Severity: Severity(code & 0x07),
		Name:     fmt.Sprintf("UNKNOWN(%d)", value),
		Message:  "Unknown status code",
	}
}

// AsStatus 提取错误中的 *Status，无法提取时返回 fallback
func AsStatus(err error, fallback *Status) *Status {
	if err == nil {
		return StatusNormal
	}
	var st *Status
	if errors.As(err, &st) {
		return st
	}
	return fallback
}
