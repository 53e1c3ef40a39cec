package protocol

import "strconv"

// Command 命令码
type Command uint16

// 命令码定义
const (
	CmdVersion             Command = 0
	CmdEventAdd            Command = 1
	CmdEventCancel         Command = 2
	CmdRead                Command = 3
	CmdWrite               Command = 4
	CmdSnapshot            Command = 5
	CmdSearch              Command = 6
	CmdBuild               Command = 7
	CmdEventsOff           Command = 8
	CmdEventsOn            Command = 9
	CmdReadSync            Command = 10
	CmdError               Command = 11
	CmdClearChannel        Command = 12
	CmdBeacon              Command = 13
	CmdNotFound            Command = 14
	CmdReadNotify          Command = 15
	CmdReadBuild           Command = 16
	CmdRepeaterConfirm     Command = 17
	CmdCreateChannel       Command = 18
	CmdWriteNotify         Command = 19
	CmdClientName          Command = 20
	CmdHostName            Command = 21
	CmdAccessRights        Command = 22
	CmdEcho                Command = 23
	CmdRepeaterRegister    Command = 24
	CmdSignal              Command = 25
	CmdCreateChannelFailed Command = 26
	CmdServerDisconnect    Command = 27

	// CmdLast 命令码上界（不含）
	CmdLast Command = 28
)

var commandNames = [CmdLast]string{
	"Version", "EventAdd", "EventCancel", "Read", "Write", "Snapshot", "Search", "Build",
	"EventsOff", "EventsOn", "ReadSync", "Error", "ClearChannel", "Beacon", "NotFound",
	"ReadNotify", "ReadBuild", "RepeaterConfirm", "CreateChannel", "WriteNotify",
	"ClientName", "HostName", "AccessRights", "Echo", "RepeaterRegister", "Signal",
	"CreateChannelFailed", "ServerDisconnect",
}

// String 返回命令名
func (c Command) String() string {
	if c < CmdLast {
		return commandNames[c]
	}
	return "Command(" + strconv.Itoa(int(c)) + ")"
}

// Known 是否为已知命令码
func (c Command) Known() bool { return c < CmdLast }
